package tone

import (
	"math"
	"testing"
)

func TestFlatStackPassesSignal(t *testing.T) {
	s := NewStack(48000, 1, 1, 1, 250, 2500)
	block := make([]float32, 256)
	want := make([]float32, len(block))
	for i := range block {
		block[i] = float32(math.Sin(float64(i) * 0.05))
		want[i] = block[i]
	}
	s.Process(block)
	for i := range block {
		if math.Abs(float64(block[i]-want[i])) > 1e-6 {
			t.Fatalf("sample %d = %f, want %f", i, block[i], want[i])
		}
	}
}

func TestStackBassGainBoostsLowEnd(t *testing.T) {
	s := NewStack(48000, 2, 1, 1, 250, 2500)
	block := make([]float32, 48000)
	for i := range block {
		block[i] = 0.25
	}
	s.Process(block)
	if got := block[len(block)-1]; math.Abs(float64(got)-0.5) > 0.01 {
		t.Fatalf("settled DC = %f, want ~0.5", got)
	}
}

func TestCompressorReducesLoud(t *testing.T) {
	c := NewCompressor(48000, -12, 4, 1, 50)
	block := make([]float32, 2000)
	for i := range block {
		block[i] = 1
	}
	c.Process(block)
	if out := block[len(block)-1]; out >= 1 {
		t.Fatalf("compressor should reduce loud signals, got %f", out)
	}

	c.Reset()
	quiet := []float32{0.1, -0.1, 0.1}
	c.Process(quiet)
	if quiet[0] != 0.1 || quiet[1] != -0.1 {
		t.Fatalf("signal below threshold changed: %v", quiet)
	}
}

func TestNewOmitsCompressor(t *testing.T) {
	s := Default()
	if len(New(48000, s)) != 2 {
		t.Fatalf("default bus should compress")
	}
	s.Compress = false
	if len(New(48000, s)) != 1 {
		t.Fatalf("compressor should be left out")
	}
	silent := make([]float32, 64)
	New(48000, Default()).Process(silent)
	for i, v := range silent {
		if v != 0 {
			t.Fatalf("silence produced %f at %d", v, i)
		}
	}
}
