package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type rampSource struct{ calls int }

func (s *rampSource) Process(dst []float32) {
	s.calls++
	for i := range dst {
		dst[i] = float32(i) / 10
	}
}

func TestStreamReaderEncodesFloat32LE(t *testing.T) {
	src := &rampSource{}
	r := NewStreamReader(src)
	p := make([]byte, 8*4+3) // 4 frames plus a partial frame
	n, err := r.Read(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 32 {
		t.Fatalf("read %d bytes, want 32", n)
	}
	for i := 0; i < 8; i++ {
		got := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		if got != float32(i)/10 {
			t.Fatalf("sample %d = %v, want %v", i, got, float32(i)/10)
		}
	}
	if n, _ := r.Read(make([]byte, 7)); n != 0 {
		t.Fatalf("short read should return 0 bytes, got %d", n)
	}
	if src.calls != 1 {
		t.Fatalf("source processed %d times, want 1", src.calls)
	}
}

func TestOpenerFor(t *testing.T) {
	for _, name := range []string{"", BackendEbiten, BackendOto, BackendNull} {
		if _, err := OpenerFor(name); err != nil {
			t.Fatalf("OpenerFor(%q): %v", name, err)
		}
	}
	if _, err := OpenerFor("alsa"); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

type countingSource struct {
	mu     sync.Mutex
	frames int
}

func (s *countingSource) Process(dst []float32) {
	s.mu.Lock()
	s.frames += len(dst) / 2
	s.mu.Unlock()
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func TestNullOutputPullsOnlyWhilePlaying(t *testing.T) {
	src := &countingSource{}
	out, err := NewNullOutput(1000, src)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if src.count() != 0 {
		t.Fatalf("pulled before Play")
	}
	out.Play()
	out.Play()
	deadline := time.Now().Add(2 * time.Second)
	for src.count() < 20 {
		if time.Now().After(deadline) {
			t.Fatalf("null output never pulled")
		}
		time.Sleep(time.Millisecond)
	}
	out.Pause()
	n := src.count()
	time.Sleep(30 * time.Millisecond)
	if src.count() != n {
		t.Fatalf("pulled after Pause")
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
