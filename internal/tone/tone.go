// Package tone shapes the engine's master bus the way a bass amp sits
// between the instrument and the speaker: a three-band tone stack followed
// by a compressor. Stages work on mono blocks in place.
package tone

import "math"

// Stage processes a mono block in place.
type Stage interface {
	Process(block []float32)
	Reset()
}

// Chain runs stages in order.
type Chain []Stage

func (c Chain) Process(block []float32) {
	for _, s := range c {
		s.Process(block)
	}
}

func (c Chain) Reset() {
	for _, s := range c {
		s.Reset()
	}
}

// Settings describe the bus. Gains are linear, 1 is flat. A crossover at or
// above Nyquist passes everything to the band below it.
type Settings struct {
	Bass      float64 `yaml:"bass"`
	Mid       float64 `yaml:"mid"`
	Treble    float64 `yaml:"treble"`
	LowHz     float64 `yaml:"lowHz"`
	HighHz    float64 `yaml:"highHz"`
	Compress  bool    `yaml:"compress"`
	Threshold float64 `yaml:"thresholdDb"`
	Ratio     float64 `yaml:"ratio"`
}

func Default() Settings {
	return Settings{
		Bass:      1.2,
		Mid:       1,
		Treble:    0.9,
		LowHz:     250,
		HighHz:    2500,
		Compress:  true,
		Threshold: -12,
		Ratio:     3,
	}
}

// New builds the bus for sampleRate. The compressor is left out when
// Compress is false.
func New(sampleRate int, s Settings) Chain {
	c := Chain{NewStack(sampleRate, s.Bass, s.Mid, s.Treble, s.LowHz, s.HighHz)}
	if s.Compress {
		c = append(c, NewCompressor(sampleRate, s.Threshold, s.Ratio, 5, 120))
	}
	return c
}

// Stack splits the signal at two crossover points with one-pole filters
// and recombines the bands with their gains. With unity gains the output
// equals the input exactly.
type Stack struct {
	bass, mid, treble float32
	lowAlpha          float32
	highAlpha         float32
	low, high         float32
}

func NewStack(sampleRate int, bass, mid, treble, lowHz, highHz float64) *Stack {
	return &Stack{
		bass:      float32(bass),
		mid:       float32(mid),
		treble:    float32(treble),
		lowAlpha:  onePoleAlpha(lowHz, sampleRate),
		highAlpha: onePoleAlpha(highHz, sampleRate),
	}
}

func onePoleAlpha(cutoff float64, sampleRate int) float32 {
	if cutoff <= 0 || cutoff >= float64(sampleRate)/2 {
		return 1
	}
	rc := 1 / (2 * math.Pi * cutoff)
	dt := 1 / float64(sampleRate)
	return float32(dt / (rc + dt))
}

func (s *Stack) Process(block []float32) {
	for i, x := range block {
		s.low += s.lowAlpha * (x - s.low)
		s.high += s.highAlpha * (x - s.high)
		lo := s.low
		hi := x - s.high
		mid := x - lo - hi
		block[i] = lo*s.bass + mid*s.mid + hi*s.treble
	}
}

func (s *Stack) Reset() { s.low, s.high = 0, 0 }

// Compressor is a peak follower with separate attack and release that
// reduces gain above the threshold by the ratio.
type Compressor struct {
	threshold float32
	slope     float64
	attack    float32
	release   float32
	env       float32
}

func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs float64) *Compressor {
	if ratio < 1 {
		ratio = 1
	}
	sr := float64(sampleRate)
	return &Compressor{
		threshold: float32(math.Pow(10, thresholdDB/20)),
		slope:     1/ratio - 1,
		attack:    float32(1 - math.Exp(-1/(attackMs*sr/1000))),
		release:   float32(1 - math.Exp(-1/(releaseMs*sr/1000))),
	}
}

func (c *Compressor) Process(block []float32) {
	for i, x := range block {
		a := float32(math.Abs(float64(x)))
		if a > c.env {
			c.env += c.attack * (a - c.env)
		} else {
			c.env += c.release * (a - c.env)
		}
		block[i] = x * c.gain()
	}
}

func (c *Compressor) gain() float32 {
	if c.env <= c.threshold || c.threshold <= 0 {
		return 1
	}
	return float32(math.Pow(float64(c.env/c.threshold), c.slope))
}

func (c *Compressor) Reset() { c.env = 0 }
