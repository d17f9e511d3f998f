package synth

import (
	"math"
	"math/rand"
)

const twoPi = math.Pi * 2

// floor is the level exponential ramps decay toward; an exponential ramp
// cannot reach zero.
const floor = 0.001

type Waveform int

const (
	WaveSine Waveform = iota
	WaveSawtooth
	WaveNoise
)

// Envelope is a linear attack to Peak followed by an exponential decay to
// near-zero at Release seconds. The voice ends at Stop seconds.
type Envelope struct {
	Attack  float64
	Release float64
	Stop    float64
	Peak    float64
}

func (env Envelope) level(t float64) float64 {
	switch {
	case t < 0 || t >= env.Stop:
		return 0
	case env.Attack > 0 && t < env.Attack:
		return env.Peak * t / env.Attack
	case t >= env.Release:
		return floor
	}
	if env.Peak <= floor {
		return env.Peak
	}
	span := env.Release - env.Attack
	if span <= 0 {
		return floor
	}
	return env.Peak * math.Pow(floor/env.Peak, (t-env.Attack)/span)
}

// onePole is a first-order RC filter section.
type onePole struct {
	alpha float64
	state float64
}

func newOnePole(cutoff float64, sampleRate float64) onePole {
	if cutoff <= 0 || cutoff >= sampleRate/2 {
		return onePole{alpha: 1}
	}
	rc := 1.0 / (twoPi * cutoff)
	dt := 1.0 / sampleRate
	return onePole{alpha: dt / (rc + dt)}
}

func (f *onePole) lowpass(x float64) float64 {
	f.state += f.alpha * (x - f.state)
	return f.state
}

func (f *onePole) highpass(x float64) float64 {
	return x - f.lowpass(x)
}

// toneVoice is an oscillator through an optional lowpass, shaped by an
// envelope.
type toneVoice struct {
	sampleRate float64
	wave       Waveform
	freq       float64
	phase      float64
	lpf        onePole
	filtered   bool
	env        Envelope
	gain       float64
	frame      int
	stopFrame  int
}

func newToneVoice(sampleRate float64, wave Waveform, freq, cutoff float64, env Envelope, gain float64) *toneVoice {
	v := &toneVoice{
		sampleRate: sampleRate,
		wave:       wave,
		freq:       freq,
		env:        env,
		gain:       gain,
		stopFrame:  int(math.Ceil(env.Stop * sampleRate)),
	}
	if cutoff > 0 {
		v.lpf = newOnePole(cutoff, sampleRate)
		v.filtered = true
	}
	return v
}

func (v *toneVoice) Render(dst []float32) bool {
	for i := range dst {
		if v.frame >= v.stopFrame {
			dst[i] = 0
			continue
		}
		var s float64
		switch v.wave {
		case WaveSawtooth:
			s = 2*v.phase - 1
		default:
			s = math.Sin(twoPi * v.phase)
		}
		v.phase += v.freq / v.sampleRate
		if v.phase >= 1 {
			v.phase -= math.Floor(v.phase)
		}
		if v.filtered {
			s = v.lpf.lowpass(s)
		}
		t := float64(v.frame) / v.sampleRate
		dst[i] = float32(s * v.env.level(t) * v.gain)
		v.frame++
	}
	return v.frame < v.stopFrame
}

// noiseVoice is white noise through a highpass and a bandpass section.
type noiseVoice struct {
	sampleRate float64
	rng        *rand.Rand
	hp         onePole
	bpLow      onePole
	bpHigh     onePole
	env        Envelope
	gain       float64
	frame      int
	stopFrame  int
}

func newNoiseVoice(sampleRate float64, seed int64, highpass, bandCenter float64, env Envelope, gain float64) *noiseVoice {
	return &noiseVoice{
		sampleRate: sampleRate,
		rng:        rand.New(rand.NewSource(seed)),
		hp:         newOnePole(highpass, sampleRate),
		bpLow:      newOnePole(bandCenter*1.5, sampleRate),
		bpHigh:     newOnePole(bandCenter/1.5, sampleRate),
		env:        env,
		gain:       gain,
		stopFrame:  int(math.Ceil(env.Stop * sampleRate)),
	}
}

func (v *noiseVoice) Render(dst []float32) bool {
	for i := range dst {
		if v.frame >= v.stopFrame {
			dst[i] = 0
			continue
		}
		s := v.rng.Float64()*2 - 1
		s = v.hp.highpass(s)
		s = v.bpHigh.highpass(v.bpLow.lowpass(s))
		t := float64(v.frame) / v.sampleRate
		dst[i] = float32(s * v.env.level(t) * v.gain)
		v.frame++
	}
	return v.frame < v.stopFrame
}
