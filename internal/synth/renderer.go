// Package synth realizes discrete sonic events (bass notes, metronome
// clicks, countdown beeps, hi-hat clicks) as self-terminating voices queued
// on an engine at exact times.
package synth

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/cbegin/fretpulse-go/internal/engine"
	"github.com/cbegin/fretpulse-go/internal/pattern"
)

// Output is the part of the engine the renderer needs.
type Output interface {
	Now() float64
	Schedule(v engine.Voice, at float64) bool
}

type ClickKind int

const (
	ClickDownbeat ClickKind = iota
	ClickBeat
	ClickSubdivision
)

type ClickTone struct {
	Freq float64
	Peak float64
}

type Params struct {
	NoteWave    Waveform
	NoteCutoff  float64
	NoteEnv     Envelope
	Clicks      [3]ClickTone // indexed by ClickKind
	ClickEnv    Envelope     // Peak comes from Clicks
	BeepFreq    float64
	BeepStart   float64
	BeepEnv     Envelope
	HiHatEnv    Envelope // Peak is the unaccented level
	HiHatAccent float64
}

func DefaultParams() Params {
	return Params{
		NoteWave:   WaveSawtooth,
		NoteCutoff: 600,
		NoteEnv:    Envelope{Attack: 0.05, Release: 0.5, Stop: 0.6, Peak: 0.5},
		Clicks: [3]ClickTone{
			ClickDownbeat:    {Freq: 1000, Peak: 0.4},
			ClickBeat:        {Freq: 800, Peak: 0.25},
			ClickSubdivision: {Freq: 600, Peak: 0.15},
		},
		ClickEnv:    Envelope{Attack: 0.01, Release: 0.06, Stop: 0.08},
		BeepFreq:    440,
		BeepStart:   880,
		BeepEnv:     Envelope{Attack: 0.02, Release: 0.15, Stop: 0.2, Peak: 0.3},
		HiHatEnv:    Envelope{Release: 0.08, Stop: 0.1, Peak: 0.3},
		HiHatAccent: 0.5,
	}
}

type Renderer struct {
	out        Output
	sampleRate float64
	params     Params

	noteVolume  atomic.Uint64
	clickVolume atomic.Uint64

	seedMu sync.Mutex
	seed   int64
}

// New returns a renderer queuing voices on out. A nil out makes every call
// a silent no-op.
func New(out Output, sampleRate int, params Params) *Renderer {
	r := &Renderer{out: out, sampleRate: float64(sampleRate), params: params, seed: 1}
	r.noteVolume.Store(math.Float64bits(1))
	r.clickVolume.Store(math.Float64bits(1))
	return r
}

// SetNoteVolume sets the overall scalar for notes, clamped to [0,1].
func (r *Renderer) SetNoteVolume(v float64) { r.noteVolume.Store(math.Float64bits(clamp(v, 0, 1))) }

// SetClickVolume sets the overall scalar for clicks and beeps, clamped to [0,1].
func (r *Renderer) SetClickVolume(v float64) { r.clickVolume.Store(math.Float64bits(clamp(v, 0, 1))) }

func (r *Renderer) NoteVolume() float64  { return math.Float64frombits(r.noteVolume.Load()) }
func (r *Renderer) ClickVolume() float64 { return math.Float64frombits(r.clickVolume.Load()) }

// PlayNote queues a bass note at the given engine time. It reports whether a
// voice was queued; muted playback and a missing backend return false and
// are not errors.
func (r *Renderer) PlayNote(n pattern.NoteEvent, at float64, muted bool) bool {
	if muted || r.out == nil {
		return false
	}
	freq := n.Frequency()
	if freq <= 0 {
		return false
	}
	wave := r.params.NoteWave
	cutoff := r.params.NoteCutoff
	env := r.params.NoteEnv
	switch n.Technique {
	case pattern.TechniqueSlap:
		cutoff *= 3
	case pattern.TechniquePop:
		cutoff *= 4
	case pattern.TechniqueMute:
		env.Release = env.Attack + 0.1
		env.Stop = env.Release + 0.05
	case pattern.TechniqueHarmonic:
		wave = WaveSine
		freq *= 2
	}
	v := newToneVoice(r.sampleRate, wave, freq, cutoff, env, r.NoteVolume())
	return r.out.Schedule(v, at)
}

// PlayClick queues a metronome click. enabled=false skips it.
func (r *Renderer) PlayClick(at float64, kind ClickKind, enabled bool) bool {
	if !enabled || r.out == nil || kind < ClickDownbeat || kind > ClickSubdivision {
		return false
	}
	tone := r.params.Clicks[kind]
	env := r.params.ClickEnv
	env.Peak = tone.Peak
	return r.out.Schedule(newToneVoice(r.sampleRate, WaveSine, tone.Freq, 0, env, r.ClickVolume()), at)
}

// PlayCountdownBeep queues a beep at the current engine time. The start
// beep is an octave higher.
func (r *Renderer) PlayCountdownBeep(start bool) bool {
	if r.out == nil {
		return false
	}
	freq := r.params.BeepFreq
	if start {
		freq = r.params.BeepStart
	}
	return r.out.Schedule(newToneVoice(r.sampleRate, WaveSine, freq, 0, r.params.BeepEnv, r.ClickVolume()), r.out.Now())
}

// PlayHiHat queues a filtered-noise click. Pre-roll clicks are brighter and
// slightly quieter so the count-in is distinguishable from the running click.
func (r *Renderer) PlayHiHat(at float64, accent, preRoll bool) bool {
	if r.out == nil {
		return false
	}
	env := r.params.HiHatEnv
	if accent {
		env.Peak = r.params.HiHatAccent
	}
	highpass, band := 6000.0, 10000.0
	if preRoll {
		env.Peak *= 0.8
		highpass, band = 8000, 12000
	}
	return r.out.Schedule(newNoiseVoice(r.sampleRate, r.nextSeed(), highpass, band, env, r.ClickVolume()), at)
}

// ClickKindFor classifies slot index within a pattern of the given shape.
func ClickKindFor(index, notesPerBeat, beatsPerMeasure int) ClickKind {
	if notesPerBeat < 1 {
		notesPerBeat = 1
	}
	if beatsPerMeasure < 1 {
		beatsPerMeasure = 1
	}
	switch {
	case index%(notesPerBeat*beatsPerMeasure) == 0:
		return ClickDownbeat
	case index%notesPerBeat == 0:
		return ClickBeat
	default:
		return ClickSubdivision
	}
}

func (r *Renderer) nextSeed() int64 {
	r.seedMu.Lock()
	defer r.seedMu.Unlock()
	r.seed++
	return r.seed
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
