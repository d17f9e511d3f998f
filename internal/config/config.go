// Package config loads trainer settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/fretpulse-go/internal/audio"
	"github.com/cbegin/fretpulse-go/internal/pattern"
	"github.com/cbegin/fretpulse-go/internal/tone"
)

var (
	ErrInvalidTempo  = errors.New("tempo out of range")
	ErrInvalidVolume = errors.New("volume out of range")
	ErrInvalidTiming = errors.New("invalid scheduler timing")
	ErrInvalidTone   = errors.New("invalid tone settings")
)

type Config struct {
	SampleRate         int     `yaml:"sampleRate"`
	Backend            string  `yaml:"backend"`
	Tempo              int     `yaml:"tempo"`
	Loop               bool    `yaml:"loop"`
	Metronome          bool    `yaml:"metronome"`
	NotesMuted         bool    `yaml:"notesMuted"`
	Countdown          bool    `yaml:"countdown"`
	CountdownSeconds   int     `yaml:"countdownSeconds"`
	LookaheadSeconds   float64 `yaml:"lookaheadSeconds"`
	StartMarginSeconds float64 `yaml:"startMarginSeconds"`
	PumpIntervalMs     int     `yaml:"pumpIntervalMs"`
	NoteVolume         float64 `yaml:"noteVolume"`
	MetronomeVolume    float64 `yaml:"metronomeVolume"`
	PreRollBars        int     `yaml:"preRollBars"`
	BeatsPerBar        int     `yaml:"beatsPerBar"`

	Tone tone.Settings `yaml:"tone"`

	// Exercises adds user patterns alongside the built-in library.
	Exercises map[string]Exercise `yaml:"exercises,omitempty"`
}

// Exercise is a pattern in file form. Notes use the "A/2" or "A/2:slap"
// short form.
type Exercise struct {
	Name            string   `yaml:"name"`
	Root            string   `yaml:"root"`
	NotesPerBeat    int      `yaml:"notesPerBeat"`
	BeatsPerMeasure int      `yaml:"beatsPerMeasure,omitempty"`
	Notes           []string `yaml:"notes"`
}

func Default() Config {
	return Config{
		SampleRate:         48000,
		Backend:            audio.BackendEbiten,
		Tempo:              100,
		Loop:               true,
		Countdown:          true,
		CountdownSeconds:   3,
		LookaheadSeconds:   0.1,
		StartMarginSeconds: 0.1,
		PumpIntervalMs:     16,
		NoteVolume:         0.7,
		MetronomeVolume:    0.5,
		PreRollBars:        1,
		BeatsPerBar:        4,
		Tone:               tone.Default(),
	}
}

// Parse reads YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Tempo < pattern.MinTempo || c.Tempo > pattern.MaxTempo {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidTempo, c.Tempo, pattern.MinTempo, pattern.MaxTempo)
	}
	if c.NoteVolume < 0 || c.NoteVolume > 1 {
		return fmt.Errorf("%w: noteVolume %v", ErrInvalidVolume, c.NoteVolume)
	}
	if c.MetronomeVolume < 0 || c.MetronomeVolume > 1 {
		return fmt.Errorf("%w: metronomeVolume %v", ErrInvalidVolume, c.MetronomeVolume)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if _, err := audio.OpenerFor(c.Backend); err != nil {
		return err
	}
	if c.LookaheadSeconds <= 0 || c.StartMarginSeconds <= 0 || c.PumpIntervalMs <= 0 {
		return fmt.Errorf("%w: lookahead, start margin and pump interval must be positive", ErrInvalidTiming)
	}
	if c.PumpInterval().Seconds() >= c.LookaheadSeconds {
		return fmt.Errorf("%w: pump interval %v must be shorter than the lookahead window", ErrInvalidTiming, c.PumpInterval())
	}
	if c.CountdownSeconds < 0 || c.PreRollBars < 0 || c.BeatsPerBar <= 0 {
		return fmt.Errorf("invalid countdown or bar settings")
	}
	if err := validateTone(c.Tone); err != nil {
		return err
	}
	for _, key := range c.ExerciseKeys() {
		if _, err := c.Exercises[key].Pattern(); err != nil {
			return fmt.Errorf("exercise %q: %w", key, err)
		}
	}
	return nil
}

func validateTone(t tone.Settings) error {
	for _, g := range []float64{t.Bass, t.Mid, t.Treble} {
		if g < 0 || g > 4 {
			return fmt.Errorf("%w: band gain %v not in [0,4]", ErrInvalidTone, g)
		}
	}
	if t.LowHz <= 0 || t.HighHz <= t.LowHz {
		return fmt.Errorf("%w: crossovers %v/%v Hz", ErrInvalidTone, t.LowHz, t.HighHz)
	}
	if t.Compress && (t.Ratio < 1 || t.Threshold > 0) {
		return fmt.Errorf("%w: compressor ratio %v threshold %v dB", ErrInvalidTone, t.Ratio, t.Threshold)
	}
	return nil
}

func (c Config) PumpInterval() time.Duration {
	return time.Duration(c.PumpIntervalMs) * time.Millisecond
}

// ExerciseKeys lists the configured exercises in sorted order.
func (c Config) ExerciseKeys() []string {
	keys := make([]string, 0, len(c.Exercises))
	for k := range c.Exercises {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Library lists every exercise key, built-in and configured, in sorted
// order. A configured exercise shadows a built-in one with the same key.
func (c Config) Library() []string {
	keys := pattern.Library()
	for _, k := range c.ExerciseKeys() {
		if _, err := pattern.Builtin(k); err != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Exercise returns a configured exercise, falling back to the built-in
// library.
func (c Config) Exercise(key string) (*pattern.Pattern, error) {
	if e, ok := c.Exercises[key]; ok {
		return e.Pattern()
	}
	return pattern.Builtin(key)
}

func (e Exercise) Pattern() (*pattern.Pattern, error) {
	notes := make([]pattern.Note, 0, len(e.Notes))
	for _, s := range e.Notes {
		n, err := pattern.ParseNote(s)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return pattern.New(pattern.Spec{
		Name:            e.Name,
		Root:            e.Root,
		NotesPerBeat:    e.NotesPerBeat,
		BeatsPerMeasure: e.BeatsPerMeasure,
		Notes:           notes,
	})
}
