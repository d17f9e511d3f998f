package fretpulse

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	intaudio "github.com/cbegin/fretpulse-go/internal/audio"
	inteng "github.com/cbegin/fretpulse-go/internal/engine"
	intpat "github.com/cbegin/fretpulse-go/internal/pattern"
	intsched "github.com/cbegin/fretpulse-go/internal/scheduler"
	intsynth "github.com/cbegin/fretpulse-go/internal/synth"
	inttone "github.com/cbegin/fretpulse-go/internal/tone"
)

// RenderOptions controls offline rendering.
type RenderOptions struct {
	SampleRate int
	Tempo      int
	Metronome  bool
	NotesMuted bool

	// Tone shapes the master bus. nil renders the voices unprocessed.
	Tone *inttone.Settings
}

const offlineBlock = 256

// RenderPattern plays p once through the lookahead scheduler against an
// engine driven block by block instead of by a device, and returns the
// interleaved stereo result including the release tail of the last note.
func RenderPattern(p *intpat.Pattern, opts RenderOptions) ([]float32, error) {
	if p == nil {
		return nil, errors.New("no pattern to render")
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	quiet := logrus.New()
	quiet.SetLevel(logrus.WarnLevel)
	engOpts := []inteng.Option{inteng.WithOpener(intaudio.NewNullOutput), inteng.WithLogger(quiet)}
	if opts.Tone != nil {
		engOpts = append(engOpts, inteng.WithInsert(inttone.New(opts.SampleRate, *opts.Tone)))
	}
	eng, err := inteng.New(opts.SampleRate, engOpts...)
	if err != nil {
		return nil, err
	}
	if err := eng.Init(); err != nil {
		return nil, err
	}
	defer eng.Close()

	params := intsynth.DefaultParams()
	r := intsynth.New(eng, opts.SampleRate, params)
	done := false
	sched := intsched.New(eng, intsched.Options{
		Interval:   time.Hour, // pumped by the render loop
		Notes:      offlineSink{r: r, p: p, opts: opts},
		OnComplete: func() { done = true },
		Logger:     quiet,
	})
	sched.Start(p, opts.Tempo, false)
	defer sched.Stop()

	var out []float32
	buf := make([]float32, offlineBlock*2)
	limit := int(float64(opts.SampleRate) * (intsched.DefaultStartMargin + p.Duration(opts.Tempo) + 1))
	for frames := 0; !done && frames < limit; frames += offlineBlock {
		sched.Pump()
		eng.Process(buf)
		out = append(out, buf...)
	}
	tail := int(params.NoteEnv.Stop * float64(opts.SampleRate))
	for frames := 0; frames < tail; frames += offlineBlock {
		eng.Process(buf)
		out = append(out, buf...)
	}
	return out, nil
}

type offlineSink struct {
	r    *intsynth.Renderer
	p    *intpat.Pattern
	opts RenderOptions
}

func (s offlineSink) ScheduleNote(n intpat.NoteEvent, at float64) {
	s.r.PlayNote(n, at, s.opts.NotesMuted)
	s.r.PlayClick(at, intsynth.ClickKindFor(n.Index, s.p.NotesPerBeat(), s.p.BeatsPerMeasure()), s.opts.Metronome)
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
