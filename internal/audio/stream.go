package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// SampleSource fills interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// Output is a device-side player pulling from a SampleSource.
type Output interface {
	Play()
	Pause()
	Close() error
}

// Opener creates an Output for a source at the given sample rate.
type Opener func(sampleRate int, source SampleSource) (Output, error)

// Backend names accepted by OpenerFor.
const (
	BackendEbiten = "ebiten"
	BackendOto    = "oto"
	BackendNull   = "null"
)

var ErrUnknownBackend = errors.New("unknown audio backend")

func OpenerFor(name string) (Opener, error) {
	switch name {
	case "", BackendEbiten:
		return NewEbitenOutput, nil
	case BackendOto:
		return NewOtoOutput, nil
	case BackendNull:
		return NewNullOutput, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, name)
	}
}

// StreamReader adapts a SampleSource to the float32 little-endian byte
// stream both backends consume.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

type ebitenOutput struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// ebiten allows a single audio context per process.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

func NewEbitenOutput(sampleRate int, source SampleSource) (Output, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, fmt.Errorf("cannot create ebiten player: %w", err)
	}
	return &ebitenOutput{player: pl, reader: reader}, nil
}

func (o *ebitenOutput) Play()  { o.player.Play() }
func (o *ebitenOutput) Pause() { o.player.Pause() }

func (o *ebitenOutput) Close() error {
	o.player.Pause()
	_ = o.player.Close()
	return o.reader.Close()
}

const nullBlock = 10 * time.Millisecond

// nullOutput discards audio but pulls from its source in real time while
// playing, so the engine clock runs on machines without a sound device.
// Until Play is called it never pulls, which lets offline rendering drive
// Process directly.
type nullOutput struct {
	source SampleSource
	frames int

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewNullOutput(sampleRate int, source SampleSource) (Output, error) {
	frames := sampleRate * int(nullBlock/time.Millisecond) / 1000
	if frames < 1 {
		frames = 1
	}
	return &nullOutput{source: source, frames: frames}, nil
}

func (o *nullOutput) Play() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stop != nil {
		return
	}
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	go o.run(o.stop, o.done)
}

func (o *nullOutput) run(stop, done chan struct{}) {
	defer close(done)
	buf := make([]float32, o.frames*2)
	o.source.Process(buf)
	ticker := time.NewTicker(nullBlock)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.source.Process(buf)
		}
	}
}

func (o *nullOutput) Pause() {
	o.mu.Lock()
	stop, done := o.stop, o.done
	o.stop, o.done = nil, nil
	o.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

func (o *nullOutput) Close() error {
	o.Pause()
	return nil
}
