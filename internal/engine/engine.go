// Package engine owns the audio clock and the mixing bus. An Engine is an
// explicitly created instance with an Init/Resume/Suspend/Close lifecycle;
// several engines can coexist, which is how the tests isolate each other.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/viterin/vek/vek32"

	"github.com/cbegin/fretpulse-go/internal/audio"
)

var (
	// ErrNotReady reports that the audio backend is unavailable or has not
	// started pulling samples yet.
	ErrNotReady = errors.New("audio engine not ready")
	ErrClosed   = errors.New("audio engine closed")
)

// Voice is a self-terminating synthesis graph. Render fills dst with mono
// samples and reports whether the voice still has output after this block.
type Voice interface {
	Render(dst []float32) bool
}

// Insert processes the mono mix in place before the master gain.
type Insert interface {
	Process(block []float32)
	Reset()
}

type state int

const (
	stateClosed state = iota
	stateSuspended
	stateRunning
)

type scheduled struct {
	start int64
	voice Voice
}

type Option func(*Engine)

func WithOpener(open audio.Opener) Option {
	return func(e *Engine) { e.open = open }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

func WithInsert(in Insert) Option {
	return func(e *Engine) { e.insert = in }
}

type Engine struct {
	sampleRate int
	open       audio.Opener
	log        logrus.FieldLogger

	frames atomic.Int64 // frames rendered since Init
	gain   atomic.Uint32

	mu      sync.Mutex
	state   state
	output  audio.Output
	insert  Insert
	voices  []scheduled
	mix     []float32
	tmp     []float32
	pulled  chan struct{} // closed on the first pull after Resume
	didPull bool
}

func New(sampleRate int, opts ...Option) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	e := &Engine{
		sampleRate: sampleRate,
		open:       audio.NewEbitenOutput,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.gain.Store(math.Float32bits(1))
	return e, nil
}

func (e *Engine) SampleRate() int { return e.sampleRate }

// Init opens the output device. The engine starts suspended; the clock does
// not advance until Resume. Init on an initialized engine is a no-op.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initLocked()
}

func (e *Engine) initLocked() error {
	if e.state != stateClosed {
		return nil
	}
	out, err := e.open(e.sampleRate, e)
	if err != nil {
		e.log.WithError(err).Warn("audio backend unavailable")
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	e.output = out
	e.state = stateSuspended
	e.frames.Store(0)
	e.voices = nil
	if e.insert != nil {
		e.insert.Reset()
	}
	e.didPull = false
	e.pulled = make(chan struct{})
	return nil
}

// Resume starts the output and blocks until the device has pulled its first
// block, so the clock is known to advance when it returns. It is idempotent.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if err := e.initLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	out := e.output
	pulled := e.pulled
	wasRunning := e.state == stateRunning
	e.state = stateRunning
	e.mu.Unlock()

	if !wasRunning {
		out.Play()
	}
	select {
	case <-pulled:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
	}
}

// Suspend pauses the output. The clock stops advancing until Resume.
func (e *Engine) Suspend() {
	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return
	}
	out := e.output
	e.state = stateSuspended
	e.mu.Unlock()
	out.Pause()
}

// Close releases the output and resets the clock epoch. A later Init or
// Resume starts a fresh epoch at zero.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.state == stateClosed {
		e.mu.Unlock()
		return nil
	}
	out := e.output
	e.output = nil
	e.state = stateClosed
	e.voices = nil
	e.frames.Store(0)
	e.mu.Unlock()
	// The device may be blocked in Process waiting for mu.
	return out.Close()
}

// Ready reports whether the engine is running and has been pulled at least
// once.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateRunning && e.didPull
}

// Initialized reports whether an output is open.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != stateClosed
}

// Now returns the monotonic engine time in seconds since Init.
func (e *Engine) Now() float64 {
	return float64(e.frames.Load()) / float64(e.sampleRate)
}

// SetGain sets the master bus gain.
func (e *Engine) SetGain(g float32) {
	if g < 0 {
		g = 0
	}
	e.gain.Store(math.Float32bits(g))
}

// Schedule queues a voice to start at the given engine time. Times in the
// past start on the next rendered frame. It returns false, without error,
// when no output is open.
func (e *Engine) Schedule(v Voice, at float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateClosed {
		return false
	}
	start := int64(math.Round(at * float64(e.sampleRate)))
	e.voices = append(e.voices, scheduled{start: start, voice: v})
	return true
}

// SetInsert replaces the master bus insert. nil removes it.
func (e *Engine) SetInsert(in Insert) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if in != nil {
		in.Reset()
	}
	e.insert = in
}

// ActiveVoices returns the number of queued or sounding voices.
func (e *Engine) ActiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.voices)
}

// Process renders interleaved stereo frames and advances the clock. It is
// called by the output device, or directly for offline rendering.
func (e *Engine) Process(dst []float32) {
	n := len(dst) / 2
	if n == 0 {
		return
	}
	e.mu.Lock()
	if e.state == stateClosed {
		e.mu.Unlock()
		clear(dst)
		return
	}
	blockStart := e.frames.Load()
	if cap(e.mix) < n {
		e.mix = make([]float32, n)
		e.tmp = make([]float32, n)
	}
	mix := vek32.Zeros_Into(e.mix, n)
	kept := e.voices[:0]
	for _, sv := range e.voices {
		offset := sv.start - blockStart
		if offset >= int64(n) {
			kept = append(kept, sv)
			continue
		}
		if offset < 0 {
			offset = 0
		}
		tmp := e.tmp[:n-int(offset)]
		more := sv.voice.Render(tmp)
		vek32.Add_Inplace(mix[offset:], tmp)
		if more {
			// Already started; continue from the next block.
			sv.start = blockStart + int64(n)
			kept = append(kept, sv)
		}
	}
	for i := len(kept); i < len(e.voices); i++ {
		e.voices[i] = scheduled{}
	}
	e.voices = kept
	if e.insert != nil {
		e.insert.Process(mix)
	}
	vek32.MulNumber_Inplace(mix, math.Float32frombits(e.gain.Load()))
	for i, s := range mix {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		dst[2*i] = s
		dst[2*i+1] = s
	}
	e.frames.Add(int64(n))
	if !e.didPull && e.pulled != nil {
		e.didPull = true
		close(e.pulled)
	}
	e.mu.Unlock()
}
