// Package scheduler implements lookahead playback of a pattern against an
// audio clock. A pump runs on a cadence much shorter than the lookahead
// window and queues every event due inside the window, so jitter in when
// the pump itself runs never makes an event late.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/fretpulse-go/internal/pattern"
)

const (
	DefaultLookahead   = 0.1 // seconds
	DefaultStartMargin = 0.1 // seconds
	DefaultInterval    = 16 * time.Millisecond
	defaultHistory     = 64
)

// Clock is a monotonic time source in seconds.
type Clock interface {
	Now() float64
}

// NoteSink receives each note as it is queued. It is called with the
// scheduler lock held and must not call back into the scheduler.
type NoteSink interface {
	ScheduleNote(n pattern.NoteEvent, at float64)
}

// VisualSink receives the index and sounding time of each queued note.
type VisualSink interface {
	Schedule(index int, at float64)
}

type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Cursor is the scheduler-owned playback position.
type Cursor struct {
	Index         int
	NextEventTime float64
}

// Scheduled records one queued event.
type Scheduled struct {
	Index int
	At    float64
}

type Options struct {
	Lookahead   float64       // 0 means DefaultLookahead
	StartMargin float64       // 0 means DefaultStartMargin
	Interval    time.Duration // pump cadence; 0 means DefaultInterval
	Notes       NoteSink
	Visual      VisualSink
	// OnComplete is called, without the lock held, when a non-looping
	// pattern has finished sounding, when Start is given an empty pattern,
	// or after a pump failure.
	OnComplete func()
	Logger     logrus.FieldLogger
}

type Scheduler struct {
	clock       Clock
	notes       NoteSink
	visual      VisualSink
	lookahead   float64
	startMargin float64
	interval    time.Duration
	onComplete  func()
	log         logrus.FieldLogger

	mu        sync.Mutex
	state     State
	pattern   *pattern.Pattern
	tempo     int
	loop      bool
	cursor    Cursor
	exhausted bool    // non-looping pattern fully queued; waiting for it to sound
	offset    float64 // NextEventTime - now at the moment of pause
	gen       uint64  // identifies the current pump chain
	cancel    context.CancelFunc
	history   []Scheduled
	histNext  int
}

func New(clock Clock, opts Options) *Scheduler {
	s := &Scheduler{
		clock:       clock,
		notes:       opts.Notes,
		visual:      opts.Visual,
		lookahead:   opts.Lookahead,
		startMargin: opts.StartMargin,
		interval:    opts.Interval,
		onComplete:  opts.OnComplete,
		log:         opts.Logger,
		tempo:       100,
		history:     make([]Scheduled, 0, defaultHistory),
	}
	if s.lookahead <= 0 {
		s.lookahead = DefaultLookahead
	}
	if s.startMargin <= 0 {
		s.startMargin = DefaultStartMargin
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// Start begins playback of p from index 0. Any running session is stopped
// first. An empty pattern is a no-op that reports completion immediately.
func (s *Scheduler) Start(p *pattern.Pattern, tempo int, loop bool) {
	s.mu.Lock()
	s.stopLocked()
	if p == nil || p.Len() == 0 {
		s.mu.Unlock()
		s.log.Debug("empty pattern; nothing to schedule")
		s.complete()
		return
	}
	s.pattern = p
	s.tempo = pattern.ClampTempo(tempo)
	s.loop = loop
	s.cursor = Cursor{Index: 0, NextEventTime: s.clock.Now() + s.startMargin}
	s.state = StateRunning
	gen := s.launchLocked()
	s.log.WithFields(logrus.Fields{"notes": p.Len(), "tempo": s.tempo, "loop": loop}).Debug("scheduler started")
	s.mu.Unlock()
	s.pump(gen)
}

// Stop cancels the pump and resets the cursor. Audio already queued is not
// retracted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		s.log.Debug("scheduler stopped")
	}
	s.stopLocked()
}

// Pause cancels future pumping, keeping the cursor index and the distance
// from the clock to the next event.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.offset = s.cursor.NextEventTime - s.clock.Now()
	if s.offset < 0 {
		s.offset = 0
	}
	s.cancelLocked()
	s.state = StatePaused
}

// Resume re-anchors the next event to the current clock so no drift
// accumulates across the pause, then restarts the pump.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return
	}
	s.cursor.NextEventTime = s.clock.Now() + s.offset
	s.state = StateRunning
	gen := s.launchLocked()
	s.mu.Unlock()
	s.pump(gen)
}

// SetTempo changes the tempo used for intervals not yet computed.
func (s *Scheduler) SetTempo(bpm int) {
	s.mu.Lock()
	s.tempo = pattern.ClampTempo(bpm)
	s.mu.Unlock()
}

// SetLoop changes whether the pattern wraps when it runs out.
func (s *Scheduler) SetLoop(loop bool) {
	s.mu.Lock()
	s.loop = loop
	s.mu.Unlock()
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Cursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Pump runs one scheduling cycle for the current session. The background
// ticker calls it; tests and callers with their own frame loop may too.
func (s *Scheduler) Pump() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.pump(gen)
}

// Recent returns the most recently queued events, oldest first.
func (s *Scheduler) Recent() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) < cap(s.history) {
		return append([]Scheduled(nil), s.history...)
	}
	out := make([]Scheduled, 0, len(s.history))
	out = append(out, s.history[s.histNext:]...)
	return append(out, s.history[:s.histNext]...)
}

func (s *Scheduler) launchLocked() uint64 {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx, gen)
	return gen
}

func (s *Scheduler) run(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pump(gen)
		}
	}
}

func (s *Scheduler) cancelLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	// Invalidate any pump already past its ctx check.
	s.gen++
}

func (s *Scheduler) stopLocked() {
	s.cancelLocked()
	s.state = StateIdle
	s.cursor = Cursor{}
	s.exhausted = false
	s.offset = 0
}

func (s *Scheduler) pump(gen uint64) {
	if s.cycle(gen) {
		s.complete()
	}
}

func (s *Scheduler) complete() {
	if s.onComplete != nil {
		s.onComplete()
	}
}

func (s *Scheduler) cycle(gen uint64) (done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateRunning {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("scheduler pump failed; stopping")
			s.stopLocked()
			done = true
		}
	}()

	now := s.clock.Now()
	if s.exhausted && s.loop {
		// Looping was switched back on before the last note finished.
		s.exhausted = false
		s.cursor.Index = 0
	}
	if s.exhausted {
		if now >= s.cursor.NextEventTime {
			s.log.Debug("pattern complete")
			s.stopLocked()
			return true
		}
		return false
	}
	horizon := now + s.lookahead
	for s.cursor.NextEventTime < horizon {
		n := s.pattern.At(s.cursor.Index)
		at := s.cursor.NextEventTime
		if s.notes != nil {
			s.notes.ScheduleNote(n, at)
		}
		if s.visual != nil {
			s.visual.Schedule(n.Index, at)
		}
		s.remember(Scheduled{Index: n.Index, At: at})

		// Tempo is read here, every event, so live edits apply to the next
		// interval while committed times stay put.
		s.cursor.NextEventTime += pattern.SlotSeconds(s.tempo, s.pattern.NotesPerBeat())
		s.cursor.Index++
		if s.cursor.Index >= s.pattern.Len() {
			if !s.loop {
				s.exhausted = true
				return false
			}
			s.cursor.Index = 0
		}
	}
	return false
}

func (s *Scheduler) remember(ev Scheduled) {
	if len(s.history) < cap(s.history) {
		s.history = append(s.history, ev)
		return
	}
	s.history[s.histNext] = ev
	s.histNext = (s.histNext + 1) % len(s.history)
}
