package fretpulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	intaudio "github.com/cbegin/fretpulse-go/internal/audio"
	intconfig "github.com/cbegin/fretpulse-go/internal/config"
	inteng "github.com/cbegin/fretpulse-go/internal/engine"
	intmetro "github.com/cbegin/fretpulse-go/internal/metronome"
	intpat "github.com/cbegin/fretpulse-go/internal/pattern"
	intplayer "github.com/cbegin/fretpulse-go/internal/player"
	intsched "github.com/cbegin/fretpulse-go/internal/scheduler"
	intsynth "github.com/cbegin/fretpulse-go/internal/synth"
	inttiming "github.com/cbegin/fretpulse-go/internal/timing"
	inttone "github.com/cbegin/fretpulse-go/internal/tone"
	intvisual "github.com/cbegin/fretpulse-go/internal/visual"
)

var (
	// ErrNotReady is returned when the audio backend cannot start.
	ErrNotReady = inteng.ErrNotReady
	ErrRejected = errors.New("transition rejected")
)

const defaultResumeTimeout = 2 * time.Second

// Timer is a pending deferred call.
type Timer interface {
	Stop() bool
}

// AfterFunc runs f after d. The default wraps time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func defaultAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type TrainerOption func(*trainerConfig)

type trainerConfig struct {
	cfg           intconfig.Config
	log           logrus.FieldLogger
	opener        intaudio.Opener
	after         AfterFunc
	resumeTimeout time.Duration
}

func defaultTrainerConfig() trainerConfig {
	return trainerConfig{
		cfg:           intconfig.Default(),
		log:           logrus.StandardLogger(),
		after:         defaultAfterFunc,
		resumeTimeout: defaultResumeTimeout,
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
func WithConfig(cfg intconfig.Config) TrainerOption {
	return func(tc *trainerConfig) {
		tc.cfg = cfg
	}
}

func WithSampleRate(sampleRate int) TrainerOption {
	return func(tc *trainerConfig) {
		tc.cfg.SampleRate = sampleRate
	}
}

// WithBackend selects an audio backend by name: "ebiten", "oto" or "null".
func WithBackend(name string) TrainerOption {
	return func(tc *trainerConfig) {
		tc.cfg.Backend = name
	}
}

func WithLogger(log logrus.FieldLogger) TrainerOption {
	return func(tc *trainerConfig) {
		tc.log = log
	}
}

// WithOpener installs a custom audio output, overriding the backend name.
func WithOpener(open intaudio.Opener) TrainerOption {
	return func(tc *trainerConfig) {
		tc.opener = open
	}
}

// WithAfterFunc replaces the timer primitive used for the countdown, the
// playhead and the recording metronome.
func WithAfterFunc(fn AfterFunc) TrainerOption {
	return func(tc *trainerConfig) {
		tc.after = fn
	}
}

// WithResumeTimeout bounds how long starting playback waits for the audio
// device to begin pulling samples.
func WithResumeTimeout(d time.Duration) TrainerOption {
	return func(tc *trainerConfig) {
		if d > 0 {
			tc.resumeTimeout = d
		}
	}
}

// Trainer wires the audio engine, schedulers and player store into one
// practice session. All methods are safe for concurrent use.
type Trainer struct {
	log           logrus.FieldLogger
	cfg           intconfig.Config
	after         AfterFunc
	resumeTimeout time.Duration

	engine   *inteng.Engine
	renderer *intsynth.Renderer
	sched    *intsched.Scheduler
	bridge   *intvisual.Bridge
	store    *intplayer.Store
	metro    *intmetro.Metronome
	timing   *inttiming.Recorder

	pattern atomic.Pointer[intpat.Pattern]

	mu             sync.Mutex
	countdownTimer Timer
	countdownGen   uint64

	watchMu sync.Mutex
	watchCh chan intplayer.Snapshot
}

func NewTrainer(opts ...TrainerOption) (*Trainer, error) {
	tc := defaultTrainerConfig()
	for _, opt := range opts {
		opt(&tc)
	}
	cfg := tc.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opener := tc.opener
	if opener == nil {
		var err error
		if opener, err = intaudio.OpenerFor(cfg.Backend); err != nil {
			return nil, err
		}
	}
	eng, err := inteng.New(cfg.SampleRate, inteng.WithOpener(opener), inteng.WithLogger(tc.log),
		inteng.WithInsert(inttone.New(cfg.SampleRate, cfg.Tone)))
	if err != nil {
		return nil, err
	}

	t := &Trainer{
		log:           tc.log,
		cfg:           cfg,
		after:         tc.after,
		resumeTimeout: tc.resumeTimeout,
		engine:        eng,
		timing:        inttiming.NewRecorder(0),
	}
	t.renderer = intsynth.New(eng, cfg.SampleRate, intsynth.DefaultParams())
	t.renderer.SetNoteVolume(cfg.NoteVolume)
	t.renderer.SetClickVolume(cfg.MetronomeVolume)

	t.store = intplayer.NewStore(
		intplayer.WithLogger(tc.log),
		intplayer.WithCountdownSeconds(cfg.CountdownSeconds),
		intplayer.WithInitial(initialSnapshot(cfg)),
	)
	t.bridge = intvisual.New(eng, t.noteSounding,
		intvisual.WithAfterFunc(func(d time.Duration, f func()) intvisual.Timer { return t.after(d, f) }),
		intvisual.WithActive(t.playbackActive),
	)
	t.sched = intsched.New(eng, intsched.Options{
		Lookahead:   cfg.LookaheadSeconds,
		StartMargin: cfg.StartMarginSeconds,
		Interval:    cfg.PumpInterval(),
		Notes:       noteSink{t},
		Visual:      t.bridge,
		OnComplete:  t.patternComplete,
		Logger:      tc.log,
	})
	t.metro = intmetro.New(eng, t.renderer,
		intmetro.WithTempo(cfg.Tempo),
		intmetro.WithBeatsPerBar(cfg.BeatsPerBar),
		intmetro.WithPreRollBars(cfg.PreRollBars),
		intmetro.WithAfterFunc(func(d time.Duration, f func()) intmetro.Timer { return t.after(d, f) }),
		intmetro.WithLogger(tc.log),
	)
	t.store.Subscribe(t.react)
	return t, nil
}

func initialSnapshot(cfg intconfig.Config) intplayer.Snapshot {
	snap := intplayer.InitialSnapshot()
	snap.Tempo = cfg.Tempo
	snap.IsLooping = cfg.Loop
	snap.IsMetronomeEnabled = cfg.Metronome
	snap.IsNotesMuted = cfg.NotesMuted
	snap.IsCountdownEnabled = cfg.Countdown
	snap.NoteVolume = cfg.NoteVolume
	snap.MetronomeVolume = cfg.MetronomeVolume
	return snap
}

// Load makes p the pattern for the next session. A session in progress is
// stopped first.
func (t *Trainer) Load(p *intpat.Pattern) {
	if !t.store.Snapshot().IsIdle() {
		t.store.Send(intplayer.Stop)
	}
	t.pattern.Store(p)
	t.timing.Reset()
}

// LoadExercise loads a configured or built-in exercise by key.
func (t *Trainer) LoadExercise(key string) error {
	p, err := t.cfg.Exercise(key)
	if err != nil {
		return err
	}
	t.Load(p)
	return nil
}

func (t *Trainer) Pattern() *intpat.Pattern { return t.pattern.Load() }

// Play starts playback, with the countdown when it is enabled. The audio
// device is resumed first; if it cannot start the trainer stays idle and
// ErrNotReady is returned.
func (t *Trainer) Play(ctx context.Context) error {
	if err := t.ensureAudio(ctx); err != nil {
		return err
	}
	snap := t.store.Snapshot()
	ev := intplayer.PlayImmediate
	if snap.IsCountdownEnabled {
		ev = intplayer.Play
	}
	if !t.store.Send(ev) {
		return fmt.Errorf("%w: %v while %v", ErrRejected, ev, snap.Status)
	}
	return nil
}

// Send applies a player event. It reports false when the event is not legal
// in the current state, or when it would start playback and the audio
// device cannot be resumed.
func (t *Trainer) Send(ev intplayer.Event) bool {
	next, ok := intplayer.Next(t.store.Snapshot().Status, ev)
	if ok && next != intplayer.Idle && next != intplayer.Paused {
		if err := t.ensureAudio(context.Background()); err != nil {
			return false
		}
	}
	return t.store.Send(ev)
}

func (t *Trainer) Pause() bool  { return t.Send(intplayer.Pause) }
func (t *Trainer) Resume() bool { return t.Send(intplayer.Resume) }
func (t *Trainer) Stop() bool   { return t.Send(intplayer.Stop) }

func (t *Trainer) ensureAudio(ctx context.Context) error {
	if t.engine.Ready() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.resumeTimeout)
	defer cancel()
	err := t.engine.Resume(ctx)
	t.store.Dispatch(intplayer.SetAudioReady{Ready: err == nil})
	if err != nil {
		t.log.WithError(err).Warn("audio not ready; playback not started")
		return err
	}
	return nil
}

func (t *Trainer) SetTempo(bpm int)  { t.store.Dispatch(intplayer.SetTempo{BPM: bpm}) }
func (t *Trainer) ToggleLoop()       { t.store.Dispatch(intplayer.ToggleLoop{}) }
func (t *Trainer) ToggleMetronome()  { t.store.Dispatch(intplayer.ToggleMetronome{}) }
func (t *Trainer) ToggleNotesMuted() { t.store.Dispatch(intplayer.ToggleNotesMuted{}) }
func (t *Trainer) ToggleCountdown()  { t.store.Dispatch(intplayer.ToggleCountdown{}) }

func (t *Trainer) SetNoteVolume(v float64) {
	t.store.Dispatch(intplayer.SetNoteVolume{Volume: v})
}

func (t *Trainer) SetMetronomeVolume(v float64) {
	t.store.Dispatch(intplayer.SetMetronomeVolume{Volume: v})
}

func (t *Trainer) Snapshot() intplayer.Snapshot { return t.store.Snapshot() }

// Now returns the audio clock in seconds.
func (t *Trainer) Now() float64 { return t.engine.Now() }

// Watch returns a channel receiving a snapshot after every state change.
// The channel is buffered (cap 8) and snapshots are dropped when it is
// full. Only the most recent Watch channel receives snapshots.
func (t *Trainer) Watch() <-chan intplayer.Snapshot {
	ch := make(chan intplayer.Snapshot, 8)
	t.watchMu.Lock()
	t.watchCh = ch
	t.watchMu.Unlock()
	return ch
}

func (t *Trainer) publish() {
	t.watchMu.Lock()
	ch := t.watchCh
	t.watchMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- t.store.Snapshot():
	default:
	}
}

// RecordHit matches a played note at audio time actual to the nearest
// recently scheduled note and records the deviation in milliseconds. It
// reports false when no scheduled note is within half a slot.
func (t *Trainer) RecordHit(actual float64) (float64, bool) {
	window := 0.25
	if p := t.pattern.Load(); p != nil {
		window = p.SlotSeconds(t.store.Snapshot().Tempo) / 2
	}
	recent := t.sched.Recent()
	times := make([]float64, len(recent))
	for i, ev := range recent {
		times[i] = ev.At
	}
	at, ok := inttiming.Nearest(times, actual, window)
	if !ok {
		return 0, false
	}
	return t.timing.Record(at, actual), true
}

func (t *Trainer) TimingStats() inttiming.Stats { return t.timing.Stats() }

// StartRecordingMetronome starts the hi-hat click, optionally after a
// count-in. onComplete runs once when the count-in ends.
func (t *Trainer) StartRecordingMetronome(withPreRoll bool, onComplete func()) error {
	if err := t.ensureAudio(context.Background()); err != nil {
		return err
	}
	t.metro.SetTempo(t.store.Snapshot().Tempo)
	t.metro.Start(withPreRoll, onComplete)
	return nil
}

// JoinRecordingMetronome starts the hi-hat click aligned to a performance
// that began elapsed seconds ago.
func (t *Trainer) JoinRecordingMetronome(elapsed float64) error {
	if err := t.ensureAudio(context.Background()); err != nil {
		return err
	}
	t.metro.SetTempo(t.store.Snapshot().Tempo)
	t.metro.StartForPlayback(elapsed)
	return nil
}

func (t *Trainer) StopRecordingMetronome() { t.metro.Stop() }

func (t *Trainer) MetronomeStatus() intmetro.Status { return t.metro.Status() }

// ExportMIDI writes the loaded pattern as a Standard MIDI File at the
// current tempo.
func (t *Trainer) ExportMIDI(w io.Writer, loops int) error {
	p := t.pattern.Load()
	if p == nil {
		return errors.New("no pattern loaded")
	}
	return p.WriteSMF(w, t.store.Snapshot().Tempo, loops)
}

// Close stops everything and releases the audio device.
func (t *Trainer) Close() error {
	if !t.store.Snapshot().IsIdle() {
		t.store.Send(intplayer.Stop)
	}
	t.metro.Stop()
	t.cancelCountdown()
	t.bridge.Stop()
	t.sched.Stop()
	return t.engine.Close()
}

// react turns accepted store actions into scheduler and renderer calls.
func (t *Trainer) react(prev, next intplayer.Snapshot, a intplayer.Action) {
	switch a.(type) {
	case intplayer.Transition:
		t.transition(prev.Status, next.Status)
	case intplayer.SetTempo:
		t.sched.SetTempo(next.Tempo)
		t.metro.SetTempo(next.Tempo)
	case intplayer.ToggleLoop:
		t.sched.SetLoop(next.IsLooping)
	case intplayer.SetNoteVolume:
		t.renderer.SetNoteVolume(next.NoteVolume)
	case intplayer.SetMetronomeVolume:
		t.renderer.SetClickVolume(next.MetronomeVolume)
	}
	t.publish()
}

func (t *Trainer) transition(prev, next intplayer.State) {
	if prev == next {
		return
	}
	t.log.WithFields(logrus.Fields{"from": prev, "to": next}).Debug("player transition")
	switch next {
	case intplayer.Countdown:
		t.startCountdown()
	case intplayer.Playing:
		if prev == intplayer.Paused {
			t.sched.Resume()
			return
		}
		t.startSession()
	case intplayer.Paused:
		t.sched.Pause()
	case intplayer.Idle:
		t.cancelCountdown()
		t.bridge.Stop()
		t.sched.Stop()
	}
}

func (t *Trainer) startSession() {
	snap := t.store.Snapshot()
	t.bridge.Start()
	// A nil or empty pattern completes at once, which stops the session.
	t.sched.Start(t.pattern.Load(), snap.Tempo, snap.IsLooping)
}

func (t *Trainer) patternComplete() {
	if t.sched.State() != intsched.StateIdle {
		return
	}
	if t.store.Snapshot().IsIdle() {
		return
	}
	t.log.Debug("pattern finished")
	t.store.Send(intplayer.Stop)
}

func (t *Trainer) startCountdown() {
	t.mu.Lock()
	t.stopCountdownLocked()
	t.countdownGen++
	gen := t.countdownGen
	t.mu.Unlock()

	if t.store.Snapshot().Countdown <= 0 {
		t.renderer.PlayCountdownBeep(true)
		t.store.Send(intplayer.CountdownComplete)
		return
	}
	t.renderer.PlayCountdownBeep(false)
	t.armCountdown(gen)
}

func (t *Trainer) armCountdown(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.countdownGen {
		return
	}
	t.countdownTimer = t.after(time.Second, func() { t.countdownTick(gen) })
}

func (t *Trainer) countdownTick(gen uint64) {
	t.mu.Lock()
	live := gen == t.countdownGen
	t.mu.Unlock()
	snap := t.store.Snapshot()
	if !live || !snap.IsCountingDown() {
		return
	}
	remaining := snap.Countdown - 1
	if remaining > 0 {
		t.store.Dispatch(intplayer.SetCountdown{Value: remaining})
		t.renderer.PlayCountdownBeep(false)
		t.store.Send(intplayer.CountdownTick)
		t.armCountdown(gen)
		return
	}
	t.renderer.PlayCountdownBeep(true)
	t.store.Send(intplayer.CountdownComplete)
}

func (t *Trainer) cancelCountdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopCountdownLocked()
	t.countdownGen++
}

func (t *Trainer) stopCountdownLocked() {
	if t.countdownTimer != nil {
		t.countdownTimer.Stop()
		t.countdownTimer = nil
	}
}

func (t *Trainer) noteSounding(index int) {
	p := t.pattern.Load()
	if p == nil {
		return
	}
	t.store.Dispatch(intplayer.UpdateNote{
		Index:           index,
		NotesPerBeat:    p.NotesPerBeat(),
		BeatsPerMeasure: p.BeatsPerMeasure(),
	})
}

func (t *Trainer) playbackActive() bool {
	snap := t.store.Snapshot()
	return snap.IsPlaying() || snap.IsPaused()
}

// noteSink renders each scheduled note and, when enabled, its click. It
// runs inside the scheduler's pump and only reads store state.
type noteSink struct {
	t *Trainer
}

func (s noteSink) ScheduleNote(n intpat.NoteEvent, at float64) {
	snap := s.t.store.Snapshot()
	s.t.renderer.PlayNote(n, at, snap.IsNotesMuted)
	npb, bpm := 1, intpat.DefaultBeatsPerMeasure
	if p := s.t.pattern.Load(); p != nil {
		npb, bpm = p.NotesPerBeat(), p.BeatsPerMeasure()
	}
	s.t.renderer.PlayClick(at, intsynth.ClickKindFor(n.Index, npb, bpm), snap.IsMetronomeEnabled)
}
