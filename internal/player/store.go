package player

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/fretpulse-go/internal/pattern"
)

const DefaultCountdownSeconds = 3

// Snapshot is the read-only view of playback handed to the UI.
type Snapshot struct {
	Status             State
	Countdown          int
	CurrentNoteIndex   int
	CurrentBeat        int
	CurrentTriplet     int
	CurrentMeasure     int
	Tempo              int
	IsLooping          bool
	IsMetronomeEnabled bool
	IsNotesMuted       bool
	IsCountdownEnabled bool
	NoteVolume         float64
	MetronomeVolume    float64
	IsAudioReady       bool
}

// InitialSnapshot is the state of a fresh store.
func InitialSnapshot() Snapshot {
	return Snapshot{
		Status:             Idle,
		CurrentNoteIndex:   -1,
		CurrentBeat:        -1,
		CurrentTriplet:     -1,
		Tempo:              100,
		IsLooping:          true,
		IsCountdownEnabled: true,
		NoteVolume:         0.7,
		MetronomeVolume:    0.5,
	}
}

func (s Snapshot) IsPlaying() bool      { return s.Status == Playing }
func (s Snapshot) IsIdle() bool         { return s.Status == Idle }
func (s Snapshot) IsPaused() bool       { return s.Status == Paused }
func (s Snapshot) IsCountingDown() bool { return s.Status == Countdown }

// Position formats the playhead as "measure M beat B.S". Measure is already
// 1-based; beat and subdivision are shown 1-based. Before the first note it
// returns "-".
func (s Snapshot) Position() string {
	if s.CurrentMeasure < 1 || s.CurrentNoteIndex < 0 {
		return "-"
	}
	return fmt.Sprintf("measure %d beat %d.%d", s.CurrentMeasure, s.CurrentBeat+1, s.CurrentTriplet+1)
}

// Action is anything the store can reduce.
type Action interface {
	actionName() string
}

type (
	Transition         struct{ Event Event }
	SetCountdown       struct{ Value int }
	UpdateNote         struct{ Index, NotesPerBeat, BeatsPerMeasure int }
	ResetNote          struct{}
	SetTempo           struct{ BPM int }
	ToggleLoop         struct{}
	ToggleMetronome    struct{}
	ToggleNotesMuted   struct{}
	ToggleCountdown    struct{}
	SetNoteVolume      struct{ Volume float64 }
	SetMetronomeVolume struct{ Volume float64 }
	SetAudioReady      struct{ Ready bool }
)

func (Transition) actionName() string         { return "TRANSITION" }
func (SetCountdown) actionName() string       { return "SET_COUNTDOWN" }
func (UpdateNote) actionName() string         { return "UPDATE_NOTE" }
func (ResetNote) actionName() string          { return "RESET_NOTE" }
func (SetTempo) actionName() string           { return "SET_TEMPO" }
func (ToggleLoop) actionName() string         { return "TOGGLE_LOOP" }
func (ToggleMetronome) actionName() string    { return "TOGGLE_METRONOME" }
func (ToggleNotesMuted) actionName() string   { return "TOGGLE_NOTES_MUTED" }
func (ToggleCountdown) actionName() string    { return "TOGGLE_COUNTDOWN" }
func (SetNoteVolume) actionName() string      { return "SET_NOTE_VOLUME" }
func (SetMetronomeVolume) actionName() string { return "SET_METRONOME_VOLUME" }
func (SetAudioReady) actionName() string      { return "SET_AUDIO_READY" }

// ActionName returns the wire-style name of a, used in logs.
func ActionName(a Action) string { return a.actionName() }

// Reduce applies a to s. It reports false, with s unchanged, for a rejected
// transition and for a note update while idle. countdownSeconds seeds the
// counter on entering Countdown.
func Reduce(s Snapshot, a Action, countdownSeconds int) (Snapshot, bool) {
	switch a := a.(type) {
	case Transition:
		next, ok := Next(s.Status, a.Event)
		if !ok {
			return s, false
		}
		prev := s.Status
		s.Status = next
		switch {
		case next == Countdown && prev != Countdown:
			s.Countdown = countdownSeconds
		case next == Playing && prev == Countdown:
			s.Countdown = 0
		case next == Idle:
			s.Countdown = 0
			s = resetNote(s)
		}
	case SetCountdown:
		s.Countdown = a.Value
	case UpdateNote:
		if s.Status == Idle {
			// A notification racing a stop must not repaint the playhead.
			return s, false
		}
		npb := a.NotesPerBeat
		if npb < 1 {
			npb = 1
		}
		bpm := a.BeatsPerMeasure
		if bpm < 1 {
			bpm = pattern.DefaultBeatsPerMeasure
		}
		triplet := a.Index % npb
		s.CurrentNoteIndex = a.Index
		s.CurrentTriplet = triplet
		s.CurrentMeasure = a.Index/(npb*bpm) + 1
		if triplet == 0 {
			s.CurrentBeat = (a.Index / npb) % bpm
		}
	case ResetNote:
		s = resetNote(s)
	case SetTempo:
		s.Tempo = pattern.ClampTempo(a.BPM)
	case ToggleLoop:
		s.IsLooping = !s.IsLooping
	case ToggleMetronome:
		s.IsMetronomeEnabled = !s.IsMetronomeEnabled
	case ToggleNotesMuted:
		s.IsNotesMuted = !s.IsNotesMuted
	case ToggleCountdown:
		s.IsCountdownEnabled = !s.IsCountdownEnabled
	case SetNoteVolume:
		s.NoteVolume = clamp01(a.Volume)
	case SetMetronomeVolume:
		s.MetronomeVolume = clamp01(a.Volume)
	case SetAudioReady:
		s.IsAudioReady = a.Ready
	}
	return s, true
}

func resetNote(s Snapshot) Snapshot {
	s.CurrentNoteIndex = -1
	s.CurrentBeat = -1
	s.CurrentTriplet = -1
	s.CurrentMeasure = 0
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Subscriber observes every accepted action.
type Subscriber func(prev, next Snapshot, a Action)

type StoreOption func(*Store)

func WithLogger(l logrus.FieldLogger) StoreOption {
	return func(s *Store) { s.log = l }
}

// WithCountdownSeconds sets the value seeded on entering Countdown. Zero
// is allowed and makes the countdown complete at once.
func WithCountdownSeconds(n int) StoreOption {
	return func(s *Store) {
		if n >= 0 {
			s.countdownSeconds = n
		}
	}
}

// WithInitial replaces the starting snapshot, typically with settings
// loaded from configuration. The status is always Idle.
func WithInitial(snap Snapshot) StoreOption {
	return func(s *Store) {
		snap = resetNote(snap)
		snap.Status = Idle
		snap.Countdown = 0
		snap.Tempo = pattern.ClampTempo(snap.Tempo)
		s.state = snap
	}
}

// Store is the single owner of Snapshot. It is safe for concurrent use.
// Subscribers see accepted actions in the order the store applied them:
// whichever dispatching goroutine finds no delivery in progress drains the
// queue, outside the lock, until it is empty. A dispatch made while another
// goroutine (or a subscriber) is delivering returns before its own
// notification runs.
type Store struct {
	log              logrus.FieldLogger
	countdownSeconds int

	mu       sync.Mutex
	state    Snapshot
	subs     map[int]Subscriber
	nextID   int
	pending  []notification
	draining bool
}

type notification struct {
	prev, next Snapshot
	action     Action
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		log:              logrus.StandardLogger(),
		countdownSeconds: DefaultCountdownSeconds,
		state:            InitialSnapshot(),
		subs:             map[int]Subscriber{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch reduces a into the store. Rejected transitions are logged and
// reported as false.
func (s *Store) Dispatch(a Action) bool {
	s.mu.Lock()
	prev := s.state
	next, ok := Reduce(prev, a, s.countdownSeconds)
	if !ok {
		s.mu.Unlock()
		if t, isTransition := a.(Transition); isTransition {
			s.log.WithFields(logrus.Fields{"state": prev.Status, "event": t.Event}).Warn("invalid transition")
		}
		return false
	}
	s.state = next
	s.pending = append(s.pending, notification{prev: prev, next: next, action: a})
	if s.draining {
		s.mu.Unlock()
		return true
	}
	s.draining = true
	s.drainLocked()
	return true
}

// drainLocked delivers queued notifications in order. It is entered with
// mu held and returns with mu released.
func (s *Store) drainLocked() {
	for len(s.pending) > 0 {
		n := s.pending[0]
		s.pending[0] = notification{}
		s.pending = s.pending[1:]
		subs := make([]Subscriber, 0, len(s.subs))
		for id := 0; id < s.nextID; id++ {
			if fn, found := s.subs[id]; found {
				subs = append(subs, fn)
			}
		}
		s.mu.Unlock()
		s.deliver(subs, n)
		s.mu.Lock()
	}
	s.pending = nil
	s.draining = false
	s.mu.Unlock()
}

func (s *Store) deliver(subs []Subscriber, n notification) {
	defer func() {
		if r := recover(); r != nil {
			// The next dispatch resumes delivery.
			s.mu.Lock()
			s.draining = false
			s.mu.Unlock()
			panic(r)
		}
	}()
	for _, fn := range subs {
		fn(n.prev, n.next, n.action)
	}
}

// Send is shorthand for dispatching a Transition.
func (s *Store) Send(e Event) bool {
	return s.Dispatch(Transition{Event: e})
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
