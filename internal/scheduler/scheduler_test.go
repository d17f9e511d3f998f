package scheduler

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/cbegin/fretpulse-go/internal/pattern"
)

const eps = 1e-9

type manualClock struct {
	mu  sync.Mutex
	now float64
}

func (c *manualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t float64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingSink struct {
	notes   []pattern.NoteEvent
	times   []float64
	visuals []Scheduled
	panicAt int
}

func (r *recordingSink) ScheduleNote(n pattern.NoteEvent, at float64) {
	if r.panicAt > 0 && len(r.notes)+1 == r.panicAt {
		panic("sink failure")
	}
	r.notes = append(r.notes, n)
	r.times = append(r.times, at)
}

func (r *recordingSink) Schedule(index int, at float64) {
	r.visuals = append(r.visuals, Scheduled{Index: index, At: at})
}

func (r *recordingSink) indexes() []int {
	out := make([]int, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Index
	}
	return out
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func newTestScheduler(clock *manualClock, sink *recordingSink, onComplete func()) *Scheduler {
	return New(clock, Options{
		Interval:   time.Hour, // pumps are driven by the test
		Notes:      sink,
		Visual:     sink,
		OnComplete: onComplete,
		Logger:     quietLogger(),
	})
}

func warmup(t *testing.T) *pattern.Pattern {
	t.Helper()
	p, err := pattern.Builtin("warmup")
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	return p
}

func TestConcreteTripletScenario(t *testing.T) {
	clock := &manualClock{now: 10}
	sink := &recordingSink{}
	s := newTestScheduler(clock, sink, nil)
	s.Start(warmup(t), 120, true)
	defer s.Stop()

	if len(sink.notes) != 0 {
		t.Fatalf("nothing is due inside the first window, got %d notes", len(sink.notes))
	}
	clock.Set(10.6)
	s.Pump()
	want := []float64{10.1, 10.1 + 1.0/6, 10.1 + 2.0/6, 10.6}
	if len(sink.times) != len(want) {
		t.Fatalf("scheduled %d notes (%v), want %d", len(sink.times), sink.times, len(want))
	}
	for i := range want {
		if math.Abs(sink.times[i]-want[i]) > eps {
			t.Fatalf("note %d at %v, want %v", i, sink.times[i], want[i])
		}
	}
	labels := []string{"E/0", "E/4", "A/2", "D/1"}
	for i, n := range sink.notes {
		if n.Label() != labels[i] {
			t.Fatalf("note %d = %s, want %s", i, n.Label(), labels[i])
		}
	}
	if len(sink.visuals) != 4 || sink.visuals[3].At != sink.times[3] {
		t.Fatalf("visual sink should see the same index and time, got %+v", sink.visuals)
	}
}

func TestStartThenStopBeforeWindowSchedulesNothing(t *testing.T) {
	clock := &manualClock{now: 1}
	sink := &recordingSink{}
	s := newTestScheduler(clock, sink, nil)
	s.Start(warmup(t), 100, true)
	clock.Set(1.05)
	s.Stop()
	s.Pump()
	if len(sink.notes) != 0 {
		t.Fatalf("expected zero notes, got %d", len(sink.notes))
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want idle", s.State())
	}
	if c := s.Cursor(); c.Index != 0 {
		t.Fatalf("cursor index = %d, want 0", c.Index)
	}
}

func TestIntervalIndependentOfPumpJitter(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, tempo := range []int{40, 63, 100, 120, 177, 200} {
		for _, npb := range []int{1, 2, 3, 4, 6} {
			clock := &manualClock{}
			sink := &recordingSink{}
			s := newTestScheduler(clock, sink, nil)
			p := pattern.MustNew(pattern.Spec{NotesPerBeat: npb, Notes: []pattern.Note{
				{String: pattern.StringE}, {String: pattern.StringA, Fret: 2}, {String: pattern.StringD, Fret: 4},
			}})
			s.Start(p, tempo, true)
			now := 0.0
			for len(sink.times) < 40 {
				now += 0.001 + rng.Float64()*0.05
				clock.Set(now)
				s.Pump()
			}
			s.Stop()
			want := 60.0 / float64(tempo) / float64(npb)
			for i := 1; i < len(sink.times); i++ {
				if d := sink.times[i] - sink.times[i-1]; math.Abs(d-want) > 1e-9 {
					t.Fatalf("tempo %d npb %d: interval %d = %v, want %v", tempo, npb, i, d, want)
				}
			}
		}
	}
}

func TestEventsQueuedAheadOfClock(t *testing.T) {
	clock := &manualClock{}
	sink := &recordingSink{}
	s := newTestScheduler(clock, sink, nil)
	s.Start(warmup(t), 200, true)
	defer s.Stop()
	for step := 0; step < 200; step++ {
		now := float64(step) * 0.013
		clock.Set(now)
		before := len(sink.times)
		s.Pump()
		for _, at := range sink.times[before:] {
			if at < now {
				t.Fatalf("event at %v queued late (now %v)", at, now)
			}
			if at >= now+DefaultLookahead {
				t.Fatalf("event at %v queued beyond window (now %v)", at, now)
			}
		}
	}
}

func TestLoopingSequenceHasNoSkipsOrDuplicates(t *testing.T) {
	clock := &manualClock{}
	sink := &recordingSink{}
	s := newTestScheduler(clock, sink, nil)
	p := warmup(t)
	s.Start(p, 150, true)
	defer s.Stop()
	now := 0.0
	for len(sink.notes) < 3*p.Len() {
		now += 0.02
		clock.Set(now)
		s.Pump()
	}
	got := sink.indexes()[:3*p.Len()]
	for i, idx := range got {
		if idx != i%p.Len() {
			t.Fatalf("index sequence %v is not three clean passes", got)
		}
	}
}

func TestSingleShotCompletes(t *testing.T) {
	clock := &manualClock{}
	sink := &recordingSink{}
	completed := 0
	s := newTestScheduler(clock, sink, func() { completed++ })
	p := warmup(t)
	s.Start(p, 120, false)
	for now := 0.0; now < 2; now += 0.016 {
		clock.Set(now)
		s.Pump()
	}
	if len(sink.notes) != p.Len() {
		t.Fatalf("scheduled %d notes, want %d", len(sink.notes), p.Len())
	}
	if completed != 1 {
		t.Fatalf("completion signalled %d times, want 1", completed)
	}
	if s.State() != StateIdle || s.Cursor() != (Cursor{}) {
		t.Fatalf("expected idle with reset cursor, got %v %+v", s.State(), s.Cursor())
	}
}

func TestCompletionWaitsForLastNoteToSound(t *testing.T) {
	clock := &manualClock{}
	sink := &recordingSink{}
	completed := 0
	s := newTestScheduler(clock, sink, func() { completed++ })
	s.Start(warmup(t), 120, false)
	clock.Set(0.6)
	s.Pump() // all four queued, last at 0.6
	if len(sink.notes) != 4 {
		t.Fatalf("expected all notes queued, got %d", len(sink.notes))
	}
	if completed != 0 {
		t.Fatalf("completion should wait until the final slot has elapsed")
	}
	clock.Set(0.8)
	s.Pump()
	if completed != 1 {
		t.Fatalf("expected completion once the last slot elapsed")
	}
}

func TestEmptyPatternCompletesImmediately(t *testing.T) {
	clock := &manualClock{}
	sink := &recordingSink{}
	completed := 0
	s := newTestScheduler(clock, sink, func() { completed++ })
	s.Start(pattern.MustNew(pattern.Spec{NotesPerBeat: 3}), 120, true)
	if completed != 1 || s.State() != StateIdle || len(sink.notes) != 0 {
		t.Fatalf("empty pattern should complete at once: completed=%d state=%v", completed, s.State())
	}
}

func TestPauseResumeDoesNotDrift(t *testing.T) {
	clock := &manualClock{}
	sink := &recordingSink{}
	s := newTestScheduler(clock, sink, nil)
	s.Start(warmup(t), 120, true)
	defer s.Stop()
	clock.Set(0.45)
	s.Pump() // 0.1, 0.2667, 0.4333
	if len(sink.times) != 3 {
		t.Fatalf("queued %d notes before pause, want 3", len(sink.times))
	}
	lastBefore := sink.times[2]
	clock.Set(0.5)
	s.Pause()
	if s.State() != StatePaused {
		t.Fatalf("state = %v, want paused", s.State())
	}
	if c := s.Cursor(); c.Index != 3 {
		t.Fatalf("paused cursor index = %d, want 3", c.Index)
	}

	const pausedFor = 1000.0
	clock.Set(0.5 + pausedFor)
	s.Pump()
	if len(sink.times) != 3 {
		t.Fatalf("pump while paused queued notes")
	}
	s.Resume()
	clock.Set(0.5 + pausedFor + 0.2)
	s.Pump()
	if len(sink.times) < 4 {
		t.Fatalf("expected notes after resume")
	}
	if sink.notes[3].Index != 3 {
		t.Fatalf("resumed at index %d, want 3", sink.notes[3].Index)
	}
	gap := sink.times[3] - lastBefore - pausedFor
	if math.Abs(gap-1.0/6) > 1e-6 {
		t.Fatalf("musical gap across pause = %v, want %v", gap, 1.0/6)
	}
}

func TestLiveTempoChangeAffectsOnlyFutureIntervals(t *testing.T) {
	clock := &manualClock{}
	sink := &recordingSink{}
	s := newTestScheduler(clock, sink, nil)
	s.Start(warmup(t), 60, true) // slot = 1/3 s
	defer s.Stop()
	clock.Set(0.05)
	s.Pump() // queues the note at 0.1
	committed := append([]float64(nil), sink.times...)
	s.SetTempo(120) // slot = 1/6 s
	clock.Set(1.0)
	s.Pump()
	for i, at := range committed {
		if sink.times[i] != at {
			t.Fatalf("committed time %d moved from %v to %v", i, at, sink.times[i])
		}
	}
	// The interval after the first note was computed at 60bpm.
	if d := sink.times[1] - sink.times[0]; math.Abs(d-1.0/3) > eps {
		t.Fatalf("first interval = %v, want 1/3", d)
	}
	if d := sink.times[2] - sink.times[1]; math.Abs(d-1.0/6) > eps {
		t.Fatalf("second interval = %v, want 1/6", d)
	}
}

func TestLoopToggleIsReadLive(t *testing.T) {
	clock := &manualClock{}
	sink := &recordingSink{}
	completed := 0
	s := newTestScheduler(clock, sink, func() { completed++ })
	p := warmup(t)
	s.Start(p, 120, true)
	clock.Set(0.3)
	s.Pump()
	s.SetLoop(false)
	for now := 0.3; now < 3; now += 0.016 {
		clock.Set(now)
		s.Pump()
	}
	if len(sink.notes) != p.Len() || completed != 1 {
		t.Fatalf("expected one pass then completion, got %d notes, %d completions", len(sink.notes), completed)
	}
}

func TestPumpFailureLeavesSchedulerRestartable(t *testing.T) {
	log, hook := test.NewNullLogger()
	clock := &manualClock{}
	sink := &recordingSink{panicAt: 2}
	completed := 0
	s := New(clock, Options{Interval: time.Hour, Notes: sink, OnComplete: func() { completed++ }, Logger: log})
	s.Start(warmup(t), 120, true)
	clock.Set(1)
	s.Pump()
	if s.State() != StateIdle || completed != 1 {
		t.Fatalf("expected stop and completion after failure, state=%v completed=%d", s.State(), completed)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != logrus.ErrorLevel {
		t.Fatalf("expected failure to be logged at error level")
	}
	sink.panicAt = 0
	s.Start(warmup(t), 120, true)
	clock.Set(2)
	s.Pump()
	if len(sink.notes) < 2 {
		t.Fatalf("scheduler should run again after restart")
	}
	s.Stop()
}

func TestRecentKeepsNewestEvents(t *testing.T) {
	clock := &manualClock{}
	sink := &recordingSink{}
	s := newTestScheduler(clock, sink, nil)
	s.Start(warmup(t), 200, true)
	defer s.Stop()
	clock.Set(30)
	s.Pump()
	recent := s.Recent()
	if len(recent) != defaultHistory {
		t.Fatalf("recent length = %d, want %d", len(recent), defaultHistory)
	}
	last := sink.times[len(sink.times)-1]
	if recent[len(recent)-1].At != last {
		t.Fatalf("newest recent = %v, want %v", recent[len(recent)-1].At, last)
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].At <= recent[i-1].At {
			t.Fatalf("recent not in time order at %d", i)
		}
	}
}

func TestBackgroundPumpRuns(t *testing.T) {
	clock := &manualClock{}
	var mu sync.Mutex
	count := 0
	sink := &countingSink{mu: &mu, n: &count}
	s := New(clock, Options{Interval: time.Millisecond, Notes: sink, Logger: quietLogger()})
	s.Start(warmup(t), 120, true)
	clock.Set(5)
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		c := count
		mu.Unlock()
		if c > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background pump never ran")
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()
}

type countingSink struct {
	mu *sync.Mutex
	n  *int
}

func (c *countingSink) ScheduleNote(pattern.NoteEvent, float64) {
	c.mu.Lock()
	*c.n++
	c.mu.Unlock()
}
