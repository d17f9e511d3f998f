// Package visual defers "now playing" notifications until the audio clock
// reaches the time each note was scheduled for.
package visual

import (
	"sync"
	"time"
)

// Clock is the audio clock the bridge measures delays against.
type Clock interface {
	Now() float64
}

// Timer is a pending deferred call.
type Timer interface {
	Stop() bool
}

// AfterFunc runs f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

type Option func(*Bridge)

// WithAfterFunc replaces the timer primitive, mainly for tests.
func WithAfterFunc(fn AfterFunc) Option {
	return func(b *Bridge) { b.after = fn }
}

// WithActive adds a predicate consulted at fire time in addition to the
// bridge's own Start/Stop state.
func WithActive(fn func() bool) Option {
	return func(b *Bridge) { b.active = fn }
}

type Bridge struct {
	clock  Clock
	notify func(index int)
	after  AfterFunc
	active func() bool

	mu      sync.Mutex
	running bool
	gen     uint64
	pending map[uint64]Timer
	nextID  uint64
}

func New(clock Clock, notify func(index int), opts ...Option) *Bridge {
	b := &Bridge{
		clock:   clock,
		notify:  notify,
		pending: map[uint64]Timer{},
		after: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start enables delivery of notifications scheduled from now on.
func (b *Bridge) Start() {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
}

// Stop suppresses every notification still pending and any scheduled later
// until the next Start.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.gen++
	for id, t := range b.pending {
		t.Stop()
		delete(b.pending, id)
	}
}

// Pending reports how many notifications are waiting to fire.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Schedule arranges for index to be reported when the clock reaches at.
func (b *Bridge) Schedule(index int, at float64) {
	delay := at - b.clock.Now()
	if delay < 0 {
		delay = 0
	}
	d := time.Duration(delay * 1000 * float64(time.Millisecond))

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	gen := b.gen
	b.nextID++
	id := b.nextID
	b.pending[id] = b.after(d, func() { b.fire(id, gen, index) })
}

func (b *Bridge) fire(id, gen uint64, index int) {
	b.mu.Lock()
	delete(b.pending, id)
	live := b.running && gen == b.gen
	b.mu.Unlock()
	if !live {
		return
	}
	if b.active != nil && !b.active() {
		return
	}
	if b.notify != nil {
		b.notify(index)
	}
}
