// Package metronome runs a timer-driven hi-hat click with an optional
// count-in. It tolerates looser timing than note playback, so it ticks off
// a plain timer chain instead of polling the audio clock.
package metronome

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/fretpulse-go/internal/pattern"
)

const (
	DefaultTempo       = 100
	DefaultBeatsPerBar = 4
	DefaultPreRollBars = 1
)

// Clock supplies the audio time clicks are scheduled at.
type Clock interface {
	Now() float64
}

// HiHat sounds one click.
type HiHat interface {
	PlayHiHat(at float64, accent, preRoll bool) bool
}

type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

// Beat describes one click as it fires.
type Beat struct {
	InBar   int // 1-based
	Accent  bool
	PreRoll bool
}

type Option func(*Metronome)

func WithTempo(bpm int) Option { return func(m *Metronome) { m.tempo = pattern.ClampTempo(bpm) } }

func WithBeatsPerBar(n int) Option {
	return func(m *Metronome) {
		if n > 0 {
			m.beatsPerBar = n
		}
	}
}

// WithPreRollBars sets the count-in length. With zero bars a pre-roll start
// completes before the first click.
func WithPreRollBars(n int) Option {
	return func(m *Metronome) {
		if n >= 0 {
			m.preRollBars = n
		}
	}
}

func WithAfterFunc(fn AfterFunc) Option { return func(m *Metronome) { m.after = fn } }

func WithLogger(l logrus.FieldLogger) Option { return func(m *Metronome) { m.log = l } }

// WithBeatListener is called, without the lock, after every click.
func WithBeatListener(fn func(Beat)) Option { return func(m *Metronome) { m.onBeat = fn } }

// Status is a point-in-time view of the metronome.
type Status struct {
	Running          bool
	PreRoll          bool
	CurrentBeat      int // 1-based beat in bar; 0 when idle
	PreRollRemaining int
	PreRollTotal     int
	Tempo            int
	BeatsPerBar      int
}

type Metronome struct {
	clock  Clock
	hihat  HiHat
	after  AfterFunc
	log    logrus.FieldLogger
	onBeat func(Beat)

	mu           sync.Mutex
	tempo        int
	beatsPerBar  int
	preRollBars  int
	running      bool
	preRoll      bool
	beatCount    int
	preRollCount int
	currentBeat  int
	remaining    int
	onPreRoll    func()
	timer        Timer
	gen          uint64
}

func New(clock Clock, hihat HiHat, opts ...Option) *Metronome {
	m := &Metronome{
		clock:       clock,
		hihat:       hihat,
		tempo:       DefaultTempo,
		beatsPerBar: DefaultBeatsPerBar,
		preRollBars: DefaultPreRollBars,
		log:         logrus.StandardLogger(),
		after: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Metronome) SetTempo(bpm int) {
	m.mu.Lock()
	m.tempo = pattern.ClampTempo(bpm)
	m.mu.Unlock()
}

func (m *Metronome) SetBeatsPerBar(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.beatsPerBar = n
	m.mu.Unlock()
}

func (m *Metronome) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Running:          m.running,
		PreRoll:          m.preRoll,
		CurrentBeat:      m.currentBeat,
		PreRollRemaining: m.remaining,
		PreRollTotal:     m.beatsPerBar * m.preRollBars,
		Tempo:            m.tempo,
		BeatsPerBar:      m.beatsPerBar,
	}
}

// Start clicks immediately and keeps clicking every beat. With a pre-roll,
// onPreRollComplete is called once, right after the last count-in click.
func (m *Metronome) Start(withPreRoll bool, onPreRollComplete func()) {
	m.mu.Lock()
	m.resetLocked()
	m.running = true
	var immediate func()
	if withPreRoll {
		if m.preRollBars > 0 {
			m.preRoll = true
			m.remaining = m.beatsPerBar * m.preRollBars
			m.onPreRoll = onPreRollComplete
		} else {
			immediate = onPreRollComplete
		}
	}
	m.gen++
	gen := m.gen
	m.log.WithFields(logrus.Fields{"tempo": m.tempo, "preRoll": withPreRoll}).Debug("metronome started")
	m.mu.Unlock()
	if immediate != nil {
		immediate()
	}
	m.tick(gen)
}

// StartForPlayback joins a performance already elapsed seconds in, waiting
// for the next beat boundary before the first click.
func (m *Metronome) StartForPlayback(elapsed float64) {
	if elapsed < 0 {
		elapsed = 0
	}
	m.mu.Lock()
	m.resetLocked()
	m.running = true
	spb := 60.0 / float64(m.tempo)
	beats := elapsed / spb
	next := math.Ceil(beats - 1e-9)
	m.beatCount = int(next)
	m.currentBeat = m.beatCount%m.beatsPerBar + 1
	delay := (next*spb - elapsed)
	if delay < 0 {
		delay = 0
	}
	m.gen++
	gen := m.gen
	m.timer = m.after(seconds(delay), func() { m.tick(gen) })
	m.mu.Unlock()
}

// Stop cancels the click chain. A pending pre-roll callback never fires.
func (m *Metronome) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Metronome) resetLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	m.running = false
	m.preRoll = false
	m.beatCount = 0
	m.preRollCount = 0
	m.currentBeat = 0
	m.remaining = 0
	m.onPreRoll = nil
}

func (m *Metronome) tick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.running {
		m.mu.Unlock()
		return
	}
	var beat Beat
	var done func()
	if m.preRoll {
		total := m.beatsPerBar * m.preRollBars
		beat = Beat{InBar: m.preRollCount%m.beatsPerBar + 1, PreRoll: true}
		beat.Accent = beat.InBar == 1
		m.preRollCount++
		m.remaining = total - m.preRollCount
		m.currentBeat = beat.InBar
		if m.preRollCount >= total {
			m.preRoll = false
			m.beatCount = 0
			done = m.onPreRoll
			m.onPreRoll = nil
		}
	} else {
		inBar := m.beatCount % m.beatsPerBar
		beat = Beat{InBar: inBar + 1, Accent: inBar == 0}
		m.currentBeat = beat.InBar
		m.beatCount++
	}
	if m.hihat != nil {
		m.hihat.PlayHiHat(m.clock.Now(), beat.Accent, beat.PreRoll)
	}
	m.timer = m.after(seconds(60.0/float64(m.tempo)), func() { m.tick(gen) })
	m.mu.Unlock()

	if m.onBeat != nil {
		m.onBeat(beat)
	}
	if done != nil {
		m.log.Debug("pre-roll complete")
		done()
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
