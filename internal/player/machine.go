// Package player holds playback state: a pure transition function over
// states and events, and a store that owns the counters the UI displays.
package player

import "fmt"

type State int

const (
	Idle State = iota
	Countdown
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Countdown:
		return "countdown"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Event int

const (
	Play Event = iota
	PlayImmediate
	Pause
	Resume
	Stop
	CountdownTick
	CountdownComplete
)

var eventNames = [...]string{
	Play:              "PLAY",
	PlayImmediate:     "PLAY_IMMEDIATE",
	Pause:             "PAUSE",
	Resume:            "RESUME",
	Stop:              "STOP",
	CountdownTick:     "COUNTDOWN_TICK",
	CountdownComplete: "COUNTDOWN_COMPLETE",
}

// Events lists every event in declaration order.
var Events = []Event{Play, PlayImmediate, Pause, Resume, Stop, CountdownTick, CountdownComplete}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Next returns the state reached by applying e in s. The second result is
// false, and the state is s, when the pair is not a legal transition.
func Next(s State, e Event) (State, bool) {
	switch s {
	case Idle:
		switch e {
		case Play:
			return Countdown, true
		case PlayImmediate:
			return Playing, true
		}
	case Countdown:
		switch e {
		case Stop:
			return Idle, true
		case CountdownTick:
			return Countdown, true
		case CountdownComplete:
			return Playing, true
		}
	case Playing:
		switch e {
		case Pause:
			return Paused, true
		case Stop:
			return Idle, true
		}
	case Paused:
		switch e {
		case Resume:
			return Playing, true
		case Stop:
			return Idle, true
		}
	}
	return s, false
}

func CanTransition(s State, e Event) bool {
	_, ok := Next(s, e)
	return ok
}

// AvailableEvents lists the events accepted in s.
func AvailableEvents(s State) []Event {
	var out []Event
	for _, e := range Events {
		if CanTransition(s, e) {
			out = append(out, e)
		}
	}
	return out
}
