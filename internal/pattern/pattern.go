package pattern

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	MinFret = 0
	MaxFret = 24

	DefaultBeatsPerMeasure = 4
)

var (
	ErrInvalidFret        = errors.New("fret out of range")
	ErrInvalidSubdivision = errors.New("notesPerBeat must be at least 1")
	ErrUnknownString      = errors.New("unknown string")
	ErrUnknownTechnique   = errors.New("unknown technique")
)

// StringID names an open bass string.
type StringID string

const (
	StringB StringID = "B"
	StringE StringID = "E"
	StringA StringID = "A"
	StringD StringID = "D"
	StringG StringID = "G"
)

// StringOrder is the top-to-bottom display order used by tablature views.
var StringOrder = []StringID{StringG, StringD, StringA, StringE, StringB}

var openStrings = map[StringID]struct {
	freq float64
	key  uint8
}{
	StringB: {30.87, 23},
	StringE: {41.2, 28},
	StringA: {55.0, 33},
	StringD: {73.42, 38},
	StringG: {98.0, 43},
}

// Frequency returns the open-string frequency in Hz.
func (s StringID) Frequency() (float64, bool) {
	o, ok := openStrings[s]
	return o.freq, ok
}

// MIDIKey returns the MIDI key number of the open string.
func (s StringID) MIDIKey() (uint8, bool) {
	o, ok := openStrings[s]
	return o.key, ok
}

func ParseString(name string) (StringID, error) {
	id := StringID(strings.ToUpper(strings.TrimSpace(name)))
	if _, ok := openStrings[id]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownString, name)
	}
	return id, nil
}

type Technique int

const (
	TechniqueNormal Technique = iota
	TechniqueSlap
	TechniquePop
	TechniqueHammer
	TechniquePull
	TechniqueSlide
	TechniqueMute
	TechniqueHarmonic
)

var techniqueNames = [...]string{"normal", "slap", "pop", "hammer", "pull", "slide", "mute", "harmonic"}

func (t Technique) String() string {
	if t < 0 || int(t) >= len(techniqueNames) {
		return fmt.Sprintf("Technique(%d)", int(t))
	}
	return techniqueNames[t]
}

// ParseTechnique maps a technique name to its value. An empty name is normal.
func ParseTechnique(name string) (Technique, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return TechniqueNormal, nil
	}
	for i, n := range techniqueNames {
		if n == name {
			return Technique(i), nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownTechnique, name)
}

// ParseNote reads the short form "A/2" or "A/2:slap" used by exercise
// files and the command line.
func ParseNote(text string) (Note, error) {
	body, tech, _ := strings.Cut(strings.TrimSpace(text), ":")
	str, fret, ok := strings.Cut(body, "/")
	if !ok {
		return Note{}, fmt.Errorf("note %q: want STRING/FRET", text)
	}
	id, err := ParseString(str)
	if err != nil {
		return Note{}, err
	}
	f, err := strconv.Atoi(strings.TrimSpace(fret))
	if err != nil {
		return Note{}, fmt.Errorf("note %q: %w", text, err)
	}
	if f < MinFret || f > MaxFret {
		return Note{}, fmt.Errorf("note %q: %w", text, ErrInvalidFret)
	}
	t, err := ParseTechnique(tech)
	if err != nil {
		return Note{}, err
	}
	return Note{String: id, Fret: f, Technique: t}, nil
}

// NoteEvent is one slot of a pattern. Values are immutable once the
// pattern is built.
type NoteEvent struct {
	Index         int
	String        StringID
	Fret          int
	Technique     Technique
	DurationBeats float64
}

// Frequency returns the equal-tempered pitch of the note in Hz.
func (n NoteEvent) Frequency() float64 {
	base, _ := n.String.Frequency()
	return base * math.Pow(2, float64(n.Fret)/12)
}

// MIDIKey returns the MIDI key number for the fretted note.
func (n NoteEvent) MIDIKey() uint8 {
	key, _ := n.String.MIDIKey()
	return key + uint8(n.Fret)
}

// Label formats the note the way tablature cells are written, e.g. "A/2".
func (n NoteEvent) Label() string {
	return fmt.Sprintf("%s/%d", n.String, n.Fret)
}

// Note is the input form of a NoteEvent before it is indexed into a pattern.
type Note struct {
	String        StringID
	Fret          int
	Technique     Technique
	DurationBeats float64
}

// Spec describes a pattern to build.
type Spec struct {
	Name            string
	Root            string
	NotesPerBeat    int
	BeatsPerMeasure int // 0 means 4
	Notes           []Note
}

// Pattern is an ordered, finite sequence of note events shared read-only
// between the UI and the scheduler for one playback session.
type Pattern struct {
	name            string
	root            string
	notesPerBeat    int
	beatsPerMeasure int
	notes           []NoteEvent
}

func New(spec Spec) (*Pattern, error) {
	if spec.NotesPerBeat < 1 {
		return nil, ErrInvalidSubdivision
	}
	bpm := spec.BeatsPerMeasure
	if bpm <= 0 {
		bpm = DefaultBeatsPerMeasure
	}
	notes := make([]NoteEvent, len(spec.Notes))
	for i, n := range spec.Notes {
		if _, ok := n.String.Frequency(); !ok {
			return nil, fmt.Errorf("note %d: %w %q", i+1, ErrUnknownString, n.String)
		}
		if n.Fret < MinFret || n.Fret > MaxFret {
			return nil, fmt.Errorf("note %d: %w: %d", i+1, ErrInvalidFret, n.Fret)
		}
		if n.Technique < TechniqueNormal || n.Technique > TechniqueHarmonic {
			return nil, fmt.Errorf("note %d: %w %d", i+1, ErrUnknownTechnique, int(n.Technique))
		}
		dur := n.DurationBeats
		if dur <= 0 {
			dur = 1
		}
		notes[i] = NoteEvent{
			Index:         i,
			String:        n.String,
			Fret:          n.Fret,
			Technique:     n.Technique,
			DurationBeats: dur,
		}
	}
	return &Pattern{
		name:            spec.Name,
		root:            spec.Root,
		notesPerBeat:    spec.NotesPerBeat,
		beatsPerMeasure: bpm,
		notes:           notes,
	}, nil
}

// MustNew is like New but panics on an invalid spec. Intended for
// package-level exercise tables.
func MustNew(spec Spec) *Pattern {
	p, err := New(spec)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) Name() string         { return p.name }
func (p *Pattern) Root() string         { return p.root }
func (p *Pattern) NotesPerBeat() int    { return p.notesPerBeat }
func (p *Pattern) BeatsPerMeasure() int { return p.beatsPerMeasure }
func (p *Pattern) Len() int             { return len(p.notes) }

// NotesPerMeasure is the number of slots in one measure.
func (p *Pattern) NotesPerMeasure() int { return p.notesPerBeat * p.beatsPerMeasure }

// At returns the note at index i. It panics if i is out of range.
func (p *Pattern) At(i int) NoteEvent { return p.notes[i] }

// Notes returns a copy of the note events.
func (p *Pattern) Notes() []NoteEvent {
	return append([]NoteEvent(nil), p.notes...)
}

// SlotSeconds returns the time between consecutive notes at the given tempo.
func (p *Pattern) SlotSeconds(tempo int) float64 {
	return SlotSeconds(tempo, p.notesPerBeat)
}

// SlotSeconds computes (60 / tempo) / notesPerBeat.
func SlotSeconds(tempo int, notesPerBeat int) float64 {
	if tempo <= 0 || notesPerBeat <= 0 {
		return 0
	}
	return (60.0 / float64(tempo)) / float64(notesPerBeat)
}

// Duration returns the length of one pass through the pattern in seconds.
func (p *Pattern) Duration(tempo int) float64 {
	return float64(len(p.notes)) * p.SlotSeconds(tempo)
}

// Tempo bounds in beats per minute.
const (
	MinTempo = 40
	MaxTempo = 200
)

// ClampTempo limits bpm to [MinTempo, MaxTempo].
func ClampTempo(bpm int) int {
	if bpm < MinTempo {
		return MinTempo
	}
	if bpm > MaxTempo {
		return MaxTempo
	}
	return bpm
}
