package pattern

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"gitlab.com/gomidi/midi/v2/smf"
)

func TestNewAssignsIndexesAndDefaults(t *testing.T) {
	p, err := New(Spec{
		Name:         "demo",
		NotesPerBeat: 3,
		Notes:        concat(notes(StringE, 0, 4), notes(StringA, 2), notes(StringD, 1)),
	})
	if err != nil {
		t.Fatalf("new pattern: %v", err)
	}
	if p.Len() != 4 {
		t.Fatalf("len = %d, want 4", p.Len())
	}
	for i, n := range p.Notes() {
		if n.Index != i {
			t.Fatalf("note %d has index %d", i, n.Index)
		}
		if n.DurationBeats != 1 {
			t.Fatalf("note %d duration = %v, want default 1", i, n.DurationBeats)
		}
	}
	if p.BeatsPerMeasure() != 4 {
		t.Fatalf("beatsPerMeasure = %d, want default 4", p.BeatsPerMeasure())
	}
	if got := p.At(2).Label(); got != "A/2" {
		t.Fatalf("label = %q, want A/2", got)
	}
}

func TestNewRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		want error
	}{
		{"subdivision", Spec{NotesPerBeat: 0}, ErrInvalidSubdivision},
		{"fret high", Spec{NotesPerBeat: 1, Notes: notes(StringE, 25)}, ErrInvalidFret},
		{"fret low", Spec{NotesPerBeat: 1, Notes: notes(StringE, -1)}, ErrInvalidFret},
		{"string", Spec{NotesPerBeat: 1, Notes: notes(StringID("C"), 1)}, ErrUnknownString},
		{"technique", Spec{NotesPerBeat: 1, Notes: []Note{{String: StringE, Technique: Technique(42)}}}, ErrUnknownTechnique},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.spec)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEmptyPatternIsLegal(t *testing.T) {
	p, err := New(Spec{NotesPerBeat: 1})
	if err != nil {
		t.Fatalf("empty pattern: %v", err)
	}
	if p.Len() != 0 || p.Duration(120) != 0 {
		t.Fatalf("expected empty pattern with zero duration")
	}
}

func TestFrequencyFollowsEqualTemperament(t *testing.T) {
	n := NoteEvent{String: StringA, Fret: 12}
	if got := n.Frequency(); math.Abs(got-110) > 1e-9 {
		t.Fatalf("A/12 = %v Hz, want 110", got)
	}
	n = NoteEvent{String: StringE, Fret: 5}
	want := 41.2 * math.Pow(2, 5.0/12)
	if got := n.Frequency(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("E/5 = %v Hz, want %v", got, want)
	}
	if key := (NoteEvent{String: StringA, Fret: 2}).MIDIKey(); key != 35 {
		t.Fatalf("A/2 midi key = %d, want 35", key)
	}
}

func TestSlotSeconds(t *testing.T) {
	if got := SlotSeconds(120, 3); math.Abs(got-1.0/6) > 1e-12 {
		t.Fatalf("slot at 120bpm triplets = %v", got)
	}
	if got := SlotSeconds(0, 3); got != 0 {
		t.Fatalf("zero tempo should give zero slot, got %v", got)
	}
}

func TestParseHelpers(t *testing.T) {
	if tech, err := ParseTechnique("Harmonic"); err != nil || tech != TechniqueHarmonic {
		t.Fatalf("ParseTechnique = %v, %v", tech, err)
	}
	if tech, err := ParseTechnique(""); err != nil || tech != TechniqueNormal {
		t.Fatalf("empty technique = %v, %v", tech, err)
	}
	if _, err := ParseTechnique("tap"); !errors.Is(err, ErrUnknownTechnique) {
		t.Fatalf("expected unknown technique error, got %v", err)
	}
	if s, err := ParseString(" d "); err != nil || s != StringD {
		t.Fatalf("ParseString = %v, %v", s, err)
	}
	if TechniqueSlide.String() != "slide" {
		t.Fatalf("technique name = %q", TechniqueSlide.String())
	}
}

func TestStats(t *testing.T) {
	p := MustNew(Spec{
		NotesPerBeat: 3,
		Notes: []Note{
			{String: StringE, Fret: 0},
			{String: StringE, Fret: 3, Technique: TechniqueHammer},
			{String: StringA, Fret: 0},
			{String: StringA, Fret: 3, Technique: TechniqueHammer},
			{String: StringD, Fret: 2, Technique: TechniqueSlide},
			{String: StringD, Fret: 2},
		},
	})
	st := p.Stats(60)
	if st.TotalNotes != 6 || st.UniqueFrets != 3 || st.StringsUsed != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	want := []Technique{TechniqueNormal, TechniqueHammer, TechniqueSlide}
	if len(st.Techniques) != len(want) {
		t.Fatalf("techniques = %v, want %v", st.Techniques, want)
	}
	for i := range want {
		if st.Techniques[i] != want[i] {
			t.Fatalf("techniques = %v, want %v", st.Techniques, want)
		}
	}
	// 6 notes of triplets at 60bpm = 2 beats = 2 seconds.
	if st.EstimatedSeconds != 2 {
		t.Fatalf("estimated seconds = %d, want 2", st.EstimatedSeconds)
	}
}

func TestBuiltinLibrary(t *testing.T) {
	keys := Library()
	if len(keys) == 0 {
		t.Fatalf("expected built-in exercises")
	}
	for _, k := range keys {
		p, err := Builtin(k)
		if err != nil {
			t.Fatalf("builtin %q: %v", k, err)
		}
		if p.Len() == 0 {
			t.Fatalf("builtin %q is empty", k)
		}
	}
	if _, err := Builtin("nope"); err == nil {
		t.Fatalf("expected error for unknown exercise")
	}
}

func TestWriteSMF(t *testing.T) {
	p, err := Builtin("warmup")
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	var buf bytes.Buffer
	if err := p.WriteSMF(&buf, 120, 2); err != nil {
		t.Fatalf("write smf: %v", err)
	}
	rd, err := smf.ReadFrom(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read smf: %v", err)
	}
	tempos := rd.TempoChanges()
	if len(tempos) == 0 || math.Abs(tempos[0].BPM-120) > 0.01 {
		t.Fatalf("unexpected tempo changes: %+v", tempos)
	}
	var noteOns []uint8
	for _, tr := range rd.Tracks {
		for _, ev := range tr {
			msg := ev.Message
			if len(msg) == 3 && msg[0]&0xF0 == 0x90 && msg[2] > 0 {
				noteOns = append(noteOns, msg[1])
			}
		}
	}
	want := []uint8{28, 32, 35, 39, 28, 32, 35, 39}
	if len(noteOns) != len(want) {
		t.Fatalf("note-ons = %v, want %v", noteOns, want)
	}
	for i := range want {
		if noteOns[i] != want[i] {
			t.Fatalf("note-ons = %v, want %v", noteOns, want)
		}
	}
}

func TestParseNote(t *testing.T) {
	n, err := ParseNote(" a/2:slap ")
	if err != nil || n.String != StringA || n.Fret != 2 || n.Technique != TechniqueSlap {
		t.Fatalf("ParseNote = %+v, %v", n, err)
	}
	if n, err := ParseNote("B/0"); err != nil || n.Technique != TechniqueNormal {
		t.Fatalf("ParseNote(B/0) = %+v, %v", n, err)
	}
	for _, bad := range []string{"E", "X/1", "E/x", "E/25", "E/1:tap"} {
		if _, err := ParseNote(bad); err == nil {
			t.Fatalf("ParseNote(%q) should fail", bad)
		}
	}
	if _, err := ParseNote("E/25"); !errors.Is(err, ErrInvalidFret) {
		t.Fatalf("expected ErrInvalidFret, got %v", err)
	}
}
