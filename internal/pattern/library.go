package pattern

import (
	"fmt"
	"sort"
)

func notes(s StringID, frets ...int) []Note {
	out := make([]Note, len(frets))
	for i, f := range frets {
		out[i] = Note{String: s, Fret: f}
	}
	return out
}

func concat(parts ...[]Note) []Note {
	var out []Note
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var builtins = map[string]Spec{
	"warmup": {
		Name:         "Warm-up",
		Root:         "E",
		NotesPerBeat: 3,
		Notes: concat(
			notes(StringE, 0, 4),
			notes(StringA, 2),
			notes(StringD, 1),
		),
	},
	"e-minor-pentatonic": {
		Name:         "E minor pentatonic triplets",
		Root:         "E",
		NotesPerBeat: 3,
		Notes: concat(
			notes(StringE, 0, 3),
			notes(StringA, 0, 2),
			notes(StringD, 0, 2),
			notes(StringG, 0, 2),
			notes(StringG, 0),
			notes(StringD, 2, 0),
			notes(StringA, 2),
		),
	},
	"a-major-arpeggio": {
		Name:         "A major arpeggio",
		Root:         "A",
		NotesPerBeat: 3,
		Notes: concat(
			notes(StringA, 0, 4),
			notes(StringD, 2, 7),
			notes(StringG, 6, 9, 9, 6),
			notes(StringD, 7, 2),
			notes(StringA, 4, 0),
		),
	},
	"root-fifth-octave": {
		Name:         "Root, fifth, octave",
		Root:         "A",
		NotesPerBeat: 2,
		Notes: concat(
			notes(StringA, 0),
			notes(StringD, 2),
			notes(StringG, 2),
			notes(StringD, 2),
			notes(StringA, 5),
			notes(StringD, 7),
			notes(StringG, 7),
			notes(StringD, 7),
		),
	},
}

// Builtin returns one of the built-in exercises by key.
func Builtin(key string) (*Pattern, error) {
	spec, ok := builtins[key]
	if !ok {
		return nil, fmt.Errorf("unknown exercise %q", key)
	}
	return New(spec)
}

// Library lists the keys of the built-in exercises in sorted order.
func Library() []string {
	keys := make([]string, 0, len(builtins))
	for k := range builtins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
