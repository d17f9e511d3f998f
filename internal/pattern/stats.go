package pattern

import "math"

// Stats summarizes an exercise for list and detail views.
type Stats struct {
	TotalNotes       int
	UniqueFrets      int
	StringsUsed      int
	Techniques       []Technique // in order of first appearance
	EstimatedSeconds int
}

func (p *Pattern) Stats(tempo int) Stats {
	frets := make(map[int]struct{})
	strs := make(map[StringID]struct{})
	seen := make(map[Technique]struct{})
	var techniques []Technique
	for _, n := range p.notes {
		frets[n.Fret] = struct{}{}
		strs[n.String] = struct{}{}
		if _, ok := seen[n.Technique]; !ok {
			seen[n.Technique] = struct{}{}
			techniques = append(techniques, n.Technique)
		}
	}
	return Stats{
		TotalNotes:       len(p.notes),
		UniqueFrets:      len(frets),
		StringsUsed:      len(strs),
		Techniques:       techniques,
		EstimatedSeconds: int(math.Round(p.Duration(tempo))),
	}
}
