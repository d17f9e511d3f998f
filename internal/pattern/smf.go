package pattern

import (
	"fmt"
	"io"
	"math"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// TicksPerQuarter is the SMF resolution used by WriteSMF.
const TicksPerQuarter = 960

// WriteSMF writes the pattern as a type-1 Standard MIDI File at the given
// tempo, repeated loops times. Each note sounds for one slot.
func (p *Pattern) WriteSMF(w io.Writer, tempo int, loops int) error {
	if loops < 1 {
		loops = 1
	}
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(TicksPerQuarter)

	var meta smf.Track
	meta.Add(0, smf.MetaTrackSequenceName(p.name))
	meta.Add(0, smf.MetaMeter(uint8(p.beatsPerMeasure), 4))
	meta.Add(0, smf.MetaTempo(float64(tempo)))
	meta.Close(0)
	if err := sm.Add(meta); err != nil {
		return fmt.Errorf("cannot add tempo track: %w", err)
	}

	slot := uint32(math.Round(float64(TicksPerQuarter) / float64(p.notesPerBeat)))
	if slot < 2 {
		slot = 2
	}
	var track smf.Track
	var rest uint32
	for loop := 0; loop < loops; loop++ {
		for _, n := range p.notes {
			key := n.MIDIKey()
			track.Add(rest, midi.NoteOn(0, key, velocityFor(n.Technique)))
			track.Add(slot-1, midi.NoteOff(0, key))
			rest = 1
		}
	}
	track.Close(rest)
	if err := sm.Add(track); err != nil {
		return fmt.Errorf("cannot add note track: %w", err)
	}
	if _, err := sm.WriteTo(w); err != nil {
		return fmt.Errorf("cannot write midi file: %w", err)
	}
	return nil
}

func velocityFor(t Technique) uint8 {
	switch t {
	case TechniqueSlap, TechniquePop:
		return 120
	case TechniqueMute:
		return 60
	case TechniqueHammer, TechniquePull, TechniqueSlide:
		return 85
	default:
		return 100
	}
}
