// Package midi reconstructs and decodes a raw MIDI byte stream that arrives
// over an unreliable, packet-oriented transport.
// The package provides:
// - Reassembler: turns arbitrarily fragmented datagram payloads back into
//   correctly segmented raw MIDI messages, including running-status expansion
// - Decode: maps a raw message to a discrete Event
// - Decoder: a pull-based, lazy, unbounded sequence of decoded events
package midi

import (
	"fmt"
	"math"
)

// Kind identifies the variant of an Event.
// The set of kinds is closed; consumers switch over it exhaustively.
type Kind uint8

const (
	// KindNoteOn is a channel-voice Note On with non-zero velocity.
	KindNoteOn Kind = iota

	// KindNoteOff is a channel-voice Note Off. A Note On with velocity 0 is
	// normalized to this kind during decoding.
	KindNoteOff

	// KindControlChange is a channel-voice Control Change.
	KindControlChange

	// KindUnknown carries raw bytes of a message family the decoder does not
	// interpret. Unknown events are forwarded for diagnostics and display but
	// never reach the synthesis voices.
	KindUnknown
)

// String returns the kind name for logs and display.
func (k Kind) String() string {
	switch k {
	case KindNoteOn:
		return "NoteOn"
	case KindNoteOff:
		return "NoteOff"
	case KindControlChange:
		return "ControlChange"
	case KindUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Event is one decoded MIDI event. Events are immutable values and are freely
// copied across goroutine boundaries.
//
// Field validity depends on Kind:
// - NoteOn/NoteOff: Channel, Note, Velocity
// - ControlChange: Channel, Controller, Value
// - Unknown: Raw (the undecoded message bytes)
type Event struct {
	Kind       Kind
	Channel    uint8 // 0-15
	Note       uint8 // 0-127
	Velocity   uint8 // 0-127
	Controller uint8 // 0-127
	Value      uint8 // 0-127
	Raw        []byte
}

// String formats the event for logs and the note display.
func (e Event) String() string {
	switch e.Kind {
	case KindNoteOn:
		return fmt.Sprintf("NoteOn ch=%d note=%s vel=%d", e.Channel, NoteName(e.Note), e.Velocity)
	case KindNoteOff:
		return fmt.Sprintf("NoteOff ch=%d note=%s vel=%d", e.Channel, NoteName(e.Note), e.Velocity)
	case KindControlChange:
		return fmt.Sprintf("CC ch=%d cc=%d val=%d", e.Channel, e.Controller, e.Value)
	default:
		return fmt.Sprintf("Unknown % X", e.Raw)
	}
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName returns the conventional name of a MIDI note number,
// e.g. 60 -> "C4", 69 -> "A4".
func NoteName(note uint8) string {
	octave := int(note)/12 - 1
	return fmt.Sprintf("%s%d", noteNames[note%12], octave)
}

// NoteFrequency returns the equal-temperament frequency in Hz for a MIDI note
// number, with A4 (note 69) at 440 Hz.
func NoteFrequency(note uint8) float64 {
	return 440.0 * math.Exp2((float64(note)-69.0)/12.0)
}
