package midi

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genMessage generates one well-formed channel-voice message in scope of the
// decoder: Note Off, Note On or Control Change.
func genMessage() gopter.Gen {
	return gopter.CombineGens(
		gen.UInt8Range(0, 2),   // family selector
		gen.UInt8Range(0, 15),  // channel
		gen.UInt8Range(0, 127), // data 1
		gen.UInt8Range(0, 127), // data 2
	).Map(func(vs []interface{}) []byte {
		family := []byte{statusNoteOff, statusNoteOn, statusControlChange}[vs[0].(uint8)]
		status := family | vs[1].(uint8)
		return []byte{status, vs[2].(uint8), vs[3].(uint8)}
	})
}

func decodeAll(r *Reassembler, frags [][]byte) []Event {
	var events []Event
	for _, frag := range frags {
		for _, raw := range r.Push(frag) {
			events = append(events, Decode(raw))
		}
	}
	return events
}

func eventsEqual(a, b []Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind != b[i].Kind ||
			a[i].Channel != b[i].Channel ||
			a[i].Note != b[i].Note ||
			a[i].Velocity != b[i].Velocity ||
			a[i].Controller != b[i].Controller ||
			a[i].Value != b[i].Value {
			return false
		}
	}
	return true
}

// TestFragmentationInvarianceProperty checks that for any sequence of valid
// messages split at arbitrary byte offsets across arbitrarily many fragments,
// the decoded event sequence equals the one produced when the same bytes
// arrive as a single fragment.
func TestFragmentationInvarianceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("fragment boundaries never change the decoded events", prop.ForAll(
		func(msgs [][]byte, cuts []int) bool {
			var stream []byte
			for _, m := range msgs {
				stream = append(stream, m...)
			}

			// One single fragment.
			var whole Reassembler
			want := decodeAll(&whole, [][]byte{stream})

			// The same bytes split at the generated offsets.
			var frags [][]byte
			prev := 0
			for _, c := range cuts {
				at := prev
				if len(stream) > 0 {
					at = prev + c%(len(stream)-prev+1)
				}
				frags = append(frags, stream[prev:at])
				prev = at
			}
			frags = append(frags, stream[prev:])

			var split Reassembler
			got := decodeAll(&split, frags)

			return eventsEqual(want, got)
		},
		gen.SliceOf(genMessage()),
		gen.SliceOf(gen.IntRange(0, 1<<20)),
	))

	properties.Property("arbitrary junk never panics and never leaves the stream stuck", prop.ForAll(
		func(junk []byte) bool {
			var r Reassembler
			r.Push(junk)
			// A clean message must still decode after any junk prefix.
			msgs := r.Push([]byte{0x90, 60, 100})
			if len(msgs) == 0 {
				return false
			}
			last := Decode(msgs[len(msgs)-1])
			return last.Kind == KindNoteOn && last.Note == 60
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
