package synth

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/zurustar/son-net/pkg/midi"
)

// genNoteEvent generates a random note or control event.
func genNoteEvent() gopter.Gen {
	return gopter.CombineGens(
		gen.UInt8Range(0, 2),
		gen.UInt8Range(0, 3),   // channel
		gen.UInt8Range(36, 96), // note
		gen.UInt8Range(1, 127), // velocity / value
	).Map(func(vs []interface{}) midi.Event {
		kind := []midi.Kind{midi.KindNoteOn, midi.KindNoteOff, midi.KindControlChange}[vs[0].(uint8)]
		ev := midi.Event{Kind: kind, Channel: vs[1].(uint8)}
		if kind == midi.KindControlChange {
			ev.Controller = ccSustainPedal
			ev.Value = vs[3].(uint8)
		} else {
			ev.Note = vs[2].(uint8)
			ev.Velocity = vs[3].(uint8)
		}
		return ev
	})
}

// TestAllocatorInvariantsProperty checks the voice pool invariants under any
// event sequence: the number of non-free voices never exceeds the pool
// capacity, no (channel, note) pair ever owns two voices, and no event
// sequence can make allocation fail or panic.
func TestAllocatorInvariantsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("pool capacity and pair uniqueness hold under any event sequence", prop.ForAll(
		func(events []midi.Event, polyphony int) bool {
			e := newTestEngine(polyphony)
			buf := make([]byte, 64*4)

			for i, ev := range events {
				e.apply(ev)

				if e.sounding() > polyphony {
					return false
				}
				pairs := make(map[[2]uint8]int)
				for vi := range e.pool {
					v := &e.pool[vi]
					if v.state == voiceFree {
						continue
					}
					pairs[[2]uint8{v.channel, v.note}]++
				}
				for pair, count := range pairs {
					if count > 1 {
						t.Logf("pair %v owned by %d voices", pair, count)
						return false
					}
				}

				// Render now and then so envelopes advance between events.
				if i%7 == 0 {
					if _, err := e.Read(buf); err != nil {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(genNoteEvent()),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
