package midi

// MIDI channel-voice status families. The low nibble of a status byte is the
// channel; the high nibble selects the family.
const (
	statusNoteOff         = 0x80
	statusNoteOn          = 0x90
	statusPolyAftertouch  = 0xA0
	statusControlChange   = 0xB0
	statusProgramChange   = 0xC0
	statusChannelPressure = 0xD0
	statusPitchBend       = 0xE0
	statusSystem          = 0xF0
)

// RawMessage is one complete, correctly segmented raw MIDI message:
// a status byte followed by its data bytes (system messages may be a single
// status byte). The slice is owned by the receiver of the message.
type RawMessage []byte

// Status returns the status byte of the message.
func (m RawMessage) Status() byte {
	return m[0]
}

// messageLength returns the total byte count (status included) of the message
// family selected by status. Program Change and Channel Pressure carry one
// data byte; the other channel-voice families carry two. System statuses are
// passed through as bare single bytes.
func messageLength(status byte) int {
	switch status & 0xF0 {
	case statusProgramChange, statusChannelPressure:
		return 2
	case statusSystem:
		return 1
	default:
		return 3
	}
}

// Reassembler rebuilds a logically continuous MIDI message stream out of
// datagram payloads with arbitrary boundaries. It holds the per-stream state
// the MIDI wire format requires across fragments: the last status byte seen
// (for running-status expansion) and the prefix of a message that a fragment
// ended in the middle of.
//
// A Reassembler is owned by a single goroutine; it is not safe for concurrent
// use.
type Reassembler struct {
	status  byte   // last channel-voice status byte, 0 until one is seen
	pending []byte // incomplete message prefix carried across fragments
}

// Push consumes one fragment and returns every raw message the fragment
// completes, in stream order. A fragment may complete zero, one or many
// messages; an incomplete tail is carried over into the next Push.
//
// Recovery rules, applied per byte:
// - a status byte that interrupts a pending message discards the pending
//   bytes as malformed and starts a new message
// - a data byte with no message in progress reuses the last status byte
//   (running status); if no status byte has ever been seen the byte is
//   dropped
// - system statuses (>= 0xF0) are emitted immediately as single-byte
//   messages and leave the running status untouched
//
// Malformed input therefore loses at most the bytes up to the next status
// byte and never fails the stream.
func (r *Reassembler) Push(frag []byte) []RawMessage {
	var out []RawMessage
	for _, b := range frag {
		if b >= 0x80 {
			// Status byte. Anything pending is an interrupted message.
			r.pending = r.pending[:0]
			if b >= statusSystem {
				out = append(out, RawMessage{b})
				continue
			}
			r.status = b
			r.pending = append(r.pending, b)
		} else {
			if len(r.pending) == 0 {
				if r.status == 0 {
					// Data byte before any status byte: noise, drop it.
					continue
				}
				// Running status: the omitted status byte is the last one seen.
				r.pending = append(r.pending, r.status)
			}
			r.pending = append(r.pending, b)
		}

		if len(r.pending) == messageLength(r.pending[0]) {
			msg := make(RawMessage, len(r.pending))
			copy(msg, r.pending)
			out = append(out, msg)
			// Keep the status for running-status reuse, reset the accumulator.
			r.pending = r.pending[:0]
		}
	}
	return out
}

// Reset clears all stream state: the running status and any pending partial
// message. Used on an explicit stream desync.
func (r *Reassembler) Reset() {
	r.status = 0
	r.pending = r.pending[:0]
}

// PendingLen returns the number of buffered bytes of an incomplete message.
// Exposed for observability and tests.
func (r *Reassembler) PendingLen() int {
	return len(r.pending)
}
