package midi

import (
	"context"
)

// Decode maps one complete raw message to its Event variant.
//
// Note On with velocity 0 is normalized to Note Off, per MIDI convention, so
// downstream voice matching only ever deals with one kind of release. Any
// family outside {Note Off, Note On, Control Change} decodes to Unknown with
// the raw bytes attached.
func Decode(raw RawMessage) Event {
	if len(raw) == 0 {
		return Event{Kind: KindUnknown}
	}
	status := raw.Status()
	channel := status & 0x0F

	switch status & 0xF0 {
	case statusNoteOn:
		if len(raw) < 3 {
			break
		}
		if raw[2] == 0 {
			return Event{Kind: KindNoteOff, Channel: channel, Note: raw[1] & 0x7F}
		}
		return Event{Kind: KindNoteOn, Channel: channel, Note: raw[1] & 0x7F, Velocity: raw[2] & 0x7F}
	case statusNoteOff:
		if len(raw) < 3 {
			break
		}
		return Event{Kind: KindNoteOff, Channel: channel, Note: raw[1] & 0x7F, Velocity: raw[2] & 0x7F}
	case statusControlChange:
		if len(raw) < 3 {
			break
		}
		return Event{Kind: KindControlChange, Channel: channel, Controller: raw[1] & 0x7F, Value: raw[2] & 0x7F}
	}
	return Event{Kind: KindUnknown, Raw: raw}
}

// FragmentSource yields successive datagram payloads in arrival order.
// ReadFragment blocks until a payload is available, the context is cancelled,
// or the transport fails. The returned slice is owned by the caller.
type FragmentSource interface {
	ReadFragment(ctx context.Context) ([]byte, error)
}

// Decoder is the lazy, unbounded, non-restartable sequence of decoded events
// for one listening session. Each Next call either returns the next event or
// blocks pulling more fragments from the source.
//
// The Decoder exclusively owns its Reassembler; it must be driven from a
// single goroutine.
type Decoder struct {
	src   FragmentSource
	re    Reassembler
	queue []RawMessage
}

// NewDecoder returns a Decoder pulling fragments from src.
func NewDecoder(src FragmentSource) *Decoder {
	return &Decoder{src: src}
}

// Next returns the next decoded event. It blocks on the fragment source while
// no complete message is buffered. The only errors it returns are the
// source's own: transport failure or context cancellation. Malformed MIDI
// data is never an error here; the Reassembler resynchronizes and Next keeps
// going.
func (d *Decoder) Next(ctx context.Context) (Event, error) {
	for len(d.queue) == 0 {
		frag, err := d.src.ReadFragment(ctx)
		if err != nil {
			return Event{}, err
		}
		d.queue = d.re.Push(frag)
	}
	raw := d.queue[0]
	d.queue = d.queue[1:]
	return Decode(raw), nil
}

// Reset discards buffered messages and clears the stream state.
func (d *Decoder) Reset() {
	d.queue = nil
	d.re.Reset()
}
