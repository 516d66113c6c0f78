package synth

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"github.com/zurustar/son-net/pkg/bus"
	"github.com/zurustar/son-net/pkg/midi"
)

// Control change numbers the engine reacts to.
const (
	ccChannelVolume = 7
	ccSustainPedal  = 64
	ccAllNotesOff   = 123
)

// DefaultPolyphony is the default voice pool size.
const DefaultPolyphony = 16

// maxEventsPerRead bounds how many bus events one render call will apply.
// Anything beyond that is deferred to the next buffer, which costs a few
// milliseconds of latency at most.
const maxEventsPerRead = 64

// Engine is the real-time synthesis engine. It implements io.Reader producing
// interleaved 16-bit little-endian stereo PCM at a fixed sample rate, the
// contract the audio output player pulls on.
//
// Read is the only place voices are created, mutated or destroyed. It drains
// newly available events from the bus with one bounded, non-blocking poll,
// applies them to the voice pool, then renders. It never blocks and performs
// no allocation, so a render call always completes well inside one buffer
// period.
type Engine struct {
	pool       []voice
	sub        *bus.Subscriber
	sampleRate int

	serial     uint64 // allocation counter, for oldest-first stealing
	sustain    bool   // sustain pedal held
	channelVol float64

	drain [maxEventsPerRead]midi.Event
	log   *slog.Logger

	// mu serializes Read with the shutdown-time Flush. The audio device pulls
	// Read from a single goroutine, so the lock is uncontended on the hot
	// path.
	mu sync.Mutex
}

// NewEngine creates an engine with a fixed pool of polyphony voices, reading
// events from sub. A non-positive polyphony falls back to DefaultPolyphony.
func NewEngine(sub *bus.Subscriber, sampleRate, polyphony int, log *slog.Logger) *Engine {
	if polyphony <= 0 {
		polyphony = DefaultPolyphony
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		pool:       make([]voice, polyphony),
		sub:        sub,
		sampleRate: sampleRate,
		channelVol: 1,
		log:        log,
	}
}

// Read fills p with rendered audio. It always fills the whole buffer and
// never returns an error: when no voice is sounding the output is exact
// silence, never a stall.
func (e *Engine) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sub != nil {
		n := e.sub.Poll(e.drain[:])
		for _, ev := range e.drain[:n] {
			e.apply(ev)
		}
	}

	sampleCount := len(p) / 4 // 2 channels * 2 bytes per sample

	// Soft limiting: scale the mix down as polyphony grows so stacked voices
	// cannot clip, without making a single voice quiet.
	norm := e.channelVol * 0.5
	if n := e.sounding(); n > 1 {
		norm /= math.Sqrt(float64(n))
	}

	for i := 0; i < sampleCount; i++ {
		var mix float64
		for vi := range e.pool {
			mix += e.pool[vi].sample()
		}
		mix *= norm

		// Final safety clamp.
		if mix > 1 {
			mix = 1
		} else if mix < -1 {
			mix = -1
		}

		s := int16(mix * 32767)
		binary.LittleEndian.PutUint16(p[i*4:], uint16(s))   // left
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(s)) // right
	}
	return sampleCount * 4, nil
}

// apply routes one event to the voice pool. Unknown events are ignored here;
// they exist for diagnostics and display only.
func (e *Engine) apply(ev midi.Event) {
	switch ev.Kind {
	case midi.KindNoteOn:
		e.noteOn(ev.Channel, ev.Note, ev.Velocity)
	case midi.KindNoteOff:
		e.noteOff(ev.Channel, ev.Note)
	case midi.KindControlChange:
		e.controlChange(ev.Controller, ev.Value)
	}
}

// noteOn assigns a voice for the note, stealing one when the pool is
// exhausted. Policy, in order:
// - the voice already sounding this (channel, note) pair retriggers in place
// - a free voice
// - the releasing voice with the least remaining envelope
// - the oldest active voice (FIFO)
func (e *Engine) noteOn(channel, note, velocity uint8) {
	v := e.findVoice(channel, note)
	if v == nil {
		v = e.allocate()
	}
	e.serial++
	v.start(channel, note, velocity, e.sampleRate, e.serial)
}

func (e *Engine) findVoice(channel, note uint8) *voice {
	for i := range e.pool {
		v := &e.pool[i]
		if v.state != voiceFree && v.channel == channel && v.note == note {
			return v
		}
	}
	return nil
}

func (e *Engine) allocate() *voice {
	var free *voice
	var releasing *voice
	var oldest *voice

	for i := range e.pool {
		v := &e.pool[i]
		switch v.state {
		case voiceFree:
			if free == nil {
				free = v
			}
		case voiceReleasing:
			if releasing == nil || v.env < releasing.env {
				releasing = v
			}
		case voiceActive:
			if oldest == nil || v.serial < oldest.serial {
				oldest = v
			}
		}
	}

	switch {
	case free != nil:
		return free
	case releasing != nil:
		return releasing
	default:
		// Pool full of active voices: steal the oldest. Oldest-first is less
		// audible than stealing a recent attack and stays O(pool) per event.
		e.log.Debug("voice stolen", "note", oldest.note, "channel", oldest.channel)
		return oldest
	}
}

// noteOff releases the matching active voice. With the sustain pedal down the
// voice keeps sounding and is released when the pedal lifts. An unmatched
// note off is a no-op.
func (e *Engine) noteOff(channel, note uint8) {
	v := e.findVoice(channel, note)
	if v == nil || v.state != voiceActive {
		return
	}
	if e.sustain {
		v.sustained = true
		return
	}
	v.release()
}

func (e *Engine) controlChange(controller, value uint8) {
	switch controller {
	case ccSustainPedal:
		down := value >= 64
		if e.sustain && !down {
			for i := range e.pool {
				if v := &e.pool[i]; v.state == voiceActive && v.sustained {
					v.release()
				}
			}
		}
		e.sustain = down
	case ccChannelVolume:
		e.channelVol = float64(value) / 127.0
	case ccAllNotesOff:
		for i := range e.pool {
			if v := &e.pool[i]; v.state == voiceActive {
				v.release()
			}
		}
	}
}

// sounding counts voices currently contributing to the mix.
func (e *Engine) sounding() int {
	n := 0
	for i := range e.pool {
		if e.pool[i].state != voiceFree {
			n++
		}
	}
	return n
}

// Flush forces every voice to Free immediately. Shutdown path; not part of
// the render cadence.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.pool {
		e.pool[i].state = voiceFree
		e.pool[i].env = 0
	}
	e.sustain = false
}
