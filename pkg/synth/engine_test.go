package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurustar/son-net/pkg/bus"
	"github.com/zurustar/son-net/pkg/midi"
)

const testSampleRate = 44100

func newTestEngine(polyphony int) *Engine {
	return NewEngine(nil, testSampleRate, polyphony, nil)
}

// render runs the engine for sampleCount samples and returns the interleaved
// stereo buffer.
func render(t *testing.T, e *Engine, sampleCount int) []byte {
	t.Helper()
	p := make([]byte, sampleCount*4)
	n, err := e.Read(p)
	require.NoError(t, err)
	require.Equal(t, len(p), n)
	return p
}

func activeNotes(e *Engine) map[uint8]bool {
	notes := make(map[uint8]bool)
	for i := range e.pool {
		if e.pool[i].state == voiceActive {
			notes[e.pool[i].note] = true
		}
	}
	return notes
}

func TestEngineSilenceWithNoVoices(t *testing.T) {
	e := newTestEngine(4)
	p := render(t, e, 512)
	for i, b := range p {
		if b != 0 {
			t.Fatalf("non-zero byte %#x at offset %d with no active voices", b, i)
		}
	}
}

func TestEngineNoteOnProducesSound(t *testing.T) {
	e := newTestEngine(4)
	e.noteOn(0, 69, 100)
	p := render(t, e, 512)

	nonZero := false
	for _, b := range p {
		if b != 0 {
			nonZero = true
			break
		}
	}
	assert.True(t, nonZero, "active voice rendered pure silence")
}

func TestEngineVoiceStealingOldestActive(t *testing.T) {
	// Polyphony 4, five notes with no note off in between: the voice for the
	// first note is stolen and reassigned to the fifth.
	e := newTestEngine(4)
	for _, note := range []uint8{60, 64, 67, 71, 72} {
		e.noteOn(0, note, 100)
	}

	notes := activeNotes(e)
	assert.False(t, notes[60], "oldest voice (note 60) should have been stolen")
	for _, note := range []uint8{64, 67, 71, 72} {
		assert.True(t, notes[note], "note %d should still be sounding", note)
	}
	assert.Equal(t, 4, e.sounding())
}

func TestEngineNeverExceedsPolyphony(t *testing.T) {
	e := newTestEngine(4)
	for note := uint8(40); note < 90; note++ {
		e.noteOn(0, note, 100)
		require.LessOrEqual(t, e.sounding(), 4)
	}
}

func TestEngineRetriggerSamePairInPlace(t *testing.T) {
	e := newTestEngine(4)
	e.noteOn(0, 60, 100)
	e.noteOn(0, 60, 80)

	assert.Equal(t, 1, e.sounding(), "retrigger must reuse the existing voice")
	v := e.findVoice(0, 60)
	require.NotNil(t, v)
	assert.Equal(t, voiceActive, v.state)
	assert.Zero(t, v.phase, "retrigger resets the oscillator phase")
}

func TestEngineSameNoteDifferentChannels(t *testing.T) {
	e := newTestEngine(4)
	e.noteOn(0, 60, 100)
	e.noteOn(1, 60, 100)
	assert.Equal(t, 2, e.sounding())

	e.noteOff(0, 60)
	v := e.findVoice(1, 60)
	require.NotNil(t, v)
	assert.Equal(t, voiceActive, v.state)
}

func TestEngineUnmatchedNoteOffIsNoOp(t *testing.T) {
	e := newTestEngine(4)
	e.noteOff(0, 60)
	assert.Equal(t, 0, e.sounding())

	e.noteOn(0, 62, 100)
	e.noteOff(0, 60) // still no match
	assert.Equal(t, 1, e.sounding())
}

func TestEngineReleasingVoiceDecaysToFree(t *testing.T) {
	e := newTestEngine(4)
	e.noteOn(0, 60, 100)
	render(t, e, 512) // let the attack complete
	e.noteOff(0, 60)

	v := e.findVoice(0, 60)
	require.NotNil(t, v)
	assert.Equal(t, voiceReleasing, v.state)

	// 200 ms is far beyond the release time; the voice must be free.
	render(t, e, testSampleRate/5)
	assert.Equal(t, 0, e.sounding())
}

func TestEngineStealPrefersReleasingVoice(t *testing.T) {
	e := newTestEngine(2)
	e.noteOn(0, 60, 100)
	e.noteOn(0, 64, 100)
	render(t, e, 256)
	e.noteOff(0, 60)

	// Pool is full (one active, one releasing); the releasing voice is the
	// one that gets stolen.
	e.noteOn(0, 72, 100)
	notes := activeNotes(e)
	assert.True(t, notes[64], "the active voice must not be stolen")
	assert.True(t, notes[72])
}

func TestEngineSustainPedalHoldsReleases(t *testing.T) {
	e := newTestEngine(4)
	e.controlChange(ccSustainPedal, 127)
	e.noteOn(0, 60, 100)
	e.noteOff(0, 60)

	v := e.findVoice(0, 60)
	require.NotNil(t, v)
	assert.Equal(t, voiceActive, v.state, "sustained note keeps sounding")

	e.controlChange(ccSustainPedal, 0)
	assert.Equal(t, voiceReleasing, v.state, "pedal up releases held notes")
}

func TestEngineAllNotesOff(t *testing.T) {
	e := newTestEngine(8)
	for _, note := range []uint8{60, 64, 67} {
		e.noteOn(0, note, 100)
	}
	e.controlChange(ccAllNotesOff, 0)

	for i := range e.pool {
		assert.NotEqual(t, voiceActive, e.pool[i].state)
	}
}

func TestEngineChannelVolumeScalesOutput(t *testing.T) {
	loud := newTestEngine(1)
	loud.noteOn(0, 69, 127)
	quiet := newTestEngine(1)
	quiet.controlChange(ccChannelVolume, 16)
	quiet.noteOn(0, 69, 127)

	peakOf := func(e *Engine) int16 {
		p := render(t, e, 2048)
		var peak int16
		for i := 0; i+1 < len(p); i += 4 {
			s := int16(uint16(p[i]) | uint16(p[i+1])<<8)
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
		return peak
	}

	assert.Greater(t, peakOf(loud), peakOf(quiet)*2)
}

func TestEngineFlushSilencesEverything(t *testing.T) {
	e := newTestEngine(4)
	e.noteOn(0, 60, 100)
	e.noteOn(0, 64, 100)
	e.Flush()

	assert.Equal(t, 0, e.sounding())
	p := render(t, e, 256)
	for _, b := range p {
		require.Zero(t, b)
	}
}

func TestEngineDrainsEventsFromBus(t *testing.T) {
	b := bus.New(64)
	sub := b.Subscribe()
	e := NewEngine(sub, testSampleRate, 4, nil)

	b.Publish(midi.Event{Kind: midi.KindNoteOn, Channel: 0, Note: 60, Velocity: 100})
	b.Publish(midi.Event{Kind: midi.KindUnknown, Raw: []byte{0xF8}}) // ignored
	render(t, e, 64)
	assert.Equal(t, 1, e.sounding())

	b.Publish(midi.Event{Kind: midi.KindNoteOff, Channel: 0, Note: 60})
	render(t, e, 64)
	v := e.findVoice(0, 60)
	require.NotNil(t, v)
	assert.Equal(t, voiceReleasing, v.state)
}

func TestEngineOutputNeverClips(t *testing.T) {
	e := newTestEngine(16)
	for note := uint8(60); note < 76; note++ {
		e.noteOn(0, note, 127)
	}
	p := render(t, e, 4096)
	for i := 0; i+1 < len(p); i += 2 {
		s := int16(uint16(p[i]) | uint16(p[i+1])<<8)
		require.GreaterOrEqual(t, s, int16(-32767))
		require.LessOrEqual(t, s, int16(32767))
	}
}
