// Package synth renders decoded MIDI events into a continuous PCM sample
// stream: a fixed pool of sine voices with click-free amplitude envelopes,
// deterministic voice stealing, and a soft-limited mix.
package synth

import (
	"math"

	"github.com/zurustar/son-net/pkg/midi"
)

// Envelope timing. The attack ramp is short enough to be inaudible as an
// onset but long enough to remove the discontinuity click; the release decay
// is a few tens of milliseconds so a stopped note fades instead of snapping.
const (
	attackSeconds  = 0.005
	releaseSeconds = 0.060

	// releaseFloor is the envelope level below which a releasing voice is
	// considered silent and its slot freed.
	releaseFloor = 0.0005
)

type voiceState uint8

const (
	voiceFree voiceState = iota
	voiceActive
	voiceReleasing
)

// voice is one sounding note. All fields are owned by the render goroutine;
// nothing outside the engine's render step reads or writes them.
type voice struct {
	state   voiceState
	channel uint8
	note    uint8

	phase    float64 // oscillator phase in radians
	phaseInc float64 // radians per sample at the target frequency

	env        float64 // current envelope level, 0..1
	attacking  bool    // still on the attack ramp
	attackInc  float64 // envelope increment per sample during attack
	releaseMul float64 // envelope multiplier per sample during release

	gain      float64 // velocity-derived amplitude
	sustained bool    // note released while the sustain pedal was down
	serial    uint64  // allocation order, for oldest-first stealing
}

// start (re)triggers the voice for a note. Also used for retrigger of an
// already-assigned (channel, note) pair: phase and envelope restart.
func (v *voice) start(channel, note, velocity uint8, sampleRate int, serial uint64) {
	v.state = voiceActive
	v.channel = channel
	v.note = note
	v.phase = 0
	v.phaseInc = 2 * math.Pi * midi.NoteFrequency(note) / float64(sampleRate)
	v.env = 0
	v.attacking = true
	v.attackInc = 1 / (attackSeconds * float64(sampleRate))
	v.releaseMul = math.Pow(releaseFloor, 1/(releaseSeconds*float64(sampleRate)))
	v.gain = float64(velocity) / 127.0
	v.sustained = false
	v.serial = serial
}

// release moves the voice to the releasing stage. The envelope decays from
// its current level, so releasing mid-attack cannot click either.
func (v *voice) release() {
	v.state = voiceReleasing
	v.attacking = false
	v.sustained = false
}

// sample advances the voice by one sample and returns its contribution.
// A releasing voice that decays below the floor frees itself.
func (v *voice) sample() float64 {
	switch v.state {
	case voiceActive:
		if v.attacking {
			v.env += v.attackInc
			if v.env >= 1 {
				v.env = 1
				v.attacking = false
			}
		}
	case voiceReleasing:
		v.env *= v.releaseMul
		if v.env < releaseFloor {
			v.state = voiceFree
			return 0
		}
	default:
		return 0
	}

	s := math.Sin(v.phase) * v.env * v.gain
	v.phase += v.phaseInc
	if v.phase >= 2*math.Pi {
		v.phase -= 2 * math.Pi
	}
	return s
}
