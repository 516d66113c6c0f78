package synth

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/zurustar/son-net/pkg/bus"
	"github.com/zurustar/son-net/pkg/midi"
)

// SoundFontEngine renders incoming note events through a MeltySynth
// SoundFont synthesizer instead of the internal sine pool. It satisfies the
// same io.Reader pull contract as Engine, so the audio player does not care
// which renderer it is given.
//
// Voice management (polyphony, stealing, envelopes) is MeltySynth's in this
// mode; the engine only routes events.
type SoundFontEngine struct {
	synth *meltysynth.Synthesizer
	sub   *bus.Subscriber

	drain [maxEventsPerRead]midi.Event
	left  []float32
	right []float32
	log   *slog.Logger

	mu sync.Mutex
}

// NewSoundFontEngine loads a SoundFont (.sf2) file and builds a synthesizer
// for it at the given sample rate.
func NewSoundFontEngine(sub *bus.Subscriber, path string, sampleRate, polyphony int, log *slog.Logger) (*SoundFontEngine, error) {
	if polyphony <= 0 {
		polyphony = DefaultPolyphony
	}
	if log == nil {
		log = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load soundfont %s: %w", path, err)
	}
	soundFont, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse soundfont %s: %w", path, err)
	}

	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	settings.MaximumPolyphony = int32(polyphony)
	synth, err := meltysynth.NewSynthesizer(soundFont, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}

	log.Info("SoundFont loaded", "path", path, "sample_rate", sampleRate, "polyphony", polyphony)
	return &SoundFontEngine{synth: synth, sub: sub, log: log}, nil
}

// Read drains pending events into the synthesizer, renders, and converts the
// float32 stereo output to interleaved 16-bit little-endian PCM.
func (e *SoundFontEngine) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sub != nil {
		n := e.sub.Poll(e.drain[:])
		for _, ev := range e.drain[:n] {
			e.apply(ev)
		}
	}

	sampleCount := len(p) / 4 // 2 channels * 2 bytes per sample
	if cap(e.left) < sampleCount {
		e.left = make([]float32, sampleCount)
		e.right = make([]float32, sampleCount)
	}
	left := e.left[:sampleCount]
	right := e.right[:sampleCount]
	e.synth.Render(left, right)

	for i := 0; i < sampleCount; i++ {
		binary.LittleEndian.PutUint16(p[i*4:], uint16(clampInt16(left[i])))
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(clampInt16(right[i])))
	}
	return sampleCount * 4, nil
}

func (e *SoundFontEngine) apply(ev midi.Event) {
	switch ev.Kind {
	case midi.KindNoteOn:
		e.synth.NoteOn(int32(ev.Channel), int32(ev.Note), int32(ev.Velocity))
	case midi.KindNoteOff:
		e.synth.NoteOff(int32(ev.Channel), int32(ev.Note))
	case midi.KindControlChange:
		e.synth.ProcessMidiMessage(int32(ev.Channel), 0xB0, int32(ev.Controller), int32(ev.Value))
	}
}

// Flush releases every sounding note immediately.
func (e *SoundFontEngine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.synth.NoteOffAll(true)
}

func clampInt16(s float32) int16 {
	v := s * 32767
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
