// son-net-sender emits synthetic MIDI traffic over UDP for exercising a
// son-net receiver: the drum pattern from "Caravan" by Duke Ellington, or a
// random note stream. It can optionally pack each step into a single
// running-status datagram to exercise stream reconstruction.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.com/gomidi/midi/v2"
)

// General MIDI drum notes used by the Caravan pattern.
const (
	kick        = 36
	snare       = 38
	hihatClosed = 42
	ride        = 51
	crash       = 49
	tomLow      = 45
	tomMid      = 47
	tomHigh     = 50
)

// hit is one drum strike: note and velocity.
type hit struct {
	note     uint8
	velocity uint8
}

// step is the set of simultaneous hits on one eighth-note position.
type step []hit

// Bar 1: the Latin tresillo feel on hi-hat.
var patternBar1 = []step{
	{{kick, 110}, {hihatClosed, 85}},
	{{hihatClosed, 70}},
	{{snare, 95}, {hihatClosed, 80}},
	{{hihatClosed, 65}},
	{{kick, 105}},
	{{hihatClosed, 70}},
	{{snare, 100}, {hihatClosed, 85}},
	{{hihatClosed, 75}},
}

// Bar 2: continuation on the ride cymbal.
var patternBar2 = []step{
	{{kick, 110}, {ride, 80}},
	{{ride, 65}},
	{{snare, 95}, {ride, 75}},
	{{ride, 60}},
	{{kick, 105}, {ride, 75}},
	{{ride, 70}},
	{{snare, 100}, {ride, 80}},
	{{ride, 65}},
}

// Every 8th bar: a tom cascade fill, in sixteenths.
var fillPattern = []step{
	{{tomHigh, 100}},
	{{tomHigh, 95}},
	{{tomMid, 105}},
	{{tomMid, 100}},
	{{tomLow, 110}},
	{{tomLow, 105}},
	{{kick, 115}, {crash, 110}},
	{},
}

type sender struct {
	conn          *net.UDPConn
	runningStatus bool
}

// sendOn sends note-on messages for every hit in the step. In
// running-status mode the whole step goes out as one datagram with the
// status byte emitted only once.
func (s *sender) sendOn(hits step) error {
	if len(hits) == 0 {
		return nil
	}
	if s.runningStatus {
		packet := []byte(midi.NoteOn(0, hits[0].note, hits[0].velocity))
		for _, h := range hits[1:] {
			packet = append(packet, h.note, h.velocity)
		}
		_, err := s.conn.Write(packet)
		return err
	}
	for _, h := range hits {
		if _, err := s.conn.Write(midi.NoteOn(0, h.note, h.velocity)); err != nil {
			return err
		}
	}
	return nil
}

func (s *sender) sendOff(hits step) error {
	for _, h := range hits {
		if _, err := s.conn.Write(midi.NoteOff(0, h.note)); err != nil {
			return err
		}
	}
	return nil
}

// playCaravan loops the two-bar Caravan phrase with a fill every 8th bar
// until the context is stopped. bars == 0 means play forever.
func (s *sender) playCaravan(stop <-chan os.Signal, tempoBPM int, bars int) error {
	beat := time.Duration(float64(time.Minute) / float64(tempoBPM))
	eighth := beat / 2
	sixteenth := beat / 4

	fmt.Printf("Playing Caravan drum pattern at %d BPM\n", tempoBPM)

	barCount := 0
	for {
		barCount++
		if bars > 0 && barCount > bars {
			return nil
		}

		var pattern []step
		var stepDur time.Duration
		switch {
		case barCount%8 == 0:
			fmt.Printf("  [Bar %d] fill\n", barCount)
			pattern, stepDur = fillPattern, sixteenth
		case barCount%2 == 1:
			fmt.Printf("  [Bar %d] kick-snare groove (hi-hat)\n", barCount)
			pattern, stepDur = patternBar1, eighth
		default:
			fmt.Printf("  [Bar %d] kick-snare groove (ride)\n", barCount)
			pattern, stepDur = patternBar2, eighth
		}

		for _, st := range pattern {
			if err := s.sendOn(st); err != nil {
				return err
			}
			select {
			case <-stop:
				return s.allOff()
			case <-time.After(stepDur):
			}
			if err := s.sendOff(st); err != nil {
				return err
			}
		}
	}
}

// playRandom sends random notes around middle C at a fixed rate.
func (s *sender) playRandom(stop <-chan os.Signal, tempoBPM int) error {
	beat := time.Duration(float64(time.Minute) / float64(tempoBPM))
	fmt.Printf("Sending random notes at %d BPM\n", tempoBPM)

	for {
		note := uint8(48 + rand.Intn(25))
		velocity := uint8(60 + rand.Intn(68))
		if _, err := s.conn.Write(midi.NoteOn(0, note, velocity)); err != nil {
			return err
		}
		select {
		case <-stop:
			return s.allOff()
		case <-time.After(beat / 2):
		}
		if _, err := s.conn.Write(midi.NoteOff(0, note)); err != nil {
			return err
		}
	}
}

// allOff releases everything before exiting so the receiver is not left
// with hanging notes.
func (s *sender) allOff() error {
	_, err := s.conn.Write(midi.ControlChange(0, 123, 0))
	return err
}

func main() {
	host := flag.String("host", "127.0.0.1", "target host")
	port := flag.Int("port", 6000, "target port")
	tempo := flag.Int("tempo", 180, "tempo in BPM")
	bars := flag.Int("bars", 0, "number of bars to play (0 = forever)")
	random := flag.Bool("random", false, "send random notes instead of the Caravan pattern")
	runningStatus := flag.Bool("running-status", false, "pack each step into one running-status datagram")
	flag.Parse()

	addr := &net.UDPAddr{IP: net.ParseIP(*host), Port: *port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("Sending to %s:%d (Ctrl+C to stop)\n", *host, *port)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	s := &sender{conn: conn, runningStatus: *runningStatus}
	if *random {
		err = s.playRandom(stop, *tempo)
	} else {
		err = s.playCaravan(stop, *tempo, *bars)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
