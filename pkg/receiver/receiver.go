// Package receiver implements the network context: it listens for UDP
// datagrams carrying raw MIDI bytes, drives the stream reconstruction and
// decoding pipeline, and publishes decoded events onto the bus.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/zurustar/son-net/pkg/bus"
	"github.com/zurustar/son-net/pkg/midi"
)

// readTimeout is the socket read deadline. Short enough that the receive
// loop notices context cancellation promptly, long enough not to spin.
const readTimeout = 200 * time.Millisecond

// maxDatagramSize bounds one datagram payload. Raw MIDI note traffic is a
// few bytes per message; 2 KiB leaves plenty of headroom for batched
// running-status packets.
const maxDatagramSize = 2048

// Receiver owns the UDP socket and the decode pipeline for one listening
// session. Decoded events are broadcast on the bus; the receiver never
// blocks on a slow consumer.
type Receiver struct {
	conn *net.UDPConn
	bus  *bus.Bus
	log  *slog.Logger

	fragments atomic.Uint64
	events    atomic.Uint64
}

// New binds the UDP listening socket. The returned receiver is not yet
// reading; call Run.
func New(host string, port int, b *bus.Bus, log *slog.Logger) (*Receiver, error) {
	if log == nil {
		log = slog.Default()
	}
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	if host != "" && addr.IP == nil {
		return nil, fmt.Errorf("invalid listen host: %s", host)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s:%d: %w", host, port, err)
	}
	return &Receiver{conn: conn, bus: b, log: log}, nil
}

// Addr returns the bound local address (useful when port 0 was requested).
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Run drives the pipeline until the context is cancelled or the socket
// fails: datagram -> reassembler -> decoder -> bus. Each datagram payload is
// one raw fragment; duplicates and reordering are forwarded as-is, there is
// no sequencing layer.
//
// Context cancellation returns nil. A transport failure is returned to the
// caller for orderly shutdown; it is fatal to this context only, the audio
// side keeps rendering and lets its voices decay out.
func (r *Receiver) Run(ctx context.Context) error {
	r.log.Info("listening for MIDI datagrams", "addr", r.conn.LocalAddr().String())

	dec := midi.NewDecoder(&udpSource{r: r})
	for {
		ev, err := dec.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive failed: %w", err)
		}
		r.events.Add(1)
		r.log.Debug("event decoded", "event", ev.String())
		r.bus.Publish(ev)
	}
}

// Close closes the socket, unblocking a pending read in Run.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Stats returns the number of fragments received and events decoded so far.
func (r *Receiver) Stats() (fragments, events uint64) {
	return r.fragments.Load(), r.events.Load()
}

// udpSource adapts the socket to the decoder's fragment pull interface.
type udpSource struct {
	r   *Receiver
	buf [maxDatagramSize]byte
}

// ReadFragment blocks until a datagram arrives or the context is cancelled.
// The read deadline is renewed on every timeout so cancellation is observed
// within readTimeout even while the line is silent.
func (s *udpSource) ReadFragment(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.r.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return nil, err
		}
		n, from, err := s.r.conn.ReadFromUDP(s.buf[:])
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return nil, err
		}
		s.r.fragments.Add(1)
		// The source address is informational only; a single logical stream
		// is assumed.
		s.r.log.Debug("fragment received", "bytes", n, "from", from.String())

		frag := make([]byte, n)
		copy(frag, s.buf[:n])
		return frag, nil
	}
}
