// Package display renders recently received MIDI events in the terminal.
// It is a passive collaborator: it subscribes to the event bus independently
// of the audio renderer and may lag or drop entries without affecting sound.
package display

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zurustar/son-net/pkg/bus"
	"github.com/zurustar/son-net/pkg/midi"
)

// maxEntries is how many recent events the display retains.
const maxEntries = 16

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	noteOnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	noteOffStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	ccStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	unknownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Faint(true)
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
)

type entry struct {
	at time.Time
	ev midi.Event
}

// EventMsg carries one bus event into the Bubble Tea update loop.
type EventMsg midi.Event

// closedMsg signals that the subscription ended (context cancelled).
type closedMsg struct{}

// Model is the Bubble Tea model for the note display.
type Model struct {
	sub     *bus.Subscriber
	ctx     context.Context
	addr    string
	entries []entry
	quit    bool
}

// NewModel creates the display model. ctx cancellation ends the
// subscription and quits the program; addr is shown in the footer.
func NewModel(ctx context.Context, sub *bus.Subscriber, addr string) Model {
	return Model{sub: sub, ctx: ctx, addr: addr}
}

// listenForEvents waits for the next bus event, blocking in a Bubble Tea
// command goroutine so the update loop stays responsive.
func listenForEvents(ctx context.Context, sub *bus.Subscriber) tea.Cmd {
	return func() tea.Msg {
		ev, ok := sub.Next(ctx)
		if !ok {
			return closedMsg{}
		}
		return EventMsg(ev)
	}
}

func (m Model) Init() tea.Cmd {
	return listenForEvents(m.ctx, m.sub)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		}

	case EventMsg:
		m.entries = append(m.entries, entry{at: time.Now(), ev: midi.Event(msg)})
		if len(m.entries) > maxEntries {
			m.entries = m.entries[len(m.entries)-maxEntries:]
		}
		return m, listenForEvents(m.ctx, m.sub)

	case closedMsg:
		m.quit = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	if m.quit {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("son-net - incoming MIDI"))
	b.WriteString("\n\n")

	if len(m.entries) == 0 {
		b.WriteString(footerStyle.Render("  (waiting for events)"))
		b.WriteString("\n")
	}
	for _, e := range m.entries {
		b.WriteString(formatEntry(e))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	footer := fmt.Sprintf("listening on %s  |  dropped: %d  |  q to quit", m.addr, m.sub.Dropped())
	b.WriteString(footerStyle.Render(footer))
	b.WriteString("\n")
	return b.String()
}

func formatEntry(e entry) string {
	ts := e.at.Format("15:04:05.000")
	switch e.ev.Kind {
	case midi.KindNoteOn:
		return fmt.Sprintf("  %s  %s  %s",
			ts,
			noteOnStyle.Render(fmt.Sprintf("NoteOn  ch%-2d %-4s vel %3d", e.ev.Channel, midi.NoteName(e.ev.Note), e.ev.Velocity)),
			barStyle.Render(velocityBar(e.ev.Velocity)))
	case midi.KindNoteOff:
		return fmt.Sprintf("  %s  %s", ts,
			noteOffStyle.Render(fmt.Sprintf("NoteOff ch%-2d %-4s", e.ev.Channel, midi.NoteName(e.ev.Note))))
	case midi.KindControlChange:
		return fmt.Sprintf("  %s  %s", ts,
			ccStyle.Render(fmt.Sprintf("CC      ch%-2d cc%-3d val %3d", e.ev.Channel, e.ev.Controller, e.ev.Value)))
	default:
		return fmt.Sprintf("  %s  %s", ts,
			unknownStyle.Render(fmt.Sprintf("Unknown % X", e.ev.Raw)))
	}
}

// velocityBar draws a small bar proportional to velocity (0-127).
func velocityBar(velocity uint8) string {
	return strings.Repeat("█", 1+int(velocity)/16)
}
