// Package tray renders the live notification feed with a pulse that fires
// whenever a new event arrives.
package tray

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	"github.com/examdesk/examdesk/internal/hub"
	"github.com/examdesk/examdesk/internal/notify"
	"github.com/examdesk/examdesk/internal/theme"
	"github.com/examdesk/examdesk/internal/views/status"
)

const fps = 30

// FrameMsg advances the pulse animation by one frame.
type FrameMsg struct{}

// Model holds the tray state. Items are owned by the feed and copied in.
type Model struct {
	Status  hub.Status
	Items   []notify.Item
	Focused bool

	spring    harmonica.Spring
	pulse     float64
	velocity  float64
	animating bool
}

func New() Model {
	return Model{
		Status: hub.StatusIdle,
		spring: harmonica.NewSpring(harmonica.FPS(fps), 4.0, 0.6),
	}
}

// Flash starts the pulse. The returned command drives the animation.
func (m *Model) Flash() tea.Cmd {
	m.pulse = 1
	m.velocity = 0
	if m.animating {
		return nil
	}
	m.animating = true
	return frame()
}

// Animating reports whether a pulse is in flight.
func (m Model) Animating() bool { return m.animating }

// Update advances the animation on FrameMsg.
func (m *Model) Update(msg tea.Msg) tea.Cmd {
	if _, ok := msg.(FrameMsg); !ok || !m.animating {
		return nil
	}
	m.pulse, m.velocity = m.spring.Update(m.pulse, m.velocity, 0)
	if math.Abs(m.pulse) < 0.02 && math.Abs(m.velocity) < 0.02 {
		m.pulse, m.velocity = 0, 0
		m.animating = false
		return nil
	}
	return frame()
}

func frame() tea.Cmd {
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg { return FrameMsg{} })
}

func (m Model) livePill() string {
	glyph := "●"
	switch p := math.Abs(m.pulse); {
	case p > 0.6:
		glyph = "◉"
	case p > 0.2:
		glyph = "◎"
	}
	style := lipgloss.NewStyle().Foreground(theme.StatusColor(string(m.Status)))
	if m.animating {
		style = style.Bold(true)
	}
	return style.Render(glyph + " Live")
}

// View renders the tray in a box of the given size.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}

	count := fmt.Sprintf("%d events", len(m.Items))
	if len(m.Items) == 1 {
		count = "1 event"
	}
	header := m.livePill() + "  " + theme.StyleHeader.Render("Real-time notifications") + "  " +
		lipgloss.NewStyle().Foreground(theme.StatusColor(string(m.Status))).Render("["+status.Label(m.Status)+"]") +
		"  " + theme.StyleDimmed.Render(count)

	var lines []string
	lines = append(lines, header)
	if len(m.Items) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  No notifications received yet"))
	}
	rows := height - 3
	if rows < 1 {
		rows = 1
	}
	for i, it := range m.Items {
		if i >= rows {
			lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf("  … %d more", len(m.Items)-rows)))
			break
		}
		ev := lipgloss.NewStyle().Foreground(theme.EventColor(it.EventType)).Width(20).Render(theme.Truncate(it.EventType, 20))
		ts := theme.StyleDimmed.Render(FormatTime(it.Timestamp))
		msg := theme.Truncate(it.Message, innerW-32)
		lines = append(lines, ts+" "+ev+" "+msg)
	}
	if len(m.Items) > 0 {
		lines = append(lines, theme.StyleDimmed.Render("x:clear"))
	}

	return theme.Pane(m.Focused).Width(innerW).Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// FormatTime shows an RFC 3339 timestamp as local HH:MM:SS. Anything else
// is returned unchanged.
func FormatTime(ts string) string {
	if ts == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("15:04:05")
}
