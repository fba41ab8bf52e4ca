package status

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/examdesk/examdesk/internal/hub"
	"github.com/examdesk/examdesk/internal/theme"
)

var labels = map[hub.Status]string{
	hub.StatusConnected:       "Connected",
	hub.StatusConnecting:      "Connecting",
	hub.StatusReconnecting:    "Reconnecting",
	hub.StatusDisconnected:    "Disconnected",
	hub.StatusIdle:            "Idle",
	hub.StatusUnauthenticated: "Token missing",
	hub.StatusError:           "Error",
}

// Label returns the display label for a hub status. Unknown values are
// shown as-is.
func Label(s hub.Status) string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// Model holds the status bar state.
type Model struct {
	Status  hub.Status
	LastErr error
	Session string
	User    string
	Width   int
}

// New creates a status bar model.
func New() Model {
	return Model{Status: hub.StatusIdle}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	color := theme.StatusColor(string(m.Status))
	conn := lipgloss.NewStyle().Foreground(color).Render(theme.StatusGlyph(string(m.Status)) + " " + Label(m.Status))
	if m.Status == hub.StatusError && m.LastErr != nil {
		conn += theme.StyleDimmed.Render(" (" + theme.Truncate(m.LastErr.Error(), 40) + ")")
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := theme.StyleHeader.Render("examdesk") + sep + conn

	session := m.Session
	if session == "" {
		session = "no session selected"
	}
	content += sep + theme.StyleDimmed.Render(session)
	if m.User != "" {
		content += sep + m.User
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
