// Package sessions renders the exam session picker.
package sessions

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/theme"
)

type Model struct {
	Sessions []api.Session
	Loading  bool
	Err      error
	Focused  bool
	// SelectedID is the session the workflow is bound to.
	SelectedID string
	// ActiveOnly lists only sessions open for uploads.
	ActiveOnly bool

	cursor int
}

func New() Model { return Model{Loading: true} }

// SetSessions replaces the list, keeping the cursor on the selected session
// when it is still present.
func (m *Model) SetSessions(list []api.Session) {
	m.Sessions = list
	m.Loading = false
	m.cursor = 0
	for i, s := range list {
		if strings.EqualFold(s.SessionID, m.SelectedID) {
			m.cursor = i
			break
		}
	}
}

func (m *Model) Up() {
	if len(m.Sessions) > 0 {
		m.cursor = (m.cursor - 1 + len(m.Sessions)) % len(m.Sessions)
	}
}

func (m *Model) Down() {
	if len(m.Sessions) > 0 {
		m.cursor = (m.cursor + 1) % len(m.Sessions)
	}
}

// Highlighted returns the session under the cursor.
func (m Model) Highlighted() (api.Session, bool) {
	if m.cursor < 0 || m.cursor >= len(m.Sessions) {
		return api.Session{}, false
	}
	return m.Sessions[m.cursor], true
}

// Selected returns the bound session.
func (m Model) Selected() (api.Session, bool) {
	for _, s := range m.Sessions {
		if m.SelectedID != "" && strings.EqualFold(s.SessionID, m.SelectedID) {
			return s, true
		}
	}
	return api.Session{}, false
}

// DisplayName is the session name, falling back to the exam name and then
// a short ID.
func DisplayName(s api.Session) string {
	switch {
	case s.SessionName != "":
		return s.SessionName
	case s.ExamName != "":
		return s.ExamName
	case len(s.SessionID) >= 8:
		return s.SessionID[:8]
	default:
		return s.SessionID
	}
}

func window(s api.Session) string {
	start, err1 := time.Parse(time.RFC3339, s.StartTime)
	end, err2 := time.Parse(time.RFC3339, s.EndTime)
	if err1 != nil || err2 != nil {
		return ""
	}
	start, end = start.Local(), end.Local()
	return fmt.Sprintf("%s %s-%s", start.Format("Jan 02"), start.Format("15:04"), end.Format("15:04"))
}

func (m Model) View(width, height int) string {
	innerW := max(width-4, 24)
	title := "Sessions"
	if m.ActiveOnly {
		title = "Sessions (active only)"
	}
	lines := []string{theme.StyleHeader.Render(title)}

	switch {
	case m.Loading:
		lines = append(lines, theme.StyleDimmed.Render("  Loading sessions..."))
	case m.Err != nil:
		lines = append(lines, theme.StyleError.Render("  "+m.Err.Error()), theme.StyleDimmed.Render("  r:retry"))
	case len(m.Sessions) == 0:
		lines = append(lines, theme.StyleDimmed.Render("  No sessions available"))
	}

	rows := max(height-3, 1)
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	for i := start; i < len(m.Sessions) && i < start+rows; i++ {
		s := m.Sessions[i]
		prefix := "  "
		if m.Focused && i == m.cursor {
			prefix = "> "
		}
		mark := "○"
		if strings.EqualFold(s.SessionID, m.SelectedID) {
			mark = "●"
		}
		name := theme.Truncate(DisplayName(s), max(innerW-22, 8))
		row := prefix + mark + " " + name
		if !s.IsActive {
			row += theme.StyleDimmed.Render(" (inactive)")
		}
		if w := window(s); w != "" {
			row += "  " + theme.StyleDimmed.Render(w)
		}
		if m.Focused && i == m.cursor {
			row = theme.StyleSelected.Render(row)
		}
		lines = append(lines, row)
	}

	return theme.Pane(m.Focused).Width(innerW).Padding(0, 1).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
