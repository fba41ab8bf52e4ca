// Package roster renders the selected session's submissions with an
// incremental search box.
package roster

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/theme"
)

type Model struct {
	Records []api.SubmissionRecord
	Loading bool
	Err     error
	Focused bool
	// Active marks the record whose artifacts are shown.
	Active string

	search textinput.Model
	cursor int
}

func New() Model {
	ti := textinput.New()
	ti.Placeholder = "search student code, name or file"
	ti.Prompt = "/ "
	ti.CharLimit = 64
	return Model{search: ti}
}

// Query returns the current search text.
func (m Model) Query() string { return m.search.Value() }

// Searching reports whether the search box has keyboard focus.
func (m Model) Searching() bool { return m.search.Focused() }

// StartSearch focuses the search box.
func (m *Model) StartSearch() tea.Cmd { return m.search.Focus() }

// StopSearch blurs the search box, keeping the query.
func (m *Model) StopSearch() { m.search.Blur() }

// ClearSearch empties and blurs the search box.
func (m *Model) ClearSearch() {
	m.search.SetValue("")
	m.search.Blur()
}

// SetRecords replaces the visible records and keeps the cursor in range.
func (m *Model) SetRecords(records []api.SubmissionRecord) {
	m.Records = records
	if m.cursor >= len(records) {
		m.cursor = max(len(records)-1, 0)
	}
}

// UpdateSearch forwards a message to the search box. The caller re-filters
// when the query changes.
func (m *Model) UpdateSearch(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return cmd
}

func (m *Model) Up() {
	if len(m.Records) > 0 {
		m.cursor = (m.cursor - 1 + len(m.Records)) % len(m.Records)
	}
}

func (m *Model) Down() {
	if len(m.Records) > 0 {
		m.cursor = (m.cursor + 1) % len(m.Records)
	}
}

// Selected returns the record under the cursor.
func (m Model) Selected() (api.SubmissionRecord, bool) {
	if m.cursor < 0 || m.cursor >= len(m.Records) {
		return api.SubmissionRecord{}, false
	}
	return m.Records[m.cursor], true
}

func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 24 {
		innerW = 24
	}
	rows := height - 5
	if rows < 1 {
		rows = 1
	}

	title := theme.StyleHeader.Render(fmt.Sprintf("Students (%d)", len(m.Records)))
	lines := []string{title, m.search.View()}

	switch {
	case m.Loading:
		lines = append(lines, theme.StyleDimmed.Render("  Loading students..."))
	case m.Err != nil:
		lines = append(lines, theme.StyleError.Render("  "+m.Err.Error()))
	case len(m.Records) == 0 && m.Query() != "":
		lines = append(lines, theme.StyleDimmed.Render("  No matches"))
	case len(m.Records) == 0:
		lines = append(lines, theme.StyleDimmed.Render("  No submissions yet"))
	}

	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	for i := start; i < len(m.Records) && i < start+rows; i++ {
		r := m.Records[i]
		prefix := "  "
		if m.Focused && i == m.cursor {
			prefix = "> "
		}
		marker := " "
		if r.SubmissionID != "" && strings.EqualFold(r.SubmissionID, m.Active) {
			marker = "*"
		}
		row := fmt.Sprintf("%s%s%-10s %-22s %s", prefix, marker,
			theme.Truncate(r.StudentID, 10),
			theme.Truncate(r.StudentName, 22),
			theme.StyleDimmed.Render(theme.Truncate(r.FileName, max(innerW-38, 4))))
		if i == m.cursor && m.Focused {
			row = theme.StyleSelected.Render(row)
		}
		lines = append(lines, row)
	}

	return theme.Pane(m.Focused).Width(innerW).Padding(0, 1).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
