// Package debug provides a scrollable log overlay fed from the in-memory
// log tail.
package debug

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/examdesk/examdesk/internal/theme"
)

// Source supplies formatted log lines and a running line count.
type Source interface {
	Lines() ([]string, uint64)
}

// Model holds debug log state.
type Model struct {
	Entries []string
	Offset  int // scroll offset (from bottom)

	seq uint64
}

// New creates an empty debug model.
func New() Model {
	return Model{}
}

// Sync pulls new lines from src. The scroll position resets to the bottom
// when anything new arrived.
func (m *Model) Sync(src Source) {
	if src == nil {
		return
	}
	lines, seq := src.Lines()
	if seq == m.seq {
		return
	}
	m.seq = seq
	m.Entries = lines
	m.Offset = 0
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	max := len(m.Entries) - 1
	if max < 0 {
		max = 0
	}
	if m.Offset > max {
		m.Offset = max
	}
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

// panelStyle returns the shared border style for the debug overlay.
func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the debug log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visibleLines := height - 6
	if visibleLines < 3 {
		visibleLines = 3
	}

	title := theme.StyleHeader.Render(" DEBUG LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d lines", len(m.Entries)))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  No log output yet.")
		content := lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help)
		return panelStyle(innerW).Render(content)
	}

	end := len(m.Entries) - m.Offset
	start := end - visibleLines
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}

	var lines []string
	for i := start; i < end; i++ {
		line := m.Entries[i]
		if innerW > 20 {
			line = theme.Truncate(line, innerW-4)
		}
		lines = append(lines, lipgloss.NewStyle().Foreground(levelColor(m.Entries[i])).Render(line))
	}

	body := strings.Join(lines, "\n")
	scrollIndicator := ""
	if m.Offset > 0 {
		scrollIndicator = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body, scrollIndicator, help)
	return panelStyle(innerW).Render(content)
}

// levelColor picks a color from the "| LEVEL |" column of a console line.
func levelColor(line string) lipgloss.Color {
	switch {
	case strings.Contains(line, "| ERROR"), strings.Contains(line, "| FATAL"), strings.Contains(line, "| PANIC"):
		return theme.ColorDanger
	case strings.Contains(line, "| WARN"):
		return theme.ColorWarning
	case strings.Contains(line, "| DEBUG"), strings.Contains(line, "| TRACE"):
		return theme.ColorDimmed
	default:
		return theme.ColorBright
	}
}
