// Package artifacts shows what the backend extracted from a submission:
// the image list and the text rendered as markdown.
package artifacts

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/theme"
)

type Tab int

const (
	TabImages Tab = iota
	TabText
)

type Model struct {
	Tab     Tab
	Focused bool

	SubmissionID  string
	// Student labels the submission on display; empty hides the header.
	Student       string
	Images        []api.Image
	LoadingImages bool
	ImagesErr     error
	LoadingText   bool
	TextErr       error

	text     string
	rendered string
	width    int
	style    string
	vp       viewport.Model
}

// New creates the model. style is a glamour standard style name ("dark",
// "light", "notty"); empty selects "dark".
func New(style string) Model {
	if style == "" {
		style = "dark"
	}
	return Model{style: style, vp: viewport.New(40, 10)}
}

// Toggle switches between the image and text tabs.
func (m *Model) Toggle() {
	if m.Tab == TabImages {
		m.Tab = TabText
	} else {
		m.Tab = TabImages
	}
}

// SetText replaces the extracted text, re-rendering only when it changed.
func (m *Model) SetText(text string) {
	if text == m.text && m.rendered != "" {
		return
	}
	m.text = text
	m.render()
}

// Text returns the raw extracted text.
func (m Model) Text() string { return m.text }

// SetSize resizes the text viewport. Markdown is re-wrapped on width change.
func (m *Model) SetSize(width, height int) {
	w := max(width-4, 20)
	m.vp.Width = w
	m.vp.Height = max(height-5, 3)
	if w != m.width {
		m.width = w
		m.render()
	}
}

func (m *Model) render() {
	if strings.TrimSpace(m.text) == "" {
		m.rendered = ""
		m.vp.SetContent("")
		return
	}
	out := m.text
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithWordWrap(max(m.width-2, 20)),
	)
	if err == nil {
		if s, err := r.Render(m.text); err == nil {
			out = s
		}
	}
	m.rendered = out
	m.vp.SetContent(out)
	m.vp.GotoTop()
}

// Update scrolls the text viewport.
func (m *Model) Update(msg tea.Msg) tea.Cmd {
	if m.Tab != TabText {
		return nil
	}
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return cmd
}

func (m Model) tabs() string {
	img := fmt.Sprintf(" Images (%d) ", len(m.Images))
	txt := " Text "
	on := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBg).Background(theme.ColorFocus)
	off := theme.StyleDimmed
	if m.Tab == TabImages {
		return on.Render(img) + " " + off.Render(txt)
	}
	return off.Render(img) + " " + on.Render(txt)
}

func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	lines := []string{m.tabs()}

	if m.SubmissionID == "" && !m.LoadingImages && !m.LoadingText {
		lines = append(lines, "", theme.StyleDimmed.Render("  Upload a submission or pick a student to see extracted content."))
		return theme.Pane(m.Focused).Width(innerW).Padding(0, 1).Render(strings.Join(lines, "\n"))
	}

	rows := height - 4
	if m.Student != "" {
		lines = append(lines, theme.StyleHeader.Render(theme.Truncate(m.Student, innerW-2)))
		rows--
	}
	if m.Tab == TabImages {
		lines = append(lines, m.imagesView(innerW, rows)...)
	} else {
		lines = append(lines, m.textView()...)
	}
	return theme.Pane(m.Focused).Width(innerW).Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func (m Model) imagesView(width, rows int) []string {
	switch {
	case m.LoadingImages:
		return []string{theme.StyleDimmed.Render("  Loading images...")}
	case m.ImagesErr != nil:
		return []string{theme.StyleError.Render("  " + m.ImagesErr.Error())}
	case len(m.Images) == 0:
		return []string{theme.StyleDimmed.Render("  No images found. Upload a submission to see extracted images.")}
	}
	out := []string{theme.StyleHeader.Render(fmt.Sprintf("Extracted Images (%d)", len(m.Images)))}
	for i, img := range m.Images {
		if i >= max(rows-1, 1) {
			out = append(out, theme.StyleDimmed.Render(fmt.Sprintf("  … %d more", len(m.Images)-i)))
			break
		}
		name := theme.Truncate(img.ImageName, 32)
		out = append(out, fmt.Sprintf("  %-32s %10s  %s", name, FormatSize(img.ImageSize),
			theme.StyleDimmed.Render(theme.Truncate(img.URL, max(width-48, 8)))))
	}
	return out
}

func (m Model) textView() []string {
	switch {
	case m.LoadingText:
		return []string{theme.StyleDimmed.Render("  Loading text...")}
	case m.TextErr != nil:
		return []string{theme.StyleError.Render("  " + m.TextErr.Error())}
	case m.rendered == "":
		return []string{theme.StyleDimmed.Render("  No text extracted.")}
	}
	out := []string{m.vp.View()}
	if !m.vp.AtBottom() || !m.vp.AtTop() {
		out = append(out, theme.StyleDimmed.Render(fmt.Sprintf("%3.0f%%  pgup/pgdn:scroll", m.vp.ScrollPercent()*100)))
	}
	return out
}

// StudentLabel joins the non-empty identifying fields of r.
func StudentLabel(r api.SubmissionRecord) string {
	var parts []string
	for _, p := range []string{r.StudentID, r.StudentName, r.FileName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " · ")
}

// FormatSize renders a byte count in 1024-based units with up to two
// decimals, e.g. "1.5 KB".
func FormatSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	i = min(i, len(units)-1)
	v := float64(n) / math.Pow(1024, float64(i))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + units[i]
}
