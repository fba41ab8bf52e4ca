// Package upload is the archive upload form: a path input, a normal or
// nested mode toggle and a spinner while the upload runs.
package upload

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/theme"
)

// TimeoutHint is appended to upload errors caused by the client deadline.
const TimeoutHint = "The file may be too large or the server is still processing it."

type Model struct {
	Nested    bool
	Uploading bool
	Err       error
	// Result summarizes the last successful upload.
	Result string

	path    textinput.Model
	spinner spinner.Model
}

func New() Model {
	ti := textinput.New()
	ti.Placeholder = "path to .zip or .rar"
	ti.Prompt = "Archive: "
	ti.CharLimit = 1024
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorFocus)
	return Model{path: ti, spinner: s}
}

// Open focuses the path input and clears the previous outcome.
func (m *Model) Open() tea.Cmd {
	m.Err = nil
	m.Result = ""
	return m.path.Focus()
}

// Close blurs the input.
func (m *Model) Close() { m.path.Blur() }

// Active reports whether the form has keyboard focus.
func (m Model) Active() bool { return m.path.Focused() }

// Path returns the entered path with surrounding quotes and space removed,
// as pasted by most terminals when a file is dropped.
func (m Model) Path() string {
	p := strings.TrimSpace(m.path.Value())
	return strings.Trim(p, `"'`)
}

// SetPath replaces the input value.
func (m *Model) SetPath(p string) { m.path.SetValue(p) }

// ToggleMode switches between normal and nested upload. Ignored while
// uploading.
func (m *Model) ToggleMode() {
	if !m.Uploading {
		m.Nested = !m.Nested
	}
}

// Begin marks the upload as running and starts the spinner.
func (m *Model) Begin() tea.Cmd {
	m.Uploading = true
	m.Err = nil
	m.Result = ""
	return m.spinner.Tick
}

// Finish records the outcome and resets the input on success.
func (m *Model) Finish(res *api.UploadResult, err error) {
	m.Uploading = false
	if err != nil {
		m.Err = err
		return
	}
	m.path.SetValue("")
	m.path.Blur()
	n := 0
	if res != nil {
		n = len(res.CreatedSubmissions)
	}
	m.Result = fmt.Sprintf("Uploaded: %d submission(s) created", n)
}

// Update forwards input and spinner messages.
func (m *Model) Update(msg tea.Msg) tea.Cmd {
	if _, ok := msg.(spinner.TickMsg); ok {
		if !m.Uploading {
			return nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return cmd
	}
	if m.Uploading {
		return nil
	}
	var cmd tea.Cmd
	m.path, cmd = m.path.Update(msg)
	return cmd
}

// ErrorText is the message shown for a failed upload.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	msg := "Upload failed: " + err.Error()
	if errors.Is(err, api.ErrUploadTimeout) {
		msg += " " + TimeoutHint
	}
	return msg
}

func (m Model) View(width int, sessionName string) string {
	innerW := max(width-4, 30)

	normal, nested := "( ) Normal upload", "( ) Nested ZIP (one submission per inner archive)"
	if m.Nested {
		nested = "(•)" + nested[3:]
	} else {
		normal = "(•)" + normal[3:]
	}

	lines := []string{theme.StyleHeader.Render("Upload Submissions")}
	if sessionName == "" {
		lines = append(lines, theme.StyleError.Render("Please select a session first"))
	} else {
		lines = append(lines, theme.StyleDimmed.Render("Session: "+sessionName))
	}
	lines = append(lines, normal+"   "+nested, m.path.View())

	if p := m.Path(); p != "" {
		lines = append(lines, theme.StyleDimmed.Render(filepath.Base(p)))
	}

	switch {
	case m.Uploading:
		lines = append(lines, m.spinner.View()+" Uploading...")
	case m.Err != nil:
		lines = append(lines, theme.StyleError.Width(innerW-2).Render(ErrorText(m.Err)))
	case m.Result != "":
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render(m.Result))
	}
	lines = append(lines, theme.StyleDimmed.Render("enter:upload  ctrl+n:toggle mode  esc:close"))

	return theme.Pane(true).Width(innerW).Padding(0, 1).Render(strings.Join(lines, "\n"))
}
