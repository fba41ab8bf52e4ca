// Package exams renders the examiner's grading overview: assigned exams with
// their progress counts, and the submissions of one exam.
package exams

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/theme"
)

type Model struct {
	Exams   []api.AssignedExam
	Loading bool
	Err     error

	// OpenExamID is the exam whose submissions are listed; empty shows the
	// exam list.
	OpenExamID  string
	Submissions []api.ExamSubmission
	SubsLoading bool
	SubsErr     error

	cursor int
}

func New() Model { return Model{} }

// SetExams replaces the exam list.
func (m *Model) SetExams(list []api.AssignedExam, err error) {
	m.Exams = list
	m.Err = err
	m.Loading = false
	if m.cursor >= len(list) {
		m.cursor = 0
	}
}

// Open switches to the submissions of examID.
func (m *Model) Open(examID string) {
	m.OpenExamID = examID
	m.Submissions = nil
	m.SubsErr = nil
	m.SubsLoading = true
}

// SetSubmissions stores a submissions result. Results for an exam that is
// no longer open are dropped.
func (m *Model) SetSubmissions(examID string, list []api.ExamSubmission, err error) {
	if examID != m.OpenExamID {
		return
	}
	m.Submissions = list
	m.SubsErr = err
	m.SubsLoading = false
}

// Back returns from the submissions to the exam list. It reports false
// when the exam list was already showing.
func (m *Model) Back() bool {
	if m.OpenExamID == "" {
		return false
	}
	m.OpenExamID = ""
	m.Submissions = nil
	m.SubsErr = nil
	m.SubsLoading = false
	return true
}

func (m *Model) Up() {
	if m.OpenExamID == "" && len(m.Exams) > 0 {
		m.cursor = (m.cursor - 1 + len(m.Exams)) % len(m.Exams)
	}
}

func (m *Model) Down() {
	if m.OpenExamID == "" && len(m.Exams) > 0 {
		m.cursor = (m.cursor + 1) % len(m.Exams)
	}
}

// Highlighted returns the exam under the cursor.
func (m Model) Highlighted() (api.AssignedExam, bool) {
	if m.cursor < 0 || m.cursor >= len(m.Exams) {
		return api.AssignedExam{}, false
	}
	return m.Exams[m.cursor], true
}

func (m Model) exam(id string) (api.AssignedExam, bool) {
	for _, e := range m.Exams {
		if e.ExamID == id {
			return e, true
		}
	}
	return api.AssignedExam{}, false
}

// Progress summarizes an exam's grading counts.
func Progress(e api.AssignedExam) string {
	s := fmt.Sprintf("%d/%d graded", e.GradedSubmissions, e.TotalSubmissions)
	if e.PendingSubmissions > 0 {
		s += fmt.Sprintf(", %d pending", e.PendingSubmissions)
	}
	if e.ProcessingSubmissions > 0 {
		s += fmt.Sprintf(", %d processing", e.ProcessingSubmissions)
	}
	return s
}

// Score formats a total score; nil means not graded yet.
func Score(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func (m Model) View(width, height int) string {
	innerW := max(width-4, 30)
	var lines []string
	if m.OpenExamID == "" {
		lines = m.examsView(innerW)
	} else {
		lines = m.submissionsView(innerW, height)
	}
	return lipgloss.NewStyle().
		Width(innerW).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(strings.Join(lines, "\n"))
}

func (m Model) examsView(width int) []string {
	lines := []string{theme.StyleHeader.Render(fmt.Sprintf(" ASSIGNED EXAMS (%d) ", len(m.Exams))), ""}
	switch {
	case m.Loading:
		lines = append(lines, theme.StyleDimmed.Render("  Loading exams..."))
	case m.Err != nil:
		lines = append(lines, theme.StyleError.Render("  "+m.Err.Error()))
	case len(m.Exams) == 0:
		lines = append(lines, theme.StyleDimmed.Render("  No exams assigned to you."))
	}
	for i, e := range m.Exams {
		name := e.ExamName
		if name == "" {
			name = e.ExamID
		}
		if e.SubjectName != "" {
			name += " · " + e.SubjectName
		}
		row := "  " + theme.Truncate(name, max(width-30, 10)) + "  " + theme.StyleDimmed.Render(Progress(e))
		if i == m.cursor {
			row = theme.StyleSelected.Render("> " + strings.TrimPrefix(row, "  "))
		}
		lines = append(lines, row)
	}
	return append(lines, "", theme.StyleDimmed.Render("enter:submissions  esc:close"))
}

func (m Model) submissionsView(width, height int) []string {
	title := m.OpenExamID
	if e, ok := m.exam(m.OpenExamID); ok && e.ExamName != "" {
		title = e.ExamName
	}
	lines := []string{theme.StyleHeader.Render(" " + title + " "), ""}
	switch {
	case m.SubsLoading:
		lines = append(lines, theme.StyleDimmed.Render("  Loading submissions..."))
	case m.SubsErr != nil:
		lines = append(lines, theme.StyleError.Render("  "+m.SubsErr.Error()))
	case len(m.Submissions) == 0:
		lines = append(lines, theme.StyleDimmed.Render("  No submissions yet."))
	}
	rows := max(height-8, 3)
	for i, s := range m.Submissions {
		if i >= rows {
			lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf("  … %d more", len(m.Submissions)-i)))
			break
		}
		who := strings.TrimSpace(s.StudentID + " " + s.StudentName)
		lines = append(lines, fmt.Sprintf("  %-*s %-12s %6s",
			max(width-26, 10), theme.Truncate(who, max(width-26, 10)), s.Status, Score(s.TotalScore)))
	}
	return append(lines, "", theme.StyleDimmed.Render("esc:back"))
}
