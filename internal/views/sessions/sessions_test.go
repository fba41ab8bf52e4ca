package sessions

import (
	"testing"

	"github.com/examdesk/examdesk/internal/api"
	"github.com/stretchr/testify/assert"
)

var list = []api.Session{
	{SessionID: "11111111-1111-1111-1111-111111111111", SessionName: "Slot 1", IsActive: true},
	{SessionID: "33333333-3333-3333-3333-333333333333", ExamName: "PRN231", IsActive: true},
	{SessionID: "44444444-4444-4444-4444-444444444444"},
}

func TestSetSessionsKeepsSelection(t *testing.T) {
	m := New()
	m.SelectedID = "33333333-3333-3333-3333-333333333333"
	m.SetSessions(list)

	h, ok := m.Highlighted()
	assert.True(t, ok)
	assert.Equal(t, list[1].SessionID, h.SessionID)

	sel, ok := m.Selected()
	assert.True(t, ok)
	assert.Equal(t, "PRN231", DisplayName(sel))

	m.Down()
	m.Down()
	h, _ = m.Highlighted()
	assert.Equal(t, list[0].SessionID, h.SessionID)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Slot 1", DisplayName(list[0]))
	assert.Equal(t, "PRN231", DisplayName(list[1]))
	assert.Equal(t, "44444444", DisplayName(list[2]))
	assert.Equal(t, "abc", DisplayName(api.Session{SessionID: "abc"}))
}

func TestView(t *testing.T) {
	m := New()
	assert.Contains(t, m.View(60, 10), "Loading sessions...")

	m.SetSessions(nil)
	assert.Contains(t, m.View(60, 10), "No sessions available")

	m.SetSessions(list)
	m.Focused = true
	v := m.View(80, 10)
	assert.Contains(t, v, "> ○ Slot 1")
	assert.Contains(t, v, "(inactive)")
}

func TestActiveOnlyTitle(t *testing.T) {
	m := New()
	m.SetSessions(list)
	assert.NotContains(t, m.View(60, 10), "active only")

	m.ActiveOnly = true
	assert.Contains(t, m.View(60, 10), "Sessions (active only)")
}
