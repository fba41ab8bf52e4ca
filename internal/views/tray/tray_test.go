package tray

import (
	"testing"

	"github.com/examdesk/examdesk/internal/hub"
	"github.com/examdesk/examdesk/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyTray(t *testing.T) {
	m := New()
	v := m.View(80, 10)
	assert.Contains(t, v, "No notifications received yet")
	assert.Contains(t, v, "0 events")
	assert.Contains(t, v, "Idle")
	assert.NotContains(t, v, "x:clear")
}

func TestTrayListsItems(t *testing.T) {
	m := New()
	m.Status = hub.StatusConnected
	m.Items = []notify.Item{{EventType: "SubmissionUploaded", Message: "SE1 uploaded SE1.zip", Timestamp: "not a time"}}
	v := m.View(100, 10)
	assert.Contains(t, v, "1 event")
	assert.Contains(t, v, "Connected")
	assert.Contains(t, v, "SE1 uploaded")
	assert.Contains(t, v, "not a time")
}

func TestPulseSettles(t *testing.T) {
	m := New()
	require.NotNil(t, m.Flash())
	assert.True(t, m.Animating())
	assert.Nil(t, m.Flash(), "a running pulse is restarted, not doubled")

	frames := 0
	for m.Animating() && frames < 1000 {
		m.Update(FrameMsg{})
		frames++
	}
	assert.False(t, m.Animating())
	assert.Less(t, frames, 1000)
	assert.Nil(t, m.Update(FrameMsg{}))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "", FormatTime(""))
	assert.Equal(t, "garbage", FormatTime("garbage"))
	assert.Len(t, FormatTime("2026-06-15T07:30:00Z"), 8)
}
