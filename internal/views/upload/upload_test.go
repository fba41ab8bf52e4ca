package upload

import (
	"errors"
	"fmt"
	"testing"

	"github.com/examdesk/examdesk/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathTrimsQuotes(t *testing.T) {
	m := New()
	m.SetPath(`  "/tmp/SE1.zip" `)
	assert.Equal(t, "/tmp/SE1.zip", m.Path())
	m.SetPath(`'/tmp/My Batch.zip'`)
	assert.Equal(t, "/tmp/My Batch.zip", m.Path())
}

func TestModeToggleLockedWhileUploading(t *testing.T) {
	m := New()
	m.ToggleMode()
	assert.True(t, m.Nested)

	require.NotNil(t, m.Begin())
	m.ToggleMode()
	assert.True(t, m.Nested)
	assert.Contains(t, m.View(100, "Slot 1"), "Uploading...")
}

func TestFinish(t *testing.T) {
	m := New()
	m.Open()
	m.SetPath("/tmp/a.zip")
	m.Begin()
	m.Finish(&api.UploadResult{CreatedSubmissions: make([]api.SubmissionRecord, 2)}, nil)
	assert.False(t, m.Uploading)
	assert.Empty(t, m.Path())
	assert.False(t, m.Active())
	assert.Contains(t, m.View(100, "Slot 1"), "2 submission(s) created")

	m.Begin()
	m.Finish(nil, errors.New("Session not found"))
	assert.Contains(t, m.View(100, "Slot 1"), "Upload failed: Session not found")
}

func TestErrorTextTimeoutHint(t *testing.T) {
	assert.Empty(t, ErrorText(nil))
	assert.NotContains(t, ErrorText(errors.New("boom")), TimeoutHint)
	assert.Contains(t, ErrorText(fmt.Errorf("nested: %w", api.ErrUploadTimeout)), TimeoutHint)
}

func TestViewWithoutSession(t *testing.T) {
	assert.Contains(t, New().View(80, ""), "Please select a session first")
}
