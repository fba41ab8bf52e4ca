package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"Debug", zerolog.DebugLevel},
		{"information", zerolog.InfoLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"critical", zerolog.FatalLevel},
		{"none", zerolog.Disabled},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewWritesFileAndExtras(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "examdesk.log")
	var buf bytes.Buffer

	logger, closer, err := New("debug", path, &buf)
	require.NoError(t, err)

	Component(logger, "hub").Info().Str("status", "connected").Msg("status changed")
	Component(logger, "hub").Trace().Msg("below level")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "status changed")
	assert.Contains(t, string(data), "component=hub")
	assert.NotContains(t, string(data), "below level")
	assert.Contains(t, buf.String(), "status changed")
}

func TestNewNoSinks(t *testing.T) {
	logger, closer, err := New("info", "")
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	logger.Info().Msg("dropped")
}

func TestTailKeepsNewest(t *testing.T) {
	tail := NewTail(3)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(tail, "line %d\n", i)
	}

	lines, total := tail.Lines()
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, lines)
	assert.Equal(t, uint64(5), total)
}

func TestTailSplitsMultiline(t *testing.T) {
	tail := NewTail(10)
	_, err := tail.Write([]byte("a\nb\n\nc"))
	require.NoError(t, err)

	lines, _ := tail.Lines()
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}
