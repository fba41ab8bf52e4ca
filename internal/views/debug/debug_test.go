package debug

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/examdesk/examdesk/internal/logging"
	"github.com/examdesk/examdesk/internal/theme"
)

func fill(t *logging.Tail, n int) {
	for i := 0; i < n; i++ {
		fmt.Fprintf(t, "12:00:00 | INFO  |  msg %d\n", i)
	}
}

func TestSyncPullsNewLines(t *testing.T) {
	tail := logging.NewTail(50)
	m := New()
	m.Sync(tail)
	if len(m.Entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(m.Entries))
	}

	fill(tail, 3)
	m.Sync(tail)
	if len(m.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(m.Entries))
	}
	if !strings.Contains(m.Entries[2], "msg 2") {
		t.Errorf("expected newest last, got %q", m.Entries[2])
	}
}

func TestSyncNilSource(t *testing.T) {
	m := New()
	m.Sync(nil)
	if len(m.Entries) != 0 {
		t.Error("nil source should leave the model empty")
	}
}

func TestScrollUpDown(t *testing.T) {
	tail := logging.NewTail(50)
	fill(tail, 20)
	m := New()
	m.Sync(tail)
	if m.Offset != 0 {
		t.Fatal("expected offset 0 after sync")
	}

	m.ScrollUp(5)
	if m.Offset != 5 {
		t.Errorf("expected offset 5, got %d", m.Offset)
	}

	m.ScrollDown(3)
	if m.Offset != 2 {
		t.Errorf("expected offset 2, got %d", m.Offset)
	}

	m.ScrollDown(10) // shouldn't go below 0
	if m.Offset != 0 {
		t.Errorf("expected offset 0, got %d", m.Offset)
	}
}

func TestScrollUpCapped(t *testing.T) {
	tail := logging.NewTail(50)
	fill(tail, 5)
	m := New()
	m.Sync(tail)
	m.ScrollUp(100)
	if m.Offset != 4 { // max is len-1
		t.Errorf("expected offset 4, got %d", m.Offset)
	}
}

func TestSyncResetsScrollOnlyOnNewLines(t *testing.T) {
	tail := logging.NewTail(50)
	fill(tail, 10)
	m := New()
	m.Sync(tail)
	m.ScrollUp(5)

	m.Sync(tail)
	if m.Offset != 5 {
		t.Error("sync without new lines should keep the scroll position")
	}

	fill(tail, 1)
	m.Sync(tail)
	if m.Offset != 0 {
		t.Error("new lines should reset scroll to 0")
	}
}

func TestViewEmpty(t *testing.T) {
	m := New()
	v := m.View(80, 20)
	if !strings.Contains(v, "No log output") {
		t.Error("empty view should show 'No log output' message")
	}
}

func TestViewWithEntries(t *testing.T) {
	tail := logging.NewTail(50)
	fmt.Fprintln(tail, "12:00:00 | INFO  |  hub connected")
	fmt.Fprintln(tail, "12:00:01 | ERROR |  upload timeout")
	m := New()
	m.Sync(tail)
	v := m.View(80, 20)
	if !strings.Contains(v, "hub connected") {
		t.Error("view should contain 'hub connected'")
	}
	if !strings.Contains(v, "upload timeout") {
		t.Error("view should contain 'upload timeout'")
	}
}

func TestViewTruncatesByRune(t *testing.T) {
	tail := logging.NewTail(50)
	fmt.Fprintln(tail, "12:00:00 | INFO  |  roster loaded for "+strings.Repeat("Nguyễn Thị Hồng ", 20))
	m := New()
	m.Sync(tail)
	v := m.View(60, 20)
	if !utf8.ValidString(v) {
		t.Fatal("view split a multi-byte rune")
	}
	if !strings.Contains(v, "…") {
		t.Error("long line should end with an ellipsis")
	}
}

func TestLevelColor(t *testing.T) {
	if levelColor("x | ERROR | y") != theme.ColorDanger {
		t.Error("error lines should be red")
	}
	if levelColor("x | WARN  | y") != theme.ColorWarning {
		t.Error("warn lines should be amber")
	}
	if levelColor("x | INFO  | y") != theme.ColorBright {
		t.Error("info lines should be bright")
	}
}
