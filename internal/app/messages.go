package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/notify"
)

// Messages produced by commands.
type (
	sessionsMsg struct {
		list []api.Session
		err  error
	}
	uploadDoneMsg struct {
		res *api.UploadResult
		err error
	}
	examsMsg struct {
		list []api.AssignedExam
		err  error
	}
	examSubmissionsMsg struct {
		examID string
		list   []api.ExamSubmission
		err    error
	}
	// opDoneMsg reports the outcome of a background workflow call.
	opDoneMsg struct {
		op  string
		err error
	}
	applyDoneMsg  struct{}
	refreshDueMsg struct{}
	logTickMsg    struct{}
)

// Messages posted from other goroutines through the inbox.
type (
	stateChangedMsg struct{}
	statusMsg       struct{}
	pushMsg         struct{ ev notify.Event }
)

// inboxMsg carries a posted message into Update.
type inboxMsg struct{ inner tea.Msg }

// inbox bridges callbacks that run on hub and workflow goroutines into the
// Bubble Tea loop. Posting never blocks; when the buffer is full the message
// is dropped, which is safe because every inbox message makes the model
// re-read the workflow and hub state.
type inbox struct {
	ch chan tea.Msg
}

func newInbox(size int) *inbox {
	return &inbox{ch: make(chan tea.Msg, size)}
}

func (in *inbox) post(msg tea.Msg) {
	select {
	case in.ch <- msg:
	default:
	}
}

// wait returns a command that delivers the next posted message.
func (in *inbox) wait(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-in.ch:
			return inboxMsg{inner: msg}
		case <-ctx.Done():
			return nil
		}
	}
}
