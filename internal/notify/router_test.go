package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/examdesk/examdesk/internal/hub"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub records calls and dispatches pushes to registered handlers.
type fakeHub struct {
	mu        sync.Mutex
	status    hub.Status
	lastErr   error
	startErr  error
	startGate chan struct{} // when set, Start waits for it
	starts    int
	calls     []string
	handlers  map[string][]*hub.Handler
	listeners []func(hub.Status)
}

func newFakeHub() *fakeHub {
	return &fakeHub{status: hub.StatusIdle, handlers: make(map[string][]*hub.Handler)}
}

func (f *fakeHub) Start(context.Context) error {
	f.mu.Lock()
	f.starts++
	err := f.startErr
	gate := f.startGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		f.setStatus(hub.StatusError)
		return err
	}
	f.setStatus(hub.StatusConnected)
	return nil
}

func (f *fakeHub) Stop() { f.setStatus(hub.StatusIdle) }

func (f *fakeHub) On(event string, h hub.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &h
	f.handlers[event] = append(f.handlers[event], p)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		list := f.handlers[event]
		for i, x := range list {
			if x == p {
				f.handlers[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (f *fakeHub) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeHub) SubscribeToExam(_ context.Context, id string)     { f.record("SubscribeToExam:" + id) }
func (f *fakeHub) UnsubscribeFromExam(_ context.Context, id string) { f.record("UnsubscribeFromExam:" + id) }
func (f *fakeHub) SubscribeToManagers(context.Context)              { f.record("SubscribeToManagers") }
func (f *fakeHub) SubscribeToModerators(context.Context)            { f.record("SubscribeToModerators") }
func (f *fakeHub) SubscribeToExaminers(context.Context)             { f.record("SubscribeToExaminers") }

func (f *fakeHub) Status() hub.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeHub) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakeHub) OnStatusChange(fn func(hub.Status)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	idx := len(f.listeners) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listeners[idx] = nil
		f.mu.Unlock()
	}
}

func (f *fakeHub) setStatus(s hub.Status) {
	f.mu.Lock()
	if f.status == s {
		f.mu.Unlock()
		return
	}
	f.status = s
	ls := append([]func(hub.Status){}, f.listeners...)
	f.mu.Unlock()
	for _, l := range ls {
		if l != nil {
			l(s)
		}
	}
}

func (f *fakeHub) push(event string, payload string) {
	f.mu.Lock()
	hs := append([]*hub.Handler{}, f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		(*h)(event, json.RawMessage(payload))
	}
}

func (f *fakeHub) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.handlers {
		n += len(l)
	}
	return n
}

func (f *fakeHub) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeHub) resetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func TestApplyStartsAndRegistersHandlers(t *testing.T) {
	h := newFakeHub()
	r := NewRouter(h, zerolog.Nop())
	ctx := context.Background()

	var got []Event
	r.Apply(ctx, Config{
		Enabled: true,
		Handlers: map[EventType]Handler{
			EventSubmissionUploaded: func(ev Event) error { got = append(got, ev); return nil },
		},
		ExamID:                 "exam-1",
		AutoSubscribeManagers:  true,
		AutoSubscribeExaminers: true,
	})

	assert.Equal(t, 1, h.starts)
	assert.True(t, r.IsConnected())
	assert.Equal(t, []string{"SubscribeToExam:exam-1", "SubscribeToManagers", "SubscribeToExaminers"}, h.callList())

	h.push("SubmissionUploaded", `{"sessionId":"s-1"}`)
	require.Len(t, got, 1)
	up, ok := got[0].(SubmissionUploaded)
	require.True(t, ok)
	assert.Equal(t, "s-1", up.SessionID)
}

func TestApplyDisabledDoesNothing(t *testing.T) {
	h := newFakeHub()
	r := NewRouter(h, zerolog.Nop())

	r.Apply(context.Background(), Config{
		Enabled:  false,
		Handlers: map[EventType]Handler{EventNotification: func(Event) error { return nil }},
		ExamID:   "exam-1",
	})
	assert.Zero(t, h.starts)
	assert.Zero(t, h.handlerCount())
	assert.Empty(t, h.callList())
}

func TestApplyReplacementWithdrawsOldHandlers(t *testing.T) {
	h := newFakeHub()
	r := NewRouter(h, zerolog.Nop())
	ctx := context.Background()

	var oldCalls, newCalls int
	r.Apply(ctx, Config{Enabled: true, Handlers: map[EventType]Handler{
		EventNotification: func(Event) error { oldCalls++; return nil },
	}})
	r.Apply(ctx, Config{Enabled: true, Handlers: map[EventType]Handler{
		EventNotification: func(Event) error { newCalls++; return nil },
	}})

	h.push("Notification", `{}`)
	assert.Zero(t, oldCalls)
	assert.Equal(t, 1, newCalls)
	assert.Equal(t, 1, h.handlerCount())
	assert.Equal(t, 1, h.starts, "start only when becoming enabled")
}

func TestExamChangeUnsubscribesOldFirst(t *testing.T) {
	h := newFakeHub()
	r := NewRouter(h, zerolog.Nop())
	ctx := context.Background()

	r.Apply(ctx, Config{Enabled: true, ExamID: "exam-1", AutoSubscribeManagers: true})
	h.resetCalls()

	r.Apply(ctx, Config{Enabled: true, ExamID: "exam-2", AutoSubscribeManagers: true})
	assert.Equal(t, []string{"UnsubscribeFromExam:exam-1", "SubscribeToExam:exam-2"}, h.callList(),
		"broadcast topics are not joined twice")

	h.resetCalls()
	r.Apply(ctx, Config{Enabled: true, ExamID: "exam-2", AutoSubscribeManagers: true})
	assert.Empty(t, h.callList())

	r.Apply(ctx, Config{Enabled: false, ExamID: "exam-2"})
	assert.Equal(t, []string{"UnsubscribeFromExam:exam-2"}, h.callList())
}

func TestOverlappingAppliesLeaveOnlyNewestExam(t *testing.T) {
	h := newFakeHub()
	h.startGate = make(chan struct{})
	r := NewRouter(h, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Apply(ctx, Config{Enabled: true, ExamID: "exam-1"})
	}()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.starts == 1
	}, time.Second, 5*time.Millisecond)

	go func() {
		defer wg.Done()
		r.Apply(ctx, Config{Enabled: true, ExamID: "exam-2"})
	}()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.callList(), "second config waits for the first to finish")

	close(h.startGate)
	wg.Wait()

	assert.Equal(t, []string{
		"SubscribeToExam:exam-1",
		"UnsubscribeFromExam:exam-1",
		"SubscribeToExam:exam-2",
	}, h.callList())
	assert.Equal(t, 1, h.starts)
}

func TestCloseWithdrawsEverything(t *testing.T) {
	h := newFakeHub()
	r := NewRouter(h, zerolog.Nop())
	ctx := context.Background()

	calls := 0
	r.Apply(ctx, Config{
		Enabled:  true,
		ExamID:   "exam-9",
		Handlers: map[EventType]Handler{EventSubmissionGraded: func(Event) error { calls++; return nil }},
	})
	h.resetCalls()

	r.Close(ctx)
	r.Close(ctx)

	h.push("SubmissionGraded", `{}`)
	assert.Zero(t, calls)
	assert.Zero(t, h.handlerCount())
	assert.Equal(t, []string{"UnsubscribeFromExam:exam-9"}, h.callList())
	assert.Equal(t, hub.StatusConnected, h.Status(), "closing a consumer leaves the shared hub running")

	// Apply after Close is ignored.
	r.Apply(ctx, Config{Enabled: true, ExamID: "exam-10"})
	assert.Equal(t, []string{"UnsubscribeFromExam:exam-9"}, h.callList())
}

func TestStartFailureIsRecordedNotReturned(t *testing.T) {
	h := newFakeHub()
	boom := errors.New("dial failed")
	h.startErr = boom
	h.lastErr = boom
	r := NewRouter(h, zerolog.Nop())

	r.Apply(context.Background(), Config{Enabled: true})
	assert.Equal(t, boom, r.LastError())
	assert.Equal(t, hub.StatusError, r.Status())
	assert.False(t, r.IsConnected())

	h.mu.Lock()
	h.startErr = nil
	h.mu.Unlock()
	require.NoError(t, r.Reconnect(context.Background()))
	assert.True(t, r.IsConnected())
}

func TestResubscribeAfterReconnect(t *testing.T) {
	h := newFakeHub()
	r := NewRouter(h, zerolog.Nop())
	ctx := context.Background()

	r.Apply(ctx, Config{Enabled: true, ExamID: "exam-1", AutoSubscribeModerators: true})
	h.resetCalls()

	h.setStatus(hub.StatusReconnecting)
	h.setStatus(hub.StatusConnected)

	require.Eventually(t, func() bool { return len(h.callList()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"SubscribeToExam:exam-1", "SubscribeToModerators"}, h.callList())

	// A manual restart (idle -> connected) is not an automatic reconnect.
	h.resetCalls()
	h.Stop()
	h.setStatus(hub.StatusConnected)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.callList())
	r.Close(ctx)
}

func TestStopPassesThrough(t *testing.T) {
	h := newFakeHub()
	r := NewRouter(h, zerolog.Nop())
	r.Apply(context.Background(), Config{Enabled: true})

	var seen []hub.Status
	unsubscribe := r.OnStatusChange(func(s hub.Status) { seen = append(seen, s) })
	r.Stop()
	unsubscribe()

	assert.Equal(t, hub.StatusIdle, r.Status())
	assert.Equal(t, []hub.Status{hub.StatusIdle}, seen)
}

func TestRouterFeedsNotificationList(t *testing.T) {
	h := newFakeHub()
	r := NewRouter(h, zerolog.Nop())
	feed := NewFeed(0)

	handlers := map[EventType]Handler{}
	for _, ev := range KnownEvents {
		handlers[ev] = feed.Handler()
	}
	r.Apply(context.Background(), Config{Enabled: true, Handlers: handlers})

	h.push("SubmissionUploaded", `{"message":"1 file"}`)
	h.push("Notification", `{"eventType":"ExamPublished"}`)

	items := feed.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "ExamPublished", items[0].EventType)
	assert.True(t, strings.HasPrefix(items[1].Message, "1 file"))
}
