package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// fakeConn is an in-memory Conn. It answers the handshake and completes
// invocations on its own, so tests only drive server pushes and drops.
type fakeConn struct {
	t *fakeTransport

	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	dropErr   error

	mu      sync.Mutex
	invoked []Message
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-f.in:
		return d, nil
	case <-f.closed:
		if f.dropErr != nil {
			return nil, f.dropErr
		}
		return nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	for _, frame := range SplitFrames(data) {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(frame, &probe); err != nil {
			continue
		}
		if _, ok := probe["protocol"]; ok {
			f.push(HandshakeResponse{Error: f.t.handshakeError})
			continue
		}
		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil || msg.Type != MsgInvocation {
			continue
		}
		f.mu.Lock()
		f.invoked = append(f.invoked, msg)
		f.mu.Unlock()
		f.t.recordInvoke(msg)

		reply := Message{Type: MsgCompletion, InvocationID: msg.InvocationID}
		if e, ok := f.t.invokeError(msg.Target); ok {
			reply.Error = e
		}
		f.push(reply)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.t.mu.Lock()
	gate, closing := f.t.closeGate, f.t.closing
	f.t.mu.Unlock()
	if gate != nil {
		select {
		case closing <- struct{}{}:
		default:
		}
		<-gate
	}
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(v any) {
	frame, _ := EncodeFrame(v)
	select {
	case f.in <- frame:
	case <-f.closed:
	}
}

// pushEvent delivers a server invocation of target with one argument.
func (f *fakeConn) pushEvent(target string, payload any) {
	msg, _ := NewInvocation("", target, payload)
	f.push(msg)
}

// drop fails the next read as if the network went away.
func (f *fakeConn) drop() {
	f.dropErr = errors.New("connection reset by peer")
	f.Close()
}

type fakeTransport struct {
	mu             sync.Mutex
	opens          int
	tokens         []string
	conns          []*fakeConn
	failFrom       int // opens numbered >= failFrom fail when failFrom > 0
	failAll        error
	block          chan struct{}
	closeGate      chan struct{} // when set, Close waits for it
	closing        chan struct{} // signalled as Close starts waiting
	handshakeError string
	invokeErrors   map[string]string
	invocations    []Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{invokeErrors: make(map[string]string)}
}

func (t *fakeTransport) Open(ctx context.Context, endpoint, token string) (Conn, error) {
	t.mu.Lock()
	t.opens++
	n := t.opens
	t.tokens = append(t.tokens, token)
	block := t.block
	failAll := t.failAll
	failFrom := t.failFrom
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failAll != nil {
		return nil, failAll
	}
	if failFrom > 0 && n >= failFrom {
		return nil, errors.New("connection refused")
	}

	c := &fakeConn{t: t, in: make(chan []byte, 64), closed: make(chan struct{})}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func (t *fakeTransport) recordInvoke(msg Message) {
	t.mu.Lock()
	t.invocations = append(t.invocations, msg)
	t.mu.Unlock()
}

func (t *fakeTransport) invokeError(target string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.invokeErrors[target]
	return e, ok
}

func (t *fakeTransport) targets() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, m := range t.invocations {
		out = append(out, m.Target)
	}
	return out
}

// statusRecorder collects every status delivered to a listener.
type statusRecorder struct {
	mu   sync.Mutex
	seen []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	r.seen = append(r.seen, s)
	r.mu.Unlock()
}

func (r *statusRecorder) list() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.seen...)
}

func (r *statusRecorder) last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		return ""
	}
	return r.seen[len(r.seen)-1]
}

func staticToken(tok string) TokenProvider {
	return TokenFunc(func(context.Context) string { return tok })
}
