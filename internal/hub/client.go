// Package hub is the real-time notification client. A Client owns at most
// one live connection to the backend hub, speaks the JSON hub protocol over
// it, reconnects on a fixed delay schedule and fans pushed events out to
// locally registered handlers.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/examdesk/examdesk/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPingInterval     = 15 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
)

// DefaultReconnectDelays is the automatic reconnect schedule: immediately,
// then 2s, 5s and 10s, with the last delay repeated.
var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second}

// Server-side methods invoked by the subscription helpers.
const (
	MethodSubscribeToExam       = "SubscribeToExam"
	MethodUnsubscribeFromExam   = "UnsubscribeFromExam"
	MethodSubscribeToManagers   = "SubscribeToManagerNotifications"
	MethodSubscribeToModerators = "SubscribeToModeratorNotifications"
	MethodSubscribeToExaminers  = "SubscribeToExaminerNotifications"
)

// TokenProvider supplies the bearer token for a connection attempt. An
// empty string means no token is available.
type TokenProvider interface {
	Token(ctx context.Context) string
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) string

func (f TokenFunc) Token(ctx context.Context) string { return f(ctx) }

// Handler receives a pushed event and its first argument.
type Handler func(event string, payload json.RawMessage) error

// Options configures a Client. Zero values select defaults.
type Options struct {
	URL                  string
	Transport            Transport
	ReconnectDelays      []time.Duration
	MaxReconnectAttempts int // 0 means unlimited
	PingInterval         time.Duration
	HandshakeTimeout     time.Duration
	Logger               zerolog.Logger
}

type binding struct {
	event   string
	handler Handler
}

type statusListener struct {
	fn func(Status)
}

// Client is safe for concurrent use. Status listeners and event handlers run
// on internal goroutines and must not block; a status listener must not call
// Start or Stop synchronously.
type Client struct {
	url              string
	transport        Transport
	delays           []time.Duration
	maxAttempts      int
	pingInterval     time.Duration
	handshakeTimeout time.Duration
	log              zerolog.Logger

	group singleflight.Group

	// emitMu serialises status transitions together with their listener
	// notifications so every listener sees changes in order.
	emitMu sync.Mutex

	mu        sync.Mutex
	provider  TokenProvider
	status    Status
	lastErr   error
	conn      *connection
	cancelRun context.CancelFunc
	handlers  map[string][]*binding
	bound     map[string]bool
	listeners []*statusListener
}

// New creates an idle Client.
func New(opts Options) *Client {
	delays := opts.ReconnectDelays
	if len(delays) == 0 {
		delays = DefaultReconnectDelays
	}
	transport := opts.Transport
	if transport == nil {
		transport = &WebSocketTransport{}
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	hs := opts.HandshakeTimeout
	if hs <= 0 {
		hs = defaultHandshakeTimeout
	}
	return &Client{
		url:              opts.URL,
		transport:        transport,
		delays:           append([]time.Duration(nil), delays...),
		maxAttempts:      opts.MaxReconnectAttempts,
		pingInterval:     ping,
		handshakeTimeout: hs,
		log:              logging.Component(opts.Logger, "hub"),
		status:           StatusIdle,
		handlers:         make(map[string][]*binding),
		bound:            make(map[string]bool),
	}
}

// SetAccessTokenProvider installs the token source consulted on every
// connection and reconnection attempt.
func (c *Client) SetAccessTokenProvider(p TokenProvider) {
	c.mu.Lock()
	c.provider = p
	c.mu.Unlock()
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the most recent connection error, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// OnStatusChange registers fn to run on every status transition, in
// registration order. The returned func removes it.
func (c *Client) OnStatusChange(fn func(Status)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	l := &statusListener{fn: fn}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, x := range c.listeners {
				if x == l {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// On registers handler for the named event. Several handlers may share an
// event; the returned func detaches this one and is idempotent.
func (c *Client) On(event string, handler Handler) (unsubscribe func()) {
	if handler == nil || event == "" {
		return func() {}
	}
	key := strings.ToLower(event)
	b := &binding{event: event, handler: handler}

	c.mu.Lock()
	c.handlers[key] = append(c.handlers[key], b)
	if c.conn != nil {
		c.bound[key] = true
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			list := c.handlers[key]
			for i, x := range list {
				if x == b {
					c.handlers[key] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(c.handlers[key]) == 0 {
				delete(c.handlers, key)
			}
		})
	}
}

// Start connects if no connection is live. Concurrent callers share one
// attempt. With no token available the status becomes unauthenticated and
// Start returns nil without dialing. Calling Start while reconnecting
// abandons the pending retry and connects afresh.
func (c *Client) Start(ctx context.Context) error {
	if c.live() {
		return nil
	}
	_, err, _ := c.group.Do("start", func() (any, error) {
		return nil, c.start(ctx)
	})
	return err
}

func (c *Client) start(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected && c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.cancelRun != nil {
		c.cancelRun()
	}
	old := c.conn
	c.conn = nil
	c.bound = make(map[string]bool)
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel
	c.mu.Unlock()

	if old != nil {
		old.shutdown()
	}

	token := c.token(ctx)
	if token == "" {
		c.log.Info().Msg("no access token, not connecting")
		c.transition(runCtx, StatusUnauthenticated)
		return nil
	}

	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	c.transition(runCtx, StatusConnecting)

	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	stopDial := context.AfterFunc(runCtx, cancelDial)
	defer stopDial()

	conn, err := c.connect(dialCtx, token)
	if err != nil {
		if runCtx.Err() != nil {
			return ErrStopped
		}
		c.recordError(runCtx, err)
		c.transition(runCtx, StatusError)
		c.log.Error().Err(err).Str("url", c.url).Msg("failed to start connection")
		return err
	}

	if !c.install(runCtx, conn) {
		return ErrStopped
	}
	c.log.Info().Str("url", c.url).Msg("connected")
	c.transition(runCtx, StatusConnected)
	go c.run(runCtx, conn)
	return nil
}

func (c *Client) live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusConnected && c.conn != nil
}

// Stop tears the connection down, drops event bindings and returns to
// idle. Close errors are logged. Safe to call when never started. A Start
// that begins while Stop is closing the old connection wins; Stop then
// leaves the new status alone.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancelRun
	// The stopped state is its own lifecycle; the next start ends it.
	stopped, endStopped := context.WithCancel(context.Background())
	c.cancelRun = endStopped
	conn := c.conn
	c.conn = nil
	c.bound = make(map[string]bool)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.shutdown(); err != nil {
			c.log.Warn().Err(err).Msg("error while stopping connection")
		}
	}
	c.transition(stopped, StatusIdle)
}

// Invoke calls a server method and waits for its completion.
func (c *Client) Invoke(ctx context.Context, method string, args ...any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	_, err := conn.invoke(ctx, method, args...)
	return err
}

// SubscribeToExam joins the exam's topic, starting the connection if needed.
// Failures are logged, not returned.
func (c *Client) SubscribeToExam(ctx context.Context, examID string) {
	if examID == "" {
		return
	}
	c.invokeStarted(ctx, MethodSubscribeToExam, examID)
}

// UnsubscribeFromExam leaves the exam's topic. It does nothing when no
// connection is live.
func (c *Client) UnsubscribeFromExam(ctx context.Context, examID string) {
	if examID == "" {
		return
	}
	err := c.Invoke(ctx, MethodUnsubscribeFromExam, examID)
	if err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Error().Err(err).Str("exam", examID).Msg("failed to unsubscribe from exam")
	}
}

func (c *Client) SubscribeToManagers(ctx context.Context) {
	c.invokeStarted(ctx, MethodSubscribeToManagers)
}

func (c *Client) SubscribeToModerators(ctx context.Context) {
	c.invokeStarted(ctx, MethodSubscribeToModerators)
}

func (c *Client) SubscribeToExaminers(ctx context.Context) {
	c.invokeStarted(ctx, MethodSubscribeToExaminers)
}

func (c *Client) invokeStarted(ctx context.Context, method string, args ...any) {
	if err := c.Start(ctx); err != nil {
		return
	}
	if c.Status() != StatusConnected {
		return
	}
	if err := c.Invoke(ctx, method, args...); err != nil {
		c.log.Error().Err(err).Str("method", method).Msg("subscription call failed")
	}
}

func (c *Client) token(ctx context.Context) string {
	c.mu.Lock()
	p := c.provider
	c.mu.Unlock()
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Token(ctx))
}

// transition sets the status and notifies listeners on change. A non-nil
// lifecycle that has already ended makes it a no-op, so a superseded
// connection cannot overwrite the state chosen by Stop or a newer Start.
func (c *Client) transition(lifecycle context.Context, s Status) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if lifecycle != nil && lifecycle.Err() != nil {
		c.mu.Unlock()
		return
	}
	if c.status == s {
		c.mu.Unlock()
		return
	}
	prev := c.status
	c.status = s
	listeners := append([]*statusListener(nil), c.listeners...)
	c.mu.Unlock()

	c.log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("status changed")
	for _, l := range listeners {
		c.notify(l, s)
	}
}

func (c *Client) notify(l *statusListener, s Status) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("status listener panicked")
		}
	}()
	l.fn(s)
}

func (c *Client) recordError(lifecycle context.Context, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lifecycle.Err() == nil {
		c.lastErr = err
	}
}

// install makes conn the live connection unless the lifecycle has ended.
func (c *Client) install(lifecycle context.Context, conn *connection) bool {
	c.mu.Lock()
	if lifecycle.Err() != nil {
		c.mu.Unlock()
		conn.shutdown()
		return false
	}
	c.conn = conn
	c.bound = make(map[string]bool, len(c.handlers))
	for key := range c.handlers {
		c.bound[key] = true
	}
	c.mu.Unlock()
	return true
}

// run owns a connection lifecycle: it reads until the connection drops,
// then walks the reconnect schedule.
func (c *Client) run(ctx context.Context, conn *connection) {
	for {
		allowReconnect, err := c.readLoop(conn)
		conn.shutdown()
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		if !allowReconnect {
			c.log.Warn().Err(err).Msg("connection closed by server")
			c.recordError(ctx, err)
			c.transition(ctx, StatusDisconnected)
			return
		}

		c.log.Warn().Err(err).Msg("connection lost, reconnecting")
		c.recordError(ctx, err)
		c.transition(ctx, StatusReconnecting)

		next, err := c.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Msg("reconnect gave up")
			c.recordError(ctx, err)
			c.transition(ctx, StatusDisconnected)
			return
		}
		if !c.install(ctx, next) {
			return
		}
		c.mu.Lock()
		c.lastErr = nil
		c.mu.Unlock()
		c.log.Info().Msg("reconnected")
		c.transition(ctx, StatusConnected)
		conn = next
	}
}

func (c *Client) delay(attempt int) time.Duration {
	if attempt < len(c.delays) {
		return c.delays[attempt]
	}
	return c.delays[len(c.delays)-1]
}

func (c *Client) reconnect(ctx context.Context) (*connection, error) {
	lastErr := ErrConnectionClosed
	for attempt := 0; c.maxAttempts <= 0 || attempt < c.maxAttempts; attempt++ {
		if d := c.delay(attempt); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		token := c.token(ctx)
		if token == "" {
			lastErr = ErrNoToken
			c.log.Warn().Int("attempt", attempt+1).Msg("reconnect skipped, no access token")
			continue
		}
		conn, err := c.connect(ctx, token)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.recordError(ctx, err)
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("reconnect attempt failed")
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.maxAttempts, lastErr)
}

// connect opens the transport and performs the protocol handshake.
func (c *Client) connect(ctx context.Context, token string) (*connection, error) {
	raw, err := c.transport.Open(ctx, c.url, token)
	if err != nil {
		return nil, err
	}

	frame, err := EncodeFrame(DefaultHandshake)
	if err != nil {
		raw.Close()
		return nil, err
	}
	if err := raw.WriteMessage(frame); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: write: %v", ErrHandshake, err)
	}

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := raw.ReadMessage()
		ch <- result{data, err}
	}()

	timer := time.NewTimer(c.handshakeTimeout)
	defer timer.Stop()

	var res result
	select {
	case res = <-ch:
	case <-timer.C:
		raw.Close()
		return nil, fmt.Errorf("%w: timed out", ErrHandshake)
	case <-ctx.Done():
		raw.Close()
		return nil, ctx.Err()
	}
	if res.err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: read: %v", ErrHandshake, res.err)
	}

	frames := SplitFrames(res.data)
	if len(frames) == 0 {
		raw.Close()
		return nil, fmt.Errorf("%w: empty response", ErrHandshake)
	}
	var hs HandshakeResponse
	if err := json.Unmarshal(frames[0], &hs); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if hs.Error != "" {
		raw.Close()
		return nil, fmt.Errorf("%w: %s", ErrHandshake, hs.Error)
	}

	conn := newConnection(raw, frames[1:])
	go c.pingLoop(conn)
	return conn, nil
}

func (c *Client) pingLoop(conn *connection) {
	frame, _ := EncodeFrame(Message{Type: MsgPing})
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.write(frame); err != nil {
				return
			}
		}
	}
}

// readLoop dispatches frames until the connection fails. allowReconnect is
// false only when the server closed the connection and forbade reconnects.
func (c *Client) readLoop(conn *connection) (allowReconnect bool, err error) {
	handle := func(frame []byte) (bool, bool, error) {
		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			return false, false, nil
		}
		switch msg.Type {
		case MsgInvocation:
			c.dispatch(msg)
		case MsgCompletion:
			conn.complete(msg)
		case MsgPing:
		case MsgClose:
			err := ErrConnectionClosed
			if msg.Error != "" {
				err = fmt.Errorf("%w: %s", ErrConnectionClosed, msg.Error)
			}
			return true, msg.AllowReconnect, err
		default:
			c.log.Debug().Int("type", int(msg.Type)).Msg("ignoring message")
		}
		return false, false, nil
	}

	for _, frame := range conn.takeBuffered() {
		if closed, allow, err := handle(frame); closed {
			return allow, err
		}
	}
	for {
		data, err := conn.raw.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		for _, frame := range SplitFrames(data) {
			if closed, allow, err := handle(frame); closed {
				return allow, err
			}
		}
	}
}

func (c *Client) dispatch(msg Message) {
	key := strings.ToLower(msg.Target)
	c.mu.Lock()
	if !c.bound[key] {
		c.mu.Unlock()
		c.log.Debug().Str("event", msg.Target).Msg("no handler bound")
		return
	}
	handlers := append([]*binding(nil), c.handlers[key]...)
	c.mu.Unlock()

	payload := msg.Payload()
	for _, b := range handlers {
		c.call(b, msg.Target, payload)
	}
}

func (c *Client) call(b *binding, event string, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("event", event).Interface("panic", r).Msg("handler panicked")
		}
	}()
	if err := b.handler(event, payload); err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("handler error")
	}
}

// connection is one handshaken transport connection with its pending
// invocations.
type connection struct {
	raw  Conn
	done chan struct{}

	mu       sync.Mutex
	buffered [][]byte
	pending  map[string]chan Message
	nextID   uint64
	closed   bool
	closeErr error
}

func newConnection(raw Conn, buffered [][]byte) *connection {
	return &connection{
		raw:      raw,
		done:     make(chan struct{}),
		buffered: buffered,
		pending:  make(map[string]chan Message),
	}
}

func (cn *connection) takeBuffered() [][]byte {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	b := cn.buffered
	cn.buffered = nil
	return b
}

func (cn *connection) write(frame []byte) error {
	select {
	case <-cn.done:
		return ErrConnectionClosed
	default:
	}
	return cn.raw.WriteMessage(frame)
}

func (cn *connection) invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return nil, ErrNotConnected
	}
	cn.nextID++
	id := strconv.FormatUint(cn.nextID, 10)
	ch := make(chan Message, 1)
	cn.pending[id] = ch
	cn.mu.Unlock()

	drop := func() {
		cn.mu.Lock()
		delete(cn.pending, id)
		cn.mu.Unlock()
	}

	msg, err := NewInvocation(id, method, args...)
	if err != nil {
		drop()
		return nil, err
	}
	frame, err := EncodeFrame(msg)
	if err != nil {
		drop()
		return nil, err
	}
	if err := cn.write(frame); err != nil {
		drop()
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrInvocation, method, res.Error)
		}
		return res.Result, nil
	case <-cn.done:
		return nil, fmt.Errorf("invoke %s: %w", method, ErrConnectionClosed)
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}
}

func (cn *connection) complete(msg Message) {
	cn.mu.Lock()
	ch, ok := cn.pending[msg.InvocationID]
	delete(cn.pending, msg.InvocationID)
	cn.mu.Unlock()
	if ok {
		ch <- msg
	}
}

// shutdown closes the transport once and releases waiters.
func (cn *connection) shutdown() error {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return cn.closeErr
	}
	cn.closed = true
	cn.pending = make(map[string]chan Message)
	close(cn.done)
	cn.mu.Unlock()

	err := cn.raw.Close()
	cn.mu.Lock()
	cn.closeErr = err
	cn.mu.Unlock()
	return err
}
