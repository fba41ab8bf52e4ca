package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/examdesk/examdesk/internal/hub"
	"github.com/examdesk/examdesk/internal/logging"
	"github.com/rs/zerolog"
)

// Hub is the part of the hub client the router drives.
type Hub interface {
	Start(ctx context.Context) error
	Stop()
	On(event string, handler hub.Handler) (unsubscribe func())
	SubscribeToExam(ctx context.Context, examID string)
	UnsubscribeFromExam(ctx context.Context, examID string)
	SubscribeToManagers(ctx context.Context)
	SubscribeToModerators(ctx context.Context)
	SubscribeToExaminers(ctx context.Context)
	Status() hub.Status
	LastError() error
	OnStatusChange(fn func(hub.Status)) (unsubscribe func())
}

// Handler consumes a typed event.
type Handler func(ev Event) error

// Config is one consumer's declared interest in the hub.
type Config struct {
	Enabled                 bool
	Handlers                map[EventType]Handler
	ExamID                  string
	AutoSubscribeManagers   bool
	AutoSubscribeModerators bool
	AutoSubscribeExaminers  bool
}

// Router holds one consumer's subscriptions on the shared hub. Handlers and
// the exam topic live exactly as long as the applied Config; Apply with a
// new Config or Close withdraws them. Failed topic subscriptions are logged
// and not retried until the next Apply or reconnect.
type Router struct {
	hub Hub
	log zerolog.Logger

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// applyMu is held for the whole of Apply and Close so topic changes
	// reach the hub in the order the configs were applied.
	applyMu sync.Mutex

	mu         sync.Mutex
	cfg        Config
	unbind     []func()
	lastErr    error
	prevStatus hub.Status
	stopWatch  func()
	closed     bool
}

// NewRouter creates a Router over h with nothing applied.
func NewRouter(h Hub, logger zerolog.Logger) *Router {
	bg, cancel := context.WithCancel(context.Background())
	r := &Router{
		hub:        h,
		log:        logging.Component(logger, "notify"),
		bg:         bg,
		cancel:     cancel,
		lastErr:    h.LastError(),
		prevStatus: h.Status(),
	}
	r.stopWatch = h.OnStatusChange(r.onStatus)
	return r
}

// Apply replaces the current configuration. Handler registrations are
// swapped, the exam topic follows ExamID and broadcast topics are joined
// when first requested. Start failures are recorded in LastError and not
// returned.
func (r *Router) Apply(ctx context.Context, cfg Config) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	prev := r.cfg
	old := r.unbind
	r.unbind = nil
	r.cfg = cfg
	if cfg.Enabled {
		for name, h := range cfg.Handlers {
			if h == nil {
				continue
			}
			r.unbind = append(r.unbind, r.hub.On(string(name), adapt(h)))
		}
	}
	r.mu.Unlock()

	for _, fn := range old {
		fn()
	}

	if prev.Enabled && prev.ExamID != "" && (!cfg.Enabled || prev.ExamID != cfg.ExamID) {
		r.hub.UnsubscribeFromExam(ctx, prev.ExamID)
	}

	if !cfg.Enabled {
		return
	}

	if !prev.Enabled {
		if err := r.hub.Start(ctx); err != nil {
			r.setLastError(err)
		}
	}

	if cfg.ExamID != "" && (!prev.Enabled || prev.ExamID != cfg.ExamID) {
		r.hub.SubscribeToExam(ctx, cfg.ExamID)
	}
	if cfg.AutoSubscribeManagers && !(prev.Enabled && prev.AutoSubscribeManagers) {
		r.hub.SubscribeToManagers(ctx)
	}
	if cfg.AutoSubscribeModerators && !(prev.Enabled && prev.AutoSubscribeModerators) {
		r.hub.SubscribeToModerators(ctx)
	}
	if cfg.AutoSubscribeExaminers && !(prev.Enabled && prev.AutoSubscribeExaminers) {
		r.hub.SubscribeToExaminers(ctx)
	}
}

// Close withdraws every handler, leaves the exam topic and detaches from
// the hub's status. The shared hub keeps running.
func (r *Router) Close(ctx context.Context) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cfg := r.cfg
	r.cfg = Config{}
	unbind := r.unbind
	r.unbind = nil
	stopWatch := r.stopWatch
	r.mu.Unlock()

	stopWatch()
	r.cancel()
	r.wg.Wait()

	for _, fn := range unbind {
		fn()
	}
	if cfg.Enabled && cfg.ExamID != "" {
		r.hub.UnsubscribeFromExam(ctx, cfg.ExamID)
	}
}

// Status returns the hub status.
func (r *Router) Status() hub.Status { return r.hub.Status() }

// IsConnected reports whether the hub is connected.
func (r *Router) IsConnected() bool { return r.hub.Status() == hub.StatusConnected }

// LastError returns the last start failure or connection error seen.
func (r *Router) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Reconnect starts the hub again.
func (r *Router) Reconnect(ctx context.Context) error {
	err := r.hub.Start(ctx)
	if err != nil {
		r.setLastError(err)
	}
	return err
}

// Stop stops the shared hub.
func (r *Router) Stop() { r.hub.Stop() }

// OnStatusChange passes through to the hub.
func (r *Router) OnStatusChange(fn func(hub.Status)) (unsubscribe func()) {
	return r.hub.OnStatusChange(fn)
}

func (r *Router) setLastError(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// onStatus runs on the hub's goroutine and must not block.
func (r *Router) onStatus(s hub.Status) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	prev := r.prevStatus
	r.prevStatus = s
	cfg := r.cfg
	resubscribe := prev == hub.StatusReconnecting && s == hub.StatusConnected && cfg.Enabled
	if resubscribe {
		r.wg.Add(1)
	}
	r.mu.Unlock()

	if s == hub.StatusError {
		r.setLastError(r.hub.LastError())
	}
	if resubscribe {
		go func() {
			defer r.wg.Done()
			r.resubscribe(cfg)
		}()
	}
}

// resubscribe re-joins topics after an automatic reconnect; group
// membership does not carry over to a new server connection.
func (r *Router) resubscribe(cfg Config) {
	if r.bg.Err() != nil {
		return
	}
	r.log.Debug().Str("exam", cfg.ExamID).Msg("re-joining topics after reconnect")
	if cfg.ExamID != "" {
		r.hub.SubscribeToExam(r.bg, cfg.ExamID)
	}
	if cfg.AutoSubscribeManagers {
		r.hub.SubscribeToManagers(r.bg)
	}
	if cfg.AutoSubscribeModerators {
		r.hub.SubscribeToModerators(r.bg)
	}
	if cfg.AutoSubscribeExaminers {
		r.hub.SubscribeToExaminers(r.bg)
	}
}

func adapt(h Handler) hub.Handler {
	return func(event string, payload json.RawMessage) error {
		return h(Decode(event, payload))
	}
}
