package mockserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/examdesk/examdesk/internal/hub"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Group names used by the subscription methods.
const (
	GroupManagers   = "managers"
	GroupModerators = "moderators"
	GroupExaminers  = "examiners"
)

// GroupExam names the group of an exam's subscribers.
func GroupExam(examID string) string { return "exam:" + strings.ToLower(examID) }

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	groups map[string]bool
}

func newClient(conn *websocket.Conn, keepAlive time.Duration) *client {
	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, 64),
		groups: make(map[string]bool),
	}
	go c.writePump(keepAlive)
	return c
}

func (c *client) writePump(keepAlive time.Duration) {
	defer c.conn.Close()
	ping, _ := hub.EncodeFrame(hub.Message{Type: hub.MsgPing})
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}

func (c *client) join(group string) {
	c.mu.Lock()
	c.groups[group] = true
	c.mu.Unlock()
}

func (c *client) leave(group string) {
	c.mu.Lock()
	delete(c.groups, group)
	c.mu.Unlock()
}

func (c *client) inAny(groups []string) bool {
	if len(groups) == 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range groups {
		if c.groups[g] {
			return true
		}
	}
	return false
}

// Hub is the mock notification hub: JSON hub protocol over WebSocket with
// per-exam and per-role groups.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool

	log       zerolog.Logger
	keepAlive time.Duration
	upgrader  websocket.Upgrader
	authorize func(token string) bool
}

// NewHub creates a hub. authorize may be nil to accept every connection.
func NewHub(logger zerolog.Logger, keepAlive time.Duration, authorize func(token string) bool) *Hub {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &Hub{
		clients:   make(map[*client]bool),
		log:       logger,
		keepAlive: keepAlive,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		authorize: authorize,
	}
}

// Negotiate answers POST {hub}/negotiate?negotiateVersion=1.
func (h *Hub) Negotiate(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := uuid.NewString()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"negotiateVersion": 1,
		"connectionId":     id,
		"connectionToken":  id,
		"availableTransports": []map[string]any{
			{"transport": "WebSockets", "transferFormats": []string{"Text"}},
		},
	})
}

// ServeWS upgrades the request and serves one hub connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("hub upgrade failed")
		return
	}
	if !h.handshake(conn) {
		conn.Close()
		return
	}

	c := newClient(conn, h.keepAlive)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.log.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("hub client connected")

	go func() {
		defer func() {
			h.remove(c)
			h.log.Info().Str("client", c.id).Msg("hub client disconnected")
		}()
		h.readPump(c)
	}()
}

func (h *Hub) allowed(r *http.Request) bool {
	if h.authorize == nil {
		return true
	}
	tok := r.URL.Query().Get("access_token")
	if auth := r.Header.Get("Authorization"); tok == "" && strings.HasPrefix(auth, "Bearer ") {
		tok = strings.TrimPrefix(auth, "Bearer ")
	}
	return tok != "" && h.authorize(tok)
}

// handshake reads the protocol selection and replies before the client
// joins the hub.
func (h *Hub) handshake(conn *websocket.Conn) bool {
	conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return false
	}
	frames := hub.SplitFrames(data)
	var req hub.HandshakeRequest
	if len(frames) == 0 || json.Unmarshal(frames[0], &req) != nil {
		return false
	}
	var resp hub.HandshakeResponse
	if req.Protocol != "json" || req.Version != 1 {
		resp.Error = "unsupported protocol " + req.Protocol
	}
	frame, _ := hub.EncodeFrame(resp)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return false
	}
	return resp.Error == ""
}

func (h *Hub) readPump(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		for _, frame := range hub.SplitFrames(data) {
			var msg hub.Message
			if err := json.Unmarshal(frame, &msg); err != nil {
				h.log.Debug().Err(err).Msg("bad hub frame")
				continue
			}
			switch msg.Type {
			case hub.MsgInvocation:
				h.invoke(c, msg)
			case hub.MsgClose:
				return
			}
		}
	}
}

func (h *Hub) invoke(c *client, msg hub.Message) {
	var arg string
	if len(msg.Arguments) > 0 {
		json.Unmarshal(msg.Arguments[0], &arg)
	}

	reply := hub.Message{Type: hub.MsgCompletion, InvocationID: msg.InvocationID}
	switch msg.Target {
	case hub.MethodSubscribeToExam:
		c.join(GroupExam(arg))
	case hub.MethodUnsubscribeFromExam:
		c.leave(GroupExam(arg))
	case hub.MethodSubscribeToManagers:
		c.join(GroupManagers)
	case hub.MethodSubscribeToModerators:
		c.join(GroupModerators)
	case hub.MethodSubscribeToExaminers:
		c.join(GroupExaminers)
	default:
		reply.Error = "Unknown hub method '" + msg.Target + "'"
	}
	h.log.Debug().Str("client", c.id).Str("method", msg.Target).Str("arg", arg).Msg("hub invocation")

	if msg.InvocationID == "" {
		return
	}
	frame, err := hub.EncodeFrame(reply)
	if err != nil {
		return
	}
	h.deliver(c, frame)
}

// Broadcast sends an invocation of target to every client in any of
// groups, or to every client when groups is empty. It returns the number
// of clients reached.
func (h *Hub) Broadcast(target string, payload any, groups ...string) int {
	msg, err := hub.NewInvocation("", target, payload)
	if err != nil {
		h.log.Error().Err(err).Str("target", target).Msg("broadcast marshal error")
		return 0
	}
	frame, err := hub.EncodeFrame(msg)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if !c.inAny(groups) {
			continue
		}
		if h.trySend(c, frame) {
			n++
		}
	}
	return n
}

// CloseAll sends a Close message to every client and drops it.
func (h *Hub) CloseAll(allowReconnect bool) {
	frame, _ := hub.EncodeFrame(hub.Message{Type: hub.MsgClose, AllowReconnect: allowReconnect})
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
		}
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GroupSize returns how many clients are in group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.inAny([]string{group}) {
			n++
		}
	}
	return n
}

func (h *Hub) deliver(c *client, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c] {
		h.trySend(c, frame)
	}
}

// trySend must be called with h.mu held; removal closes send under the
// write lock.
func (h *Hub) trySend(c *client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		h.log.Warn().Str("client", c.id).Msg("hub client too slow, message dropped")
		return false
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
