package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout         = 10 * time.Second
	defaultServerTimeout = 30 * time.Second
	maxNegotiateRedirect = 5
)

// Conn is one open transport connection carrying hub protocol frames.
// ReadMessage is called from a single goroutine; WriteMessage and Close may
// be called concurrently.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Transport opens connections to a hub endpoint.
type Transport interface {
	Open(ctx context.Context, endpoint, token string) (Conn, error)
}

// WebSocketTransport negotiates (unless skipped) and then dials a WebSocket.
type WebSocketTransport struct {
	Dialer          *websocket.Dialer
	HTTPClient      *http.Client
	SkipNegotiation bool
	// ServerTimeout is the longest silence tolerated from the server before
	// a read fails. Zero means 30s.
	ServerTimeout time.Duration
}

type negotiateResponse struct {
	NegotiateVersion    int    `json:"negotiateVersion"`
	ConnectionID        string `json:"connectionId"`
	ConnectionToken     string `json:"connectionToken"`
	URL                 string `json:"url"`
	AccessToken         string `json:"accessToken"`
	Error               string `json:"error"`
	AvailableTransports []struct {
		Transport       string   `json:"transport"`
		TransferFormats []string `json:"transferFormats"`
	} `json:"availableTransports"`
}

// Open implements Transport.
func (t *WebSocketTransport) Open(ctx context.Context, endpoint, token string) (Conn, error) {
	target := endpoint
	connToken := ""

	if !t.SkipNegotiation {
		for i := 0; ; i++ {
			neg, err := t.negotiate(ctx, target, token)
			if err != nil {
				return nil, err
			}
			if neg.URL == "" {
				connToken = neg.ConnectionToken
				if connToken == "" {
					connToken = neg.ConnectionID
				}
				if !supportsWebSockets(neg) {
					return nil, fmt.Errorf("negotiate %s: server does not offer WebSockets", target)
				}
				break
			}
			if i >= maxNegotiateRedirect {
				return nil, fmt.Errorf("negotiate %s: too many redirects", endpoint)
			}
			target = neg.URL
			if neg.AccessToken != "" {
				token = neg.AccessToken
			}
		}
	}

	wsURL, err := websocketURL(target, connToken, token)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %d %s: %w", target, resp.StatusCode, http.StatusText(resp.StatusCode), err)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	timeout := t.ServerTimeout
	if timeout <= 0 {
		timeout = defaultServerTimeout
	}
	return &wsConn{conn: conn, readTimeout: timeout}, nil
}

func (t *WebSocketTransport) negotiate(ctx context.Context, endpoint, token string) (*negotiateResponse, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/negotiate"
	q := u.Query()
	q.Set("negotiateVersion", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("negotiate %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("negotiate %s: %d %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var neg negotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&neg); err != nil {
		return nil, fmt.Errorf("negotiate %s: decode: %w", endpoint, err)
	}
	if neg.Error != "" {
		return nil, fmt.Errorf("negotiate %s: %s", endpoint, neg.Error)
	}
	return &neg, nil
}

func supportsWebSockets(neg *negotiateResponse) bool {
	if len(neg.AvailableTransports) == 0 {
		return true
	}
	for _, tr := range neg.AvailableTransports {
		if strings.EqualFold(tr.Transport, "WebSockets") {
			return true
		}
	}
	return false
}

// websocketURL rewrites an http(s) hub URL into a ws(s) one carrying the
// connection token and access token as query parameters.
func websocketURL(endpoint, connToken, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	q := u.Query()
	if connToken != "" {
		q.Set("id", connToken)
	}
	if token != "" {
		q.Set("access_token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	w.conn.SetReadDeadline(time.Now().Add(w.readTimeout))
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		w.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.writeMu.Unlock()
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}
