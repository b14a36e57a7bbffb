package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/campushub/campushub/auth"
	"github.com/gorilla/websocket"
)

// Socket is one push channel connection.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens push channel connections.
type Dialer interface {
	Dial(ctx context.Context) (Socket, error)
}

// TokenSource returns a push token for the next handshake.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// WebSocketDialer dials the server's /ws endpoint with a fresh push token on
// every attempt.
type WebSocketDialer struct {
	serverURL string
	tokens    TokenSource
	dialer    *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for the server at serverURL
// (http, https, ws or wss).
func NewWebSocketDialer(serverURL string, tokens TokenSource) *WebSocketDialer {
	return &WebSocketDialer{
		serverURL: serverURL,
		tokens:    tokens,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Endpoint builds the push channel URI carrying token.
func Endpoint(serverURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	q := u.Query()
	q.Set(auth.PushTokenParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Socket, error) {
	token, err := d.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting push token: %w", err)
	}
	endpoint, err := Endpoint(d.serverURL, token)
	if err != nil {
		return nil, err
	}

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("push channel handshake refused with %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dialing push channel: %w", err)
	}
	return &wsSocket{conn: conn}, nil
}

// wsSocket serializes writes; gorilla connections allow one concurrent writer.
type wsSocket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close() error {
	s.mu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.mu.Unlock()
	return s.conn.Close()
}
