package notify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/campushub/campushub/auth"
	"github.com/campushub/campushub/protocol"
	"github.com/campushub/campushub/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Authenticator resolves the user of a push channel handshake.
type Authenticator interface {
	AuthenticateHandshake(r *http.Request) (*types.User, error)
}

// Push channel defaults.
const (
	DefaultKeepAlive   = 30 * time.Second
	DefaultSendQueue   = 64
	DefaultFetchWindow = 20
)

// HandlerConfig tunes the push channel.
type HandlerConfig struct {
	KeepAlive   time.Duration
	SendQueue   int
	FetchWindow int
	CheckOrigin func(r *http.Request) bool
}

// Handler serves the push channel endpoint.
type Handler struct {
	service  *Service
	registry *Registry
	auth     Authenticator
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

// NewHandler creates the push channel handler.
func NewHandler(service *Service, registry *Registry, authn Authenticator, cfg HandlerConfig) *Handler {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	if cfg.FetchWindow <= 0 {
		cfg.FetchWindow = DefaultFetchWindow
	}
	return &Handler{
		service:  service,
		registry: registry,
		auth:     authn,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// ServeHTTP authenticates the handshake, upgrades, registers the channel
// and processes client frames until the connection ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.AuthenticateHandshake(r)
	if err != nil {
		types.WriteHTTPError(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Debug().Err(err).Str("user_id", user.ID.String()).Msg("WebSocket upgrade failed")
		return
	}

	conn := newConn(ws, user.ID, h.cfg.SendQueue, h.cfg.KeepAlive)
	conn.open()

	if prev := h.registry.Register(user.ID, conn); prev != nil {
		conn.logger.Debug().Str("previous_conn_id", prev.ID().String()).Msg("Superseded previous push channel")
	}
	conn.logger.Info().Str("remote_ip", auth.GetClientIP(r)).Msg("Push channel opened")

	// The hijacked connection outlives the request's cancellation rules.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer func() {
		cancel()
		h.registry.Unregister(user.ID, conn)
		conn.Close()
		conn.logger.Info().Msg("Push channel closed")
	}()

	h.readLoop(ctx, conn)
}

func (h *Handler) readLoop(ctx context.Context, conn *Conn) {
	ws := conn.ws
	deadline := 2 * h.cfg.KeepAlive

	ws.SetReadLimit(protocol.MaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.logger.Warn().Err(err).Msg("Push channel closed unexpectedly")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(deadline))

		if msgType != websocket.TextMessage {
			h.reject(conn, "expected a text frame")
			continue
		}
		h.dispatch(ctx, conn, data)
	}
}

// dispatch handles one client frame. Errors are answered with an error
// frame and never end the connection.
func (h *Handler) dispatch(ctx context.Context, conn *Conn, data []byte) {
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		h.reject(conn, err.Error())
		return
	}

	switch req.Type {
	case protocol.TypePing:
		h.send(conn, protocol.PongFrame())

	case protocol.TypeGetNotifications:
		limit := ClampLimit(req.Limit, h.cfg.FetchWindow)
		list, err := h.service.List(ctx, conn.userID, limit, req.Offset)
		if err != nil {
			conn.logger.Error().Err(err).Msg("Failed to list notifications")
			h.reject(conn, "failed to load notifications")
			return
		}
		h.send(conn, protocol.NotificationsFrame(list))

	case protocol.TypeMarkRead:
		if err := h.service.MarkRead(ctx, conn.userID, req.ID()); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				h.reject(conn, "notification not found")
				return
			}
			conn.logger.Error().Err(err).Str("notification_id", req.ID().String()).Msg("Failed to mark notification read")
			h.reject(conn, "failed to mark notification read")
		}
	}
}

func (h *Handler) reject(conn *Conn, msg string) {
	protocolErrors.Inc()
	conn.logger.Debug().Str("reason", msg).Msg("Rejected client frame")
	h.send(conn, protocol.ErrorFrame(msg))
}

func (h *Handler) send(conn *Conn, frame any) {
	if err := conn.Send(frame); err != nil {
		conn.logger.Debug().Err(err).Msg("Failed to queue frame")
	}
}
