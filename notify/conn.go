package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConnState is the lifecycle state of a push connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

const writeWait = 10 * time.Second

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// Channel is one live push connection as seen by the registry.
type Channel interface {
	ID() uuid.UUID
	State() ConnState
	// Send queues frame for delivery. Frames queued on one channel are
	// written in the order Send was called.
	Send(frame any) error
	Close()
}

// Conn is a Channel backed by a WebSocket. A single writer goroutine drains
// a bounded queue and also emits keepalive pings.
type Conn struct {
	id        uuid.UUID
	userID    uuid.UUID
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	state     atomic.Int32
	closeOnce sync.Once
	keepAlive time.Duration
	logger    zerolog.Logger
}

func newConn(ws *websocket.Conn, userID uuid.UUID, queue int, keepAlive time.Duration) *Conn {
	id := uuid.New()
	c := &Conn{
		id:        id,
		userID:    userID,
		ws:        ws,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
		keepAlive: keepAlive,
		logger: log.With().
			Str("conn_id", id.String()).
			Str("user_id", userID.String()).
			Logger(),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Conn) ID() uuid.UUID { return c.id }

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// open starts the writer and marks the connection OPEN.
func (c *Conn) open() {
	if c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		go c.writeLoop()
	}
}

// Send implements Channel. When the queue is full the connection is closed;
// the client recovers by reconnecting and backfilling.
func (c *Conn) Send(frame any) error {
	if c.State() != StateOpen {
		return ErrConnClosed
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.logger.Warn().Int("queue", cap(c.send)).Msg("Send queue full, closing slow connection")
		c.Close()
		return ErrSendQueueFull
	}
}

// Close marks the connection CLOSED and stops the writer, which closes the
// socket. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		wasOpen := c.State() == StateOpen
		c.state.Store(int32(StateClosed))
		close(c.done)
		if !wasOpen {
			c.ws.Close()
		}
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.keepAlive)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed")
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("Ping failed")
				c.Close()
				return
			}

		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
