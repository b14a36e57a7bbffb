package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/campushub/campushub/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the push channel state of a Client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateGivenUp
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateGivenUp:
		return "GIVEN_UP"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Timer is a pending reconnect.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures a Client.
type Options struct {
	Backoff   Backoff
	KeepAlive time.Duration
	// FetchLimit is the page size requested on every open.
	FetchLimit int
	Scheduler  Scheduler
	OnAlert    AlertFunc
}

// Client owns one user's push channel for the lifetime of their session.
// It keeps the Cache in sync, reconnects with backoff after unexpected
// closes and backfills on every open.
type Client struct {
	dialer Dialer
	api    ReadStateAPI
	cache  *Cache
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	attempt int
	// gen identifies the current connection attempt. Anything tagged with
	// an older generation is stale and discarded.
	gen      uint64
	socket   Socket
	timer    Timer
	stopPing chan struct{}
	cancel   context.CancelFunc

	// statusSeq orders state changes published to the cache.
	statusSeq uint64
}

// New creates a Client in state IDLE. api may be nil, in which case read
// state is only sent over the push channel.
func New(dialer Dialer, api ReadStateAPI, cache *Cache, opts Options) *Client {
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 20
	}
	if opts.Scheduler == nil {
		opts.Scheduler = realScheduler{}
	}
	if cache == nil {
		cache = NewCache(DefaultWindow)
	}
	return &Client{
		dialer: dialer,
		api:    api,
		cache:  cache,
		opts:   opts,
		logger: log.With().Str("component", "push_client").Logger(),
		state:  StateIdle,
	}
}

// Cache returns the client's notification cache.
func (c *Client) Cache() *Cache {
	return c.cache
}

// State returns the current push channel state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the number of retries since the last successful open.
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Connect starts the push channel. From CLOSED or GIVEN_UP it is a manual
// reconnect and resets the retry budget. It is a no-op while CONNECTING or
// OPEN.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.unlock()

	if c.state == StateConnecting || c.state == StateOpen {
		return
	}
	c.stopTimerLocked()
	c.attempt = 0
	c.startAttemptLocked()
}

// Disconnect closes the push channel and cancels any pending reconnect.
// The cache stays readable.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopTimerLocked()
	socket := c.detachLocked()
	c.attempt = 0
	c.setStateLocked(StateClosed)
	c.unlock()

	if socket != nil {
		_ = socket.Close()
	}
	c.logger.Info().Msg("Push channel disconnected")
}

// Refresh requests the first page again to reconcile the cache.
func (c *Client) Refresh() error {
	c.mu.Lock()
	socket := c.socket
	gen := c.gen
	c.mu.Unlock()

	if socket == nil {
		return fmt.Errorf("push channel is not open")
	}
	return c.requestPage(gen, socket)
}

// MarkAsRead marks one notification read in the cache, then tells the
// server over the push channel if it is open and through the durable
// read-state API. Failures of the durable call are logged and the local
// change is kept.
func (c *Client) MarkAsRead(ctx context.Context, id uuid.UUID) {
	c.cache.MarkRead(id)

	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket != nil {
		if err := c.write(socket, protocol.MarkRead(id)); err != nil {
			c.logger.Debug().Err(err).Str("notification_id", id.String()).Msg("Failed to send mark_read")
		}
	}

	if c.api == nil {
		return
	}
	if err := c.api.MarkRead(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("notification_id", id.String()).Msg("Failed to persist read state")
	}
}

// MarkAllAsRead marks every cached notification read, then persists it with
// one bulk call. Failures are logged and the local change is kept.
func (c *Client) MarkAllAsRead(ctx context.Context) {
	c.cache.MarkAllRead()

	if c.api == nil {
		return
	}
	if err := c.api.MarkAllRead(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist read-all")
	}
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("Push channel state changed")
	c.state = s
	c.statusSeq++
}

// unlock releases c.mu and then publishes the current state to the cache,
// so cache listeners may call back into the client.
func (c *Client) unlock() {
	s, seq := c.state, c.statusSeq
	c.mu.Unlock()
	c.cache.setStatus(s, seq)
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// detachLocked forgets the current socket and stops its ping loop.
func (c *Client) detachLocked() Socket {
	socket := c.socket
	c.socket = nil
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return socket
}

func (c *Client) startAttemptLocked() {
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting)
	if c.cancel != nil {
		c.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx, gen)
}

func (c *Client) run(ctx context.Context, gen uint64) {
	socket, err := c.dialer.Dial(ctx)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if socket != nil {
			_ = socket.Close()
		}
		return
	}
	if err != nil {
		c.logger.Debug().Err(err).Int("attempt", c.attempt).Msg("Push channel dial failed")
		c.failLocked(gen)
		c.unlock()
		return
	}

	c.socket = socket
	c.attempt = 0
	c.stopPing = make(chan struct{})
	go c.pingLoop(gen, socket, c.stopPing)
	c.setStateLocked(StateOpen)
	c.unlock()

	c.logger.Info().Msg("Push channel open")

	if err := c.requestPage(gen, socket); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to request backfill")
	}

	for {
		data, err := socket.ReadMessage()
		if err != nil {
			c.onClosed(gen, err)
			return
		}
		c.handleFrame(gen, data)
	}
}

// onClosed handles the end of a socket that was not closed by Disconnect.
func (c *Client) onClosed(gen uint64, err error) {
	c.mu.Lock()
	defer c.unlock()

	if gen != c.gen {
		return
	}
	c.logger.Warn().Err(err).Msg("Push channel closed")
	socket := c.detachLocked()
	if socket != nil {
		_ = socket.Close()
	}
	c.failLocked(gen)
}

// failLocked schedules the next retry, or gives up once the budget is used.
func (c *Client) failLocked(gen uint64) {
	if c.opts.Backoff.Exhausted(c.attempt) {
		c.setStateLocked(StateGivenUp)
		c.logger.Warn().Int("attempts", c.attempt).Msg("Giving up on push channel")
		return
	}

	delay := c.opts.Backoff.Delay(c.attempt)
	c.attempt++
	c.setStateLocked(StateClosed)
	c.logger.Debug().Dur("delay", delay).Int("attempt", c.attempt).Msg("Scheduling reconnect")

	c.timer = c.opts.Scheduler.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.unlock()
		if gen != c.gen || c.state != StateClosed {
			return
		}
		c.timer = nil
		c.startAttemptLocked()
	})
}

func (c *Client) requestPage(gen uint64, socket Socket) error {
	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()
	if !current {
		return nil
	}
	return c.write(socket, protocol.GetNotifications(c.opts.FetchLimit, 0))
}

func (c *Client) handleFrame(gen uint64, data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Ignoring undecodable frame")
		return
	}

	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()
	if !current {
		return
	}

	switch frame.Type {
	case protocol.TypeNotification:
		if c.cache.ApplyIncoming(*frame.Notification) && c.opts.OnAlert != nil {
			c.opts.OnAlert(Alert{
				Notification: *frame.Notification,
				Style:        StyleFor(frame.Notification.Type),
			})
		}

	case protocol.TypeNotifications:
		// Lists arrive in request order on one socket, so each one
		// overwrites the cache and the last one applied is the latest.
		c.cache.ApplyFullList(frame.Notifications)

	case protocol.TypeError:
		c.logger.Warn().Str("reason", frame.Message).Msg("Server rejected request")

	case protocol.TypePong:
	}
}

func (c *Client) pingLoop(gen uint64, socket Socket, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			current := gen == c.gen
			c.mu.Unlock()
			if !current {
				return
			}
			if err := c.write(socket, protocol.Ping()); err != nil {
				c.logger.Debug().Err(err).Msg("Ping failed")
			}
		}
	}
}

func (c *Client) write(socket Socket, req protocol.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return socket.WriteMessage(data)
}
