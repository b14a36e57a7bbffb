package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/campushub/campushub/protocol"
	"github.com/campushub/campushub/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errSocketClosed = errors.New("socket closed")

type fakeSocket struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []protocol.Request
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case data := <-s.in:
		return data, nil
	case <-s.closed:
		return nil, errSocketClosed
	}
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	s.mu.Lock()
	s.writes = append(s.writes, req)
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) requests() []protocol.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Request(nil), s.writes...)
}

func (s *fakeSocket) push(t *testing.T, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("encoding frame: %v", err)
	}
	s.in <- data
}

// fakeDialer hands out queued sockets; with an empty queue it fails.
type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	calls   int
}

func (d *fakeDialer) queue(s *fakeSocket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sockets = append(d.sockets, s)
}

func (d *fakeDialer) Dial(context.Context) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.sockets) == 0 {
		return nil, errors.New("connection refused")
	}
	s := d.sockets[0]
	d.sockets = d.sockets[1:]
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

type fakeAPI struct {
	mu      sync.Mutex
	read    []uuid.UUID
	readAll int
	err     error
}

func (a *fakeAPI) MarkRead(_ context.Context, id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.read = append(a.read, id)
	return a.err
}

func (a *fakeAPI) MarkAllRead(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readAll++
	return a.err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestClient(dialer Dialer, api ReadStateAPI, sched Scheduler, onAlert AlertFunc) *Client {
	return New(dialer, api, NewCache(0), Options{
		Backoff:    DefaultBackoff(),
		KeepAlive:  time.Hour,
		FetchLimit: 20,
		Scheduler:  sched,
		OnAlert:    onAlert,
	})
}

func openClient(t *testing.T, c *Client, socket *fakeSocket) {
	t.Helper()
	c.Connect()
	waitFor(t, "OPEN", func() bool { return c.State() == StateOpen })
	waitFor(t, "backfill request", func() bool { return len(socket.requests()) > 0 })
}

func TestReconnectBackoffUntilGivenUp(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	c := newTestClient(dialer, nil, sched, nil)

	socket := newFakeSocket()
	dialer.queue(socket)
	openClient(t, c, socket)
	if c.Attempt() != 0 {
		t.Fatalf("expected attempt 0 after open, got %d", c.Attempt())
	}

	// Forced close by the server; every later dial fails.
	socket.Close()
	waitFor(t, "first retry", func() bool { return sched.count() == 1 })
	if c.State() != StateClosed {
		t.Fatalf("expected CLOSED while waiting to retry, got %s", c.State())
	}

	base := DefaultBackoff().Base
	want := []time.Duration{base, 2 * base, 4 * base, 8 * base, 16 * base}
	for i := range want {
		tm := sched.timer(i)
		if tm.delay != want[i] {
			t.Fatalf("retry %d: expected delay %v, got %v", i+1, want[i], tm.delay)
		}
		tm.f()
		if i+1 < len(want) {
			waitFor(t, "next retry", func() bool { return sched.count() == i+2 })
		}
	}

	waitFor(t, "GIVEN_UP", func() bool { return c.State() == StateGivenUp })
	if sched.count() != 5 {
		t.Fatalf("expected no 6th retry to be scheduled, got %d timers", sched.count())
	}
	if dialer.dialCount() != 6 {
		t.Fatalf("expected 1 initial dial and 5 retries, got %d dials", dialer.dialCount())
	}
	if c.Cache().State().Status != StateGivenUp {
		t.Fatalf("expected cache status GIVEN_UP, got %s", c.Cache().State().Status)
	}
}

func TestManualConnectAfterGivingUpResetsAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	c := New(dialer, nil, nil, Options{
		Backoff:   Backoff{Base: time.Second, Cap: time.Minute, MaxRetries: 1},
		KeepAlive: time.Hour,
		Scheduler: sched,
	})

	c.Connect()
	waitFor(t, "first retry", func() bool { return sched.count() == 1 })
	sched.timer(0).f()
	waitFor(t, "GIVEN_UP", func() bool { return c.State() == StateGivenUp })

	socket := newFakeSocket()
	dialer.queue(socket)
	openClient(t, c, socket)
	if c.Attempt() != 0 {
		t.Fatalf("expected attempts reset, got %d", c.Attempt())
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	c := newTestClient(dialer, nil, sched, nil)

	socket := newFakeSocket()
	dialer.queue(socket)
	openClient(t, c, socket)

	socket.Close()
	waitFor(t, "retry", func() bool { return sched.count() == 1 })

	c.Disconnect()
	tm := sched.timer(0)
	if !tm.stopped {
		t.Fatal("expected the pending reconnect to be stopped")
	}

	// Even a timer that already fired must not reconnect.
	dials := dialer.dialCount()
	tm.f()
	time.Sleep(10 * time.Millisecond)
	if dialer.dialCount() != dials {
		t.Fatal("a cancelled reconnect dialed anyway")
	}
	if c.State() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", c.State())
	}
}

func TestDisconnectWhileOpenDoesNotRetry(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	c := newTestClient(dialer, nil, sched, nil)

	socket := newFakeSocket()
	dialer.queue(socket)
	openClient(t, c, socket)

	c.Disconnect()
	time.Sleep(10 * time.Millisecond)
	if sched.count() != 0 {
		t.Fatal("an explicit disconnect must not schedule a retry")
	}
	if c.State() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", c.State())
	}
}

func TestBackfillOnOpenAndPushes(t *testing.T) {
	dialer := &fakeDialer{}
	var mu sync.Mutex
	var alerts []Alert
	c := newTestClient(dialer, nil, &fakeScheduler{}, func(a Alert) {
		mu.Lock()
		alerts = append(alerts, a)
		mu.Unlock()
	})

	socket := newFakeSocket()
	dialer.queue(socket)
	openClient(t, c, socket)

	req := socket.requests()[0]
	if req.Type != protocol.TypeGetNotifications || req.Limit != 20 || req.Offset != 0 {
		t.Fatalf("expected backfill of the first page, got %+v", req)
	}

	stored := newNotification(false)
	socket.push(t, protocol.NotificationsFrame([]types.Notification{stored, newNotification(true)}))
	waitFor(t, "backfill applied", func() bool { return len(c.Cache().State().Notifications) == 2 })

	pushed := newNotification(false)
	pushed.Type = types.NotificationTypeBadgeEarned
	socket.push(t, protocol.NotificationFrame(&pushed))
	// A push racing the backfill is not applied twice.
	socket.push(t, protocol.NotificationFrame(&stored))
	socket.push(t, protocol.PongFrame())
	socket.push(t, protocol.ErrorFrame("notification not found"))

	waitFor(t, "push applied", func() bool { return c.Cache().UnreadCount() == 2 })
	waitFor(t, "alert", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(alerts) > 0
	})

	s := c.Cache().State()
	if len(s.Notifications) != 3 || s.Notifications[0].ID != pushed.ID {
		t.Fatalf("expected pushed notification first, got %v", s.Notifications)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Style != StyleFor(types.NotificationTypeBadgeEarned) {
		t.Fatalf("unexpected alert style %+v", alerts[0].Style)
	}
}

func TestListResponsesApplyInArrivalOrder(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(dialer, nil, &fakeScheduler{}, nil)

	socket := newFakeSocket()
	dialer.queue(socket)
	openClient(t, c, socket)

	if err := c.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	older := newNotification(false)
	latest := newNotification(true)
	socket.push(t, protocol.NotificationsFrame([]types.Notification{older}))
	socket.push(t, protocol.NotificationsFrame([]types.Notification{latest}))

	waitFor(t, "latest list applied", func() bool {
		s := c.Cache().State()
		return len(s.Notifications) == 1 && s.Notifications[0].ID == latest.ID
	})
	if c.Cache().UnreadCount() != 0 {
		t.Fatalf("expected unread 0 from the latest list, got %d", c.Cache().UnreadCount())
	}
}

func TestRefreshAfterFailedBackfill(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(dialer, nil, &fakeScheduler{}, nil)

	socket := newFakeSocket()
	dialer.queue(socket)
	openClient(t, c, socket)

	// The server could not load the backfill page.
	socket.push(t, protocol.ErrorFrame("failed to load notifications"))

	if err := c.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	waitFor(t, "refresh request", func() bool { return len(socket.requests()) == 2 })

	n := newNotification(false)
	socket.push(t, protocol.NotificationsFrame([]types.Notification{n}))

	waitFor(t, "refreshed list applied", func() bool {
		s := c.Cache().State()
		return len(s.Notifications) == 1 && s.Notifications[0].ID == n.ID && s.UnreadCount == 1
	})
	if c.State() != StateOpen {
		t.Fatalf("expected the channel to stay OPEN, got %s", c.State())
	}
}

func TestMarkReadErrorBetweenFetches(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(dialer, nil, &fakeScheduler{}, nil)

	socket := newFakeSocket()
	dialer.queue(socket)
	openClient(t, c, socket)

	first := newNotification(false)
	socket.push(t, protocol.NotificationsFrame([]types.Notification{first}))
	waitFor(t, "backfill applied", func() bool { return c.Cache().UnreadCount() == 1 })

	c.MarkAsRead(context.Background(), uuid.New())
	socket.push(t, protocol.ErrorFrame("notification not found"))

	if err := c.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	second := newNotification(false)
	socket.push(t, protocol.NotificationsFrame([]types.Notification{second, first}))

	waitFor(t, "second list applied", func() bool {
		s := c.Cache().State()
		return len(s.Notifications) == 2 && s.Notifications[0].ID == second.ID && s.UnreadCount == 2
	})

	var fetches int
	for _, req := range socket.requests() {
		if req.Type == protocol.TypeGetNotifications {
			fetches++
		}
	}
	if fetches != 2 {
		t.Fatalf("expected backfill and refresh requests, got %d", fetches)
	}
}

func TestFramesFromOldConnectionAreDiscarded(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	c := newTestClient(dialer, nil, sched, nil)

	first := newFakeSocket()
	dialer.queue(first)
	openClient(t, c, first)

	c.mu.Lock()
	oldGen := c.gen
	c.mu.Unlock()

	second := newFakeSocket()
	dialer.queue(second)
	first.Close()
	waitFor(t, "retry", func() bool { return sched.count() == 1 })
	sched.timer(0).f()
	waitFor(t, "reopen", func() bool { return c.State() == StateOpen })

	data, _ := json.Marshal(protocol.NotificationsFrame([]types.Notification{newNotification(false)}))
	c.handleFrame(oldGen, data)
	if n := len(c.Cache().State().Notifications); n != 0 {
		t.Fatalf("expected stale response to be ignored, cache has %d entries", n)
	}
}

func TestMarkAsReadIsOptimisticAndKeptOnFailure(t *testing.T) {
	dialer := &fakeDialer{}
	api := &fakeAPI{err: errors.New("503")}
	c := newTestClient(dialer, api, &fakeScheduler{}, nil)

	socket := newFakeSocket()
	dialer.queue(socket)
	openClient(t, c, socket)

	n := newNotification(false)
	socket.push(t, protocol.NotificationsFrame([]types.Notification{n, newNotification(true)}))
	waitFor(t, "list", func() bool { return c.Cache().UnreadCount() == 1 })

	c.MarkAsRead(context.Background(), n.ID)
	c.MarkAsRead(context.Background(), n.ID)

	if c.Cache().UnreadCount() != 0 {
		t.Fatalf("expected unread 0, got %d", c.Cache().UnreadCount())
	}

	var markReads int
	for _, req := range socket.requests() {
		if req.Type == protocol.TypeMarkRead && req.NotificationID == n.ID.String() {
			markReads++
		}
	}
	if markReads != 2 {
		t.Fatalf("expected mark_read over the channel for both calls, got %d", markReads)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.read) != 2 {
		t.Fatalf("expected durable fallback for both calls, got %d", len(api.read))
	}
}

func TestMarkAsReadWhileDisconnectedUsesFallback(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(&fakeDialer{}, api, &fakeScheduler{}, nil)
	n := newNotification(false)
	c.Cache().ApplyFullList([]types.Notification{n})

	c.MarkAsRead(context.Background(), n.ID)
	c.MarkAllAsRead(context.Background())

	if c.Cache().UnreadCount() != 0 {
		t.Fatal("expected optimistic read state")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.read) != 1 || api.read[0] != n.ID || api.readAll != 1 {
		t.Fatalf("unexpected fallback calls read=%v readAll=%d", api.read, api.readAll)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServerErrorIsLoggedAsReason(t *testing.T) {
	out := &syncBuffer{}
	prev := log.Logger
	log.Logger = zerolog.New(out)
	t.Cleanup(func() { log.Logger = prev })

	dialer := &fakeDialer{}
	c := newTestClient(dialer, nil, &fakeScheduler{}, nil)
	socket := newFakeSocket()
	dialer.queue(socket)
	openClient(t, c, socket)

	socket.push(t, protocol.ErrorFrame("failed to load notifications"))
	waitFor(t, "rejection logged", func() bool {
		return strings.Contains(out.String(), "Server rejected request")
	})

	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if !strings.Contains(line, "Server rejected request") {
			continue
		}
		if strings.Count(line, `"message":`) != 1 {
			t.Fatalf("expected a single message key, got %s", line)
		}
		if !strings.Contains(line, `"reason":"failed to load notifications"`) {
			t.Fatalf("expected the server message as reason, got %s", line)
		}
	}
}
