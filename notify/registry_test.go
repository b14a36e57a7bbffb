package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/campushub/campushub/protocol"
	"github.com/campushub/campushub/types"
	"github.com/google/uuid"
)

type fakeChannel struct {
	id uuid.UUID

	mu     sync.Mutex
	state  ConnState
	frames []any
	err    error
}

func newFakeChannel(state ConnState) *fakeChannel {
	return &fakeChannel{id: uuid.New(), state: state}
}

func (f *fakeChannel) ID() uuid.UUID { return f.id }

func (f *fakeChannel) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) Send(frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateClosed
}

func (f *fakeChannel) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.frames...)
}

func TestRegistrySupersedesPreviousChannel(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()
	first := newFakeChannel(StateOpen)
	second := newFakeChannel(StateOpen)

	if prev := r.Register(userID, first); prev != nil {
		t.Fatalf("expected no previous channel, got %v", prev.ID())
	}
	if prev := r.Register(userID, first); prev != nil {
		t.Fatal("re-registering the same channel must not report it as superseded")
	}
	prev := r.Register(userID, second)
	if prev != first {
		t.Fatal("expected the first channel to be reported as superseded")
	}
	if first.State() != StateOpen {
		t.Fatal("registry must not close a superseded channel")
	}

	got, ok := r.Lookup(userID)
	if !ok || got != second {
		t.Fatal("expected lookup to return the newest channel")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 registered user, got %d", r.Len())
	}
}

func TestRegistryUnregisterIgnoresStaleChannel(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()
	stale := newFakeChannel(StateOpen)
	current := newFakeChannel(StateOpen)

	r.Register(userID, stale)
	r.Register(userID, current)

	if r.Unregister(userID, stale) {
		t.Fatal("unregistering a superseded channel must be a no-op")
	}
	if _, ok := r.Lookup(userID); !ok {
		t.Fatal("current channel was evicted by a stale unregister")
	}
	if !r.Unregister(userID, current) {
		t.Fatal("expected current channel to be removed")
	}
	if _, ok := r.Lookup(userID); ok {
		t.Fatal("expected no channel after unregister")
	}
}

func TestRegistryLookupRequiresOpenChannel(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()

	r.Register(userID, newFakeChannel(StateConnecting))
	if _, ok := r.Lookup(userID); ok {
		t.Fatal("a connecting channel must not be returned")
	}

	ch := newFakeChannel(StateOpen)
	r.Register(userID, ch)
	ch.Close()
	if _, ok := r.Lookup(userID); ok {
		t.Fatal("a closed channel must not be returned")
	}
}

func TestDeliverSkipsOfflineAndFailingChannels(t *testing.T) {
	r := NewRegistry()
	n := &types.Notification{ID: uuid.New(), UserID: uuid.New(), Title: "hi"}

	if deliver(r, n) {
		t.Fatal("expected no delivery without a channel")
	}

	broken := newFakeChannel(StateOpen)
	broken.err = errors.New("boom")
	r.Register(n.UserID, broken)
	if deliver(r, n) {
		t.Fatal("expected a failing channel to report no delivery")
	}

	ch := newFakeChannel(StateOpen)
	r.Register(n.UserID, ch)
	if !deliver(r, n) {
		t.Fatal("expected delivery to the open channel")
	}
	frames := ch.sent()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0] != protocol.NotificationFrame(n) {
		t.Fatalf("unexpected frame %#v", frames[0])
	}
}

func TestConnClosesWhenSendQueueOverflows(t *testing.T) {
	c := newConn(nil, uuid.New(), 2, DefaultKeepAlive)
	// Open without a writer so the queue is never drained.
	c.state.Store(int32(StateOpen))

	for i := 0; i < 2; i++ {
		if err := c.Send(protocol.PongFrame()); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := c.Send(protocol.PongFrame()); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("expected ErrSendQueueFull, got %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("expected slow connection to be closed, got %s", c.State())
	}
	if err := c.Send(protocol.PongFrame()); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed after close, got %v", err)
	}
}

func TestRedisBusDeliversDecodedMessages(t *testing.T) {
	r := NewRegistry()
	bus := NewRedisBus(nil, "test", r)
	userID := uuid.New()
	ch := newFakeChannel(StateOpen)
	r.Register(userID, ch)

	if bus.handleMessage("{not json") {
		t.Fatal("expected undecodable payload to be dropped")
	}

	payload := `{"id":"` + uuid.New().String() + `","user_id":"` + userID.String() +
		`","type":"LEVEL_UP","title":"Level 4","message":"","read":false,"created_at":"2026-01-02T03:04:05Z"}`
	if !bus.handleMessage(payload) {
		t.Fatal("expected payload to be delivered")
	}
	if len(ch.sent()) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(ch.sent()))
	}
}
