package notify

import (
	"sync"

	"github.com/google/uuid"
)

// Registry maps each user to their current push channel. At most one channel
// is on record per user; a new registration supersedes the old one.
type Registry struct {
	mu       sync.RWMutex
	channels map[uuid.UUID]Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[uuid.UUID]Channel)}
}

// Register binds ch to userID and returns the channel it superseded, if any.
// The superseded channel is not closed.
func (r *Registry) Register(userID uuid.UUID, ch Channel) Channel {
	r.mu.Lock()
	prev := r.channels[userID]
	r.channels[userID] = ch
	n := len(r.channels)
	r.mu.Unlock()

	pushConnections.Set(float64(n))
	if prev == ch {
		return nil
	}
	return prev
}

// Unregister removes the binding of userID only if ch is still the channel
// on record, so a late close of a superseded channel does not evict its
// replacement.
func (r *Registry) Unregister(userID uuid.UUID, ch Channel) bool {
	r.mu.Lock()
	cur, ok := r.channels[userID]
	removed := ok && cur == ch
	if removed {
		delete(r.channels, userID)
	}
	n := len(r.channels)
	r.mu.Unlock()

	pushConnections.Set(float64(n))
	return removed
}

// Lookup returns the channel of userID if it is OPEN.
func (r *Registry) Lookup(userID uuid.UUID) (Channel, bool) {
	r.mu.RLock()
	ch, ok := r.channels[userID]
	r.mu.RUnlock()

	if !ok || ch.State() != StateOpen {
		return nil, false
	}
	return ch, true
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
