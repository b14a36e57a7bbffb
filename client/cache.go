// Package client is the subscriber side of live notifications: a local
// cache with optimistic read-state updates, and a push channel client that
// reconnects with exponential backoff and backfills on every open.
package client

import (
	"sync"

	"github.com/campushub/campushub/types"
	"github.com/google/uuid"
)

// DefaultWindow is the number of notifications kept in the cache.
const DefaultWindow = 100

// Snapshot is a consistent copy of the cache.
type Snapshot struct {
	Notifications []types.Notification
	UnreadCount   int
	Status        State
}

// Listener is called after every change with the new snapshot.
type Listener func(Snapshot)

// Cache is the immediately readable view of a user's notifications. Local
// mutations are applied at once; ApplyFullList reconciles with the server.
// UnreadCount always equals the number of unread cached entries.
type Cache struct {
	mu        sync.Mutex
	list      []types.Notification
	unread    int
	status    State
	statusSeq uint64
	window    int
	listeners map[int]Listener
	nextID    int
}

// NewCache creates an empty cache holding at most window entries.
func NewCache(window int) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cache{
		window:    window,
		listeners: make(map[int]Listener),
	}
}

// ApplyIncoming prepends a pushed notification. It reports false and
// changes nothing when the id is already cached, which happens when a push
// races a backfill.
func (c *Cache) ApplyIncoming(n types.Notification) bool {
	c.mu.Lock()
	for i := range c.list {
		if c.list[i].ID == n.ID {
			c.mu.Unlock()
			return false
		}
	}

	c.list = append([]types.Notification{n}, c.list...)
	if !n.Read {
		c.unread++
	}
	if len(c.list) > c.window {
		for _, dropped := range c.list[c.window:] {
			if !dropped.Read {
				c.unread--
			}
		}
		c.list = c.list[:c.window]
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return true
}

// ApplyFullList replaces the cache with an authoritative list and
// recomputes the unread count from it.
func (c *Cache) ApplyFullList(list []types.Notification) {
	c.mu.Lock()
	if len(list) > c.window {
		list = list[:c.window]
	}
	c.list = append([]types.Notification(nil), list...)
	c.unread = types.CountUnread(c.list)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// MarkRead flips one entry to read. It reports whether anything changed;
// unknown and already-read ids are no-ops.
func (c *Cache) MarkRead(id uuid.UUID) bool {
	c.mu.Lock()
	changed := false
	for i := range c.list {
		if c.list[i].ID == id {
			if !c.list[i].Read {
				c.list[i].Read = true
				if c.unread > 0 {
					c.unread--
				}
				changed = true
			}
			break
		}
	}
	if !changed {
		c.mu.Unlock()
		return false
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return true
}

// MarkAllRead flips every entry to read and zeroes the unread count.
func (c *Cache) MarkAllRead() {
	c.mu.Lock()
	for i := range c.list {
		c.list[i].Read = true
	}
	c.unread = 0
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// setStatus records the push channel state shown as the connectivity
// indicator. Updates older than the last applied seq are ignored.
func (c *Cache) setStatus(s State, seq uint64) {
	c.mu.Lock()
	if seq < c.statusSeq || c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.statusSeq = seq
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// State returns a copy of the cache.
func (c *Cache) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// UnreadCount returns the number of unread cached entries.
func (c *Cache) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Subscribe registers l for change notifications and returns a function
// that removes it.
func (c *Cache) Subscribe(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Cache) snapshotLocked() Snapshot {
	return Snapshot{
		Notifications: append([]types.Notification(nil), c.list...),
		UnreadCount:   c.unread,
		Status:        c.status,
	}
}

// notify runs listeners outside the lock so they may read the cache.
func (c *Cache) notify(snap Snapshot) {
	c.mu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}
