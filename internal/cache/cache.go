// Package cache holds the normalized in-memory copy of users, sessions and
// messages. Every change to those entities, whatever its origin, goes through
// the mutators here; each effective change is announced on the bus.
package cache

import (
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/model"
)

// Bus event kinds published by the cache.
const (
	EventUserUpserted    = "cache.user_upserted"
	EventSessionUpserted = "cache.session_upserted"
	EventMessageUpserted = "cache.message_upserted"
	EventMessageRemoved  = "cache.message_removed"
	EventCleared         = "cache.cleared"
)

// DefaultEchoWindow bounds how far apart a stub and an uncorrelated server
// echo may be created and still be treated as the same send.
const DefaultEchoWindow = 10 * time.Second

var (
	// ErrNoIdentity is returned for a message that has neither a server id
	// nor a correlation id, or no session.
	ErrNoIdentity = errors.New("message has no id, correlation id or session")
	ErrNoMessage  = errors.New("message is not cached")
	ErrWrongState = errors.New("message is not a stub in the expected state")
)

// ChangeKind describes what an upsert did.
type ChangeKind int

const (
	Unchanged ChangeKind = iota
	Created
	Updated
	// Reconciled means a local stub was replaced by its server record.
	Reconciled
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Reconciled:
		return "reconciled"
	case Removed:
		return "removed"
	}
	return "unchanged"
}

// MessageChange is the payload of message events.
type MessageChange struct {
	Kind      ChangeKind
	SessionID string
	Key       string
	// PrevKey is the key the message had before a rekey or collapse.
	PrevKey string
	Message model.Message
}

// SessionChange is the payload of EventSessionUpserted.
type SessionChange struct {
	Session model.Session
	Created bool
}

// UserChange is the payload of EventUserUpserted.
type UserChange struct {
	User model.User
}

// Stats summarizes the cache contents.
type Stats struct {
	Users    int
	Sessions int
	Messages int
	Pending  int
	Failed   int
}

type sessionEntry struct {
	session model.Session
	keys    []string // message keys in thread order
}

// Cache is safe for concurrent use. Each mutator runs as one atomic step.
type Cache struct {
	mu         sync.RWMutex
	bus        *bus.Bus
	echoWindow time.Duration

	users         map[string]model.User
	sessions      map[string]*sessionEntry
	messages      map[string]model.Message
	byCorrelation map[string]string
}

// New creates an empty cache publishing on b. A zero echoWindow selects
// DefaultEchoWindow.
func New(b *bus.Bus, echoWindow time.Duration) *Cache {
	if echoWindow <= 0 {
		echoWindow = DefaultEchoWindow
	}
	c := &Cache{bus: b, echoWindow: echoWindow}
	c.reset()
	return c
}

func (c *Cache) reset() {
	c.users = make(map[string]model.User)
	c.sessions = make(map[string]*sessionEntry)
	c.messages = make(map[string]model.Message)
	c.byCorrelation = make(map[string]string)
}

// Clear evicts everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
	c.bus.Emit(EventCleared, nil)
}

// Stats returns entity counts.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Stats{Users: len(c.users), Sessions: len(c.sessions), Messages: len(c.messages)}
	for _, m := range c.messages {
		switch m.State {
		case model.Pending:
			st.Pending++
		case model.Failed:
			st.Failed++
		}
	}
	return st
}

func (c *Cache) publish(events []bus.Event) {
	for _, evt := range events {
		c.bus.Publish(evt)
	}
}

func event(kind string, payload any) bus.Event {
	return bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
