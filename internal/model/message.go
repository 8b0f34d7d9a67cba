package model

import (
	"strings"
	"time"
)

// DeliveryState tracks a message from local creation to server delivery.
type DeliveryState string

const (
	Pending   DeliveryState = "PENDING"
	Sent      DeliveryState = "SENT"
	Failed    DeliveryState = "FAILED"
	Delivered DeliveryState = "DELIVERED"
)

// ParseDeliveryState maps a wire status; an empty or unknown value means Sent,
// which is what any server-sourced record is at minimum.
func ParseDeliveryState(s string) DeliveryState {
	switch DeliveryState(strings.ToUpper(s)) {
	case Pending:
		return Pending
	case Failed:
		return Failed
	case Delivered:
		return Delivered
	}
	return Sent
}

// Rank orders states for merging. Authoritative records never move down.
func (s DeliveryState) Rank() int {
	switch s {
	case Sent:
		return 1
	case Delivered:
		return 2
	}
	return 0
}

// localKeyPrefix marks cache keys of messages that have no server id yet.
const localKeyPrefix = "local:"

// Message is a single chat message, either confirmed by the server or a
// locally created stub awaiting confirmation.
type Message struct {
	ID            string
	CorrelationID string
	SessionID     string
	SenderID      string
	Content       Content
	CreatedAt     time.Time
	UpdatedAt     time.Time
	State         DeliveryState
	Error         string
}

// Key is the message's identity in the cache.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return localKeyPrefix + m.CorrelationID
}

// IsStub reports whether the message has not been confirmed by the server.
func (m Message) IsStub() bool { return m.ID == "" }

// IsLocalKey reports whether key names an unconfirmed stub.
func IsLocalKey(key string) bool { return strings.HasPrefix(key, localKeyPrefix) }

// LocalKey returns the cache key of the stub with the given correlation id.
func LocalKey(correlationID string) string { return localKeyPrefix + correlationID }

// Before is the thread order: creation time, then key.
func (m Message) Before(other Message) bool {
	return CompareMessages(m, other) < 0
}

// CompareMessages orders messages by CreatedAt, ties broken by Key.
func CompareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	ka, kb := a.Key(), b.Key()
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	}
	return 0
}

// Cursor is a position in a session's history used for paging.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool { return c.ID == "" && c.CreatedAt.IsZero() }

// CursorOf returns the cursor positioned at m.
func CursorOf(m Message) Cursor { return Cursor{CreatedAt: m.CreatedAt, ID: m.ID} }
