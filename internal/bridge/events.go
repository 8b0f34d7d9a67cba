package bridge

import (
	"time"

	"github.com/matheus3301/threadline/internal/errs"
	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/wire"
)

// Event is an inbound realtime event. The concrete types are MessageNew,
// MessageUpdate, SessionUpdate, PresenceUpdate, Reconnected and AuthExpired.
type Event interface {
	isEvent()
}

// MessageNew carries a message the server just accepted.
type MessageNew struct {
	Message model.Message
}

// MessageUpdate carries an edit or delivery-state change.
type MessageUpdate struct {
	Message model.Message
}

// SessionUpdate carries a created or changed session.
type SessionUpdate struct {
	Info wire.SessionInfo
}

// PresenceUpdate carries a user's new presence.
type PresenceUpdate struct {
	UserID   string
	Presence model.Presence
}

// Reconnected is emitted when the channel comes back after an outage.
// Anything pushed while it was down must be fetched.
type Reconnected struct {
	At       time.Time
	Downtime time.Duration
}

// AuthExpired is emitted when the server rejects the credential. The bridge
// stops retrying after sending it.
type AuthExpired struct {
	Err error
}

func (MessageNew) isEvent()     {}
func (MessageUpdate) isEvent()  {}
func (SessionUpdate) isEvent()  {}
func (PresenceUpdate) isEvent() {}
func (Reconnected) isEvent()    {}
func (AuthExpired) isEvent()    {}

// decode turns a raw frame into an Event. Every failure is an
// errs.MalformedEventError.
func decode(data []byte) (Event, error) {
	env, err := wire.ParseEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case wire.TypeMessageNew:
		m, err := env.Message()
		if err != nil {
			return nil, err
		}
		return MessageNew{Message: m}, nil
	case wire.TypeMessageUpdate:
		m, err := env.Message()
		if err != nil {
			return nil, err
		}
		return MessageUpdate{Message: m}, nil
	case wire.TypeSessionUpdate:
		info, err := env.Session()
		if err != nil {
			return nil, err
		}
		return SessionUpdate{Info: info}, nil
	case wire.TypePresenceUpdate:
		id, p, err := env.Presence()
		if err != nil {
			return nil, err
		}
		return PresenceUpdate{UserID: id, Presence: p}, nil
	}
	return nil, &errs.MalformedEventError{Type: env.Type, Reason: "unknown event type"}
}
