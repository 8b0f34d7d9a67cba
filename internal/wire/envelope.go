package wire

import (
	"encoding/json"
	"errors"

	"github.com/matheus3301/threadline/internal/errs"
	"github.com/matheus3301/threadline/internal/model"
)

// Server-to-client event types.
const (
	TypeMessageNew     = "message:new"
	TypeMessageUpdate  = "message:update"
	TypeSessionUpdate  = "session:update"
	TypePresenceUpdate = "presence:update"
)

// Client-to-server frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Envelope is one frame received on the push channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ControlFrame is a frame the client sends on the push channel.
type ControlFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// Presence is the payload of presence:update.
type Presence struct {
	UserID   string `json:"userId"`
	Presence string `json:"presence"`
}

// ParseEnvelope decodes a raw frame. Failures are MalformedEventErrors.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &errs.MalformedEventError{Reason: err.Error()}
	}
	if env.Type == "" {
		return Envelope{}, &errs.MalformedEventError{Reason: "type is missing"}
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return Envelope{}, &errs.MalformedEventError{Type: env.Type, Reason: "payload is missing"}
	}
	return env, nil
}

// Message decodes a message:new or message:update payload.
func (e Envelope) Message() (model.Message, error) {
	var m Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return model.Message{}, e.malformed(err)
	}
	out, err := m.Model()
	if err != nil {
		return model.Message{}, e.malformed(err)
	}
	return out, nil
}

// Session decodes a session:update payload.
func (e Envelope) Session() (SessionInfo, error) {
	var s Session
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return SessionInfo{}, e.malformed(err)
	}
	info, err := s.Model()
	if err != nil {
		return SessionInfo{}, e.malformed(err)
	}
	return info, nil
}

// Presence decodes a presence:update payload.
func (e Envelope) Presence() (string, model.Presence, error) {
	var p Presence
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return "", "", e.malformed(err)
	}
	if p.UserID == "" {
		return "", "", e.malformed(errors.New("userId is missing"))
	}
	presence, ok := model.ParsePresence(p.Presence)
	if !ok {
		return "", "", e.malformed(errors.New("unknown presence " + p.Presence))
	}
	return p.UserID, presence, nil
}

func (e Envelope) malformed(err error) error {
	return &errs.MalformedEventError{Type: e.Type, Reason: err.Error()}
}
