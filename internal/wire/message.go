package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/threadline/internal/model"
)

// Message is a message as the server serializes it.
type Message struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlationId,omitempty"`
	SessionID     string `json:"sessionId"`
	SenderID      string `json:"senderId"`
	ContentFields
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	Status    string    `json:"status,omitempty"`
}

// Model validates m and converts it to the domain type.
func (m Message) Model() (model.Message, error) {
	switch {
	case m.ID == "":
		return model.Message{}, errors.New("message id is missing")
	case m.SessionID == "":
		return model.Message{}, errors.New("message sessionId is missing")
	case m.SenderID == "":
		return model.Message{}, errors.New("message senderId is missing")
	case m.CreatedAt.IsZero():
		return model.Message{}, errors.New("message createdAt is missing")
	}
	content, err := m.Decode()
	if err != nil {
		return model.Message{}, fmt.Errorf("message %s: %w", m.ID, err)
	}
	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = m.CreatedAt
	}
	return model.Message{
		ID:            m.ID,
		CorrelationID: m.CorrelationID,
		SessionID:     m.SessionID,
		SenderID:      m.SenderID,
		Content:       content,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     updated,
		State:         model.ParseDeliveryState(m.Status),
	}, nil
}

// FromMessage converts a domain message to its wire form.
func FromMessage(m model.Message) Message {
	return Message{
		ID:            m.ID,
		CorrelationID: m.CorrelationID,
		SessionID:     m.SessionID,
		SenderID:      m.SenderID,
		ContentFields: EncodeContent(m.Content),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Status:        string(m.State),
	}
}

// MessagePage is one page of a session's history.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

// SendRequest is the body of a message submission.
type SendRequest struct {
	CorrelationID string `json:"correlationId"`
	ContentFields
}

// NewSendRequest builds a submission for content tagged with correlationID.
func NewSendRequest(correlationID string, c model.Content) SendRequest {
	return SendRequest{CorrelationID: correlationID, ContentFields: EncodeContent(c)}
}
