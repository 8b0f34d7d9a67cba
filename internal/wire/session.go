package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/threadline/internal/model"
)

// User is a user as the server serializes it.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Presence    string `json:"presence,omitempty"`
}

// Model validates u and converts it to the domain type.
func (u User) Model() (model.User, error) {
	if u.ID == "" {
		return model.User{}, errors.New("user id is missing")
	}
	out := model.User{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Username:    u.Username,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
	}
	if u.Presence != "" {
		out.Presence, _ = model.ParsePresence(u.Presence)
	}
	return out, nil
}

// Session is a session as the server serializes it, with its participants
// and latest message inlined.
type Session struct {
	ID             string    `json:"id"`
	IsGroup        bool      `json:"isGroup"`
	Name           string    `json:"name,omitempty"`
	Participants   []User    `json:"participants"`
	LastMessage    *Message  `json:"lastMessage,omitempty"`
	LastActivityAt time.Time `json:"lastActivityAt,omitzero"`
	Archived       bool      `json:"archived,omitempty"`
}

// SessionInfo is a decoded Session: the session itself plus the entities it
// carried along.
type SessionInfo struct {
	Session     model.Session
	Users       []model.User
	LastMessage *model.Message
}

// Model validates s and converts it to domain types.
func (s Session) Model() (SessionInfo, error) {
	if s.ID == "" {
		return SessionInfo{}, errors.New("session id is missing")
	}
	info := SessionInfo{
		Session: model.Session{
			ID:             s.ID,
			IsGroup:        s.IsGroup,
			Name:           s.Name,
			LastActivityAt: s.LastActivityAt,
			Archived:       s.Archived,
		},
	}
	for _, p := range s.Participants {
		u, err := p.Model()
		if err != nil {
			return SessionInfo{}, fmt.Errorf("session %s: %w", s.ID, err)
		}
		info.Users = append(info.Users, u)
		info.Session.Participants = append(info.Session.Participants, u.ID)
	}
	if s.LastMessage != nil {
		m, err := s.LastMessage.Model()
		if err != nil {
			return SessionInfo{}, fmt.Errorf("session %s: %w", s.ID, err)
		}
		if m.SessionID != s.ID {
			return SessionInfo{}, fmt.Errorf("session %s: last message belongs to %s", s.ID, m.SessionID)
		}
		info.LastMessage = &m
		if m.CreatedAt.After(info.Session.LastActivityAt) {
			info.Session.LastActivityAt = m.CreatedAt
		}
	}
	return info, nil
}

// SessionList is the body of GET /sessions.
type SessionList struct {
	Sessions []Session `json:"sessions"`
}

// UserList is the body of GET /users/search.
type UserList struct {
	Users []User `json:"users"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	ParticipantIDs []string `json:"participantIds"`
	Name           string   `json:"name,omitempty"`
	IsGroup        bool     `json:"isGroup"`
}
