package model

import (
	"slices"
	"time"
)

// Session is a conversation between two or more users.
type Session struct {
	ID             string
	IsGroup        bool
	Name           string
	Participants   []string
	LastMessage    string // key of the newest message, empty when none is cached
	LastActivityAt time.Time
	Archived       bool
	Unread         int
	// Stub is set while the session is only known from a message that
	// referenced it.
	Stub bool
}

// HasParticipant reports whether userID takes part in the session.
func (s Session) HasParticipant(userID string) bool {
	return slices.Contains(s.Participants, userID)
}

// Others returns the participants except self, in their original order.
func (s Session) Others(self string) []string {
	out := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a copy that shares no slices with s.
func (s Session) Clone() Session {
	s.Participants = slices.Clone(s.Participants)
	return s
}

// SessionNewer orders sessions by last activity descending, ties by id.
func SessionNewer(a, b Session) int {
	if c := b.LastActivityAt.Compare(a.LastActivityAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
