package cache

import (
	"slices"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/model"
)

// UpsertSession merges s into the cache. Name and participants are replaced
// only when s carries them; LastActivityAt only moves forward. Unread and
// LastMessage are maintained locally and ignored on input.
func (c *Cache) UpsertSession(s model.Session) bool {
	if s.ID == "" {
		return false
	}
	c.mu.Lock()
	entry, ok := c.sessions[s.ID]
	if !ok {
		s = s.Clone()
		s.Stub = false
		s.Unread = 0
		s.LastMessage = ""
		c.sessions[s.ID] = &sessionEntry{session: s}
		c.mu.Unlock()
		c.bus.Emit(EventSessionUpserted, SessionChange{Session: s.Clone(), Created: true})
		return true
	}

	merged := entry.session.Clone()
	if s.Name != "" {
		merged.Name = s.Name
	}
	if len(s.Participants) > 0 {
		merged.Participants = slices.Clone(s.Participants)
		merged.IsGroup = s.IsGroup
	} else if s.IsGroup {
		merged.IsGroup = true
	}
	if s.LastActivityAt.After(merged.LastActivityAt) {
		merged.LastActivityAt = s.LastActivityAt
	}
	merged.Archived = merged.Archived || s.Archived
	merged.Stub = false

	if sessionEqual(merged, entry.session) {
		c.mu.Unlock()
		return false
	}
	entry.session = merged
	c.mu.Unlock()

	c.bus.Emit(EventSessionUpserted, SessionChange{Session: merged.Clone()})
	return true
}

// MutateSession applies fn to a copy of the session and stores the result.
// The id and LastMessage cannot be changed this way.
func (c *Cache) MutateSession(id string, fn func(*model.Session)) bool {
	c.mu.Lock()
	entry, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	next := entry.session.Clone()
	fn(&next)
	next.ID = entry.session.ID
	next.LastMessage = entry.session.LastMessage
	if next.Unread < 0 {
		next.Unread = 0
	}
	if sessionEqual(next, entry.session) {
		c.mu.Unlock()
		return false
	}
	entry.session = next
	c.mu.Unlock()

	c.bus.Emit(EventSessionUpserted, SessionChange{Session: next.Clone()})
	return true
}

// Session returns a cached session.
func (c *Cache) Session(id string) (model.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return entry.session.Clone(), true
}

// Sessions returns every cached session, most recently active first.
func (c *Cache) Sessions() []model.Session {
	c.mu.RLock()
	out := make([]model.Session, 0, len(c.sessions))
	for _, entry := range c.sessions {
		out = append(out, entry.session.Clone())
	}
	c.mu.RUnlock()
	slices.SortFunc(out, model.SessionNewer)
	return out
}

// FindDirect returns the non-group session whose participants are exactly
// a and b.
func (c *Cache) FindDirect(a, b string) (model.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, entry := range c.sessions {
		s := entry.session
		if s.IsGroup || len(s.Participants) != 2 {
			continue
		}
		if s.HasParticipant(a) && s.HasParticipant(b) {
			return s.Clone(), true
		}
	}
	return model.Session{}, false
}

// ensureSession returns the entry for id, creating a stub when unknown.
// Must be called with c.mu held.
func (c *Cache) ensureSession(id string, events *[]bus.Event) *sessionEntry {
	entry, ok := c.sessions[id]
	if ok {
		return entry
	}
	entry = &sessionEntry{session: model.Session{ID: id, Stub: true}}
	c.sessions[id] = entry
	*events = append(*events, event(EventSessionUpserted, SessionChange{Session: entry.session.Clone(), Created: true}))
	return entry
}

func sessionEqual(a, b model.Session) bool {
	return a.ID == b.ID &&
		a.IsGroup == b.IsGroup &&
		a.Name == b.Name &&
		slices.Equal(a.Participants, b.Participants) &&
		a.LastMessage == b.LastMessage &&
		a.LastActivityAt.Equal(b.LastActivityAt) &&
		a.Archived == b.Archived &&
		a.Unread == b.Unread &&
		a.Stub == b.Stub
}
