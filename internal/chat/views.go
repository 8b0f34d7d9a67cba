package chat

import (
	"fmt"
	"strings"

	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/selection"
	"github.com/matheus3301/threadline/internal/status"
)

// SessionView is one row of the session list.
type SessionView struct {
	Session  model.Session
	Title    string
	Preview  string
	Presence model.Presence // other participant of a 1:1, empty for groups
	Unread   int
}

// MessageView is one message of a thread.
type MessageView struct {
	Message    model.Message
	SenderName string
	Mine       bool
}

// HeaderView is the title bar of an open session.
type HeaderView struct {
	Title    string
	Subtitle string
}

// SessionList returns the visible, non-archived sessions matching the list
// filter, newest activity first.
func (s *Store) SessionList() []SessionView {
	return s.views(s.selection.FilteredSessions())
}

// ArchivedList returns archived sessions matching the list filter.
func (s *Store) ArchivedList() []SessionView {
	return s.views(s.selection.ArchivedSessions())
}

func (s *Store) views(sessions []model.Session) []SessionView {
	out := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		v := SessionView{
			Session: sess,
			Title:   s.title(sess),
			Unread:  sess.Unread,
		}
		if m, ok := s.cache.LastMessage(sess.ID); ok && m.Content != nil {
			v.Preview = m.Content.Preview()
			if m.SenderID == s.self {
				v.Preview = "You: " + v.Preview
			}
		}
		if !sess.IsGroup {
			if other, ok := s.other(sess); ok {
				v.Presence = other.Presence
			}
		}
		out = append(out, v)
	}
	return out
}

// title is the session name, or the names of the other participants.
func (s *Store) title(sess model.Session) string {
	if sess.Name != "" {
		return sess.Name
	}
	var names []string
	for _, id := range sess.Others(s.self) {
		names = append(names, s.UserName(id))
	}
	if len(names) == 0 {
		return sess.ID
	}
	return strings.Join(names, ", ")
}

func (s *Store) other(sess model.Session) (model.User, bool) {
	others := sess.Others(s.self)
	if len(others) != 1 {
		return model.User{}, false
	}
	if u, ok := s.cache.User(others[0]); ok {
		return u, true
	}
	return model.User{ID: others[0], Presence: model.Offline}, true
}

// UserName returns the display name of a user, or the id when unknown.
func (s *Store) UserName(id string) string {
	if u, ok := s.cache.User(id); ok {
		return u.Name()
	}
	return id
}

// Thread returns the ordered messages of a session.
func (s *Store) Thread(sessionID string) []MessageView {
	msgs := s.cache.Messages(sessionID)
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = MessageView{
			Message:    m,
			SenderName: s.UserName(m.SenderID),
			Mine:       m.SenderID == s.self,
		}
	}
	return out
}

// ActiveThread returns the messages of the open session, nil when none is open.
func (s *Store) ActiveThread() []MessageView {
	id := s.selection.Selected()
	if id == "" {
		return nil
	}
	return s.Thread(id)
}

// Header describes a session for its title bar: groups show their member
// count, 1:1 sessions the other user's presence.
func (s *Store) Header(sessionID string) (HeaderView, error) {
	sess, ok := s.cache.Session(sessionID)
	if !ok {
		return HeaderView{}, ErrUnknownSession
	}
	h := HeaderView{Title: s.title(sess)}
	if sess.IsGroup {
		h.Subtitle = fmt.Sprintf("%d members", len(sess.Participants))
		return h, nil
	}
	if other, ok := s.other(sess); ok {
		h.Subtitle = other.Presence.Label()
	}
	return h, nil
}

// ThreadSearch returns the in-thread search state.
func (s *Store) ThreadSearch() selection.ThreadSearch {
	return s.selection.ThreadSearch()
}

// UserResults returns the latest user search results.
func (s *Store) UserResults() []model.User {
	return s.selection.UserResults()
}

// ConnectionState returns the realtime channel state.
func (s *Store) ConnectionState() status.State {
	if s.bridge == nil {
		return status.Disconnected
	}
	return s.bridge.State()
}

// Session returns a cached session.
func (s *Store) Session(sessionID string) (model.Session, bool) {
	return s.cache.Session(sessionID)
}

// Members returns the participants of a session. Users the cache has not
// seen yet are returned with only their id.
func (s *Store) Members(sessionID string) []model.User {
	sess, ok := s.cache.Session(sessionID)
	if !ok {
		return nil
	}
	out := make([]model.User, 0, len(sess.Participants))
	for _, id := range sess.Participants {
		u, ok := s.cache.User(id)
		if !ok {
			u = model.User{ID: id}
		}
		out = append(out, u)
	}
	return out
}

// HasOlder reports whether older history of a session may still exist on
// the server.
func (s *Store) HasOlder(sessionID string) bool {
	hasMore, _ := s.pager.HasMore(sessionID)
	return hasMore
}

// UnreadTotal sums unread counts over non-archived sessions.
func (s *Store) UnreadTotal() int {
	n := 0
	for _, sess := range s.cache.Sessions() {
		if !sess.Archived {
			n += sess.Unread
		}
	}
	return n
}
