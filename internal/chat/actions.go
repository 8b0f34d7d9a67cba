package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/pager"
	"github.com/matheus3301/threadline/internal/selection"
)

// ErrUnknownSession is returned for actions on a session the cache does not hold.
var ErrUnknownSession = errors.New("unknown session")

// Select opens a session and subscribes to its events.
func (s *Store) Select(ctx context.Context, sessionID string) {
	s.selection.Select(ctx, sessionID)
	if sessionID != "" {
		s.subscribe(ctx, sessionID)
	}
}

// Selected returns the open session id.
func (s *Store) Selected() string {
	return s.selection.Selected()
}

// LoadOlder fetches the page before the oldest loaded message of the open
// session.
func (s *Store) LoadOlder(ctx context.Context) (pager.Result, error) {
	id := s.selection.Selected()
	if id == "" {
		return pager.Result{}, selection.ErrNoSelection
	}
	return s.pager.LoadOlder(ctx, id)
}

// SendText sends a text message to the open session.
func (s *Store) SendText(body string) (model.Message, error) {
	return s.Send(model.Text{Body: body})
}

// Send sends content to the open session. The returned stub is already in
// the thread as PENDING.
func (s *Store) Send(content model.Content) (model.Message, error) {
	id := s.selection.Selected()
	if id == "" {
		return model.Message{}, selection.ErrNoSelection
	}
	return s.SendTo(id, content)
}

// SendTo sends content to a given session.
func (s *Store) SendTo(sessionID string, content model.Content) (model.Message, error) {
	return s.sender.Send(sessionID, content)
}

// Retry resubmits a FAILED message by correlation id.
func (s *Store) Retry(correlationID string) (model.Message, error) {
	return s.sender.Retry(correlationID)
}

// Discard drops a FAILED message by correlation id.
func (s *Store) Discard(correlationID string) error {
	return s.sender.Discard(correlationID)
}

// WaitSends blocks until every in-flight send has resolved.
func (s *Store) WaitSends() {
	s.sender.Wait()
}

// CreateSession opens a conversation with the given users. A 1:1 request
// reuses the existing direct session with that user when there is one.
func (s *Store) CreateSession(ctx context.Context, participantIDs []string, name string, isGroup bool) (model.Session, error) {
	others := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		if id != "" && id != s.self && !slices.Contains(others, id) {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return model.Session{}, errors.New("no participants")
	}
	if len(others) > 1 {
		isGroup = true
	}
	if !isGroup {
		if existing, ok := s.cache.FindDirect(s.self, others[0]); ok {
			s.logger.Debug("reusing direct session", zap.String("session_id", existing.ID))
			return existing, nil
		}
	}

	info, err := s.api.CreateSession(ctx, api.NewSession{
		ParticipantIDs: append([]string{s.self}, others...),
		Name:           name,
		IsGroup:        isGroup,
	})
	if err != nil {
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}
	s.applySession(ctx, info)
	created, ok := s.cache.Session(info.Session.ID)
	if !ok {
		return model.Session{}, ErrUnknownSession
	}
	s.logger.Info("session created", zap.String("session_id", created.ID), zap.Bool("group", created.IsGroup))
	return created, nil
}

// Archive moves a session in or out of the archive.
func (s *Store) Archive(sessionID string, archived bool) error {
	if !s.cache.MutateSession(sessionID, func(sess *model.Session) { sess.Archived = archived }) {
		if _, ok := s.cache.Session(sessionID); !ok {
			return ErrUnknownSession
		}
	}
	return nil
}

// MarkUnread flags a session as having unread messages.
func (s *Store) MarkUnread(sessionID string) error {
	if !s.cache.MutateSession(sessionID, func(sess *model.Session) {
		if sess.Unread == 0 {
			sess.Unread = 1
		}
	}) {
		if _, ok := s.cache.Session(sessionID); !ok {
			return ErrUnknownSession
		}
	}
	return nil
}

// SetListQuery filters the session list (debounced).
func (s *Store) SetListQuery(q string) { s.selection.SetListQuery(q) }

// ListQuery returns the applied session-list filter.
func (s *Store) ListQuery() string { return s.selection.ListQuery() }

// SetThreadQuery searches the open thread (debounced).
func (s *Store) SetThreadQuery(q string) { s.selection.SetThreadQuery(q) }

// SearchUsers looks up users to start a conversation with (debounced).
func (s *Store) SearchUsers(q string) { s.selection.SetUserQuery(q) }

// SearchNext moves to the next thread search match.
func (s *Store) SearchNext() (string, bool) { return s.selection.Next() }

// SearchPrev moves to the previous thread search match.
func (s *Store) SearchPrev() (string, bool) { return s.selection.Prev() }

// Flush applies pending search input without waiting for the debounce.
func (s *Store) Flush() { s.selection.Flush() }
