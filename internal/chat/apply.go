package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/bridge"
	"github.com/matheus3301/threadline/internal/cache"
	"github.com/matheus3301/threadline/internal/model"
	intsync "github.com/matheus3301/threadline/internal/sync"
	"github.com/matheus3301/threadline/internal/wire"
)

// apply folds one realtime event into the cache.
func (s *Store) apply(evt bridge.Event) {
	switch e := evt.(type) {
	case bridge.MessageNew:
		s.applyMessage(e.Message, true)
	case bridge.MessageUpdate:
		s.applyMessage(e.Message, false)
	case bridge.SessionUpdate:
		s.applySession(s.ctx, e.Info)
	case bridge.PresenceUpdate:
		s.cache.SetPresence(e.UserID, e.Presence)
	case bridge.Reconnected:
		s.logger.Info("push channel recovered, catching up", zap.Duration("downtime", e.Downtime))
		if s.checkpoint != nil {
			s.checkpoint.MarkTime(intsync.KeyReconnectedAt, time.Now())
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.catchUp(s.ctx)
		}()
	case bridge.AuthExpired:
		s.logger.Warn("credential rejected by the server", zap.Error(e.Err))
		s.auth.Store(true)
		s.bus.Emit(EventAuthRequired, e.Err)
	}
}

func (s *Store) applyMessage(m model.Message, isNew bool) {
	_, known := s.cache.Session(m.SessionID)
	change, err := s.cache.UpsertMessage(m)
	if err != nil {
		s.logger.Warn("dropping pushed message", zap.Error(err), zap.String("message_id", m.ID))
		return
	}
	if isNew && change.Kind == cache.Created && m.SenderID != s.self && m.SessionID != s.selection.Selected() {
		s.cache.MutateSession(m.SessionID, func(sess *model.Session) { sess.Unread++ })
	}
	if !known {
		// Only a stub exists for this session; fetch the real record.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.LoadSessions(s.ctx); err != nil {
				s.logger.Warn("failed to hydrate stub session", zap.Error(err), zap.String("session_id", m.SessionID))
			}
		}()
	}
}

func (s *Store) applySession(ctx context.Context, info wire.SessionInfo) {
	for _, u := range info.Users {
		s.cache.UpsertUser(u)
	}
	s.cache.UpsertSession(info.Session)
	if info.LastMessage != nil {
		if _, err := s.cache.UpsertMessage(*info.LastMessage); err != nil {
			s.logger.Warn("dropping session preview", zap.Error(err), zap.String("session_id", info.Session.ID))
		}
	}
	s.subscribe(ctx, info.Session.ID)
}

func (s *Store) subscribe(ctx context.Context, sessionID string) {
	if s.bridge == nil {
		return
	}
	if err := s.bridge.Subscribe(ctx, sessionID); err != nil {
		// Replayed on the next reconnect.
		s.logger.Debug("subscribe deferred", zap.Error(err), zap.String("session_id", sessionID))
	}
}

// catchUp fetches what was pushed while the channel was down: messages
// newer than the newest confirmed one of the open session (or of every
// session with CatchUpAll), then the session list.
func (s *Store) catchUp(ctx context.Context) CatchUp {
	var ids []string
	if s.catchUpAll {
		for _, sess := range s.cache.Sessions() {
			ids = append(ids, sess.ID)
		}
	} else if id := s.selection.Selected(); id != "" {
		ids = append(ids, id)
	}

	var res CatchUp
	for _, id := range ids {
		newest, ok := s.cache.Newest(id)
		if !ok {
			// Nothing cached yet; the first page loads when the session opens.
			continue
		}
		r, err := s.pager.LoadNewer(ctx, id, model.CursorOf(newest))
		if err != nil {
			s.logger.Warn("catch-up failed", zap.Error(err), zap.String("session_id", id))
			res.Failed++
			continue
		}
		res.Sessions++
		res.Added += r.Added
	}
	if err := s.LoadSessions(ctx); err != nil {
		s.logger.Warn("session refresh after reconnect failed", zap.Error(err))
	}
	s.logger.Info("catch-up finished", zap.Int("sessions", res.Sessions), zap.Int("added", res.Added), zap.Int("failed", res.Failed))
	s.bus.Emit(EventCaughtUp, res)
	return res
}

// LoadSessions fetches the session list and merges it. Concurrent calls
// share one request.
func (s *Store) LoadSessions(ctx context.Context) error {
	ch := s.flights.DoChan("sessions", func() (any, error) {
		infos, err := s.api.ListSessions(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			s.applySession(s.ctx, info)
		}
		if s.checkpoint != nil {
			s.checkpoint.MarkTime(intsync.KeySessionsSyncedAt, time.Now())
		}
		s.bus.Emit(EventSessionsSync, len(infos))
		return len(infos), nil
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
