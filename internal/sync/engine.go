// Package sync keeps the on-disk journal in step with the in-memory cache:
// it writes every cache change through to the store and restores the cache
// from the store at startup.
package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/cache"
	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/store"
)

// EventPersistFailed is published when a cache change could not be journaled.
const EventPersistFailed = "sync.persist_failed"

// InterruptedError is the error text given to sends that were still pending
// when the previous run ended.
const InterruptedError = "interrupted before the server confirmed it"

// Engine writes cache changes through to the store.
// It subscribes to "cache." events on the bus and applies them in order.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
	once   gosync.Once
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to cache events on the bus.
func (e *Engine) Start(ctx context.Context) {
	e.once.Do(func() {
		ctx, e.cancel = context.WithCancel(ctx)
		e.done = make(chan struct{})
		ch, unsub := e.bus.Subscribe(4096, "cache.")

		go func() {
			defer close(e.done)
			defer unsub()
			for {
				select {
				case evt := <-ch:
					if err := e.Apply(evt); err != nil {
						e.logger.Error("failed to journal change", zap.Error(err), zap.String("kind", evt.Kind))
						e.bus.Emit(EventPersistFailed, err)
					}
				case <-ctx.Done():
					e.drain(ch)
					return
				}
			}
		}()
	})
}

// drain applies whatever is already buffered so a clean shutdown does not
// lose the last changes.
func (e *Engine) drain(ch <-chan bus.Event) {
	for {
		select {
		case evt := <-ch:
			if err := e.Apply(evt); err != nil {
				e.logger.Error("failed to journal change", zap.Error(err), zap.String("kind", evt.Kind))
			}
		default:
			return
		}
	}
}

// Stop stops the engine and waits for buffered changes to be written.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// Apply journals a single cache event. Unknown kinds are ignored.
func (e *Engine) Apply(evt bus.Event) error {
	switch evt.Kind {
	case cache.EventMessageUpserted:
		change, ok := evt.Payload.(cache.MessageChange)
		if !ok {
			return nil
		}
		if change.PrevKey != "" {
			if err := e.db.ReplaceMessage(change.PrevKey, change.Message); err != nil {
				return fmt.Errorf("replace message %s: %w", change.PrevKey, err)
			}
			return nil
		}
		if err := e.db.UpsertMessage(change.Message); err != nil {
			return fmt.Errorf("upsert message %s: %w", change.Key, err)
		}

	case cache.EventMessageRemoved:
		change, ok := evt.Payload.(cache.MessageChange)
		if !ok {
			return nil
		}
		if err := e.db.DeleteMessage(change.Key); err != nil {
			return fmt.Errorf("delete message %s: %w", change.Key, err)
		}
		if change.Message.IsStub() {
			if err := e.db.DeleteOutbox(change.Message.CorrelationID); err != nil {
				return fmt.Errorf("delete outbox %s: %w", change.Message.CorrelationID, err)
			}
		}

	case cache.EventSessionUpserted:
		change, ok := evt.Payload.(cache.SessionChange)
		if !ok {
			return nil
		}
		if err := e.db.UpsertSession(change.Session); err != nil {
			return fmt.Errorf("upsert session %s: %w", change.Session.ID, err)
		}

	case cache.EventUserUpserted:
		change, ok := evt.Payload.(cache.UserChange)
		if !ok {
			return nil
		}
		if err := e.db.UpsertUser(change.User); err != nil {
			return fmt.Errorf("upsert user %s: %w", change.User.ID, err)
		}

	case cache.EventCleared:
		if err := e.db.Clear(); err != nil {
			return fmt.Errorf("clear journal: %w", err)
		}
		e.logger.Info("journal cleared")
	}
	return nil
}

// HydrateResult describes what Hydrate restored.
type HydrateResult struct {
	Users       int
	Sessions    int
	Messages    int
	Interrupted int
	// Skipped counts journaled messages that could not be decoded.
	Skipped int
}

// Hydrate loads the journal into c. Up to perSession of the newest messages
// of each session are restored. Sends that were still PENDING when the last
// run ended are restored as FAILED so the user can retry them.
//
// Hydrate must run before Start, otherwise the restored records are written
// straight back.
func (e *Engine) Hydrate(c *cache.Cache, perSession int) (HydrateResult, error) {
	var res HydrateResult

	users, err := e.db.ListUsers()
	if err != nil {
		return res, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		c.UpsertUser(u)
	}
	res.Users = len(users)

	sessions, err := e.db.ListSessions()
	if err != nil {
		return res, fmt.Errorf("list sessions: %w", err)
	}
	for _, s := range sessions {
		c.UpsertSession(s)
		if s.Unread > 0 {
			unread := s.Unread
			c.MutateSession(s.ID, func(cur *model.Session) { cur.Unread = unread })
		}

		msgs, bad, err := e.db.ListMessages(s.ID, 0, perSession)
		if err != nil {
			return res, fmt.Errorf("list messages of %s: %w", s.ID, err)
		}
		for _, row := range bad {
			e.logger.Warn("dropping unreadable journaled message", zap.Error(row.Err), zap.String("key", row.Key))
			if err := e.db.DeleteMessage(row.Key); err != nil {
				return res, fmt.Errorf("drop unreadable %s: %w", row.Key, err)
			}
			res.Skipped++
		}
		for _, m := range msgs {
			if m.IsStub() && m.State == model.Pending {
				m.State = model.Failed
				m.Error = InterruptedError
				if err := e.db.UpsertMessage(m); err != nil {
					return res, fmt.Errorf("fail interrupted %s: %w", m.Key(), err)
				}
				if err := e.db.MarkOutboxFailed(m.CorrelationID, InterruptedError); err != nil {
					return res, fmt.Errorf("fail interrupted outbox %s: %w", m.CorrelationID, err)
				}
				res.Interrupted++
			}
			if _, err := c.UpsertMessage(m); err != nil {
				e.logger.Warn("skipping journaled message", zap.Error(err), zap.String("key", m.Key()))
				continue
			}
			res.Messages++
		}
	}
	res.Sessions = len(sessions)

	e.logger.Info("cache hydrated",
		zap.Int("users", res.Users),
		zap.Int("sessions", res.Sessions),
		zap.Int("messages", res.Messages),
		zap.Int("interrupted", res.Interrupted),
		zap.Int("skipped", res.Skipped))
	return res, nil
}
