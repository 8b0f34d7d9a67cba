// Package pager loads session history page by page. Concurrent loads of the
// same session share one request, and a load keeps running when the caller
// stops waiting for it.
package pager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/cache"
	"github.com/matheus3301/threadline/internal/model"
)

// Fetcher retrieves pages of history.
type Fetcher interface {
	Messages(ctx context.Context, sessionID string, q api.PageQuery) (api.Page, error)
}

// Config tunes paging.
type Config struct {
	PageSize int
	// Timeout bounds a single request; it is independent of the caller's context.
	Timeout time.Duration
	// MaxCatchUpPages bounds how many pages one catch-up may fetch.
	MaxCatchUpPages int
}

// Result describes a completed load.
type Result struct {
	SessionID string
	Fetched   int
	Added     int
	HasMore   bool
	// Shared is set when the caller joined a load already in flight.
	Shared bool
}

type cursorState struct {
	loaded  bool
	oldest  model.Cursor
	hasMore bool
}

// Pager tracks per-session history cursors.
type Pager struct {
	fetch  Fetcher
	cache  *cache.Cache
	cfg    Config
	logger *zap.Logger
	group  singleflight.Group

	mu    sync.Mutex
	state map[string]*cursorState
}

// New creates a pager merging into c.
func New(f Fetcher, c *cache.Cache, cfg Config, logger *zap.Logger) *Pager {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxCatchUpPages <= 0 {
		cfg.MaxCatchUpPages = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pager{fetch: f, cache: c, cfg: cfg, logger: logger, state: make(map[string]*cursorState)}
}

// LoadInitialPage fetches the newest page of a session.
func (p *Pager) LoadInitialPage(ctx context.Context, sessionID string) (Result, error) {
	return p.flight(ctx, sessionID, sessionID, func(ctx context.Context) (Result, error) {
		return p.loadPage(ctx, sessionID, model.Cursor{})
	})
}

// LoadOlder fetches the page before the oldest one loaded. When the server
// has said there is nothing older it returns at once without a request.
func (p *Pager) LoadOlder(ctx context.Context, sessionID string) (Result, error) {
	p.mu.Lock()
	st, ok := p.state[sessionID]
	var (
		loaded  bool
		hasMore bool
		cursor  model.Cursor
	)
	if ok {
		loaded, hasMore, cursor = st.loaded, st.hasMore, st.oldest
	}
	p.mu.Unlock()

	if loaded && !hasMore {
		return Result{SessionID: sessionID}, nil
	}
	if !loaded {
		// History restored from disk: continue from the oldest confirmed message.
		oldest, ok := p.cache.Oldest(sessionID)
		if !ok {
			return p.LoadInitialPage(ctx, sessionID)
		}
		cursor = model.CursorOf(oldest)
	}
	return p.flight(ctx, sessionID, sessionID, func(ctx context.Context) (Result, error) {
		return p.loadPage(ctx, sessionID, cursor)
	})
}

// LoadNewer fetches everything after the given cursor, page by page. It is
// used to recover messages missed while the push channel was down. A zero
// cursor falls back to the newest page.
func (p *Pager) LoadNewer(ctx context.Context, sessionID string, after model.Cursor) (Result, error) {
	if after.IsZero() {
		return p.LoadInitialPage(ctx, sessionID)
	}
	return p.flight(ctx, "catchup:"+sessionID, sessionID, func(ctx context.Context) (Result, error) {
		total := Result{SessionID: sessionID}
		cursor := after
		for range p.cfg.MaxCatchUpPages {
			page, err := p.fetch.Messages(ctx, sessionID, api.PageQuery{After: cursor, Limit: p.cfg.PageSize})
			if err != nil {
				return total, fmt.Errorf("catch up %s: %w", sessionID, err)
			}
			total.Fetched += len(page.Messages)
			total.Added += p.merge(sessionID, page.Messages)
			total.HasMore = page.HasMore
			if !page.HasMore || len(page.Messages) == 0 {
				return total, nil
			}
			cursor = model.CursorOf(page.Messages[len(page.Messages)-1])
		}
		p.logger.Warn("catch-up stopped at page limit",
			zap.String("session_id", sessionID), zap.Int("pages", p.cfg.MaxCatchUpPages))
		return total, nil
	})
}

// HasMore reports whether older history remains and whether any page was
// loaded yet.
func (p *Pager) HasMore(sessionID string) (hasMore, loaded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.state[sessionID]
	if !ok {
		return true, false
	}
	return st.hasMore, st.loaded
}

// Reset forgets every cursor.
func (p *Pager) Reset() {
	p.mu.Lock()
	p.state = make(map[string]*cursorState)
	p.mu.Unlock()
}

func (p *Pager) loadPage(ctx context.Context, sessionID string, before model.Cursor) (Result, error) {
	page, err := p.fetch.Messages(ctx, sessionID, api.PageQuery{Before: before, Limit: p.cfg.PageSize})
	if err != nil {
		return Result{SessionID: sessionID}, fmt.Errorf("load history of %s: %w", sessionID, err)
	}
	added := p.merge(sessionID, page.Messages)

	p.mu.Lock()
	st, ok := p.state[sessionID]
	if !ok {
		st = &cursorState{}
		p.state[sessionID] = st
	}
	st.loaded = true
	if len(page.Messages) == 0 {
		if !before.IsZero() || st.oldest.IsZero() {
			st.hasMore = false
		}
	} else if first := model.CursorOf(page.Messages[0]); st.oldest.IsZero() || cursorBefore(first, st.oldest) {
		// Only a page that reaches further back decides whether more remains.
		st.oldest = first
		st.hasMore = page.HasMore
	}
	hasMore := st.hasMore
	p.mu.Unlock()

	p.logger.Debug("history page loaded",
		zap.String("session_id", sessionID),
		zap.Int("fetched", len(page.Messages)),
		zap.Int("added", added),
		zap.Bool("has_more", hasMore),
	)
	return Result{SessionID: sessionID, Fetched: len(page.Messages), Added: added, HasMore: hasMore}, nil
}

func (p *Pager) merge(sessionID string, msgs []model.Message) int {
	added := 0
	for _, m := range msgs {
		change, err := p.cache.UpsertMessage(m)
		if err != nil {
			p.logger.Warn("skipping history item", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		if change.Kind != cache.Unchanged {
			added++
		}
	}
	return added
}

// flight runs fn once per key at a time. The request itself is detached from
// ctx; ctx only bounds how long this caller waits.
func (p *Pager) flight(ctx context.Context, key, sessionID string, fn func(context.Context) (Result, error)) (Result, error) {
	detached := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(detached, p.cfg.Timeout)
		defer cancel()
		return fn(rctx)
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(Result)
		res.SessionID = sessionID
		res.Shared = r.Shared
		return res, r.Err
	case <-ctx.Done():
		return Result{SessionID: sessionID}, ctx.Err()
	}
}

func cursorBefore(a, b model.Cursor) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
