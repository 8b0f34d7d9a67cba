// Package selection tracks which session is open and the three search modes
// of the client: the session-list filter, the in-thread search and the user
// search used to start a new conversation. Typed input is debounced.
package selection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/cache"
	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/pager"
)

// Bus event kinds published by the controller.
const (
	EventChanged      = "selection.changed"
	EventPageLoaded   = "selection.page_loaded"
	EventPageFailed   = "selection.page_failed"
	EventQueryChanged = "selection.query_changed"
	EventUsersLoaded  = "selection.users_loaded"
	EventUsersFailed  = "selection.users_failed"
)

// DefaultDebounce is how long typed input settles before it is applied.
const DefaultDebounce = 300 * time.Millisecond

var ErrNoSelection = errors.New("no session selected")

// Loader fetches the first page of a session's history.
type Loader interface {
	LoadInitialPage(ctx context.Context, sessionID string) (pager.Result, error)
}

// UserSearcher looks users up on the server.
type UserSearcher interface {
	SearchUsers(ctx context.Context, query string) ([]model.User, error)
}

// Config tunes the controller.
type Config struct {
	Debounce time.Duration
	// SelfID is excluded from user search results.
	SelfID string
	// Timeout bounds a user search request.
	Timeout time.Duration
}

// PageFailed is the payload of EventPageFailed.
type PageFailed struct {
	SessionID string
	Err       error
}

// ThreadSearch is the state of the in-thread search.
type ThreadSearch struct {
	Query   string
	Matches []string // message keys, thread order
	Cursor  int      // -1 when there are no matches
}

// Current returns the key under the cursor.
func (t ThreadSearch) Current() (string, bool) {
	if t.Cursor < 0 || t.Cursor >= len(t.Matches) {
		return "", false
	}
	return t.Matches[t.Cursor], true
}

type field int

const (
	listField field = iota
	threadField
	userField
	fieldCount
)

type pending struct {
	value string
	timer *time.Timer
	gen   uint64
	set   bool
}

// Controller owns the selection and search state.
type Controller struct {
	cache  *cache.Cache
	loader Loader
	users  UserSearcher
	bus    *bus.Bus
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	selected    string
	listQuery   string
	thread      ThreadSearch
	userQuery   string
	userResults []model.User
	userGen     uint64
	pending     [fieldCount]pending
}

// New creates a controller. users may be nil when user search is unavailable.
func New(c *cache.Cache, l Loader, u UserSearcher, b *bus.Bus, cfg Config, logger *zap.Logger) *Controller {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cache:  c,
		loader: l,
		users:  u,
		bus:    b,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		thread: ThreadSearch{Cursor: -1},
	}
}

// Stop cancels timers and background work and waits for it to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	for i := range c.pending {
		c.cancelPendingLocked(field(i))
	}
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// Selected returns the open session id, or "" when none is open.
func (c *Controller) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Select opens a session. It drops any pending thread search input, clears
// the thread search, resets the session's unread count and, when nothing of
// the session is cached yet, loads its first page in the background.
// Selecting "" closes the current session.
func (c *Controller) Select(ctx context.Context, sessionID string) {
	c.mu.Lock()
	c.cancelPendingLocked(threadField)
	prev := c.selected
	c.selected = sessionID
	c.thread = ThreadSearch{Cursor: -1}
	c.mu.Unlock()

	if sessionID == "" {
		if prev != "" {
			c.bus.Emit(EventChanged, "")
		}
		return
	}

	c.cache.MutateSession(sessionID, func(s *model.Session) { s.Unread = 0 })
	if prev != sessionID {
		c.bus.Emit(EventChanged, sessionID)
	}

	if c.cache.HasMessages(sessionID) || c.loader == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, err := c.loader.LoadInitialPage(ctx, sessionID)
		if err != nil {
			c.logger.Warn("failed to load session", zap.Error(err), zap.String("session_id", sessionID))
			c.bus.Emit(EventPageFailed, PageFailed{SessionID: sessionID, Err: err})
			return
		}
		c.Refresh()
		c.bus.Emit(EventPageLoaded, res)
	}()
}

// SetListQuery updates the session-list filter after the debounce window.
func (c *Controller) SetListQuery(q string) { c.schedule(listField, q) }

// SetThreadQuery updates the in-thread search after the debounce window.
func (c *Controller) SetThreadQuery(q string) { c.schedule(threadField, q) }

// SetUserQuery starts a user search after the debounce window.
func (c *Controller) SetUserQuery(q string) { c.schedule(userField, q) }

// Flush applies all pending input now.
func (c *Controller) Flush() {
	for f := range fieldCount {
		c.mu.Lock()
		p := c.pending[f]
		c.cancelPendingLocked(f)
		c.mu.Unlock()
		if p.set {
			c.apply(f, p.value)
		}
	}
}

func (c *Controller) schedule(f field, q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &c.pending[f]
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	p.value, p.set = q, true
	gen := p.gen
	p.timer = time.AfterFunc(c.cfg.Debounce, func() { c.fire(f, gen) })
}

func (c *Controller) fire(f field, gen uint64) {
	c.mu.Lock()
	p := c.pending[f]
	if !p.set || p.gen != gen {
		c.mu.Unlock()
		return
	}
	c.pending[f] = pending{gen: p.gen}
	c.mu.Unlock()
	c.apply(f, p.value)
}

func (c *Controller) cancelPendingLocked(f field) {
	p := &c.pending[f]
	if p.timer != nil {
		p.timer.Stop()
	}
	c.pending[f] = pending{gen: p.gen + 1}
}

func (c *Controller) apply(f field, q string) {
	switch f {
	case listField:
		c.mu.Lock()
		changed := c.listQuery != q
		c.listQuery = q
		c.mu.Unlock()
		if changed {
			c.bus.Emit(EventQueryChanged, "list")
		}
	case threadField:
		c.mu.Lock()
		c.thread = c.searchLocked(q, "")
		c.mu.Unlock()
		c.bus.Emit(EventQueryChanged, "thread")
	case userField:
		c.searchUsers(q)
	}
}

// ListQuery returns the applied session-list filter.
func (c *Controller) ListQuery() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listQuery
}

// FilteredSessions returns non-archived sessions matching the list filter,
// newest activity first.
func (c *Controller) FilteredSessions() []model.Session {
	return c.filter(false)
}

// ArchivedSessions returns archived sessions matching the list filter.
func (c *Controller) ArchivedSessions() []model.Session {
	return c.filter(true)
}

func (c *Controller) filter(archived bool) []model.Session {
	q := strings.ToLower(strings.TrimSpace(c.ListQuery()))
	var out []model.Session
	for _, s := range c.cache.Sessions() {
		if s.Archived != archived {
			continue
		}
		if q == "" || SessionMatches(c.cache, s, q) {
			out = append(out, s)
		}
	}
	return out
}

// SessionMatches reports whether the lower-cased query q occurs in the
// session name, a participant's name or the last message preview.
func SessionMatches(c *cache.Cache, s model.Session, q string) bool {
	if strings.Contains(strings.ToLower(s.Name), q) {
		return true
	}
	for _, id := range s.Participants {
		name := id
		if u, ok := c.User(id); ok {
			name = u.Name()
		}
		if strings.Contains(strings.ToLower(name), q) {
			return true
		}
	}
	if m, ok := c.LastMessage(s.ID); ok && m.Content != nil {
		if strings.Contains(strings.ToLower(m.Content.Preview()), q) {
			return true
		}
	}
	return false
}

// ThreadSearch returns a copy of the in-thread search state.
func (c *Controller) ThreadSearch() ThreadSearch {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.thread
	t.Matches = append([]string(nil), t.Matches...)
	return t
}

// Next moves the thread search cursor forward, wrapping at the end.
func (c *Controller) Next() (string, bool) { return c.step(1) }

// Prev moves the thread search cursor back, wrapping at the start.
func (c *Controller) Prev() (string, bool) { return c.step(-1) }

func (c *Controller) step(delta int) (string, bool) {
	c.mu.Lock()
	n := len(c.thread.Matches)
	if n == 0 {
		c.mu.Unlock()
		return "", false
	}
	c.thread.Cursor = ((c.thread.Cursor+delta)%n + n) % n
	key := c.thread.Matches[c.thread.Cursor]
	c.mu.Unlock()
	c.bus.Emit(EventQueryChanged, "thread")
	return key, true
}

// Refresh recomputes thread matches after the thread changed. The cursor
// stays on the same message when it still matches.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thread.Query == "" {
		return
	}
	current, _ := c.thread.Current()
	c.thread = c.searchLocked(c.thread.Query, current)
}

func (c *Controller) searchLocked(q, keep string) ThreadSearch {
	t := ThreadSearch{Query: q, Cursor: -1}
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" || c.selected == "" {
		return t
	}
	for _, m := range c.cache.Messages(c.selected) {
		if m.Content == nil {
			continue
		}
		if strings.Contains(strings.ToLower(m.Content.SearchText()), needle) {
			if m.Key() == keep {
				t.Cursor = len(t.Matches)
			}
			t.Matches = append(t.Matches, m.Key())
		}
	}
	if t.Cursor < 0 && len(t.Matches) > 0 {
		t.Cursor = 0
	}
	return t
}

// UserQuery returns the applied user search query.
func (c *Controller) UserQuery() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userQuery
}

// UserResults returns the results of the latest user search.
func (c *Controller) UserResults() []model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.User(nil), c.userResults...)
}

func (c *Controller) searchUsers(q string) {
	c.mu.Lock()
	c.userGen++
	gen := c.userGen
	c.userQuery = q
	if strings.TrimSpace(q) == "" || c.users == nil {
		c.userResults = nil
		c.mu.Unlock()
		c.bus.Emit(EventUsersLoaded, q)
		return
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Timeout)
		found, err := c.users.SearchUsers(ctx, strings.TrimSpace(q))
		cancel()

		c.mu.Lock()
		if gen != c.userGen {
			// A newer query superseded this one.
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.mu.Unlock()
			c.logger.Warn("user search failed", zap.Error(err), zap.String("query", q))
			c.bus.Emit(EventUsersFailed, err)
			return
		}
		results := make([]model.User, 0, len(found))
		for _, u := range found {
			if u.ID != c.cfg.SelfID {
				results = append(results, u)
			}
		}
		c.userResults = results
		c.mu.Unlock()

		for _, u := range results {
			c.cache.UpsertUser(u)
		}
		c.bus.Emit(EventUsersLoaded, q)
	}()
}
