// Package chat is the store façade the views talk to. It composes the entity
// cache, history pager, realtime bridge, send pipeline and selection
// controller, applies realtime events, and derives what the views render.
//
// A Store is an explicit value: construct one per account with New and
// inject it into the view. Several stores can live side by side.
package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/bridge"
	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/cache"
	"github.com/matheus3301/threadline/internal/outbox"
	"github.com/matheus3301/threadline/internal/pager"
	"github.com/matheus3301/threadline/internal/selection"
	intsync "github.com/matheus3301/threadline/internal/sync"
	"github.com/matheus3301/threadline/internal/wire"
)

// Bus event kinds published by the store.
const (
	EventAuthRequired = "store.auth_required"
	EventCaughtUp     = "store.caught_up"
	EventSessionsSync = "store.sessions_synced"
	EventLoggedOut    = "store.logged_out"
)

// SessionsAPI is the part of the REST client the store calls directly.
type SessionsAPI interface {
	ListSessions(ctx context.Context) ([]wire.SessionInfo, error)
	CreateSession(ctx context.Context, ns api.NewSession) (wire.SessionInfo, error)
}

// Checkpoints records sync progress across restarts. Optional.
type Checkpoints interface {
	MarkTime(key string, t time.Time)
	Time(key string) time.Time
}

// Deps are the collaborators of a Store. Bridge may be nil for a store that
// only works over REST (the CLI).
type Deps struct {
	SelfID      string
	Bus         *bus.Bus
	Cache       *cache.Cache
	API         SessionsAPI
	Pager       *pager.Pager
	Bridge      *bridge.Bridge
	Sender      *outbox.Sender
	Selection   *selection.Controller
	Checkpoints Checkpoints
	// CatchUpAll makes gap recovery fetch every known session, not only the
	// open one.
	CatchUpAll bool
	Logger     *zap.Logger
}

// CatchUp summarizes one gap recovery run; it is the payload of EventCaughtUp.
type CatchUp struct {
	Sessions int
	Added    int
	Failed   int
}

// Store is the façade over the synchronizer.
type Store struct {
	self       string
	bus        *bus.Bus
	cache      *cache.Cache
	api        SessionsAPI
	pager      *pager.Pager
	bridge     *bridge.Bridge
	sender     *outbox.Sender
	selection  *selection.Controller
	checkpoint Checkpoints
	catchUpAll bool
	logger     *zap.Logger

	flights singleflight.Group
	changes chan struct{}
	auth    atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New validates deps and builds a store. Nothing runs until Start.
func New(d Deps) (*Store, error) {
	switch {
	case d.SelfID == "":
		return nil, errors.New("chat: self id is required")
	case d.Bus == nil || d.Cache == nil:
		return nil, errors.New("chat: bus and cache are required")
	case d.API == nil || d.Pager == nil || d.Sender == nil || d.Selection == nil:
		return nil, errors.New("chat: api, pager, sender and selection are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		self:       d.SelfID,
		bus:        d.Bus,
		cache:      d.Cache,
		api:        d.API,
		pager:      d.Pager,
		bridge:     d.Bridge,
		sender:     d.Sender,
		selection:  d.Selection,
		checkpoint: d.Checkpoints,
		catchUpAll: d.CatchUpAll,
		logger:     logger,
		changes:    make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start begins consuming realtime events and watching for changes. It is a
// no-op after the first call.
func (s *Store) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ch, unsub := s.bus.Subscribe(512, "cache.", "bridge.", "selection.", "outbox.", "store.")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer unsub()
			s.watch(ch)
		}()

		if s.bridge == nil {
			return
		}
		s.bridge.Start(ctx)
		events := s.bridge.Events()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for evt := range events {
				s.apply(evt)
			}
		}()
	})
}

// Stop shuts the store and every component it composes down. In-flight
// sends resolve before Stop returns.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		if s.bridge != nil {
			s.bridge.Stop()
		}
		s.cancel()
		s.wg.Wait()
		s.sender.Stop()
		s.selection.Stop()
	})
}

// Logout closes the realtime channel and the send pipeline for good, then
// evicts all cached state. Sends still in flight resolve before the eviction.
func (s *Store) Logout() {
	if s.bridge != nil {
		s.bridge.Stop()
	}
	s.sender.Stop()
	s.selection.Select(s.ctx, "")
	s.pager.Reset()
	s.cache.Clear()
	s.bus.Emit(EventLoggedOut, nil)
	s.logger.Info("logged out")
}

// Changes signals that derived views may have changed. Signals coalesce:
// a reader that falls behind sees one pending signal, not a backlog.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// AuthRequired reports whether the server rejected the credential.
func (s *Store) AuthRequired() bool {
	return s.auth.Load()
}

// LastSynced is when the session list was last fetched from the server,
// possibly by an earlier run. Zero when unknown.
func (s *Store) LastSynced() time.Time {
	if s.checkpoint == nil {
		return time.Time{}
	}
	return s.checkpoint.Time(intsync.KeySessionsSyncedAt)
}

// Self returns the current user's id.
func (s *Store) Self() string {
	return s.self
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Store) watch(ch <-chan bus.Event) {
	for {
		select {
		case evt := <-ch:
			switch evt.Kind {
			case cache.EventMessageUpserted, cache.EventMessageRemoved:
				if change, ok := evt.Payload.(cache.MessageChange); ok && change.SessionID == s.selection.Selected() {
					s.selection.Refresh()
				}
			case cache.EventCleared, selection.EventChanged:
				s.selection.Refresh()
			}
			s.notify()
		case <-s.ctx.Done():
			return
		}
	}
}
