// Package app composes a running client for one profile with fx: the local
// journal, the in-memory cache, the REST client and, when realtime is on,
// the push bridge.
package app

import (
	"context"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/bridge"
	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/cache"
	"github.com/matheus3301/threadline/internal/chat"
	"github.com/matheus3301/threadline/internal/config"
	"github.com/matheus3301/threadline/internal/lock"
	"github.com/matheus3301/threadline/internal/logging"
	"github.com/matheus3301/threadline/internal/outbox"
	"github.com/matheus3301/threadline/internal/pager"
	"github.com/matheus3301/threadline/internal/profile"
	"github.com/matheus3301/threadline/internal/push"
	"github.com/matheus3301/threadline/internal/selection"
	"github.com/matheus3301/threadline/internal/status"
	"github.com/matheus3301/threadline/internal/store"
	intsync "github.com/matheus3301/threadline/internal/sync"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile string
	Paths   profile.Paths
	// Command is recorded in the profile lock.
	Command string
	// Realtime opens the push channel. The CLI leaves it off.
	Realtime bool
	// Console mirrors logs to stderr. The TUI owns the terminal and leaves
	// it off.
	Console bool
	// Getenv overrides os.Getenv for tests.
	Getenv func(string) string
}

// Module returns the fx module for a client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("threadline",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCache,
			provideAPI,
			providePager,
			provideBridge,
			provideSender,
			provideSelection,
			provideEngine,
			provideReconciler,
			provideChat,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(p.Paths.ConfigPath())
	if err != nil {
		return nil, err
	}
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg.ApplyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(p.Paths.LogPath(p.Profile), p.Profile, p.Console, logging.ParseLevel(cfg.LogLevel))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := p.Paths.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(p.Paths.Dir(p.Profile), p.Command)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock as a dependency so the journal is never opened
// by two processes.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.Paths.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCache(b *bus.Bus, cfg *config.Config) *cache.Cache {
	return cache.New(b, cfg.Sync.EchoWindow.Duration)
}

func tokenFunc(cfg *config.Config, logger *zap.Logger) func() string {
	return func() string {
		tok, err := cfg.Token()
		if err != nil {
			logger.Warn("reading token failed", zap.Error(err))
		}
		return tok
	}
}

func provideAPI(cfg *config.Config, logger *zap.Logger) (*api.Client, error) {
	return api.New(cfg.Server.APIURL, tokenFunc(cfg, logger), &http.Client{Timeout: cfg.Sync.RequestTimeout.Duration}, logger.Named("api"))
}

func providePager(client *api.Client, c *cache.Cache, cfg *config.Config, logger *zap.Logger) *pager.Pager {
	return pager.New(client, c, pager.Config{
		PageSize: cfg.Sync.PageSize,
		Timeout:  cfg.Sync.RequestTimeout.Duration,
	}, logger.Named("pager"))
}

// provideBridge returns nil when realtime is off or no push URL is set; the
// chat store then works over REST alone.
func provideBridge(p Params, cfg *config.Config, m *status.Machine, logger *zap.Logger) *bridge.Bridge {
	if !p.Realtime {
		return nil
	}
	if cfg.Server.PushURL == "" {
		logger.Warn("no push url configured, realtime updates disabled")
		return nil
	}
	dialer := &push.WebsocketDialer{URL: cfg.Server.PushURL, Token: tokenFunc(cfg, logger)}
	return bridge.New(dialer, m, bridge.Config{
		Backoff: bridge.Backoff{
			Base:   cfg.Push.BackoffBase.Duration,
			Max:    cfg.Push.BackoffMax.Duration,
			Jitter: cfg.Push.Jitter,
		},
		Keepalive: cfg.Push.Keepalive.Duration,
	}, logger.Named("bridge"))
}

func provideSender(client *api.Client, db *store.DB, c *cache.Cache, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(client, db, c, b, outbox.Config{
		SelfID:  cfg.Auth.UserID,
		Timeout: cfg.Sync.RequestTimeout.Duration,
	}, logger.Named("outbox"))
}

func provideSelection(c *cache.Cache, pg *pager.Pager, client *api.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *selection.Controller {
	return selection.New(c, pg, client, b, selection.Config{
		Debounce: cfg.Search.Debounce.Duration,
		SelfID:   cfg.Auth.UserID,
		Timeout:  cfg.Sync.RequestTimeout.Duration,
	}, logger.Named("selection"))
}

func provideEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger.Named("sync"))
}

func provideReconciler(db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, logger.Named("sync"))
}

type chatParams struct {
	fx.In

	Config     *config.Config
	Bus        *bus.Bus
	Cache      *cache.Cache
	API        *api.Client
	Pager      *pager.Pager
	Bridge     *bridge.Bridge
	Sender     *outbox.Sender
	Selection  *selection.Controller
	Reconciler *intsync.Reconciler
	Logger     *zap.Logger
}

func provideChat(in chatParams) (*chat.Store, error) {
	return chat.New(chat.Deps{
		SelfID:      in.Config.Auth.UserID,
		Bus:         in.Bus,
		Cache:       in.Cache,
		API:         in.API,
		Pager:       in.Pager,
		Bridge:      in.Bridge,
		Sender:      in.Sender,
		Selection:   in.Selection,
		Checkpoints: in.Reconciler,
		CatchUpAll:  in.Config.Sync.CatchUpAll,
		Logger:      in.Logger.Named("chat"),
	})
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, lk *lock.Lock, db *store.DB, c *cache.Cache, engine *intsync.Engine, chatStore *chat.Store, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Restore the journal before the engine starts writing through,
			// otherwise every restored record is written straight back.
			if _, err := engine.Hydrate(c, cfg.Sync.PageSize); err != nil {
				return err
			}
			engine.Start(context.Background())
			chatStore.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			chatStore.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
