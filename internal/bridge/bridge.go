// Package bridge keeps the push channel alive and turns its frames into typed
// events. It reconnects with backoff, replays subscriptions, and tells its
// consumer when a reconnect happened so missed history can be fetched.
package bridge

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/errs"
	"github.com/matheus3301/threadline/internal/push"
	"github.com/matheus3301/threadline/internal/status"
	"github.com/matheus3301/threadline/internal/wire"
)

// Config tunes the bridge.
type Config struct {
	Backoff Backoff
	// Keepalive is the ping interval; zero disables pings.
	Keepalive time.Duration
	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
}

// Stats counts what the bridge has seen since it was created.
type Stats struct {
	Connects  uint64
	Dropped   uint64 // malformed frames
	Delivered uint64
}

// Bridge owns the push connection. Events() has exactly one consumer.
type Bridge struct {
	dialer  push.Dialer
	machine *status.Machine
	cfg     Config
	logger  *zap.Logger

	events     chan Event
	closeOnce  sync.Once
	startOnce  sync.Once
	cancel     context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex
	conn       push.Conn
	subscribed map[string]struct{}

	connects  atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// New creates a bridge. It does nothing until Start.
func New(d push.Dialer, m *status.Machine, cfg Config, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Bridge{
		dialer:     d,
		machine:    m,
		cfg:        cfg,
		logger:     logger,
		events:     make(chan Event, cfg.EventBuffer),
		subscribed: make(map[string]struct{}),
	}
}

// Events returns the inbound event stream. It is closed after Stop.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// State returns the current connection state.
func (b *Bridge) State() status.State {
	return b.machine.Current()
}

// Stats returns counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Connects:  b.connects.Load(),
		Dropped:   b.dropped.Load(),
		Delivered: b.delivered.Load(),
	}
}

// Start launches the connection loop. Calling it again has no effect.
func (b *Bridge) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		b.cancel = cancel
		b.done = make(chan struct{})
		go func() {
			defer close(b.done)
			defer b.closeEvents()
			b.run(ctx)
		}()
	})
}

// Stop tears the connection down for good and closes the event stream.
func (b *Bridge) Stop() {
	b.startOnce.Do(func() {})
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.closeEvents()
	if b.machine.Current() != status.Closed {
		if err := b.machine.Transition(status.Closed); err != nil {
			b.logger.Warn("close transition failed", zap.Error(err))
		}
	}
}

func (b *Bridge) closeEvents() {
	b.closeOnce.Do(func() { close(b.events) })
}

// Subscribe asks the server for events of a session. The subscription is
// remembered and replayed after every reconnect.
func (b *Bridge) Subscribe(ctx context.Context, sessionID string) error {
	return b.control(ctx, wire.TypeSubscribe, sessionID)
}

// Unsubscribe stops events for a session.
func (b *Bridge) Unsubscribe(ctx context.Context, sessionID string) error {
	return b.control(ctx, wire.TypeUnsubscribe, sessionID)
}

// Subscriptions returns the remembered subscriptions, sorted.
func (b *Bridge) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.subscribed))
}

func (b *Bridge) control(ctx context.Context, typ, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if typ == wire.TypeSubscribe {
		if _, ok := b.subscribed[sessionID]; ok {
			return nil
		}
		b.subscribed[sessionID] = struct{}{}
	} else {
		if _, ok := b.subscribed[sessionID]; !ok {
			return nil
		}
		delete(b.subscribed, sessionID)
	}
	if b.conn == nil {
		// Sent on the next connect.
		return nil
	}
	return b.conn.Send(ctx, wire.ControlFrame{Type: typ, SessionID: sessionID})
}

func (b *Bridge) run(ctx context.Context) {
	attempt := 0
	var downSince time.Time
	for {
		if ctx.Err() != nil {
			return
		}
		b.transition(status.Connecting)
		conn, err := b.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errs.IsAuth(err) {
				b.authFailed(ctx, err)
				return
			}
			b.logger.Warn("push dial failed", zap.Int("attempt", attempt), zap.Error(err))
			if downSince.IsZero() {
				downSince = time.Now()
			}
			b.transition(status.Reconnecting)
			if !b.wait(ctx, attempt) {
				return
			}
			attempt++
			continue
		}

		b.transition(status.Connected)
		b.connects.Add(1)
		attempt = 0
		if err := b.attach(ctx, conn); err != nil {
			b.logger.Warn("replaying subscriptions failed", zap.Error(err))
		}
		if !downSince.IsZero() {
			downtime := time.Since(downSince)
			b.logger.Info("push channel recovered", zap.Duration("downtime", downtime))
			if !b.emit(ctx, Reconnected{At: time.Now(), Downtime: downtime}) {
				b.detach(conn)
				return
			}
			downSince = time.Time{}
		} else {
			b.logger.Info("push channel connected")
		}

		err = b.serve(ctx, conn)
		b.detach(conn)
		if ctx.Err() != nil {
			return
		}
		if errs.IsAuth(err) {
			b.authFailed(ctx, err)
			return
		}
		b.logger.Warn("push channel lost", zap.Error(err))
		downSince = time.Now()
		b.transition(status.Reconnecting)
		if !b.wait(ctx, attempt) {
			return
		}
		attempt++
	}
}

// attach publishes conn for control frames and replays subscriptions.
func (b *Bridge) attach(ctx context.Context, conn push.Conn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = conn
	var errList []error
	for _, id := range slices.Sorted(maps.Keys(b.subscribed)) {
		if err := conn.Send(ctx, wire.ControlFrame{Type: wire.TypeSubscribe, SessionID: id}); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (b *Bridge) detach(conn push.Conn) {
	b.mu.Lock()
	b.conn = nil
	b.mu.Unlock()
	_ = conn.Close()
}

// serve reads frames until the connection fails or ctx ends.
func (b *Bridge) serve(ctx context.Context, conn push.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errc <- b.readLoop(ctx, conn)
	}()
	if b.cfg.Keepalive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errc <- b.keepalive(ctx, conn)
		}()
	}

	err := <-errc
	cancel()
	_ = conn.Close()
	wg.Wait()
	return err
}

func (b *Bridge) readLoop(ctx context.Context, conn push.Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		evt, err := decode(data)
		if err != nil {
			b.dropped.Add(1)
			b.logger.Warn("dropping push event", zap.Error(err))
			continue
		}
		b.delivered.Add(1)
		if !b.emit(ctx, evt) {
			return ctx.Err()
		}
	}
}

func (b *Bridge) keepalive(ctx context.Context, conn push.Conn) error {
	ticker := time.NewTicker(b.cfg.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, b.cfg.Keepalive)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (b *Bridge) emit(ctx context.Context, evt Event) bool {
	select {
	case b.events <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Bridge) wait(ctx context.Context, attempt int) bool {
	delay := b.cfg.Backoff.Delay(attempt)
	b.logger.Debug("reconnecting", zap.Duration("delay", delay), zap.Int("attempt", attempt))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (b *Bridge) authFailed(ctx context.Context, err error) {
	b.logger.Error("push credential rejected", zap.Error(err))
	b.transition(status.Disconnected)
	b.emit(ctx, AuthExpired{Err: err})
}

func (b *Bridge) transition(to status.State) {
	if err := b.machine.Transition(to); err != nil {
		b.logger.Warn("unexpected state transition", zap.Error(err))
	}
}
