package pager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/cache"
	"github.com/matheus3301/threadline/internal/errs"
	"github.com/matheus3301/threadline/internal/model"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// fakeHistory serves pages from an in-memory history the way the server does.
type fakeHistory struct {
	mu    sync.Mutex
	msgs  map[string][]model.Message
	calls int
	gate  chan struct{}
	err   error
}

func (f *fakeHistory) add(sessionID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.msgs == nil {
		f.msgs = make(map[string][]model.Message)
	}
	start := len(f.msgs[sessionID])
	for i := start + 1; i <= start+n; i++ {
		f.msgs[sessionID] = append(f.msgs[sessionID], model.Message{
			ID:        fmt.Sprintf("m%d", i),
			SessionID: sessionID,
			SenderID:  "u2",
			Content:   model.Text{Body: fmt.Sprintf("msg %d", i)},
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
			State:     model.Sent,
		})
	}
}

func (f *fakeHistory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeHistory) Messages(ctx context.Context, sessionID string, q api.PageQuery) (api.Page, error) {
	f.mu.Lock()
	f.calls++
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return api.Page{}, ctx.Err()
		}
	}
	if err != nil {
		return api.Page{}, err
	}

	f.mu.Lock()
	all := slices.Clone(f.msgs[sessionID])
	f.mu.Unlock()

	idx := func(c model.Cursor) int {
		return slices.IndexFunc(all, func(m model.Message) bool { return m.ID == c.ID })
	}
	switch {
	case !q.After.IsZero():
		rest := all[idx(q.After)+1:]
		n := min(q.Limit, len(rest))
		return api.Page{Messages: rest[:n], HasMore: len(rest) > n}, nil
	case !q.Before.IsZero():
		head := all[:idx(q.Before)]
		n := min(q.Limit, len(head))
		return api.Page{Messages: head[len(head)-n:], HasMore: len(head) > n}, nil
	}
	n := min(q.Limit, len(all))
	return api.Page{Messages: all[len(all)-n:], HasMore: len(all) > n}, nil
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Key())
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConcurrentLoadsShareOneRequest(t *testing.T) {
	h := &fakeHistory{gate: make(chan struct{})}
	h.add("s1", 3)
	c := cache.New(nil, 0)
	p := New(h, c, Config{PageSize: 10}, nil)

	var wg sync.WaitGroup
	results := make([]Result, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.LoadInitialPage(context.Background(), "s1")
			if err != nil {
				t.Errorf("LoadInitialPage() error = %v", err)
			}
			results[i] = res
		}()
	}
	waitFor(t, "first request", func() bool { return h.callCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(h.gate)
	wg.Wait()

	if n := h.callCount(); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
	for i, r := range results {
		if r.Fetched != 3 || !r.Shared {
			t.Errorf("result[%d] = %+v", i, r)
		}
	}
	if got := len(c.Messages("s1")); got != 3 {
		t.Errorf("cached messages = %d, want 3", got)
	}
}

// Switching away from a session must not abort its load.
func TestCallerCancelDoesNotAbortLoad(t *testing.T) {
	h := &fakeHistory{gate: make(chan struct{})}
	h.add("s1", 2)
	c := cache.New(nil, 0)
	p := New(h, c, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.LoadInitialPage(ctx, "s1")
		done <- err
	}()
	waitFor(t, "request", func() bool { return h.callCount() == 1 })
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("caller error = %v, want context.Canceled", err)
	}

	close(h.gate)
	waitFor(t, "merge", func() bool { return len(c.Messages("s1")) == 2 })
}

func TestFailureLeavesStateUntouched(t *testing.T) {
	h := &fakeHistory{err: &errs.TransientError{Op: "list messages", Err: errors.New("timeout")}}
	h.add("s1", 2)
	c := cache.New(nil, 0)
	p := New(h, c, Config{}, nil)

	res, err := p.LoadInitialPage(context.Background(), "s1")
	if !errs.IsRetryable(err) {
		t.Fatalf("error = %v, want retryable", err)
	}
	if res.Fetched != 0 || c.HasMessages("s1") {
		t.Errorf("result = %+v, cache has messages = %v", res, c.HasMessages("s1"))
	}
	if _, loaded := p.HasMore("s1"); loaded {
		t.Error("failed load must not mark the session loaded")
	}

	// The same call succeeds once the network is back.
	h.mu.Lock()
	h.err = nil
	h.mu.Unlock()
	if _, err := p.LoadInitialPage(context.Background(), "s1"); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if len(c.Messages("s1")) != 2 {
		t.Error("retry should merge the page")
	}
}

func TestLoadOlderWalksBackAndStops(t *testing.T) {
	h := &fakeHistory{}
	h.add("s1", 5)
	c := cache.New(nil, 0)
	p := New(h, c, Config{PageSize: 2}, nil)
	ctx := context.Background()

	if res, _ := p.LoadInitialPage(ctx, "s1"); !res.HasMore {
		t.Fatalf("initial page = %+v, want HasMore", res)
	}
	if res, _ := p.LoadOlder(ctx, "s1"); !res.HasMore || res.Added != 2 {
		t.Fatalf("second page = %+v", res)
	}
	if res, _ := p.LoadOlder(ctx, "s1"); res.HasMore || res.Added != 1 {
		t.Fatalf("last page = %+v", res)
	}
	calls := h.callCount()
	if res, err := p.LoadOlder(ctx, "s1"); err != nil || res.HasMore || res.Fetched != 0 {
		t.Errorf("exhausted LoadOlder = %+v, %v", res, err)
	}
	if h.callCount() != calls {
		t.Error("LoadOlder issued a request after history was exhausted")
	}

	want := []string{"m1", "m2", "m3", "m4", "m5"}
	if diff := cmp.Diff(want, ids(c.Messages("s1"))); diff != "" {
		t.Errorf("thread mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOlderContinuesFromRestoredHistory(t *testing.T) {
	h := &fakeHistory{}
	h.add("s1", 5)
	c := cache.New(nil, 0)
	for _, m := range h.msgs["s1"][3:] {
		if _, err := c.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}
	p := New(h, c, Config{PageSize: 2}, nil)

	if _, err := p.LoadOlder(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	want := []string{"m2", "m3", "m4", "m5"}
	if diff := cmp.Diff(want, ids(c.Messages("s1"))); diff != "" {
		t.Errorf("thread mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadNewerFetchesEverythingMissed(t *testing.T) {
	h := &fakeHistory{}
	h.add("s1", 2)
	c := cache.New(nil, 0)
	p := New(h, c, Config{PageSize: 2}, nil)
	ctx := context.Background()
	if _, err := p.LoadInitialPage(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	// Five messages arrive while the client is offline.
	h.add("s1", 5)
	newest, _ := c.Newest("s1")
	res, err := p.LoadNewer(ctx, "s1", model.CursorOf(newest))
	if err != nil {
		t.Fatalf("LoadNewer() error = %v", err)
	}
	if res.Fetched != 5 || res.Added != 5 || res.HasMore {
		t.Errorf("result = %+v, want 5 fetched and added", res)
	}
	want := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}
	if diff := cmp.Diff(want, ids(c.Messages("s1"))); diff != "" {
		t.Errorf("thread mismatch (-want +got):\n%s", diff)
	}

	// Running the catch-up again changes nothing.
	res, _ = p.LoadNewer(ctx, "s1", model.CursorOf(newest))
	if res.Added != 0 {
		t.Errorf("repeat catch-up added %d", res.Added)
	}
}

func TestLoadNewerRespectsPageLimit(t *testing.T) {
	h := &fakeHistory{}
	h.add("s1", 1)
	c := cache.New(nil, 0)
	p := New(h, c, Config{PageSize: 1, MaxCatchUpPages: 2}, nil)
	ctx := context.Background()
	_, _ = p.LoadInitialPage(ctx, "s1")
	h.add("s1", 5)

	newest, _ := c.Newest("s1")
	res, err := p.LoadNewer(ctx, "s1", model.CursorOf(newest))
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 2 || !res.HasMore {
		t.Errorf("result = %+v, want 2 fetched with more remaining", res)
	}
}
