package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	gocmp "github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/bridge"
	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/cache"
	"github.com/matheus3301/threadline/internal/errs"
	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/outbox"
	"github.com/matheus3301/threadline/internal/pager"
	"github.com/matheus3301/threadline/internal/selection"
	"github.com/matheus3301/threadline/internal/status"
	intsync "github.com/matheus3301/threadline/internal/sync"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	store   *Store
	backend *fakeBackend
	bus     *bus.Bus
	cache   *cache.Cache
	marks   *fakeCheckpoints
	events  <-chan bus.Event
}

func newHarness(t *testing.T, backend *fakeBackend, dialer *fakeDialer) *harness {
	t.Helper()
	b := bus.New()
	events, unsub := b.Subscribe(1024, "store.", "selection.", "outbox.", "bridge.")
	t.Cleanup(unsub)

	c := cache.New(b, cache.DefaultEchoWindow)
	p := pager.New(backend, c, pager.Config{PageSize: 2, Timeout: time.Second}, nil)
	sender := outbox.NewSender(backend, nil, c, b, outbox.Config{SelfID: "me", Timeout: time.Second}, zap.NewNop())
	sel := selection.New(c, p, backend, b, selection.Config{Debounce: 10 * time.Millisecond, SelfID: "me"}, nil)
	var br *bridge.Bridge
	if dialer != nil {
		br = bridge.New(dialer, status.NewMachine(b), bridge.Config{
			Backoff: bridge.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
		}, nil)
	}
	marks := &fakeCheckpoints{}
	s, err := New(Deps{
		SelfID:      "me",
		Bus:         b,
		Cache:       c,
		API:         backend,
		Pager:       p,
		Bridge:      br,
		Sender:      sender,
		Selection:   sel,
		Checkpoints: marks,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return &harness{store: s, backend: backend, bus: b, cache: c, marks: marks, events: events}
}

func (h *harness) wait(t *testing.T, kind string) bus.Event {
	t.Helper()
	for {
		select {
		case evt := <-h.events:
			if evt.Kind == kind {
				return evt
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func (h *harness) waitState(t *testing.T, want status.State) {
	t.Helper()
	for {
		evt := h.wait(t, status.EventStateChanged)
		if change, ok := evt.Payload.(status.StatusChange); ok && change.To == want {
			return
		}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func fromBea(id string, sec int64, body string) model.Message {
	return model.Message{
		ID:        id,
		SessionID: "s1",
		SenderID:  "u2",
		Content:   model.Text{Body: body},
		CreatedAt: time.Unix(1_700_000_000+sec, 0).UTC(),
		State:     model.Sent,
	}
}

func seededBackend() *fakeBackend {
	f := newFakeBackend()
	f.addSession(model.Session{ID: "s1", Participants: []string{"me", "u2"}, LastActivityAt: time.Unix(1_700_000_003, 0).UTC()},
		model.User{ID: "u2", DisplayName: "Bea", Presence: model.Online})
	f.addMessages(fromBea("m1", 1, "one"), fromBea("m2", 2, "two"), fromBea("m3", 3, "three"))
	return f
}

func keys(views []MessageView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Message.Key()
	}
	return out
}

// TestCatchUpAfterReconnect simulates an outage during which Bea sent four
// messages. After the channel comes back every one of them is in the thread
// exactly once and in order, even when the push channel also replays one.
func TestCatchUpAfterReconnect(t *testing.T) {
	backend := seededBackend()
	conn1, conn2 := newFakeConn(), newFakeConn()
	h := newHarness(t, backend, &fakeDialer{results: []any{conn1, conn2}})
	ctx := context.Background()

	h.store.Start(ctx)
	h.waitState(t, status.Connected)
	if !h.store.LastSynced().IsZero() {
		t.Error("LastSynced set before any refresh")
	}
	if err := h.store.LoadSessions(ctx); err != nil {
		t.Fatal(err)
	}
	if h.store.LastSynced().IsZero() {
		t.Error("LastSynced not recorded after refresh")
	}
	h.store.Select(ctx, "s1")
	// Page size is 2: load both pages of the seeded history.
	h.wait(t, selection.EventPageLoaded)
	if _, err := h.store.LoadOlder(ctx); err != nil {
		t.Fatal(err)
	}

	missed := []model.Message{fromBea("m4", 10, "four"), fromBea("m5", 11, "five"), fromBea("m6", 12, "six"), fromBea("m7", 13, "seven")}
	backend.addMessages(missed...)
	conn1.drop()

	evt := h.wait(t, EventCaughtUp)
	if res := evt.Payload.(CatchUp); res.Added != 4 || res.Failed != 0 {
		t.Errorf("catch-up = %+v, want 4 added", res)
	}
	if h.marks.Time(intsync.KeyReconnectedAt).IsZero() {
		t.Error("reconnect time not recorded")
	}

	// The server also replays m7 on the new connection, then a fresh m8.
	conn2.pushMessage(missed[3])
	conn2.pushMessage(fromBea("m8", 20, "eight"))
	eventually(t, func() bool {
		_, ok := h.cache.Message("m8")
		return ok
	})

	want := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8"}
	if diff := gocmp.Diff(want, keys(h.store.ActiveThread())); diff != "" {
		t.Errorf("thread mismatch (-want +got):\n%s", diff)
	}
	if s, _ := h.cache.Session("s1"); s.Unread != 0 {
		t.Errorf("unread = %d, want 0 for the open session", s.Unread)
	}
}

// TestOfflineSendThenRetry walks the offline scenario end to end: the send
// shows as PENDING at once, fails, and after the network is back a retry is
// acknowledged as m42 with no leftover stub.
func TestOfflineSendThenRetry(t *testing.T) {
	backend := seededBackend()
	backend.setSendErr(&errs.TransientError{Op: "send message", Err: errors.New("network is unreachable")})
	h := newHarness(t, backend, nil)
	ctx := context.Background()

	if err := h.store.LoadSessions(ctx); err != nil {
		t.Fatal(err)
	}
	h.store.Select(ctx, "s1")
	h.wait(t, selection.EventPageLoaded)

	stub, err := h.store.SendText("ping")
	if err != nil {
		t.Fatal(err)
	}
	thread := h.store.ActiveThread()
	if last := thread[len(thread)-1].Message; last.State != model.Pending || !last.IsStub() {
		t.Fatalf("last = %+v, want the PENDING stub", last)
	}
	h.wait(t, outbox.EventSendFailed)
	if m, _ := h.cache.Message(stub.CorrelationID); m.State != model.Failed {
		t.Fatalf("state = %s, want FAILED", m.State)
	}

	backend.setSendErr(nil)
	backend.setNextID("m42")
	if _, err := h.store.Retry(stub.CorrelationID); err != nil {
		t.Fatal(err)
	}
	h.wait(t, outbox.EventSendAck)

	var pings []model.Message
	for _, v := range h.store.ActiveThread() {
		if v.Message.Content == (model.Text{Body: "ping"}) {
			pings = append(pings, v.Message)
		}
	}
	if len(pings) != 1 || pings[0].ID != "m42" || pings[0].State != model.Sent {
		t.Fatalf("ping messages = %+v, want exactly one SENT m42", pings)
	}

	list := h.store.SessionList()
	if len(list) != 1 || list[0].Preview != "You: ping" {
		t.Errorf("session list = %+v, want preview of own message", list)
	}
}

func TestPushUpdatesListAndUnread(t *testing.T) {
	backend := seededBackend()
	backend.addSession(model.Session{ID: "s2", IsGroup: true, Name: "Ops", Participants: []string{"me", "u2", "u3"}})
	conn := newFakeConn()
	h := newHarness(t, backend, &fakeDialer{results: []any{conn}})
	ctx := context.Background()

	h.store.Start(ctx)
	h.waitState(t, status.Connected)
	if err := h.store.LoadSessions(ctx); err != nil {
		t.Fatal(err)
	}
	h.store.Select(ctx, "s1")

	ops := model.Message{
		ID: "g1", SessionID: "s2", SenderID: "u3",
		Content: model.Text{Body: "deploy done"}, CreatedAt: time.Now().UTC(),
	}
	conn.pushMessage(ops)
	conn.push("presence:update", map[string]string{"userId": "u2", "presence": "AWAY"})
	eventually(t, func() bool {
		u, _ := h.cache.User("u2")
		return u.Presence == model.Away
	})

	list := h.store.SessionList()
	if len(list) != 2 || list[0].Session.ID != "s2" {
		t.Fatalf("list = %+v, want s2 first", list)
	}
	if list[0].Unread != 1 || list[0].Preview != "deploy done" || list[0].Title != "Ops" {
		t.Errorf("s2 row = %+v", list[0])
	}
	if list[1].Presence != model.Away || list[1].Title != "Bea" {
		t.Errorf("s1 row = %+v", list[1])
	}

	header, err := h.store.Header("s2")
	if err != nil {
		t.Fatal(err)
	}
	if header.Subtitle != "3 members" {
		t.Errorf("group subtitle = %q", header.Subtitle)
	}
	header, _ = h.store.Header("s1")
	if header.Title != "Bea" || header.Subtitle != "Away" {
		t.Errorf("direct header = %+v", header)
	}

	select {
	case <-h.store.Changes():
	case <-time.After(time.Second):
		t.Error("no change signal after updates")
	}
}

func TestCreateSessionReusesDirect(t *testing.T) {
	backend := seededBackend()
	h := newHarness(t, backend, nil)
	ctx := context.Background()
	if err := h.store.LoadSessions(ctx); err != nil {
		t.Fatal(err)
	}

	s, err := h.store.CreateSession(ctx, []string{"u2"}, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "s1" || backend.createCount() != 0 {
		t.Errorf("got %s with %d creates, want existing s1", s.ID, backend.createCount())
	}

	g, err := h.store.CreateSession(ctx, []string{"u2", "u3", "me"}, "Trip", false)
	if err != nil {
		t.Fatal(err)
	}
	if !g.IsGroup || g.Name != "Trip" || backend.createCount() != 1 {
		t.Errorf("group = %+v, creates = %d", g, backend.createCount())
	}
	if diff := gocmp.Diff([]string{"me", "u2", "u3"}, g.Participants); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}

	if _, err := h.store.CreateSession(ctx, []string{"me"}, "", false); err == nil {
		t.Error("creating a session with only self succeeded")
	}
}

func TestArchiveAndMarkUnread(t *testing.T) {
	h := newHarness(t, seededBackend(), nil)
	ctx := context.Background()
	if err := h.store.LoadSessions(ctx); err != nil {
		t.Fatal(err)
	}

	if err := h.store.MarkUnread("s1"); err != nil {
		t.Fatal(err)
	}
	if list := h.store.SessionList(); len(list) != 1 || list[0].Unread != 1 {
		t.Errorf("list = %+v, want s1 unread", list)
	}
	if got := h.store.UnreadTotal(); got != 1 {
		t.Errorf("UnreadTotal() = %d, want 1", got)
	}
	if err := h.store.Archive("s1", true); err != nil {
		t.Fatal(err)
	}
	if got := h.store.UnreadTotal(); got != 0 {
		t.Errorf("UnreadTotal() after archive = %d, want 0", got)
	}
	if len(h.store.SessionList()) != 0 || len(h.store.ArchivedList()) != 1 {
		t.Error("archived session still in the main list")
	}
	if err := h.store.Archive("nope", true); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Archive(unknown) = %v, want ErrUnknownSession", err)
	}
}

func TestMembers(t *testing.T) {
	h := newHarness(t, seededBackend(), nil)
	if err := h.store.LoadSessions(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := h.store.Members("s1")
	if len(got) != 2 || got[0].ID != "me" || got[1].Name() != "Bea" {
		t.Errorf("Members() = %+v", got)
	}
	if h.store.Members("nope") != nil {
		t.Error("Members(unknown) returned users")
	}
	if name := h.store.UserName("ghost"); name != "ghost" {
		t.Errorf("UserName(unknown) = %q, want the id", name)
	}
}

func TestActionsNeedSelection(t *testing.T) {
	h := newHarness(t, seededBackend(), nil)

	if _, err := h.store.SendText("hi"); !errors.Is(err, selection.ErrNoSelection) {
		t.Errorf("SendText = %v, want ErrNoSelection", err)
	}
	if _, err := h.store.LoadOlder(context.Background()); !errors.Is(err, selection.ErrNoSelection) {
		t.Errorf("LoadOlder = %v, want ErrNoSelection", err)
	}
	if h.store.ActiveThread() != nil {
		t.Error("ActiveThread without selection is not nil")
	}
	if h.store.ConnectionState() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED without a bridge", h.store.ConnectionState())
	}
}

func TestAuthExpired(t *testing.T) {
	h := newHarness(t, seededBackend(), &fakeDialer{results: []any{&errs.AuthError{Op: "push handshake", Status: 401}}})

	h.store.Start(context.Background())
	h.wait(t, EventAuthRequired)
	if !h.store.AuthRequired() {
		t.Error("AuthRequired() = false after rejection")
	}
	if h.store.ConnectionState() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", h.store.ConnectionState())
	}
}

func TestLogoutEvictsEverything(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, seededBackend(), &fakeDialer{results: []any{conn}})
	ctx := context.Background()

	h.store.Start(ctx)
	h.waitState(t, status.Connected)
	if err := h.store.LoadSessions(ctx); err != nil {
		t.Fatal(err)
	}
	h.store.Select(ctx, "s1")
	h.wait(t, selection.EventPageLoaded)

	// A send still in flight at logout must not come back after the eviction.
	h.backend.mu.Lock()
	h.backend.sendGate = make(chan struct{})
	h.backend.mu.Unlock()
	if _, err := h.store.SendText("bye"); err != nil {
		t.Fatal(err)
	}

	h.store.Logout()
	h.store.WaitSends()
	if h.store.ConnectionState() != status.Closed {
		t.Errorf("state = %s, want CLOSED", h.store.ConnectionState())
	}
	if st := h.cache.Stats(); st != (cache.Stats{}) {
		t.Errorf("cache after logout = %+v, want empty", st)
	}
	if _, err := h.store.SendTo("s1", model.Text{Body: "again"}); !errors.Is(err, outbox.ErrStopped) {
		t.Errorf("send after logout = %v, want ErrStopped", err)
	}
	if h.store.Selected() != "" {
		t.Errorf("selected = %q, want none", h.store.Selected())
	}
}

func TestNewValidatesDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(Deps{}) succeeded")
	}
}
