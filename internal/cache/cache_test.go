package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/model"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func text(s string) model.Content { return model.Text{Body: s} }

func serverMsg(id, session, sender, body string, at time.Time) model.Message {
	return model.Message{
		ID: id, SessionID: session, SenderID: sender,
		Content: text(body), CreatedAt: at, UpdatedAt: at, State: model.Sent,
	}
}

func stubMsg(corr, session, sender, body string, at time.Time) model.Message {
	return model.Message{
		CorrelationID: corr, SessionID: session, SenderID: sender,
		Content: text(body), CreatedAt: at, UpdatedAt: at, State: model.Pending,
	}
}

func keys(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Key())
	}
	return out
}

func mustUpsert(t *testing.T, c *Cache, m model.Message) MessageChange {
	t.Helper()
	ch, err := c.UpsertMessage(m)
	if err != nil {
		t.Fatalf("UpsertMessage(%s) error = %v", m.Key(), err)
	}
	return ch
}

func TestThreadOrderIndependentOfArrival(t *testing.T) {
	c := New(nil, 0)
	mustUpsert(t, c, serverMsg("m3", "s1", "u1", "c", t0.Add(3*time.Second)))
	mustUpsert(t, c, serverMsg("m1", "s1", "u1", "a", t0.Add(time.Second)))
	mustUpsert(t, c, serverMsg("m2b", "s1", "u2", "b2", t0.Add(2*time.Second)))
	mustUpsert(t, c, serverMsg("m2a", "s1", "u2", "b1", t0.Add(2*time.Second)))

	want := []string{"m1", "m2a", "m2b", "m3"}
	if diff := cmp.Diff(want, keys(c.Messages("s1"))); diff != "" {
		t.Errorf("thread order mismatch (-want +got):\n%s", diff)
	}
	s, _ := c.Session("s1")
	if s.LastMessage != "m3" || !s.LastActivityAt.Equal(t0.Add(3*time.Second)) {
		t.Errorf("session = %+v", s)
	}
}

func TestReupsertIsNoop(t *testing.T) {
	b := bus.New()
	c := New(b, 0)
	m := serverMsg("m1", "s1", "u1", "hello", t0)
	mustUpsert(t, c, m)

	ch, unsub := b.Subscribe(16, "cache.")
	defer unsub()

	if got := mustUpsert(t, c, m); got.Kind != Unchanged {
		t.Errorf("second upsert kind = %v, want unchanged", got.Kind)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %s", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
	if n := len(c.Messages("s1")); n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}
}

func TestStaleUpdateDoesNotReplaceContent(t *testing.T) {
	c := New(nil, 0)
	edited := serverMsg("m1", "s1", "u1", "edited", t0)
	edited.UpdatedAt = t0.Add(time.Minute)
	mustUpsert(t, c, edited)

	stale := serverMsg("m1", "s1", "u1", "original", t0)
	stale.State = model.Delivered
	mustUpsert(t, c, stale)

	got, _ := c.Message("m1")
	if got.Content != text("edited") {
		t.Errorf("content = %v, want edited", got.Content)
	}
	// Delivery state still advances from an older payload.
	if got.State != model.Delivered {
		t.Errorf("state = %s, want DELIVERED", got.State)
	}
}

func TestStateNeverRegresses(t *testing.T) {
	c := New(nil, 0)
	m := serverMsg("m1", "s1", "u1", "x", t0)
	m.State = model.Delivered
	mustUpsert(t, c, m)
	m.State = model.Sent
	if got := mustUpsert(t, c, m); got.Kind != Unchanged {
		t.Errorf("kind = %v, want unchanged", got.Kind)
	}
	if got, _ := c.Message("m1"); got.State != model.Delivered {
		t.Errorf("state = %s, want DELIVERED", got.State)
	}
}

func TestAckThenEchoCollapses(t *testing.T) {
	c := New(nil, 0)
	mustUpsert(t, c, stubMsg("c1", "s1", "me", "ping", t0))

	ack := serverMsg("m42", "s1", "me", "ping", t0.Add(200*time.Millisecond))
	ack.CorrelationID = "c1"
	ch := mustUpsert(t, c, ack)
	if ch.Kind != Reconciled || ch.PrevKey != "local:c1" {
		t.Errorf("ack change = %v prev=%q", ch.Kind, ch.PrevKey)
	}

	echo := ack
	if got := mustUpsert(t, c, echo); got.Kind != Unchanged {
		t.Errorf("echo change = %v, want unchanged", got.Kind)
	}
	assertSingle(t, c, "s1", "m42", "c1")
}

func TestEchoThenAckCollapses(t *testing.T) {
	c := New(nil, 0)
	mustUpsert(t, c, stubMsg("c1", "s1", "me", "ping", t0))

	echo := serverMsg("m42", "s1", "me", "ping", t0.Add(100*time.Millisecond))
	echo.CorrelationID = "c1"
	mustUpsert(t, c, echo)

	ack := echo
	mustUpsert(t, c, ack)

	// A late failure report for the same send must not resurrect the stub.
	late := stubMsg("c1", "s1", "me", "ping", t0)
	late.State = model.Failed
	if got := mustUpsert(t, c, late); got.Kind != Unchanged {
		t.Errorf("late failure kind = %v, want unchanged", got.Kind)
	}
	assertSingle(t, c, "s1", "m42", "c1")
}

// The server may not echo the correlation id on push events; the stub is then
// matched by sender, content and time.
func TestUncorrelatedEchoMatchesStub(t *testing.T) {
	for _, ackFirst := range []bool{true, false} {
		name := "echo first"
		if ackFirst {
			name = "ack first"
		}
		t.Run(name, func(t *testing.T) {
			c := New(nil, 0)
			mustUpsert(t, c, stubMsg("c1", "s1", "me", "ping", t0))

			ack := serverMsg("m42", "s1", "me", "ping", t0.Add(time.Second))
			ack.CorrelationID = "c1"
			echo := serverMsg("m42", "s1", "me", "ping", t0.Add(time.Second))

			if ackFirst {
				mustUpsert(t, c, ack)
				mustUpsert(t, c, echo)
			} else {
				mustUpsert(t, c, echo)
				mustUpsert(t, c, ack)
			}
			assertSingle(t, c, "s1", "m42", "c1")
		})
	}
}

func TestEchoMatchRespectsWindowAndSender(t *testing.T) {
	c := New(nil, 5*time.Second)
	mustUpsert(t, c, stubMsg("c1", "s1", "me", "ping", t0))

	mustUpsert(t, c, serverMsg("m1", "s1", "other", "ping", t0))
	mustUpsert(t, c, serverMsg("m2", "s1", "me", "ping", t0.Add(time.Minute)))
	mustUpsert(t, c, serverMsg("m3", "s1", "me", "pong", t0))

	want := []string{"local:c1", "m1", "m3", "m2"}
	if diff := cmp.Diff(want, keys(c.Messages("s1"))); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

// An echo outside the match window becomes its own record; the ack that
// names both ids folds the stub into it.
func TestAckCollapsesSeparateStub(t *testing.T) {
	c := New(nil, time.Second)
	mustUpsert(t, c, stubMsg("c1", "s1", "me", "ping", t0))
	mustUpsert(t, c, serverMsg("m42", "s1", "me", "ping", t0.Add(time.Minute)))
	if n := len(c.Messages("s1")); n != 2 {
		t.Fatalf("messages = %d, want 2 before ack", n)
	}

	ack := serverMsg("m42", "s1", "me", "ping", t0.Add(time.Minute))
	ack.CorrelationID = "c1"
	ch := mustUpsert(t, c, ack)
	if ch.Kind != Reconciled || ch.PrevKey != "local:c1" {
		t.Errorf("change = %v prev=%q", ch.Kind, ch.PrevKey)
	}
	assertSingle(t, c, "s1", "m42", "c1")
}

func TestStubStateTransitions(t *testing.T) {
	c := New(nil, 0)
	stub := stubMsg("c1", "s1", "me", "ping", t0)
	mustUpsert(t, c, stub)

	failed := stub
	failed.State = model.Failed
	failed.Error = "offline"
	if got := mustUpsert(t, c, failed); got.Kind != Updated {
		t.Errorf("kind = %v, want updated", got.Kind)
	}
	got, _ := c.Message("c1")
	if got.State != model.Failed || got.Error != "offline" {
		t.Errorf("stub = %+v", got)
	}
	if st := c.Stats(); st.Failed != 1 || st.Pending != 0 {
		t.Errorf("stats = %+v", st)
	}
}

// A send that timed out after the server stored it, then succeeded on retry,
// exists under two server ids; the cache keeps one record for it.
func TestSecondServerIDForCorrelationFolds(t *testing.T) {
	c := New(nil, 0)
	retried := serverMsg("m2", "s1", "me", "ping", t0.Add(time.Second))
	retried.CorrelationID = "c1"
	mustUpsert(t, c, retried)

	first := serverMsg("m1", "s1", "me", "ping", t0)
	first.CorrelationID = "c1"
	mustUpsert(t, c, first)

	assertSingle(t, c, "s1", "m2", "c1")
}

func TestTransitionStub(t *testing.T) {
	b := bus.New()
	c := New(b, 0)
	mustUpsert(t, c, stubMsg("c1", "s1", "me", "ping", t0))
	ch, unsub := b.Subscribe(16, "cache.")
	defer unsub()

	got, err := c.TransitionStub("c1", model.Pending, model.Failed, "offline")
	if err != nil {
		t.Fatalf("TransitionStub() error = %v", err)
	}
	if got.Kind != Updated || got.Message.State != model.Failed || got.Message.Error != "offline" {
		t.Errorf("change = %+v", got)
	}
	if got.Message.Content == nil || !got.Message.CreatedAt.Equal(t0) {
		t.Errorf("transition lost stub fields: %+v", got.Message)
	}
	select {
	case evt := <-ch:
		if evt.Kind != EventMessageUpserted {
			t.Errorf("event = %s", evt.Kind)
		}
	default:
		t.Error("no event published")
	}

	// Only one of two racing transitions out of FAILED can win.
	if _, err := c.TransitionStub("c1", model.Failed, model.Pending, ""); err != nil {
		t.Fatalf("Failed->Pending error = %v", err)
	}
	if _, err := c.TransitionStub("c1", model.Failed, model.Pending, ""); !errors.Is(err, ErrWrongState) {
		t.Errorf("second Failed->Pending = %v, want ErrWrongState", err)
	}
}

func TestTransitionStubNeverCreates(t *testing.T) {
	c := New(nil, 0)
	if _, err := c.TransitionStub("gone", model.Pending, model.Failed, "x"); !errors.Is(err, ErrNoMessage) {
		t.Errorf("TransitionStub(unknown) = %v, want ErrNoMessage", err)
	}
	if st := c.Stats(); st != (Stats{}) {
		t.Errorf("stats = %+v, want empty cache", st)
	}

	mustUpsert(t, c, serverMsg("m1", "s1", "me", "ping", t0))
	if _, err := c.TransitionStub("m1", model.Sent, model.Failed, "x"); !errors.Is(err, ErrWrongState) {
		t.Errorf("TransitionStub(confirmed) = %v, want ErrWrongState", err)
	}
}

func TestUnknownSessionCreatesStub(t *testing.T) {
	c := New(nil, 0)
	mustUpsert(t, c, serverMsg("m1", "new", "u1", "hey", t0))
	s, ok := c.Session("new")
	if !ok || !s.Stub {
		t.Fatalf("session = %+v, ok=%v; want stub", s, ok)
	}

	c.UpsertSession(model.Session{ID: "new", Name: "Team", IsGroup: true, Participants: []string{"u1", "u2", "me"}})
	s, _ = c.Session("new")
	if s.Stub || s.Name != "Team" || s.LastMessage != "m1" {
		t.Errorf("hydrated session = %+v", s)
	}
}

func TestSessionsSortedByActivity(t *testing.T) {
	c := New(nil, 0)
	c.UpsertSession(model.Session{ID: "a", LastActivityAt: t0})
	c.UpsertSession(model.Session{ID: "b", LastActivityAt: t0.Add(time.Hour)})
	c.UpsertSession(model.Session{ID: "c", LastActivityAt: t0.Add(30 * time.Minute)})
	mustUpsert(t, c, serverMsg("m1", "a", "u1", "bump", t0.Add(2*time.Hour)))
	// Older activity must not move a session back.
	c.UpsertSession(model.Session{ID: "a", LastActivityAt: t0})

	var got []string
	for _, s := range c.Sessions() {
		got = append(got, s.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("session order mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertMessageRequiresIdentity(t *testing.T) {
	c := New(nil, 0)
	_, err := c.UpsertMessage(model.Message{SessionID: "s1", Content: text("x")})
	if !errors.Is(err, ErrNoIdentity) {
		t.Errorf("error = %v, want ErrNoIdentity", err)
	}
	_, err = c.UpsertMessage(model.Message{ID: "m1", Content: text("x")})
	if !errors.Is(err, ErrNoIdentity) {
		t.Errorf("error = %v, want ErrNoIdentity", err)
	}
}

func TestRemoveMessageByCorrelation(t *testing.T) {
	c := New(nil, 0)
	mustUpsert(t, c, serverMsg("m1", "s1", "u1", "a", t0))
	mustUpsert(t, c, stubMsg("c1", "s1", "me", "b", t0.Add(time.Second)))

	if !c.RemoveMessage("c1") {
		t.Fatal("RemoveMessage(c1) = false")
	}
	if c.RemoveMessage("c1") {
		t.Error("second RemoveMessage should report false")
	}
	s, _ := c.Session("s1")
	if s.LastMessage != "m1" {
		t.Errorf("LastMessage = %q, want m1", s.LastMessage)
	}
}

func TestNewestSkipsStubs(t *testing.T) {
	c := New(nil, 0)
	mustUpsert(t, c, serverMsg("m1", "s1", "u1", "a", t0))
	mustUpsert(t, c, stubMsg("c1", "s1", "me", "b", t0.Add(time.Second)))

	got, ok := c.Newest("s1")
	if !ok || got.ID != "m1" {
		t.Errorf("Newest() = %v, %v", got.Key(), ok)
	}
	last, _ := c.LastMessage("s1")
	if last.Key() != "local:c1" {
		t.Errorf("LastMessage() = %v", last.Key())
	}
}

func TestMutateSessionAndUsers(t *testing.T) {
	b := bus.New()
	c := New(b, 0)
	c.UpsertSession(model.Session{ID: "s1"})
	ch, unsub := b.Subscribe(8, EventSessionUpserted, EventUserUpserted)
	defer unsub()

	c.MutateSession("s1", func(s *model.Session) { s.Unread += 2 })
	c.MutateSession("s1", func(s *model.Session) { s.Unread -= 5 })
	s, _ := c.Session("s1")
	if s.Unread != 0 {
		t.Errorf("Unread = %d, want 0 (clamped)", s.Unread)
	}

	c.UpsertUser(model.User{ID: "u1", DisplayName: "Ana"})
	if !c.SetPresence("u1", model.Online) {
		t.Error("SetPresence should report a change")
	}
	if c.SetPresence("u1", model.Online) {
		t.Error("repeated SetPresence should be a no-op")
	}
	u, _ := c.User("u1")
	if u.DisplayName != "Ana" || u.Presence != model.Online {
		t.Errorf("user = %+v", u)
	}

	var kinds []string
	for len(kinds) < 4 {
		select {
		case evt := <-ch:
			kinds = append(kinds, evt.Kind)
		case <-time.After(time.Second):
			t.Fatalf("events = %v", kinds)
		}
	}
}

func TestFindDirect(t *testing.T) {
	c := New(nil, 0)
	c.UpsertSession(model.Session{ID: "g", IsGroup: true, Participants: []string{"me", "u1"}})
	c.UpsertSession(model.Session{ID: "d", Participants: []string{"u1", "me"}})
	s, ok := c.FindDirect("me", "u1")
	if !ok || s.ID != "d" {
		t.Errorf("FindDirect() = %v, %v", s.ID, ok)
	}
}

func TestClear(t *testing.T) {
	c := New(nil, 0)
	mustUpsert(t, c, serverMsg("m1", "s1", "u1", "a", t0))
	c.UpsertUser(model.User{ID: "u1"})
	c.Clear()
	if st := c.Stats(); st != (Stats{}) {
		t.Errorf("stats after Clear = %+v", st)
	}
}

func assertSingle(t *testing.T, c *Cache, session, id, corr string) {
	t.Helper()
	msgs := c.Messages(session)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v, want exactly one", keys(msgs))
	}
	m := msgs[0]
	if m.ID != id || m.CorrelationID != corr || m.State != model.Sent {
		t.Errorf("message = %+v", m)
	}
	if got, ok := c.Message(corr); !ok || got.ID != id {
		t.Errorf("lookup by correlation = %v, %v", got.Key(), ok)
	}
	if _, ok := c.Message(model.LocalKey(corr)); ok {
		t.Error("stub key still present")
	}
}

