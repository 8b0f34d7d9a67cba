package chat

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/errs"
	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/push"
	"github.com/matheus3301/threadline/internal/wire"
)

// fakeBackend is an in-memory server: it answers history pages, sends,
// session listing/creation and user search.
type fakeBackend struct {
	mu       sync.Mutex
	sessions map[string]wire.SessionInfo
	history  map[string][]model.Message
	users    []model.User
	sendErr  error
	// sendGate, when set, holds every send until it is closed or the caller
	// gives up.
	sendGate chan struct{}
	nextID   string
	creates  int
}

// fakeCheckpoints keeps checkpoints in memory.
type fakeCheckpoints struct {
	mu    sync.Mutex
	times map[string]time.Time
}

func (f *fakeCheckpoints) MarkTime(key string, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.times == nil {
		f.times = make(map[string]time.Time)
	}
	f.times[key] = t
}

func (f *fakeCheckpoints) Time(key string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.times[key]
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: make(map[string]wire.SessionInfo),
		history:  make(map[string][]model.Message),
	}
}

func (f *fakeBackend) addSession(s model.Session, users ...model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = wire.SessionInfo{Session: s, Users: users}
}

func (f *fakeBackend) addMessages(msgs ...model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.history[m.SessionID] = append(f.history[m.SessionID], m)
		slices.SortFunc(f.history[m.SessionID], model.CompareMessages)
	}
}

func (f *fakeBackend) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeBackend) setNextID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID = id
}

func (f *fakeBackend) Messages(_ context.Context, sessionID string, q api.PageQuery) (api.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.history[sessionID]
	after := func(m model.Message, c model.Cursor) bool {
		return cmp.Or(m.CreatedAt.Compare(c.CreatedAt), cmp.Compare(m.ID, c.ID)) > 0
	}
	var page api.Page
	switch {
	case !q.After.IsZero():
		var rest []model.Message
		for _, m := range all {
			if after(m, q.After) {
				rest = append(rest, m)
			}
		}
		page.HasMore = len(rest) > q.Limit
		page.Messages = slices.Clone(rest[:min(len(rest), q.Limit)])
	default:
		older := all
		if !q.Before.IsZero() {
			older = nil
			for _, m := range all {
				if !after(m, q.Before) && m.ID != q.Before.ID {
					older = append(older, m)
				}
			}
		}
		start := max(0, len(older)-q.Limit)
		page.HasMore = start > 0
		page.Messages = slices.Clone(older[start:])
	}
	return page, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, sessionID, corr string, content model.Content) (model.Message, error) {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.Message{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return model.Message{}, f.sendErr
	}
	id := f.nextID
	if id == "" {
		id = "srv-" + corr
	}
	m := model.Message{
		ID:            id,
		CorrelationID: corr,
		SessionID:     sessionID,
		SenderID:      "me",
		Content:       content,
		CreatedAt:     time.Now().UTC(),
		State:         model.Sent,
	}
	f.history[sessionID] = append(f.history[sessionID], m)
	return m, nil
}

func (f *fakeBackend) ListSessions(context.Context) ([]wire.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.SessionInfo, 0, len(f.sessions))
	for _, info := range f.sessions {
		out = append(out, info)
	}
	return out, nil
}

func (f *fakeBackend) CreateSession(_ context.Context, ns api.NewSession) (wire.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	s := model.Session{
		ID:             "new-" + string(rune('0'+f.creates)),
		IsGroup:        ns.IsGroup,
		Name:           ns.Name,
		Participants:   ns.ParticipantIDs,
		LastActivityAt: time.Now().UTC(),
	}
	info := wire.SessionInfo{Session: s}
	f.sessions[s.ID] = info
	return info, nil
}

func (f *fakeBackend) SearchUsers(context.Context, string) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.users), nil
}

func (f *fakeBackend) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// fakeConn is a scripted push connection.
type fakeConn struct {
	frames chan []byte
	lost   chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), lost: make(chan struct{})}
}

func (c *fakeConn) push(typ string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	data, err := json.Marshal(wire.Envelope{Type: typ, Payload: raw})
	if err != nil {
		panic(err)
	}
	c.frames <- data
}

func (c *fakeConn) pushMessage(m model.Message) {
	c.push(wire.TypeMessageNew, wire.FromMessage(m))
}

func (c *fakeConn) drop() { c.once.Do(func() { close(c.lost) }) }

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.frames:
		return data, nil
	case <-c.lost:
		return nil, &errs.ChannelError{Err: errors.New("connection reset")}
	case <-ctx.Done():
		return nil, &errs.ChannelError{Err: ctx.Err()}
	}
}

func (c *fakeConn) Send(context.Context, wire.ControlFrame) error { return nil }
func (c *fakeConn) Ping(context.Context) error { return nil }

func (c *fakeConn) Close() error {
	c.drop()
	return nil
}

// fakeDialer hands out scripted connections or errors in order, then blocks.
type fakeDialer struct {
	mu      sync.Mutex
	results []any // *fakeConn or error
}

func (d *fakeDialer) Dial(ctx context.Context) (push.Conn, error) {
	d.mu.Lock()
	if len(d.results) == 0 {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := d.results[0]
	d.results = d.results[1:]
	d.mu.Unlock()
	if err, ok := r.(error); ok {
		return nil, err
	}
	return r.(*fakeConn), nil
}
