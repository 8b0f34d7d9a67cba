package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/threadline/internal/errs"
	"github.com/matheus3301/threadline/internal/push"
	"github.com/matheus3301/threadline/internal/wire"
)

// fakeConn is a scripted push connection. Frames pushed with deliver are
// returned by Read; drop makes the pending Read fail like a lost socket.
type fakeConn struct {
	frames chan []byte
	lost   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []wire.ControlFrame
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), lost: make(chan struct{})}
}

func (c *fakeConn) deliver(raw string) { c.frames <- []byte(raw) }

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

func (c *fakeConn) Send(_ context.Context, f wire.ControlFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeConn) Ping(context.Context) error { return nil }

func (c *fakeConn) Close() error {
	c.drop()
	return nil
}

func (c *fakeConn) frameLog() []wire.ControlFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.ControlFrame(nil), c.sent...)
}

// fakeDialer hands out scripted results in order. Once the script is used
// up, Dial blocks until the context ends.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context) (push.Conn, error) {
	d.mu.Lock()
	d.dials++
	if len(d.results) == 0 {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := d.results[0]
	d.results = d.results[1:]
	d.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
