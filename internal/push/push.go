// Package push is the client side of the realtime channel: a websocket that
// carries server events down and subscription frames up.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/matheus3301/threadline/internal/errs"
	"github.com/matheus3301/threadline/internal/wire"
)

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 1 << 20

// Conn is an open push connection. Read may run concurrently with Send and
// Ping; Send must not be called concurrently with itself.
type Conn interface {
	// Read blocks until the next text frame arrives.
	Read(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, frame wire.ControlFrame) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketDialer dials the push endpoint with a bearer credential.
type WebsocketDialer struct {
	URL string
	// Token returns the credential to present; it is called on every dial so
	// a refreshed token is picked up on reconnect.
	Token      func() string
	HTTPClient *http.Client
}

// Dial performs the websocket handshake. A rejected credential yields an
// errs.AuthError; every other failure is transient.
func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if d.Token != nil {
		if tok := d.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	c, resp, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &errs.AuthError{Op: "push handshake", Status: resp.StatusCode}
		}
		return nil, &errs.TransientError{Op: "push dial", Err: err}
	}
	c.SetReadLimit(maxFrameSize)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

// Read returns raw frames; decoding is left to the caller so a bad payload
// does not tear the connection down.
func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.c.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusPolicyViolation {
				return nil, &errs.AuthError{Op: "push read"}
			}
			return nil, &errs.ChannelError{Err: err}
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (w *wsConn) Send(ctx context.Context, frame wire.ControlFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	if err := w.c.Write(ctx, websocket.MessageText, data); err != nil {
		return &errs.ChannelError{Err: err}
	}
	return nil
}

func (w *wsConn) Ping(ctx context.Context) error {
	if err := w.c.Ping(ctx); err != nil {
		return &errs.ChannelError{Err: fmt.Errorf("keepalive: %w", err)}
	}
	return nil
}

func (w *wsConn) Close() error {
	err := w.c.Close(websocket.StatusNormalClosure, "client closing")
	if err != nil && !errors.Is(err, context.Canceled) {
		// The peer may already be gone; make sure the socket is released.
		_ = w.c.CloseNow()
	}
	return nil
}
