package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/wire"
)

// PageQuery selects a slice of a session's history. At most one of Before
// and After is set; neither means the newest page.
type PageQuery struct {
	Before model.Cursor
	After  model.Cursor
	Limit  int
}

// Page is a slice of history, oldest first.
type Page struct {
	Messages []model.Message
	HasMore  bool
}

// NewSession describes a session to create.
type NewSession struct {
	ParticipantIDs []string
	Name           string
	IsGroup        bool
}

// EncodeCursor renders a cursor as "<unix-ms>:<id>".
func EncodeCursor(c model.Cursor) string {
	return strconv.FormatInt(c.CreatedAt.UnixMilli(), 10) + ":" + c.ID
}

// DecodeCursor parses the form produced by EncodeCursor.
func DecodeCursor(s string) (model.Cursor, error) {
	ms, id, ok := strings.Cut(s, ":")
	if !ok {
		return model.Cursor{}, fmt.Errorf("cursor %q: missing separator", s)
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return model.Cursor{}, fmt.Errorf("cursor %q: %w", s, err)
	}
	return model.Cursor{CreatedAt: time.UnixMilli(n).UTC(), ID: id}, nil
}

// ListSessions fetches every session visible to the current user.
func (c *Client) ListSessions(ctx context.Context) ([]wire.SessionInfo, error) {
	var body wire.SessionList
	if err := c.do(ctx, "list sessions", http.MethodGet, "/sessions", nil, nil, &body); err != nil {
		return nil, err
	}
	out := make([]wire.SessionInfo, 0, len(body.Sessions))
	for _, s := range body.Sessions {
		info, err := s.Model()
		if err != nil {
			c.logger.Warn("skipping invalid session", zap.Error(err))
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Messages fetches one page of a session's history.
func (c *Client) Messages(ctx context.Context, sessionID string, q PageQuery) (Page, error) {
	query := url.Values{}
	if !q.Before.IsZero() {
		query.Set("before", EncodeCursor(q.Before))
	}
	if !q.After.IsZero() {
		query.Set("after", EncodeCursor(q.After))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	var body wire.MessagePage
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, "list messages", http.MethodGet, path, query, nil, &body); err != nil {
		return Page{}, err
	}
	page := Page{HasMore: body.HasMore, Messages: make([]model.Message, 0, len(body.Messages))}
	for _, wm := range body.Messages {
		m, err := wm.Model()
		if err != nil {
			c.logger.Warn("skipping invalid message", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		if m.SessionID != sessionID {
			c.logger.Warn("skipping message from another session",
				zap.String("session_id", sessionID), zap.String("message_id", m.ID))
			continue
		}
		page.Messages = append(page.Messages, m)
	}
	// Servers disagree on page direction; normalize to oldest first.
	slices.SortFunc(page.Messages, model.CompareMessages)
	return page, nil
}

// CreateSession creates a direct or group session.
func (c *Client) CreateSession(ctx context.Context, ns NewSession) (wire.SessionInfo, error) {
	req := wire.CreateSessionRequest{
		ParticipantIDs: ns.ParticipantIDs,
		Name:           ns.Name,
		IsGroup:        ns.IsGroup,
	}
	var body wire.Session
	if err := c.do(ctx, "create session", http.MethodPost, "/sessions", nil, req, &body); err != nil {
		return wire.SessionInfo{}, err
	}
	info, err := body.Model()
	if err != nil {
		return wire.SessionInfo{}, fmt.Errorf("create session: %w", err)
	}
	return info, nil
}

// SearchUsers finds users whose name or email contains q.
func (c *Client) SearchUsers(ctx context.Context, q string) ([]model.User, error) {
	var body wire.UserList
	query := url.Values{"q": {q}}
	if err := c.do(ctx, "search users", http.MethodGet, "/users/search", query, nil, &body); err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(body.Users))
	for _, wu := range body.Users {
		u, err := wu.Model()
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// SendMessage submits content tagged with correlationID and returns the
// server's record of it.
func (c *Client) SendMessage(ctx context.Context, sessionID, correlationID string, content model.Content) (model.Message, error) {
	req := wire.NewSendRequest(correlationID, content)
	var body wire.Message
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, "send message", http.MethodPost, path, nil, req, &body); err != nil {
		return model.Message{}, err
	}
	if body.SessionID == "" {
		body.SessionID = sessionID
	}
	m, err := body.Model()
	if err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	if m.CorrelationID == "" {
		m.CorrelationID = correlationID
	}
	return m, nil
}
