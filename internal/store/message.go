package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/threadline/internal/model"
)

const upsertMessageSQL = `
	INSERT INTO messages (msg_key, server_id, correlation_id, session_id, sender_id, kind, body, content, state, error_message, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(msg_key) DO UPDATE SET
		session_id = excluded.session_id,
		sender_id = excluded.sender_id,
		correlation_id = excluded.correlation_id,
		kind = excluded.kind,
		body = excluded.body,
		content = excluded.content,
		state = excluded.state,
		error_message = excluded.error_message,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`

var (
	ErrNoContent = errors.New("message has no content")
	// ErrUndecodable marks a journaled row whose content cannot be read back.
	ErrUndecodable = errors.New("undecodable message")
)

// BadRow is a journaled message ListMessages had to skip.
type BadRow struct {
	Key string
	Err error
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpsertMessage inserts or updates a message (idempotent on its cache key).
func (db *DB) UpsertMessage(m model.Message) error {
	return upsertMessage(db, m)
}

// ReplaceMessage stores m and deletes the row it replaces in one
// transaction. It is how a confirmed message takes over its local stub.
func (db *DB) ReplaceMessage(prevKey string, m model.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if prevKey != "" && prevKey != m.Key() {
		if _, err := tx.Exec(`DELETE FROM messages WHERE msg_key = ?`, prevKey); err != nil {
			return fmt.Errorf("delete %s: %w", prevKey, err)
		}
	}
	if err := upsertMessage(tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteMessage removes a message by its cache key.
func (db *DB) DeleteMessage(key string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE msg_key = ?`, key)
	return err
}

func upsertMessage(x execer, m model.Message) error {
	if m.Content == nil {
		return fmt.Errorf("message %s: %w", m.Key(), ErrNoContent)
	}
	content, err := encodeContent(m.Content)
	if err != nil {
		return err
	}
	var kind, body string
	if m.Content != nil {
		kind, body = string(m.Content.Kind()), m.Content.SearchText()
	}
	_, err = x.Exec(upsertMessageSQL,
		m.Key(), m.ID, m.CorrelationID, m.SessionID, m.SenderID, kind, body, content,
		string(m.State), m.Error, millis(m.CreatedAt), millis(m.UpdatedAt))
	return err
}

const messageColumns = `m.server_id, m.correlation_id, m.session_id, m.sender_id, m.content, m.state, m.error_message, m.created_at, m.updated_at`

// ListMessages returns up to limit messages of a session created before
// beforeMs (0 = no bound), oldest first. It uses keyset pagination by time.
// Rows whose content cannot be decoded are skipped and reported as bad rows.
func (db *DB) ListMessages(sessionID string, beforeMs int64, limit int) ([]model.Message, []BadRow, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + messageColumns + ` FROM messages m WHERE m.session_id = ?`
	args := []any{sessionID}
	if beforeMs > 0 {
		q += ` AND m.created_at < ?`
		args = append(args, beforeMs)
	}
	q += ` ORDER BY m.created_at DESC, m.msg_key DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	var (
		msgs []model.Message
		bad  []BadRow
	)
	for rows.Next() {
		m, err := scanMessage(rows)
		if errors.Is(err, ErrUndecodable) {
			bad = append(bad, BadRow{Key: m.Key(), Err: err})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	// Reverse into thread order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, bad, nil
}

// CountMessages returns how many messages are journaled.
func (db *DB) CountMessages() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func scanMessage(r scanner, extra ...any) (model.Message, error) {
	var (
		m                model.Message
		content, state   string
		created, updated int64
	)
	dest := append([]any{&m.ID, &m.CorrelationID, &m.SessionID, &m.SenderID, &content, &state, &m.Error, &created, &updated}, extra...)
	if err := r.Scan(dest...); err != nil {
		return model.Message{}, err
	}
	c, err := decodeContent(content)
	if err != nil {
		return m, fmt.Errorf("message %s: %w: %w", m.Key(), ErrUndecodable, err)
	}
	m.Content = c
	m.State = model.DeliveryState(state)
	m.CreatedAt = fromMillis(created)
	m.UpdatedAt = fromMillis(updated)
	return m, nil
}
