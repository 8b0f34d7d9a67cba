package store

import (
	"time"

	"github.com/matheus3301/threadline/internal/model"
)

// Outbox statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry is one journaled send attempt.
type OutboxEntry struct {
	ID            int64
	CorrelationID string
	SessionID     string
	Content       model.Content
	Status        string
	Attempts      int
	ErrorMessage  string
	ServerMsgID   string
	CreatedAt     time.Time
}

// QueueOutbox records a message about to be submitted. Re-queuing the same
// correlation id resets it to queued.
func (db *DB) QueueOutbox(correlationID, sessionID string, content model.Content) error {
	encoded, err := encodeContent(content)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO outbox (correlation_id, session_id, content, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(correlation_id) DO UPDATE SET status = 'queued', updated_at = excluded.updated_at`,
		correlationID, sessionID, encoded, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' and counts the attempt.
func (db *DB) MarkOutboxSending(correlationID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ? WHERE correlation_id = ?`, now, correlationID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(correlationID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, error_message = '', updated_at = ? WHERE correlation_id = ?`, serverMsgID, now, correlationID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(correlationID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE correlation_id = ?`, errMsg, now, correlationID)
	return err
}

// DeleteOutbox drops an entry, e.g. when the user discards a failed send.
func (db *DB) DeleteOutbox(correlationID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE correlation_id = ?`, correlationID)
	return err
}

// PendingOutbox returns entries that never reached a final status, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.listOutbox(`status IN ('queued', 'sending')`)
}

// FailedOutbox returns entries whose last attempt failed, oldest first.
func (db *DB) FailedOutbox() ([]OutboxEntry, error) {
	return db.listOutbox(`status = 'failed'`)
}

func (db *DB) listOutbox(where string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, correlation_id, session_id, content, status, attempts, error_message, server_msg_id, created_at
		FROM outbox WHERE ` + where + ` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			content string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.CorrelationID, &e.SessionID, &content, &e.Status, &e.Attempts, &e.ErrorMessage, &e.ServerMsgID, &created); err != nil {
			return nil, err
		}
		if e.Content, err = decodeContent(content); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
