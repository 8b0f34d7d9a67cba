package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/threadline/internal/model"
)

// UpsertSession inserts or updates a session record.
func (db *DB) UpsertSession(s model.Session) error {
	participants, err := json.Marshal(s.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO sessions (id, is_group, name, participants, last_activity_at, archived, unread, stub, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_group = excluded.is_group,
			name = excluded.name,
			participants = excluded.participants,
			last_activity_at = excluded.last_activity_at,
			archived = excluded.archived,
			unread = excluded.unread,
			stub = excluded.stub,
			updated_at = excluded.updated_at`,
		s.ID, s.IsGroup, s.Name, string(participants), millis(s.LastActivityAt), s.Archived, s.Unread, s.Stub, now)
	return err
}

const sessionColumns = `id, is_group, name, participants, last_activity_at, archived, unread, stub`

// ListSessions returns sessions sorted by last activity descending.
func (db *DB) ListSessions() ([]model.Session, error) {
	rows, err := db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY last_activity_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetSession returns a single session, or nil when it is not journaled.
func (db *DB) GetSession(id string) (*model.Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (model.Session, error) {
	var (
		s            model.Session
		participants string
		lastActivity int64
	)
	if err := r.Scan(&s.ID, &s.IsGroup, &s.Name, &participants, &lastActivity, &s.Archived, &s.Unread, &s.Stub); err != nil {
		return model.Session{}, err
	}
	if err := json.Unmarshal([]byte(participants), &s.Participants); err != nil {
		return model.Session{}, fmt.Errorf("session %s participants: %w", s.ID, err)
	}
	s.LastActivityAt = fromMillis(lastActivity)
	return s, nil
}
