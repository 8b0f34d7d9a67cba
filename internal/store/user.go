package store

import (
	"time"

	"github.com/matheus3301/threadline/internal/model"
)

// UpsertUser inserts or updates a user (idempotent on id).
func (db *DB) UpsertUser(u model.User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, display_name, username, email, avatar_url, presence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			username = excluded.username,
			email = excluded.email,
			avatar_url = excluded.avatar_url,
			presence = excluded.presence,
			updated_at = excluded.updated_at`,
		u.ID, u.DisplayName, u.Username, u.Email, u.AvatarURL, string(u.Presence), now)
	return err
}

// ListUsers returns every journaled user.
func (db *DB) ListUsers() ([]model.User, error) {
	rows, err := db.Query(`
		SELECT id, display_name, username, email, avatar_url, presence
		FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var presence string
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Username, &u.Email, &u.AvatarURL, &presence); err != nil {
			return nil, err
		}
		u.Presence = model.Presence(presence)
		users = append(users, u)
	}
	return users, rows.Err()
}
