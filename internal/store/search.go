package store

import (
	"errors"

	"github.com/matheus3301/threadline/internal/model"
)

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message model.Message
	Snippet string
}

// SearchMessages performs a full-text search on message text, optionally
// limited to one session. Newest matches come first.
func (db *DB) SearchMessages(query string, sessionID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT ` + messageColumns + `,
		       snippet(messages_fts, '<<', '>>', '...', 0, 12)
		FROM messages_fts f
		JOIN messages m ON m.id = f.docid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if sessionID != "" {
		q += " AND m.session_id = ?"
		args = append(args, sessionID)
	}
	q += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		m, err := scanMessage(rows, &r.Snippet)
		if errors.Is(err, ErrUndecodable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		r.Message = m
		results = append(results, r)
	}
	return results, rows.Err()
}
