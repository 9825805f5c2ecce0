package store

import "strings"

// SearchMessages performs a full-text search on message content.
func (db *DB) SearchMessages(query string, appID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.app_id, m.conversation_id, m.message_id, m.direction, m.content_type, m.content,
		       m.attachment_urls, m.timestamp, m.status, m.reply_to, m.is_encrypted, m.encryption_key_id,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{ftsQuery(query)}
	if appID != "" {
		q += " AND m.app_id = ?"
		args = append(args, appID)
	}
	q += " ORDER BY rank LIMIT ?"
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
		if err != nil {
			return nil, err
		}
		r.Message = *m
		results = append(results, r)
	}
	return results, rows.Err()
}

// ftsQuery quotes each term so user input cannot trip FTS5 syntax.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " ")
}
