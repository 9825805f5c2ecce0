package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/matheus3301/enterchat/internal/model"
)

const conversationColumns = `app_id, conversation_id, display_name, avatar_url, type,
	last_message_content, last_message_at, unread_count, is_muted, is_pinned, is_archived,
	participant_ids, created_at, updated_at`

// SaveConversation inserts or merges conversation metadata. Merging never
// lowers updated_at, the last message time or the unread count, and never
// touches the local archive flag.
func (db *DB) SaveConversation(c *model.Conversation) error {
	now := time.Now().UnixMilli()
	created := millis(c.CreatedAt, now)
	updated := millis(c.UpdatedAt, now)
	participants, _ := json.Marshal(nonNil(c.ParticipantIDs))
	_, err := db.Exec(`
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, conversation_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE conversations.display_name END,
			avatar_url = CASE WHEN excluded.avatar_url <> '' THEN excluded.avatar_url ELSE conversations.avatar_url END,
			type = excluded.type,
			last_message_content = CASE WHEN excluded.last_message_at > conversations.last_message_at
				THEN excluded.last_message_content ELSE conversations.last_message_content END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			unread_count = MAX(conversations.unread_count, excluded.unread_count),
			is_muted = excluded.is_muted,
			is_pinned = excluded.is_pinned,
			participant_ids = CASE WHEN excluded.participant_ids <> '[]' THEN excluded.participant_ids ELSE conversations.participant_ids END,
			updated_at = CASE WHEN excluded.last_message_at > conversations.last_message_at
				THEN MAX(conversations.updated_at + 1, excluded.updated_at)
				ELSE MAX(conversations.updated_at, excluded.updated_at) END`,
		c.SourceAppID, c.ConversationID, c.DisplayName, c.AvatarURL, string(orDefault(c.Type, model.OneToOne)),
		c.LastMessageContent, timePtrMillis(c.LastMessageTime), c.UnreadCount, c.IsMuted, c.IsPinned, c.IsArchived,
		string(participants), created, updated)
	return err
}

// GetConversation returns a single conversation, or nil if it is not stored.
func (db *DB) GetConversation(key model.ConversationKey) (*model.Conversation, error) {
	row := db.QueryRow(`SELECT `+conversationColumns+` FROM conversations
		WHERE app_id = ? AND conversation_id = ?`, key.AppID, key.ConversationID)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns conversations, pinned first, then by most recent
// message.
func (db *DB) ListConversations(f ConversationFilter) ([]model.Conversation, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE 1 = 1`
	var args []any
	if f.AppID != "" {
		q += ` AND app_id = ?`
		args = append(args, f.AppID)
	}
	if !f.IncludeArchived {
		q += ` AND is_archived = 0`
	}
	if f.UnreadOnly {
		q += ` AND unread_count > 0`
	}
	q += ` ORDER BY is_pinned DESC, last_message_at DESC, updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// MarkRead resets the unread count and marks incoming messages as read.
func (db *DB) MarkRead(key model.ConversationKey) error {
	now := time.Now().UnixMilli()
	return db.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE conversations SET unread_count = 0, updated_at = MAX(updated_at + 1, ?)
			WHERE app_id = ? AND conversation_id = ?`, now, key.AppID, key.ConversationID)
		if err := requireRow(res, err); err != nil {
			return err
		}
		_, err = tx.Exec(`
			UPDATE messages SET status = 'read'
			WHERE app_id = ? AND conversation_id = ? AND direction = 'incoming'
			  AND status IN ('pending', 'sent', 'delivered')`, key.AppID, key.ConversationID)
		return err
	})
}

// Archive sets the soft-delete flag.
func (db *DB) Archive(key model.ConversationKey, archived bool) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE conversations SET is_archived = ?, updated_at = MAX(updated_at + 1, ?)
		WHERE app_id = ? AND conversation_id = ?`, archived, now, key.AppID, key.ConversationID)
	return requireRow(res, err)
}

// DeleteConversation removes a conversation and, by cascade, its messages.
func (db *DB) DeleteConversation(key model.ConversationKey) error {
	res, err := db.Exec(`DELETE FROM conversations WHERE app_id = ? AND conversation_id = ?`,
		key.AppID, key.ConversationID)
	return requireRow(res, err)
}

// UnreadCounts sums unread counts of non-archived conversations per app.
func (db *DB) UnreadCounts() (*UnreadSummary, error) {
	rows, err := db.Query(`
		SELECT app_id, SUM(unread_count) FROM conversations
		WHERE is_archived = 0 GROUP BY app_id HAVING SUM(unread_count) > 0`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	sum := &UnreadSummary{ByApp: make(map[string]int)}
	for rows.Next() {
		var app string
		var n int
		if err := rows.Scan(&app, &n); err != nil {
			return nil, err
		}
		sum.ByApp[app] = n
		sum.Total += n
	}
	return sum, rows.Err()
}

// ConversationCount returns the number of stored conversations.
func (db *DB) ConversationCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (*model.Conversation, error) {
	var (
		c                        model.Conversation
		typ, participants        string
		lastAt, created, updated int64
		muted, pinned, archived  bool
	)
	if err := s.Scan(&c.SourceAppID, &c.ConversationID, &c.DisplayName, &c.AvatarURL, &typ,
		&c.LastMessageContent, &lastAt, &c.UnreadCount, &muted, &pinned, &archived,
		&participants, &created, &updated); err != nil {
		return nil, err
	}
	c.Type = model.ConversationType(typ)
	c.IsMuted, c.IsPinned, c.IsArchived = muted, pinned, archived
	if lastAt > 0 {
		ts := time.UnixMilli(lastAt)
		c.LastMessageTime = &ts
	}
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	_ = json.Unmarshal([]byte(participants), &c.ParticipantIDs)
	return &c, nil
}

func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func millis(t time.Time, fallback int64) int64 {
	if t.IsZero() {
		return fallback
	}
	return t.UnixMilli()
}

func timePtrMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func orDefault[T ~string](v, def T) T {
	if v == "" {
		return def
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
