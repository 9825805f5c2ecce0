package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/matheus3301/enterchat/internal/model"
)

const messageColumns = `app_id, conversation_id, message_id, direction, content_type, content,
	attachment_urls, timestamp, status, reply_to, is_encrypted, encryption_key_id`

// SaveMessage stores m, creating its conversation when needed. A new
// incoming message raises the unread count only when it is newer than the
// conversation's last message. A message already stored only has its status
// advanced, never moved backwards.
// The returned flag reports whether anything was written.
func (db *DB) SaveMessage(m *model.Message) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}
	now := time.Now().UnixMilli()
	ts := m.Timestamp.UnixMilli()
	attachments, _ := json.Marshal(nonNil(m.AttachmentURLs))

	changed := false
	err := db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO conversations (app_id, conversation_id, created_at, updated_at)
			VALUES (?, ?, ?, ?)`, m.SourceAppID, m.SourceConversationID, now, now); err != nil {
			return err
		}

		res, err := tx.Exec(`
			INSERT INTO messages (`+messageColumns+`, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(app_id, conversation_id, message_id) DO NOTHING`,
			m.SourceAppID, m.SourceConversationID, m.MessageID, string(m.Direction),
			string(orDefault(m.ContentType, model.Text)), m.Content, string(attachments), ts,
			string(orDefault(m.Status, model.Pending)), m.ReplyToMessageID, m.IsEncrypted, m.EncryptionKeyID, now)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			changed = true
			unseen := 0
			if m.Direction == model.Incoming && m.Status != model.Read {
				unseen = 1
			}
			// Only messages newer than the conversation's last message are
			// unseen. Older ones are history, or already counted in the
			// unread badge a scraped conversation carried.
			_, err := tx.Exec(`
				UPDATE conversations SET
					last_message_content = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_content END,
					last_message_at = MAX(last_message_at, ?),
					unread_count = unread_count + CASE WHEN ? > last_message_at THEN ? ELSE 0 END,
					updated_at = MAX(updated_at + 1, ?)
				WHERE app_id = ? AND conversation_id = ?`,
				ts, m.Content, ts, ts, unseen, now, m.SourceAppID, m.SourceConversationID)
			return err
		}

		var current string
		if err := tx.QueryRow(`
			SELECT status FROM messages WHERE app_id = ? AND conversation_id = ? AND message_id = ?`,
			m.SourceAppID, m.SourceConversationID, m.MessageID).Scan(&current); err != nil {
			return err
		}
		if !model.MessageStatus(current).CanAdvance(m.Status) {
			return nil
		}
		if _, err := tx.Exec(`
			UPDATE messages SET status = ? WHERE app_id = ? AND conversation_id = ? AND message_id = ?`,
			string(m.Status), m.SourceAppID, m.SourceConversationID, m.MessageID); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// UpdateMessageStatus advances the status of a stored message. Backward
// transitions are ignored.
func (db *DB) UpdateMessageStatus(key model.ConversationKey, messageID string, status model.MessageStatus) (bool, error) {
	changed := false
	err := db.inTx(func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRow(`
			SELECT status FROM messages WHERE app_id = ? AND conversation_id = ? AND message_id = ?`,
			key.AppID, key.ConversationID, messageID).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !model.MessageStatus(current).CanAdvance(status) {
			return nil
		}
		_, err = tx.Exec(`
			UPDATE messages SET status = ? WHERE app_id = ? AND conversation_id = ? AND message_id = ?`,
			string(status), key.AppID, key.ConversationID, messageID)
		changed = err == nil
		return err
	})
	return changed, err
}

// ListMessages returns messages for a conversation using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(key model.ConversationKey, beforeTs int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE app_id = ? AND conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, key.AppID, key.ConversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of stored messages.
func (db *DB) MessageCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func scanMessage(s scanner, extra ...any) (*model.Message, error) {
	var (
		m                                  model.Message
		direction, contentType, status, at string
		ts                                 int64
	)
	dest := []any{&m.SourceAppID, &m.SourceConversationID, &m.MessageID, &direction, &contentType,
		&m.Content, &at, &ts, &status, &m.ReplyToMessageID, &m.IsEncrypted, &m.EncryptionKeyID}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	m.Direction = model.Direction(direction)
	m.ContentType = model.ContentType(contentType)
	m.Status = model.MessageStatus(status)
	m.Timestamp = time.UnixMilli(ts)
	_ = json.Unmarshal([]byte(at), &m.AttachmentURLs)
	return &m, nil
}
