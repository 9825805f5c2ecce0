package store

import (
	"encoding/json"
	"time"
)

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(e OutboxEntry) error {
	now := time.Now().UnixMilli()
	attachments, _ := json.Marshal(nonNil(e.Attachments))
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, app_id, conversation_id, body, attachments, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientMsgID, e.AppID, e.ConversationID, e.Body, string(attachments), now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, "sending", "")
}

// MarkOutboxSent updates an outbox entry to 'sent'.
func (db *DB) MarkOutboxSent(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, "sent", "")
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	return db.setOutboxStatus(clientMsgID, "failed", errMsg)
}

func (db *DB) setOutboxStatus(clientMsgID, status, errMsg string) error {
	res, err := db.Exec(`UPDATE outbox SET status = ?, error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		status, errMsg, time.Now().UnixMilli(), clientMsgID)
	return requireRow(res, err)
}

// GetOutbox returns a single outbox entry.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	var e OutboxEntry
	var attachments string
	err := db.QueryRow(`
		SELECT id, client_msg_id, app_id, conversation_id, body, attachments, status, error_message
		FROM outbox WHERE client_msg_id = ?`, clientMsgID).
		Scan(&e.ID, &e.ClientMsgID, &e.AppID, &e.ConversationID, &e.Body, &attachments, &e.Status, &e.ErrorMessage)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(attachments), &e.Attachments)
	return &e, nil
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, app_id, conversation_id, body, attachments, status, error_message
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var attachments string
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.AppID, &e.ConversationID, &e.Body, &attachments, &e.Status, &e.ErrorMessage); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(attachments), &e.Attachments)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
