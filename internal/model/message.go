package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBackwardTransition = errors.New("message status cannot move backwards")
	ErrMissingKeyID       = errors.New("encrypted message requires an encryption key id")
)

// Message is the normalized message representation shared by every app.
// Content is always plaintext.
type Message struct {
	MessageID            string        `json:"message_id"`
	SourceAppID          string        `json:"source_app_id"`
	SourceConversationID string        `json:"source_conversation_id"`
	Direction            Direction     `json:"direction"`
	ContentType          ContentType   `json:"content_type"`
	Content              string        `json:"content"`
	AttachmentURLs       []string      `json:"attachment_urls,omitempty"`
	Timestamp            time.Time     `json:"timestamp"`
	Status               MessageStatus `json:"status"`
	ReplyToMessageID     string        `json:"reply_to_message_id,omitempty"`
	IsEncrypted          bool          `json:"is_encrypted"`
	EncryptionKeyID      string        `json:"encryption_key_id,omitempty"`

	// Envelope holds sealed content handed over by a surface. It is opened
	// and cleared at ingestion, never persisted or emitted.
	Envelope *Envelope `json:"-"`
}

// Envelope is sealed message content.
type Envelope struct {
	Ciphertext []byte
	IV         []byte
}

// ConversationKey returns the key of the conversation m belongs to.
func (m *Message) ConversationKey() ConversationKey {
	return ConversationKey{AppID: m.SourceAppID, ConversationID: m.SourceConversationID}
}

// Advance moves the message status forward.
func (m *Message) Advance(to MessageStatus) error {
	if !m.Status.CanAdvance(to) {
		return fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, m.Status, to)
	}
	m.Status = to
	return nil
}

// Validate checks the encryption invariant.
func (m *Message) Validate() error {
	if m.IsEncrypted && m.EncryptionKeyID == "" {
		return fmt.Errorf("message %s: %w", m.MessageID, ErrMissingKeyID)
	}
	if m.Envelope != nil {
		return fmt.Errorf("message %s: sealed content was not opened", m.MessageID)
	}
	return nil
}

// StatusUpdate reports that a set of messages in one conversation reached a
// new delivery status.
type StatusUpdate struct {
	AppID          string        `json:"app_id"`
	ConversationID string        `json:"conversation_id"`
	MessageIDs     []string      `json:"message_ids"`
	Status         MessageStatus `json:"status"`
}
