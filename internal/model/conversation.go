package model

import "time"

// ConversationKey is the identity of a conversation. Conversation ids are only
// unique within their source app.
type ConversationKey struct {
	AppID          string
	ConversationID string
}

func (k ConversationKey) String() string {
	return k.AppID + "/" + k.ConversationID
}

// Conversation is the normalized thread representation shared by every app.
type Conversation struct {
	ConversationID     string           `json:"conversation_id"`
	SourceAppID        string           `json:"source_app_id"`
	DisplayName        string           `json:"display_name"`
	AvatarURL          string           `json:"avatar_url,omitempty"`
	Type               ConversationType `json:"type"`
	LastMessageContent string           `json:"last_message_content,omitempty"`
	LastMessageTime    *time.Time       `json:"last_message_time,omitempty"`
	UnreadCount        int              `json:"unread_count"`
	IsMuted            bool             `json:"is_muted"`
	IsPinned           bool             `json:"is_pinned"`
	IsArchived         bool             `json:"is_archived"`
	ParticipantIDs     []string         `json:"participant_ids,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Key returns the composite identity of c.
func (c *Conversation) Key() ConversationKey {
	return ConversationKey{AppID: c.SourceAppID, ConversationID: c.ConversationID}
}

// RecordMessage folds msg into the conversation summary. Incoming messages
// that are not yet read increment the unread counter.
func (c *Conversation) RecordMessage(msg *Message, now time.Time) {
	ts := msg.Timestamp
	c.LastMessageContent = msg.Content
	c.LastMessageTime = &ts
	if msg.Direction == Incoming && msg.Status != Read {
		c.UnreadCount++
	}
	c.touch(now)
}

// MarkRead resets the unread counter.
func (c *Conversation) MarkRead(now time.Time) {
	if c.UnreadCount == 0 {
		return
	}
	c.UnreadCount = 0
	c.touch(now)
}

// touch advances UpdatedAt, never moving it backwards.
func (c *Conversation) touch(now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if !now.After(c.UpdatedAt) {
		now = c.UpdatedAt.Add(time.Millisecond)
	}
	c.UpdatedAt = now
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	if c.LastMessageTime != nil {
		ts := *c.LastMessageTime
		c.LastMessageTime = &ts
	}
	if c.ParticipantIDs != nil {
		c.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	}
	return c
}
