package surface

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/enterchat/internal/model"
)

// ConversationRow is the shape extraction routines return for one
// conversation.
type ConversationRow struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Avatar       string          `json:"avatar"`
	LastMessage  string          `json:"lastMessage"`
	Time         json.RawMessage `json:"time"`
	Unread       int             `json:"unread"`
	Type         string          `json:"type"`
	Muted        bool            `json:"muted"`
	Pinned       bool            `json:"pinned"`
	Participants []string        `json:"participants"`
}

// MessageRow is the shape extraction routines return for one message.
// Sealed content arrives base64 encoded in ciphertext and iv.
type MessageRow struct {
	ID          string          `json:"id"`
	Text        string          `json:"text"`
	Time        json.RawMessage `json:"time"`
	Outgoing    bool            `json:"outgoing"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	ReplyTo     string          `json:"replyTo"`
	Attachments []string        `json:"attachments"`
	KeyID       string          `json:"keyId"`
	Ciphertext  string          `json:"ciphertext"`
	IV          string          `json:"iv"`
}

// DecodeConversations parses a JSON array of conversation rows. Rows that do
// not decode or lack an id are skipped and counted; a payload that is not an
// array is an error.
func DecodeConversations(appID, raw string, now time.Time) ([]model.Conversation, int, error) {
	items, err := splitArray(raw)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.Conversation, 0, len(items))
	skipped := 0
	for _, item := range items {
		var row ConversationRow
		if err := json.Unmarshal(item, &row); err != nil || strings.TrimSpace(row.ID) == "" {
			skipped++
			continue
		}
		out = append(out, row.Conversation(appID, now))
	}
	return out, skipped, nil
}

// Conversation maps the row into the unified model.
func (r ConversationRow) Conversation(appID string, now time.Time) model.Conversation {
	c := model.Conversation{
		ConversationID:     strings.TrimSpace(r.ID),
		SourceAppID:        appID,
		DisplayName:        strings.TrimSpace(r.Name),
		AvatarURL:          r.Avatar,
		Type:               model.ParseConversationType(r.Type),
		LastMessageContent: r.LastMessage,
		LastMessageTime:    parseTime(r.Time),
		UnreadCount:        max(r.Unread, 0),
		IsMuted:            r.Muted,
		IsPinned:           r.Pinned,
		ParticipantIDs:     r.Participants,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if c.DisplayName == "" {
		c.DisplayName = c.ConversationID
	}
	return c
}

// DecodeMessages parses a JSON array of message rows belonging to
// conversationID. Messages without a parseable time are stamped with now.
func DecodeMessages(appID, conversationID, raw string, now time.Time) ([]model.Message, int, error) {
	items, err := splitArray(raw)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.Message, 0, len(items))
	skipped := 0
	for _, item := range items {
		var row MessageRow
		if err := json.Unmarshal(item, &row); err != nil || strings.TrimSpace(row.ID) == "" {
			skipped++
			continue
		}
		msg, err := row.Message(appID, conversationID, now)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, msg)
	}
	return out, skipped, nil
}

// Message maps the row into the unified model.
func (r MessageRow) Message(appID, conversationID string, now time.Time) (model.Message, error) {
	m := model.Message{
		MessageID:            strings.TrimSpace(r.ID),
		SourceAppID:          appID,
		SourceConversationID: conversationID,
		Direction:            model.Incoming,
		ContentType:          model.ParseContentType(r.Type),
		Content:              r.Text,
		AttachmentURLs:       r.Attachments,
		Timestamp:            now,
		Status:               model.Delivered,
		ReplyToMessageID:     r.ReplyTo,
		EncryptionKeyID:      r.KeyID,
	}
	if ts := parseTime(r.Time); ts != nil {
		m.Timestamp = *ts
	}
	if r.Outgoing {
		m.Direction = model.Outgoing
		m.Status = model.Sent
	}
	if r.Status != "" {
		m.Status = parseStatus(r.Status, m.Status)
	}
	if r.Ciphertext != "" {
		ct, err := base64.StdEncoding.DecodeString(r.Ciphertext)
		if err != nil {
			return m, fmt.Errorf("message %s: ciphertext: %w", m.MessageID, err)
		}
		iv, err := base64.StdEncoding.DecodeString(r.IV)
		if err != nil {
			return m, fmt.Errorf("message %s: iv: %w", m.MessageID, err)
		}
		m.Envelope = &model.Envelope{Ciphertext: ct, IV: iv}
	}
	return m, nil
}

func splitArray(raw string) ([]json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return items, nil
}

func parseStatus(s string, fallback model.MessageStatus) model.MessageStatus {
	switch st := model.MessageStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case model.Pending, model.Sent, model.Delivered, model.Read, model.Failed:
		return st
	}
	return fallback
}

// parseTime accepts epoch seconds or milliseconds as a number or numeric
// string, or an RFC 3339 string. Anything else yields nil.
func parseTime(raw json.RawMessage) *time.Time {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case string:
		t = strings.TrimSpace(t)
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return &ts
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil
		}
		n = f
	default:
		return nil
	}
	if n <= 0 {
		return nil
	}
	var ts time.Time
	if n < 1e12 {
		ts = time.UnixMilli(int64(n * 1000))
	} else {
		ts = time.UnixMilli(int64(n))
	}
	return &ts
}
