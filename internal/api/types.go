package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/enterchat/internal/model"
)

// Empty is the request of methods that take no arguments.
type Empty struct{}

// Ack is the response of methods that only report success.
type Ack struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type StatusResponse struct {
	Profile       string               `json:"profile"`
	State         string               `json:"state"`
	UptimeMs      int64                `json:"uptime_ms"`
	ActiveApps    []string             `json:"active_apps"`
	Conversations int                  `json:"conversations"`
	Messages      int                  `json:"messages"`
	DroppedEvents int64                `json:"dropped_events"`
	LastSync      map[string]time.Time `json:"last_sync,omitempty"`
}

// AppInfo describes one catalog entry.
type AppInfo struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Kind        string     `json:"kind"`
	Active      bool       `json:"active"`
	LinkState   string     `json:"link_state,omitempty"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
}

type ListAppsResponse struct {
	Apps []AppInfo `json:"apps"`
}

// AppRequest targets a single app.
type AppRequest struct {
	AppID string `json:"app_id"`
}

type SendRequest struct {
	AppID          string   `json:"app_id"`
	ConversationID string   `json:"conversation_id"`
	Text           string   `json:"text"`
	Attachments    []string `json:"attachments,omitempty"`
}

type SendResponse struct {
	OK          bool   `json:"ok"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

type SendToContactRequest struct {
	AppID string `json:"app_id"`
	Name  string `json:"name"`
	Text  string `json:"text"`
}

type BulkSendRequest struct {
	AppID           string   `json:"app_id"`
	ConversationIDs []string `json:"conversation_ids"`
	Text            string   `json:"text"`
}

type ListConversationsRequest struct {
	AppID           string `json:"app_id,omitempty"`
	IncludeArchived bool   `json:"include_archived,omitempty"`
	UnreadOnly      bool   `json:"unread_only,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	Offset          int    `json:"offset,omitempty"`
}

type ListConversationsResponse struct {
	Conversations []model.Conversation `json:"conversations"`
	HasMore       bool                 `json:"has_more"`
}

type ListMessagesRequest struct {
	AppID          string `json:"app_id"`
	ConversationID string `json:"conversation_id"`
	BeforeUnixMs   int64  `json:"before_unix_ms,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

type SearchRequest struct {
	Query string `json:"query"`
	AppID string `json:"app_id,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type SearchHit struct {
	Message model.Message `json:"message"`
	Snippet string        `json:"snippet"`
}

type SearchResponse struct {
	Results []SearchHit `json:"results"`
	HasMore bool        `json:"has_more"`
}

// ConversationRequest targets a single stored conversation.
type ConversationRequest struct {
	AppID          string `json:"app_id"`
	ConversationID string `json:"conversation_id"`
}

type ArchiveRequest struct {
	AppID          string `json:"app_id"`
	ConversationID string `json:"conversation_id"`
	Archived       bool   `json:"archived"`
}

type UnreadResponse struct {
	Total int            `json:"total"`
	ByApp map[string]int `json:"by_app"`
}

type SessionsResponse struct {
	AppIDs []string `json:"app_ids"`
}

// WatchRequest selects bus events by kind prefix. An empty prefix streams
// everything.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// EventEnvelope carries one bus event to a watching client.
type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	Profile          string          `json:"profile"`
	OccurredAtUnixMs int64           `json:"occurred_at_unix_ms"`
	Kind             string          `json:"kind"`
	AppID            string          `json:"app_id,omitempty"`
	PayloadVersion   int             `json:"payload_version"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
