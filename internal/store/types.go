package store

import "github.com/matheus3301/enterchat/internal/model"

// ConversationFilter narrows ListConversations.
type ConversationFilter struct {
	AppID           string
	IncludeArchived bool
	UnreadOnly      bool
	Limit           int
	Offset          int
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	AppID          string
	ConversationID string
	Body           string
	Attachments    []string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message model.Message
	Snippet string
}

// UnreadSummary is the unread count across the inbox.
type UnreadSummary struct {
	Total int
	ByApp map[string]int
}
