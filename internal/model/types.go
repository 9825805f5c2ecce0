package model

import "strings"

// ConversationType classifies a thread.
type ConversationType string

const (
	OneToOne  ConversationType = "one_to_one"
	Group     ConversationType = "group"
	Channel   ConversationType = "channel"
	Broadcast ConversationType = "broadcast"
)

// ParseConversationType maps loosely scraped labels onto a ConversationType.
// Unknown labels default to OneToOne.
func ParseConversationType(s string) ConversationType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "group", "groups", "supergroup":
		return Group
	case "channel":
		return Channel
	case "broadcast", "newsletter", "status":
		return Broadcast
	default:
		return OneToOne
	}
}

// Direction tells whether a message was received or sent.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// ContentType is the kind of payload a message carries.
type ContentType string

const (
	Text     ContentType = "text"
	Image    ContentType = "image"
	Video    ContentType = "video"
	Audio    ContentType = "audio"
	File     ContentType = "file"
	Link     ContentType = "link"
	Location ContentType = "location"
	Contact  ContentType = "contact"
)

// ParseContentType maps loosely scraped labels onto a ContentType.
// Unknown labels default to Text.
func ParseContentType(s string) ContentType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image", "photo", "sticker", "gif":
		return Image
	case "video":
		return Video
	case "audio", "voice", "ptt":
		return Audio
	case "file", "document":
		return File
	case "link", "url":
		return Link
	case "location", "live_location":
		return Location
	case "contact", "vcard":
		return Contact
	default:
		return Text
	}
}

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	Pending   MessageStatus = "pending"
	Sent      MessageStatus = "sent"
	Delivered MessageStatus = "delivered"
	Read      MessageStatus = "read"
	Failed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	Pending:   0,
	Sent:      1,
	Delivered: 2,
	Read:      3,
}

// Terminal reports whether no further transition is allowed.
func (s MessageStatus) Terminal() bool {
	return s == Read || s == Failed
}

// CanAdvance reports whether moving from s to next is a forward transition.
// Skipping intermediate states is allowed; staying put is not a transition.
func (s MessageStatus) CanAdvance(next MessageStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == Failed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}
