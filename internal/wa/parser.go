package wa

import (
	"time"

	"github.com/matheus3301/enterchat/internal/model"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a message lifted off the wire, before it is mapped into
// the unified model.
type ParsedMessage struct {
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	Timestamp   time.Time
	ReplyTo     string
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	return &ParsedMessage{
		ChatJID:     evt.Info.Chat.ToNonAD().String(),
		MsgID:       evt.Info.ID,
		SenderJID:   evt.Info.Sender.ToNonAD().String(),
		SenderName:  evt.Info.PushName,
		Body:        extractTextBody(evt.Message),
		MessageType: detectMessageType(evt.Message),
		FromMe:      evt.Info.IsFromMe,
		Timestamp:   evt.Info.Timestamp,
		ReplyTo:     replyTo(evt.Message),
	}
}

// ParseHistoryMessage normalizes one message of a history sync conversation.
func ParseHistoryMessage(chatJID string, wmsg *waWeb.WebMessageInfo) *ParsedMessage {
	key := wmsg.GetKey()
	return &ParsedMessage{
		ChatJID:     chatJID,
		MsgID:       key.GetID(),
		SenderJID:   NormalizeJID(key.GetParticipant()),
		SenderName:  wmsg.GetPushName(),
		Body:        extractTextBody(wmsg.GetMessage()),
		MessageType: detectMessageType(wmsg.GetMessage()),
		FromMe:      key.GetFromMe(),
		Timestamp:   time.Unix(int64(wmsg.GetMessageTimestamp()), 0),
		ReplyTo:     replyTo(wmsg.GetMessage()),
	}
}

// Message maps the parsed message into the unified model for appID.
func (p *ParsedMessage) Message(appID string) model.Message {
	m := model.Message{
		MessageID:            p.MsgID,
		SourceAppID:          appID,
		SourceConversationID: p.ChatJID,
		Direction:            model.Incoming,
		ContentType:          model.ParseContentType(p.MessageType),
		Content:              p.Body,
		Timestamp:            p.Timestamp,
		Status:               model.Delivered,
		ReplyToMessageID:     p.ReplyTo,
	}
	if p.FromMe {
		m.Direction = model.Outgoing
		m.Status = model.Sent
	}
	return m
}

// NormalizeJID strips device and agent suffixes so a contact maps to one
// conversation. Unparseable input is returned unchanged.
func NormalizeJID(s string) string {
	if s == "" {
		return ""
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return s
	}
	return jid.ToNonAD().String()
}

// conversationType classifies a chat by its JID server.
func conversationType(jid string) model.ConversationType {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return model.OneToOne
	}
	switch parsed.Server {
	case types.GroupServer:
		return model.Group
	case types.NewsletterServer, types.BroadcastServer:
		return model.Broadcast
	default:
		return model.OneToOne
	}
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetFileName()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}

func replyTo(msg *waE2E.Message) string {
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetContextInfo().GetStanzaID()
	}
	return ""
}
