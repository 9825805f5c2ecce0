package wa

import (
	"context"

	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/status"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

type lidResolver interface {
	ResolveLID(ctx context.Context, jid types.JID) types.JID
}

// EventHandler processes whatsmeow events for one protocol app. It drives
// the link state machine, fills the inbox and publishes live traffic on the
// bus. It never touches the bridge engine directly.
type EventHandler struct {
	appID    string
	bus      *bus.Bus
	machine  *status.Machine
	inbox    *Inbox
	resolver lidResolver
	logger   *zap.Logger
}

// NewEventHandler creates a handler. resolver may be nil, in which case LID
// chats are kept as they arrive.
func NewEventHandler(appID string, b *bus.Bus, machine *status.Machine, inbox *Inbox, resolver lidResolver, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		appID:    appID,
		bus:      b,
		machine:  machine,
		inbox:    inbox,
		resolver: resolver,
		logger:   logger,
	}
}

// Handle is the whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Receipt:
		h.handleReceipt(evt)
	case *events.PushName:
		h.inbox.SetName(h.resolveJID(evt.JID.String()), evt.NewPushName)
	case *events.Connected:
		h.logger.Info("linked device connected", zap.String("app", h.appID))
		if h.machine.Is(status.LinkAuthRequired) {
			_ = h.machine.Transition(status.LinkConnecting)
		}
		_ = h.machine.Transition(status.LinkConnected)
	case *events.Disconnected:
		h.logger.Warn("linked device disconnected", zap.String("app", h.appID))
		_ = h.machine.Transition(status.LinkReconnecting)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.LoggedOut:
		h.logger.Warn("linked device logged out",
			zap.String("app", h.appID), zap.String("reason", evt.Reason.String()))
		_ = h.machine.Transition(status.LinkLoggedOut)
		h.bus.Publish(bus.NewEvent(bus.SessionLoggedOut, h.appID, evt.Reason.String()))
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	parsed := ParseLiveMessage(evt)
	parsed.ChatJID = h.resolveJID(parsed.ChatJID)
	if parsed.MsgID == "" || parsed.ChatJID == "" {
		return
	}
	if !parsed.FromMe && conversationType(parsed.ChatJID) == model.OneToOne {
		h.inbox.SuggestName(parsed.ChatJID, parsed.SenderName)
	}

	msg := parsed.Message(h.appID)
	if !h.inbox.Add(msg) {
		return
	}
	h.bus.Publish(bus.NewEvent(bus.ProtocolMessage, h.appID, msg))
}

func (h *EventHandler) handleReceipt(evt *events.Receipt) {
	var st model.MessageStatus
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		st = model.Delivered
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf, types.ReceiptTypePlayed:
		st = model.Read
	default:
		return
	}
	chat := h.resolveJID(evt.Chat.ToNonAD().String())
	moved := h.inbox.UpdateStatus(chat, evt.MessageIDs, st)
	if len(moved) == 0 {
		return
	}
	h.bus.Publish(bus.NewEvent(bus.ProtocolReceipt, h.appID, model.StatusUpdate{
		AppID:          h.appID,
		ConversationID: chat,
		MessageIDs:     moved,
		Status:         st,
	}))
}

// handleHistorySync only fills the inbox. History is pulled by the next sync
// cycle rather than pushed message by message.
func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var added int
	for _, conv := range data.GetConversations() {
		chatJID := h.resolveJID(NormalizeJID(conv.GetID()))
		if chatJID == "" {
			continue
		}
		h.inbox.SetName(chatJID, conv.GetName())
		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			if h.inbox.Add(ParseHistoryMessage(chatJID, wmsg).Message(h.appID)) {
				added++
			}
		}
		h.inbox.SetUnread(chatJID, int(conv.GetUnreadCount()))
	}
	h.logger.Info("history sync",
		zap.String("app", h.appID),
		zap.Int("conversations", len(data.GetConversations())),
		zap.Int("messages", added))
}

// resolveJID normalizes a chat JID and maps LID chats onto phone numbers so
// the same contact never shows up twice.
func (h *EventHandler) resolveJID(s string) string {
	s = NormalizeJID(s)
	if h.resolver == nil || s == "" {
		return s
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return s
	}
	return h.resolver.ResolveLID(context.Background(), jid).ToNonAD().String()
}
