package wa

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/status"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

const testApp = "whatsapp-linked"

// walkTo transitions the machine through the given states sequentially.
func walkTo(t *testing.T, m *status.Machine, states ...status.State) {
	t.Helper()
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}

func newTestHandler(resolver lidResolver) (*EventHandler, *bus.Bus, *status.Machine, *Inbox) {
	b := bus.New()
	m := status.NewLinkMachine(b, testApp)
	in := NewInbox(testApp, 0)
	return NewEventHandler(testApp, b, m, in, resolver, zap.NewNop()), b, m, in
}

func textEvent(chat, sender, id, text string, fromMe bool, ts time.Time) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     types.NewJID(chat, types.DefaultUserServer),
				Sender:   types.NewJID(sender, types.DefaultUserServer),
				IsFromMe: fromMe,
			},
			ID:        id,
			PushName:  "Alice",
			Timestamp: ts,
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

type mapResolver map[string]types.JID

func (r mapResolver) ResolveLID(_ context.Context, jid types.JID) types.JID {
	if pn, ok := r[jid.String()]; ok {
		return pn
	}
	return jid
}

func TestHandleConnectedFromAuthRequired(t *testing.T) {
	h, _, m, _ := newTestHandler(nil)
	walkTo(t, m, status.LinkAuthRequired)

	h.Handle(&events.Connected{})

	if m.Current() != status.LinkConnected {
		t.Errorf("state = %s, want CONNECTED", m.Current())
	}
}

func TestHandleConnectedFromReconnecting(t *testing.T) {
	h, _, m, _ := newTestHandler(nil)
	walkTo(t, m, status.LinkConnecting, status.LinkConnected, status.LinkReconnecting)

	h.Handle(&events.Connected{})

	if m.Current() != status.LinkConnected {
		t.Errorf("state = %s, want CONNECTED (reconnect path)", m.Current())
	}
}

func TestHandleDisconnected(t *testing.T) {
	h, b, m, _ := newTestHandler(nil)
	walkTo(t, m, status.LinkConnecting, status.LinkConnected)

	ch, unsub := b.Subscribe("app.", 10)
	defer unsub()

	h.Handle(&events.Disconnected{})

	if m.Current() != status.LinkReconnecting {
		t.Errorf("state = %s, want RECONNECTING", m.Current())
	}
	select {
	case evt := <-ch:
		change := evt.Payload.(status.StatusChange)
		if evt.AppID != testApp || change.To != status.LinkReconnecting {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for link state event")
	}
}

func TestHandleLoggedOut(t *testing.T) {
	h, b, m, _ := newTestHandler(nil)
	walkTo(t, m, status.LinkConnecting, status.LinkConnected)

	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	h.Handle(&events.LoggedOut{})

	if m.Current() != status.LinkLoggedOut {
		t.Errorf("state = %s, want LOGGED_OUT", m.Current())
	}
	select {
	case evt := <-ch:
		if evt.Kind != bus.SessionLoggedOut {
			t.Errorf("kind = %q, want %q", evt.Kind, bus.SessionLoggedOut)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for session.logged_out")
	}
}

func TestHandleMessagePublishesOnce(t *testing.T) {
	h, b, _, in := newTestHandler(nil)
	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	ts := time.Unix(1700000000, 0)
	evt := textEvent("5511999999999", "5511999999999", "MSG1", "hello", false, ts)
	h.Handle(evt)
	h.Handle(evt)

	select {
	case got := <-ch:
		if got.Kind != bus.ProtocolMessage {
			t.Fatalf("kind = %q, want %q", got.Kind, bus.ProtocolMessage)
		}
		msg := got.Payload.(model.Message)
		if msg.MessageID != "MSG1" || msg.Content != "hello" || msg.Direction != model.Incoming {
			t.Errorf("message = %+v", msg)
		}
		if msg.SourceConversationID != "5511999999999@s.whatsapp.net" {
			t.Errorf("conversation = %q", msg.SourceConversationID)
		}
		if msg.Status != model.Delivered {
			t.Errorf("status = %s, want delivered", msg.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for wa.message")
	}
	select {
	case got := <-ch:
		t.Errorf("duplicate delivery: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	convs := in.Conversations()
	if len(convs) != 1 {
		t.Fatalf("inbox conversations = %d, want 1", len(convs))
	}
	if convs[0].DisplayName != "Alice" || convs[0].UnreadCount != 1 {
		t.Errorf("conversation = %+v", convs[0])
	}
}

func TestHandleMessageResolvesLID(t *testing.T) {
	lid := types.NewJID("123456", types.HiddenUserServer)
	pn := types.NewJID("5511999999999", types.DefaultUserServer)
	h, _, _, in := newTestHandler(mapResolver{lid.String(): pn})

	evt := textEvent("x", "x", "MSG1", "hi", false, time.Now())
	evt.Info.Chat = lid
	h.Handle(evt)

	if !in.Has(pn.String()) {
		t.Errorf("LID chat not mapped to %s: %+v", pn, in.Conversations())
	}
	if in.Has(lid.String()) {
		t.Error("LID chat kept alongside phone number chat")
	}
}

func TestHandleReceipt(t *testing.T) {
	h, b, _, _ := newTestHandler(nil)
	h.Handle(textEvent("5511999999999", "me", "OUT1", "sent", true, time.Now()))

	ch, unsub := b.Subscribe(bus.ProtocolReceipt, 10)
	defer unsub()

	receipt := &events.Receipt{
		MessageSource: types.MessageSource{Chat: types.NewJID("5511999999999", types.DefaultUserServer)},
		MessageIDs:    []types.MessageID{"OUT1", "UNKNOWN"},
		Type:          types.ReceiptTypeRead,
	}
	h.Handle(receipt)
	h.Handle(receipt)

	select {
	case evt := <-ch:
		up := evt.Payload.(model.StatusUpdate)
		if up.Status != model.Read || len(up.MessageIDs) != 1 || up.MessageIDs[0] != "OUT1" {
			t.Errorf("update = %+v", up)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for wa.receipt")
	}
	select {
	case evt := <-ch:
		t.Errorf("read receipt applied twice: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleHistorySyncFillsInbox(t *testing.T) {
	h, b, _, in := newTestHandler(nil)
	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	chat := "5511888888888@s.whatsapp.net"
	h.Handle(&events.HistorySync{Data: &waHistorySync.HistorySync{
		Conversations: []*waHistorySync.Conversation{{
			ID:          proto.String(chat),
			Name:        proto.String("Bob"),
			UnreadCount: proto.Uint32(2),
			Messages: []*waHistorySync.HistorySyncMsg{
				{Message: &waWeb.WebMessageInfo{
					Key:              &waCommon.MessageKey{ID: proto.String("H2"), FromMe: proto.Bool(true)},
					Message:          &waE2E.Message{Conversation: proto.String("second")},
					MessageTimestamp: proto.Uint64(1700000100),
				}},
				{Message: &waWeb.WebMessageInfo{
					Key:              &waCommon.MessageKey{ID: proto.String("H1")},
					Message:          &waE2E.Message{Conversation: proto.String("first")},
					MessageTimestamp: proto.Uint64(1700000000),
				}},
				{Message: &waWeb.WebMessageInfo{Key: &waCommon.MessageKey{ID: proto.String("EMPTY")}}},
			},
		}},
	}})

	msgs := in.Messages(chat, 10)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].MessageID != "H1" || msgs[1].MessageID != "H2" {
		t.Errorf("order = %s, %s; want H1, H2", msgs[0].MessageID, msgs[1].MessageID)
	}
	conv := in.Conversations()[0]
	if conv.DisplayName != "Bob" || conv.UnreadCount != 2 || conv.LastMessageContent != "second" {
		t.Errorf("conversation = %+v", conv)
	}

	select {
	case evt := <-ch:
		t.Errorf("history should not be pushed: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
