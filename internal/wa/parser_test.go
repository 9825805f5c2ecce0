package wa

import (
	"testing"
	"time"

	"github.com/matheus3301/enterchat/internal/model"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"google.golang.org/protobuf/proto"
)

func TestParseLiveMessage(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	evt := textEvent("5511999999999", "5511999999999", "ABC", "hi there", false, ts)
	p := ParseLiveMessage(evt)

	if p.ChatJID != "5511999999999@s.whatsapp.net" {
		t.Errorf("ChatJID = %q", p.ChatJID)
	}
	if p.Body != "hi there" || p.MessageType != "text" || p.SenderName != "Alice" {
		t.Errorf("parsed = %+v", p)
	}

	msg := p.Message("whatsapp-linked")
	if msg.SourceAppID != "whatsapp-linked" || !msg.Timestamp.Equal(ts) {
		t.Errorf("message = %+v", msg)
	}
	if msg.ContentType != model.Text {
		t.Errorf("content type = %s", msg.ContentType)
	}
}

func TestParseOutgoingIsSent(t *testing.T) {
	p := ParseLiveMessage(textEvent("5511", "me", "X", "yo", true, time.Now()))
	msg := p.Message("whatsapp-linked")
	if msg.Direction != model.Outgoing || msg.Status != model.Sent {
		t.Errorf("direction/status = %s/%s, want outgoing/sent", msg.Direction, msg.Status)
	}
}

func TestParseHistoryMessage(t *testing.T) {
	wmsg := &waWeb.WebMessageInfo{
		Key: &waCommon.MessageKey{
			ID:          proto.String("H1"),
			Participant: proto.String("5511777777777:3@s.whatsapp.net"),
		},
		Message: &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String("quoted reply"),
			ContextInfo: &waE2E.ContextInfo{StanzaID: proto.String("ORIG")},
		}},
		MessageTimestamp: proto.Uint64(1700000000),
		PushName:         proto.String("Carol"),
	}
	p := ParseHistoryMessage("120363000000@g.us", wmsg)

	if p.SenderJID != "5511777777777@s.whatsapp.net" {
		t.Errorf("SenderJID = %q, want device suffix stripped", p.SenderJID)
	}
	if p.ReplyTo != "ORIG" || p.Body != "quoted reply" {
		t.Errorf("parsed = %+v", p)
	}
	if !p.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Timestamp = %v", p.Timestamp)
	}
	if got := p.Message("a").ReplyToMessageID; got != "ORIG" {
		t.Errorf("ReplyToMessageID = %q", got)
	}
}

func TestDetectMessageType(t *testing.T) {
	tests := []struct {
		msg  *waE2E.Message
		want model.ContentType
	}{
		{&waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("pic")}}, model.Image},
		{&waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, model.Video},
		{&waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, model.Audio},
		{&waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{FileName: proto.String("a.pdf")}}, model.File},
		{&waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, model.Image},
		{&waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, model.Location},
		{&waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, model.Contact},
		{nil, model.Text},
	}
	for _, tt := range tests {
		if got := model.ParseContentType(detectMessageType(tt.msg)); got != tt.want {
			t.Errorf("detectMessageType(%v) = %s, want %s", tt.msg, got, tt.want)
		}
	}
	if got := extractTextBody(&waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{FileName: proto.String("a.pdf")}}); got != "a.pdf" {
		t.Errorf("document body = %q, want file name", got)
	}
}

func TestNormalizeJID(t *testing.T) {
	tests := map[string]string{
		"5511999999999:12@s.whatsapp.net": "5511999999999@s.whatsapp.net",
		"5511999999999@s.whatsapp.net":    "5511999999999@s.whatsapp.net",
		"120363000000@g.us":               "120363000000@g.us",
		"":                                "",
	}
	for in, want := range tests {
		if got := NormalizeJID(in); got != want {
			t.Errorf("NormalizeJID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConversationType(t *testing.T) {
	if conversationType("120363000000@g.us") != model.Group {
		t.Error("g.us should be a group")
	}
	if conversationType("status@broadcast") != model.Broadcast {
		t.Error("broadcast server should be a broadcast")
	}
	if conversationType("5511@s.whatsapp.net") != model.OneToOne {
		t.Error("user server should be one to one")
	}
}
