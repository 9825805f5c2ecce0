package model

import (
	"errors"
	"testing"
	"time"
)

func TestUnreadMonotonicity(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &Conversation{ConversationID: "c1", SourceAppID: "whatsapp"}

	for i := 0; i < 5; i++ {
		c.RecordMessage(&Message{Direction: Incoming, Status: Delivered, Content: "hi", Timestamp: now}, now)
		if c.UnreadCount != i+1 {
			t.Fatalf("after %d messages unread = %d", i+1, c.UnreadCount)
		}
	}

	c.MarkRead(now)
	if c.UnreadCount != 0 {
		t.Errorf("unread after MarkRead = %d, want 0", c.UnreadCount)
	}
	c.MarkRead(now)
	if c.UnreadCount != 0 {
		t.Errorf("unread went negative: %d", c.UnreadCount)
	}
}

func TestOutgoingDoesNotCountAsUnread(t *testing.T) {
	now := time.Now()
	c := &Conversation{}
	c.RecordMessage(&Message{Direction: Outgoing, Status: Sent, Content: "yo", Timestamp: now}, now)
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
	if c.LastMessageContent != "yo" {
		t.Errorf("last message = %q, want yo", c.LastMessageContent)
	}
}

func TestUpdatedAtMonotonic(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &Conversation{}
	c.RecordMessage(&Message{Direction: Incoming, Content: "a", Timestamp: t0}, t0)
	first := c.UpdatedAt

	// A clock that does not advance, or goes backwards, must still bump UpdatedAt.
	c.RecordMessage(&Message{Direction: Incoming, Content: "b", Timestamp: t0}, t0)
	if !c.UpdatedAt.After(first) {
		t.Errorf("UpdatedAt did not advance on equal clock: %v -> %v", first, c.UpdatedAt)
	}
	second := c.UpdatedAt
	c.RecordMessage(&Message{Direction: Incoming, Content: "c", Timestamp: t0}, t0.Add(-time.Hour))
	if !c.UpdatedAt.After(second) {
		t.Errorf("UpdatedAt moved backwards: %v -> %v", second, c.UpdatedAt)
	}
	if c.CreatedAt != t0 {
		t.Errorf("CreatedAt = %v, want %v", c.CreatedAt, t0)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to MessageStatus
		want     bool
	}{
		{Pending, Sent, true},
		{Pending, Read, true},
		{Sent, Delivered, true},
		{Delivered, Read, true},
		{Sent, Failed, true},
		{Pending, Failed, true},
		{Read, Sent, false},
		{Delivered, Sent, false},
		{Sent, Sent, false},
		{Read, Failed, false},
		{Failed, Sent, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanAdvance(tt.to); got != tt.want {
				t.Errorf("CanAdvance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdvanceRejectsBackward(t *testing.T) {
	m := &Message{Status: Read}
	err := m.Advance(Sent)
	if !errors.Is(err, ErrBackwardTransition) {
		t.Fatalf("err = %v, want ErrBackwardTransition", err)
	}
	if m.Status != Read {
		t.Errorf("status changed to %s", m.Status)
	}
}

func TestValidateEncryption(t *testing.T) {
	m := &Message{MessageID: "m1", IsEncrypted: true}
	if !errors.Is(m.Validate(), ErrMissingKeyID) {
		t.Errorf("expected ErrMissingKeyID")
	}
	m.EncryptionKeyID = "k1"
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	m.Envelope = &Envelope{Ciphertext: []byte{1}}
	if err := m.Validate(); err == nil {
		t.Error("sealed message should not validate")
	}
}

func TestParseLabels(t *testing.T) {
	if ParseContentType("document") != File {
		t.Error("document should map to file")
	}
	if ParseContentType("sticker") != Image {
		t.Error("sticker should map to image")
	}
	if ParseContentType("???") != Text {
		t.Error("unknown content type should default to text")
	}
	if ParseConversationType("Group") != Group {
		t.Error("Group should map to group")
	}
	if ParseConversationType("") != OneToOne {
		t.Error("empty should default to one_to_one")
	}
}
