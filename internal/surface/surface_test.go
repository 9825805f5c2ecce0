package surface

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/registry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubDriver struct {
	loadErr  error
	openErr  error
	sendErr  error
	convs    []model.Conversation
	panicOn  string
	opened   []string
	messages []model.Message
}

func (d *stubDriver) Load(context.Context, registry.AppConfig) error { return d.loadErr }

func (d *stubDriver) Conversations(context.Context, registry.AppConfig) ([]model.Conversation, error) {
	if d.panicOn == "conversations" {
		panic("boom")
	}
	return d.convs, nil
}

func (d *stubDriver) Open(_ context.Context, _ registry.AppConfig, id string) error {
	d.opened = append(d.opened, id)
	return d.openErr
}

func (d *stubDriver) Messages(ctx context.Context, app registry.AppConfig, id string, _ int) ([]model.Message, error) {
	if err := d.Open(ctx, app, id); err != nil {
		return nil, err
	}
	return d.messages, nil
}

func (d *stubDriver) Send(context.Context, registry.AppConfig, string, string, []string) error {
	return d.sendErr
}

func (d *stubDriver) Clear(context.Context, registry.AppConfig) error { return nil }
func (d *stubDriver) Close() error                                   { return nil }

var testApp = registry.AppConfig{ID: "whatsapp", Kind: registry.KindWebview}

func TestFailuresDegradeAndLog(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := &stubDriver{loadErr: errors.New("page load timeout"), sendErr: errors.New("send button not found")}
	s := New(d, zap.New(core))
	ctx := context.Background()

	require.False(t, s.LoadOrResume(ctx, testApp))
	require.False(t, s.SendMessage(ctx, testApp, "c1", "hello", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "load", entries[0].ContextMap()["op"])
	require.Equal(t, "whatsapp", entries[0].ContextMap()["app"])
	require.Equal(t, "send_message", entries[1].ContextMap()["op"])
}

func TestPanicIsRecovered(t *testing.T) {
	s := New(&stubDriver{panicOn: "conversations"}, zap.NewNop())
	require.NotPanics(t, func() {
		require.Empty(t, s.ScrapeConversations(context.Background(), testApp))
	})
}

func TestScrapeMessagesRequiresOpen(t *testing.T) {
	d := &stubDriver{
		openErr:  errors.New("conversation not in list"),
		messages: []model.Message{{MessageID: "m1"}},
	}
	s := New(d, nil)

	require.Empty(t, s.ScrapeMessages(context.Background(), testApp, "c1", 10))
	require.Equal(t, []string{"c1"}, d.opened)

	d.openErr = nil
	require.Len(t, s.ScrapeMessages(context.Background(), testApp, "c1", 10), 1)
	require.Equal(t, []string{"c1", "c1"}, d.opened, "the driver opens once per scrape")
}

func TestOpenConversationDegrades(t *testing.T) {
	d := &stubDriver{openErr: errors.New("conversation not in list")}
	s := New(d, nil)
	require.False(t, s.OpenConversation(context.Background(), testApp, "c9"))
	d.openErr = nil
	require.True(t, s.OpenConversation(context.Background(), testApp, "c9"))
	require.Equal(t, []string{"c9", "c9"}, d.opened)
}

func TestDecodeConversationsSkipsMalformed(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	raw := `[
		{"id":"c1","name":"Alice","lastMessage":"hi","time":1700000000,"unread":2},
		"not an object",
		{"name":"no id"},
		{"id":"c2","type":"group","unread":-4,"time":"2024-01-02T03:04:05Z"}
	]`
	convs, skipped, err := DecodeConversations("telegram", raw, now)
	require.NoError(t, err)
	require.Equal(t, 2, skipped)
	require.Len(t, convs, 2)

	require.Equal(t, "Alice", convs[0].DisplayName)
	require.Equal(t, "telegram", convs[0].SourceAppID)
	require.Equal(t, 2, convs[0].UnreadCount)
	require.Equal(t, int64(1_700_000_000_000), convs[0].LastMessageTime.UnixMilli())

	require.Equal(t, model.Group, convs[1].Type)
	require.Equal(t, 0, convs[1].UnreadCount)
	require.Equal(t, "c2", convs[1].DisplayName)
	require.Equal(t, 2024, convs[1].LastMessageTime.Year())
}

func TestDecodeRejectsNonArray(t *testing.T) {
	_, _, err := DecodeConversations("x", `{"id":"c1"}`, time.Now())
	require.Error(t, err)
	_, _, err = DecodeMessages("x", "c1", `<html>`, time.Now())
	require.Error(t, err)

	convs, _, err := DecodeConversations("x", "null", time.Now())
	require.NoError(t, err)
	require.Empty(t, convs)
}

func TestDecodeMessages(t *testing.T) {
	now := time.UnixMilli(5000)
	raw := `[
		{"id":"m1","text":"hi","outgoing":true,"type":"sticker"},
		{"id":"m2","text":"yo","status":"read","time":"1700000000123"},
		{"id":"m3","keyId":"k1","ciphertext":"AAEC","iv":"AwQ="},
		{"id":"m4","ciphertext":"%%%"}
	]`
	msgs, skipped, err := DecodeMessages("enterchat", "c1", raw, now)
	require.NoError(t, err)
	require.Equal(t, 1, skipped)
	require.Len(t, msgs, 3)

	require.Equal(t, model.Outgoing, msgs[0].Direction)
	require.Equal(t, model.Sent, msgs[0].Status)
	require.Equal(t, model.Image, msgs[0].ContentType)
	require.True(t, msgs[0].Timestamp.Equal(now))

	require.Equal(t, model.Incoming, msgs[1].Direction)
	require.Equal(t, model.Read, msgs[1].Status)
	require.Equal(t, int64(1700000000123), msgs[1].Timestamp.UnixMilli())

	require.NotNil(t, msgs[2].Envelope)
	require.Equal(t, []byte{0, 1, 2}, msgs[2].Envelope.Ciphertext)
	require.Equal(t, "k1", msgs[2].EncryptionKeyID)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	var km KeyedMutex
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("whatsapp")
			defer unlock()
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside.Load())

	// A different key is not blocked by a held one.
	unlock := km.Lock("telegram")
	done := make(chan struct{})
	go func() {
		km.Lock("discord")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key blocked")
	}
	unlock()
}
