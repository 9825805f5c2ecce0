package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/enterchat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderQR(t *testing.T) {
	out := renderQR("2@pairing-ref,client-key,identity-key,adv-secret")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Greater(t, len(lines), 10)

	width := len([]rune(lines[0]))
	for i, l := range lines {
		assert.True(t, strings.HasPrefix(l, "  "), "line %d not indented", i)
		assert.Equal(t, width, len([]rune(l)), "line %d has a different width", i)
		for _, r := range l {
			assert.Contains(t, " █▀▄", string(r))
		}
	}
	assert.Contains(t, out, "█")
}

func TestRenderQRTooLong(t *testing.T) {
	out := renderQR(strings.Repeat("x", 8000))
	assert.Contains(t, out, "QR generation failed")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "hello world", preview("hello\n  world", 20))
	assert.Equal(t, "abcd…", preview("abcdefgh", 5))
	assert.Equal(t, "ünï", preview("ünï", 3))
}

func TestAgo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}
	assert.Equal(t, "-", ago(nil, now))
	assert.Equal(t, "now", ago(at(10*time.Second), now))
	assert.Equal(t, "5m", ago(at(5*time.Minute), now))
	assert.Equal(t, "3h", ago(at(3*time.Hour), now))
	assert.Equal(t, "2d", ago(at(50*time.Hour), now))
}

func TestPrintMessagesOldestFirst(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []model.Message{
		{Content: "second", Direction: model.Outgoing, Status: model.Sent, Timestamp: t0.Add(time.Minute)},
		{Content: "first", Direction: model.Incoming, Status: model.Delivered, Timestamp: t0},
		{ContentType: model.Image, AttachmentURLs: []string{"a.png"}, Timestamp: t0.Add(-time.Minute)},
	}
	var buf bytes.Buffer
	printMessages(&buf, msgs)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "a.png")
	assert.Contains(t, lines[1], "< ")
	assert.True(t, strings.HasSuffix(lines[1], "first"))
	assert.Contains(t, lines[2], "> ")
	assert.True(t, strings.HasSuffix(lines[2], "second"))
}

func TestPrintConversationsEmpty(t *testing.T) {
	var buf bytes.Buffer
	printConversations(&buf, nil, time.Now())
	assert.Equal(t, "No conversations.\n", buf.String())
}
