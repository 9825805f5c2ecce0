package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/model"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// ErrConversationNotFound is returned when no known conversation matches a
// contact name.
var ErrConversationNotFound = errors.New("conversation not found")

// SendMessage dispatches text through the app's surface. It returns the
// surface's result unchanged and never retries. An outgoing message is
// emitted only when the send was dispatched.
func (e *Engine) SendMessage(ctx context.Context, appID, conversationID, text string, attachments []string) (bool, error) {
	return e.SendWithID(ctx, ulid.Make().String(), appID, conversationID, text, attachments)
}

// SendWithID is SendMessage with a caller chosen message id, so a queued
// message and its sent copy share one identity.
func (e *Engine) SendWithID(ctx context.Context, messageID, appID, conversationID, text string, attachments []string) (bool, error) {
	app, s, err := e.resolve(appID)
	if err != nil {
		return false, err
	}
	if !s.SendMessage(ctx, app, conversationID, text, attachments) {
		return false, nil
	}

	msg := model.Message{
		MessageID:            messageID,
		SourceAppID:          appID,
		SourceConversationID: conversationID,
		Direction:            model.Outgoing,
		ContentType:          model.Text,
		Content:              text,
		AttachmentURLs:       attachments,
		Timestamp:            time.Now(),
		Status:               model.Sent,
	}
	if text == "" && len(attachments) > 0 {
		msg.ContentType = model.File
	}
	e.bus.Publish(bus.NewEvent(bus.MessageSent, appID, msg))
	return true, nil
}

// SendToContact sends to the first known conversation whose display name
// contains name, ignoring case. Known conversations come from the last sync.
func (e *Engine) SendToContact(ctx context.Context, appID, name, text string) (bool, error) {
	if _, _, err := e.resolve(appID); err != nil {
		return false, err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return false, fmt.Errorf("%w: empty name", ErrConversationNotFound)
	}
	for _, c := range e.KnownConversations(appID) {
		if strings.Contains(strings.ToLower(c.DisplayName), needle) {
			return e.SendMessage(ctx, appID, c.ConversationID, text, nil)
		}
	}
	return false, fmt.Errorf("%w: %q in %s", ErrConversationNotFound, name, appID)
}

// BulkResult lists which conversations a bulk send reached.
type BulkResult struct {
	Sent   []string `json:"sent"`
	Failed []string `json:"failed"`
}

// BulkSend sends the same text to several conversations, one after the
// other. A failed send does not stop the rest.
func (e *Engine) BulkSend(ctx context.Context, appID string, conversationIDs []string, text string) (BulkResult, error) {
	if _, _, err := e.resolve(appID); err != nil {
		return BulkResult{}, err
	}
	var res BulkResult
	for _, id := range conversationIDs {
		if ctx.Err() != nil {
			res.Failed = append(res.Failed, id)
			continue
		}
		ok, err := e.SendMessage(ctx, appID, id, text, nil)
		if err != nil || !ok {
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Sent = append(res.Sent, id)
	}
	e.logger.Info("bulk send",
		zap.String("app", appID), zap.Int("sent", len(res.Sent)), zap.Int("failed", len(res.Failed)))
	return res, nil
}
