package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/store"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const pollInterval = 500 * time.Millisecond

// ErrEmptyMessage is returned when a message has neither text nor
// attachments.
var ErrEmptyMessage = errors.New("message has no text and no attachments")

// Dispatcher sends one message through an app surface.
type Dispatcher interface {
	SendWithID(ctx context.Context, messageID, appID, conversationID, text string, attachments []string) (bool, error)
}

// Ingester stores messages and announces the change to watchers.
type Ingester interface {
	IngestMessage(m model.Message) error
}

// Sender drains the outbox. Each queued entry is written to the store as a
// pending outgoing message, dispatched once, and settled as sent or failed.
// Failed sends are not retried.
type Sender struct {
	db       *store.DB
	send     Dispatcher
	ingest   Ingester
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	wake     chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSender creates an outbox sender.
func NewSender(db *store.DB, send Dispatcher, ingest Ingester, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		send:     send,
		ingest:   ingest,
		bus:      b,
		logger:   logger,
		interval: pollInterval,
		wake:     make(chan struct{}, 1),
	}
}

// Queue adds a message to the outbox and returns its client id, which is
// also the id of the stored message.
func (s *Sender) Queue(appID, conversationID, text string, attachments []string) (string, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return "", ErrEmptyMessage
	}
	id := ulid.Make().String()
	if err := s.db.QueueOutbox(store.OutboxEntry{
		ClientMsgID:    id,
		AppID:          appID,
		ConversationID: conversationID,
		Body:           text,
		Attachments:    attachments,
	}); err != nil {
		return "", fmt.Errorf("queue message: %w", err)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return id, nil
}

// Start begins polling the outbox.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-s.wake:
			}
			s.processPending(ctx)
		}
	}()
}

// Stop stops the sender and waits for an in-flight send to settle.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sender) processPending(ctx context.Context) {
	entries, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		s.process(ctx, e)
	}
}

func (s *Sender) process(ctx context.Context, e store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(e.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_id", e.ClientMsgID))
		return
	}

	msg := model.Message{
		MessageID:            e.ClientMsgID,
		SourceAppID:          e.AppID,
		SourceConversationID: e.ConversationID,
		Direction:            model.Outgoing,
		ContentType:          model.Text,
		Content:              e.Body,
		AttachmentURLs:       e.Attachments,
		Timestamp:            time.Now(),
		Status:               model.Pending,
	}
	if e.Body == "" && len(e.Attachments) > 0 {
		msg.ContentType = model.File
	}
	if err := s.ingest.IngestMessage(msg); err != nil {
		s.logger.Warn("failed to store pending message", zap.Error(err), zap.String("client_id", e.ClientMsgID))
	}

	ok, err := s.send.SendWithID(ctx, e.ClientMsgID, e.AppID, e.ConversationID, e.Body, e.Attachments)
	if err == nil && !ok {
		err = errors.New("surface did not dispatch the message")
	}
	if err != nil {
		s.fail(e, msg, err)
		return
	}

	if err := s.db.MarkOutboxSent(e.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_id", e.ClientMsgID))
	}
	msg.Status = model.Sent
	if err := s.ingest.IngestMessage(msg); err != nil {
		s.logger.Warn("failed to store sent message", zap.Error(err), zap.String("client_id", e.ClientMsgID))
	}
	s.logger.Debug("outbox entry sent", zap.String("client_id", e.ClientMsgID), zap.String("app", e.AppID))
}

func (s *Sender) fail(e store.OutboxEntry, msg model.Message, cause error) {
	s.logger.Warn("send failed", zap.Error(cause),
		zap.String("client_id", e.ClientMsgID), zap.String("app", e.AppID))
	if err := s.db.MarkOutboxFailed(e.ClientMsgID, cause.Error()); err != nil {
		s.logger.Error("failed to mark failed", zap.Error(err), zap.String("client_id", e.ClientMsgID))
	}
	msg.Status = model.Failed
	if err := s.ingest.IngestMessage(msg); err != nil {
		s.logger.Warn("failed to store failed message", zap.Error(err), zap.String("client_id", e.ClientMsgID))
	}
	s.bus.Publish(bus.NewEvent(bus.MessageSendFailed, e.AppID, msg))
}
