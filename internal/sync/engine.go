package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"

	"github.com/matheus3301/enterchat/internal/bridge"
	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/store"
	"go.uber.org/zap"
)

// Engine persists everything the bridge emits. It subscribes to the
// conversation, message and sync namespaces on the bus and never calls the
// bridge directly.
type Engine struct {
	db         *store.DB
	bus        *bus.Bus
	reconciler *Reconciler
	watchers   *watchers
	logger     *zap.Logger
	cancel     context.CancelFunc
	wg         stdsync.WaitGroup
}

// NewEngine creates a new ingestion engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:         db,
		bus:        b,
		reconciler: NewReconciler(db, logger),
		watchers:   newWatchers(),
		logger:     logger,
	}
}

// Reconciler returns the checkpoint keeper.
func (e *Engine) Reconciler() *Reconciler {
	return e.reconciler
}

// Start subscribes to bridge output on the bus. Events are persisted in the
// order they were published and none are dropped, however far the store
// falls behind.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	events, unsub := e.bus.SubscribeQueue("conversation.", "message.", "sync.")

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		<-ctx.Done()
		unsub()
	}()
	go func() {
		defer e.wg.Done()
		for evt := range events {
			e.handleEvent(evt)
		}
	}()
}

// Stop stops the engine. Events published before Stop are still persisted.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.watchers.closeAll()
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case model.Conversation:
		if err := e.IngestConversation(p); err != nil {
			e.logger.Error("failed to ingest conversation", zap.Error(err),
				zap.String("app", p.SourceAppID), zap.String("conversation", p.ConversationID))
		}
	case model.Message:
		if err := e.IngestMessage(p); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err),
				zap.String("app", p.SourceAppID), zap.String("message", p.MessageID))
		}
	case model.StatusUpdate:
		if err := e.ApplyStatus(p); err != nil {
			e.logger.Error("failed to apply status", zap.Error(err), zap.String("app", p.AppID))
		}
	case bridge.AppResult:
		if evt.Kind != bus.SyncAppCompleted || !p.OK {
			return
		}
		if err := e.reconciler.RecordSync(p.AppID, evt.Timestamp); err != nil {
			e.logger.Warn("failed to record sync checkpoint", zap.Error(err), zap.String("app", p.AppID))
		}
	}
}

// IngestConversation merges c into the store and announces the stored
// version.
func (e *Engine) IngestConversation(c model.Conversation) error {
	if err := e.db.SaveConversation(&c); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	saved, err := e.db.GetConversation(c.Key())
	if err != nil {
		return fmt.Errorf("reload conversation: %w", err)
	}
	if saved == nil {
		return nil
	}
	e.bus.Publish(bus.NewEvent(bus.StoreConversationSaved, saved.SourceAppID, *saved))
	e.watchers.notify(Change{Kind: ChangeConversation, Conversation: saved})
	return nil
}

// IngestMessage stores m (idempotent). Nothing is announced when the message
// was already stored with the same or a later status.
func (e *Engine) IngestMessage(m model.Message) error {
	changed, err := e.db.SaveMessage(&m)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if !changed {
		return nil
	}
	e.bus.Publish(bus.NewEvent(bus.StoreMessageSaved, m.SourceAppID, m))
	e.watchers.notify(Change{Kind: ChangeMessage, Message: &m})
	return nil
}

// ApplyStatus advances the status of stored messages. Unknown ids are
// ignored; receipts may arrive for messages that were never synced.
func (e *Engine) ApplyStatus(up model.StatusUpdate) error {
	key := model.ConversationKey{AppID: up.AppID, ConversationID: up.ConversationID}
	for _, id := range up.MessageIDs {
		changed, err := e.db.UpdateMessageStatus(key, id, up.Status)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update status of %s: %w", id, err)
		}
		if changed {
			e.watchers.notify(Change{Kind: ChangeStatus, Status: &model.StatusUpdate{
				AppID: up.AppID, ConversationID: up.ConversationID, MessageIDs: []string{id}, Status: up.Status,
			}})
		}
	}
	return nil
}

// Watch streams stored changes matching filter. The returned function
// stops the stream and closes the channel.
func (e *Engine) Watch(filter Filter, buf int) (<-chan Change, func()) {
	return e.watchers.add(filter, buf)
}

// Refresh announces the stored version of a conversation changed outside
// the event flow, such as a local mark-read or archive.
func (e *Engine) Refresh(key model.ConversationKey) error {
	saved, err := e.db.GetConversation(key)
	if err != nil {
		return fmt.Errorf("reload conversation: %w", err)
	}
	if saved == nil {
		return store.ErrNotFound
	}
	e.bus.Publish(bus.NewEvent(bus.StoreConversationSaved, saved.SourceAppID, *saved))
	e.watchers.notify(Change{Kind: ChangeConversation, Conversation: saved})
	return nil
}

// Removed announces a conversation deleted outside the event flow.
func (e *Engine) Removed(key model.ConversationKey) {
	e.bus.Publish(bus.NewEvent(bus.StoreConversationGone, key.AppID, key))
	e.watchers.notify(Change{Kind: ChangeDeleted, Key: key})
}
