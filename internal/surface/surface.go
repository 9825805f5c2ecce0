// Package surface defines how the bridge drives a chat app and the uniform
// best-effort policy applied to every automation call.
package surface

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/registry"
	"go.uber.org/zap"
)

// Driver is one automation mechanism. Drivers report every failure as an
// error; Surface turns those into empty results.
type Driver interface {
	Load(ctx context.Context, app registry.AppConfig) error
	Conversations(ctx context.Context, app registry.AppConfig) ([]model.Conversation, error)
	Open(ctx context.Context, app registry.AppConfig, conversationID string) error
	// Messages opens the conversation and reads it as one step, so nothing
	// can navigate the app away in between.
	Messages(ctx context.Context, app registry.AppConfig, conversationID string, limit int) ([]model.Message, error)
	// Send returns nil only when the send action was dispatched.
	Send(ctx context.Context, app registry.AppConfig, conversationID, text string, attachments []string) error
	Clear(ctx context.Context, app registry.AppConfig) error
	Close() error
}

// Surface wraps a Driver so that automation failures never escape: they are
// logged with the app id and operation name and degrade to false or empty.
type Surface struct {
	driver Driver
	logger *zap.Logger
}

// New wraps driver.
func New(driver Driver, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surface{driver: driver, logger: logger}
}

// Driver returns the wrapped driver.
func (s *Surface) Driver() Driver {
	return s.driver
}

// LoadOrResume makes the app ready for extraction.
func (s *Surface) LoadOrResume(ctx context.Context, app registry.AppConfig) bool {
	return Attempt(s.logger, app.ID, "load", func() error {
		return s.driver.Load(ctx, app)
	})
}

// ScrapeConversations runs the app's conversation extraction.
func (s *Surface) ScrapeConversations(ctx context.Context, app registry.AppConfig) []model.Conversation {
	return Gather(s.logger, app.ID, "scrape_conversations", func() ([]model.Conversation, error) {
		return s.driver.Conversations(ctx, app)
	})
}

// OpenConversation navigates to a conversation.
func (s *Surface) OpenConversation(ctx context.Context, app registry.AppConfig, conversationID string) bool {
	return Attempt(s.logger, app.ID, "open_conversation", func() error {
		return s.driver.Open(ctx, app, conversationID)
	})
}

// ScrapeMessages opens the conversation and extracts its messages. Nothing
// is scraped when the conversation cannot be opened.
func (s *Surface) ScrapeMessages(ctx context.Context, app registry.AppConfig, conversationID string, limit int) []model.Message {
	return Gather(s.logger, app.ID, "scrape_messages", func() ([]model.Message, error) {
		return s.driver.Messages(ctx, app, conversationID, limit)
	})
}

// SendMessage reports whether the send action was dispatched. It does not
// mean the message was delivered.
func (s *Surface) SendMessage(ctx context.Context, app registry.AppConfig, conversationID, text string, attachments []string) bool {
	return Attempt(s.logger, app.ID, "send_message", func() error {
		return s.driver.Send(ctx, app, conversationID, text, attachments)
	})
}

// ClearSession tears down cached state for the app.
func (s *Surface) ClearSession(ctx context.Context, app registry.AppConfig) bool {
	return Attempt(s.logger, app.ID, "clear_session", func() error {
		return s.driver.Clear(ctx, app)
	})
}

// Close releases the driver.
func (s *Surface) Close() {
	Attempt(s.logger, "", "close", s.driver.Close)
}

// Attempt runs fn, recovering panics, and reports whether it succeeded.
// Failures are logged, never returned.
func Attempt(logger *zap.Logger, appID, op string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("automation panic",
				zap.String("app", appID),
				zap.String("op", op),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			ok = false
		}
	}()
	if err := fn(); err != nil {
		logger.Warn("automation failed", zap.String("app", appID), zap.String("op", op), zap.Error(err))
		return false
	}
	return true
}

// Gather runs fn like Attempt and returns its items, or nil on failure.
func Gather[T any](logger *zap.Logger, appID, op string, fn func() ([]T, error)) []T {
	var out []T
	Attempt(logger, appID, op, func() error {
		items, err := fn()
		if err != nil {
			return err
		}
		out = items
		return nil
	})
	return out
}

// Unsupported is returned by drivers for operations their mechanism lacks.
func Unsupported(app registry.AppConfig, op string) error {
	return fmt.Errorf("%s: %s is not supported for %s apps", app.ID, op, app.Kind)
}
