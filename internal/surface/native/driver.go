package native

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/registry"
	"github.com/matheus3301/enterchat/internal/surface"
	"go.uber.org/zap"
)

var (
	ErrDisabled  = errors.New("accessibility service is disabled")
	ErrNotOpened = errors.New("app could not be foregrounded")
	ErrNotSent   = errors.New("send was not dispatched")
	errNoPackage = errors.New("app has no package name")
)

// Driver implements surface.Driver over a Capability. The capability is one
// shared OS resource, so every call holds a single mutex regardless of app.
type Driver struct {
	cap    Capability
	limit  int
	logger *zap.Logger

	mu         sync.Mutex
	foreground string
}

var _ surface.Driver = (*Driver)(nil)

// NewDriver creates a native driver. limit bounds list calls.
func NewDriver(c Capability, limit int, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 50
	}
	return &Driver{cap: c, limit: limit, logger: logger}
}

// Capability returns the underlying capability.
func (d *Driver) Capability() Capability {
	return d.cap
}

// Load confirms the capability is enabled and brings the app forward.
func (d *Driver) Load(ctx context.Context, app registry.AppConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	enabled, err := d.cap.IsEnabled(ctx)
	if err != nil {
		return fmt.Errorf("check accessibility: %w", err)
	}
	if !enabled {
		return ErrDisabled
	}
	return d.foregroundLocked(ctx, app)
}

func (d *Driver) foregroundLocked(ctx context.Context, app registry.AppConfig) error {
	if app.PackageName == "" {
		return errNoPackage
	}
	ok, err := d.cap.OpenApp(ctx, app.PackageName)
	if err != nil {
		return fmt.Errorf("open %s: %w", app.PackageName, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", app.PackageName, ErrNotOpened)
	}
	d.foreground = app.PackageName
	return nil
}

func (d *Driver) Conversations(ctx context.Context, app registry.AppConfig) ([]model.Conversation, error) {
	d.mu.Lock()
	raw, err := d.cap.ListConversations(ctx, app.ID, NodesOf(app), d.limit)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	convs, skipped, err := surface.DecodeConversations(app.ID, string(raw), time.Now())
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		d.logger.Warn("skipped malformed conversations", zap.String("app", app.ID), zap.Int("skipped", skipped))
	}
	return convs, nil
}

// Open makes sure the app is in the foreground. The companion addresses
// conversations by id, so no further navigation is needed.
func (d *Driver) Open(ctx context.Context, app registry.AppConfig, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.foreground == app.PackageName {
		return nil
	}
	return d.foregroundLocked(ctx, app)
}

func (d *Driver) Messages(ctx context.Context, app registry.AppConfig, conversationID string, limit int) ([]model.Message, error) {
	lister, ok := d.cap.(MessageLister)
	if !ok {
		return nil, surface.Unsupported(app, "message listing")
	}
	if limit <= 0 {
		limit = d.limit
	}
	raw, err := d.listMessages(ctx, lister, app, conversationID, limit)
	if err != nil {
		return nil, err
	}
	msgs, skipped, err := surface.DecodeMessages(app.ID, conversationID, string(raw), time.Now())
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		d.logger.Warn("skipped malformed messages",
			zap.String("app", app.ID), zap.String("conversation", conversationID), zap.Int("skipped", skipped))
	}
	return msgs, nil
}

func (d *Driver) listMessages(ctx context.Context, lister MessageLister, app registry.AppConfig, conversationID string, limit int) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.foreground != app.PackageName {
		if err := d.foregroundLocked(ctx, app); err != nil {
			return nil, err
		}
	}
	return lister.ListMessages(ctx, app.ID, conversationID, NodesOf(app), limit)
}

// Send opens the app if another one is in front, then asks the capability
// to send.
func (d *Driver) Send(ctx context.Context, app registry.AppConfig, conversationID, text string, attachments []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.foreground != app.PackageName {
		if err := d.foregroundLocked(ctx, app); err != nil {
			return err
		}
	}
	if !app.Capabilities.SupportsFiles {
		attachments = nil
	}
	ok, err := d.cap.SendMessage(ctx, app.ID, conversationID, NodesOf(app), text, attachments)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotSent
	}
	return nil
}

// Clear forgets the foreground app. Native apps keep no state here beyond
// what the session manager stores.
func (d *Driver) Clear(_ context.Context, app registry.AppConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.foreground == app.PackageName {
		d.foreground = ""
	}
	return nil
}

func (d *Driver) Close() error { return nil }

// RequestPermissions asks for each one-time permission and returns the
// denied ones.
func (d *Driver) RequestPermissions(ctx context.Context) map[Permission]error {
	d.mu.Lock()
	defer d.mu.Unlock()
	denied := make(map[Permission]error)
	for _, p := range Permissions {
		if err := d.cap.RequestPermission(ctx, p); err != nil {
			denied[p] = err
		}
	}
	return denied
}

// InstalledApps lists the device apps when the capability supports it.
func (d *Driver) InstalledApps(ctx context.Context) ([]InstalledApp, error) {
	lister, ok := d.cap.(AppLister)
	if !ok {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return lister.InstalledApps(ctx)
}
