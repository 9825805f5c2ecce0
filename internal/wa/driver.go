package wa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/registry"
	"github.com/matheus3301/enterchat/internal/session"
	"github.com/matheus3301/enterchat/internal/status"
	"github.com/matheus3301/enterchat/internal/surface"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
)

var (
	ErrPairingRequired = errors.New("linked device is not paired")
	ErrNotConnected    = errors.New("linked device is not connected")
	ErrNotLoaded       = errors.New("app not loaded")
	ErrUnknownChat     = errors.New("unknown chat")
)

// Options configures the protocol driver.
type Options struct {
	// DBPath returns the device store path for an app.
	DBPath func(appID string) string
	// NewClient overrides how clients are created. Defaults to NewAdapter.
	NewClient func(ctx context.Context, appID, dbPath string) (Client, error)
	// Keep is the number of messages cached per chat.
	Keep int
}

// linkedDevice is the session record kept for a paired app.
type linkedDevice struct {
	Phone    string    `json:"phone"`
	LinkedAt time.Time `json:"linked_at"`
}

type link struct {
	client  Client
	inbox   *Inbox
	machine *status.Machine
	pairing atomic.Bool
}

// Driver implements surface.Driver for apps reached through a linked-device
// protocol connection.
type Driver struct {
	opts     Options
	bus      *bus.Bus
	sessions *session.Manager
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	links map[string]*link
}

var _ surface.Driver = (*Driver)(nil)

// NewDriver creates a protocol driver.
func NewDriver(opts Options, b *bus.Bus, sessions *session.Manager, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NewClient == nil {
		opts.NewClient = func(ctx context.Context, _, dbPath string) (Client, error) {
			return NewAdapter(ctx, dbPath, logger)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		opts:     opts,
		bus:      b,
		sessions: sessions,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		links:    make(map[string]*link),
	}
}

// Load connects the linked device. An unpaired device starts QR pairing in
// the background and reports ErrPairingRequired; codes are published on the
// bus.
func (d *Driver) Load(ctx context.Context, app registry.AppConfig) error {
	l, err := d.open(ctx, app.ID)
	if err != nil {
		return err
	}

	if !l.client.IsLoggedIn() {
		_ = l.machine.Transition(status.LinkAuthRequired)
		if l.pairing.CompareAndSwap(false, true) {
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.pair(d.ctx, app.ID, l)
			}()
		}
		return ErrPairingRequired
	}
	if l.client.IsConnected() {
		return nil
	}

	_ = l.machine.Transition(status.LinkConnecting)
	if err := l.client.Connect(); err != nil {
		_ = l.machine.Transition(status.LinkReconnecting)
		return fmt.Errorf("connect %s: %w", app.ID, err)
	}
	d.remember(app.ID, l)
	return nil
}

// Conversations returns the chats seen by the linked device.
func (d *Driver) Conversations(_ context.Context, app registry.AppConfig) ([]model.Conversation, error) {
	l, err := d.paired(app.ID)
	if err != nil {
		return nil, err
	}
	return l.inbox.Conversations(), nil
}

// Open checks that the chat exists. There is nothing to navigate.
func (d *Driver) Open(_ context.Context, app registry.AppConfig, conversationID string) error {
	l, err := d.paired(app.ID)
	if err != nil {
		return err
	}
	if l.inbox.Has(conversationID) {
		return nil
	}
	if _, err := types.ParseJID(conversationID); err != nil || conversationID == "" {
		return fmt.Errorf("%w: %s", ErrUnknownChat, conversationID)
	}
	return nil
}

// Messages returns the cached messages of a chat.
func (d *Driver) Messages(ctx context.Context, app registry.AppConfig, conversationID string, limit int) ([]model.Message, error) {
	if err := d.Open(ctx, app, conversationID); err != nil {
		return nil, err
	}
	l, err := d.paired(app.ID)
	if err != nil {
		return nil, err
	}
	return l.inbox.Messages(conversationID, limit), nil
}

// Send sends a text message. Attachments are not supported over the link
// and are dropped.
func (d *Driver) Send(ctx context.Context, app registry.AppConfig, conversationID, text string, attachments []string) error {
	l, err := d.paired(app.ID)
	if err != nil {
		return err
	}
	if !l.client.IsConnected() {
		return ErrNotConnected
	}
	if len(attachments) > 0 {
		d.logger.Warn("dropping attachments", zap.String("app", app.ID), zap.Int("count", len(attachments)))
	}
	id, err := l.client.SendText(ctx, NormalizeJID(conversationID), text)
	if err != nil {
		return err
	}
	d.logger.Debug("message sent", zap.String("app", app.ID), zap.String("id", id))
	return nil
}

// Clear unlinks the device, drops the cache and forgets the session.
func (d *Driver) Clear(ctx context.Context, app registry.AppConfig) error {
	d.mu.Lock()
	l, ok := d.links[app.ID]
	delete(d.links, app.ID)
	d.mu.Unlock()

	var errs []error
	if ok {
		if l.client.IsLoggedIn() {
			errs = append(errs, l.client.Logout(ctx))
		}
		l.client.Disconnect()
		l.inbox.Reset()
		_ = l.machine.Transition(status.LinkIdle)
	}
	if d.sessions != nil {
		errs = append(errs, d.sessions.ClearSession(app.ID))
	}
	return errors.Join(errs...)
}

// Close disconnects every link and waits for pairing flows to end.
func (d *Driver) Close() error {
	d.cancel()
	d.mu.Lock()
	for _, l := range d.links {
		l.client.Disconnect()
	}
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

// LinkState returns the connection state of an app, or LinkIdle if it was
// never loaded.
func (d *Driver) LinkState(appID string) status.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.links[appID]; ok {
		return l.machine.Current()
	}
	return status.LinkIdle
}

func (d *Driver) open(ctx context.Context, appID string) (*link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.links[appID]; ok {
		return l, nil
	}
	if d.opts.DBPath == nil {
		return nil, errors.New("no device store path configured")
	}

	client, err := d.opts.NewClient(ctx, appID, d.opts.DBPath(appID))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", appID, err)
	}
	l := &link{
		client:  client,
		inbox:   NewInbox(appID, d.opts.Keep),
		machine: status.NewLinkMachine(d.bus, appID),
	}
	handler := NewEventHandler(appID, d.bus, l.machine, l.inbox, client, d.logger)
	client.AddEventHandler(handler.Handle)
	d.links[appID] = l
	return l, nil
}

func (d *Driver) paired(appID string) (*link, error) {
	d.mu.Lock()
	l, ok := d.links[appID]
	d.mu.Unlock()
	if !ok {
		return nil, ErrNotLoaded
	}
	if !l.client.IsLoggedIn() {
		return nil, ErrPairingRequired
	}
	return l, nil
}

// remember stores linked-device metadata and seeds chat names from the
// device's contact list.
func (d *Driver) remember(appID string, l *link) {
	for jid, name := range l.client.Contacts(d.ctx) {
		l.inbox.SetName(jid, name)
	}
	if d.sessions == nil {
		return
	}
	rec := linkedDevice{Phone: l.client.PhoneNumber(), LinkedAt: time.Now().UTC()}
	if err := d.sessions.SaveSession(appID, rec); err != nil {
		d.logger.Warn("failed to save linked device", zap.String("app", appID), zap.Error(err))
	}
}
