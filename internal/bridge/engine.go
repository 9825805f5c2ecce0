// Package bridge is the orchestrator that drives every connected chat app
// through its automation surface and streams the normalized results.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/e2e"
	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/registry"
	"github.com/matheus3301/enterchat/internal/status"
	"github.com/matheus3301/enterchat/internal/surface"
	"github.com/matheus3301/enterchat/internal/surface/native"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrNotReady       = errors.New("bridge engine is not ready")
	ErrAppNotFound    = errors.New("app not found")
	ErrInvalidProfile = errors.New("invalid automation profile")
)

// Options tunes synchronization.
type Options struct {
	// Interval between background syncs. Zero disables the scheduler.
	Interval time.Duration
	// Messages enables message scraping for discovered conversations.
	Messages bool
	// MessageLimit caps messages scraped per conversation.
	MessageLimit int
	// MessageConversations caps how many conversations per app get their
	// messages scraped in one sync, most recent first.
	MessageConversations int
	// MaxParallelWeb bounds concurrent web app syncs.
	MaxParallelWeb int
}

func (o *Options) setDefaults() {
	if o.MessageLimit <= 0 {
		o.MessageLimit = 50
	}
	if o.MessageConversations <= 0 {
		o.MessageConversations = 20
	}
	if o.MaxParallelWeb <= 0 {
		o.MaxParallelWeb = 4
	}
}

// Deps are the collaborators the engine coordinates.
type Deps struct {
	Registry *registry.Registry
	Bus      *bus.Bus
	// Surfaces maps each app kind to the surface that drives it.
	Surfaces map[registry.Kind]*surface.Surface
	// Cipher opens sealed messages. Optional.
	Cipher *e2e.Cipher
}

type permissionRequester interface {
	RequestPermissions(ctx context.Context) map[native.Permission]error
}

type appLister interface {
	InstalledApps(ctx context.Context) ([]native.InstalledApp, error)
}

// Engine is the single entry point for syncing and sending across apps.
type Engine struct {
	opts     Options
	registry *registry.Registry
	bus      *bus.Bus
	surfaces map[registry.Kind]*surface.Surface
	cipher   *e2e.Cipher
	machine  *status.Machine
	logger   *zap.Logger

	initMu sync.Mutex
	cron   *cron.Cron
	tick   cron.Job
	runCtx context.Context
	cancel context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup

	knownMu sync.RWMutex
	known   map[string][]model.Conversation
}

// New creates an engine in the Uninitialized state.
func New(deps Deps, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()
	return &Engine{
		opts:     opts,
		registry: deps.Registry,
		bus:      deps.Bus,
		surfaces: deps.Surfaces,
		cipher:   deps.Cipher,
		machine:  status.NewMachine(deps.Bus),
		logger:   logger,
		known:    make(map[string][]model.Conversation),
	}
}

// State returns the engine lifecycle state.
func (e *Engine) State() status.State {
	return e.machine.Current()
}

// Registry returns the app registry the engine dispatches through.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Conversations subscribes to the conversation stream.
func (e *Engine) Conversations(buf int) (<-chan bus.Event, func()) {
	return e.bus.Subscribe("conversation.", buf)
}

// Messages subscribes to the message stream.
func (e *Engine) Messages(buf int) (<-chan bus.Event, func()) {
	return e.bus.Subscribe("message.", buf)
}

// Initialize brings the engine to Ready. Calling it again once Ready is a
// no-op. Probing installed apps and requesting permissions are best effort.
func (e *Engine) Initialize(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if e.machine.Is(status.Ready) {
		return nil
	}
	if err := e.machine.Transition(status.Initializing); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if err := e.registry.Initialize(); err != nil {
		_ = e.machine.Transition(status.Uninitialized)
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	if s := e.surfaces[registry.KindNative]; s != nil {
		e.detectInstalledApps(ctx, s.Driver())
		e.requestPermissions(ctx, s.Driver())
	}

	e.runCtx, e.cancel = context.WithCancel(context.Background())
	e.startForwarder()
	e.startScheduler()

	if err := e.machine.Transition(status.Ready); err != nil {
		return err
	}
	e.logger.Info("bridge engine ready",
		zap.Int("apps", len(e.registry.GetAllApps())),
		zap.Int("active", len(e.registry.GetActiveApps())),
		zap.Duration("interval", e.opts.Interval))
	return nil
}

func (e *Engine) detectInstalledApps(ctx context.Context, d surface.Driver) {
	lister, ok := d.(appLister)
	if !ok {
		return
	}
	apps, err := lister.InstalledApps(ctx)
	if err != nil {
		e.logger.Warn("installed app check failed", zap.Error(err))
		return
	}
	for _, a := range apps {
		if !a.Installed {
			e.logger.Info("app not installed", zap.String("app", a.ID), zap.String("package", a.PackageName))
		}
	}
}

func (e *Engine) requestPermissions(ctx context.Context, d surface.Driver) {
	req, ok := d.(permissionRequester)
	if !ok {
		return
	}
	for perm, err := range req.RequestPermissions(ctx) {
		e.logger.Warn("permission denied", zap.String("permission", string(perm)), zap.Error(err))
	}
}

// startScheduler runs SyncAll on the configured interval. A tick that fires
// while the previous one is still running is skipped.
func (e *Engine) startScheduler() {
	clog := cronLogger{logger: e.logger.Named("cron"), onSkip: func() {
		e.bus.Publish(bus.NewEvent(bus.SyncSkipped, "", nil))
	}}
	e.cron = cron.New(cron.WithLogger(clog))
	e.tick = cron.NewChain(cron.SkipIfStillRunning(clog)).Then(cron.FuncJob(e.runTick))
	if e.opts.Interval <= 0 {
		return
	}
	e.cron.Schedule(cron.Every(e.opts.Interval), e.tick)
	e.cron.Start()
}

func (e *Engine) runTick() {
	if _, err := e.SyncAll(e.runCtx); err != nil {
		e.logger.Warn("background sync skipped", zap.Error(err))
	}
}

// startForwarder re-emits protocol push traffic for active apps.
func (e *Engine) startForwarder() {
	ch, unsub := e.bus.Subscribe("wa.", 256)
	e.unsub = unsub
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.runCtx.Done():
				return
			case evt := <-ch:
				e.forward(evt)
			}
		}
	}()
}

func (e *Engine) forward(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case model.Message:
		e.emitMessage(p)
	case model.StatusUpdate:
		if e.registry.IsActive(p.AppID) {
			e.bus.Publish(bus.NewEvent(bus.MessageStatus, p.AppID, p))
		}
	}
}

// ConnectApp loads the app's surface, leaving any login to the user, and
// marks it active.
func (e *Engine) ConnectApp(ctx context.Context, appID string) error {
	app, s, err := e.resolve(appID)
	if err != nil {
		return err
	}
	loaded := s.LoadOrResume(ctx, app)
	e.registry.MarkAppAsActive(appID)
	e.bus.Publish(bus.NewEvent(bus.AppConnected, appID, loaded))
	e.logger.Info("app connected", zap.String("app", appID), zap.Bool("loaded", loaded))
	return nil
}

// DisconnectApp marks the app inactive and clears web sessions. Unknown ids
// are ignored.
func (e *Engine) DisconnectApp(ctx context.Context, appID string) error {
	if !e.machine.Is(status.Ready) {
		return ErrNotReady
	}
	app, ok := e.registry.GetApp(appID)
	if !ok {
		return nil
	}
	e.registry.MarkAppAsInactive(appID)
	if app.Kind == registry.KindWebview {
		if s := e.surfaces[app.Kind]; s != nil {
			s.ClearSession(ctx, app)
		}
	}
	e.knownMu.Lock()
	delete(e.known, appID)
	e.knownMu.Unlock()
	e.bus.Publish(bus.NewEvent(bus.AppDisconnected, appID, nil))
	e.logger.Info("app disconnected", zap.String("app", appID))
	return nil
}

// KnownConversations returns the conversations found by the last sync of
// appID.
func (e *Engine) KnownConversations(appID string) []model.Conversation {
	e.knownMu.RLock()
	defer e.knownMu.RUnlock()
	out := make([]model.Conversation, 0, len(e.known[appID]))
	for _, c := range e.known[appID] {
		out = append(out, c.Clone())
	}
	return out
}

// Stop halts the scheduler, waiting for a running sync until ctx ends, and
// closes every surface.
func (e *Engine) Stop(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	switch e.machine.Current() {
	case status.Stopped:
		return nil
	case status.Uninitialized:
		return e.machine.Transition(status.Stopped)
	}
	if err := e.machine.Transition(status.Stopping); err != nil {
		return err
	}

	done := e.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		e.logger.Warn("sync still running at shutdown, cancelling")
	}
	e.cancel()
	<-done.Done()
	e.unsub()
	e.wg.Wait()

	for _, s := range e.surfaces {
		s.Close()
	}
	return e.machine.Transition(status.Stopped)
}

// resolve checks readiness and finds the app and its surface.
func (e *Engine) resolve(appID string) (registry.AppConfig, *surface.Surface, error) {
	if !e.machine.Is(status.Ready) {
		return registry.AppConfig{}, nil, ErrNotReady
	}
	app, ok := e.registry.GetApp(appID)
	if !ok {
		return registry.AppConfig{}, nil, fmt.Errorf("%w: %s", ErrAppNotFound, appID)
	}
	s := e.surfaces[app.Kind]
	if s == nil {
		return registry.AppConfig{}, nil, fmt.Errorf("%w: no surface for %s apps", ErrInvalidProfile, app.Kind)
	}
	return app, s, nil
}
