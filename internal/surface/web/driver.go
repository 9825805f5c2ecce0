package web

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/registry"
	"github.com/matheus3301/enterchat/internal/session"
	"github.com/matheus3301/enterchat/internal/surface"
	"go.uber.org/zap"
)

// Options configure the web driver.
type Options struct {
	// NewView creates the view for an app.
	NewView func(appID string) (View, error)
	// UserDataDir returns the browser profile directory for an app.
	UserDataDir func(appID string) string

	Headless     bool
	UserAgent    string
	SettleDelay  time.Duration
	ReadyTimeout time.Duration
	LoadTimeout  time.Duration
	StepTimeout  time.Duration

	Navigators map[string]Navigator
}

type appView struct {
	view     View
	inited   bool
	restored bool
	names    map[string]string // conversation id -> display name
}

// Driver implements surface.Driver for webview apps. It keeps one view per
// app and serializes every operation on the same app.
type Driver struct {
	opts     Options
	sessions *session.Manager
	logger   *zap.Logger
	locks    surface.KeyedMutex

	mu    sync.Mutex
	views map[string]*appView
}

var _ surface.Driver = (*Driver)(nil)

// NewDriver creates a web driver. sessions may be nil.
func NewDriver(opts Options, sessions *session.Manager, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Navigators == nil {
		opts.Navigators = Navigators()
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 10 * time.Second
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 45 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 20 * time.Second
	}
	return &Driver{
		opts:     opts,
		sessions: sessions,
		logger:   logger,
		views:    make(map[string]*appView),
	}
}

func (d *Driver) viewFor(appID string, create bool) (*appView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if av, ok := d.views[appID]; ok {
		return av, nil
	}
	if !create {
		return nil, fmt.Errorf("%s: page not loaded", appID)
	}
	v, err := d.opts.NewView(appID)
	if err != nil {
		return nil, fmt.Errorf("%s: create view: %w", appID, err)
	}
	av := &appView{view: v, names: make(map[string]string)}
	d.views[appID] = av
	return av, nil
}

func (d *Driver) Load(ctx context.Context, app registry.AppConfig) error {
	defer d.locks.Lock(app.ID)()

	av, err := d.viewFor(app.ID, true)
	if err != nil {
		return err
	}
	if err := d.navigate(ctx, av, app); err != nil {
		return err
	}
	p := d.page(av, app)

	if !av.restored {
		av.restored = true
		if n := d.restore(ctx, p, app); n > 0 {
			d.logger.Debug("restored web session", zap.String("app", app.ID), zap.Int("keys", n))
			if err := d.navigate(ctx, av, app); err != nil {
				return err
			}
		}
	}
	if !av.inited && app.Profile.Init != nil {
		if _, err := p.Run(ctx, app.Profile.Init, nil); err != nil {
			return fmt.Errorf("init script: %w", err)
		}
		av.inited = true
	}
	return nil
}

// navigate loads the entry page and waits until it is usable: for the ready
// selector when the profile has one, otherwise for the settle delay.
func (d *Driver) navigate(ctx context.Context, av *appView, app registry.AppConfig) error {
	ua := app.Profile.UserAgent
	if ua == "" {
		ua = d.opts.UserAgent
	}
	settings := Settings{Headless: d.opts.Headless}
	if d.opts.UserDataDir != nil {
		settings.UserDataDir = d.opts.UserDataDir(app.ID)
	}

	loadCtx, cancel := context.WithTimeout(ctx, d.opts.LoadTimeout)
	defer cancel()
	if err := av.view.Load(loadCtx, app.WebEntryURL, ua, settings); err != nil {
		return fmt.Errorf("load %s: %w", app.WebEntryURL, err)
	}

	if sel := app.Profile.ReadySelector; sel != "" {
		readyCtx, cancel := context.WithTimeout(ctx, d.opts.ReadyTimeout)
		defer cancel()
		if err := av.view.WaitReady(readyCtx, sel); err != nil {
			return fmt.Errorf("wait for %q: %w", sel, err)
		}
		return nil
	}
	select {
	case <-time.After(d.opts.SettleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) restore(ctx context.Context, p *page, app registry.AppConfig) int {
	if d.sessions == nil {
		return 0
	}
	var storage map[string]string
	if !d.sessions.LoadSession(app.ID, &storage) || len(storage) == 0 {
		return 0
	}
	out, err := p.Run(ctx, restoreScript, map[string]any{"storage": storage})
	if err != nil {
		d.logger.Warn("restore web session failed", zap.String("app", app.ID), zap.Error(err))
		return 0
	}
	var n int
	_ = json.Unmarshal([]byte(out), &n)
	return n
}

func (d *Driver) snapshot(ctx context.Context, p *page, app registry.AppConfig) {
	if d.sessions == nil {
		return
	}
	out, err := p.Run(ctx, snapshotScript, nil)
	if err != nil {
		d.logger.Debug("web session snapshot failed", zap.String("app", app.ID), zap.Error(err))
		return
	}
	var storage map[string]string
	if err := json.Unmarshal([]byte(out), &storage); err != nil || len(storage) == 0 {
		return
	}
	storage, dropped := fitSnapshot(storage, maxSnapshotBytes)
	if dropped > 0 {
		d.logger.Debug("web session snapshot trimmed", zap.String("app", app.ID), zap.Int("dropped", dropped))
	}
	if len(storage) == 0 {
		return
	}
	if err := d.sessions.SaveSession(app.ID, storage); err != nil {
		d.logger.Warn("save web session failed", zap.String("app", app.ID), zap.Error(err))
	}
}

// maxSnapshotBytes keeps a saved web session inside one OS keyring entry.
// Windows credentials hold 2560 bytes; the rest is left for the envelope.
const maxSnapshotBytes = 2048

// fitSnapshot keeps the smallest entries whose JSON encoding fits in limit
// bytes, and reports how many were dropped. Login tokens are short; the
// large values are caches the page rebuilds.
func fitSnapshot(storage map[string]string, limit int) (map[string]string, int) {
	keys := slices.Collect(maps.Keys(storage))
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(len(a)+len(storage[a]), len(b)+len(storage[b])); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	kept := make(map[string]string, len(keys))
	size := len("{}")
	for _, k := range keys {
		entry, err := json.Marshal(map[string]string{k: storage[k]})
		if err != nil {
			continue
		}
		// Without its braces, plus a separating comma.
		n := len(entry) - 1
		if size+n > limit {
			continue
		}
		kept[k] = storage[k]
		size += n
	}
	return kept, len(storage) - len(kept)
}

func (d *Driver) Conversations(ctx context.Context, app registry.AppConfig) ([]model.Conversation, error) {
	if app.Profile.ScrapeConversations == nil {
		return nil, fmt.Errorf("%s: %w: scrape conversations script", app.ID, registry.ErrMissingField)
	}
	defer d.locks.Lock(app.ID)()

	av, err := d.viewFor(app.ID, false)
	if err != nil {
		return nil, err
	}
	p := d.page(av, app)
	raw, err := p.Run(ctx, app.Profile.ScrapeConversations, nil)
	if err != nil {
		return nil, err
	}
	convs, skipped, err := surface.DecodeConversations(app.ID, raw, time.Now())
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		d.logger.Warn("skipped malformed conversations", zap.String("app", app.ID), zap.Int("skipped", skipped))
	}
	for _, c := range convs {
		av.names[c.ConversationID] = c.DisplayName
	}
	d.snapshot(ctx, p, app)
	return convs, nil
}

func (d *Driver) Open(ctx context.Context, app registry.AppConfig, conversationID string) error {
	defer d.locks.Lock(app.ID)()
	return d.open(ctx, app, conversationID)
}

func (d *Driver) open(ctx context.Context, app registry.AppConfig, conversationID string) error {
	av, err := d.viewFor(app.ID, false)
	if err != nil {
		return err
	}
	nav, ok := d.opts.Navigators[app.ID]
	if !ok {
		nav = DefaultNavigator
	}
	target := Target{ID: conversationID, Name: av.names[conversationID]}
	if err := nav(ctx, d.page(av, app), app, target); err != nil {
		return fmt.Errorf("open %s: %w", conversationID, err)
	}
	return nil
}

func (d *Driver) Messages(ctx context.Context, app registry.AppConfig, conversationID string, limit int) ([]model.Message, error) {
	if app.Profile.ScrapeMessages == nil {
		return nil, surface.Unsupported(app, "message scraping")
	}
	defer d.locks.Lock(app.ID)()

	av, err := d.viewFor(app.ID, false)
	if err != nil {
		return nil, err
	}
	if err := d.open(ctx, app, conversationID); err != nil {
		return nil, err
	}
	raw, err := d.page(av, app).Run(ctx, app.Profile.ScrapeMessages, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	msgs, skipped, err := surface.DecodeMessages(app.ID, conversationID, raw, time.Now())
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		d.logger.Warn("skipped malformed messages",
			zap.String("app", app.ID), zap.String("conversation", conversationID), zap.Int("skipped", skipped))
	}
	return msgs, nil
}

// Send opens the conversation, fills the input, attaches files when the app
// supports them and clicks send. Each step is bounded by the step timeout.
func (d *Driver) Send(ctx context.Context, app registry.AppConfig, conversationID, text string, attachments []string) error {
	defer d.locks.Lock(app.ID)()

	av, err := d.viewFor(app.ID, false)
	if err != nil {
		return err
	}
	if err := d.open(ctx, app, conversationID); err != nil {
		return err
	}
	p := d.page(av, app)

	fill := app.Profile.SendMessage
	if fill == nil {
		fill = fillScript
	}
	if _, err := p.Run(ctx, fill, map[string]any{"text": text}); err != nil {
		return fmt.Errorf("fill input: %w", err)
	}

	if len(attachments) > 0 && app.Capabilities.SupportsFiles && app.Profile.Selector(registry.RoleAttachButton) != "" {
		if _, err := p.Run(ctx, attachScript, nil); err != nil {
			return fmt.Errorf("open attach: %w", err)
		}
		stepCtx, cancel := context.WithTimeout(ctx, d.opts.StepTimeout)
		err := av.view.SetFiles(stepCtx, "input[type='file']", attachments)
		cancel()
		if err != nil {
			return fmt.Errorf("attach files: %w", err)
		}
	}

	if _, err := p.Run(ctx, clickSendScript, nil); err != nil {
		return fmt.Errorf("click send: %w", err)
	}
	return nil
}

// Clear wipes browser cache and cookies, drops the view and forgets the
// stored session.
func (d *Driver) Clear(ctx context.Context, app registry.AppConfig) error {
	defer d.locks.Lock(app.ID)()

	d.mu.Lock()
	av, ok := d.views[app.ID]
	delete(d.views, app.ID)
	d.mu.Unlock()

	var errs []error
	if ok {
		if err := av.view.ClearCache(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear cache: %w", err))
		}
		if err := av.view.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close view: %w", err))
		}
	}
	if d.sessions != nil {
		if err := d.sessions.ClearSession(app.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close shuts every view down.
func (d *Driver) Close() error {
	d.mu.Lock()
	views := maps.Clone(d.views)
	clear(d.views)
	d.mu.Unlock()

	var errs []error
	for id, av := range views {
		if err := av.view.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Loaded reports whether the app has a live view.
func (d *Driver) Loaded(appID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.views[appID]
	return ok
}

// page binds a view to an app so navigators and steps can run scripts with
// the profile selectors and the step timeout applied.
type page struct {
	view    View
	app     registry.AppConfig
	timeout time.Duration
}

func (d *Driver) page(av *appView, app registry.AppConfig) *page {
	return &page{view: av.view, app: app, timeout: d.opts.StepTimeout}
}

func (p *page) Run(ctx context.Context, script *registry.Script, args map[string]any) (string, error) {
	merged := map[string]any{"selectors": p.app.Profile.Selectors}
	maps.Copy(merged, args)
	expr, err := script.Render(merged)
	if err != nil {
		return "", err
	}
	stepCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.view.Evaluate(stepCtx, expr)
	if err != nil {
		return "", fmt.Errorf("%s: %w", script.Name, err)
	}
	return out, nil
}
