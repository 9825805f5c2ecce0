package bridge

import (
	"cmp"
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/registry"
	"github.com/matheus3301/enterchat/internal/status"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AppResult summarizes one app's sync.
type AppResult struct {
	AppID         string        `json:"app_id"`
	OK            bool          `json:"ok"`
	Conversations int           `json:"conversations"`
	Messages      int           `json:"messages"`
	Skipped       int           `json:"skipped"`
	Duration      time.Duration `json:"duration"`
}

// SyncReport summarizes a full sync. Automation failures only show up here.
type SyncReport struct {
	Apps          []AppResult   `json:"apps"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Conversations int           `json:"conversations"`
	Messages      int           `json:"messages"`
	Skipped       int           `json:"skipped"`
	Duration      time.Duration `json:"duration"`
}

func (r *SyncReport) add(res AppResult) {
	r.Apps = append(r.Apps, res)
	if res.OK {
		r.Succeeded++
	} else {
		r.Failed++
	}
	r.Conversations += res.Conversations
	r.Messages += res.Messages
	r.Skipped += res.Skipped
}

// SyncAll syncs every active app. Web apps run concurrently, native apps one
// at a time, protocol apps concurrently. One app failing never stops the
// others. Results are emitted as they are found.
func (e *Engine) SyncAll(ctx context.Context) (SyncReport, error) {
	if !e.machine.Is(status.Ready) {
		return SyncReport{}, ErrNotReady
	}
	start := time.Now()
	apps := e.registry.GetActiveApps()
	e.bus.Publish(bus.NewEvent(bus.SyncStarted, "", len(apps)))

	var (
		mu     sync.Mutex
		report SyncReport
	)
	record := func(res AppResult) {
		mu.Lock()
		report.add(res)
		mu.Unlock()
	}

	var web, natives, protocols []registry.AppConfig
	for _, app := range apps {
		switch app.Kind {
		case registry.KindWebview:
			web = append(web, app)
		case registry.KindNative:
			natives = append(natives, app)
		default:
			protocols = append(protocols, app)
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		for _, app := range natives {
			record(e.syncApp(ctx, app))
		}
		return nil
	})
	for _, app := range protocols {
		g.Go(func() error {
			record(e.syncApp(ctx, app))
			return nil
		})
	}
	g.Go(func() error {
		var wg errgroup.Group
		wg.SetLimit(e.opts.MaxParallelWeb)
		for _, app := range web {
			wg.Go(func() error {
				record(e.syncApp(ctx, app))
				return nil
			})
		}
		return wg.Wait()
	})
	_ = g.Wait()

	slices.SortFunc(report.Apps, func(a, b AppResult) int { return cmp.Compare(a.AppID, b.AppID) })
	report.Duration = time.Since(start)
	e.bus.Publish(bus.NewEvent(bus.SyncCompleted, "", report))
	e.logger.Info("sync completed",
		zap.Int("apps", len(apps)),
		zap.Int("failed", report.Failed),
		zap.Int("conversations", report.Conversations),
		zap.Int("messages", report.Messages),
		zap.Int("skipped", report.Skipped),
		zap.Duration("took", report.Duration))
	return report, nil
}

// SyncApp syncs a single app. Results of an inactive app are not emitted.
func (e *Engine) SyncApp(ctx context.Context, appID string) (AppResult, error) {
	app, _, err := e.resolve(appID)
	if err != nil {
		return AppResult{}, err
	}
	return e.syncApp(ctx, app), nil
}

// syncApp loads the app, scrapes conversations and then, optionally, the
// messages of the most recent ones. A panic anywhere counts as a failure.
func (e *Engine) syncApp(ctx context.Context, app registry.AppConfig) (res AppResult) {
	start := time.Now()
	res.AppID = app.ID
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("app sync panic",
				zap.String("app", app.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res.OK = false
		}
		res.Duration = time.Since(start)
		e.bus.Publish(bus.NewEvent(bus.SyncAppCompleted, app.ID, res))
	}()

	s := e.surfaces[app.Kind]
	if s == nil {
		panic(fmt.Sprintf("no surface for %s apps", app.Kind))
	}
	if !s.LoadOrResume(ctx, app) {
		return res
	}

	convs := s.ScrapeConversations(ctx, app)
	for _, c := range convs {
		if e.emitConversation(c) {
			res.Conversations++
		}
	}
	if e.registry.IsActive(app.ID) {
		e.knownMu.Lock()
		e.known[app.ID] = convs
		e.knownMu.Unlock()
	}
	res.OK = true

	if !e.opts.Messages {
		return res
	}
	recent := slices.Clone(convs)
	slices.SortStableFunc(recent, func(a, b model.Conversation) int {
		return cmp.Compare(lastAt(b), lastAt(a))
	})
	if len(recent) > e.opts.MessageConversations {
		recent = recent[:e.opts.MessageConversations]
	}
	for _, c := range recent {
		if ctx.Err() != nil {
			break
		}
		for _, m := range s.ScrapeMessages(ctx, app, c.ConversationID, e.opts.MessageLimit) {
			if e.emitMessage(m) {
				res.Messages++
			} else {
				res.Skipped++
			}
		}
	}
	return res
}

// emitConversation publishes c unless its app was disconnected meanwhile.
func (e *Engine) emitConversation(c model.Conversation) bool {
	if !e.registry.IsActive(c.SourceAppID) {
		return false
	}
	e.bus.Publish(bus.NewEvent(bus.ConversationDiscovered, c.SourceAppID, c))
	return true
}

// emitMessage opens sealed content and publishes m unless its app was
// disconnected meanwhile. Messages that cannot be opened are dropped.
func (e *Engine) emitMessage(m model.Message) bool {
	if !e.registry.IsActive(m.SourceAppID) {
		return false
	}
	if m.Envelope != nil {
		if e.cipher == nil {
			e.logger.Warn("dropping sealed message, no cipher",
				zap.String("app", m.SourceAppID), zap.String("message", m.MessageID))
			return false
		}
		if err := e.cipher.Open(&m); err != nil {
			e.logger.Warn("dropping undecryptable message",
				zap.String("app", m.SourceAppID), zap.String("message", m.MessageID), zap.Error(err))
			return false
		}
	}
	if err := m.Validate(); err != nil {
		e.logger.Warn("dropping invalid message", zap.String("app", m.SourceAppID), zap.Error(err))
		return false
	}
	e.bus.Publish(bus.NewEvent(bus.MessageReceived, m.SourceAppID, m))
	return true
}

func lastAt(c model.Conversation) int64 {
	if c.LastMessageTime == nil {
		return 0
	}
	return c.LastMessageTime.UnixMilli()
}
