package web

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

var errNotStarted = errors.New("view not started")

// ChromeView is a View backed by chromedp.
type ChromeView struct {
	mu     sync.Mutex
	tab    context.Context
	cancel context.CancelFunc
}

// NewChromeView creates a view. The browser starts on the first Load.
func NewChromeView() *ChromeView {
	return &ChromeView{}
}

func (v *ChromeView) start(userAgent string, s Settings) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.tab != nil {
		return nil
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
	)
	if s.UserDataDir != "" {
		if err := os.MkdirAll(s.UserDataDir, 0o700); err != nil {
			return fmt.Errorf("create user data dir: %w", err)
		}
		opts = append(opts, chromedp.UserDataDir(s.UserDataDir))
	}
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if s.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	// The browser outlives any single call, so it hangs off Background.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}
	v.tab = tab
	v.cancel = func() {
		tabCancel()
		allocCancel()
	}
	return nil
}

// run executes actions on the tab, bounded by ctx.
func (v *ChromeView) run(ctx context.Context, actions ...chromedp.Action) error {
	v.mu.Lock()
	tab := v.tab
	v.mu.Unlock()
	if tab == nil {
		return errNotStarted
	}
	runCtx, cancel := context.WithCancel(tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (v *ChromeView) Load(ctx context.Context, url, userAgent string, s Settings) error {
	if err := v.start(userAgent, s); err != nil {
		return err
	}
	return v.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	)
}

func (v *ChromeView) WaitReady(ctx context.Context, selector string) error {
	return v.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (v *ChromeView) Evaluate(ctx context.Context, expr string) (string, error) {
	var out string
	err := v.run(ctx, chromedp.Evaluate(jsonResult(expr), &out,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	return out, err
}

func (v *ChromeView) SetFiles(ctx context.Context, selector string, files []string) error {
	return v.run(ctx, chromedp.SetUploadFiles(selector, files, chromedp.ByQuery))
}

func (v *ChromeView) ClearCache(ctx context.Context) error {
	return v.run(ctx,
		network.ClearBrowserCache(),
		network.ClearBrowserCookies(),
	)
}

func (v *ChromeView) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
	}
	v.tab, v.cancel = nil, nil
	return nil
}
