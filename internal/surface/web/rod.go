package web

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodView is a View backed by go-rod.
type RodView struct {
	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
}

// NewRodView creates a view. The browser starts on the first Load.
func NewRodView() *RodView {
	return &RodView{}
}

func (v *RodView) start(userAgent string, s Settings) (*rod.Page, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.page != nil {
		return v.page, nil
	}
	l := launcher.New().Headless(s.Headless)
	if s.UserDataDir != "" {
		if err := os.MkdirAll(s.UserDataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create user data dir: %w", err)
		}
		l = l.UserDataDir(s.UserDataDir)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	if userAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
			_ = browser.Close()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}
	v.browser, v.page = browser, page
	return page, nil
}

func (v *RodView) current() (*rod.Page, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.page == nil {
		return nil, errNotStarted
	}
	return v.page, nil
}

func (v *RodView) Load(ctx context.Context, url, userAgent string, s Settings) error {
	page, err := v.start(userAgent, s)
	if err != nil {
		return err
	}
	p := page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return p.WaitLoad()
}

func (v *RodView) WaitReady(ctx context.Context, selector string) error {
	page, err := v.current()
	if err != nil {
		return err
	}
	_, err = page.Context(ctx).Element(selector)
	return err
}

func (v *RodView) Evaluate(ctx context.Context, expr string) (string, error) {
	page, err := v.current()
	if err != nil {
		return "", err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           "() => " + jsonResult(expr),
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", err
	}
	if res == nil || res.Value.Nil() {
		return "null", nil
	}
	return res.Value.String(), nil
}

func (v *RodView) SetFiles(ctx context.Context, selector string, files []string) error {
	page, err := v.current()
	if err != nil {
		return err
	}
	el, err := page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("file input: %w", err)
	}
	return el.SetFiles(files)
}

func (v *RodView) ClearCache(ctx context.Context) error {
	page, err := v.current()
	if err != nil {
		return err
	}
	p := page.Context(ctx)
	if err := (proto.NetworkClearBrowserCache{}).Call(p); err != nil {
		return err
	}
	return proto.NetworkClearBrowserCookies{}.Call(p)
}

func (v *RodView) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var err error
	if v.browser != nil {
		err = v.browser.Close()
	}
	v.browser, v.page = nil, nil
	return err
}
