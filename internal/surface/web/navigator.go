package web

import (
	"context"

	"github.com/matheus3301/enterchat/internal/registry"
)

// Target is the conversation a navigator should open.
type Target struct {
	ID   string
	Name string
}

// Runner evaluates a script against the app's page.
type Runner interface {
	Run(ctx context.Context, script *registry.Script, args map[string]any) (string, error)
}

// Navigator opens a conversation in an app's web client.
type Navigator func(ctx context.Context, page Runner, app registry.AppConfig, target Target) error

// DefaultNavigator clicks the list item whose name matches the target.
func DefaultNavigator(ctx context.Context, page Runner, _ registry.AppConfig, target Target) error {
	_, err := page.Run(ctx, clickByNameScript, map[string]any{"id": target.ID, "name": target.Name})
	return err
}

// SearchNavigator types the name into the app's search box and opens the
// first result. Apps without a search selector fall back to DefaultNavigator.
func SearchNavigator(ctx context.Context, page Runner, app registry.AppConfig, target Target) error {
	if app.Profile.Selector(registry.RoleSearchInput) == "" {
		return DefaultNavigator(ctx, page, app, target)
	}
	_, err := page.Run(ctx, searchOpenScript, map[string]any{"id": target.ID, "name": target.Name})
	return err
}

// HashNavigator opens the conversation through the client's hash route.
func HashNavigator(ctx context.Context, page Runner, _ registry.AppConfig, target Target) error {
	_, err := page.Run(ctx, hashOpenScript, map[string]any{"id": target.ID})
	return err
}

// Navigators returns the built-in strategy table keyed by app id.
func Navigators() map[string]Navigator {
	return map[string]Navigator{
		"whatsapp": SearchNavigator,
		"telegram": HashNavigator,
	}
}
