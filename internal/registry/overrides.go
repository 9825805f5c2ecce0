package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// overridesFile is the on-disk shape of the profile overrides file.
//
//	apps:
//	  - id: whatsapp
//	    selectors:
//	      sendButton: "footer button[data-tab='11']"
//	  - id: slack
//	    kind: webview
//	    display_name: Slack
//	    web_entry_url: https://app.slack.com/client
//	    ...
type overridesFile struct {
	Apps []appOverride `yaml:"apps"`
}

type appOverride struct {
	ID            string            `yaml:"id"`
	DisplayName   *string           `yaml:"display_name"`
	Kind          *Kind             `yaml:"kind"`
	PackageName   *string           `yaml:"package_name"`
	WebEntryURL   *string           `yaml:"web_entry_url"`
	Selectors     map[Role]string   `yaml:"selectors"`
	Nodes         map[Role]string   `yaml:"nodes"`
	Scripts       map[string]string `yaml:"scripts"`
	ReadySelector *string           `yaml:"ready_selector"`
	UserAgent     *string           `yaml:"user_agent"`
	Capabilities  *Capabilities     `yaml:"capabilities"`
	Active        *bool             `yaml:"active"`
}

// loadOverrides parses an overrides file. A missing file yields no overrides.
func loadOverrides(path string) ([]appOverride, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	var f overridesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}
	return f.Apps, nil
}

// applyOverridesFile patches apps in place and returns the extended order.
// Entries that fail validation are logged and skipped.
func applyOverridesFile(path string, apps map[string]AppConfig, order []string, logger *zap.Logger) []string {
	entries, err := loadOverrides(path)
	if err != nil {
		logger.Error("ignoring profile overrides", zap.String("path", path), zap.Error(err))
		return order
	}
	for _, o := range entries {
		base, exists := apps[o.ID]
		next, err := o.apply(base.Clone(), exists)
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			logger.Error("rejected profile override", zap.String("app", o.ID), zap.Error(err))
			continue
		}
		apps[next.ID] = next
		if !exists {
			order = append(order, next.ID)
		}
	}
	return order
}

func (o appOverride) apply(app AppConfig, exists bool) (AppConfig, error) {
	if o.ID == "" {
		return app, fmt.Errorf("%w: override without id", ErrInvalidConfig)
	}
	if !exists {
		if o.Kind == nil {
			return app, fmt.Errorf("app %s: %w: kind", o.ID, ErrMissingField)
		}
		app = AppConfig{ID: o.ID, DisplayName: o.ID}
	}
	if o.Kind != nil {
		if exists && *o.Kind != app.Kind {
			return app, fmt.Errorf("app %s: %w: kind cannot change", o.ID, ErrInvalidConfig)
		}
		app.Kind = *o.Kind
	}
	setString(&app.DisplayName, o.DisplayName)
	setString(&app.PackageName, o.PackageName)
	setString(&app.WebEntryURL, o.WebEntryURL)
	setString(&app.Profile.ReadySelector, o.ReadySelector)
	setString(&app.Profile.UserAgent, o.UserAgent)
	app.Profile.Selectors = mergeRoles(app.Profile.Selectors, o.Selectors)
	app.Profile.Nodes = mergeRoles(app.Profile.Nodes, o.Nodes)
	for name, src := range o.Scripts {
		s := &Script{Name: o.ID + "." + name, Source: src}
		switch name {
		case "scrape_conversations":
			app.Profile.ScrapeConversations = s
		case "scrape_messages":
			app.Profile.ScrapeMessages = s
		case "send_message":
			app.Profile.SendMessage = s
		case "init":
			app.Profile.Init = s
		default:
			return app, fmt.Errorf("app %s: %w: unknown script %q", o.ID, ErrInvalidConfig, name)
		}
	}
	if o.Capabilities != nil {
		app.Capabilities = *o.Capabilities
	}
	if o.Active != nil {
		app.IsActive = *o.Active
	}
	return app, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func mergeRoles(dst, src map[Role]string) map[Role]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[Role]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
