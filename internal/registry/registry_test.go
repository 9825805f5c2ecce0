package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := New(zap.NewNop(), opts...)
	require.NoError(t, r.Initialize())
	return r
}

func TestCatalogValidates(t *testing.T) {
	for _, app := range Catalog() {
		require.NoError(t, app.Validate(), app.ID)
	}
}

func TestInitializeIdempotent(t *testing.T) {
	r := newRegistry(t)
	first := r.GetAllApps()

	r.MarkAppAsActive("whatsapp")
	require.NoError(t, r.Initialize())
	second := r.GetAllApps()

	require.Equal(t, first, second)
	require.False(t, r.IsActive("whatsapp"), "Initialize must reset active flags")
}

func TestGetAppUnknown(t *testing.T) {
	r := newRegistry(t)
	_, ok := r.GetApp("nope")
	require.False(t, ok)
}

func TestActiveSetInvariant(t *testing.T) {
	r := newRegistry(t)
	before, ok := r.GetApp("telegram")
	require.True(t, ok)
	require.False(t, before.IsActive)

	r.MarkAppAsActive("telegram")
	require.True(t, containsID(r.GetActiveApps(), "telegram"))

	r.MarkAppAsInactive("telegram")
	after, _ := r.GetApp("telegram")
	require.Equal(t, before, after)

	for _, app := range r.GetAllApps() {
		require.Equal(t, app.IsActive, containsID(r.GetActiveApps(), app.ID), app.ID)
	}
}

func TestMarkUnknownIsNoop(t *testing.T) {
	r := newRegistry(t)
	before := r.GetAllApps()
	r.MarkAppAsActive("ghost")
	r.MarkAppAsInactive("ghost")
	require.Equal(t, before, r.GetAllApps())
}

func TestReturnedAppsAreCopies(t *testing.T) {
	r := newRegistry(t)
	apps := r.GetAllApps()
	for i := range apps {
		apps[i].IsActive = true
		if apps[i].Profile.Selectors != nil {
			apps[i].Profile.Selectors[RoleSendButton] = "mutated"
		}
	}
	wa, _ := r.GetApp("whatsapp")
	require.False(t, wa.IsActive)
	require.NotEqual(t, "mutated", wa.Profile.Selector(RoleSendButton))
}

func TestValidateRejectsCrossKindFields(t *testing.T) {
	web, _ := New(nil).catalogApp("whatsapp")
	web.PackageName = "com.whatsapp"
	require.ErrorIs(t, web.Validate(), ErrInvalidConfig)

	native, _ := New(nil).catalogApp("signal")
	native.Profile.ScrapeConversations = &Script{Name: "x", Source: "return []"}
	require.ErrorIs(t, native.Validate(), ErrInvalidConfig)

	native, _ = New(nil).catalogApp("signal")
	native.Profile.Nodes = nil
	require.ErrorIs(t, native.Validate(), ErrMissingField)

	bad := AppConfig{ID: "x", Kind: "carrier-pigeon"}
	require.ErrorIs(t, bad.Validate(), ErrUnknownKind)

	// Ids become directory names under the profile.
	linked, _ := New(nil).catalogApp("whatsapp-linked")
	linked.ID = "../escape"
	require.ErrorIs(t, linked.Validate(), ErrInvalidConfig)
}

func TestScriptRender(t *testing.T) {
	s := &Script{Name: "t", Source: "return args.n + 1;"}
	out, err := s.Render(map[string]int{"n": 41})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "(async (args) => {"))
	require.True(t, strings.HasSuffix(out, `})({"n":41})`))

	var missing *Script
	_, err = missing.Render(nil)
	require.ErrorIs(t, err, ErrMissingField)
}

func TestOverridesPatchAndAdd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	writeFile(t, path, `
apps:
  - id: whatsapp
    selectors:
      sendButton: "button[data-tab='11']"
    ready_selector: "#side"
  - id: slack
    kind: webview
    display_name: Slack
    web_entry_url: https://app.slack.com/client
    selectors:
      conversationList: ".p-channel_sidebar__channel"
      messageInput: ".ql-editor"
      sendButton: "button[data-qa='texty_send_button']"
    scripts:
      scrape_conversations: "return [];"
  - id: broken
    kind: webview
`)
	r := newRegistry(t, WithOverrides(path))

	wa, _ := r.GetApp("whatsapp")
	require.Equal(t, "button[data-tab='11']", wa.Profile.Selector(RoleSendButton))
	require.Equal(t, "#side", wa.Profile.ReadySelector)
	require.NotEmpty(t, wa.Profile.Selector(RoleMessageInput), "unpatched selectors are kept")

	slack, ok := r.GetApp("slack")
	require.True(t, ok)
	require.Equal(t, KindWebview, slack.Kind)
	require.Equal(t, "slack", r.GetAllApps()[len(r.GetAllApps())-1].ID)

	_, ok = r.GetApp("broken")
	require.False(t, ok, "invalid override must be rejected")
}

func TestReloadKeepsActiveFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	writeFile(t, path, "apps: []\n")
	r := newRegistry(t, WithOverrides(path))
	r.MarkAppAsActive("telegram")

	writeFile(t, path, `
apps:
  - id: telegram
    display_name: Telegram Web
`)
	require.NoError(t, r.Reload())
	tg, _ := r.GetApp("telegram")
	require.True(t, tg.IsActive)
	require.Equal(t, "Telegram Web", tg.DisplayName)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	writeFile(t, path, "apps: []\n")
	r := newRegistry(t, WithOverrides(path))

	reloaded := make(chan struct{}, 4)
	w := NewWatcher(r, path, func() { reloaded <- struct{}{} }, zap.NewNop())
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start(t.Context()))
	defer w.Stop()

	writeFile(t, path, `
apps:
  - id: discord
    display_name: Discord Web
`)
	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	d, _ := r.GetApp("discord")
	require.Equal(t, "Discord Web", d.DisplayName)
}

func (r *Registry) catalogApp(id string) (AppConfig, bool) {
	for _, app := range r.catalog() {
		if app.ID == id {
			return app.Clone(), true
		}
	}
	return AppConfig{}, false
}

func containsID(apps []AppConfig, id string) bool {
	for _, a := range apps {
		if a.ID == id {
			return true
		}
	}
	return false
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}
