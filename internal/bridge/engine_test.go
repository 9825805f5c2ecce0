package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/e2e"
	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/registry"
	"github.com/matheus3301/enterchat/internal/securestore"
	"github.com/matheus3301/enterchat/internal/status"
	"github.com/matheus3301/enterchat/internal/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func webApp(id string, active bool) registry.AppConfig {
	return registry.AppConfig{
		ID:          id,
		DisplayName: id,
		Kind:        registry.KindWebview,
		WebEntryURL: "https://" + id + ".example",
		Profile: registry.AutomationProfile{
			Selectors: map[registry.Role]string{
				registry.RoleConversationList: ".list",
				registry.RoleMessageInput:     ".input",
				registry.RoleSendButton:       ".send",
			},
			ScrapeConversations: &registry.Script{Name: "conversations", Source: "return []"},
		},
		Capabilities: registry.Capabilities{SupportsText: true},
		IsActive:     active,
	}
}

func nativeApp(id string, active bool) registry.AppConfig {
	return registry.AppConfig{
		ID:          id,
		DisplayName: id,
		Kind:        registry.KindNative,
		PackageName: "com." + id,
		Profile: registry.AutomationProfile{
			Nodes: map[registry.Role]string{registry.RoleConversationList: "list"},
		},
		IsActive: active,
	}
}

// stubDriver scripts a surface.Driver per app id.
type stubDriver struct {
	mu       sync.Mutex
	convs    map[string][]model.Conversation
	msgs     map[string][]model.Message
	loadHook func(appID string)
	convHook func(appID string)
	panicApp string
	sendErr  error
	loads    map[string]int
	sent     []string
	cleared  []string
	closed   atomic.Bool
}

func newStub() *stubDriver {
	return &stubDriver{
		convs: make(map[string][]model.Conversation),
		msgs:  make(map[string][]model.Message),
		loads: make(map[string]int),
	}
}

func (d *stubDriver) Load(_ context.Context, app registry.AppConfig) error {
	d.mu.Lock()
	d.loads[app.ID]++
	hook := d.loadHook
	d.mu.Unlock()
	if hook != nil {
		hook(app.ID)
	}
	return nil
}

func (d *stubDriver) Conversations(_ context.Context, app registry.AppConfig) ([]model.Conversation, error) {
	if app.ID == d.panicApp {
		panic("scrape exploded")
	}
	if d.convHook != nil {
		d.convHook(app.ID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.convs[app.ID], nil
}

func (d *stubDriver) Open(context.Context, registry.AppConfig, string) error { return nil }

func (d *stubDriver) Messages(_ context.Context, app registry.AppConfig, id string, _ int) ([]model.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.msgs[app.ID+"/"+id], nil
}

func (d *stubDriver) Send(_ context.Context, app registry.AppConfig, id, text string, _ []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, app.ID+"/"+id+":"+text)
	return nil
}

func (d *stubDriver) Clear(_ context.Context, app registry.AppConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleared = append(d.cleared, app.ID)
	return nil
}

func (d *stubDriver) Close() error {
	d.closed.Store(true)
	return nil
}

func conv(app, id, name string) model.Conversation {
	return model.Conversation{ConversationID: id, SourceAppID: app, DisplayName: name, Type: model.OneToOne}
}

type harness struct {
	engine *Engine
	bus    *bus.Bus
	web    *stubDriver
	native *stubDriver
}

func newHarness(t *testing.T, catalog []registry.AppConfig, opts Options, cipher *e2e.Cipher) *harness {
	t.Helper()
	b := bus.New()
	reg := registry.New(zap.NewNop(), registry.WithCatalog(func() []registry.AppConfig { return catalog }))
	h := &harness{bus: b, web: newStub(), native: newStub()}
	h.engine = New(Deps{
		Registry: reg,
		Bus:      b,
		Surfaces: map[registry.Kind]*surface.Surface{
			registry.KindWebview: surface.New(h.web, zap.NewNop()),
			registry.KindNative:  surface.New(h.native, zap.NewNop()),
		},
		Cipher: cipher,
	}, opts, zap.NewNop())
	t.Cleanup(func() { _ = h.engine.Stop(context.Background()) })
	return h
}

func (h *harness) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Initialize(context.Background()))
}

// drain collects events already delivered to ch.
func drain(ch <-chan bus.Event) []bus.Event {
	var out []bus.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestOperationsRequireReady(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{webApp("whatsapp", false)}, Options{}, nil)
	ctx := context.Background()

	_, err := h.engine.SyncAll(ctx)
	require.ErrorIs(t, err, ErrNotReady)
	_, err = h.engine.SendMessage(ctx, "whatsapp", "c1", "hi", nil)
	require.ErrorIs(t, err, ErrNotReady)
	require.ErrorIs(t, h.engine.ConnectApp(ctx, "whatsapp"), ErrNotReady)
	require.ErrorIs(t, h.engine.DisconnectApp(ctx, "whatsapp"), ErrNotReady)

	h.ready(t)
	require.NoError(t, h.engine.Initialize(ctx), "second Initialize is a no-op")
	require.Equal(t, status.Ready, h.engine.State())
}

func TestEndToEndConnectAndSync(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{
		nativeApp("enterchat", true),
		webApp("whatsapp", false),
	}, Options{}, nil)
	h.ready(t)
	ctx := context.Background()

	h.web.convs["whatsapp"] = []model.Conversation{conv("whatsapp", "w1", "Ana"), conv("whatsapp", "w2", "Bia")}
	h.native.convs["enterchat"] = []model.Conversation{conv("enterchat", "e1", "Caio")}

	require.NoError(t, h.engine.ConnectApp(ctx, "whatsapp"))
	active := h.engine.Registry().GetActiveApps()
	require.Len(t, active, 2)

	ch, unsub := h.engine.Conversations(16)
	defer unsub()

	report, err := h.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 3, report.Conversations)

	events := drain(ch)
	require.Len(t, events, 3)
	byApp := map[string]int{}
	for _, evt := range events {
		c := evt.Payload.(model.Conversation)
		assert.Equal(t, evt.AppID, c.SourceAppID)
		byApp[c.SourceAppID]++
	}
	assert.Equal(t, map[string]int{"whatsapp": 2, "enterchat": 1}, byApp)
}

func TestSendFailureEmitsNothing(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{webApp("whatsapp", true)}, Options{}, nil)
	h.ready(t)
	h.web.sendErr = errors.New("send button not found")

	ch, unsub := h.engine.Messages(16)
	defer unsub()

	ok, err := h.engine.SendMessage(context.Background(), "whatsapp", "conv1", "hello", nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, drain(ch))
}

func TestSendSuccessEmitsOutgoing(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{webApp("whatsapp", true)}, Options{}, nil)
	h.ready(t)

	ch, unsub := h.engine.Messages(16)
	defer unsub()

	ok, err := h.engine.SendWithID(context.Background(), "client-1", "whatsapp", "conv1", "hello", nil)
	require.NoError(t, err)
	require.True(t, ok)

	events := drain(ch)
	require.Len(t, events, 1)
	require.Equal(t, bus.MessageSent, events[0].Kind)
	msg := events[0].Payload.(model.Message)
	assert.Equal(t, "client-1", msg.MessageID)
	assert.Equal(t, model.Outgoing, msg.Direction)
	assert.Equal(t, model.Sent, msg.Status)
	assert.Equal(t, []string{"whatsapp/conv1:hello"}, h.web.sent)
}

func TestSendUnknownApp(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{webApp("whatsapp", true)}, Options{}, nil)
	h.ready(t)
	_, err := h.engine.SendMessage(context.Background(), "nope", "c", "hi", nil)
	require.ErrorIs(t, err, ErrAppNotFound)
}

func TestSyncIsolation(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{
		webApp("a", true), webApp("b", true), webApp("c", true),
	}, Options{MaxParallelWeb: 1}, nil)
	h.ready(t)
	for _, id := range []string{"a", "b", "c"} {
		h.web.convs[id] = []model.Conversation{conv(id, id+"1", id)}
	}
	h.web.panicApp = "b"

	ch, unsub := h.engine.Conversations(16)
	defer unsub()

	report, err := h.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded, "a failed scrape degrades to an empty list")
	assert.Equal(t, 2, report.Conversations)

	var apps []string
	for _, evt := range drain(ch) {
		apps = append(apps, evt.AppID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, apps)
	assert.Equal(t, 1, h.web.loads["b"], "b was still loaded")
}

func TestDisconnectMidSyncDiscards(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{webApp("whatsapp", true)}, Options{}, nil)
	h.ready(t)
	ctx := context.Background()
	h.web.convs["whatsapp"] = []model.Conversation{conv("whatsapp", "w1", "Ana")}
	h.web.convHook = func(appID string) {
		assert.NoError(t, h.engine.DisconnectApp(ctx, appID))
	}

	ch, unsub := h.engine.Conversations(16)
	defer unsub()

	_, err := h.engine.SyncAll(ctx)
	require.NoError(t, err)
	require.Empty(t, drain(ch))
	require.Equal(t, []string{"whatsapp"}, h.web.cleared)
}

func TestDisconnectIdempotent(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{webApp("whatsapp", false)}, Options{}, nil)
	h.ready(t)
	ctx := context.Background()

	before := h.engine.Registry().GetAllApps()
	require.NoError(t, h.engine.DisconnectApp(ctx, "unknown"))
	require.Equal(t, before, h.engine.Registry().GetAllApps())

	require.NoError(t, h.engine.DisconnectApp(ctx, "whatsapp"))
	require.NoError(t, h.engine.DisconnectApp(ctx, "whatsapp"))
	require.False(t, h.engine.Registry().IsActive("whatsapp"))
	require.ErrorIs(t, h.engine.ConnectApp(ctx, "unknown"), ErrAppNotFound)
}

func TestSealedMessagesAreOpened(t *testing.T) {
	cipher := e2e.New(securestore.NewMemory())
	require.NoError(t, cipher.EnsureKey("k1"))
	env, err := cipher.Encrypt([]byte("secret hello"), "k1")
	require.NoError(t, err)

	h := newHarness(t, []registry.AppConfig{nativeApp("enterchat", true)}, Options{Messages: true}, cipher)
	h.ready(t)
	h.native.convs["enterchat"] = []model.Conversation{conv("enterchat", "e1", "Caio")}
	h.native.msgs["enterchat/e1"] = []model.Message{
		{MessageID: "m1", SourceAppID: "enterchat", SourceConversationID: "e1", Direction: model.Incoming,
			IsEncrypted: true, EncryptionKeyID: "k1", Envelope: env, Status: model.Delivered},
		{MessageID: "m2", SourceAppID: "enterchat", SourceConversationID: "e1", Direction: model.Incoming,
			IsEncrypted: true, EncryptionKeyID: "missing", Envelope: env, Status: model.Delivered},
	}

	ch, unsub := h.engine.Messages(16)
	defer unsub()

	report, err := h.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Messages)
	assert.Equal(t, 1, report.Skipped)

	events := drain(ch)
	require.Len(t, events, 1)
	msg := events[0].Payload.(model.Message)
	assert.Equal(t, "secret hello", msg.Content)
	assert.Nil(t, msg.Envelope)
}

func TestTickSkipsWhileRunning(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{webApp("whatsapp", true)}, Options{}, nil)
	h.ready(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.web.loadHook = func(string) {
		once.Do(func() { close(started) })
		<-release
	}

	skipped, unsub := h.bus.Subscribe(bus.SyncSkipped, 4)
	defer unsub()

	done := make(chan struct{})
	go func() {
		h.engine.tick.Run()
		close(done)
	}()
	<-started
	h.engine.tick.Run()

	select {
	case <-skipped:
	case <-time.After(time.Second):
		t.Fatal("overlapping tick was not skipped")
	}
	close(release)
	<-done
	require.Equal(t, 1, h.web.loads["whatsapp"])
}

func TestProtocolPushIsForwarded(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{webApp("whatsapp", true), webApp("telegram", false)}, Options{}, nil)
	h.ready(t)

	ch, unsub := h.engine.Messages(16)
	defer unsub()

	for _, app := range []string{"whatsapp", "telegram"} {
		h.bus.Publish(bus.NewEvent(bus.ProtocolMessage, app, model.Message{
			MessageID: "p-" + app, SourceAppID: app, SourceConversationID: "c", Direction: model.Incoming,
		}))
	}
	h.bus.Publish(bus.NewEvent(bus.ProtocolReceipt, "whatsapp", model.StatusUpdate{
		AppID: "whatsapp", ConversationID: "c", MessageIDs: []string{"x"}, Status: model.Read,
	}))

	require.Eventually(t, func() bool { return len(ch) == 2 }, time.Second, 10*time.Millisecond)
	first := <-ch
	assert.Equal(t, bus.MessageReceived, first.Kind)
	assert.Equal(t, "p-whatsapp", first.Payload.(model.Message).MessageID)
	second := <-ch
	assert.Equal(t, bus.MessageStatus, second.Kind)
}

func TestSendToContactAndBulk(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{webApp("whatsapp", true)}, Options{}, nil)
	h.ready(t)
	ctx := context.Background()
	h.web.convs["whatsapp"] = []model.Conversation{conv("whatsapp", "w1", "Ana Souza"), conv("whatsapp", "w2", "Bruno")}

	_, err := h.engine.SendToContact(ctx, "whatsapp", "ana", "hi")
	require.ErrorIs(t, err, ErrConversationNotFound, "nothing is known before a sync")

	_, err = h.engine.SyncAll(ctx)
	require.NoError(t, err)
	require.Len(t, h.engine.KnownConversations("whatsapp"), 2)

	ok, err := h.engine.SendToContact(ctx, "whatsapp", "SOUZA", "hi")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"whatsapp/w1:hi"}, h.web.sent)

	res, err := h.engine.BulkSend(ctx, "whatsapp", []string{"w1", "w2"}, "promo")
	require.NoError(t, err)
	require.Equal(t, []string{"w1", "w2"}, res.Sent)
	require.Empty(t, res.Failed)
}

func TestStopClosesSurfaces(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{webApp("whatsapp", true)}, Options{Interval: time.Hour}, nil)
	h.ready(t)

	require.NoError(t, h.engine.Stop(context.Background()))
	require.Equal(t, status.Stopped, h.engine.State())
	require.True(t, h.web.closed.Load())
	require.True(t, h.native.closed.Load())
	require.NoError(t, h.engine.Stop(context.Background()), "Stop is idempotent")
	require.Error(t, h.engine.Initialize(context.Background()))
}

func TestMessageScrapeCap(t *testing.T) {
	h := newHarness(t, []registry.AppConfig{webApp("whatsapp", true)},
		Options{Messages: true, MessageConversations: 2}, nil)
	h.ready(t)
	base := time.Unix(1700000000, 0)
	for i := range 4 {
		id := fmt.Sprint("w", i)
		c := conv("whatsapp", id, id)
		ts := base.Add(time.Duration(i) * time.Minute)
		c.LastMessageTime = &ts
		h.web.convs["whatsapp"] = append(h.web.convs["whatsapp"], c)
		h.web.msgs["whatsapp/"+id] = []model.Message{{
			MessageID: "m" + id, SourceAppID: "whatsapp", SourceConversationID: id, Direction: model.Incoming,
		}}
	}

	report, err := h.engine.SyncAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Messages, "only the two most recent conversations are opened")
}
