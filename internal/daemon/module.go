package daemon

import (
	"context"
	"os"

	"github.com/matheus3301/enterchat/internal/api"
	"github.com/matheus3301/enterchat/internal/bridge"
	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/config"
	"github.com/matheus3301/enterchat/internal/e2e"
	"github.com/matheus3301/enterchat/internal/lock"
	"github.com/matheus3301/enterchat/internal/logging"
	"github.com/matheus3301/enterchat/internal/outbox"
	"github.com/matheus3301/enterchat/internal/registry"
	"github.com/matheus3301/enterchat/internal/securestore"
	"github.com/matheus3301/enterchat/internal/session"
	"github.com/matheus3301/enterchat/internal/store"
	"github.com/matheus3301/enterchat/internal/surface"
	"github.com/matheus3301/enterchat/internal/surface/native"
	"github.com/matheus3301/enterchat/internal/surface/web"
	intsync "github.com/matheus3301/enterchat/internal/sync"
	"github.com/matheus3301/enterchat/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	Config     *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideSecrets,
			provideSessions,
			provideCipher,
			provideRegistry,
			provideRegistryWatcher,
			provideWebDriver,
			provideNativeDriver,
			provideProtocolDriver,
			provideEngine,
			provideSyncEngine,
			provideSender,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	if p.Config != nil {
		return p.Config
	}
	return config.Defaults()
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:    session.LogPath(p.Profile),
		Profile: p.Profile,
		Level:   cfg.Log.Level,
		Console: os.Stderr,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Debug("schema up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSecrets(cfg *config.Config, logger *zap.Logger) securestore.Store {
	if cfg.Secrets.Backend == "keyring" {
		k := securestore.NewKeyring(cfg.Secrets.Service)
		if k.Available() {
			return k
		}
		logger.Warn("OS keyring unavailable, sessions will not survive a restart")
	}
	return securestore.NewMemory()
}

func provideSessions(s securestore.Store, logger *zap.Logger) *session.Manager {
	return session.NewManager(s, logger.Named("session"))
}

func provideCipher(s securestore.Store) *e2e.Cipher {
	return e2e.New(s)
}

func overridesPath(cfg *config.Config) string {
	if cfg.Apps.Overrides != "" {
		return cfg.Apps.Overrides
	}
	return session.OverridesPath()
}

func provideRegistry(cfg *config.Config, logger *zap.Logger) *registry.Registry {
	return registry.New(logger.Named("registry"), registry.WithOverrides(overridesPath(cfg)))
}

func provideRegistryWatcher(cfg *config.Config, r *registry.Registry, b *bus.Bus, logger *zap.Logger) *registry.Watcher {
	return registry.NewWatcher(r, overridesPath(cfg), func() {
		b.Publish(bus.NewEvent(bus.RegistryReloaded, "", len(r.GetAllApps())))
	}, logger.Named("registry"))
}

func provideWebDriver(p Params, cfg *config.Config, sessions *session.Manager, logger *zap.Logger) *web.Driver {
	return web.NewDriver(web.Options{
		NewView: func(string) (web.View, error) {
			return web.NewView(cfg.Browser.Driver)
		},
		UserDataDir: func(appID string) string {
			return session.BrowserDir(p.Profile, appID)
		},
		Headless:     cfg.Browser.Headless,
		UserAgent:    cfg.Browser.UserAgent,
		SettleDelay:  cfg.Browser.SettleDelay.Duration,
		ReadyTimeout: cfg.Browser.ReadyTimeout.Duration,
		LoadTimeout:  cfg.Browser.LoadTimeout.Duration,
		StepTimeout:  cfg.Browser.StepTimeout.Duration,
	}, sessions, logger.Named("web"))
}

func provideNativeDriver(cfg *config.Config, logger *zap.Logger) *native.Driver {
	capability := native.NewHTTPCapability(native.HTTPOptions{
		Endpoint: cfg.Native.Endpoint,
		Token:    cfg.Native.Token,
		Timeout:  cfg.Native.Timeout.Duration,
		Retries:  cfg.Native.Retries,
	}, logger.Named("native"))
	return native.NewDriver(capability, cfg.Sync.MessageLimit, logger.Named("native"))
}

func provideProtocolDriver(p Params, b *bus.Bus, sessions *session.Manager, logger *zap.Logger) *wa.Driver {
	return wa.NewDriver(wa.Options{
		DBPath: func(appID string) string {
			return session.ProtocolDBPath(p.Profile, appID)
		},
	}, b, sessions, logger.Named("wa"))
}

func provideEngine(
	cfg *config.Config,
	r *registry.Registry,
	b *bus.Bus,
	cipher *e2e.Cipher,
	webDriver *web.Driver,
	nativeDriver *native.Driver,
	protocolDriver *wa.Driver,
	logger *zap.Logger,
) *bridge.Engine {
	surfaceLogger := logger.Named("surface")
	return bridge.New(bridge.Deps{
		Registry: r,
		Bus:      b,
		Surfaces: map[registry.Kind]*surface.Surface{
			registry.KindWebview:  surface.New(webDriver, surfaceLogger),
			registry.KindNative:   surface.New(nativeDriver, surfaceLogger),
			registry.KindProtocol: surface.New(protocolDriver, surfaceLogger),
		},
		Cipher: cipher,
	}, bridge.Options{
		Interval:       cfg.Sync.Interval.Duration,
		Messages:       cfg.Sync.Messages,
		MessageLimit:   cfg.Sync.MessageLimit,
		MaxParallelWeb: cfg.Sync.MaxParallelWeb,
	}, logger.Named("bridge"))
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger.Named("sync"))
}

func provideSender(db *store.DB, engine *bridge.Engine, ingest *intsync.Engine, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, engine, ingest, b, logger.Named("outbox"))
}

func provideService(
	p Params,
	engine *bridge.Engine,
	ingest *intsync.Engine,
	sender *outbox.Sender,
	db *store.DB,
	sessions *session.Manager,
	b *bus.Bus,
	protocolDriver *wa.Driver,
) *api.Service {
	return api.NewService(api.Deps{
		Profile:  p.Profile,
		Engine:   engine,
		Ingest:   ingest,
		Outbox:   sender,
		DB:       db,
		Sessions: sessions,
		Bus:      b,
		Links:    protocolDriver,
	})
}

type lifecycleParams struct {
	fx.In

	Config  *config.Config
	Server  *Server
	Lock    *lock.Lock
	DB      *store.DB
	Engine  *bridge.Engine
	Ingest  *intsync.Engine
	Sender  *outbox.Sender
	Watcher *registry.Watcher
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	logger := p.Logger
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Ingestion subscribes first so nothing the bridge emits is lost.
			p.Ingest.Start(context.Background())
			p.Sender.Start(context.Background())

			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := p.Engine.Initialize(ctx); err != nil {
				return err
			}

			if p.Config.Apps.Watch {
				if err := p.Watcher.Start(context.Background()); err != nil {
					logger.Warn("app overrides watcher not started", zap.Error(err))
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Watcher.Stop()
			p.Server.Stop(ctx)
			p.Sender.Stop()
			if err := p.Engine.Stop(ctx); err != nil {
				logger.Warn("bridge engine stop", zap.Error(err))
			}
			p.Ingest.Stop()
			if err := p.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
