package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/enterchat/internal/api"
	"github.com/matheus3301/enterchat/internal/config"
	"github.com/matheus3301/enterchat/internal/lock"
	"github.com/matheus3301/enterchat/internal/session"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

// testConfig keeps the daemon away from the OS keyring and the network.
func testConfig(t *testing.T) *config.Config {
	cfg := config.Defaults()
	cfg.Secrets.Backend = "memory"
	cfg.Sync.Interval = config.Duration{}
	cfg.Native.Endpoint = "http://127.0.0.1:1"
	cfg.Native.Retries = 0
	cfg.Native.Timeout = config.Duration{Duration: 200 * time.Millisecond}
	cfg.Apps.Overrides = filepath.Join(t.TempDir(), "apps.yaml")
	cfg.Log.Level = "error"
	return cfg
}

// shortSocket avoids the 104-char Unix socket limit on macOS.
func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "enterchat-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

// TestFxModuleWiring verifies the dependency graph resolves, the daemon
// serves the API, and shutdown releases the profile.
func TestFxModuleWiring(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	socketPath := shortSocket(t)

	app := fxtest.New(t,
		fx.NopLogger,
		Module(Params{Profile: "fxtest", SocketPath: socketPath, Config: testConfig(t)}),
	)
	app.RequireStart()

	client, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Profile != "fxtest" || st.State != "READY" {
		t.Errorf("status = %+v, want fxtest/READY", st)
	}

	apps, err := client.ListApps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(apps.Apps) == 0 {
		t.Error("catalog is empty")
	}
	for _, a := range apps.Apps {
		if a.Kind == "protocol" && a.LinkState != "IDLE" {
			t.Errorf("%s link state = %q, want IDLE before connect", a.ID, a.LinkState)
		}
	}
	_ = client.Close()

	// A second daemon for the same profile must not start.
	if _, err := lock.Acquire(session.Dir("fxtest")); err == nil {
		t.Fatal("profile lock acquired while the daemon is running")
	} else {
		var held *lock.LockHeldError
		if !errors.As(err, &held) || held.PID != os.Getpid() {
			t.Errorf("err = %v, want LockHeldError for this process", err)
		}
	}

	app.RequireStop()

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	lk, err := lock.Acquire(session.Dir("fxtest"))
	if err != nil {
		t.Fatalf("lock not released on stop: %v", err)
	}
	_ = lk.Release()
}

func TestServerRemovesStaleSocket(t *testing.T) {
	socketPath := shortSocket(t)
	if err := os.WriteFile(socketPath, []byte("stale"), 0600); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Params{Profile: "stale", SocketPath: socketPath}, zap.NewNop(), &api.Service{})
	if err != nil {
		t.Fatalf("NewServer() over a stale socket failed: %v", err)
	}
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Error("stale file was not replaced by a socket")
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 600", perm)
	}

	go func() { _ = srv.Start() }()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Stop(ctx)
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket not removed on stop")
	}
}
