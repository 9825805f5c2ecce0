package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/enterchat/internal/api"
	"github.com/matheus3301/enterchat/internal/lock"
	"github.com/matheus3301/enterchat/internal/session"
	"github.com/spf13/cobra"
)

func startCmd(g *globals) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon for the profile if it is not running",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if pingDaemon(g.socket) {
				fmt.Printf("Daemon for profile %q already running.\n", g.profile)
				return nil
			}
			if pid, held := lock.Holder(session.Dir(g.profile)); held {
				return fmt.Errorf("profile %q is locked by PID %d but its socket does not answer", g.profile, pid)
			}
			if err := startDaemon(g.profile, g.socket); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}
			if !waitForDaemon(g.socket, wait) {
				return fmt.Errorf("daemon did not become ready within %s (see %s)", wait, session.LogPath(g.profile))
			}
			fmt.Printf("Daemon for profile %q started.\n", g.profile)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the daemon to answer")
	return cmd
}

// pingDaemon reports whether a daemon answers a Status call on socketPath.
func pingDaemon(socketPath string) bool {
	c, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Status(ctx)
	return err == nil
}

func startDaemon(profile, socketPath string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemon := filepath.Join(filepath.Dir(executable), "enterchatd")
	if _, err := os.Stat(daemon); err != nil {
		daemon = "enterchatd"
	}

	cmd := exec.Command(daemon, "--profile", profile, "--socket", socketPath)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pingDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
