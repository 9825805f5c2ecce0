package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/enterchat/internal/api"
	"github.com/matheus3301/enterchat/internal/session"
	"github.com/spf13/cobra"
)

type globals struct {
	profile string
	socket  string
	json    bool
	timeout time.Duration
}

func main() {
	g := &globals{}
	root := &cobra.Command{
		Use:           "enterchatctl",
		Short:         "Control a running EnterChat daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			g.profile = session.Resolve(g.profile)
			if err := session.ValidateName(g.profile); err != nil {
				return err
			}
			if g.socket == "" {
				g.socket = session.SocketPath(g.profile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.profile, "profile", "", "profile name (overrides config default)")
	root.PersistentFlags().StringVar(&g.socket, "socket", "", "daemon socket (default from profile)")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		startCmd(g),
		statusCmd(g),
		appsCmd(g),
		connectCmd(g),
		disconnectCmd(g),
		syncCmd(g),
		sendCmd(g),
		queueCmd(g),
		sendToCmd(g),
		bulkSendCmd(g),
		inboxCmd(g),
		messagesCmd(g),
		searchCmd(g),
		readCmd(g),
		archiveCmd(g),
		deleteCmd(g),
		unreadCmd(g),
		sessionsCmd(g),
		clearSessionCmd(g),
		watchCmd(g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run dials the daemon and calls fn with a request-scoped context.
func (g *globals) run(fn func(ctx context.Context, c *api.Client) error) error {
	c, err := api.Dial(g.socket)
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for profile %q: %w", g.profile, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	return fn(ctx, c)
}
