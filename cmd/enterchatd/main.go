package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/enterchat/internal/config"
	"github.com/matheus3301/enterchat/internal/daemon"
	"github.com/matheus3301/enterchat/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	var profileFlag, configFlag, socketFlag string

	root := &cobra.Command{
		Use:           "enterchatd",
		Short:         "EnterChat bridge daemon for one profile",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configFlag == "" {
				configFlag = session.ConfigPath()
			}
			cfg, err := config.Resolve(configFlag, session.EnvPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			profile := profileFlag
			if profile == "" {
				profile = cfg.DefaultProfile
			}
			if profile == "" {
				profile = session.DefaultProfileName
			}
			if err := session.ValidateName(profile); err != nil {
				return err
			}

			app := fx.New(
				daemon.Module(daemon.Params{Profile: profile, SocketPath: socketFlag, Config: cfg}),
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	root.Flags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	root.Flags().StringVar(&configFlag, "config", "", "config file (default ~/.enterchat/config.toml)")
	root.Flags().StringVar(&socketFlag, "socket", "", "override the API socket path")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
