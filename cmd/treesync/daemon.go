package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/openmined/treesync/internal/config"
	"github.com/openmined/treesync/internal/daemon"
	"github.com/openmined/treesync/internal/engine/localfs"
	"github.com/openmined/treesync/internal/version"
)

func addDaemonFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("http-addr", "a", config.DefaultAddr, "address of the control plane, empty to disable")
	cmd.Flags().StringP("http-token", "t", "", "access token for the control plane")
}

func newDaemonCmd(a *app) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Watch and sync all configured folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDaemon(cmd)
		},
	}
	addDaemonFlags(daemonCmd)
	return daemonCmd
}

func (a *app) runDaemon(cmd *cobra.Command) error {
	cfg, err := a.validConfig()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	slog.Info("treesync", "version", version.Version, "revision", version.Revision, "config", cfg.Path, "folders", len(cfg.Folders))

	d, err := daemon.New(cfg, localfs.Factory)
	if err != nil {
		return err
	}

	defer slog.Info("Bye!")
	if err := d.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon start", "error", err)
		return err
	}
	return nil
}
