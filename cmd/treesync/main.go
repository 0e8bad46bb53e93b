package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openmined/treesync/internal/config"
	"github.com/openmined/treesync/internal/logging"
	"github.com/openmined/treesync/internal/version"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

// app is the state shared by all subcommands of one invocation.
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	closeLog func() error
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:     "treesync",
		Short:   "Keep local directory trees in sync",
		Version: version.Detailed(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDaemon(cmd)
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "also write debug logs to this file")
	rootCmd.Flags().SortFlags = false
	addDaemonFlags(rootCmd)

	rootCmd.AddCommand(
		newDaemonCmd(a),
		newRunCmd(a),
		newResetCmd(a),
		newAddCmd(a),
		newStatusCmd(a),
		newSyncCmd(a),
		newTerminateCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup reads the config file and installs the process logger. The config
// is not validated here; commands that need folders do that themselves.
func (a *app) setup(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "_CONFIG")
	}

	for key, flag := range map[string]string{
		"log_level":           "log-level",
		"log_file":            "log-file",
		"control_plane.addr":  "http-addr",
		"control_plane.token": "http-token",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	if cfg.Path == "" && path != "" {
		// keep the requested path so add can create it
		cfg.Path = path
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, closer, err := logging.Setup(logging.Options{
		Level:    level,
		Console:  cmd.ErrOrStderr(),
		FilePath: cfg.LogFile,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.closeLog = closer
	return nil
}

func (a *app) close() error {
	if a.closeLog == nil {
		return nil
	}
	err := a.closeLog()
	a.closeLog = nil
	return err
}

// validConfig validates the loaded config in place.
func (a *app) validConfig() (*config.Config, error) {
	if a.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return a.cfg, nil
}

// configPath is where add writes the config.
func (a *app) configPath() string {
	if a.cfg != nil && a.cfg.Path != "" {
		return a.cfg.Path
	}
	return config.DefaultConfigPath
}
