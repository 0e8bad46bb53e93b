// Package daemon runs the configured folders together with the control
// plane until the context is cancelled.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openmined/treesync/internal/config"
	"github.com/openmined/treesync/internal/controlplane"
	"github.com/openmined/treesync/internal/engine"
	"github.com/openmined/treesync/internal/folder"
)

const shutdownTimeout = 10 * time.Second

type Daemon struct {
	mgr *folder.Manager
	cps *controlplane.Server
}

// New builds the folder manager and, when an address is configured, the
// control plane. cfg must be validated.
func New(cfg *config.Config, factory engine.Factory, opts ...folder.Option) (*Daemon, error) {
	if len(cfg.Folders) == 0 {
		return nil, config.ErrNoFolders
	}

	mgr, err := folder.NewManager(cfg, factory, opts...)
	if err != nil {
		return nil, err
	}

	d := &Daemon{mgr: mgr}
	if cfg.ControlPlane.Addr != "" {
		d.cps = controlplane.NewServer(controlplane.ManagerFolders(mgr), controlplane.Config{
			Addr:  cfg.ControlPlane.Addr,
			Token: cfg.ControlPlane.Token,
		})
	}
	return d, nil
}

func (d *Daemon) Manager() *folder.Manager {
	return d.mgr
}

func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("daemon start")

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := d.mgr.Start(egCtx); err != nil {
			return fmt.Errorf("folder manager: %w", err)
		}
		return nil
	})

	if d.cps != nil {
		eg.Go(func() error {
			if err := d.cps.Start(egCtx); err != nil {
				return fmt.Errorf("control plane: %w", err)
			}
			return nil
		})

		eg.Go(func() error {
			<-egCtx.Done()
			slog.Info("daemon stopping")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return d.cps.Stop(shutdownCtx)
		})
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}

	slog.Info("daemon stopped")
	return nil
}
