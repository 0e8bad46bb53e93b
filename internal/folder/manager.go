package folder

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/openmined/treesync/internal/config"
	"github.com/openmined/treesync/internal/engine"
)

// Manager owns the configured folders.
type Manager struct {
	folders map[string]*Folder
	order   []string
}

// NewManager builds one Folder per configured pair. cfg must be validated.
func NewManager(cfg *config.Config, factory engine.Factory, opts ...Option) (*Manager, error) {
	m := &Manager{folders: make(map[string]*Folder, len(cfg.Folders))}
	creds := cfg.Credentials()

	for _, fc := range cfg.Folders {
		if _, ok := m.folders[fc.Alias]; ok {
			return nil, fmt.Errorf("folder %q: duplicate alias", fc.Alias)
		}
		f, err := New(Config{
			Alias:         fc.Alias,
			Source:        fc.Source,
			Target:        fc.Target,
			ConfigDir:     cfg.ConfigDir,
			ExcludeFile:   cfg.ExcludeFile,
			IgnoreFile:    cfg.IgnoreFile,
			EventInterval: cfg.EventInterval,
			PollInterval:  cfg.PollInterval,
			FullSyncEvery: cfg.FullSyncEvery,
		}, creds, factory, opts...)
		if err != nil {
			return nil, err
		}
		m.folders[fc.Alias] = f
		m.order = append(m.order, fc.Alias)
	}
	return m, nil
}

// Start runs every folder until ctx is done or one of them fails.
func (m *Manager) Start(ctx context.Context) error {
	slog.Info("folder manager start", "folders", len(m.order))
	g, ctx := errgroup.WithContext(ctx)
	for _, alias := range m.order {
		f := m.folders[alias]
		g.Go(func() error {
			return f.Run(ctx)
		})
	}
	return g.Wait()
}

func (m *Manager) Get(alias string) (*Folder, error) {
	f, ok := m.folders[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, alias)
	}
	return f, nil
}

// List returns the folders in configuration order.
func (m *Manager) List() []*Folder {
	list := make([]*Folder, 0, len(m.order))
	for _, alias := range m.order {
		list = append(list, m.folders[alias])
	}
	return list
}

func (m *Manager) Statuses() []Status {
	statuses := make([]Status, 0, len(m.order))
	for _, f := range m.List() {
		statuses = append(statuses, f.Status())
	}
	return statuses
}
