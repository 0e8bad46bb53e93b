// Package folder coordinates sync runs for one configured source/target
// pair. A Folder reacts to settled watcher flushes, to its poll timer and to
// manual requests, and keeps the outcome of the last run for status queries.
package folder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/openmined/treesync/internal/csync"
	"github.com/openmined/treesync/internal/db"
	"github.com/openmined/treesync/internal/engine"
	"github.com/openmined/treesync/internal/utils"
	"github.com/openmined/treesync/internal/watcher"
)

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultFullSyncEvery   = 10
	DefaultStatusCacheSize = 4096
)

var (
	ErrFolderNotFound = errors.New("folder not found")
	ErrFolderBusy     = errors.New("folder is busy")
	ErrNotStarted     = errors.New("folder not started")
)

type Config struct {
	Alias         string
	Source        string
	Target        string
	ConfigDir     string
	ExcludeFile   string
	IgnoreFile    string
	EventInterval time.Duration
	PollInterval  time.Duration
	// FullSyncEvery turns every n-th poll into a full sync. The other polls
	// only check the local tree.
	FullSyncEvery int
}

type Option func(*Folder)

func WithClock(clock clockwork.Clock) Option {
	return func(f *Folder) {
		if clock != nil {
			f.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Folder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithWatcherOptions(opts ...watcher.WatcherOption) Option {
	return func(f *Folder) {
		f.watcherOpts = append(f.watcherOpts, opts...)
	}
}

func WithPermissionProbe(probe csync.PermissionProbe) Option {
	return func(f *Folder) {
		f.probe = probe
	}
}

func WithStatusCacheSize(n int) Option {
	return func(f *Folder) {
		if n > 0 {
			f.cacheSize = n
		}
	}
}

type Folder struct {
	cfg         Config
	creds       csync.Credentials
	factory     engine.Factory
	clock       clockwork.Clock
	logger      *slog.Logger
	probe       csync.PermissionProbe
	watcherOpts []watcher.WatcherOption
	cacheSize   int
	statuses    *lru.Cache[string, FileStatus]

	trigger chan struct{}

	mu            sync.Mutex
	watcher       *watcher.Watcher
	busy          bool
	cancelRun     context.CancelFunc
	wipePending   bool
	stateDBPath   string
	lastSeenFiles int
	polls         int
	result        SyncResult
}

func New(cfg Config, creds csync.Credentials, factory engine.Factory, opts ...Option) (*Folder, error) {
	if cfg.Alias == "" {
		return nil, errors.New("folder alias is required")
	}
	if cfg.Source == "" || cfg.Target == "" {
		return nil, fmt.Errorf("folder %q: source and target are required", cfg.Alias)
	}
	if factory == nil {
		return nil, fmt.Errorf("folder %q: engine factory is required", cfg.Alias)
	}
	if cfg.EventInterval <= 0 {
		cfg.EventInterval = watcher.DefaultEventInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FullSyncEvery < 1 {
		cfg.FullSyncEvery = DefaultFullSyncEvery
	}

	f := &Folder{
		cfg:       cfg,
		creds:     creds,
		factory:   factory,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		cacheSize: DefaultStatusCacheSize,
		trigger:   make(chan struct{}, 1),
		result:    SyncResult{Status: StatusNotYetStarted},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("alias", cfg.Alias)

	statuses, err := lru.New[string, FileStatus](f.cacheSize)
	if err != nil {
		return nil, err
	}
	f.statuses = statuses
	return f, nil
}

func (f *Folder) Alias() string {
	return f.cfg.Alias
}

func (f *Folder) Config() Config {
	return f.cfg
}

// Run watches the source tree and syncs until ctx is done. The first sync
// runs once the watcher reports its initial settled state.
func (f *Folder) Run(ctx context.Context) error {
	agg := watcher.NewAggregator(f.cfg.Source,
		watcher.WithEventInterval(f.cfg.EventInterval),
		watcher.WithClock(f.clock),
		watcher.WithIgnoreFile(afero.NewOsFs(), f.cfg.IgnoreFile),
	)
	w := watcher.NewWatcher(agg, f.watcherOpts...)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("folder %q watcher: %w", f.cfg.Alias, err)
	}
	defer w.Stop()

	f.mu.Lock()
	f.watcher = w
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.watcher = nil
		f.mu.Unlock()
	}()

	f.logger.Info("folder start", "source", f.cfg.Source, "target", f.cfg.Target, "poll", f.cfg.PollInterval)

	// a timer and not a ticker so a slow run does not queue up polls
	poll := f.clock.NewTimer(f.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("folder stop")
			return nil

		case set, ok := <-w.Changes():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("folder %q: %w", f.cfg.Alias, watcher.ErrWatcherStopped)
			}
			f.logger.Debug("folder changed", "paths", len(set.Paths), "initial", set.Initial)
			f.sync(ctx, w, false)

		case <-f.trigger:
			f.sync(ctx, w, false)

		case <-poll.Chan():
			f.pollCheck(ctx, w)
			poll.Reset(f.cfg.PollInterval)
		}
	}
}

// SyncNow queues a full sync. A request made while another one is queued is
// merged into it.
func (f *Folder) SyncNow() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.watcher == nil {
		return ErrNotStarted
	}
	if f.busy {
		return ErrFolderBusy
	}
	select {
	case f.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Terminate cancels the active run. The run stops at its next phase
// boundary. It reports whether a run was active.
func (f *Folder) Terminate() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.busy || f.cancelRun == nil {
		return false
	}
	f.logger.Info("folder terminate requested")
	f.cancelRun()
	return true
}

// Wipe removes the engine state database so the next run starts from
// scratch. It fails while a run is active.
func (f *Folder) Wipe() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busy {
		return ErrFolderBusy
	}
	return f.wipeLocked()
}

func (f *Folder) wipeLocked() error {
	f.wipePending = false
	if f.stateDBPath == "" {
		return nil
	}
	f.logger.Info("folder wipe state db", "path", f.stateDBPath)
	if err := db.RemoveFiles(f.stateDBPath, db.TempCopySuffix); err != nil {
		return fmt.Errorf("wipe state db: %w", err)
	}
	f.statuses.Purge()
	f.lastSeenFiles = 0
	return nil
}

// FileStatus reports the state of a path, absolute or relative to the
// source root, as seen by the last completed walk.
func (f *Folder) FileStatus(path string) FileStatus {
	if filepath.IsAbs(path) {
		rel, err := utils.RelSlash(f.cfg.Source, path)
		if err != nil || !utils.IsSubPath(f.cfg.Source, path) {
			return FileNone
		}
		path = rel
	}
	status, ok := f.statuses.Get(filepath.ToSlash(filepath.Clean(path)))
	if !ok {
		return FileNone
	}
	return status
}

// Running reports whether Run is watching the source tree.
func (f *Folder) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watcher != nil
}

func (f *Folder) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *Folder) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := f.result
	result.Errors = append([]string(nil), result.Errors...)
	result.Warnings = append([]string(nil), result.Warnings...)
	if result.Stats != nil {
		stats := *result.Stats
		result.Stats = &stats
	}

	return Status{
		Alias:         f.cfg.Alias,
		Source:        f.cfg.Source,
		Target:        f.cfg.Target,
		Running:       f.watcher != nil,
		Busy:          f.busy,
		LastSeenFiles: f.lastSeenFiles,
		StateDBPath:   f.stateDBPath,
		WipePending:   f.wipePending,
		Result:        result,
	}
}

func (f *Folder) pollCheck(ctx context.Context, w *watcher.Watcher) {
	f.mu.Lock()
	f.polls++
	full := f.polls >= f.cfg.FullSyncEvery
	if full {
		f.polls = 0
	}
	prevSeen := f.lastSeenFiles
	f.mu.Unlock()

	if full {
		f.logger.Debug("folder poll", "mode", "full")
		f.sync(ctx, w, false)
		return
	}

	res := f.sync(ctx, w, true)
	if needsFullSync(res, prevSeen) {
		f.logger.Info("folder local changes found", "seen", res.Stats.SeenFiles, "lastSeen", prevSeen)
		f.sync(ctx, w, false)
	}
}

// needsFullSync decides from a local-only run whether the tree changed
// since the previous walk.
func needsFullSync(res csync.Result, prevSeen int) bool {
	if res.State != csync.StateLocalOnlyDone || res.Stats == nil {
		return false
	}
	return res.Stats.SeenFiles != prevSeen || res.Stats.HasLocalChanges()
}

func (f *Folder) sync(ctx context.Context, w *watcher.Watcher, localOnly bool) csync.Result {
	if ctx.Err() != nil {
		return csync.Result{}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	f.busy = true
	f.cancelRun = cancel
	f.result = SyncResult{Status: StatusRunning, LocalOnly: localOnly, StartedAt: f.clock.Now()}
	if f.wipePending {
		if err := f.wipeLocked(); err != nil {
			f.logger.Warn("folder wipe failed", "error", err)
		}
	}
	f.mu.Unlock()

	// the run's own writes must not trigger the next run
	if err := w.SetEventsEnabled(false); err != nil {
		f.logger.Warn("folder events", "error", err)
	}
	defer func() {
		if err := w.ClearPendingEvents(); err != nil {
			f.logger.Warn("folder events", "error", err)
		}
		if err := w.SetEventsEnabled(true); err != nil {
			f.logger.Warn("folder events", "error", err)
		}
		drain(w.Changes())
	}()

	res, err := f.runSession(runCtx, localOnly)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
	f.cancelRun = nil
	f.result.FinishedAt = f.clock.Now()
	if err != nil {
		f.logger.Error("folder setup failed", "error", err)
		f.result.Status = StatusSetupError
		f.result.Errors = []string{err.Error()}
		return res
	}

	f.result.RunID = res.RunID
	f.result.Errors = res.Errors
	f.result.Warnings = res.Warnings
	f.result.Stats = res.Stats
	f.result.ItemCount = len(res.Items)
	if res.Succeeded() {
		f.result.Status = StatusSuccess
	} else {
		f.result.Status = StatusError
	}
	return res
}

func (f *Folder) runSession(ctx context.Context, localOnly bool) (csync.Result, error) {
	session, err := csync.New(csync.SessionConfig{
		SourceRoot:      f.cfg.Source,
		TargetRoot:      f.cfg.Target,
		LocalOnly:       localOnly,
		ExcludeListPath: f.cfg.ExcludeFile,
		EngineConfigDir: f.cfg.ConfigDir,
	}, f.creds, f.factory, csync.WithLogger(f.logger), csync.WithPermissionProbe(f.probe))
	if err != nil {
		return csync.Result{}, err
	}

	signals := make(chan csync.Signal, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for sig := range signals {
			f.onSignal(sig)
		}
	}()

	res, err := session.Run(ctx, signals)
	close(signals)
	<-done
	return res, err
}

func (f *Folder) onSignal(sig csync.Signal) {
	switch sig.Kind {
	case csync.SignalError:
		f.logger.Error("folder sync error", "run", sig.RunID, "error", sig.Message)
	case csync.SignalWarning:
		f.logger.Warn("folder sync warning", "run", sig.RunID, "warning", sig.Message)
	case csync.SignalStateDBPath:
		f.mu.Lock()
		f.stateDBPath = sig.Path
		f.mu.Unlock()
	case csync.SignalRecommendStateReset:
		f.logger.Warn("folder state db reset recommended", "run", sig.RunID)
		f.mu.Lock()
		f.wipePending = true
		f.mu.Unlock()
	case csync.SignalWalkResult:
		f.statuses.Purge()
		for _, item := range sig.Items {
			f.statuses.Add(item.Path, fileStatusOf(item.Instruction))
		}
		if sig.Stats != nil {
			f.mu.Lock()
			f.lastSeenFiles = sig.Stats.SeenFiles
			f.mu.Unlock()
		}
	}
}

func drain(changes <-chan watcher.ChangeSet) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
