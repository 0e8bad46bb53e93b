package csync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openmined/treesync/internal/engine"
)

type fakeEngine struct {
	mu sync.Mutex

	configDir string
	excludes  []string
	props     map[string]string
	localOnly bool
	prompter  engine.AuthPrompter
	sink      engine.LogSink

	initErr      error
	updateErr    error
	walkErr      error
	reconcileErr error
	propagateErr error
	lastCode     engine.ErrorCode

	files      []*engine.TreeWalkFile
	dbPath     string
	dbPathSet  bool
	initDone   bool
	updateGate chan struct{}
	inUpdate   chan struct{}

	calls    []string
	destroys int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		configDir: "/home/user/.config/treesync",
		props:     make(map[string]string),
		dbPath:    "/data/src/.treesync_journal.db",
	}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Destroys() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroys
}

func (f *fakeEngine) SetAuthPrompter(p engine.AuthPrompter) { f.prompter = p }
func (f *fakeEngine) SetLogSink(s engine.LogSink)           { f.sink = s }

func (f *fakeEngine) SetConfigDir(path string) error {
	f.record("set_config_dir")
	f.configDir = path
	return nil
}

func (f *fakeEngine) ConfigDir() string { return f.configDir }

func (f *fakeEngine) AddExcludeList(path string) error {
	f.excludes = append(f.excludes, path)
	return nil
}

func (f *fakeEngine) SetModuleProperty(key, value string) error {
	f.record("prop:" + key)
	f.props[key] = value
	return nil
}

func (f *fakeEngine) SetLocalOnly(localOnly bool) { f.localOnly = localOnly }

func (f *fakeEngine) Init(ctx context.Context) error {
	f.record("init")
	if f.sink != nil {
		f.sink.EngineLog(slog.LevelDebug, "fake_init", "initializing")
	}
	if f.initErr != nil {
		f.lastCode = engine.CodeOf(f.initErr)
		return f.initErr
	}
	f.initDone = true
	return nil
}

func (f *fakeEngine) Update(ctx context.Context) error {
	f.record("update")
	if f.inUpdate != nil {
		close(f.inUpdate)
	}
	if f.updateGate != nil {
		<-f.updateGate
	}
	return f.updateErr
}

func (f *fakeEngine) WalkLocalTree(ctx context.Context, fn engine.WalkFunc) error {
	f.record("walk")
	for _, file := range f.files {
		if err := fn(file); err != nil {
			return engine.NewError(engine.ErrTree, "walk", err)
		}
	}
	return f.walkErr
}

func (f *fakeEngine) Reconcile(ctx context.Context) error {
	f.record("reconcile")
	return f.reconcileErr
}

func (f *fakeEngine) Propagate(ctx context.Context) error {
	f.record("propagate")
	return f.propagateErr
}

func (f *fakeEngine) Destroy() error {
	f.mu.Lock()
	f.destroys++
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) LastErrorCode() engine.ErrorCode { return f.lastCode }

func (f *fakeEngine) StateDBPath() (string, bool) {
	if !f.initDone && !f.dbPathSet {
		return "", false
	}
	return f.dbPath, true
}

func factoryFor(f *fakeEngine) engine.Factory {
	return func(source, target string) (engine.Engine, error) {
		return f, nil
	}
}
