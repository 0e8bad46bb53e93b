// Package localfs is a tree-sync engine for a target tree on a locally
// mounted filesystem.
package localfs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/openmined/treesync/internal/engine"
	"github.com/openmined/treesync/internal/utils"
)

const (
	// JournalName is the state database kept in the source root.
	JournalName = ".treesync_journal.db"
	lockPrefix  = "treesync-"
	lockSuffix  = ".lock"
)

var (
	ErrNotInitialized = errors.New("engine not initialized")
	ErrNotUpdated     = errors.New("update has not run")
	ErrNotReconciled  = errors.New("reconcile has not run")
	ErrDestroyed      = errors.New("engine destroyed")
)

var _ engine.Engine = (*Engine)(nil)

// Engine syncs a source tree with a target tree, both reachable through
// the local filesystem. Each handle serves one run.
type Engine struct {
	mu sync.Mutex

	source    string
	target    string
	dbPath    string
	configDir string
	excludes  []string
	props     map[string]string
	localOnly bool
	prompter  engine.AuthPrompter
	sink      engine.LogSink

	lock      *flock.Flock
	journal   *Journal
	exclude   *ExcludeList
	local     *scanner
	remote    *scanner
	lastCode  engine.ErrorCode
	destroyed bool

	localScan    *ScanResult
	remoteScan   *ScanResult
	journalState map[string]*FileMetadata
	decisions    *Decisions
}

// Factory adapts New to engine.Factory.
func Factory(source, target string) (engine.Engine, error) {
	e, err := New(source, target)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func New(source, target string) (*Engine, error) {
	if strings.TrimSpace(source) == "" || strings.TrimSpace(target) == "" {
		return nil, engine.NewError(engine.ErrParam, "create", errors.New("source and target are required"))
	}

	configDir := ""
	if dir, err := os.UserConfigDir(); err == nil {
		configDir = filepath.Join(dir, "treesync")
	}

	e := &Engine{
		source:    filepath.Clean(source),
		target:    filepath.Clean(target),
		configDir: configDir,
		dbPath:    filepath.Join(filepath.Clean(source), JournalName),
		props:     make(map[string]string),
	}
	e.local = newScanner(e.source, isInternal)
	e.remote = newScanner(e.target, isInternal)
	return e, nil
}

func (e *Engine) SetAuthPrompter(p engine.AuthPrompter) {
	e.mu.Lock()
	e.prompter = p
	e.mu.Unlock()
}

func (e *Engine) SetLogSink(s engine.LogSink) {
	e.mu.Lock()
	e.sink = s
	e.mu.Unlock()
}

func (e *Engine) SetConfigDir(path string) error {
	if strings.TrimSpace(path) == "" {
		return e.fail(engine.ErrParam, "set_config_dir", errors.New("empty config dir"))
	}
	e.mu.Lock()
	e.configDir = filepath.Clean(path)
	e.mu.Unlock()
	return nil
}

func (e *Engine) ConfigDir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configDir
}

func (e *Engine) AddExcludeList(path string) error {
	if !utils.FileExists(path) {
		return e.fail(engine.ErrParam, "add_exclude_list", fmt.Errorf("exclude list %s not found", path))
	}
	e.mu.Lock()
	e.excludes = append(e.excludes, path)
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetModuleProperty(key, value string) error {
	if key == "" {
		return e.fail(engine.ErrParam, "set_module_property", errors.New("empty key"))
	}
	e.mu.Lock()
	e.props[key] = value
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetLocalOnly(localOnly bool) {
	e.mu.Lock()
	e.localOnly = localOnly
	e.mu.Unlock()
}

func (e *Engine) LastErrorCode() engine.ErrorCode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCode
}

// StateDBPath is fixed by the source root, so it is known even when Init
// fails before the journal is opened.
func (e *Engine) StateDBPath() (string, bool) {
	return e.dbPath, true
}

// LockPath is the run lock of this source/target pair inside the config dir.
func (e *Engine) LockPath() string {
	sum := md5.Sum([]byte(e.source + "\x00" + e.target))
	return filepath.Join(e.ConfigDir(), lockPrefix+hex.EncodeToString(sum[:8])+lockSuffix)
}

func (e *Engine) Init(ctx context.Context) error {
	const op = "init"

	if e.isDestroyed() {
		return e.fail(engine.ErrParam, op, ErrDestroyed)
	}
	if !utils.DirExists(e.target) {
		return e.fail(engine.ErrAccessFailed, op, fmt.Errorf("target %s does not exist", e.target))
	}
	if !utils.DirExists(e.source) {
		return e.fail(engine.ErrLocalStat, op, fmt.Errorf("source %s does not exist", e.source))
	}
	if err := ctx.Err(); err != nil {
		return e.fail(engine.ErrUnspec, op, err)
	}

	configDir := e.ConfigDir()
	if configDir == "" {
		return e.fail(engine.ErrParam, op, errors.New("no config dir"))
	}
	if err := utils.EnsureDir(configDir); err != nil {
		return e.fail(engine.ErrLocalCreate, op, fmt.Errorf("create config dir: %w", err))
	}

	lock := flock.New(e.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return e.fail(engine.ErrLock, op, fmt.Errorf("lock %s: %w", lock.Path(), err))
	}
	if !locked {
		return e.fail(engine.ErrLock, op, fmt.Errorf("%s is held by another run", lock.Path()))
	}
	e.mu.Lock()
	e.lock = lock
	e.mu.Unlock()

	journal, err := OpenJournal(ctx, e.dbPath)
	if err != nil {
		return e.fail(engine.ErrStateDBLoad, op, err)
	}

	exclude := NewExcludeList()
	e.mu.Lock()
	excludes := slices.Clone(e.excludes)
	props := e.props
	e.mu.Unlock()
	for _, path := range excludes {
		rules, err := exclude.LoadExcludeFile(path)
		if err != nil {
			e.log(slog.LevelWarn, op, fmt.Sprintf("exclude list %s skipped: %v", path, err))
			continue
		}
		e.log(slog.LevelDebug, op, fmt.Sprintf("exclude list %s loaded with %d rules", path, rules))
	}

	if proxy := props[engine.PropProxyType]; proxy != "" && proxy != "NoProxy" {
		e.log(slog.LevelInfo, op, fmt.Sprintf("proxy %s ignored for a local target", proxy))
	}

	e.mu.Lock()
	e.journal = journal
	e.exclude = exclude
	e.mu.Unlock()

	e.log(slog.LevelDebug, op, fmt.Sprintf("initialized %s -> %s", e.source, e.target))
	return nil
}

func (e *Engine) Update(ctx context.Context) error {
	const op = "update"

	if e.journalOrNil() == nil {
		return e.fail(engine.ErrParam, op, ErrNotInitialized)
	}

	localScan, err := e.local.Scan(ctx, e.exclude.Excluded)
	if err != nil {
		return e.fail(engine.ErrLocalStat, op, err)
	}

	remoteScan := &ScanResult{}
	if !e.isLocalOnly() {
		if !utils.DirExists(e.target) {
			return e.fail(engine.ErrAccessFailed, op, fmt.Errorf("target %s vanished", e.target))
		}
		if remoteScan, err = e.remote.Scan(ctx, e.exclude.Excluded); err != nil {
			return e.fail(engine.ErrRemoteStat, op, err)
		}
	}

	journalState, err := e.journal.State(ctx)
	if err != nil {
		return e.fail(engine.ErrUpdate, op, err)
	}

	e.mu.Lock()
	e.localScan = localScan
	e.remoteScan = remoteScan
	e.journalState = journalState
	e.decisions = nil
	e.mu.Unlock()

	e.log(slog.LevelDebug, op, fmt.Sprintf("local %d files, remote %d files, journal %d entries",
		len(localScan.Files), len(remoteScan.Files), len(journalState)))
	return nil
}

// WalkLocalTree reports every source entry and every journaled path that
// vanished locally, in path order.
func (e *Engine) WalkLocalTree(ctx context.Context, fn engine.WalkFunc) error {
	const op = "walk"

	e.mu.Lock()
	scan, journal := e.localScan, e.journalState
	e.mu.Unlock()
	if scan == nil {
		return e.fail(engine.ErrTree, op, ErrNotUpdated)
	}

	for _, file := range walkEntries(scan, journal, e.exclude.Excluded) {
		if err := ctx.Err(); err != nil {
			return e.fail(engine.ErrTree, op, err)
		}
		if err := fn(file); err != nil {
			return e.fail(engine.ErrTree, op, fmt.Errorf("walk stopped at %s: %w", file.Path, err))
		}
	}
	return nil
}

func walkEntries(scan *ScanResult, journal map[string]*FileMetadata, excluded func(string, bool) bool) []*engine.TreeWalkFile {
	entries := make(map[string]*engine.TreeWalkFile, len(scan.Files)+len(scan.Dirs)+len(scan.Excluded))

	for rel, isDir := range scan.Excluded {
		entries[rel] = &engine.TreeWalkFile{Path: rel, Instruction: engine.InstructionIgnore, IsDir: isDir}
	}
	for rel := range scan.Dirs {
		entries[rel] = &engine.TreeWalkFile{Path: rel, Instruction: engine.InstructionNone, IsDir: true}
	}
	for rel, meta := range scan.Files {
		in := engine.InstructionNone
		if synced, ok := journal[rel]; !ok {
			in = engine.InstructionNew
		} else if modified(meta, synced) {
			in = engine.InstructionEval
		}
		entries[rel] = &engine.TreeWalkFile{Path: rel, Instruction: in}
	}
	for rel := range journal {
		if _, seen := entries[rel]; seen {
			continue
		}
		in := engine.InstructionRemove
		if excluded(rel, false) {
			in = engine.InstructionIgnore
		}
		entries[rel] = &engine.TreeWalkFile{Path: rel, Instruction: in}
	}

	out := make([]*engine.TreeWalkFile, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	slices.SortFunc(out, func(a, b *engine.TreeWalkFile) int {
		return strings.Compare(a.Path, b.Path)
	})
	return out
}

func (e *Engine) Reconcile(ctx context.Context) error {
	const op = "reconcile"

	e.mu.Lock()
	localScan, remoteScan, journal := e.localScan, e.remoteScan, e.journalState
	localOnly := e.localOnly
	e.mu.Unlock()

	if localScan == nil {
		return e.fail(engine.ErrReconcile, op, ErrNotUpdated)
	}
	if localOnly {
		return e.fail(engine.ErrReconcile, op, errors.New("local only run has no target state"))
	}
	if err := ctx.Err(); err != nil {
		return e.fail(engine.ErrReconcile, op, err)
	}

	excluded := func(rel string) bool { return e.exclude.Excluded(rel, false) }
	decisions := reconcile(localScan.Files, remoteScan.Files, journal, excluded)

	e.mu.Lock()
	e.decisions = decisions
	e.mu.Unlock()

	if decisions.HasChanges() {
		e.log(slog.LevelInfo, op, fmt.Sprintf("uploads %d, downloads %d, remote deletes %d, local deletes %d, conflicts %d, cleanups %d",
			decisions.Count(OpWriteRemote), decisions.Count(OpWriteLocal),
			decisions.Count(OpDeleteRemote), decisions.Count(OpDeleteLocal),
			decisions.Count(OpConflict), len(decisions.Cleanups)))
	}
	return nil
}

// Decisions returns the result of the last reconcile.
func (e *Engine) Decisions() *Decisions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decisions
}

func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil
	}
	e.destroyed = true

	var errs []error
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	if e.lock != nil {
		if err := e.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlock: %w", err))
		}
		if err := os.Remove(e.lock.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove lock: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) fail(code engine.ErrorCode, op string, err error) error {
	e.mu.Lock()
	e.lastCode = code
	e.mu.Unlock()

	e.log(slog.LevelError, op, err.Error())
	return engine.NewError(code, op, err)
}

func (e *Engine) log(level slog.Level, function, msg string) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()

	if sink != nil {
		sink.EngineLog(level, function, msg)
		return
	}
	slog.Log(context.Background(), level, msg, "function", function)
}

func (e *Engine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

func (e *Engine) isLocalOnly() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localOnly
}

func (e *Engine) journalOrNil() *Journal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.journal
}

// isInternal matches the engine's own files in a tree root.
func isInternal(rel string) bool {
	return strings.HasPrefix(rel, JournalName)
}
