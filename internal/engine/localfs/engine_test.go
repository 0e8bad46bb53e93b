package localfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/treesync/internal/csync"
	"github.com/openmined/treesync/internal/db"
	"github.com/openmined/treesync/internal/engine"
)

type pair struct {
	src, dst, cfg string
}

func newPair(t *testing.T) pair {
	t.Helper()
	root := t.TempDir()
	p := pair{
		src: filepath.Join(root, "src"),
		dst: filepath.Join(root, "dst"),
		cfg: filepath.Join(root, "cfg"),
	}
	require.NoError(t, os.MkdirAll(p.src, 0o755))
	require.NoError(t, os.MkdirAll(p.dst, 0o755))
	return p
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func openEngine(t *testing.T, p pair, excludes ...string) *Engine {
	t.Helper()
	e, err := New(p.src, p.dst)
	require.NoError(t, err)
	require.NoError(t, e.SetConfigDir(p.cfg))
	for _, x := range excludes {
		require.NoError(t, e.AddExcludeList(x))
	}
	return e
}

// syncOnce runs one full cycle and returns the walk instructions by path.
func syncOnce(t *testing.T, p pair, excludes ...string) (map[string]engine.Instruction, *Decisions) {
	t.Helper()
	ctx := context.Background()
	e := openEngine(t, p, excludes...)
	defer e.Destroy()

	require.NoError(t, e.Init(ctx))
	require.NoError(t, e.Update(ctx))

	walked := make(map[string]engine.Instruction)
	var order []string
	require.NoError(t, e.WalkLocalTree(ctx, func(f *engine.TreeWalkFile) error {
		walked[f.Path] = f.Instruction
		order = append(order, f.Path)
		return nil
	}))
	assert.IsNonDecreasing(t, order)

	require.NoError(t, e.Reconcile(ctx))
	require.NoError(t, e.Propagate(ctx))
	return walked, e.Decisions()
}

func TestInitTargetMissing(t *testing.T) {
	p := newPair(t)
	require.NoError(t, os.RemoveAll(p.dst))

	e := openEngine(t, p)
	defer e.Destroy()

	err := e.Init(context.Background())
	require.Error(t, err)
	assert.Equal(t, engine.ErrAccessFailed, engine.CodeOf(err))
	assert.Equal(t, engine.ErrAccessFailed, e.LastErrorCode())
	path, ok := e.StateDBPath()
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(p.src, JournalName), path)
}

func TestTargetMissingRecommendsResetOfJournal(t *testing.T) {
	p := newPair(t)
	syncOnce(t, p)
	journal := filepath.Join(p.src, JournalName)
	require.FileExists(t, journal)
	require.NoError(t, os.RemoveAll(p.dst))

	s, err := csync.New(csync.SessionConfig{
		SourceRoot:      p.src,
		TargetRoot:      p.dst,
		EngineConfigDir: p.cfg,
	}, csync.Credentials{}, Factory)
	require.NoError(t, err)

	signals := make(chan csync.Signal, 16)
	res, err := s.Run(context.Background(), signals)
	require.NoError(t, err)
	close(signals)

	var kinds []csync.SignalKind
	for sig := range signals {
		kinds = append(kinds, sig.Kind)
	}
	assert.Equal(t, []csync.SignalKind{
		csync.SignalStarted,
		csync.SignalStateDBPath,
		csync.SignalError,
		csync.SignalRecommendStateReset,
		csync.SignalFinished,
	}, kinds)
	assert.Equal(t, csync.StateFailed, res.State)
	assert.True(t, res.RecommendStateReset)
	assert.Equal(t, journal, res.StateDBPath)

	require.NoError(t, db.RemoveFiles(res.StateDBPath, db.TempCopySuffix))
	assert.NoFileExists(t, journal)
}

func TestNewRequiresRoots(t *testing.T) {
	_, err := New("", "/dst")
	assert.Equal(t, engine.ErrParam, engine.CodeOf(err))
}

func TestFullSyncCycle(t *testing.T) {
	p := newPair(t)
	writeFile(t, filepath.Join(p.src, "a.txt"), "alpha")
	writeFile(t, filepath.Join(p.src, "dir", "b.txt"), "bravo")
	writeFile(t, filepath.Join(p.dst, "c.txt"), "charlie")

	walked, decisions := syncOnce(t, p)

	assert.Equal(t, map[string]engine.Instruction{
		"a.txt":     engine.InstructionNew,
		"dir":       engine.InstructionNone,
		"dir/b.txt": engine.InstructionNew,
	}, walked)
	assert.Equal(t, 2, decisions.Count(OpWriteRemote))
	assert.Equal(t, 1, decisions.Count(OpWriteLocal))

	assert.Equal(t, "alpha", readFile(t, filepath.Join(p.dst, "a.txt")))
	assert.Equal(t, "bravo", readFile(t, filepath.Join(p.dst, "dir", "b.txt")))
	assert.Equal(t, "charlie", readFile(t, filepath.Join(p.src, "c.txt")))
	assert.FileExists(t, filepath.Join(p.src, JournalName))
	assert.NoFileExists(t, filepath.Join(p.dst, JournalName))

	walked, decisions = syncOnce(t, p)
	for path, in := range walked {
		assert.Equal(t, engine.InstructionNone, in, path)
	}
	assert.False(t, decisions.HasChanges())
}

func TestDeletePropagates(t *testing.T) {
	p := newPair(t)
	writeFile(t, filepath.Join(p.src, "a.txt"), "alpha")
	writeFile(t, filepath.Join(p.src, "b.txt"), "bravo")
	syncOnce(t, p)

	require.NoError(t, os.Remove(filepath.Join(p.src, "a.txt")))
	require.NoError(t, os.Remove(filepath.Join(p.dst, "b.txt")))

	walked, decisions := syncOnce(t, p)
	assert.Equal(t, engine.InstructionRemove, walked["a.txt"])
	assert.Equal(t, 1, decisions.Count(OpDeleteRemote))
	assert.Equal(t, 1, decisions.Count(OpDeleteLocal))
	assert.NoFileExists(t, filepath.Join(p.dst, "a.txt"))
	assert.NoFileExists(t, filepath.Join(p.src, "b.txt"))

	_, decisions = syncOnce(t, p)
	assert.False(t, decisions.HasChanges())
}

func TestConflictKeepsBothCopies(t *testing.T) {
	p := newPair(t)
	writeFile(t, filepath.Join(p.src, "notes.txt"), "v1")
	syncOnce(t, p)

	writeFile(t, filepath.Join(p.src, "notes.txt"), "local edit")
	writeFile(t, filepath.Join(p.dst, "notes.txt"), "remote edit")

	walked, decisions := syncOnce(t, p)
	assert.Equal(t, engine.InstructionEval, walked["notes.txt"])
	assert.Equal(t, 1, decisions.Count(OpConflict))
	assert.Equal(t, "remote edit", readFile(t, filepath.Join(p.src, "notes.txt")))

	matches, err := filepath.Glob(filepath.Join(p.src, "notes.txt.conflict-*"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "local edit", readFile(t, matches[0]))
}

func TestExcludeList(t *testing.T) {
	p := newPair(t)
	exclude := filepath.Join(p.cfg, "sync-exclude.lst")
	writeFile(t, exclude, "# build output\n*.log\n\nbuild/\n")
	writeFile(t, filepath.Join(p.src, "run.log"), "log")
	writeFile(t, filepath.Join(p.src, "build", "out.bin"), "bin")
	writeFile(t, filepath.Join(p.src, "keep.txt"), "keep")

	walked, _ := syncOnce(t, p, exclude)

	assert.Equal(t, engine.InstructionIgnore, walked["run.log"])
	assert.Equal(t, engine.InstructionIgnore, walked["build"])
	assert.NotContains(t, walked, "build/out.bin")
	assert.Equal(t, engine.InstructionNew, walked["keep.txt"])
	assert.NoFileExists(t, filepath.Join(p.dst, "run.log"))
	assert.NoDirExists(t, filepath.Join(p.dst, "build"))
	assert.FileExists(t, filepath.Join(p.dst, "keep.txt"))

	e := openEngine(t, p)
	assert.Error(t, e.AddExcludeList(filepath.Join(p.cfg, "missing.lst")))
}

func TestLockHeldByOtherRun(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	first := openEngine(t, p)
	require.NoError(t, first.Init(ctx))

	second := openEngine(t, p)
	err := second.Init(ctx)
	assert.Equal(t, engine.ErrLock, engine.CodeOf(err))
	require.NoError(t, second.Destroy())

	lockPath := first.LockPath()
	assert.True(t, strings.HasPrefix(lockPath, p.cfg))
	assert.FileExists(t, lockPath)

	require.NoError(t, first.Destroy())
	require.NoError(t, first.Destroy())
	assert.NoFileExists(t, lockPath)
}

func TestLocalOnlyUpdate(t *testing.T) {
	p := newPair(t)
	writeFile(t, filepath.Join(p.src, "a.txt"), "alpha")
	ctx := context.Background()

	e := openEngine(t, p)
	defer e.Destroy()
	e.SetLocalOnly(true)
	require.NoError(t, e.Init(ctx))
	path, ok := e.StateDBPath()
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(p.src, JournalName), path)

	require.NoError(t, e.Update(ctx))
	seen := 0
	require.NoError(t, e.WalkLocalTree(ctx, func(*engine.TreeWalkFile) error { seen++; return nil }))
	assert.Equal(t, 1, seen)

	err := e.Reconcile(ctx)
	assert.Equal(t, engine.ErrReconcile, engine.CodeOf(err))
}

func TestPhaseOrder(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	e := openEngine(t, p)
	defer e.Destroy()

	assert.Equal(t, engine.ErrParam, engine.CodeOf(e.Update(ctx)))
	assert.Equal(t, engine.ErrTree, engine.CodeOf(e.WalkLocalTree(ctx, nil)))
	assert.Equal(t, engine.ErrReconcile, engine.CodeOf(e.Reconcile(ctx)))
	assert.Equal(t, engine.ErrPropagate, engine.CodeOf(e.Propagate(ctx)))
}

func TestWalkCallbackAborts(t *testing.T) {
	p := newPair(t)
	writeFile(t, filepath.Join(p.src, "a.txt"), "a")
	writeFile(t, filepath.Join(p.src, "b.txt"), "b")
	ctx := context.Background()

	e := openEngine(t, p)
	defer e.Destroy()
	require.NoError(t, e.Init(ctx))
	require.NoError(t, e.Update(ctx))

	calls := 0
	err := e.WalkLocalTree(ctx, func(*engine.TreeWalkFile) error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestScannerReusesETag(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "one")
	mtime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	s := newScanner(root, isInternal)
	first, err := s.Scan(context.Background(), nil)
	require.NoError(t, err)

	// same size and mtime: the cached etag is kept even though content changed
	writeFile(t, path, "two")
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	second, err := s.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, first.Files["a.txt"].ETag, second.Files["a.txt"].ETag)
}
