package csync

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/openmined/treesync/internal/engine"
)

// WalkErrorType records the worst anomaly seen during a local walk.
type WalkErrorType int

const (
	WalkErrorNone WalkErrorType = iota
	WalkErrorDirPerms
	WalkErrorInstructions
	WalkErrorWalk
)

func (t WalkErrorType) String() string {
	switch t {
	case WalkErrorNone:
		return "none"
	case WalkErrorDirPerms:
		return "dir_perms"
	case WalkErrorInstructions:
		return "instructions"
	case WalkErrorWalk:
		return "walk"
	default:
		return "unknown"
	}
}

func (t WalkErrorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *WalkErrorType) UnmarshalText(text []byte) error {
	for _, candidate := range []WalkErrorType{WalkErrorNone, WalkErrorDirPerms, WalkErrorInstructions, WalkErrorWalk} {
		if candidate.String() == string(text) {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown walk error type %q", text)
}

// Recoverable reports whether the walk may continue with this error type.
func (t WalkErrorType) Recoverable() bool {
	return t == WalkErrorNone || t == WalkErrorDirPerms
}

// WalkStatistics are the per-run classification counters.
//
// Eval+Removed+Renamed+NewFiles+Conflicts+Ignores+Sync+Error equals SeenFiles
// minus the entries whose instruction was None.
type WalkStatistics struct {
	SeenFiles     int           `json:"seen_files"`
	Eval          int           `json:"eval"`
	Removed       int           `json:"removed"`
	Renamed       int           `json:"renamed"`
	NewFiles      int           `json:"new_files"`
	Conflicts     int           `json:"conflicts"`
	Ignores       int           `json:"ignores"`
	Sync          int           `json:"sync"`
	Error         int           `json:"error"`
	DirPermErrors int           `json:"dir_perm_errors"`
	ErrorType     WalkErrorType `json:"error_type"`
}

// Bucketed is the sum of all instruction buckets.
func (s *WalkStatistics) Bucketed() int {
	return s.Eval + s.Removed + s.Renamed + s.NewFiles + s.Conflicts + s.Ignores + s.Sync + s.Error
}

// HasLocalChanges reports whether a local-only walk saw anything that needs
// a full sync.
func (s *WalkStatistics) HasLocalChanges() bool {
	return s.Eval > 0 || s.Removed > 0 || s.Renamed > 0 || s.NewFiles > 0 || s.Conflicts > 0 || s.Sync > 0
}

// SyncItem is one classified entry of the local tree.
type SyncItem struct {
	Path        string             `json:"path"`
	Instruction engine.Instruction `json:"instruction"`
}

// PermissionProbe reports whether the directory at path is writable and
// searchable by this process.
type PermissionProbe func(path string) bool

// Collector accumulates walk statistics and the result sequence of one run.
// All methods are safe for concurrent use by engine walker goroutines.
type Collector struct {
	mu        sync.Mutex
	source    string
	probe     PermissionProbe
	stats     *WalkStatistics
	items     []SyncItem
	permCache map[string]bool
	sealed    bool
}

func NewCollector(source string, probe PermissionProbe) *Collector {
	if probe == nil {
		probe = dirWritable
	}
	return &Collector{
		source:    source,
		probe:     probe,
		stats:     &WalkStatistics{},
		items:     make([]SyncItem, 0, 64),
		permCache: make(map[string]bool),
	}
}

// RecordStats counts one entry. It returns true when the walk must abort.
func (c *Collector) RecordStats(file *engine.TreeWalkFile) bool {
	if file == nil {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.SeenFiles++

	switch file.Instruction {
	case engine.InstructionNone:
		// counted as seen only
	case engine.InstructionEval:
		c.stats.Eval++
	case engine.InstructionRemove:
		c.stats.Removed++
	case engine.InstructionRename:
		c.stats.Renamed++
	case engine.InstructionNew:
		c.stats.NewFiles++
	case engine.InstructionConflict:
		c.stats.Conflicts++
	case engine.InstructionIgnore:
		c.stats.Ignores++
	case engine.InstructionSync:
		c.stats.Sync++
	case engine.InstructionStatError, engine.InstructionError,
		engine.InstructionDeleted, engine.InstructionUpdated:
		// propagator states have no business in a local walk
		c.stats.Error++
		c.stats.ErrorType = WalkErrorInstructions
	default:
		c.stats.Error++
		c.stats.ErrorType = WalkErrorWalk
	}

	return !c.stats.ErrorType.Recoverable()
}

// TreeWalkFile checks the permissions of the entry's directory and appends
// the entry to the result sequence. Permission problems never abort.
func (c *Collector) TreeWalkFile(file *engine.TreeWalkFile) error {
	if file == nil {
		return ErrWalkAborted
	}

	dir := filepath.Dir(filepath.Join(c.source, filepath.FromSlash(file.Path)))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return ErrCollectorSealed
	}

	ok, cached := c.permCache[dir]
	if !cached {
		ok = c.probe(dir)
		c.permCache[dir] = ok
	}
	if !ok {
		c.stats.DirPermErrors++
		if c.stats.ErrorType == WalkErrorNone {
			c.stats.ErrorType = WalkErrorDirPerms
		}
	}

	c.items = append(c.items, SyncItem{Path: file.Path, Instruction: file.Instruction})
	return nil
}

// Visit is the engine.WalkFunc of a run.
func (c *Collector) Visit(file *engine.TreeWalkFile) error {
	c.mu.Lock()
	sealed := c.sealed
	c.mu.Unlock()
	if sealed {
		return ErrCollectorSealed
	}

	if c.RecordStats(file) {
		return ErrWalkAborted
	}
	return c.TreeWalkFile(file)
}

// Stats returns a copy of the current counters.
func (c *Collector) Stats() WalkStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.stats
}

// Result hands the items and statistics over to the caller. The collector
// refuses further entries afterwards.
func (c *Collector) Result() ([]SyncItem, *WalkStatistics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sealed = true
	return c.items, c.stats
}
