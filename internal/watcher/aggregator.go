// Package watcher turns raw filesystem events into settled change sets.
//
// The Aggregator is a debounce state machine. It is not safe for concurrent
// use: the Watcher owns one on a single goroutine and feeds it from its own
// queue.
package watcher

import (
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

const DefaultEventInterval = time.Second

type AggregatorState int

const (
	StateIdle AggregatorState = iota
	StatePending
)

func (s AggregatorState) String() string {
	if s == StatePending {
		return "pending"
	}
	return "idle"
}

type AggregatorOption func(*Aggregator)

func WithEventInterval(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

func WithClock(clock clockwork.Clock) AggregatorOption {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

func WithIgnorePatterns(patterns []string) AggregatorOption {
	return func(a *Aggregator) {
		a.patterns = append(a.patterns, validPatterns(patterns)...)
	}
}

// WithIgnoreFile loads patterns from an ignore file at construction. A
// missing file is not an error.
func WithIgnoreFile(fs afero.Fs, path string) AggregatorOption {
	return func(a *Aggregator) {
		patterns, err := LoadIgnoreFile(fs, path)
		if err != nil {
			slog.Warn("ignore file not loaded", "path", path, "error", err)
			return
		}
		a.patterns = append(a.patterns, patterns...)
	}
}

// WithChangeHandler is called with every flushed snapshot.
func WithChangeHandler(fn func(paths []string)) AggregatorOption {
	return func(a *Aggregator) {
		a.handler = fn
	}
}

type Aggregator struct {
	root     string
	interval time.Duration
	clock    clockwork.Clock
	patterns []string
	handler  func(paths []string)

	pending         mapset.Set[string]
	timer           clockwork.Timer
	armed           bool
	enabled         bool
	initialSyncDone bool
}

// NewAggregator builds an aggregator for root and arms the timer for the
// initial settled notification.
func NewAggregator(root string, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		root:     filepath.Clean(root),
		interval: DefaultEventInterval,
		clock:    clockwork.NewRealClock(),
		pending:  mapset.NewThreadUnsafeSet[string](),
		enabled:  true,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.timer = a.clock.NewTimer(a.interval)
	a.armed = true
	return a
}

func (a *Aggregator) Root() string {
	return a.root
}

func (a *Aggregator) State() AggregatorState {
	if a.armed {
		return StatePending
	}
	return StateIdle
}

func (a *Aggregator) EventInterval() time.Duration {
	return a.interval
}

// SetEventInterval applies from the next arming of the timer.
func (a *Aggregator) SetEventInterval(d time.Duration) {
	if d > 0 {
		a.interval = d
	}
}

func (a *Aggregator) EventsEnabled() bool {
	return a.enabled
}

func (a *Aggregator) InitialSyncDone() bool {
	return a.initialSyncDone
}

func (a *Aggregator) IgnorePatterns() []string {
	return slices.Clone(a.patterns)
}

// TimerC delivers timer fires. The owner calls HandleTimeout for each.
func (a *Aggregator) TimerC() <-chan time.Time {
	return a.timer.Chan()
}

// OnRawEvent records a changed path and pushes the flush deadline out by a
// full interval.
func (a *Aggregator) OnRawEvent(path string) {
	if !a.enabled || path == "" {
		return
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(a.root, path)
	}
	path = filepath.Clean(path)

	if a.Ignored(path) {
		slog.Debug("watcher ignored", "path", path)
		return
	}

	a.pending.Add(path)
	a.arm()
}

// Ignored reports whether path matches an ignore pattern, tried against the
// full path, the root relative path and the base name.
func (a *Aggregator) Ignored(path string) bool {
	if len(a.patterns) == 0 {
		return false
	}

	candidates := []string{filepath.ToSlash(path), filepath.Base(path)}
	if rel, err := filepath.Rel(a.root, path); err == nil && rel != "." {
		candidates = append(candidates, filepath.ToSlash(rel))
	}

	for _, pattern := range a.patterns {
		for _, name := range candidates {
			if ok, _ := doublestar.Match(pattern, name); ok {
				return true
			}
		}
	}
	return false
}

// HandleTimeout processes one timer fire. It returns the flushed snapshot
// and true when a change set was emitted.
func (a *Aggregator) HandleTimeout() ([]string, bool) {
	if !a.armed {
		// stale fire from a timer stopped after it expired
		return nil, false
	}
	a.armed = false

	if a.pending.Cardinality() == 0 && a.initialSyncDone {
		return nil, false
	}

	paths := a.pending.ToSlice()
	slices.Sort(paths)
	a.pending.Clear()
	a.initialSyncDone = true

	slog.Debug("watcher flush", "root", a.root, "paths", len(paths))
	if a.handler != nil {
		a.handler(paths)
	}
	return paths, true
}

// SetEventsEnabled pauses or resumes event intake. Pending paths survive a
// pause and are flushed after the next resume.
func (a *Aggregator) SetEventsEnabled(enabled bool) {
	a.enabled = enabled
	if !enabled {
		a.disarm()
		return
	}
	if a.pending.Cardinality() > 0 || !a.initialSyncDone {
		a.arm()
	}
}

// ClearPendingEvents drops all pending paths and stops the timer.
func (a *Aggregator) ClearPendingEvents() {
	a.disarm()
	a.pending.Clear()
}

func (a *Aggregator) Pending() []string {
	paths := a.pending.ToSlice()
	slices.Sort(paths)
	return paths
}

func (a *Aggregator) arm() {
	a.stopTimer()
	a.timer.Reset(a.interval)
	a.armed = true
}

func (a *Aggregator) disarm() {
	a.stopTimer()
	a.armed = false
}

func (a *Aggregator) stopTimer() {
	if !a.timer.Stop() {
		select {
		case <-a.timer.Chan():
		default:
		}
	}
}
