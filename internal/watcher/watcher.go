package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/rjeczalik/notify"
)

const (
	rawEventBufferSize = 256
	changeBufferSize   = 4
)

var ErrWatcherStopped = errors.New("watcher stopped")

// ChangeSet is one settled batch of changed paths under Root.
type ChangeSet struct {
	Root  string
	Paths []string
	// Initial marks the first flush after startup, which may be empty.
	Initial bool
}

type WatcherOption func(*Watcher)

// WithoutNotify disables the filesystem backend. Events only arrive
// through Inject.
func WithoutNotify() WatcherOption {
	return func(w *Watcher) {
		w.backend = false
	}
}

// Watcher owns an Aggregator on a single goroutine and feeds it with raw
// events from rjeczalik/notify and from Inject.
type Watcher struct {
	agg     *Aggregator
	backend bool

	notifyEvents chan notify.EventInfo
	raw          chan string
	cmds         chan func(*Aggregator)
	changes      chan ChangeSet

	mu       sync.Mutex
	started  bool
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWatcher(agg *Aggregator, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		agg:     agg,
		backend: true,
		raw:     make(chan string, rawEventBufferSize),
		cmds:    make(chan func(*Aggregator)),
		changes: make(chan ChangeSet, changeBufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) Root() string {
	return w.agg.Root()
}

// Changes delivers flushed change sets. It is closed when the watcher stops.
func (w *Watcher) Changes() <-chan ChangeSet {
	return w.changes
}

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errors.New("watcher already started")
	}

	if w.backend {
		w.notifyEvents = make(chan notify.EventInfo, rawEventBufferSize)
		recursivePath := filepath.Join(w.agg.Root(), "...")
		if err := notify.Watch(recursivePath, w.notifyEvents, notify.All); err != nil {
			return err
		}
	}

	slog.Info("watcher start", "dir", w.agg.Root(), "interval", w.agg.EventInterval())
	w.started = true
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		slog.Info("watcher stopping", "dir", w.agg.Root())
		close(w.done)
		w.mu.Lock()
		if w.notifyEvents != nil {
			notify.Stop(w.notifyEvents)
		}
		w.mu.Unlock()
	})
	w.wg.Wait()
}

// Inject queues a raw event. It never blocks; when the queue is full the
// event is dropped since a flush is already due.
func (w *Watcher) Inject(path string) {
	select {
	case w.raw <- path:
	default:
		slog.Warn("watcher dropped", "reason", "queue full", "path", path)
	}
}

func (w *Watcher) SetEventsEnabled(enabled bool) error {
	return w.exec(func(a *Aggregator) { a.SetEventsEnabled(enabled) })
}

func (w *Watcher) ClearPendingEvents() error {
	return w.exec(func(a *Aggregator) { a.ClearPendingEvents() })
}

func (w *Watcher) Pending() ([]string, error) {
	var paths []string
	err := w.exec(func(a *Aggregator) { paths = a.Pending() })
	return paths, err
}

// exec runs fn on the loop goroutine, or directly when the loop has not
// been started.
func (w *Watcher) exec(fn func(*Aggregator)) error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	if !started {
		fn(w.agg)
		return nil
	}

	ran := make(chan struct{})
	select {
	case w.cmds <- func(a *Aggregator) { fn(a); close(ran) }:
		<-ran
		return nil
	case <-w.stopped:
		return ErrWatcherStopped
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		close(w.stopped)
		close(w.changes)
		w.wg.Done()
		slog.Debug("watcher loop done", "dir", w.agg.Root())
	}()

	events := w.notifyEvents
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.agg.OnRawEvent(event.Path())
		case path := <-w.raw:
			w.agg.OnRawEvent(path)
		case cmd := <-w.cmds:
			cmd(w.agg)
		case <-w.agg.TimerC():
			initial := !w.agg.InitialSyncDone()
			paths, ok := w.agg.HandleTimeout()
			if !ok {
				continue
			}
			set := ChangeSet{Root: w.agg.Root(), Paths: paths, Initial: initial}
			select {
			case w.changes <- set:
			case <-ctx.Done():
				return
			case <-w.done:
				return
			}
		}
	}
}
