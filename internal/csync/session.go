package csync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openmined/treesync/internal/engine"
)

const signalBufferSize = 16

type Option func(*Session)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithPermissionProbe(probe PermissionProbe) Option {
	return func(s *Session) {
		if probe != nil {
			s.probe = probe
		}
	}
}

// Session drives one source/target pair through the engine phases. A session
// runs at most once at a time and may be run again after a run finished.
type Session struct {
	cfg     SessionConfig
	factory engine.Factory
	bridge  *AuthBridge
	logger  *slog.Logger
	probe   PermissionProbe

	runMu sync.Mutex

	mu        sync.Mutex
	state     State
	configDir string
}

func New(cfg SessionConfig, creds Credentials, factory engine.Factory, opts ...Option) (*Session, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if factory == nil {
		return nil, errors.New("engine factory is required")
	}

	s := &Session{
		cfg:     cfg,
		factory: factory,
		logger:  slog.Default(),
		probe:   dirWritable,
		state:   StateCreated,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bridge = NewAuthBridge(creds, s.logger)
	return s, nil
}

func (s *Session) Config() SessionConfig {
	return s.cfg
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EngineConfigDir is the config directory reported by the last engine
// handle, if any was acquired.
func (s *Session) EngineConfigDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configDir
}

// Run executes one sync run on the calling goroutine. Signals are sent to
// signals, which may be nil; the caller must keep receiving until Finished.
func (s *Session) Run(ctx context.Context, signals chan<- Signal) (Result, error) {
	if !s.runMu.TryLock() {
		return Result{}, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	return s.run(ctx, signals), nil
}

// Start executes one sync run on its own goroutine. The returned channel is
// closed after Finished.
func (s *Session) Start(ctx context.Context) (<-chan Signal, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}

	signals := make(chan Signal, signalBufferSize)
	go func() {
		defer close(signals)
		defer s.runMu.Unlock()
		s.run(ctx, signals)
	}()
	return signals, nil
}

func (s *Session) run(ctx context.Context, out chan<- Signal) Result {
	r := &runner{
		session: s,
		out:     out,
		logger:  s.logger,
		result:  Result{RunID: uuid.NewString()},
	}
	r.logger = s.logger.With("run", r.result.RunID)

	s.mu.Lock()
	s.state = StateCreated
	s.mu.Unlock()

	start := time.Now()
	r.logger.Info("sync run started", "source", s.cfg.SourceRoot, "target", s.cfg.TargetRoot, "localOnly", s.cfg.LocalOnly)
	r.emit(Signal{Kind: SignalStarted})

	r.execute(ctx)

	r.result.State = s.State()
	r.result.Duration = time.Since(start)
	r.logger.Info("sync run finished", "state", r.result.State, "duration", r.result.Duration, "errors", len(r.result.Errors))
	r.emit(Signal{Kind: SignalFinished, State: r.result.State})
	return r.result
}

// runner holds the per run bookkeeping.
type runner struct {
	session *Session
	out     chan<- Signal
	logger  *slog.Logger
	result  Result
}

func (r *runner) emit(sig Signal) {
	sig.RunID = r.result.RunID
	if r.out != nil {
		r.out <- sig
	}
}

func (r *runner) errorMessage(msg string) {
	r.result.Errors = append(r.result.Errors, msg)
	r.emit(Signal{Kind: SignalError, Message: msg})
}

func (r *runner) warningMessage(msg string) {
	r.result.Warnings = append(r.result.Warnings, msg)
	r.emit(Signal{Kind: SignalWarning, Message: msg})
}

func (r *runner) setState(next State) bool {
	s := r.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.canAdvance(next) {
		r.logger.Error("invalid state transition", "from", s.state, "to", next)
		return false
	}
	s.state = next
	return true
}

// advance moves to the next phase unless the run was terminated.
func (r *runner) advance(ctx context.Context, next State) bool {
	if ctx.Err() != nil {
		r.logger.Warn("sync run terminated", "state", r.session.State())
		r.errorMessage(MsgTerminated)
		r.setState(StateFailed)
		return false
	}
	return r.setState(next)
}

func (r *runner) fail(phase Phase, eng engine.Engine, err error) Classification {
	code := engine.CodeOf(err)
	if (code == engine.ErrUnspec || code == engine.ErrNone) && eng != nil {
		if last := eng.LastErrorCode(); last != engine.ErrNone {
			code = last
		}
	}

	c := Classify(phase, code, r.session.cfg.TargetRoot)
	r.logger.Error("sync phase failed", "phase", phase, "category", c.Category, "code", c.Code, "error", err)
	return c
}

func (r *runner) execute(ctx context.Context) {
	s := r.session

	eng, err := s.factory(s.cfg.SourceRoot, s.cfg.TargetRoot)
	if eng != nil {
		defer r.destroy(eng)
		r.recordConfigDir(eng)
	}
	if err != nil || eng == nil {
		if err == nil {
			err = engine.NewError(engine.ErrUnspec, "create", errors.New("factory returned no engine"))
		}
		c := r.fail(PhaseCreate, nil, err)
		r.errorMessage(c.Message)
		r.setState(StateFailed)
		return
	}

	if !r.advance(ctx, StateConfiguring) {
		return
	}
	if err := r.configure(eng); err != nil {
		c := r.fail(PhaseInit, eng, err)
		r.errorMessage(c.Message)
		r.setState(StateFailed)
		return
	}

	if err := eng.Init(ctx); err != nil {
		c := r.fail(PhaseInit, eng, err)
		if c.RecommendReset {
			// the caller needs the database name to act on the reset
			r.reportStateDBPath(eng)
		}
		r.errorMessage(c.Message)
		if c.RecommendReset {
			r.result.RecommendStateReset = true
			r.emit(Signal{Kind: SignalRecommendStateReset})
		}
		r.setState(StateFailed)
		return
	}
	r.reportStateDBPath(eng)

	if !r.advance(ctx, StateUpdating) {
		return
	}
	if err := eng.Update(ctx); err != nil {
		c := r.fail(PhaseUpdate, eng, err)
		r.errorMessage(c.Message)
		r.setState(StateFailed)
		return
	}

	if !r.advance(ctx, StateWalking) {
		return
	}
	if !r.walk(ctx, eng) {
		r.setState(StateFailed)
		return
	}

	if s.cfg.LocalOnly {
		r.setState(StateLocalOnlyDone)
		return
	}

	if !r.advance(ctx, StateReconciling) {
		return
	}
	if err := eng.Reconcile(ctx); err != nil {
		c := r.fail(PhaseReconcile, eng, err)
		r.errorMessage(c.Message)
		r.setState(StateFailed)
		return
	}

	if !r.advance(ctx, StatePropagating) {
		return
	}
	if err := eng.Propagate(ctx); err != nil {
		c := r.fail(PhasePropagate, eng, err)
		r.errorMessage(c.Message)
		r.setState(StateFailed)
		return
	}

	r.setState(StateDone)
}

func (r *runner) configure(eng engine.Engine) error {
	s := r.session
	creds := s.bridge.Credentials()

	eng.SetAuthPrompter(s.bridge)
	eng.SetLogSink(engineLogSink(r.logger))

	props := []struct{ key, value string }{
		{engine.PropProxyType, creds.Proxy.Type.String()},
		{engine.PropProxyHost, creds.Proxy.Host},
		{engine.PropProxyPort, strconv.Itoa(creds.Proxy.Port)},
		{engine.PropProxyUser, creds.Proxy.User},
		{engine.PropProxyPassword, creds.Proxy.Password},
	}
	for _, p := range props {
		if err := eng.SetModuleProperty(p.key, p.value); err != nil {
			r.logger.Warn("failed to set module property", "key", p.key, "error", err)
		}
	}

	if s.cfg.EngineConfigDir != "" {
		if err := eng.SetConfigDir(s.cfg.EngineConfigDir); err != nil {
			return fmt.Errorf("set config dir: %w", err)
		}
		r.recordConfigDir(eng)
	}

	if s.cfg.ExcludeListPath != "" {
		if err := eng.AddExcludeList(s.cfg.ExcludeListPath); err != nil {
			r.logger.Warn("failed to load exclude list", "path", s.cfg.ExcludeListPath, "error", err)
		}
	}

	eng.SetLocalOnly(s.cfg.LocalOnly)
	return nil
}

// walk runs the local tree walk and reports its result. It returns false
// when the walk was aborted or failed.
func (r *runner) walk(ctx context.Context, eng engine.Engine) bool {
	collector := NewCollector(r.session.cfg.SourceRoot, r.session.probe)
	err := eng.WalkLocalTree(ctx, collector.Visit)
	items, stats := collector.Result()

	if err != nil {
		r.logger.Error("local tree walk failed", "errorType", stats.ErrorType, "seen", stats.SeenFiles, "error", err)
		switch stats.ErrorType {
		case WalkErrorWalk:
			r.errorMessage(MsgWalkFailed)
		case WalkErrorInstructions:
			r.errorMessage(MsgInvalidInstruction)
		}
		r.errorMessage(MsgSyncNotPossible)
		return false
	}

	if stats.DirPermErrors > 0 {
		r.logger.Warn("write protected directories found", "count", stats.DirPermErrors)
		r.warningMessage(fmt.Sprintf(msgDirPerms, stats.DirPermErrors))
	}

	r.result.Items = items
	r.result.Stats = stats
	r.emit(Signal{Kind: SignalWalkResult, Items: items, Stats: stats})
	return true
}

func (r *runner) reportStateDBPath(eng engine.Engine) {
	path, ok := eng.StateDBPath()
	if !ok || path == "" || r.result.StateDBPath != "" {
		return
	}
	r.result.StateDBPath = path
	r.emit(Signal{Kind: SignalStateDBPath, Path: path})
}

func (r *runner) recordConfigDir(eng engine.Engine) {
	dir := eng.ConfigDir()
	if dir == "" {
		return
	}
	r.session.mu.Lock()
	r.session.configDir = dir
	r.session.mu.Unlock()
}

func (r *runner) destroy(eng engine.Engine) {
	if err := eng.Destroy(); err != nil {
		r.logger.Warn("failed to release engine", "error", err)
	}
}

func engineLogSink(logger *slog.Logger) engine.LogSink {
	l := logger.WithGroup("engine")
	return engine.LogSinkFunc(func(level slog.Level, function, msg string) {
		l.Log(context.Background(), level, msg, "function", function)
	})
}
