package folder

import (
	"context"
	"sync"

	"github.com/openmined/treesync/internal/engine"
)

// plan scripts every engine handle its factory hands out.
type plan struct {
	mu sync.Mutex

	files      []*engine.TreeWalkFile
	initErr    error
	dbPath     string
	updateGate chan struct{}
	inUpdate   chan struct{}

	runs []bool
}

func newPlan(files ...*engine.TreeWalkFile) *plan {
	return &plan{files: files}
}

func (p *plan) factory(source, target string) (engine.Engine, error) {
	return &scriptEngine{plan: p}, nil
}

// Runs lists the local-only flag of every initialised handle.
func (p *plan) Runs() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.runs...)
}

func (p *plan) setFiles(files ...*engine.TreeWalkFile) {
	p.mu.Lock()
	p.files = files
	p.mu.Unlock()
}

func (p *plan) setInitErr(err error) {
	p.mu.Lock()
	p.initErr = err
	p.mu.Unlock()
}

type scriptEngine struct {
	plan      *plan
	configDir string
	localOnly bool
	lastCode  engine.ErrorCode
}

func (e *scriptEngine) SetAuthPrompter(engine.AuthPrompter)    {}
func (e *scriptEngine) SetLogSink(engine.LogSink)              {}
func (e *scriptEngine) SetConfigDir(path string) error         { e.configDir = path; return nil }
func (e *scriptEngine) ConfigDir() string                      { return e.configDir }
func (e *scriptEngine) AddExcludeList(string) error            { return nil }
func (e *scriptEngine) SetModuleProperty(string, string) error { return nil }
func (e *scriptEngine) SetLocalOnly(localOnly bool)            { e.localOnly = localOnly }

func (e *scriptEngine) Init(ctx context.Context) error {
	e.plan.mu.Lock()
	defer e.plan.mu.Unlock()
	e.plan.runs = append(e.plan.runs, e.localOnly)
	if e.plan.initErr != nil {
		e.lastCode = engine.CodeOf(e.plan.initErr)
		return e.plan.initErr
	}
	return nil
}

func (e *scriptEngine) Update(ctx context.Context) error {
	e.plan.mu.Lock()
	gate, entered := e.plan.updateGate, e.plan.inUpdate
	e.plan.mu.Unlock()

	if gate == nil {
		return nil
	}
	if entered != nil {
		entered <- struct{}{}
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		e.lastCode = engine.ErrUpdate
		return engine.NewError(engine.ErrUpdate, "update", ctx.Err())
	}
}

func (e *scriptEngine) WalkLocalTree(ctx context.Context, fn engine.WalkFunc) error {
	e.plan.mu.Lock()
	files := append([]*engine.TreeWalkFile(nil), e.plan.files...)
	e.plan.mu.Unlock()

	for _, file := range files {
		copied := *file
		if err := fn(&copied); err != nil {
			return err
		}
	}
	return nil
}

func (e *scriptEngine) Reconcile(context.Context) error { return nil }
func (e *scriptEngine) Propagate(context.Context) error { return nil }
func (e *scriptEngine) Destroy() error                  { return nil }

func (e *scriptEngine) LastErrorCode() engine.ErrorCode { return e.lastCode }

func (e *scriptEngine) StateDBPath() (string, bool) {
	e.plan.mu.Lock()
	defer e.plan.mu.Unlock()
	return e.plan.dbPath, e.plan.dbPath != ""
}
