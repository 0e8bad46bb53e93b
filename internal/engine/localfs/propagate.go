package localfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/treesync/internal/engine"
	"github.com/openmined/treesync/internal/utils"
)

// Propagate executes the reconcile decisions. A failed operation does not
// stop the others; the journal is only updated for operations that
// succeeded.
func (e *Engine) Propagate(ctx context.Context) error {
	const op = "propagate"

	decisions := e.Decisions()
	if decisions == nil {
		return e.fail(engine.ErrPropagate, op, ErrNotReconciled)
	}

	var (
		errs     []error
		failCode = engine.ErrNone
	)
	record := func(code engine.ErrorCode, err error) {
		errs = append(errs, err)
		if failCode == engine.ErrNone {
			failCode = code
		}
	}

	for _, o := range decisions.Operations {
		if err := ctx.Err(); err != nil {
			return e.fail(engine.ErrPropagate, op, err)
		}
		if code, err := e.apply(ctx, o); err != nil {
			e.log(slog.LevelWarn, op, fmt.Sprintf("%s %s: %v", o.Op, o.RelPath, err))
			record(code, fmt.Errorf("%s %s: %w", o.Op, o.RelPath, err))
		}
	}

	for _, path := range decisions.Cleanups {
		if err := e.journal.Delete(ctx, path); err != nil {
			record(engine.ErrPropagate, err)
		}
	}

	if len(errs) > 0 {
		return e.fail(failCode, op, errors.Join(errs...))
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, o *Operation) (engine.ErrorCode, error) {
	localPath := filepath.Join(e.source, filepath.FromSlash(o.RelPath))
	remotePath := filepath.Join(e.target, filepath.FromSlash(o.RelPath))

	switch o.Op {
	case OpWriteRemote:
		if err := utils.CopyFile(localPath, remotePath); err != nil {
			return engine.ErrRemoteCreate, err
		}
		return e.journalSet(ctx, o.Local)

	case OpWriteLocal:
		if err := utils.CopyFile(remotePath, localPath); err != nil {
			return engine.ErrLocalCreate, err
		}
		return e.journalSet(ctx, o.Remote)

	case OpDeleteRemote:
		if err := os.Remove(remotePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return engine.ErrRemoteCreate, err
		}
		return e.journalDelete(ctx, o.RelPath)

	case OpDeleteLocal:
		if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return engine.ErrLocalCreate, err
		}
		return e.journalDelete(ctx, o.RelPath)

	case OpConflict:
		// the local edit survives under a new name, the target wins the path
		backup := filepath.Join(e.source, filepath.FromSlash(conflictName(o.RelPath, time.Now())))
		if err := os.Rename(localPath, backup); err != nil {
			return engine.ErrLocalCreate, err
		}
		if err := utils.CopyFile(remotePath, localPath); err != nil {
			return engine.ErrLocalCreate, err
		}
		e.log(slog.LevelInfo, "propagate", fmt.Sprintf("conflict on %s, local copy kept as %s", o.RelPath, filepath.Base(backup)))
		return e.journalSet(ctx, o.Remote)

	case OpJournal:
		return e.journalSet(ctx, o.Local)
	}

	return engine.ErrPropagate, fmt.Errorf("unknown operation %d", o.Op)
}

func (e *Engine) journalSet(ctx context.Context, meta *FileMetadata) (engine.ErrorCode, error) {
	if err := e.journal.Set(ctx, meta); err != nil {
		return engine.ErrPropagate, err
	}
	return engine.ErrNone, nil
}

func (e *Engine) journalDelete(ctx context.Context, rel string) (engine.ErrorCode, error) {
	if err := e.journal.Delete(ctx, rel); err != nil {
		return engine.ErrPropagate, err
	}
	return engine.ErrNone, nil
}
