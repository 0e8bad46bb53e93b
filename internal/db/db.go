// Package db opens the SQLite databases used for persisted sync state.
package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openmined/treesync/internal/utils"
)

const memoryPath = ":memory:"

const defaultPragmas = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=NORMAL;
PRAGMA temp_store=MEMORY;
PRAGMA cache_size=2000;
`

// SidecarSuffixes are the files SQLite keeps next to a database in WAL mode.
var SidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// TempCopySuffix names the temporary copy an engine may leave next to its
// state database.
const TempCopySuffix = ".ctmp"

type options struct {
	path         string
	pragmas      string
	busyTimeout  time.Duration
	maxOpenConns int
}

type Option func(*options)

// WithPath sets the database file. The default is an in-memory database.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithPragmas replaces the default pragmas.
func WithPragmas(pragmas string) Option {
	return func(o *options) {
		o.pragmas = pragmas
	}
}

func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.busyTimeout = d
	}
}

func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		o.maxOpenConns = n
	}
}

// NewSqliteDB connects to a SQLite database and applies the pragmas.
func NewSqliteDB(ctx context.Context, opts ...Option) (*sqlx.DB, error) {
	o := &options{
		path:         memoryPath,
		pragmas:      defaultPragmas,
		busyTimeout:  5 * time.Second,
		maxOpenConns: 1,
	}
	for _, opt := range opts {
		opt(o)
	}

	dsn := memoryPath
	if o.path != memoryPath {
		if err := utils.EnsureParent(o.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", o.path)
	}

	slog.Debug("db open", "driver", DriverID, "path", o.path)
	conn, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if o.maxOpenConns > 0 {
		conn.SetMaxOpenConns(o.maxOpenConns)
	}

	pragmas := o.pragmas + fmt.Sprintf("PRAGMA busy_timeout=%d;", o.busyTimeout.Milliseconds())
	if _, err := conn.ExecContext(ctx, pragmas); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	return conn, nil
}

// RemoveFiles deletes a database file together with its sidecar files.
// Files that do not exist are skipped.
func RemoveFiles(path string, extra ...string) error {
	var errs []error
	candidates := []string{path}
	for _, suffix := range slices.Concat(SidecarSuffixes, extra) {
		candidates = append(candidates, path+suffix)
	}

	for _, p := range candidates {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
