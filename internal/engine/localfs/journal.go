package localfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openmined/treesync/internal/db"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS journal (
    path TEXT PRIMARY KEY,
    etag TEXT NOT NULL,
    size INTEGER NOT NULL,
    last_modified TEXT NOT NULL
);
`

type journalRow struct {
	Path         string `db:"path"`
	ETag         string `db:"etag"`
	Size         int64  `db:"size"`
	LastModified string `db:"last_modified"`
}

func (r *journalRow) metadata() (*FileMetadata, error) {
	mtime, err := time.Parse(time.RFC3339Nano, r.LastModified)
	if err != nil {
		return nil, fmt.Errorf("parse last_modified for %s: %w", r.Path, err)
	}
	return &FileMetadata{Path: r.Path, ETag: r.ETag, Size: r.Size, LastModified: mtime}, nil
}

// Journal records the last synced version of every path.
type Journal struct {
	db   *sqlx.DB
	path string
}

func OpenJournal(ctx context.Context, path string) (*Journal, error) {
	conn, err := db.NewSqliteDB(ctx, db.WithPath(path))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := conn.ExecContext(ctx, journalSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}
	return &Journal{db: conn, path: path}, nil
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Get returns nil without error when path is unknown.
func (j *Journal) Get(ctx context.Context, path string) (*FileMetadata, error) {
	var row journalRow
	err := j.db.GetContext(ctx, &row, "SELECT path, etag, size, last_modified FROM journal WHERE path = ?", path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("query %s: %w", path, err)
	}
	return row.metadata()
}

func (j *Journal) Set(ctx context.Context, meta *FileMetadata) error {
	if meta == nil {
		return errors.New("cannot journal nil metadata")
	}
	row := journalRow{
		Path:         meta.Path,
		ETag:         meta.ETag,
		Size:         meta.Size,
		LastModified: meta.LastModified.UTC().Format(time.RFC3339Nano),
	}
	_, err := j.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO journal (path, etag, size, last_modified)
		VALUES (:path, :etag, :size, :last_modified)`, row)
	if err != nil {
		return fmt.Errorf("journal %s: %w", meta.Path, err)
	}
	return nil
}

func (j *Journal) Delete(ctx context.Context, path string) error {
	if _, err := j.db.ExecContext(ctx, "DELETE FROM journal WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM journal"); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return n, nil
}

// State loads the whole journal. Rows with a corrupt timestamp are skipped.
func (j *Journal) State(ctx context.Context) (map[string]*FileMetadata, error) {
	var rows []journalRow
	if err := j.db.SelectContext(ctx, &rows, "SELECT path, etag, size, last_modified FROM journal"); err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}

	state := make(map[string]*FileMetadata, len(rows))
	for i := range rows {
		meta, err := rows[i].metadata()
		if err != nil {
			slog.Warn("journal row skipped", "path", rows[i].Path, "error", err)
			continue
		}
		state[meta.Path] = meta
	}
	return state, nil
}
