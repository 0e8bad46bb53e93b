package localfs

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/openmined/treesync/internal/utils"
)

type FileMetadata struct {
	Path         string
	Size         int64
	ETag         string
	LastModified time.Time
}

// modified reports whether two versions of a file differ. ETags win when
// both sides carry one.
func modified(a, b *FileMetadata) bool {
	if a == nil || b == nil {
		return a != b
	}
	if a.ETag != "" && b.ETag != "" {
		return a.ETag != b.ETag
	}
	if a.Size != b.Size {
		return true
	}
	return !a.LastModified.Equal(b.LastModified)
}

// ScanResult is one snapshot of a tree. Keys are slash separated paths
// relative to the tree root.
type ScanResult struct {
	Files    map[string]*FileMetadata
	Dirs     map[string]struct{}
	Excluded map[string]bool // value is true for directories
}

// scanner walks a tree and hashes its files. ETags are reused from the
// previous scan when size and mtime are unchanged.
type scanner struct {
	root     string
	internal func(rel string) bool
	last     map[string]*FileMetadata
}

func newScanner(root string, internal func(rel string) bool) *scanner {
	return &scanner{
		root:     root,
		internal: internal,
		last:     make(map[string]*FileMetadata),
	}
}

func (s *scanner) Scan(ctx context.Context, excluded func(rel string, isDir bool) bool) (*ScanResult, error) {
	result := &ScanResult{
		Files:    make(map[string]*FileMetadata),
		Dirs:     make(map[string]struct{}),
		Excluded: make(map[string]bool),
	}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk error: %w", walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := utils.RelSlash(s.root, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		if rel == "." {
			return nil
		}

		if s.internal != nil && s.internal(rel) {
			return nil
		}

		isDir := d.IsDir()
		if excluded != nil && excluded(rel, isDir) {
			result.Excluded[rel] = isDir
			if isDir {
				return filepath.SkipDir
			}
			return nil
		}

		if isDir {
			result.Dirs[rel] = struct{}{}
			return nil
		}
		if !d.Type().IsRegular() {
			// symlinks and devices are not synced
			result.Excluded[rel] = false
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}

		etag := ""
		if prev, ok := s.last[rel]; ok && prev.Size == info.Size() && prev.LastModified.Equal(info.ModTime()) {
			etag = prev.ETag
		} else if etag, err = utils.FileMD5(path); err != nil {
			return fmt.Errorf("hash %s: %w", rel, err)
		}

		result.Files[rel] = &FileMetadata{
			Path:         rel,
			Size:         info.Size(),
			ETag:         etag,
			LastModified: info.ModTime(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}

	s.last = result.Files
	return result, nil
}

// conflictName is the name a local file is moved to when both sides changed.
func conflictName(rel string, now time.Time) string {
	return rel + ".conflict-" + now.UTC().Format("20060102-150405")
}
