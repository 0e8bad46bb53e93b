package watcher

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// LoadIgnoreFile reads one glob pattern per line. Empty lines and lines
// starting with # are skipped. A missing file yields no patterns.
func LoadIgnoreFile(fsys afero.Fs, path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}

	var patterns []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ignore file: %w", err)
	}

	return validPatterns(patterns), nil
}

func validPatterns(patterns []string) []string {
	valid := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			slog.Warn("invalid ignore pattern dropped", "pattern", p)
			continue
		}
		valid = append(valid, p)
	}
	return valid
}
