package localfs

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

var defaultExcludeLines = []string{
	// partial copies written by propagate
	".*.tmp",
	// editors and OS
	"*~",
	".*.sw?",
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// ExcludeList matches paths relative to a tree root with gitignore rules.
type ExcludeList struct {
	lines   []string
	matcher *gitignore.GitIgnore
}

func NewExcludeList(extra ...string) *ExcludeList {
	lines := append([]string{}, defaultExcludeLines...)
	lines = append(lines, extra...)
	return &ExcludeList{lines: lines, matcher: gitignore.CompileIgnoreLines(lines...)}
}

// LoadExcludeFile adds the rules of an exclude file. Empty lines and
// comments are skipped.
func (e *ExcludeList) LoadExcludeFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open exclude list: %w", err)
	}
	defer f.Close()

	rules := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e.lines = append(e.lines, line)
		rules++
	}
	if err := scanner.Err(); err != nil {
		return rules, fmt.Errorf("read exclude list: %w", err)
	}

	e.matcher = gitignore.CompileIgnoreLines(e.lines...)
	return rules, nil
}

func (e *ExcludeList) Excluded(rel string, isDir bool) bool {
	if e.matcher.MatchesPath(rel) {
		return true
	}
	return isDir && e.matcher.MatchesPath(rel+"/")
}

func (e *ExcludeList) Rules() int {
	return len(e.lines)
}
