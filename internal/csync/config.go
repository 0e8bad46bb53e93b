package csync

import (
	"errors"
	"os"
	"strings"
)

// SessionConfig describes one source/target pair.
type SessionConfig struct {
	SourceRoot      string
	TargetRoot      string
	LocalOnly       bool
	ExcludeListPath string
	EngineConfigDir string
}

// Normalize makes both roots end with a path separator.
func (c *SessionConfig) Normalize() {
	c.SourceRoot = withTrailingSeparator(c.SourceRoot)
	c.TargetRoot = withTrailingSeparator(c.TargetRoot)
}

func (c *SessionConfig) Validate() error {
	if strings.TrimSpace(c.SourceRoot) == "" {
		return errors.New("source root is required")
	}
	if strings.TrimSpace(c.TargetRoot) == "" {
		return errors.New("target root is required")
	}
	return nil
}

func withTrailingSeparator(p string) string {
	if p == "" || strings.HasSuffix(p, string(os.PathSeparator)) || strings.HasSuffix(p, "/") {
		return p
	}
	return p + string(os.PathSeparator)
}
