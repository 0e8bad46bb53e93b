// Package logging builds the process logger: a coloured console handler and
// an optional plain-text file handler, fanned out behind one slog.Logger.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/openmined/treesync/internal/utils"
)

type Options struct {
	Level   slog.Level
	Console io.Writer
	// FilePath enables the file handler. It is always written at debug level.
	FilePath string
}

// ParseLevel accepts debug, info, warn(ing) and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Setup builds the logger. The returned closer flushes and closes the log
// file and must be called on exit.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	handlers := []slog.Handler{
		tint.NewHandler(console, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.DateTime,
			NoColor:    !isTerminal(console),
		}),
	}

	closer := func() error { return nil }
	if opts.FilePath != "" {
		if err := utils.EnsureParent(opts.FilePath); err != nil {
			return nil, nil, fmt.Errorf("log dir: %w", err)
		}
		file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		lw := NewLineWriter(file)
		handlers = append(handlers, slog.NewTextHandler(lw, &slog.HandlerOptions{
			Level:       slog.LevelDebug,
			ReplaceAttr: dropTime,
		}))
		closer = func() error {
			return errors.Join(lw.Close(), file.Close())
		}
	}

	return slog.New(NewFanoutHandler(handlers...)), closer, nil
}

// the line writer stamps its own time
func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
