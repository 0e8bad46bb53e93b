package logging

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// LineWriter prefixes every complete line written to it with a running
// line number and a timestamp. Partial lines are held back until the
// newline arrives or Close is called.
type LineWriter struct {
	mu     sync.Mutex
	target io.Writer
	clock  clockwork.Clock
	line   uint64
	buf    bytes.Buffer
}

func NewLineWriter(target io.Writer) *LineWriter {
	return newLineWriter(target, clockwork.NewRealClock())
}

func newLineWriter(target io.Writer, clock clockwork.Clock) *LineWriter {
	return &LineWriter{target: target, clock: clock}
}

// Write reports len(p) on success since callers care about their own bytes,
// not the stamped output.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := w.buf.Next(idx + 1)
		if err := w.writeLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line. It does not close the target.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	rest := append(w.buf.Bytes(), '\n')
	w.buf.Reset()
	return w.writeLine(rest)
}

func (w *LineWriter) writeLine(line []byte) error {
	w.line++
	prefix := slog.Uint64("line", w.line).String() + " " +
		slog.String("time", w.clock.Now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(w.target, prefix); err != nil {
		return err
	}
	_, err := w.target.Write(line)
	return err
}
