package engine

import "log/slog"

// Prompts an engine may ask through its AuthPrompter.
const (
	PromptUsername = "Enter your username:"
	PromptPassword = "Enter your password:"
	// PromptCertificate is a prefix; the engine appends the certificate issues.
	PromptCertificate = "There are problems with the SSL certificate:"
)

// AuthPrompter answers engine prompts synchronously. The answer is written
// NUL terminated into buf. Prompt returns 0 on success and -1 when the prompt
// is not understood.
type AuthPrompter interface {
	Prompt(prompt string, buf []byte, echo, verify bool) int
}

// LogSink receives the engine's own log lines.
type LogSink interface {
	EngineLog(level slog.Level, function, msg string)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(level slog.Level, function, msg string)

func (f LogSinkFunc) EngineLog(level slog.Level, function, msg string) {
	f(level, function, msg)
}
