package domain

// Logger provides structured logging for armtc components.
// *slog.Logger satisfies it, which is what the CLI plugs in.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return noopLogger{}
}

// LoggerOrNop returns l, or a no-op logger when l is nil.
func LoggerOrNop(l Logger) Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}
