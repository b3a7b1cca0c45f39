package diskdb

// Logger is the interface the buffer pool, lock manager's deadlock
// detector, and Engine.Abort log through instead of
// fmt.Println/log.Printf. It matches the shape of slog's leveled calls;
// see package diskdb/logger for zap/logrus adapters.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// DiscardLogger is the default Logger: every call compiles to a no-op.
type DiscardLogger struct{}

func (d DiscardLogger) Error(string, ...any) {}

func (d DiscardLogger) Warn(string, ...any) {}

func (d DiscardLogger) Info(string, ...any) {}
