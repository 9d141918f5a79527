package funk

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with store-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithStore adds the store's global address to the logger.
func (l *Logger) WithStore(gaddr uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("funk_gaddr", gaddr),
	}
}

// WithXID adds a transaction id field to the logger.
func (l *Logger) WithXID(xid XID) *Logger {
	return &Logger{
		Logger: l.Logger.With("xid", xid.String()),
	}
}

// LogPrepare logs a transaction prepare.
func (l *Logger) LogPrepare(parent, xid XID, err error) {
	if err != nil {
		l.Debug("prepare rejected",
			"parent", parent.String(),
			"xid", xid.String(),
			"error", err,
		)
		return
	}
	l.Debug("prepare completed",
		"parent", parent.String(),
		"xid", xid.String(),
	)
}

// LogPublish logs a publish of one or more transactions.
func (l *Logger) LogPublish(xid XID, published int, err error) {
	if err != nil {
		l.Debug("publish rejected",
			"xid", xid.String(),
			"error", err,
		)
		return
	}
	l.Info("publish completed",
		"xid", xid.String(),
		"published", published,
	)
}

// LogCancel logs a cancel of one or more transactions.
func (l *Logger) LogCancel(op string, cancelled int, err error) {
	if err != nil {
		l.Debug("cancel rejected",
			"op", op,
			"error", err,
		)
		return
	}
	l.Debug("cancel completed",
		"op", op,
		"cancelled", cancelled,
	)
}

// LogMerge logs a merge of a transaction into its parent.
func (l *Logger) LogMerge(xid XID, records int, err error) {
	if err != nil {
		l.Debug("merge rejected",
			"xid", xid.String(),
			"error", err,
		)
		return
	}
	l.Debug("merge completed",
		"xid", xid.String(),
		"records", records,
	)
}

// LogVerify logs the outcome of a verification pass.
func (l *Logger) LogVerify(txnCnt, recCnt int, err error) {
	if err != nil {
		l.Warn("verify failed",
			"txn_cnt", txnCnt,
			"rec_cnt", recCnt,
			"error", err,
		)
		return
	}
	l.Debug("verify completed",
		"txn_cnt", txnCnt,
		"rec_cnt", recCnt,
	)
}

// LogCorruption logs a fatal consistency violation.
func (l *Logger) LogCorruption(gaddr uint64, err *CorruptionError) {
	l.Error("memory corruption detected",
		"funk_gaddr", gaddr,
		"op", err.Op,
		"reason", err.Reason,
	)
}
