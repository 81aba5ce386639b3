// logger.go - Structured logging and the audit trail for the wallet.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

var auditLog atomic.Pointer[log.Logger]

func init() {
	l := log.NewLogger(log.DiscardHandler())
	auditLog.Store(&l)
}

// Logger owns the files opened for logging.
type Logger struct {
	level slog.Level
	file  *os.File
	audit *os.File
}

// ParseLevel maps a level name to a log level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "info":
		return log.LevelInfo
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit", "fatal":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}

// New installs the root logger. Records go to stderr and, when logFile is set,
// are also appended to that file. When auditFile is set, Audit events are
// written there as JSON lines.
func New(level, logFile, auditFile string) (*Logger, error) {
	l := &Logger{level: ParseLevel(level)}

	var out io.Writer = os.Stderr
	color := true
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		out = io.MultiWriter(os.Stderr, file)
		color = false
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(out, l.level, color)))

	if auditFile != "" {
		file, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.audit = file
		al := log.NewLogger(log.JSONHandler(file))
		auditLog.Store(&al)
	}
	return l, nil
}

// Close closes the log and audit files.
func (l *Logger) Close() error {
	var firstErr error
	if l.audit != nil {
		discard := log.NewLogger(log.DiscardHandler())
		auditLog.Store(&discard)
		firstErr = l.audit.Close()
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Audit records a security-relevant event such as a key derivation or a spend.
func Audit(event string, ctx ...interface{}) {
	(*auditLog.Load()).Info(event, ctx...)
}
