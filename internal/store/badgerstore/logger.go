package badgerstore

import (
	"fmt"
	"log/slog"
	"strings"
)

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{logger: logger.With("component", "badger")}
}

func (b *badgerLogger) Errorf(msg string, args ...any) {
	b.logger.Error(format(msg, args...))
}

func (b *badgerLogger) Warningf(msg string, args ...any) {
	b.logger.Warn(format(msg, args...))
}

func (b *badgerLogger) Infof(msg string, args ...any) {
	b.logger.Info(format(msg, args...))
}

func (b *badgerLogger) Debugf(msg string, args ...any) {
	b.logger.Debug(format(msg, args...))
}

func format(msg string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(msg, args...))
}
