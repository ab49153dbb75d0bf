package migrate

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// gooseLogger forwards goose progress lines to slog under the migrate component.
type gooseLogger struct {
	logger *slog.Logger
}

func newGooseLogger(logger *slog.Logger) gooseLogger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return gooseLogger{logger: logger.With("component", "migrate")}
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf is only called by goose command helpers; Apply and Status never reach it.
func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
	os.Exit(1)
}
