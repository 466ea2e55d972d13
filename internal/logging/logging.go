// Package logging sets up the process-wide structured logger for the
// SafeSteps dispatch service. Output is JSON on stdout so collectors can
// ingest lifecycle events without a parse step.
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// ParseLevel maps a configured level name onto a slog level. Config
// validation shares it with Setup, so a config that passed validation can
// never fall back here.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

func Setup(level string) {
	logLevel, err := ParseLevel(level)
	if err != nil {
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	slog.SetDefault(slog.New(handler))
}

func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
