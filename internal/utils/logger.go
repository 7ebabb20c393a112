package utils

import (
	"log/slog"
	"os"
)

// Logger is the structured logger shared by all components.
type Logger struct {
	*slog.Logger
}

func NewLogger() *Logger {
	return &Logger{slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))}
}
