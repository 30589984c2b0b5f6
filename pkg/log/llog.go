package log

import (
	"fmt"
	"log/slog"

	"github.com/levenlabs/go-llog"
)

// SyncLLogLevel sets the default slog level to llog's level. lflag sets
// llog's level from --log-level when flags are parsed, so call this after
// lflag.Configure.
func SyncLLogLevel() slog.Level {
	var level slog.Level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	SetDefaultLogLevel(level)
	return level
}
