package logger

import (
	"io"
	"os"
	"time"

	"github.com/chatbridge/pkg/config"
	"github.com/rs/zerolog"
)

// New builds the process logger. Components derive their own with
// log.With().Str("component", ...).Logger().
func New(cfg config.Log) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
