package cli

import (
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"

	"github.com/medconsole/rbac/internal/config"
)

// newLogger builds a zerolog backed logr.Logger,
// trace enables the V(4) operation logs of the authorizer
func newLogger(cfg config.LogConfig, out io.Writer) logr.Logger {
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	maxV := 0
	switch cfg.Level {
	case "trace":
		maxV = 4
	case "debug":
		maxV = 1
	}
	zerologr.SetMaxV(maxV)

	level := zerolog.InfoLevel
	switch cfg.Level {
	case "trace", "debug":
		// logr V(n) is written at zerolog level 1-n
		level = zerolog.Level(1 - maxV)
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return zerologr.New(&zl)
}
