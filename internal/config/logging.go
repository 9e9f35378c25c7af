package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds a logger from cfg writing to out, or stderr when out is nil.
// When cfg.File is set, logs are also appended there; the returned close func
// releases it and is always safe to call.
//
// The level is parsed with zerolog and defaults to info when empty or invalid.
func NewLogger(cfg LogConfig, out io.Writer) (zerolog.Logger, func() error, error) {
	noop := func() error { return nil }
	if out == nil {
		out = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.Format == FormatJSON {
		writers = append(writers, out)
	} else {
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	closeFn := noop
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closeFn = f.Close
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return logger, closeFn, nil
}
