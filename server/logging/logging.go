// Package logging builds the process logger: slog text records appended to
// a file that is backed up and restarted once it grows past a size limit.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/s00inx/webserver/server/config"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// New returns logger for cfg and the sink to close on exit
func New(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	var sink io.WriteCloser = nopCloser{os.Stderr}
	if cfg.File != "" {
		sink = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
	}

	h := slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level})
	return slog.New(h), sink, nil
}
