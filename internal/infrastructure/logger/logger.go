package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level  string // debug | info | warn | error
	Format string // console | json
	File   string // optional, rotated by lumberjack
}

// Setup configures the global zerolog logger and returns it.
// The returned closer flushes and closes the log file, if any.
func Setup(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = lvl
	}

	var stdout io.Writer = os.Stdout
	if opts.Format != "json" {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	out := stdout
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     7, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(stdout, file)
		closer = file
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
