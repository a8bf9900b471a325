// Package logging builds the zerolog loggers used by the commands.
package logging

import (
	"fmt"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
	"io"
	"os"
	"strings"
	"time"
)

// Config controls log level and optional file output
type Config struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`        // empty disables file output
	MaxSize    int    `mapstructure:"max_size"`    // megabytes before rotation
	MaxBackups int    `mapstructure:"max_backups"` // rotated files to keep
	MaxAge     int    `mapstructure:"max_age"`     // days
	Compress   bool   `mapstructure:"compress"`

	// Console defaults to os.Stderr
	Console io.Writer `mapstructure:"-"`
}

// DefaultConfig logs info and above to the console only
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger and a closer for its file writer, if any
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	out := cfg.Console
	if out == nil {
		out = os.Stderr
	}

	console := zerolog.ConsoleWriter{
		Out:         out,
		TimeFormat:  time.DateTime,
		FormatLevel: formatLevel,
	}

	var (
		w      io.Writer = console
		closer io.Closer = nopCloser{}
	)

	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		w = zerolog.MultiLevelWriter(console, file)
		closer = file
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

func formatLevel(i any) string {
	return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
}
