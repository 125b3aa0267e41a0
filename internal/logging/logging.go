// Package logging builds the slog logger shared by the CLI and the daemon.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nih-sparc/sparc-client-go/internal/config"
)

// Options selects level, format and destinations.
type Options struct {
	Level      string
	JSON       bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Output is the terminal writer; nil means os.Stdout.
	Output io.Writer
	// NoTerminal disables Output, leaving only File.
	NoTerminal bool
}

// FromConfig maps the daemon's [log] table onto Options.
func FromConfig(c config.LogConfig) Options {
	return Options{
		Level:      c.Level,
		JSON:       c.JSON,
		File:       config.ExpandPath(c.File),
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	}
}

// ParseLevel accepts debug, info, warn and error in any case. Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// New returns a logger and a closer for its log file. The closer is a no-op
// when no file is configured.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var writers []io.Writer
	if !opts.NoTerminal {
		out := opts.Output
		if out == nil {
			out = os.Stdout
		}
		writers = append(writers, out)
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		writers = append(writers, fileWriter)
		closer = fileWriter
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	w := io.MultiWriter(writers...)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
