// Package logging builds the process logger: human-readable console output
// through charm log and, optionally, a rotating JSON file.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"charm.land/log/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level applies to the console. The file, when set, always records debug.
	Level slog.Level

	// Console defaults to os.Stderr.
	Console io.Writer

	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a logger and a closer for the log file. The closer is a no-op
// when no file is configured.
func New(opts Options) (*slog.Logger, io.Closer) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	ch := log.NewWithOptions(console, log.Options{
		Level:           log.Level(opts.Level),
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "mediate",
	})

	if opts.File == "" {
		return slog.New(ch), nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	fh := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(tee{ch, fh}), file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// tee fans records out to every handler that accepts their level.
type tee []slog.Handler

func (t tee) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t tee) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t tee) WithGroup(name string) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
