// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers hintpass writes diagnostics to.
//
// Records go to standard error, leaving standard output to annotated IR,
// and optionally to a daily JSON file under a log directory. The console
// encoding is text on a terminal and JSON when redirected, unless forced.
//
//	logger := logging.New(logging.Config{Level: logging.LevelDebug})
//	defer logger.Close()
//	pass, _ := hint.NewPass(cfg, hint.WithLogger(logger.Slog()))
//
// Logger is safe for concurrent use. Its level can be raised or lowered
// after construction with SetLevel; children made by With follow it.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Level is a slog level. The four named levels are the only ones hintpass
// configures.
type Level = slog.Level

const (
	// LevelDebug adds one record per branch mutation.
	LevelDebug = slog.LevelDebug
	// LevelInfo adds per-unit summaries.
	LevelInfo = slog.LevelInfo
	// LevelWarn adds rejected hint calls.
	LevelWarn = slog.LevelWarn
	// LevelError is pipeline failures only.
	LevelError = slog.LevelError
)

// ParseLevel reads a level name. Matching ignores case and surrounding
// space, "" means info and "warning" is accepted for warn. Unknown names
// return LevelInfo with an error.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "":
		return LevelInfo, nil
	case "warning":
		name = "warn"
	}
	switch name {
	case "debug", "info", "warn", "error":
		var l Level
		if err := l.UnmarshalText([]byte(name)); err != nil {
			return LevelInfo, err
		}
		return l, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Format selects the console encoding.
type Format string

const (
	FormatAuto Format = ""
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config describes where records go. The zero value logs Info and above
// to stderr.
type Config struct {
	Level  Level
	Format Format

	// LogDir turns on a JSON file named "<Service>_<YYYY-MM-DD>.log" in
	// that directory. A leading ~ is expanded.
	LogDir string

	// Service is added to every record.
	Service string

	// Quiet drops console output; the file still receives records.
	Quiet bool

	// Writer stands in for stderr.
	Writer io.Writer
}

// Logger is a slog.Logger plus the file it may own.
type Logger struct {
	slog    *slog.Logger
	config  Config
	level   *slog.LevelVar
	mu      sync.Mutex
	file    *os.File
	isChild bool
}

// New builds a Logger. A log file that cannot be opened is reported once
// on the console; logging continues without it.
func New(config Config) *Logger {
	l := &Logger{config: config, level: new(slog.LevelVar)}
	l.level.Set(config.Level)
	opts := &slog.HandlerOptions{Level: l.level}

	var sinks fanout
	if !config.Quiet {
		console := config.Writer
		if console == nil {
			console = os.Stderr
		}
		sinks = append(sinks, consoleHandler(config.Format, console, opts))
	}

	var fileErr error
	if config.LogDir != "" {
		if l.file, fileErr = openLogFile(config.LogDir, config.Service); fileErr == nil {
			sinks = append(sinks, slog.NewJSONHandler(l.file, opts))
		}
	}

	handler := sinks.collapse()
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}
	l.slog = slog.New(handler)

	if fileErr != nil {
		l.slog.Warn("file logging disabled", slog.String("error", fileErr.Error()))
	}
	return l
}

// Default is what commands use before configuration is loaded.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "hintpass"})
}

func consoleHandler(f Format, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if useJSON(f, w) {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// useJSON reports whether console output should be JSON. Auto picks JSON
// only for an *os.File that is not a terminal.
func useJSON(f Format, w io.Writer) bool {
	if f != FormatAuto {
		return f == FormatJSON
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if service == "" {
		service = "hintpass"
	}
	name := service + "_" + time.Now().Format(time.DateOnly) + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

func expandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child that adds args to every record. The child shares
// the parent's level and file; closing it does nothing.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), config: l.config, level: l.level, isChild: true}
}

// SetLevel changes the minimum level of l and every child of it.
func (l *Logger) SetLevel(level Level) { l.level.Set(level) }

// Level returns the current minimum level.
func (l *Logger) Level() Level { return l.level.Level() }

// Slog returns the underlying logger, the type the hint packages take.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// LogPath is the open log file's path, or "" when there is none.
func (l *Logger) LogPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close flushes and closes the log file. Later calls return nil.
func (l *Logger) Close() error {
	if l.isChild {
		return nil
	}
	l.mu.Lock()
	f := l.file
	l.file = nil
	l.mu.Unlock()
	if f == nil {
		return nil
	}
	return errors.Join(wrap("sync log file", f.Sync()), wrap("close log file", f.Close()))
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

// fanout sends each record to every member handler that accepts its level.
type fanout []slog.Handler

// collapse avoids the fan-out wrapper when there are fewer than two sinks.
func (f fanout) collapse() slog.Handler {
	switch len(f) {
	case 0:
		return slog.NewTextHandler(io.Discard, nil)
	case 1:
		return f[0]
	}
	return f
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}
