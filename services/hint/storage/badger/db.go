// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger persists hint pass reports in an embedded BadgerDB.
//
// A store directory holds every report produced by "hintpass run --store".
// Reports are keyed by unit and session so the history of one unit can be
// listed and its latest run retrieved.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config describes a report database.
type Config struct {
	// Path is the store directory. Ignored when InMemory is set.
	Path string

	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's own messages. Nil silences them.
	Logger *slog.Logger

	// GCInterval between value log collections. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage share that makes a value log file
	// worth rewriting. Out-of-range values mean 0.5.
	GCDiscardRatio float64
}

// DefaultConfig is the on-disk store the CLI opens.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// DB is an open report database.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	db   *badger.DB
	path string

	stopGC context.CancelFunc
	gcDone sync.WaitGroup
}

// Open opens or creates the database described by cfg.
//
// Outputs:
//
//	*DB - Caller must Close it.
//	error - ErrMissingPath, or the wrapped BadgerDB error.
func Open(cfg Config) (*DB, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, ErrMissingPath
	default:
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	var logger badger.Logger
	if cfg.Logger != nil {
		logger = slogAdapter{cfg.Logger.With(slog.String("component", "badger"))}
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(logger)

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open report store: %w", err)
	}

	d := &DB{db: bdb}
	if !cfg.InMemory {
		d.path = cfg.Path
		if cfg.GCInterval > 0 {
			d.startGC(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		}
	}
	return d, nil
}

// OpenInMemory opens an empty database that lives in RAM.
func OpenInMemory() (*DB, error) {
	return Open(Config{InMemory: true})
}

// Close stops value log GC and closes the database.
func (d *DB) Close() error {
	if d.stopGC != nil {
		d.stopGC()
		d.gcDone.Wait()
		d.stopGC = nil
	}
	return d.db.Close()
}

// Path returns the store directory, "" in memory.
func (d *DB) Path() string { return d.path }

// update runs fn in a read-write transaction committed when fn succeeds.
func (d *DB) update(ctx context.Context, fn func(*badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// view runs fn in a read-only transaction.
func (d *DB) view(ctx context.Context, fn func(*badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// startGC collects the value log every interval until Close. Each tick
// keeps rewriting files until BadgerDB reports nothing left to collect.
func (d *DB) startGC(interval time.Duration, ratio float64, logger *slog.Logger) {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.stopGC = cancel

	d.gcDone.Add(1)
	go func() {
		defer d.gcDone.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			rewrites := 0
			for ctx.Err() == nil {
				err := d.db.RunValueLogGC(ratio)
				if err == nil {
					rewrites++
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
					logger.Warn("report store GC failed", slog.String("error", err.Error()))
				}
				break
			}
			if rewrites > 0 && logger != nil {
				logger.Debug("report store GC", slog.Int("rewrites", rewrites))
			}
		}
	}()
}

// slogAdapter routes BadgerDB's printf logging into slog. BadgerDB's
// info chatter is demoted to Debug.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Errorf(f string, v ...any)   { a.l.Error(fmt.Sprintf(f, v...)) }
func (a slogAdapter) Warningf(f string, v ...any) { a.l.Warn(fmt.Sprintf(f, v...)) }
func (a slogAdapter) Infof(f string, v ...any)    { a.l.Debug(fmt.Sprintf(f, v...)) }
func (a slogAdapter) Debugf(f string, v ...any)   { a.l.Debug(fmt.Sprintf(f, v...)) }
