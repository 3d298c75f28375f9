// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/hintpass/services/hint"
)

const reportPrefix = "report/"

// ReportStore saves and retrieves hint reports.
//
// Keys are "report/<unit>/<session>" with the unit path-escaped, so a unit
// name containing "/" cannot collide with another unit's prefix. Values
// are JSON-encoded hint.Report documents.
//
// Thread Safety: Safe for concurrent use.
type ReportStore struct {
	db *DB
}

// NewReportStore creates a store backed by db.
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db}
}

func unitPrefix(unit string) []byte {
	return []byte(reportPrefix + url.PathEscape(unit) + "/")
}

func reportKey(unit, session string) []byte {
	return append(unitPrefix(unit), session...)
}

// Save stores r, replacing any report with the same unit and session.
func (s *ReportStore) Save(ctx context.Context, r *hint.Report) error {
	if r == nil || r.Unit == "" || r.SessionID == "" {
		return ErrInvalidReport
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return s.db.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(reportKey(r.Unit, r.SessionID), data)
	})
}

// Get returns the report of one session over unit.
//
// Outputs:
//
//	*hint.Report - The stored report.
//	error - ErrReportNotFound if no such report exists.
func (s *ReportStore) Get(ctx context.Context, unit, session string) (*hint.Report, error) {
	var r hint.Report
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(reportKey(unit, session))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrReportNotFound, unit, session)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns every report stored for unit, oldest first.
func (s *ReportStore) List(ctx context.Context, unit string) ([]*hint.Report, error) {
	prefix := unitPrefix(unit)
	var out []*hint.Report

	err := s.db.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r hint.Report
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode report %s: %w", it.Item().Key(), err)
			}
			out = append(out, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// Latest returns the most recent report for unit.
//
// Outputs:
//
//	*hint.Report - The report with the latest StartedAt.
//	error - ErrReportNotFound if the unit has no reports.
func (s *ReportStore) Latest(ctx context.Context, unit string) (*hint.Report, error) {
	reports, err := s.List(ctx, unit)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, unit)
	}
	return reports[len(reports)-1], nil
}

// Units returns the sorted names of every unit with at least one report.
func (s *ReportStore) Units(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	prefix := []byte(reportPrefix)

	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), reportPrefix)
			escaped, _, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}
			unit, err := url.PathUnescape(escaped)
			if err != nil {
				return fmt.Errorf("decode unit key %q: %w", escaped, err)
			}
			seen[unit] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	units := make([]string, 0, len(seen))
	for u := range seen {
		units = append(units, u)
	}
	sort.Strings(units)
	return units, nil
}

// Delete removes every report stored for unit and returns how many were
// removed.
func (s *ReportStore) Delete(ctx context.Context, unit string) (int, error) {
	prefix := unitPrefix(unit)
	var keys [][]byte

	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	err = s.db.update(ctx, func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
