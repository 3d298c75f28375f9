// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs archives hint pass reports as JSON objects in a Google Cloud
// Storage bucket.
//
// Objects are named "<prefix>/<unit>/<session>.json" with the unit
// path-escaped, mirroring the key layout of the local report store.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/hintpass/services/hint"
)

var (
	// ErrMissingBucket is returned by New without a bucket name.
	ErrMissingBucket = errors.New("gcs: bucket is required")

	// ErrInvalidReport is returned when archiving a nil report or one
	// without a unit or session.
	ErrInvalidReport = errors.New("gcs: report needs a unit and a session")
)

// Config is the archive section of the report store configuration.
type Config struct {
	// Bucket receives the reports. Empty disables archiving.
	Bucket string `yaml:"bucket,omitempty"`

	// Prefix is prepended to every object name.
	Prefix string `yaml:"prefix,omitempty"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file,omitempty" validate:"omitempty,file"`

	// Endpoint overrides the JSON API endpoint, for emulators. Requests
	// to a custom endpoint are not authenticated.
	Endpoint string `yaml:"endpoint,omitempty" validate:"omitempty,url"`
}

// Archive uploads reports to one bucket.
//
// Thread Safety: Safe for concurrent use.
type Archive struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a storage client for cfg.
//
// Outputs:
//
//	*Archive - The archive. Close releases the client.
//	error - ErrMissingBucket, or the client construction error.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, ErrMissingBucket
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: creating storage client: %w", err)
	}
	return &Archive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// ObjectName returns the object r is archived under.
func (a *Archive) ObjectName(r *hint.Report) string {
	return path.Join(a.prefix, url.PathEscape(r.Unit), r.SessionID+".json")
}

// Save uploads r as JSON.
func (a *Archive) Save(ctx context.Context, r *hint.Report) error {
	if r == nil || r.Unit == "" || r.SessionID == "" {
		return ErrInvalidReport
	}

	name := a.ObjectName(r)
	w := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache"
	w.Metadata = map[string]string{
		"unit":    r.Unit,
		"session": r.SessionID,
	}

	if err := json.NewEncoder(w).Encode(r); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: encoding gs://%s/%s: %w", a.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: uploading gs://%s/%s: %w", a.bucket, name, err)
	}
	return nil
}

// Close releases the storage client.
func (a *Archive) Close() error {
	return a.client.Close()
}
