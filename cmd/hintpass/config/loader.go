// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when hintpass.yaml fails validation.
var ErrInvalidConfig = errors.New("invalid hintpass configuration")

// PathEnv names the variable consulted when no --config flag is given.
const PathEnv = "HINTPASS_CONFIG"

// DefaultPath returns $HOME/.hintpass/hintpass.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".hintpass", "hintpass.yaml"), nil
}

// ResolvePath picks the config file: flag, then $HINTPASS_CONFIG, then
// DefaultPath.
func ResolvePath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(PathEnv); env != "" {
		return env, nil
	}
	return DefaultPath()
}

// LoadFile reads, expands and validates the config file at path.
//
// Description:
//
//	path is resolved with ResolvePath. When the file does not exist it is
//	first written out with DefaultConfig so the user has something to
//	edit. See Parse for decoding rules.
//
// Outputs:
//
//	HintpassConfig - Defaults overlaid with the file.
//	error - Read, parse or validation failure.
func LoadFile(path string) (HintpassConfig, error) {
	path, err := ResolvePath(path)
	if err != nil {
		return HintpassConfig{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeDefault(path); err != nil {
			return HintpassConfig{}, err
		}
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return HintpassConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return HintpassConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// envRef matches ${NAME}. A bare $NAME is left alone so symbol names
// containing '$' survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} with the variable's value, or "" when unset.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRef.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Parse overlays YAML on DefaultConfig and validates the result.
//
// ${NAME} references are expanded from the environment before decoding.
// Keys the file leaves out keep their defaults; unknown keys are errors.
func Parse(data []byte) (HintpassConfig, error) {
	cfg := DefaultConfig()
	data = bytes.TrimSpace(expandEnv(data))
	if len(data) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return HintpassConfig{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return HintpassConfig{}, err
	}
	return cfg, nil
}

// writeDefault writes DefaultConfig to path through a temporary file so a
// concurrent reader never sees half a file.
func writeDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".hintpass-*.yaml")
	if err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write default config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
