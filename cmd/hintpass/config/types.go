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
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/hintpass/pkg/logging"
	"github.com/AleutianAI/hintpass/services/hint"
	"github.com/AleutianAI/hintpass/services/hint/server"
	"github.com/AleutianAI/hintpass/services/hint/storage/gcs"
	"github.com/AleutianAI/hintpass/services/hint/storage/influx"
	"github.com/AleutianAI/hintpass/services/hint/telemetry"
)

// HintpassConfig is the contents of hintpass.yaml.
type HintpassConfig struct {
	// Pass tunes the branch hint pass. Validated by hint.Config.Validate.
	Pass hint.Config `yaml:"pass" validate:"-"`

	// Passes selects pipeline passes; empty runs every registered pass.
	Passes []string `yaml:"passes,omitempty" validate:"dive,required"`

	// Logging configures diagnostics on stderr and the optional log file.
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry configures traces and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Store configures report persistence.
	Store StoreConfig `yaml:"store"`

	// Serve configures "hintpass serve".
	Serve server.Config `yaml:"serve"`
}

// LoggingConfig is the logging section.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
	Dir    string `yaml:"dir,omitempty"`
}

// StoreConfig is the report store section. Every configured store
// receives each report.
type StoreConfig struct {
	// Dir is the badger directory. Empty disables local persistence unless
	// --store is given. The report command reads from it.
	Dir string `yaml:"dir,omitempty"`

	// Influx exports report totals as time series.
	Influx influx.Config `yaml:"influx,omitempty"`

	// Archive uploads every report to a GCS bucket.
	Archive gcs.Config `yaml:"archive,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() HintpassConfig {
	tcfg := telemetry.DefaultConfig()
	return HintpassConfig{
		Pass:      hint.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: tcfg,
		Serve:     server.DefaultConfig(),
	}
}

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section.
//
// Outputs:
//
//	error - nil, or an error wrapping ErrInvalidConfig.
func (c HintpassConfig) Validate() error {
	var errs []error
	if err := c.Pass.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pass: %w", err))
	}
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LoggerConfig converts the logging section for logging.New.
func (c HintpassConfig) LoggerConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		Format:  logging.Format(c.Logging.Format),
		LogDir:  c.Logging.Dir,
		Service: "hintpass",
	}
}
