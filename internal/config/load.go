// Package config loads and validates the agent's YAML configuration file.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	"github.com/nnoe/node-agent/internal/apis/config/validation"
	nnerrors "github.com/nnoe/node-agent/internal/errors"
)

// Load reads the YAML file at path, applies defaults, validates it, and
// returns the resulting Config. A missing or malformed file, or a failed
// validation, is a Config-class error: fatal at startup per spec §7.
func Load(path string) (*v1alpha1.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, nnerrors.New(nnerrors.Config, "config", fmt.Errorf("reading %s: %w", path, err))
	}

	var cfg v1alpha1.Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, nnerrors.New(nnerrors.Config, "config", fmt.Errorf("parsing %s: %w", path, err))
	}

	v1alpha1.SetDefaults(&cfg)

	if errs := validation.Validate(&cfg); len(errs) > 0 {
		return nil, nnerrors.New(nnerrors.Config, "config", fmt.Errorf("invalid configuration: %w", errs.ToAggregate()))
	}

	return &cfg, nil
}
