package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if TRIBUTO_CONFIG is set
//  3. env (prefix TRIBUTO_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("TRIBUTO_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: TRIBUTO_ADDR, TRIBUTO_NOTIFY_QUEUE_SIZE, ...
	// Underscores are preserved to match the koanf tags on the struct.
	envProvider := env.Provider("TRIBUTO_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "tributo_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.FatorRThreshold <= 0 || c.FatorRThreshold >= 1:
		return fmt.Errorf("%w: fator_r_threshold must be in (0, 1)", ErrInvalidConfig)
	case c.VolatileZoneLow >= c.VolatileZoneHigh:
		return fmt.Errorf("%w: volatile zone bounds inverted", ErrInvalidConfig)
	case c.FatorRThreshold < c.VolatileZoneLow || c.FatorRThreshold >= c.VolatileZoneHigh:
		return fmt.Errorf("%w: fator_r_threshold outside volatile zone", ErrInvalidConfig)
	case c.DefaultLocalRate < 0:
		return fmt.Errorf("%w: default_local_rate must not be negative", ErrInvalidConfig)
	}
	return nil
}
