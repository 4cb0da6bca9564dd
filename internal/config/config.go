package config

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads a YAML config file, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	cfg, err := decode(v.AllSettings())
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := validate(cfg); err != nil {
		return nil, err
	}
	cfg.path = abs
	return cfg, nil
}

// Path returns the absolute path the config was loaded from; empty for
// configs built in code.
func (c *Config) Path() string { return c.path }

// LoadRiskSection re-reads only the risk section of a config file. Used by
// the hot-reload watcher so a bad edit elsewhere cannot break a running session.
func LoadRiskSection(path string) (*RiskConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var rc RiskConfig
	if err := decodeInto(v.Get("risk"), &rc); err != nil {
		return nil, fmt.Errorf("parsing risk section failed: %w", err)
	}
	full := &Config{Risk: rc}
	full.applyDefaults()
	if err := full.Risk.validate(); err != nil {
		return nil, err
	}
	rc = full.Risk
	return &rc, nil
}

func decode(settings map[string]any) (*Config, error) {
	var cfg Config
	if err := decodeInto(settings, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	return &cfg, nil
}

func decodeInto(raw any, out any) error {
	if raw == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "toml",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
