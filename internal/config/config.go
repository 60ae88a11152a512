// Package config loads and watches the YAML configuration file.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads, decodes, defaults, and validates the config at path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if raw := strings.TrimSpace(cfg.Remote.APIURL); raw != "" {
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("remote.api_url invalid: %w", err)
		}
	} else {
		return fmt.Errorf("remote.api_url is required")
	}
	if cfg.Stream.Enabled && strings.TrimSpace(cfg.Stream.URL) == "" {
		return fmt.Errorf("stream.url is required when stream.enabled")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.SlTp.SideConvention)) {
	case "", "side_aware", "legacy":
	default:
		return fmt.Errorf("sltp.side_convention must be side_aware or legacy, got %q", cfg.SlTp.SideConvention)
	}
	return nil
}
