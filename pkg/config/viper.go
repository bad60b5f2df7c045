package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper creates a configured *viper.Viper for retrace.
// It registers defaults from New(), reads retrace.toml from the given
// directory (missing file is fine), and binds RETRACE_* environment
// variables.
//
// Precedence (highest to lowest):
//  1. Explicit Set calls / bound flags
//  2. Environment variables (RETRACE_MODE, RETRACE_SAMPLE_RATE, ...)
//  3. retrace.toml values
//  4. Defaults from New()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("retrace")
	v.SetConfigType("toml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("RETRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// Load resolves the full configuration from a viper instance.
func Load(v *viper.Viper) (*Config, error) {
	cfg := New()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers defaults from New() using dotted-key notation,
// keeping New() the single source of truth.
func setDefaults(v *viper.Viper) {
	d := New()

	v.SetDefault("mode", string(d.Mode))
	v.SetDefault("service", d.ServiceName)
	v.SetDefault("env", d.Env)
	v.SetDefault("cassette_dir", d.CassetteDir)
	v.SetDefault("cassette_path", d.CassettePath)
	v.SetDefault("s3_bucket", d.S3Bucket)
	v.SetDefault("s3_region", d.S3Region)
	v.SetDefault("s3_endpoint", d.S3Endpoint)
	v.SetDefault("s3_prefix", d.S3Prefix)
	v.SetDefault("sample_rate", d.SampleRate)
	v.SetDefault("errors_only", d.ErrorsOnly)
	v.SetDefault("exclude_paths", d.ExcludePaths)
	v.SetDefault("max_body_kb", d.MaxBodyKB)
	v.SetDefault("store_request_body", string(d.StoreRequestBody))
	v.SetDefault("store_response_body", string(d.StoreResponseBody))
	v.SetDefault("strict_replay", d.StrictReplay)
	v.SetDefault("mock_plugins", d.MockPlugins)
	v.SetDefault("live_plugins", d.LivePlugins)
	v.SetDefault("compression", string(d.Compression))
	v.SetDefault("debug", d.Debug)
}
