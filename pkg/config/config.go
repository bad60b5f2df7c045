// Package config is the runtime configuration surface for retrace.
// Values load from a config file, RETRACE_* environment variables, and
// programmatic overrides, in ascending precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/policy"
)

// Mode is the operating mode of the tracer.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeRecord Mode = "record"
	ModeReplay Mode = "replay"
)

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// Config controls recording and replay behavior. The zero value is inert
// (mode off); use New for populated defaults.
type Config struct {
	Mode        Mode   `mapstructure:"mode"`
	ServiceName string `mapstructure:"service"`
	Env         string `mapstructure:"env"`

	// Cassette storage
	CassetteDir  string `mapstructure:"cassette_dir"`
	CassettePath string `mapstructure:"cassette_path"` // specific cassette for replay

	// S3 storage. Setting s3_bucket switches cassette storage from the
	// local filesystem to S3.
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Prefix   string `mapstructure:"s3_prefix"`

	// Capture control
	SampleRate   float64  `mapstructure:"sample_rate"`
	ErrorsOnly   bool     `mapstructure:"errors_only"`
	ExcludePaths []string `mapstructure:"exclude_paths"`

	// Body capture
	MaxBodyKB         int                  `mapstructure:"max_body_kb"`
	StoreRequestBody  policy.CapturePolicy `mapstructure:"store_request_body"`
	StoreResponseBody policy.CapturePolicy `mapstructure:"store_response_body"`

	// Replay
	StrictReplay bool     `mapstructure:"strict_replay"`
	MockPlugins  []string `mapstructure:"mock_plugins"`
	LivePlugins  []string `mapstructure:"live_plugins"`

	Compression cassette.Compression `mapstructure:"compression"`
	Debug       bool                 `mapstructure:"debug"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Mode:              ModeOff,
		ServiceName:       "retrace-service",
		Env:               "local",
		CassetteDir:       "./cassettes",
		SampleRate:        1.0,
		ExcludePaths:      []string{"/health", "/metrics"},
		MaxBodyKB:         64,
		StoreRequestBody:  policy.CaptureOnError,
		StoreResponseBody: policy.CaptureOnError,
		StrictReplay:      true,
		Compression:       cassette.CompressionNone,
	}
}

// Validate checks value ranges and enum fields.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeOff, ModeRecord, ModeReplay:
	default:
		return &ConfigError{Field: "mode", Reason: fmt.Sprintf("must be off, record, or replay, got %q", c.Mode)}
	}

	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return &ConfigError{Field: "sample_rate", Reason: fmt.Sprintf("must be in [0.0, 1.0], got %v", c.SampleRate)}
	}

	if c.MaxBodyKB < 0 {
		return &ConfigError{Field: "max_body_kb", Reason: "must be non-negative"}
	}

	if !c.StoreRequestBody.Valid() {
		return &ConfigError{Field: "store_request_body", Reason: fmt.Sprintf("must be never, on_error, or always, got %q", c.StoreRequestBody)}
	}
	if !c.StoreResponseBody.Valid() {
		return &ConfigError{Field: "store_response_body", Reason: fmt.Sprintf("must be never, on_error, or always, got %q", c.StoreResponseBody)}
	}

	switch c.Compression {
	case cassette.CompressionNone, cassette.CompressionGzip:
	default:
		return &ConfigError{Field: "compression", Reason: fmt.Sprintf("must be none or gzip, got %q", c.Compression)}
	}

	if c.Mode == ModeReplay && c.CassettePath == "" {
		return &ConfigError{Field: "cassette_path", Reason: "required in replay mode"}
	}

	return nil
}

// Hybrid returns the mock/live resolver for this configuration. When both
// lists are set, the mock list wins (explicit allow-list beats deny-list).
func (c *Config) Hybrid() policy.HybridPolicy {
	return policy.HybridPolicy{MockPlugins: c.MockPlugins, LivePlugins: c.LivePlugins}
}

// ShouldTrace reports whether a request path should be traced at all.
// Excluded paths (health checks, metrics scrapes) are never recorded.
func (c *Config) ShouldTrace(path string) bool {
	path, _, _ = strings.Cut(path, "?")
	for _, excluded := range c.ExcludePaths {
		if path == excluded || strings.HasPrefix(path, excluded+"/") {
			return false
		}
	}
	return true
}

// Enabled reports whether the tracer does anything at all.
func (c *Config) Enabled() bool { return c.Mode != ModeOff && c.Mode != "" }
