// Package config provides the configuration structure for the milora-tts service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/tts/ttsutils"
	"github.com/pelletier/go-toml/v2"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAPIURL         = "https://api.milorapart.top/apis/mbAIsc"
	DefaultFormat         = "mp3"
	DefaultTimeoutSeconds = 15
	DefaultMaxAttempts    = 3
	DefaultRetryDelayMS   = 500
	DefaultCacheLimit     = 50

	DefaultSynthesisSubject = "tts.synthesize"
	DefaultStopSubject      = "tts.stop"
	DefaultTextBucket       = "TEXT_FILES"
	DefaultAudioBucket      = "AUDIO_FILES"
)

// Static errors.
var (
	ErrNATSURLEmpty       = errors.New("nats url cannot be empty")
	ErrInvalidAPIURL      = errors.New("synthesis api_url must be an absolute http(s) URL")
	ErrNegativeLimit      = errors.New("cache default_limit must be non-negative")
	ErrInvalidMaxAttempts = errors.New("synthesis max_attempts must be at least 1")
	ErrNegativeDuration   = errors.New("synthesis timeouts and delays must be non-negative")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SynthesisSubject       string `toml:"synthesis_subject"`
	StopSubject            string `toml:"stop_subject"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// SynthesisConfig describes the remote synthesis API and how it is retried.
type SynthesisConfig struct {
	APIURL         string `toml:"api_url"`
	Format         string `toml:"format"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxAttempts    int    `toml:"max_attempts"`
	RetryDelayMS   int    `toml:"retry_delay_ms"`
}

// Timeout is the per-attempt HTTP timeout.
func (s SynthesisConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// RetryDelay is the fixed pause between attempts.
func (s SynthesisConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMS) * time.Millisecond
}

// CacheConfig locates the audio cache and its persisted settings.
type CacheConfig struct {
	Dir          string `toml:"dir"`
	DefaultLimit int    `toml:"default_limit"`
	SettingsFile string `toml:"settings_file"`
}

// TelemetryConfig controls the Prometheus endpoint. An empty address
// disables it.
type TelemetryConfig struct {
	MetricsAddr string `toml:"metrics_addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Cache     CacheConfig     `toml:"cache"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration through the central configurator, then
// applies defaults and validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile reads a TOML configuration file from disk.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return finalize(&cfg)
}

// Default returns a configuration with every default applied. It is what the
// CLI uses when no config file is given.
func Default() *Config {
	var cfg Config

	cfg.ApplyDefaults()

	return &cfg
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field. A zero cache default_limit means
// DefaultCacheLimit; a limit of zero can still be set at runtime through the
// settings store.
func (c *Config) ApplyDefaults() {
	setDefault(&c.NATS.SynthesisSubject, DefaultSynthesisSubject)
	setDefault(&c.NATS.StopSubject, DefaultStopSubject)
	setDefault(&c.NATS.TextObjectStoreBucket, DefaultTextBucket)
	setDefault(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)

	setDefault(&c.Synthesis.APIURL, DefaultAPIURL)
	setDefault(&c.Synthesis.Format, DefaultFormat)

	if c.Synthesis.TimeoutSeconds == 0 {
		c.Synthesis.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Synthesis.MaxAttempts == 0 {
		c.Synthesis.MaxAttempts = DefaultMaxAttempts
	}

	if c.Synthesis.RetryDelayMS == 0 {
		c.Synthesis.RetryDelayMS = DefaultRetryDelayMS
	}

	if c.Cache.Dir == "" {
		c.Cache.Dir = ttsutils.GetAudioCacheDir()
	}

	if c.Cache.DefaultLimit == 0 {
		c.Cache.DefaultLimit = DefaultCacheLimit
	}

	if c.Cache.SettingsFile == "" {
		c.Cache.SettingsFile = ttsutils.GetSettingsPath()
	}

	setDefault(&c.Paths.BaseLogsDir, filepath.Join(ttsutils.GetCacheDir(), "logs"))
}

// Validate checks the values ApplyDefaults cannot repair. The NATS URL is
// only required by the service, see ValidateService.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.Synthesis.APIURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidAPIURL, c.Synthesis.APIURL)
	}

	if c.Synthesis.MaxAttempts < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxAttempts, c.Synthesis.MaxAttempts)
	}

	if c.Synthesis.TimeoutSeconds < 0 || c.Synthesis.RetryDelayMS < 0 {
		return ErrNegativeDuration
	}

	if c.Cache.DefaultLimit < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeLimit, c.Cache.DefaultLimit)
	}

	return nil
}

// ValidateService adds the checks only the NATS service needs.
func (c *Config) ValidateService() error {
	err := c.Validate()
	if err != nil {
		return err
	}

	if c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	return nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
