// Package config implements component J: configuration loading with
// built-in defaults, optional YAML file, BROKER_-prefixed environment
// variable overrides, and programmatic Option values, in increasing
// precedence, matching the teacher's meshnode.Config layering.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Verbosity is a logging level, independently configurable for the
// console sink and the file sink.
type Verbosity string

const (
	VerbosityTrace   Verbosity = "trace"
	VerbosityDebug   Verbosity = "debug"
	VerbosityInfo    Verbosity = "info"
	VerbosityWarning Verbosity = "warning"
	VerbosityError   Verbosity = "error"
	VerbosityQuiet   Verbosity = "quiet"
)

// Config mirrors the broker's tunable surface: transport toggles,
// timing, recording, and logging verbosity.
type Config struct {
	DisableSSL        bool          `yaml:"disable_ssl"`
	DisableForwarding bool          `yaml:"disable_forwarding"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	NackTimeout       time.Duration `yaml:"nack_timeout"`
	ConnectionTimeout int           `yaml:"connection_timeout"`

	RecordingDirectory     string `yaml:"recording_directory"`
	OutputGeneratorFileCap int    `yaml:"output_generator_file_cap"`

	ConsoleVerbosity Verbosity `yaml:"console_verbosity"`
	FileVerbosity    Verbosity `yaml:"file_verbosity"`

	InitialTTL    uint16 `yaml:"initial_ttl"`
	InitialCredit uint32 `yaml:"initial_credit"`
	BatchSize     int    `yaml:"batch_size"`
}

// Default returns the built-in baseline before any file, env, or
// programmatic override is applied.
func Default() Config {
	return Config{
		DisableSSL:             false,
		DisableForwarding:      false,
		TickInterval:           time.Second,
		HeartbeatInterval:      5 * time.Second,
		NackTimeout:            2 * time.Second,
		ConnectionTimeout:      3,
		RecordingDirectory:     "",
		OutputGeneratorFileCap: 10000,
		ConsoleVerbosity:       VerbosityInfo,
		FileVerbosity:          VerbosityWarning,
		InitialTTL:             16,
		InitialCredit:          64,
		BatchSize:              32,
	}
}

// Option is a programmatic override applied after file and
// environment layers, the highest-precedence layer.
type Option func(*Config)

// WithDisableForwarding puts the endpoint into leaf mode.
func WithDisableForwarding(v bool) Option { return func(c *Config) { c.DisableForwarding = v } }

// WithDisableSSL turns off TLS on the peer transport.
func WithDisableSSL(v bool) Option { return func(c *Config) { c.DisableSSL = v } }

// WithRecordingDirectory enables on-disk recording of published
// messages under dir.
func WithRecordingDirectory(dir string) Option {
	return func(c *Config) { c.RecordingDirectory = dir }
}

// WithVerbosity sets both the console and file verbosity.
func WithVerbosity(v Verbosity) Option {
	return func(c *Config) { c.ConsoleVerbosity = v; c.FileVerbosity = v }
}

// Load builds a Config by layering, in increasing precedence: built-in
// defaults, the YAML file at path (skipped if path is empty or
// missing), BROKER_-prefixed environment variables, then opts.
func Load(path string, opts ...Option) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg, nil
}

const envPrefix = "BROKER_"

func applyEnv(c *Config) {
	if v, ok := lookupBool("DISABLE_SSL"); ok {
		c.DisableSSL = v
	}
	if v, ok := lookupBool("DISABLE_FORWARDING"); ok {
		c.DisableForwarding = v
	}
	if v, ok := lookupDuration("TICK_INTERVAL"); ok {
		c.TickInterval = v
	}
	if v, ok := lookupDuration("HEARTBEAT_INTERVAL"); ok {
		c.HeartbeatInterval = v
	}
	if v, ok := lookupDuration("NACK_TIMEOUT"); ok {
		c.NackTimeout = v
	}
	if v, ok := lookupInt("CONNECTION_TIMEOUT"); ok {
		c.ConnectionTimeout = v
	}
	if v, ok := os.LookupEnv(envPrefix + "RECORDING_DIRECTORY"); ok {
		c.RecordingDirectory = v
	}
	if v, ok := lookupInt("OUTPUT_GENERATOR_FILE_CAP"); ok {
		c.OutputGeneratorFileCap = v
	}
	if v, ok := os.LookupEnv(envPrefix + "CONSOLE_VERBOSITY"); ok {
		c.ConsoleVerbosity = Verbosity(v)
	}
	if v, ok := os.LookupEnv(envPrefix + "FILE_VERBOSITY"); ok {
		c.FileVerbosity = Verbosity(v)
	}
	if v, ok := lookupInt("INITIAL_TTL"); ok {
		c.InitialTTL = uint16(v)
	}
	if v, ok := lookupInt("INITIAL_CREDIT"); ok {
		c.InitialCredit = uint32(v)
	}
	if v, ok := lookupInt("BATCH_SIZE"); ok {
		c.BatchSize = v
	}
}

func lookupBool(name string) (bool, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	return b, err == nil
}

func lookupInt(name string) (int, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func lookupDuration(name string) (time.Duration, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	return d, err == nil
}

// DumpContent renders every field as a key=value listing in field order, for
// the status CLI and startup log line. Each field reports its own
// value — the teacher-analogue bug this fixes had disable-forwarding
// echo disable_ssl's value instead of its own.
func (c Config) DumpContent() string {
	lines := []string{
		fmt.Sprintf("disable_ssl=%t", c.DisableSSL),
		fmt.Sprintf("disable_forwarding=%t", c.DisableForwarding),
		fmt.Sprintf("tick_interval=%s", c.TickInterval),
		fmt.Sprintf("heartbeat_interval=%s", c.HeartbeatInterval),
		fmt.Sprintf("nack_timeout=%s", c.NackTimeout),
		fmt.Sprintf("connection_timeout=%d", c.ConnectionTimeout),
		fmt.Sprintf("recording_directory=%s", c.RecordingDirectory),
		fmt.Sprintf("output_generator_file_cap=%d", c.OutputGeneratorFileCap),
		fmt.Sprintf("console_verbosity=%s", c.ConsoleVerbosity),
		fmt.Sprintf("file_verbosity=%s", c.FileVerbosity),
		fmt.Sprintf("initial_ttl=%d", c.InitialTTL),
		fmt.Sprintf("initial_credit=%d", c.InitialCredit),
		fmt.Sprintf("batch_size=%d", c.BatchSize),
	}
	return strings.Join(lines, "\n")
}
