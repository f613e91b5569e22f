// Package config loads smartscript settings from smartscript.yaml, a .env
// file and SMARTSCRIPT_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mj1618/smartscript/internal/engine"
	"github.com/mj1618/smartscript/internal/platform"
)

// FileName is the config file looked up in the working directory.
const FileName = "smartscript.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SMARTSCRIPT_"

// Config is the full application configuration.
type Config struct {
	Engine    engine.Config         `yaml:"engine"`
	Device    platform.DeviceConfig `yaml:"device"`
	Telemetry Telemetry             `yaml:"telemetry"`
	Stream    Stream                `yaml:"stream"`
	LogLevel  string                `yaml:"log_level"`
	LogFormat string                `yaml:"log_format"`
}

// Telemetry configures the OTLP trace exporter. An empty endpoint disables it.
type Telemetry struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Stream configures the websocket log stream. An empty address disables it.
type Stream struct {
	Addr    string `yaml:"addr"`
	History int    `yaml:"history"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: engine.DefaultConfig(),
		Device: platform.DeviceConfig{
			Transport:      "adb",
			Port:           22,
			CommandTimeout: 15 * time.Second,
		},
		Telemetry: Telemetry{ServiceName: "smartscript", Insecure: true},
		Stream:    Stream{History: 1000},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads the config file at path over the defaults and applies
// environment overrides. An empty path reads FileName when it exists.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = FileName
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the engine limits and the log settings.
func (c Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q (use text or json)", c.LogFormat)
	}
	return nil
}

// binding maps one environment variable onto a config field.
type binding struct {
	name string
	set  func(string) error
}

func stringVar(p *string) func(string) error {
	return func(v string) error { *p = v; return nil }
}

func intVar(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", v)
		}
		*p = n
		return nil
	}
}

func boolVar(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("expected a boolean, got %q", v)
		}
		*p = b
		return nil
	}
}

func durationVar(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("expected a duration, got %q", v)
		}
		*p = d
		return nil
	}
}

func (c *Config) bindings() []binding {
	e, d := &c.Engine, &c.Device
	return []binding{
		{"CONTINUE_ON_ERROR", boolVar(&e.ContinueOnError)},
		{"PAGE_RECOGNITION_ENABLED", boolVar(&e.PageRecognitionEnabled)},
		{"AUTO_VERIFICATION_ENABLED", boolVar(&e.AutoVerificationEnabled)},
		{"SMART_RECOVERY_ENABLED", boolVar(&e.SmartRecoveryEnabled)},
		{"DETAILED_LOGGING", boolVar(&e.DetailedLogging)},
		{"DEFAULT_TIMEOUT_MS", intVar(&e.DefaultTimeoutMS)},
		{"DEFAULT_RETRY_COUNT", intVar(&e.DefaultRetryCount)},
		{"DEFAULT_RETRY_INTERVAL_MS", intVar(&e.DefaultRetryIntervalMS)},
		{"VERIFY_INTERVAL_MS", intVar(&e.VerifyIntervalMS)},
		{"OVERALL_TIMEOUT_MS", intVar(&e.OverallTimeoutMS)},
		{"STEP_DELAY_MS", intVar(&e.StepDelayMS)},
		{"MAX_INFINITE_ITERATIONS", intVar(&e.MaxInfiniteIterations)},
		{"SCREENSHOT_ON_FAIL", boolVar(&e.ScreenshotOnFail)},
		{"ARTIFACTS_DIR", stringVar(&e.ArtifactsDir)},

		{"DEVICE_TRANSPORT", stringVar(&d.Transport)},
		{"DEVICE_SERIAL", stringVar(&d.Serial)},
		{"ADB_PATH", stringVar(&d.ADBPath)},
		{"SSH_HOST", stringVar(&d.Host)},
		{"SSH_PORT", intVar(&d.Port)},
		{"SSH_USER", stringVar(&d.User)},
		{"SSH_KEY_FILE", stringVar(&d.KeyFile)},
		{"SSH_PASSWORD", stringVar(&d.Password)},
		{"SSH_KNOWN_HOSTS", stringVar(&d.KnownHosts)},
		{"SSH_COMMAND_PREFIX", stringVar(&d.CommandPrefix)},
		{"COMMAND_TIMEOUT", durationVar(&d.CommandTimeout)},
		{"SNAPSHOT_CACHE_TTL", durationVar(&d.CacheTTL)},

		{"STREAM_ADDR", stringVar(&c.Stream.Addr)},
		{"LOG_LEVEL", stringVar(&c.LogLevel)},
		{"LOG_FORMAT", stringVar(&c.LogFormat)},
	}
}

// ApplyEnv overrides fields from SMARTSCRIPT_* variables. The standard
// OTEL_EXPORTER_OTLP_ENDPOINT and OTEL_SERVICE_NAME variables configure
// telemetry.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range c.bindings() {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.set(strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err))
		}
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		c.Telemetry.Endpoint = v
	}
	if v, ok := lookup("OTEL_SERVICE_NAME"); ok && v != "" {
		c.Telemetry.ServiceName = v
	}
	return errors.Join(errs...)
}
