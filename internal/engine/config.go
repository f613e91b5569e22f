package engine

import (
	"fmt"
	"time"

	"github.com/mj1618/smartscript/internal/script"
)

// Config controls how an Executor runs a program.
type Config struct {
	ContinueOnError         bool `yaml:"continue_on_error"         json:"continue_on_error"`
	PageRecognitionEnabled  bool `yaml:"page_recognition_enabled"  json:"page_recognition_enabled"`
	AutoVerificationEnabled bool `yaml:"auto_verification_enabled" json:"auto_verification_enabled"`
	SmartRecoveryEnabled    bool `yaml:"smart_recovery_enabled"    json:"smart_recovery_enabled"`
	DetailedLogging         bool `yaml:"detailed_logging"          json:"detailed_logging"`

	DefaultTimeoutMS       int `yaml:"default_timeout_ms"        json:"default_timeout_ms"`
	DefaultRetryCount      int `yaml:"default_retry_count"       json:"default_retry_count"`
	DefaultRetryIntervalMS int `yaml:"default_retry_interval_ms" json:"default_retry_interval_ms"`
	VerifyIntervalMS       int `yaml:"verify_interval_ms"        json:"verify_interval_ms"`
	OverallTimeoutMS       int `yaml:"overall_timeout_ms"        json:"overall_timeout_ms"`
	StepDelayMS            int `yaml:"step_delay_ms"             json:"step_delay_ms"`
	MaxInfiniteIterations  int `yaml:"max_infinite_iterations"   json:"max_infinite_iterations"`

	// ScreenshotOnFail writes an annotated screenshot and the last snapshot
	// to ArtifactsDir when a step fails.
	ScreenshotOnFail bool   `yaml:"screenshot_on_fail" json:"screenshot_on_fail"`
	ArtifactsDir     string `yaml:"artifacts_dir"      json:"artifacts_dir"`
}

// DefaultConfig returns the settings used when a script does not override them.
func DefaultConfig() Config {
	return Config{
		PageRecognitionEnabled:  true,
		AutoVerificationEnabled: true,
		SmartRecoveryEnabled:    true,
		DefaultTimeoutMS:        10000,
		DefaultRetryCount:       2,
		DefaultRetryIntervalMS:  1000,
		VerifyIntervalMS:        500,
		MaxInfiniteIterations:   1000,
	}
}

// Validate rejects negative limits.
func (c Config) Validate() error {
	fields := map[string]int{
		"default_timeout_ms":        c.DefaultTimeoutMS,
		"default_retry_count":       c.DefaultRetryCount,
		"default_retry_interval_ms": c.DefaultRetryIntervalMS,
		"verify_interval_ms":        c.VerifyIntervalMS,
		"overall_timeout_ms":        c.OverallTimeoutMS,
		"step_delay_ms":             c.StepDelayMS,
		"max_infinite_iterations":   c.MaxInfiniteIterations,
	}
	for name, v := range fields {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// retryDefaults fills step retry policies. The default timeout bounds
// polling steps only; plain actions run until the device answers.
func (c Config) retryDefaults() script.RetryPolicy {
	return script.RetryPolicy{
		MaxRetries: c.DefaultRetryCount,
		Interval:   ms(c.DefaultRetryIntervalMS),
	}
}

func (c Config) verifyInterval() time.Duration {
	if c.VerifyIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return ms(c.VerifyIntervalMS)
}

func (c Config) defaultTimeout() time.Duration {
	if c.DefaultTimeoutMS <= 0 {
		return 10 * time.Second
	}
	return ms(c.DefaultTimeoutMS)
}

func (c Config) maxInfinite() int {
	if c.MaxInfiniteIterations <= 0 {
		return 1000
	}
	return c.MaxInfiniteIterations
}
