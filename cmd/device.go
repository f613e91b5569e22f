package cmd

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mj1618/smartscript/internal/engine"
	"github.com/mj1618/smartscript/internal/matcher"
	"github.com/mj1618/smartscript/internal/page"
	"github.com/mj1618/smartscript/internal/platform"
)

// addDeviceFlags registers the flags that select and reach a device.
func addDeviceFlags(fs *pflag.FlagSet) {
	fs.String("transport", "", "Device transport: "+strings.Join(platform.Transports(), ", "))
	fs.String("serial", "", "adb device serial")
	fs.String("adb-path", "", "Path to the adb binary")
	fs.String("host", "", "SSH host of the device")
	fs.Int("port", 0, "SSH port")
	fs.String("user", "", "SSH user")
	fs.String("key-file", "", "SSH private key file")
	fs.Duration("command-timeout", 0, "Timeout for each device command")
	fs.Duration("cache-ttl", 0, "Reuse snapshots for this long between actions (0 disables)")
}

// deviceConfig applies changed device flags over the loaded config.
func deviceConfig(cmd *cobra.Command) platform.DeviceConfig {
	cfg := appConfig.Device
	fs := cmd.Flags()
	if fs.Changed("transport") {
		cfg.Transport, _ = fs.GetString("transport")
	}
	if fs.Changed("serial") {
		cfg.Serial, _ = fs.GetString("serial")
	}
	if fs.Changed("adb-path") {
		cfg.ADBPath, _ = fs.GetString("adb-path")
	}
	if fs.Changed("host") {
		cfg.Host, _ = fs.GetString("host")
	}
	if fs.Changed("port") {
		cfg.Port, _ = fs.GetInt("port")
	}
	if fs.Changed("user") {
		cfg.User, _ = fs.GetString("user")
	}
	if fs.Changed("key-file") {
		cfg.KeyFile, _ = fs.GetString("key-file")
	}
	if fs.Changed("command-timeout") {
		cfg.CommandTimeout, _ = fs.GetDuration("command-timeout")
	}
	if fs.Changed("cache-ttl") {
		cfg.CacheTTL, _ = fs.GetDuration("cache-ttl")
	}
	return cfg
}

// newProvider connects a device channel and pairs it with the default
// matcher and recognizer. The returned func releases the channel.
func newProvider(cfg platform.DeviceConfig) (*platform.Provider, func(), error) {
	ch, err := platform.NewChannel(cfg)
	if err != nil {
		return nil, nil, err
	}
	p := &platform.Provider{
		Device:     ch,
		Matcher:    matcher.New(),
		Recognizer: page.New(),
	}
	if s, ok := ch.(platform.Screenshotter); ok {
		p.Screenshotter = s
	}
	release := func() {
		if c, ok := ch.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("failed to close device channel", "error", err)
			}
		}
	}
	return p, release, nil
}

// addEngineFlags registers per-run engine overrides.
func addEngineFlags(fs *pflag.FlagSet) {
	fs.Bool("continue-on-error", false, "Keep going after a failed step")
	fs.Int("retry-count", 0, "Default retries for steps without retry_count")
	fs.Duration("timeout", 0, "Overall run timeout (0 = none)")
	fs.Duration("step-delay", 0, "Pause between steps")
	fs.Bool("no-recognition", false, "Disable page recognition")
	fs.Bool("no-verify", false, "Disable automatic verification")
	fs.Bool("no-recovery", false, "Disable fallback actions")
	fs.Bool("detailed", false, "Log every device action")
	fs.String("artifacts", "", "Write failure screenshots and snapshots to this directory")
}

// engineConfig applies changed engine flags over base.
func engineConfig(cmd *cobra.Command, base engine.Config) engine.Config {
	cfg := base
	fs := cmd.Flags()
	if fs.Changed("continue-on-error") {
		cfg.ContinueOnError, _ = fs.GetBool("continue-on-error")
	}
	if fs.Changed("retry-count") {
		cfg.DefaultRetryCount, _ = fs.GetInt("retry-count")
	}
	if fs.Changed("timeout") {
		d, _ := fs.GetDuration("timeout")
		cfg.OverallTimeoutMS = int(d / time.Millisecond)
	}
	if fs.Changed("step-delay") {
		d, _ := fs.GetDuration("step-delay")
		cfg.StepDelayMS = int(d / time.Millisecond)
	}
	if off, _ := fs.GetBool("no-recognition"); off {
		cfg.PageRecognitionEnabled = false
	}
	if off, _ := fs.GetBool("no-verify"); off {
		cfg.AutoVerificationEnabled = false
	}
	if off, _ := fs.GetBool("no-recovery"); off {
		cfg.SmartRecoveryEnabled = false
	}
	if on, _ := fs.GetBool("detailed"); on {
		cfg.DetailedLogging = true
	}
	if fs.Changed("artifacts") {
		cfg.ArtifactsDir, _ = fs.GetString("artifacts")
		cfg.ScreenshotOnFail = cfg.ArtifactsDir != ""
	}
	return cfg
}

// commandContext returns the command context or a background context.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
