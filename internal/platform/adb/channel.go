// Package adb drives an Android device through a local adb binary.
package adb

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/mj1618/smartscript/internal/model"
	"github.com/mj1618/smartscript/internal/platform"
)

func init() {
	platform.RegisterChannel("adb", func(cfg platform.DeviceConfig) (platform.DeviceChannel, error) {
		return New(cfg), nil
	})
}

// Runner executes a host command and returns its stdout and stderr.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Channel is a platform.DeviceChannel backed by adb.
type Channel struct {
	adbPath string
	serial  string
	timeout time.Duration
	run     Runner
}

// Option configures a Channel.
type Option func(*Channel)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(c *Channel) { c.run = r }
}

// New creates an adb channel for the device named by cfg.Serial. An empty
// serial targets the only connected device.
func New(cfg platform.DeviceConfig, opts ...Option) *Channel {
	c := &Channel{
		adbPath: cfg.ADBPath,
		serial:  cfg.Serial,
		timeout: cfg.CommandTimeout,
		run:     ExecRunner,
	}
	if c.adbPath == "" {
		c.adbPath = "adb"
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Channel) args(mode string, device []string) []string {
	var args []string
	if c.serial != "" {
		args = append(args, "-s", c.serial)
	}
	args = append(args, mode)
	return append(args, device...)
}

func (c *Channel) exec(ctx context.Context, mode string, device []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := c.args(mode, device)
	stdout, stderr, err := c.run(ctx, c.adbPath, args...)
	line := c.adbPath + " " + strings.Join(args, " ")
	if err != nil {
		return nil, platform.ClassifyFailure(ctx, line, string(stderr)+string(stdout), err)
	}
	return stdout, nil
}

// Perform runs the shell commands for the action in order.
func (c *Channel) Perform(ctx context.Context, action platform.Action) (platform.ActionOutcome, error) {
	start := time.Now()
	cmds, err := platform.ShellCommands(action)
	if err != nil {
		return platform.ActionOutcome{}, err
	}
	var out platform.ActionOutcome
	var output strings.Builder
	for _, cmd := range cmds {
		out.Commands = append(out.Commands, platform.JoinCommand(cmd))
		stdout, err := c.exec(ctx, "shell", cmd)
		if err != nil {
			out.Elapsed = time.Since(start)
			return out, err
		}
		output.Write(stdout)
	}
	out.Output = strings.TrimSpace(output.String())
	out.Elapsed = time.Since(start)
	return out, nil
}

// CaptureSnapshot dumps and parses the current UI hierarchy.
func (c *Channel) CaptureSnapshot(ctx context.Context) (*model.Snapshot, error) {
	data, err := c.exec(ctx, "exec-out", platform.DumpHierarchyCommand)
	if err != nil {
		return nil, err
	}
	return platform.ParseHierarchy(data)
}

// CaptureScreenshot returns the screen as PNG bytes.
func (c *Channel) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	return c.exec(ctx, "exec-out", platform.ScreencapCommand)
}
