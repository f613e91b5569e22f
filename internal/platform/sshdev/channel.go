// Package sshdev drives an Android device over SSH. The remote end is either
// an sshd running on the device itself or a host with adb, selected by the
// command prefix (for example "adb -s emulator-5554 shell").
package sshdev

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mj1618/smartscript/internal/model"
	"github.com/mj1618/smartscript/internal/platform"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func init() {
	platform.RegisterChannel("ssh", func(cfg platform.DeviceConfig) (platform.DeviceChannel, error) {
		return New(cfg)
	})
}

// Executor runs a remote command line and returns stdout and stderr.
type Executor interface {
	Run(ctx context.Context, cmd string) (stdout, stderr []byte, err error)
}

// Channel is a platform.DeviceChannel that executes device commands over SSH.
type Channel struct {
	exec    Executor
	prefix  string
	timeout time.Duration
}

// New connects lazily: the SSH handshake happens on the first command.
func New(cfg platform.DeviceConfig) (*Channel, error) {
	clientCfg, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh transport requires a host")
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	return NewWithExecutor(cfg, &client{addr: addr, config: clientCfg}), nil
}

// NewWithExecutor builds a channel over an existing executor.
func NewWithExecutor(cfg platform.DeviceConfig, exec Executor) *Channel {
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Channel{exec: exec, prefix: strings.TrimSpace(cfg.CommandPrefix), timeout: timeout}
}

// ClientConfig builds the SSH client configuration. Password auth is tried
// first, then the private key. Host keys are checked against known_hosts
// when a file is configured.
func ClientConfig(cfg platform.DeviceConfig) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod
	if cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			if len(authMethods) == 0 {
				return nil, fmt.Errorf("unable to read private key: %w", err)
			}
		} else {
			signer, err := ssh.ParsePrivateKey(key)
			if err != nil {
				if len(authMethods) == 0 {
					return nil, fmt.Errorf("unable to parse private key: %w", err)
				}
			} else {
				authMethods = append(authMethods, ssh.PublicKeys(signer))
			}
		}
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method configured (provide password or key file)")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKey = cb
	}

	user := cfg.User
	if user == "" {
		user = "shell"
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKey,
		Timeout:         30 * time.Second,
	}, nil
}

// shellEscape wraps s in single quotes for the remote host shell.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// commandLine renders a device command for the remote host.
func (c *Channel) commandLine(args []string) string {
	line := platform.JoinCommand(args)
	if c.prefix == "" {
		return line
	}
	return c.prefix + " " + shellEscape(line)
}

func (c *Channel) run(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	line := c.commandLine(args)
	stdout, stderr, err := c.exec.Run(ctx, line)
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
	for _, cmd := range cmds {
		out.Commands = append(out.Commands, c.commandLine(cmd))
		stdout, err := c.run(ctx, cmd)
		if err != nil {
			out.Elapsed = time.Since(start)
			return out, err
		}
		out.Output += string(stdout)
	}
	out.Output = strings.TrimSpace(out.Output)
	out.Elapsed = time.Since(start)
	return out, nil
}

// CaptureSnapshot dumps and parses the current UI hierarchy.
func (c *Channel) CaptureSnapshot(ctx context.Context) (*model.Snapshot, error) {
	data, err := c.run(ctx, platform.DumpHierarchyCommand)
	if err != nil {
		return nil, err
	}
	return platform.ParseHierarchy(data)
}

// CaptureScreenshot returns the screen as PNG bytes.
func (c *Channel) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	return c.run(ctx, platform.ScreencapCommand)
}

// Close releases the SSH connection if the executor holds one.
func (c *Channel) Close() error {
	if cl, ok := c.exec.(*client); ok {
		return cl.Close()
	}
	return nil
}

// client is an Executor over a single lazily dialed SSH connection.
type client struct {
	addr   string
	config *ssh.ClientConfig

	mu   sync.Mutex
	conn *ssh.Client
}

func (c *client) connect() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := ssh.Dial("tcp", c.addr, c.config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dial %s: %v", platform.ErrDeviceUnreachable, c.addr, err)
	}
	c.conn = conn
	return conn, nil
}

func (c *client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Run opens a session per command. The session is closed when ctx ends.
func (c *client) Run(ctx context.Context, cmd string) ([]byte, []byte, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, nil, err
	}
	session, err := conn.NewSession()
	if err != nil {
		c.reset()
		return nil, nil, fmt.Errorf("%w: open session: %v", platform.ErrDeviceUnreachable, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err := <-done:
		return stdout.Bytes(), stderr.Bytes(), err
	case <-ctx.Done():
		session.Close()
		return stdout.Bytes(), stderr.Bytes(), ctx.Err()
	}
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
