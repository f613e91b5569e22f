// Package server exposes the script engine as Model Context Protocol tools.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mj1618/smartscript/internal/engine"
	"github.com/mj1618/smartscript/internal/platform"
	"github.com/mj1618/smartscript/internal/stream"
)

// Config holds MCP server configuration.
type Config struct {
	Transport string
	Port      int
	// RetainRuns is how long finished runs stay queryable.
	RetainRuns time.Duration
}

// Server wraps the MCP server with the device provider and the runs it started.
type Server struct {
	provider   *platform.Provider
	providerMu sync.Mutex
	base       engine.Config
	engineOpts []engine.Option
	runs       *Registry
	hub        *stream.Hub
	logger     *slog.Logger
	version    string

	// ctx parents asynchronous runs.
	ctx context.Context
	mcp *mcpserver.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithEngineOptions passes options to every executor the server creates.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Server) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithHub publishes run results to a log stream hub. Entries reach the hub
// through an engine observer.
func WithHub(h *stream.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithContext sets the parent context of runs started without waiting.
func WithContext(ctx context.Context) Option {
	return func(s *Server) { s.ctx = ctx }
}

// New creates a server with all smartscript tools registered.
func New(p *platform.Provider, base engine.Config, cfg Config, opts ...Option) (*Server, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		provider: p,
		base:     base,
		runs:     NewRegistry(cfg.RetainRuns),
		logger:   slog.Default(),
		version:  "dev",
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcp = mcpserver.NewMCPServer("smartscript", s.version)
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server with the configured transport.
func (s *Server) Serve(cfg Config) error {
	switch cfg.Transport {
	case "", "stdio":
		return mcpserver.ServeStdio(s.mcp)
	case "streamable-http":
		httpServer := mcpserver.NewStreamableHTTPServer(s.mcp)
		s.logger.Info("mcp server listening", "port", cfg.Port)
		return httpServer.Start(fmt.Sprintf(":%d", cfg.Port))
	default:
		return fmt.Errorf("unsupported transport: %s (use stdio or streamable-http)", cfg.Transport)
	}
}

// Runs returns the run registry.
func (s *Server) Runs() *Registry { return s.runs }

func (s *Server) registerTools() {
	s.mcp.AddTool(
		mcp.NewTool("validate_script",
			mcp.WithDescription("Parse a script and report its steps, loop pairs and problems without running it"),
			mcp.WithString("script", mcp.Required(), mcp.Description("Script as YAML or JSON: a list of steps or a document with a steps key")),
		),
		s.handleValidate,
	)

	s.mcp.AddTool(
		mcp.NewTool("run_script",
			mcp.WithDescription("Run a script on the device. By default waits for the result; with wait=false returns a run id to poll with run_status."),
			mcp.WithString("script", mcp.Required(), mcp.Description("Script as YAML or JSON")),
			mcp.WithBoolean("wait", mcp.Description("Block until the run ends (default true)")),
			mcp.WithBoolean("continue_on_error", mcp.Description("Keep going after a failed step")),
			mcp.WithNumber("timeout_ms", mcp.Description("Overall run timeout in milliseconds (0 = none)")),
			mcp.WithBoolean("include_log", mcp.Description("Include the step log in the result (default true)")),
		),
		s.handleRunScript,
	)

	s.mcp.AddTool(
		mcp.NewTool("run_status",
			mcp.WithDescription("Report the state of a run, and its result once finished"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id returned by run_script")),
			mcp.WithBoolean("include_log", mcp.Description("Include the step log (default false)")),
		),
		s.handleRunStatus,
	)

	s.mcp.AddTool(
		mcp.NewTool("cancel_run",
			mcp.WithDescription("Request cancellation of a run. The current step finishes first."),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id returned by run_script")),
		),
		s.handleCancelRun,
	)

	s.mcp.AddTool(
		mcp.NewTool("list_runs",
			mcp.WithDescription("List runs started by this server"),
		),
		s.handleListRuns,
	)

	s.mcp.AddTool(
		mcp.NewTool("run_step",
			mcp.WithDescription("Run a single step, given as YAML or JSON, and return its result"),
			mcp.WithString("step", mcp.Required(), mcp.Description("Step with id, type and parameters")),
		),
		s.handleRunStep,
	)

	s.mcp.AddTool(
		mcp.NewTool("recognize_page",
			mcp.WithDescription("Capture the screen and classify the current page state"),
		),
		s.handleRecognizePage,
	)

	s.mcp.AddTool(
		mcp.NewTool("find_element",
			mcp.WithDescription("Capture the screen and rank elements matching a condition"),
			mcp.WithString("value", mcp.Required(), mcp.Description("Text, resource id, description, class or ref to look for")),
			mcp.WithString("method", mcp.Description("Match method: text, contains (default), resource_id, description, class, ref")),
			mcp.WithBoolean("clickable_only", mcp.Description("Only consider clickable elements")),
			mcp.WithNumber("limit", mcp.Description("Max matches returned (default 5)")),
		),
		s.handleFindElement,
	)
}
