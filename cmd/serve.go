package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mj1618/smartscript/internal/engine"
	"github.com/mj1618/smartscript/internal/server"
	"github.com/mj1618/smartscript/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an MCP server exposing smartscript tools",
	Long: `Start a Model Context Protocol (MCP) server that lets AI agents validate
and run scripts, poll and cancel runs, recognize the current page and find
elements on the connected device.

Supported transports:
  stdio             Standard I/O (default, for MCP clients)
  streamable-http   Streamable HTTP transport (for remote agents)

Examples:
  smartscript serve --serial emulator-5554
  smartscript serve --transport streamable-http --port 8080
  smartscript serve --stream-addr :8090 --retain 30m`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addDeviceFlags(serveCmd.Flags())
	addEngineFlags(serveCmd.Flags())
	serveCmd.Flags().String("mcp-transport", "stdio", "MCP transport: stdio, streamable-http")
	serveCmd.Flags().Int("mcp-port", 8080, "HTTP port for streamable-http transport")
	serveCmd.Flags().Duration("retain", time.Hour, "How long finished runs stay queryable (0 keeps them)")
	serveCmd.Flags().String("stream-addr", "", "Serve the log stream over websocket on this address")
}

func runServe(cmd *cobra.Command, args []string) error {
	transport, _ := cmd.Flags().GetString("mcp-transport")
	port, _ := cmd.Flags().GetInt("mcp-port")
	retain, _ := cmd.Flags().GetDuration("retain")

	provider, release, err := newProvider(deviceConfig(cmd))
	if err != nil {
		return err
	}
	defer release()

	ctx := commandContext(cmd)
	tp, flush, err := setupTelemetry(ctx)
	if err != nil {
		return err
	}
	defer flush()

	engineOpts := []engine.Option{engine.WithTracerProvider(tp.TracerProvider())}
	opts := []server.Option{
		server.WithLogger(slog.Default()),
		server.WithVersion(version.Version),
		server.WithContext(ctx),
	}
	addr, _ := cmd.Flags().GetString("stream-addr")
	if addr == "" {
		addr = appConfig.Stream.Addr
	}
	if addr != "" {
		hub := startStream(ctx, addr)
		engineOpts = append(engineOpts, engine.WithObserver(hub.Observe))
		opts = append(opts, server.WithHub(hub))
	}
	opts = append(opts, server.WithEngineOptions(engineOpts...))

	cfg := server.Config{Transport: transport, Port: port, RetainRuns: retain}
	srv, err := server.New(provider, engineConfig(cmd, appConfig.Engine), cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return srv.Serve(cfg)
}
