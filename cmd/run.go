package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mj1618/smartscript/internal/engine"
	"github.com/mj1618/smartscript/internal/output"
	"github.com/mj1618/smartscript/internal/script"
	"github.com/mj1618/smartscript/internal/stream"
	"github.com/mj1618/smartscript/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run a script on a device",
	Long: `Run a YAML or JSON script on a device and print the execution result.

The first Ctrl-C lets the current step finish and stops the run; a second
Ctrl-C aborts the step in flight.

Examples:
  smartscript run login.yaml --serial emulator-5554
  smartscript run daily.yaml --transport ssh --host 10.0.0.7 --follow
  smartscript run flaky.yaml --continue-on-error --artifacts ./failures
  smartscript run long.yaml --stream-addr :8090`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addDeviceFlags(runCmd.Flags())
	addEngineFlags(runCmd.Flags())
	runCmd.Flags().Bool("follow", false, "Print log entries to stderr as they happen")
	runCmd.Flags().String("stream-addr", "", "Serve the log stream over websocket on this address")
	runCmd.Flags().Bool("log", true, "Include the step log in the printed result")
}

// loadScript reads a script and resolves its engine config: loaded config,
// then the script's config block, then command flags.
func loadScript(cmd *cobra.Command, path string) (*script.Program, engine.Config, error) {
	doc, err := script.Load(path)
	if err != nil {
		return nil, engine.Config{}, err
	}
	cfg := appConfig.Engine
	if err := doc.DecodeConfig(&cfg); err != nil {
		return nil, cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg = engineConfig(cmd, cfg)
	prog, err := doc.Program()
	if err != nil {
		return nil, cfg, fmt.Errorf("%s: %w", path, err)
	}
	return prog, cfg, nil
}

// setupTelemetry starts the trace exporter. The returned func flushes it.
func setupTelemetry(ctx context.Context) (*telemetry.Provider, func(), error) {
	tp, err := telemetry.Setup(ctx, appConfig.Telemetry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	return tp, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}, nil
}

// startStream serves a log stream hub on addr until ctx ends.
func startStream(ctx context.Context, addr string) *stream.Hub {
	hub := stream.NewHub(appConfig.Stream.History, slog.Default())
	go func() {
		if err := hub.Serve(ctx, addr); err != nil {
			slog.Error("log stream stopped", "error", err)
		}
	}()
	return hub
}

func runRun(cmd *cobra.Command, args []string) error {
	prog, cfg, err := loadScript(cmd, args[0])
	if err != nil {
		return err
	}
	provider, release, err := newProvider(deviceConfig(cmd))
	if err != nil {
		return err
	}
	defer release()

	ctx, abort := context.WithCancel(commandContext(cmd))
	defer abort()

	tp, flush, err := setupTelemetry(ctx)
	if err != nil {
		return err
	}
	defer flush()

	opts := []engine.Option{
		engine.WithLogger(slog.Default()),
		engine.WithTracerProvider(tp.TracerProvider()),
	}
	if follow, _ := cmd.Flags().GetBool("follow"); follow {
		opts = append(opts, engine.WithObserver(func(e engine.LogEntry) {
			fmt.Fprintln(os.Stderr, e.String())
		}))
	}
	addr, _ := cmd.Flags().GetString("stream-addr")
	if addr == "" {
		addr = appConfig.Stream.Addr
	}
	var hub *stream.Hub
	if addr != "" {
		hub = startStream(ctx, addr)
		opts = append(opts, engine.WithObserver(hub.Observe))
	}

	exec, err := engine.New(provider, cfg, opts...)
	if err != nil {
		return err
	}

	run := exec.Start(ctx, prog)
	slog.Info("run started", "run_id", run.ID, "script", prog.Name, "steps", prog.Total)
	stopSignals := cancelOnInterrupt(run, abort)
	res := run.Wait()
	stopSignals()
	if hub != nil {
		hub.Finish(res)
	}

	if withLog, _ := cmd.Flags().GetBool("log"); !withLog {
		res.Log = nil
	}
	if err := output.Print(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("run %s %s: %s", res.RunID, res.State, res.Message)
	}
	return nil
}

// cancelOnInterrupt turns the first SIGINT or SIGTERM into a cooperative
// cancel and the second into an abort. The returned func stops listening.
func cancelOnInterrupt(run *engine.Run, abort context.CancelFunc) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		n := 0
		for {
			select {
			case <-sigs:
				n++
				if n == 1 {
					slog.Warn("interrupt received, stopping after the current step (press Ctrl-C again to abort)", "run_id", run.ID)
					run.Cancel()
					continue
				}
				slog.Warn("aborting", "run_id", run.ID)
				abort()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
