package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mj1618/smartscript/internal/engine"
	"github.com/mj1618/smartscript/internal/output"
)

var batchCmd = &cobra.Command{
	Use:   "batch <script>",
	Short: "Run a script on several devices at once",
	Long: `Run the same script on several independent devices concurrently. Each
device gets its own run; one device failing does not stop the others.

With the adb transport --device names serials; with ssh it names hosts.

Examples:
  smartscript batch smoke.yaml --device emulator-5554,emulator-5556
  smartscript batch smoke.yaml --transport ssh --device 10.0.0.7,10.0.0.8 --parallel 1`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addDeviceFlags(batchCmd.Flags())
	addEngineFlags(batchCmd.Flags())
	batchCmd.Flags().StringSlice("device", nil, "Devices to run on (comma-separated)")
	batchCmd.Flags().Int("parallel", 4, "Max runs at once")
	batchCmd.Flags().Bool("log", false, "Include step logs in the printed results")
	_ = batchCmd.MarkFlagRequired("device")
}

// batchSummary is one line of batch output.
type batchSummary struct {
	Device string         `yaml:"device"          json:"device"`
	Error  string         `yaml:"error,omitempty" json:"error,omitempty"`
	Result *engine.Result `yaml:"result,omitempty" json:"result,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	prog, cfg, err := loadScript(cmd, args[0])
	if err != nil {
		return err
	}
	devices, _ := cmd.Flags().GetStringSlice("device")
	parallel, _ := cmd.Flags().GetInt("parallel")
	withLog, _ := cmd.Flags().GetBool("log")

	ctx := commandContext(cmd)
	tp, flush, err := setupTelemetry(ctx)
	if err != nil {
		return err
	}
	defer flush()

	base := deviceConfig(cmd)
	var (
		jobs    []engine.BatchJob
		summary []batchSummary
	)
	for _, device := range devices {
		dc := base
		if dc.Transport == "ssh" {
			dc.Host = device
		} else {
			dc.Serial = device
		}
		provider, release, err := newProvider(dc)
		if err != nil {
			summary = append(summary, batchSummary{Device: device, Error: err.Error()})
			continue
		}
		defer release()
		exec, err := engine.New(provider, cfg,
			engine.WithLogger(slog.Default().With("device", device)),
			engine.WithTracerProvider(tp.TracerProvider()),
		)
		if err != nil {
			return err
		}
		jobs = append(jobs, engine.BatchJob{Name: device, Executor: exec, Program: prog})
	}

	failed := len(summary)
	for _, r := range engine.RunBatch(ctx, jobs, parallel) {
		if !r.Result.Success {
			failed++
		}
		if !withLog {
			r.Result.Log = nil
		}
		summary = append(summary, batchSummary{Device: r.Name, Result: r.Result})
	}

	if err := output.Print(summary); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d device(s) failed", failed, len(devices))
	}
	return nil
}
