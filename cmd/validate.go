package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mj1618/smartscript/internal/output"
	"github.com/mj1618/smartscript/internal/script"
)

var validateCmd = &cobra.Command{
	Use:   "validate <script>",
	Short: "Check a script without running it",
	Long: `Parse a script and print its steps, loop pairs, nesting depth and every
problem found. Exits non-zero when the script has issues.

Examples:
  smartscript validate login.yaml
  smartscript validate login.yaml --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	doc, err := script.Load(args[0])
	if err != nil {
		return err
	}
	report := script.Analyze(doc.Steps)
	problems := len(report.Issues)

	cfg := appConfig.Engine
	if err := doc.DecodeConfig(&cfg); err != nil {
		report.Valid = false
		report.Warnings = append(report.Warnings, err.Error())
		problems++
	} else if err := cfg.Validate(); err != nil {
		report.Valid = false
		report.Warnings = append(report.Warnings, "config: "+err.Error())
		problems++
	}

	if err := output.Print(report); err != nil {
		return err
	}
	if !report.Valid {
		return fmt.Errorf("%s: %d issue(s) found", args[0], problems)
	}
	return nil
}
