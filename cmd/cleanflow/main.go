// CleanFlow - multi-tenant dataset cleaning pipeline.
// Loads CSV/XLSX datasets, applies ordered cleaning steps with full undo
// history, and commits results to a content-addressed store.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cleanflow/cleanflow/pkg/config"
	"github.com/cleanflow/cleanflow/pkg/dataset"
	"github.com/cleanflow/cleanflow/pkg/step"
	"github.com/cleanflow/cleanflow/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	inputFile  string
	planFile   string
	outputFile string
	formatFlag string
	tenantFlag string
	commitFlag bool
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cleanflow",
	Short: "CleanFlow - clean tabular datasets with reviewable pipelines",
	Long: `CleanFlow applies ordered cleaning steps to CSV and XLSX datasets.
Every step is recorded in an undoable history; committed results are
persisted once per unique (input, plan) pair.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a cleaning plan against a dataset",
	Long: `Load a dataset, apply the steps from a plan file, and write the result.

Examples:
  cleanflow run -i data.csv -p plan.yaml -o clean.csv
  cleanflow run -i data.xlsx -p plan.yaml -o clean.parquet --commit
  cleanflow run -i data.csv -p plan.yaml -o clean.csv --tenant acme`,
	RunE: runRun,
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List available cleaning actions",
	RunE:  runActions,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show diagnostics for a dataset without modifying it",
	RunE:  runInfo,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	runCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input dataset path (.csv or .xlsx)")
	runCmd.Flags().StringVarP(&planFile, "plan", "p", "", "Plan file path (YAML)")
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path")
	runCmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Output format (csv, parquet) - derived from extension if not set")
	runCmd.Flags().StringVar(&tenantFlag, "tenant", "local", "Tenant id for model quotas")
	runCmd.Flags().BoolVar(&commitFlag, "commit", false, "Commit the result to the durable store")
	runCmd.MarkFlagRequired("input")
	runCmd.MarkFlagRequired("plan")

	infoCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input dataset path (required)")
	infoCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(infoCmd)
}

func runActions(cmd *cobra.Command, args []string) error {
	actions := step.List()
	sort.Strings(actions)

	fmt.Println("Available actions:")
	for _, a := range actions {
		fmt.Printf("  %s\n", a)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()
	limits := dataset.Limits{
		MaxBytes:          cfg.Ingest.MaxBytes,
		MaxRows:           cfg.Ingest.MaxRows,
		AllowedExtensions: []string{".csv", ".xlsx"},
	}

	loader, err := dataset.NewLoader(limits)
	if err != nil {
		return err
	}
	defer loader.Close()

	frame, err := loadDataset(cmd, loader, inputFile)
	if err != nil {
		return err
	}

	tui.PrintDiagnostics(dataset.Analyze(frame))
	return nil
}

func loadDataset(cmd *cobra.Command, loader *dataset.Loader, path string) (*dataset.Frame, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".xlsx"):
		return loader.LoadXLSX(cmd.Context(), path)
	default:
		return loader.LoadCSV(cmd.Context(), path)
	}
}
