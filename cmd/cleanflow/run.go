package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleanflow/cleanflow/pkg/config"
	"github.com/cleanflow/cleanflow/pkg/dataset"
	"github.com/cleanflow/cleanflow/pkg/export"
	"github.com/cleanflow/cleanflow/pkg/models"
	"github.com/cleanflow/cleanflow/pkg/resultstore"
	"github.com/cleanflow/cleanflow/pkg/session"
	"github.com/cleanflow/cleanflow/pkg/step"
	"github.com/cleanflow/cleanflow/pkg/tui"
)

func runRun(cmd *cobra.Command, args []string) error {
	start := time.Now()
	cfg := config.Global().Get()

	plan, err := LoadPlan(planFile)
	if err != nil {
		return err
	}

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

	if verbose {
		tui.PrintDiagnostics(dataset.Analyze(frame))
	}

	registry := models.NewRegistry(models.Config{
		DefaultQuota:  cfg.Models.DefaultQuota,
		TenantQuotas:  cfg.Models.TenantQuotas,
		IdleTimeout:   cfg.Models.IdleTimeout,
		SweepInterval: cfg.Models.SweepInterval,
		SystemKeys:    cfg.Models.SystemKeys,
	})
	defer registry.Close()

	var results resultstore.Store
	if commitFlag {
		results, err = openResultStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer results.Close()
	}

	mgr := session.NewManager(session.Config{
		PreviewRows:    cfg.Session.PreviewRows,
		IdleTimeout:    cfg.Session.IdleTimeout,
		SweepInterval:  cfg.Session.SweepInterval,
		DurableActions: []string{"classify_column"},
	}, step.Default(), registry, results)
	defer mgr.Close()

	for kind, spec := range plan.Models {
		mgr.RegisterModel(kind, spec.Constructor())
	}

	sess, err := mgr.Create(tenantFlag, filepath.Base(inputFile), frame)
	if err != nil {
		return err
	}
	defer mgr.Discard(tenantFlag, sess.ID)

	// Submit steps one at a time so progress is visible; each round loops
	// Review back to Planning for the next step.
	bar := tui.StepProgress(len(plan.Steps))
	var result *session.Result
	for _, st := range plan.Steps {
		result, err = sess.Submit(cmd.Context(), []step.Step{st})
		if err != nil {
			tui.PrintError(err)
			return err
		}
		bar.Add(1)
	}
	bar.Finish()

	if commitFlag {
		result, err = sess.Commit(cmd.Context())
		if err != nil {
			tui.PrintError(err)
			return err
		}
	}

	if outputFile != "" {
		if err := writeOutput(sess, outputFile); err != nil {
			return err
		}
	}

	tui.PrintRunReport(tui.RunReport{
		Steps:     len(plan.Steps),
		RowCount:  result.RowCount,
		ColCount:  result.ColCount,
		Duration:  time.Since(start),
		Committed: result.CommittedKey,
	})
	return nil
}

// writeOutput exports the final snapshot to the requested format.
func writeOutput(sess *session.Session, path string) error {
	frame, err := sess.Frame()
	if err != nil {
		return err
	}

	format := formatFlag
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer f.Close()

	switch format {
	case "parquet":
		return export.WriteParquet(f, frame, export.DefaultParquetOptions())
	case "csv", "":
		return export.WriteCSV(f, frame)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// openResultStore builds the configured durable backend.
func openResultStore(cmd *cobra.Command, cfg *config.Config) (resultstore.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s3cfg := resultstore.DefaultS3Config(cfg.Storage.S3.Bucket, cfg.Storage.S3.Region)
		if cfg.Storage.S3.Prefix != "" {
			s3cfg.Prefix = cfg.Storage.S3.Prefix
		}
		s3cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		return resultstore.NewS3Store(cmd.Context(), s3cfg)

	case "redis":
		rcfg := resultstore.DefaultRedisConfig(cfg.Storage.Redis.Address)
		rcfg.Password = cfg.Storage.Redis.Password
		rcfg.Database = cfg.Storage.Redis.Database
		if cfg.Storage.Redis.Prefix != "" {
			rcfg.Prefix = cfg.Storage.Redis.Prefix
		}
		rcfg.TTL = cfg.Storage.Redis.TTL
		return resultstore.NewRedisStore(cmd.Context(), rcfg)

	default:
		return resultstore.NewLocalStore(cfg.Storage.LocalDir)
	}
}
