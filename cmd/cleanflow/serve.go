package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleanflow/cleanflow/pkg/classify"
	"github.com/cleanflow/cleanflow/pkg/config"
	"github.com/cleanflow/cleanflow/pkg/dataset"
	"github.com/cleanflow/cleanflow/pkg/lifecycle"
	"github.com/cleanflow/cleanflow/pkg/models"
	"github.com/cleanflow/cleanflow/pkg/server"
	"github.com/cleanflow/cleanflow/pkg/session"
	"github.com/cleanflow/cleanflow/pkg/step"
	"github.com/cleanflow/cleanflow/pkg/telemetry"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the CleanFlow HTTP API.

The server provides:
  - Session creation from CSV/XLSX uploads
  - Step submission with preview and full undo history
  - Idempotent commit to the durable result store
  - Per-tenant model quotas and BYOK key registration

Examples:
  cleanflow serve                  # Start on the configured port (8080)
  cleanflow serve --port 3000      # Start on a custom port
  cleanflow serve --host 0.0.0.0   # Listen on all interfaces`,
	RunE: runServe,
}

func init() {
	cfg := config.Global().Get()

	serveCmd.Flags().IntVarP(&servePort, "port", "p", cfg.Server.Port, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", cfg.Server.Host, "Host to bind to")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgMgr := config.Global()
	cfg := cfgMgr.Get()

	if cfg.Telemetry.Enabled {
		otlpCfg := telemetry.DefaultOTLPConfig("cleanflow")
		if cfg.Telemetry.Endpoint != "" {
			otlpCfg.Endpoint = cfg.Telemetry.Endpoint
		}
		otlpCfg.ServiceVersion = version
		shutdownTracing, err := telemetry.Init(otlpCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer shutdownTracing(context.Background())
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

	registry := models.NewRegistry(models.Config{
		DefaultQuota:  cfg.Models.DefaultQuota,
		TenantQuotas:  cfg.Models.TenantQuotas,
		IdleTimeout:   cfg.Models.IdleTimeout,
		SweepInterval: cfg.Models.SweepInterval,
		SystemKeys:    cfg.Models.SystemKeys,
	})

	results, err := openResultStore(cmd, cfg)
	if err != nil {
		return err
	}

	mgr := session.NewManager(session.Config{
		PreviewRows:    cfg.Session.PreviewRows,
		IdleTimeout:    cfg.Session.IdleTimeout,
		SweepInterval:  cfg.Session.SweepInterval,
		DurableActions: []string{"classify_column"},
	}, step.Default(), registry, results)

	for kind, spec := range cfg.Models.Classifiers {
		mgr.RegisterModel(kind, classifierConstructor(spec))
	}

	// Quota changes in the config files apply without a restart.
	reloader, err := config.NewReloader(cfgMgr)
	if err != nil {
		return err
	}
	reloader.Subscribe(func(c *config.Config) {
		registry.UpdateQuotas(c.Models.DefaultQuota, c.Models.TenantQuotas)
	})
	reloadCtx, cancelReload := context.WithCancel(cmd.Context())
	defer cancelReload()
	go reloader.Run(reloadCtx)

	sd := lifecycle.NewShutdownManager(lifecycle.DefaultShutdownConfig())
	sd.RegisterCloser(mgr)
	sd.RegisterCloser(registry)
	sd.RegisterCloser(results)
	sd.RegisterCloser(loader)
	sd.RegisterCloser(reloader)
	sd.HandleSignals(cmd.Context())

	srv := server.NewServer(mgr, loader, limits, sd)

	addr := fmt.Sprintf("%s:%d", serveHost, servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	fmt.Printf("cleanflow listening on http://%s\n", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	// Shutdown drains in-flight requests before closing the components.
	go func() {
		sd.Wait()
		httpServer.Shutdown(context.Background())
	}()

	return <-errChan
}

// classifierConstructor converts a config spec into a registry constructor.
func classifierConstructor(spec config.ClassifierSpec) models.Constructor {
	ms := ModelSpec{
		Endpoint: spec.Endpoint,
		Timeout:  spec.Timeout,
		Fallback: spec.Fallback,
	}
	for _, r := range spec.Rules {
		ms.Rules = append(ms.Rules, classify.Rule{Label: r.Label, Keywords: r.Keywords})
	}
	return ms.Constructor()
}
