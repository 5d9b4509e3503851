package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidsonq/modelforge/internal/api"
	"github.com/davidsonq/modelforge/internal/backend"
	"github.com/davidsonq/modelforge/internal/hardware"
	"github.com/davidsonq/modelforge/internal/log"
	"github.com/davidsonq/modelforge/internal/optimizer"
	"github.com/davidsonq/modelforge/internal/tracing"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API daemon",
	Long: `Run modelforge as a daemon exposing the optimization and registry
operations over HTTP under /api/v1.

The daemon listens on the configured address (default: localhost:8000).

Example:
  modelforge serve
  modelforge serve --addr :9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "address to listen on (overrides config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cleanup, err := initLogging()
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	tracer, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	var httpTracer trace.Tracer
	if tracer.Enabled() {
		httpTracer = tracer.Tracer()
	}

	manager := backend.NewManager()
	detector := hardware.NewDetector()
	opt := optimizer.New(manager, detector, store, cfg.Optimization.OutputDir)

	handler := api.NewHandler(api.HandlerConfig{
		Store:     store,
		Optimizer: opt,
		Tasks:     optimizer.NewTaskTracker(opt),
		Backends:  manager,
		Detector:  detector,
		Version:   version,
	})

	addr := serveAddr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	server, err := api.NewServer(api.ServerConfig{
		Addr:    addr,
		Handler: handler,
		Middleware: func(next http.Handler) http.Handler {
			return tracing.Middleware(httpTracer, next)
		},
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("modelforge daemon started on port %d\n", server.Port())
	fmt.Println("Press Ctrl+C to stop")

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.ErrorErr(log.CatAPI, "error stopping server", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatAPI, "error shutting down tracing", err)
	}

	fmt.Println("Daemon stopped")
	return nil
}
