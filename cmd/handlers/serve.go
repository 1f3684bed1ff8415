package handlers

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mailbrief/internal/extract"
	"mailbrief/internal/ingest"
	"mailbrief/internal/logger"
	"mailbrief/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Serve the repository and the ingestion pipeline over HTTP.

Endpoints:
  GET  /health            health check
  GET  /api/items?date=   items of one ingest day
  GET  /api/sources       registered sources
  POST /api/ingest/run    run ingestion, streaming progress as SSE (admin token required)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default from config)")

	return cmd
}

func runServe(ctx context.Context, host string, port int) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	serverCfg := cfg.Server
	if host != "" {
		serverCfg.Host = host
	}
	if port != 0 {
		serverCfg.Port = port
	}

	extractor := extract.NewReadabilityExtractor()
	run := func(ctx context.Context, opts ingest.RunOptions, onEvent ingest.EmitFunc) error {
		src, err := newMailSource(ctx)
		if err != nil {
			onEvent(ingest.Event{
				Type:   ingest.EventError,
				Phase:  ingest.PhaseFetching,
				Status: ingest.StatusError,
				Detail: err.Error(),
			})
			return err
		}
		return ingest.New(src, st, extractor, cfg.Mail, cfg.Ingest, onEvent).Run(ctx, opts)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting server", "host", serverCfg.Host, "port", serverCfg.Port)
	return server.New(st, run, serverCfg).Start(ctx)
}
