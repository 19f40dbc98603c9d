package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/panemirror/panemirror/internal/config"
	"github.com/panemirror/panemirror/internal/extension"
	"github.com/panemirror/panemirror/internal/mcpserver"
	"github.com/panemirror/panemirror/internal/metrics"
	"github.com/panemirror/panemirror/internal/policy"
)

func newServeCmd() *cobra.Command {
	var metricsListen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bash and read_terminal tools over MCP stdio",
		Long: `Serve the shared terminal to an MCP client on stdin/stdout.

The client gets two tools: bash runs a command in the shared pane and
returns its output and exit code, read_terminal returns the pane text.
Commands the human runs in the pane are sent to the client as log
notifications and prepended to the next tool result.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsListen == "" {
				metricsListen = cfg.Metrics.Listen
			}
			return runServe(cmd.Context(), metricsListen)
		},
	}
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	return cmd
}

func runServe(ctx context.Context, metricsListen string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	var m *metrics.Metrics
	if metricsListen != "" {
		m = metrics.New()
		shutdown := serveMetrics(metricsListen, m, logger)
		defer shutdown()
	}

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}
	holder, err := policyHolder(ctx, cfg.Policy, logger)
	if err != nil {
		return err
	}

	mcpserver.Version = Version
	srv := mcpserver.New(backend, mcpserver.Options{
		Logger: logger,
		Extension: extension.Options{
			Mirror:     mirrorOptions(cfg, m, logger),
			Policy:     holder,
			ReadOnly:   cfg.Policy.ReadOnly,
			NoActivity: !cfg.Activity.Enabled,
			Redaction:  redactionConfig(cfg),
		},
	})
	logger.Info("serving", "backend", backend.Name(), "read_only", cfg.Policy.ReadOnly)
	err = srv.RunStdio(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveMetrics starts the /metrics endpoint and returns its shutdown.
func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// policyHolder loads the policy file and, when configured, reloads it on
// change until ctx ends.
func policyHolder(ctx context.Context, pc config.PolicyConfig, logger *slog.Logger) (*policy.Holder, error) {
	p, err := policy.LoadOrDefault(pc.File)
	if err != nil {
		return nil, err
	}
	h := policy.NewHolder(p)
	if pc.Watch && pc.File != "" {
		if err := policy.Watch(ctx, pc.File, h, logger); err != nil {
			logger.Debug("policy not watched", "error", err)
		}
	}
	return h, nil
}
