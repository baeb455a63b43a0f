package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/cmd/wsrm-server/internal/api"
	"github.com/coregx/wsrm/cmd/wsrm-server/internal/config"
	"github.com/coregx/wsrm/transport"
)

// GatewayPath is where peers post protocol messages.
const GatewayPath = "/rm"

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the message gateway and the retransmission scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Engine.LogLevel)
	logger.Info("🚀 Starting wsrm gateway v" + api.Version)

	p, err := cfg.Policy()
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	backend, cleanup, err := openBackend(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := wsrm.NewMetrics(registry)
	if err != nil {
		return err
	}

	var notifications wsrm.NotificationService = &wsrm.NoOpNotificationService{}
	if cfg.Engine.EnableNotifications {
		notifications = wsrm.NewLoggingNotificationService(logger)
	}

	opts := []wsrm.Option{
		wsrm.WithSender(newSender(&cfg.Transport, logger)),
		wsrm.WithLogger(logger),
		wsrm.WithPolicy(p),
		wsrm.WithHandler(deliveryLogger{logger: logger}),
		wsrm.WithEndpoint(endpoint(cfg.Server.PublicURL)),
		wsrm.WithNotifications(notifications),
		wsrm.WithMetrics(metrics),
		wsrm.WithBatchSize(cfg.Engine.BatchSize),
	}
	if backend != nil {
		opts = append(opts, wsrm.WithBackend(backend))
	}

	engine, err := wsrm.NewEngine(opts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if err := engine.Init(ctx); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	logger.Infof("🔄 Scheduler running (tick=%v)", p.TimeoutHandlerInterval)

	mux := http.NewServeMux()
	api.NewHandler(engine, logger).Register(mux)
	mux.Handle("POST "+GatewayPath, transport.Handler(engine, logger))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(mux, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("🌐 HTTP server listening on %s (gateway %s)", addr, GatewayPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			_ = engine.Shutdown(context.Background())
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	logger.Info("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server forced to shutdown: %v", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("✅ Server stopped gracefully")
	return nil
}

// newSender builds the outbound chain: rate limit, then circuit breaker, then HTTP.
func newSender(cfg *config.TransportConfig, logger wsrm.Logger) wsrm.Sender {
	var sender wsrm.Sender = transport.NewHTTPSender(cfg.Timeout, cfg.Headers())
	sender = transport.NewBreakerSender(sender, transport.BreakerConfig{
		FailureThreshold: uint32(cfg.BreakerFailures),
		ResetTimeout:     cfg.BreakerReset,
	}, logger)
	if cfg.RatePerSecond > 0 {
		sender = transport.NewRateLimitedSender(sender, cfg.RatePerSecond, cfg.Burst)
	}
	return sender
}

func endpoint(publicURL string) string {
	if publicURL == "" {
		return ""
	}
	return strings.TrimSuffix(publicURL, "/") + GatewayPath
}

// deliveryLogger is the application Handler of the standalone gateway: it logs
// every message delivered on an inbound sequence.
type deliveryLogger struct {
	logger wsrm.Logger
}

func (d deliveryLogger) Deliver(_ context.Context, sequenceID string, number int64, payload []byte) error {
	d.logger.Infof("📨 Delivered message %d on sequence %s (%d bytes)", number, sequenceID, len(payload))
	return nil
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler, logger wsrm.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Debugf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
		logger.Debugf("%s %s - %v", r.Method, r.URL.Path, time.Since(start))
	})
}
