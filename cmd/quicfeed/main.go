package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OkutaniDaichi0106/quicfeed/quic/quicgo"
	"github.com/OkutaniDaichi0106/quicfeed/server"
	"github.com/OkutaniDaichi0106/quicfeed/stream"
	"github.com/OkutaniDaichi0106/quicfeed/tlsconf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// configEnv names the environment variable holding the config file path.
const configEnv = "QUICFEED_CONFIG"

func main() {
	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(config.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		logger.Error("server stopped with an error", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*server.Config, error) {
	path := os.Getenv(configEnv)
	if path == "" {
		config := &server.Config{}
		return config, config.Validate()
	}
	return server.LoadConfig(path)
}

func run(ctx context.Context, config *server.Config, logger *slog.Logger) error {
	provider, err := newTLSProvider(&config.TLS)
	if err != nil {
		return err
	}
	provider.Logger = logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := server.NewMetrics(reg)

	if config.Metrics.Enabled {
		shutdown := serveMetrics(config.Metrics.ListenAddr(), reg, logger)
		defer shutdown()
	}

	srv := &server.Server{
		Config:    config,
		Pair:      stream.NewPair(),
		TLS:       provider,
		NewEngine: quicgo.NewEngineFactory(engineConfig(&config.Engine)),
		Logger:    logger,
		Metrics:   metrics,
	}

	if leaf := provider.Certificate().Leaf; leaf != nil {
		logger.Info("using certificate",
			"subject", leaf.Subject.String(),
			"not_after", leaf.NotAfter,
		)
	}

	logger.Info("starting server",
		"address", config.Listen.Addr(),
		"shards", srv.Shards(),
		"max_bytes_per_stream", config.Stream.MaxBytesPerStream,
	)

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}

	logger.Info("server stopped")

	return nil
}

func newTLSProvider(config *server.TLSConfig) (*tlsconf.Provider, error) {
	if config.SelfSigned() {
		provider, err := tlsconf.GenerateSelfSigned(config.Organization())
		if err != nil {
			return nil, fmt.Errorf("failed to generate certificate: %w", err)
		}
		return provider, nil
	}

	provider, err := tlsconf.LoadCertificate(config.CertFile, config.KeyFile)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

func engineConfig(config *server.EngineConfig) *quicgo.Config {
	var quicConfig *quicgo.QUICConfig
	if config.MaxIdleTimeout > 0 {
		quicConfig = &quicgo.QUICConfig{MaxIdleTimeout: config.MaxIdleTimeout}
	}

	return &quicgo.Config{
		QUICConfig:   quicConfig,
		SendWindow:   config.SendWindow,
		ReceiveQueue: config.ReceiveQueue,
		Linger:       config.Linger,
		QLog:         config.QLog,
	}
}

// serveMetrics exposes reg on addr and returns a function shutting the
// endpoint down.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}
}

// initLogger creates the process logger from the logging configuration.
func initLogger(config server.LoggingConfig) *slog.Logger {
	level := config.SlogLevel()

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
