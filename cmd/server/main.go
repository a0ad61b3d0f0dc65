package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/pcm-loopback/internal/config"
	"github.com/lexiqai/pcm-loopback/internal/loopback"
	"github.com/lexiqai/pcm-loopback/internal/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Int("render_channels", cfg.RenderChannels).
		Int("render_bits_per_sample", cfg.RenderBitsPerSample).
		Int("render_sample_rate", cfg.RenderSampleRate).
		Int("capture_channels", cfg.CaptureChannels).
		Int("capture_bits_per_sample", cfg.CaptureBitsPerSample).
		Int("capture_sample_rate", cfg.CaptureSampleRate).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("PCM loopback service starting")

	dev, err := loopback.NewDevice(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create loopback device")
	}

	checks := map[string]observability.HealthCheckFunc{
		"ring_buffer": dev.Ready,
	}

	// Create HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/streams/render", loopback.HandleRenderWS(dev))
	mux.HandleFunc("/streams/capture", loopback.HandleCaptureWS(dev))
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No write timeout: capture streams are long-lived
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// gRPC health service mirrors /ready
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go observability.WatchReadiness(ctx, healthServer, 5*time.Second, checks)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		logger.Fatal().Err(err).Str("grpc_port", cfg.GRPCPort).Msg("Failed to listen for gRPC")
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC server stopped")
		}
	}()

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("render_endpoint", fmt.Sprintf("ws://localhost:%s/streams/render", cfg.Port)).
			Str("capture_endpoint", fmt.Sprintf("ws://localhost:%s/streams/capture", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	stop()

	// Attached streams end once the device is closed
	dev.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	grpcServer.GracefulStop()

	logger.Info().Msg("Server exited gracefully")
}
