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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-document/pkg/simpledoc"
	"github.com/tendant/simple-document/pkg/simpledoc/api"
	"github.com/tendant/simple-document/pkg/simpledoc/auth"
	"github.com/tendant/simple-document/pkg/simpledoc/config"
)

func main() {
	_ = godotenv.Load()

	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load server configuration: %v\n\n%s", err, config.Usage())
		os.Exit(1)
	}

	logger := newLogger(serverConfig.Environment)
	slog.SetDefault(logger)

	if err := run(serverConfig, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func run(serverConfig *config.ServerConfig, logger *slog.Logger) error {
	ctx := context.Background()

	tokens, err := serverConfig.BuildAuthenticator()
	if err != nil {
		return fmt.Errorf("failed to build authenticator: %w", err)
	}
	if tokens == nil {
		return errors.New("JWT_SECRET is required to authenticate requests")
	}

	var metrics *simpledoc.Metrics
	options := []simpledoc.Option{simpledoc.WithLogger(logger)}
	if serverConfig.EnableMetrics {
		metrics = simpledoc.NewMetrics()
		options = append(options, simpledoc.WithMetrics(metrics))
	}

	svc, err := serverConfig.BuildService(ctx, options...)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           newHandler(svc, tokens, metrics, serverConfig, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Simple Document Server starting",
			"port", serverConfig.Port,
			"environment", serverConfig.Environment,
			"database", serverConfig.DatabaseType,
			"storage", serverConfig.Storage.Type,
			"metrics", metrics != nil,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting")
	return nil
}

// newHandler mounts the API, health checks and metrics.
func newHandler(svc simpledoc.Service, tokens *auth.TokenAuthenticator, metrics *simpledoc.Metrics, serverConfig *config.ServerConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	if metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Mount("/", api.NewRouter(api.RouterConfig{
		Service:       svc,
		Authenticator: tokens,
		Logger:        logger,
		Issuer:        tokens,
		TokenTTL:      serverConfig.TokenTTL,
	}))
	return r
}
