package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldsales-api/internal"
	"fieldsales-api/internal/config"
	"fieldsales-api/internal/logging"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadAndValidate()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := internal.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("server init", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting field sales api",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("environment", cfg.Environment),
		zap.String("timezone", cfg.Timezone),
		zap.Float64("geofence_radius_km", cfg.GeofenceRadiusKm),
		zap.String("geofence_method", string(cfg.GeofenceMethod)),
		zap.String("jwt_issuer", cfg.JWTIssuer),
		zap.Duration("jwt_expiry", cfg.JWTExpiry))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := srv.Close(shutdownCtx); err != nil {
		logger.Error("close database", zap.Error(err))
	}
}
