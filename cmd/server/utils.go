package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/service"
)

// Build information
var (
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Version returns the service version
func Version() string {
	return service.Version
}

func versionString() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", service.Name, service.Version, GitCommit, BuildTime)
}

// initLogger initializes the application logger
func initLogger(cfg config.LoggingConfig, production bool) (*zap.Logger, error) {
	var zcfg zap.Config
	if production {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
	} else if cfg.Format == "json" {
		zcfg.Encoding = "json"
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// GracefulShutdown cancels the server context on SIGINT or SIGTERM
func GracefulShutdown(cancel func(), logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()
}
