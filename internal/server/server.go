// Package server runs the HTTP API and the gRPC health service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Sanidhya1398/uw-decision-support/internal/api"
	"github.com/Sanidhya1398/uw-decision-support/internal/config"
)

// HealthServiceName is the service name reported by the gRPC health server
const HealthServiceName = "uwml.InferenceService"

const shutdownTimeout = 30 * time.Second

// Server represents the ML service server
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	components *Components
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer wires the components and creates the HTTP and gRPC servers
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	components, err := NewComponents(cfg, logger)
	if err != nil {
		return nil, err
	}

	router := api.SetupRouter(cfg, logger, components.Service, components.Metrics)
	s := &Server{
		config:     cfg,
		logger:     logger.With(zap.String("component", "server")),
		components: components,
		httpServer: &http.Server{
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.setServing(healthpb.HealthCheckResponse_NOT_SERVING)

	return s, nil
}

// Components returns the wired service graph
func (s *Server) Components() *Components {
	return s.components
}

func (s *Server) setServing(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthServiceName, status)
}

// Run starts background services and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	httpListener, err := net.Listen("tcp", s.config.HTTPAddr())
	if err != nil {
		return fmt.Errorf("failed to listen for HTTP: %w", err)
	}
	grpcListener, err := net.Listen("tcp", s.config.GRPCAddr())
	if err != nil {
		httpListener.Close()
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	return s.Serve(ctx, httpListener, grpcListener)
}

// Serve starts background services and serves on the given listeners until ctx
// is cancelled or a server fails.
func (s *Server) Serve(ctx context.Context, httpListener, grpcListener net.Listener) error {
	if err := s.startBackgroundServices(ctx); err != nil {
		httpListener.Close()
		grpcListener.Close()
		return fmt.Errorf("failed to start background services: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", httpListener.Addr().String()))
		if err := s.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.logger.Info("Starting gRPC server", zap.String("addr", grpcListener.Addr().String()))
		if err := s.grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	return g.Wait()
}

// startBackgroundServices loads models and starts training workers
func (s *Server) startBackgroundServices(ctx context.Context) error {
	c := s.components
	c.CheckConnections(ctx, s.logger)

	if _, err := c.Manager.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}
	if err := c.Engine.Restore(ctx, restoredJobs); err != nil {
		s.logger.Warn("Failed to restore training jobs", zap.Error(err))
	}
	c.Engine.Start()
	if c.Retrainer != nil {
		c.Retrainer.Start()
	}

	s.setServing(healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("Background services started successfully")
	return nil
}

// Shutdown gracefully stops the servers and background services. It is safe
// to call more than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
	})
	return s.shutdownErr
}

func (s *Server) shutdown() error {
	s.logger.Info("Starting graceful shutdown")
	s.setServing(healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		shutdownErr = err
	}
	s.grpcServer.GracefulStop()

	c := s.components
	if c.Retrainer != nil {
		c.Retrainer.Stop()
	}
	if err := c.Engine.Shutdown(ctx); err != nil {
		s.logger.Error("Training engine shutdown failed", zap.Error(err))
	}
	if err := c.Close(); err != nil {
		s.logger.Error("Failed to close connections", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
	return shutdownErr
}
