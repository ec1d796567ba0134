package grpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"uolems/internal/docstore"
	"uolems/internal/model"
)

// Service names reported through the health protocol. The empty name is the
// overall server status.
const (
	ServiceSession = "uolems.session"
	ServiceConsole = "uolems.console"
)

// Probe reports whether the backing store is reachable.
type Probe func(ctx context.Context) error

// StoreProbe reads a document that need not exist; only transport failures
// count as unhealthy.
func StoreProbe(store docstore.Store) Probe {
	return func(ctx context.Context) error {
		_, err := store.Get(ctx, model.CollectionAdmin, "__health__")
		if err == nil || errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		return err
	}
}

type Health struct {
	server   *health.Server
	probe    Probe
	interval time.Duration
	logger   *slog.Logger
}

func NewHealth(probe Probe, interval time.Duration, logger *slog.Logger) *Health {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Health{
		server:   health.NewServer(),
		probe:    probe,
		interval: interval,
		logger:   logger.With(slog.String("component", "grpc_health")),
	}
}

// Check runs the probe once and publishes the result for every service.
func (h *Health) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if err := h.probe(ctx); err != nil {
		h.logger.Warn("store probe failed", slog.String("error", err.Error()))
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	for _, name := range []string{"", ServiceSession, ServiceConsole} {
		h.server.SetServingStatus(name, st)
	}
	return st
}

// Run probes until ctx is done, then marks every service as shutting down.
func (h *Health) Run(ctx context.Context) {
	h.Check(ctx)
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-t.C:
			h.Check(ctx)
		}
	}
}

// NewServer builds the gRPC server with token auth and the health service.
func NewServer(serviceToken string, h *Health) (*grpc.Server, error) {
	unary, err := NewServiceAuthUnaryInterceptor(serviceToken)
	if err != nil {
		return nil, err
	}
	stream, err := NewServiceAuthStreamInterceptor(serviceToken)
	if err != nil {
		return nil, err
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(unary), grpc.StreamInterceptor(stream))
	healthpb.RegisterHealthServer(srv, h.server)
	return srv, nil
}
