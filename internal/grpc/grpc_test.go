package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"uolems/internal/docstore/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServiceAuthUnaryInterceptor(t *testing.T) {
	if _, err := NewServiceAuthUnaryInterceptor(""); err == nil {
		t.Fatalf("expected error for empty token")
	}
	interceptor, err := NewServiceAuthUnaryInterceptor("secret")
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	tests := []struct {
		name string
		md   metadata.MD
		code codes.Code
	}{
		{"missing", nil, codes.Unauthenticated},
		{"wrong", metadata.Pairs(serviceTokenHeader, "nope"), codes.PermissionDenied},
		{"valid", metadata.Pairs(serviceTokenHeader, " secret "), codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			resp, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, handler)
			if status.Code(err) != tt.code {
				t.Fatalf("expected %v, got %v", tt.code, err)
			}
			if tt.code == codes.OK && resp != "ok" {
				t.Fatalf("handler not called")
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	h := NewHealth(StoreProbe(memstore.New()), 0, discardLogger())
	if st := h.Check(context.Background()); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected serving, got %v", st)
	}
	resp, err := h.server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceConsole})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected console serving, got %v", resp.GetStatus())
	}

	failing := NewHealth(func(context.Context) error { return errors.New("down") }, 0, discardLogger())
	if st := failing.Check(context.Background()); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected not serving, got %v", st)
	}
}

func TestNewServerRequiresToken(t *testing.T) {
	h := NewHealth(StoreProbe(memstore.New()), 0, discardLogger())
	if _, err := NewServer("", h); err == nil {
		t.Fatalf("expected error without token")
	}
	srv, err := NewServer("secret", h)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv.Stop()
}
