// Package app assembles and runs the passkey server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/keyless.space/internal/ceremony"
	"github.com/louisbranch/keyless.space/internal/passkey"
	platformotel "github.com/louisbranch/keyless.space/internal/platform/otel"
	"github.com/louisbranch/keyless.space/internal/session"
	"github.com/louisbranch/keyless.space/internal/storage"
	"github.com/louisbranch/keyless.space/internal/storage/memory"
	"github.com/louisbranch/keyless.space/internal/storage/sqlite"
	"github.com/louisbranch/keyless.space/internal/web"
)

// cleanupInterval paces the session tracker's expired-ceremony sweep.
const cleanupInterval = time.Minute

// Server hosts the passkey HTTP service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	tracker    *session.Tracker
	closeStore func() error
}

// New creates a configured server listening on addr.
//
// A non-empty storagePath opens the durable sqlite store; otherwise state
// lives in memory and is lost on restart.
func New(addr, storagePath string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	store, closeStore, err := openStore(storagePath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	passkeyConfig := passkey.LoadConfigFromEnv()
	orchestrator := ceremony.New(store, passkeyConfig)
	tracker := session.NewTracker(passkeyConfig.CeremonyTTL)

	codec, err := web.LoadSessionCodecFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = closeStore()
		return nil, err
	}

	handler := web.NewHandler(orchestrator, tracker, codec)
	mux := web.NewMux(handler)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: withTracing(mux)},
		tracker:    tracker,
		closeStore: closeStore,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, addr, storagePath string) error {
	server, err := New(addr, storagePath)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		if err := s.closeStore(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	shutdownTracing, err := platformotel.Setup(serverCtx, "keyless-space-server")
	if err != nil {
		log.Printf("telemetry setup: %v", err)
	}
	defer func() {
		if shutdownTracing == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	s.tracker.StartCleanup(serverCtx, cleanupInterval)

	log.Printf("server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		log.Printf("server stopped")
		return nil
	}
}

func openStore(storagePath string) (storage.Store, func() error, error) {
	if strings.TrimSpace(storagePath) == "" {
		return memory.New(), func() error { return nil }, nil
	}
	store, err := sqlite.Open(storagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, store.Close, nil
}

// withTracing opens a span per request around the wrapped handler.
func withTracing(next http.Handler) http.Handler {
	tracer := otel.Tracer("keyless.space/web")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
