package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/e7canasta/dash-restreamer/internal/restream"
)

// DefaultShutdownTimeout bounds graceful shutdown when the context is
// cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// statusSource is the slice of the session the endpoints read from.
type statusSource interface {
	Status() restream.Status
}

// NewRouter builds the HTTP surface: liveness, session status, and
// Prometheus metrics.
func NewRouter(src statusSource, m *Metrics) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		payload := map[string]any{
			"status":       "ok",
			"active_input": src.Status().ActiveInput,
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Error("status: failed to encode health payload", "error", err)
		}
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(src.Status()); err != nil {
			slog.Error("status: failed to encode status", "error", err)
		}
	})

	r.Handle("/metrics", m.Handler())

	return r
}

// ServerConfig controls the status server runtime behaviour.
type ServerConfig struct {
	Addr            string
	Handler         http.Handler
	ShutdownTimeout time.Duration
	// Ready, if set, receives the bound address once the listener is
	// up, then is closed. Lets callers bind ":0" and discover the port.
	Ready chan<- string
}

// Serve runs the status server and blocks until it stops. When ctx is
// cancelled, Serve attempts a graceful shutdown bounded by
// ShutdownTimeout.
func Serve(ctx context.Context, cfg ServerConfig) error {
	if cfg.Handler == nil {
		return fmt.Errorf("handler is required")
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: cfg.Handler}

	if cfg.Ready != nil {
		cfg.Ready <- ln.Addr().String()
		close(cfg.Ready)
	}
	slog.Info("status: listening", "addr", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			return shutdownErr
		}
		return shutdownCtx.Err()
	}

	return shutdownErr
}
