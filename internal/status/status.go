package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"go2tv.app/tvlink/internal/domain"
	"go2tv.app/tvlink/internal/metrics"
	"go2tv.app/tvlink/internal/player"
	"go2tv.app/tvlink/internal/registry"
)

const shutdownTimeout = 5 * time.Second

type Snapshot struct {
	Version     string            `json:"version"`
	Device      domain.DeviceInfo `json:"device"`
	Server      string            `json:"server"`
	Addr        string            `json:"addr,omitempty"`
	Connections int               `json:"connections"`
	LoggedIn    bool              `json:"logged_in"`
	UserID      string            `json:"user_id,omitempty"`
	QueueLength int               `json:"queue_length"`
	Peers       []registry.Peer   `json:"peers"`
	Player      player.State      `json:"player"`
	Source      *player.Source    `json:"source,omitempty"`
	Renderer    *RendererInfo     `json:"renderer,omitempty"`
}

type RendererInfo struct {
	Target    string `json:"target"`
	Device    string `json:"device,omitempty"`
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}

type Config struct {
	Snapshot     func() Snapshot
	Metrics      *metrics.Metrics
	UpdateGauges func()
	Logger       *slog.Logger
}

// NewRouter serves /healthz, /status and /metrics.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	if cfg.Logger != nil {
		r.Use(requestLogger(cfg.Logger))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Snapshot == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "status unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, cfg.Snapshot())
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler(cfg.UpdateGauges))
	}
	return r
}

// Serve runs the status endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	if logger != nil {
		logger.Info("status_server_listening", slog.String("addr", ln.Addr().String()))
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func requestLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)
			log.Debug("status_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrap.status),
				slog.Int("duration_ms", int(time.Since(start).Milliseconds())),
			)
		})
	}
}
