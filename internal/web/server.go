// Package web carries the worker message contract over WebSocket and
// serves prepared exports over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/catalog"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

var webLog = logging.ForComponent(logging.CompWeb)

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	Token      string
	// ReadLimit bounds one inbound WebSocket message in bytes.
	ReadLimit int64
	// ExportTTL is how long a prepared export waits to be downloaded.
	ExportTTL time.Duration
	// Recorder, when set, catalogs every prepared export.
	Recorder ExportRecorder
}

// Dispatcher is the worker as seen by the transport.
type Dispatcher interface {
	Post(ctx context.Context, req worker.Request) error
	Events() <-chan worker.Event
}

// ExportRecorder stores export metadata.
type ExportRecorder interface {
	RecordExport(ctx context.Context, e catalog.ExportRow) error
}

// Server wraps an HTTP server for the monitor.
type Server struct {
	cfg        Config
	httpServer *http.Server
	dispatch   Dispatcher
	hub        *hub
	baseCtx    context.Context
	cancelBase context.CancelFunc
	pumpDone   chan struct{}
}

// NewServer creates the server and starts relaying worker events. Events
// are broadcast to every connected client.
func NewServer(cfg Config, d Dispatcher) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8765"
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	if cfg.ExportTTL <= 0 {
		cfg.ExportTTL = 5 * time.Minute
	}

	s := &Server{
		cfg:      cfg,
		dispatch: d,
		hub:      newHub(cfg.ExportTTL, cfg.Recorder),
		pumpDone: make(chan struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	go func() {
		defer close(s.pumpDone)
		s.hub.run(s.baseCtx, d.Events())
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/export", s.handleExportNow)
	mux.HandleFunc("/api/export/", s.handleExportByID)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(logging.NewBridgeWriter(logging.CompWeb), "", 0),
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until shutdown or error. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("web_listening", slog.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	// Signal long-lived handlers (WS, export streams) to stop promptly.
	s.cancelBase()
	<-s.pumpDone

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Long-lived connections may still block graceful shutdown.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"auth": s.cfg.Token != "",
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, auth=%t)", s.cfg.ListenAddr, s.cfg.Token != "")
}
