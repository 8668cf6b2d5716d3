package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

const exportPath = "/api/export/"

// handleExportByID streams an export prepared through ExportLogs.
func (s *Server) handleExportByID(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, exportPath)
	if id == "" || strings.Contains(id, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "export id is required")
		return
	}
	p, ok := s.hub.take(id)
	if !ok {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "export not found or expired")
		return
	}
	s.streamExport(w, r, id, p)
}

// handleExportNow prepares an export and streams it in one request.
// ?timestamps=0 strips line timestamps.
func (s *Server) handleExportNow(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r) {
		return
	}
	include := true
	switch r.URL.Query().Get("timestamps") {
	case "", "1", "true":
	case "0", "false":
		include = false
	default:
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "timestamps must be 0 or 1")
		return
	}

	sub := s.hub.subscribe()
	defer s.hub.unsubscribe(sub)

	ctx := r.Context()
	if err := s.dispatch.Post(ctx, worker.ExportLogs{IncludeTimestamp: include}); err != nil {
		writeAPIError(w, http.StatusServiceUnavailable, "WORKER_UNAVAILABLE", err.Error())
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-sub:
			if !ok {
				writeAPIError(w, http.StatusServiceUnavailable, "WORKER_UNAVAILABLE", "event stream closed")
				return
			}
			switch ev := out.ev.(type) {
			case worker.ExportReady:
				if ev.Export.IncludeTimestamps() != include {
					continue
				}
				p, ok := s.hub.take(out.exportID)
				if !ok {
					// Another request claimed it; wait for ours.
					continue
				}
				s.streamExport(w, r, out.exportID, p)
				return
			case worker.Error:
				// Other clients' failures are broadcast too.
				if ev.Command != worker.RequestName(worker.ExportLogs{}) {
					continue
				}
				writeAPIError(w, http.StatusInternalServerError, "EXPORT_FAILED", ev.Message)
				return
			}
		}
	}
}

func (s *Server) streamExport(w http.ResponseWriter, r *http.Request, id string, p preparedExport) {
	name := p.session
	if name == "" {
		name = fmt.Sprintf("logs_%d.txt", time.Now().UnixMilli())
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Cache-Control", "no-store")
	if p.exp.IncludeTimestamps() {
		w.Header().Set("Content-Length", fmt.Sprint(p.exp.Size()))
	}
	w.WriteHeader(http.StatusOK)

	start := time.Now()
	n, err := p.exp.WriteTo(r.Context(), w)
	if err != nil {
		webLog.Warn("export_stream_failed",
			slog.String("export_id", id),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()))
		return
	}
	webLog.Info("export_streamed",
		slog.String("export_id", id),
		slog.Int64("bytes", n),
		slog.Duration("elapsed", time.Since(start)))
}
