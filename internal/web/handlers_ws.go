package web

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// handleWS carries the message contract. Text frames are JSON requests;
// binary frames are raw device bytes (AppendChunk in text mode).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r) {
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.ReadLimit)

	writer := newWSConnWriter(conn)
	sub, client := s.hub.subscribeClient()
	defer s.hub.unsubscribe(sub)

	remote := r.RemoteAddr
	webLog.Info("client_connected", slog.String("remote", remote))
	defer webLog.Info("client_disconnected", slog.String("remote", remote))

	go s.forwardEvents(conn, writer, sub)

	ctx := r.Context()
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly",
					slog.String("remote", remote),
					slog.String("error", err.Error()))
			}
			return
		}

		var req worker.Request
		switch kind {
		case websocket.BinaryMessage:
			req = worker.AppendChunk{Chunk: payload}
		case websocket.TextMessage:
			req, err = decodeRequest(payload)
			if err != nil {
				_ = writer.WriteJSON(errorMessage("INVALID_MESSAGE", err.Error()))
				continue
			}
		default:
			continue
		}
		if win, ok := req.(worker.RequestWindow); ok {
			win.Client = client
			req = win
		}

		if err := s.dispatch.Post(ctx, req); err != nil {
			_ = writer.WriteJSON(errorMessage("WORKER_UNAVAILABLE", err.Error()))
			return
		}
	}
}

// forwardEvents writes hub events to the client until the subscription
// closes or a write fails. Either way the connection is torn down so the
// read loop returns.
func (s *Server) forwardEvents(conn *websocket.Conn, writer *wsConnWriter, sub <-chan outbound) {
	for out := range sub {
		if err := writer.WriteJSON(encodeEvent(out.ev, out.exportID)); err != nil {
			_ = conn.Close()
			return
		}
	}
	writer.Close(websocket.CloseGoingAway, "event stream closed")
	_ = conn.Close()
}
