package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/catalog"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/export"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

// subscriberBuffer bounds the events queued for one client. A client that
// falls this far behind is disconnected.
const subscriberBuffer = 1024

// outbound is a worker event as delivered to subscribers.
type outbound struct {
	ev       worker.Event
	exportID string
}

type preparedExport struct {
	exp     *export.Export
	session string
	created time.Time
}

// hub fans worker events out to every connected client and keeps prepared
// exports until they are downloaded or expire. A LogWindow tagged with a
// client id goes to that client only.
type hub struct {
	ttl      time.Duration
	recorder ExportRecorder

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	subs    map[chan outbound]uint64
	exports map[string]preparedExport
}

func newHub(ttl time.Duration, recorder ExportRecorder) *hub {
	return &hub{
		ttl:      ttl,
		recorder: recorder,
		subs:     make(map[chan outbound]uint64),
		exports:  make(map[string]preparedExport),
	}
}

func (h *hub) subscribe() chan outbound {
	ch, _ := h.subscribeClient()
	return ch
}

// subscribeClient also returns the id to tag the client's window
// requests with.
func (h *hub) subscribeClient() (chan outbound, uint64) {
	ch := make(chan outbound, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.closed {
		close(ch)
	} else {
		h.subs[ch] = id
	}
	return ch, id
}

func (h *hub) unsubscribe(ch chan outbound) {
	if ch == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// run pumps events until the worker closes its channel or ctx ends.
func (h *hub) run(ctx context.Context, events <-chan worker.Event) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.publish(ctx, ev)
		}
	}
}

func (h *hub) publish(ctx context.Context, ev worker.Event) {
	out := outbound{ev: ev}
	if ready, ok := ev.(worker.ExportReady); ok {
		out.exportID = h.register(ctx, ready)
	}

	var target uint64
	if win, ok := ev.(worker.LogWindow); ok {
		target = win.Client
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch, id := range h.subs {
		if target != 0 && id != target {
			continue
		}
		select {
		case ch <- out:
		default:
			webLog.Warn("client_too_slow", slog.String("event", worker.EventName(ev)))
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *hub) register(ctx context.Context, ready worker.ExportReady) string {
	id := uuid.NewString()
	now := time.Now()

	h.mu.Lock()
	for k, p := range h.exports {
		if now.Sub(p.created) > h.ttl {
			delete(h.exports, k)
		}
	}
	h.exports[id] = preparedExport{exp: ready.Export, session: ready.Session, created: now}
	h.mu.Unlock()

	if h.recorder != nil && ready.Session != "" {
		err := h.recorder.RecordExport(ctx, catalog.ExportRow{
			ID:                id,
			Session:           ready.Session,
			CreatedAt:         now,
			Bytes:             ready.Export.Size(),
			IncludeTimestamps: ready.Export.IncludeTimestamps(),
		})
		if err != nil {
			webLog.Warn("export_record_failed", slog.String("export_id", id), slog.String("error", err.Error()))
		}
	}
	return id
}

// take removes and returns a prepared export. Each export streams once.
func (h *hub) take(id string) (preparedExport, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.exports[id]
	if !ok {
		return preparedExport{}, false
	}
	delete(h.exports, id)
	if time.Since(p.created) > h.ttl {
		return preparedExport{}, false
	}
	return p, true
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
