// Package diag serves the operator-facing HTTP surface: health and
// diagnostics JSON plus a live packet-trace feed over WebSocket.
package diag

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quadarena/internal/server"
	"quadarena/internal/telemetry"
	"quadarena/internal/transport"
)

const writeWait = 10 * time.Second

// Report is the /diagnostics response body.
type Report struct {
	UptimeSeconds float64                     `json:"uptimeSeconds"`
	TickRate      int                         `json:"tickRate"`
	Sessions      []server.DiagnosticsSession `json:"sessions"`
	Counters      telemetry.Snapshot          `json:"counters"`
}

// Handler exposes the diagnostics endpoints for one hub.
type Handler struct {
	hub      *server.Hub
	counters *telemetry.Counters
	tracer   *transport.Tracer
	logger   *log.Logger
	started  time.Time
	upgrader websocket.Upgrader
}

// NewHandler wires the endpoints to a running hub.
func NewHandler(hub *server.Hub, counters *telemetry.Counters, tracer *transport.Tracer, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		hub:      hub,
		counters: counters,
		tracer:   tracer,
		logger:   logger,
		started:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Mux returns the route table: /health, /diagnostics, and /trace.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/diagnostics", h.handleDiagnostics)
	mux.HandleFunc("/trace", h.handleTrace)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	report := Report{
		UptimeSeconds: time.Since(h.started).Seconds(),
		TickRate:      h.hub.TickRate(),
		Sessions:      h.hub.DiagnosticsSnapshot(),
		Counters:      h.counters.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Printf("failed to encode diagnostics: %v", err)
	}
}

// handleTrace streams live packet-trace records as JSON text frames until
// the peer hangs up. Records arriving faster than the socket drains are
// dropped so a slow viewer cannot back-pressure packet processing.
func (h *Handler) handleTrace(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("trace upgrade failed: %v", err)
		return
	}

	records := make(chan transport.Record, 256)
	cancel := h.tracer.Subscribe(func(rec transport.Record) {
		select {
		case records <- rec:
		default:
		}
	})
	defer cancel()
	defer conn.Close()

	// Drain (and discard) inbound frames so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case rec := <-records:
			data, err := json.Marshal(rec)
			if err != nil {
				h.logger.Printf("failed to marshal trace record: %v", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
