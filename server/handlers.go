package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/lurkbot/chat"
	"github.com/onnwee/lurkbot/db"
	"github.com/onnwee/lurkbot/reconcile"
	"github.com/onnwee/lurkbot/telemetry"
)

const maxEventsLimit = 500

// ChatStatus is the chat connection as seen by the probes.
type ChatStatus interface {
	State() chat.State
	Generation() uint64
}

// StatusSource publishes the reconciliation snapshot.
type StatusSource interface {
	Snapshot() reconcile.Snapshot
}

// EventLister reads the membership journal.
type EventLister interface {
	Recent(ctx context.Context, limit int) ([]db.Event, error)
}

// Handlers holds dependencies for all HTTP handlers. Events may be nil.
type Handlers struct {
	Chat   ChatStatus
	Loop   StatusSource
	Events EventLister
}

// HandleHealthz reports that the process is up.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz is 200 only while the chat connection is Ready.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	state := h.Chat.State()
	if state != chat.Ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":     "not_ready",
			"chat_state": state.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	reconcile.Snapshot
	ChatState      string `json:"chat_state"`
	ChatGeneration uint64 `json:"chat_generation"`
}

// HandleStatus returns the loop snapshot plus the chat connection state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Snapshot:       h.Loop.Snapshot(),
		ChatState:      h.Chat.State().String(),
		ChatGeneration: h.Chat.Generation(),
	})
}

// HandleEvents lists recent JOIN/PART rows from the journal.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		http.Error(w, "membership journal disabled", http.StatusNotFound)
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit < 1 || limit > maxEventsLimit {
		http.Error(w, "limit must be between 1 and "+strconv.Itoa(maxEventsLimit), http.StatusBadRequest)
		return
	}
	events, err := h.Events.Recent(r.Context(), limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list membership events", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		return -1
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
