// Package admin provides the shared /admin/* control plane mounted by every
// twin: reset, state snapshot/load, request log, and health.
package admin

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/authtwin/pkg/twincore"
)

// StateStore is the interface a twin implements to expose its state.
type StateStore interface {
	// Snapshot returns the full state as a JSON-serializable value.
	Snapshot() any
	// LoadState replaces the full state from a JSON body.
	LoadState(data []byte) error
	// Reset clears all state.
	Reset()
}

// Handler provides the shared admin endpoints.
type Handler struct {
	state StateStore
	mw    *twincore.Middleware
	extra func(r chi.Router)
}

// NewHandler creates an admin handler over state. The request log of mw is
// served and cleared on reset.
func NewHandler(state StateStore, mw *twincore.Middleware) *Handler {
	return &Handler{state: state, mw: mw}
}

// Extend registers additional twin-specific routes under /admin.
func (h *Handler) Extend(fn func(r chi.Router)) {
	h.extra = fn
}

// Routes mounts the admin endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/reset", h.handleReset)
		r.Get("/state", h.handleGetState)
		r.Post("/state", h.handleLoadState)
		r.Get("/requests", h.handleGetRequests)
		r.Get("/health", h.handleHealth)
		if h.extra != nil {
			h.extra(r)
		}
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.state.Reset()
	if h.mw != nil {
		h.mw.ReqLog.Clear()
	}
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.state.Snapshot())
}

func (h *Handler) handleLoadState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	if err := h.state.LoadState(body); err != nil {
		twincore.Error(w, http.StatusBadRequest, "failed to load state: "+err.Error())
		return
	}
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (h *Handler) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	if h.mw == nil {
		twincore.JSON(w, http.StatusOK, []twincore.RequestLogEntry{})
		return
	}
	twincore.JSON(w, http.StatusOK, h.mw.ReqLog.Entries())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
