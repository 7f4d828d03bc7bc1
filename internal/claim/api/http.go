// Package api exposes the operator HTTP surface for claims: listing,
// inspection, summary statistics, audit history, and manual reprocessing.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/claim/store"
	"github.com/clearclaim/agent/internal/shared/errors"
	"github.com/clearclaim/agent/internal/shared/events"
)

// Reprocessor retries a parked claim on demand. Implemented by the engine.
type Reprocessor interface {
	Reprocess(ctx context.Context, id int64) error
}

// HistorySource reads a claim's ordered audit trail. Implemented by the
// event bus; nil when the trail is not configured.
type HistorySource interface {
	History(ctx context.Context, claimID int64) ([]events.Event, error)
}

// Handler provides HTTP handlers for the claim module
type Handler struct {
	store       store.Store
	reprocessor Reprocessor
	history     HistorySource
}

// NewHandler creates a new claim handler. history may be nil.
func NewHandler(s store.Store, reprocessor Reprocessor, history HistorySource) *Handler {
	return &Handler{store: s, reprocessor: reprocessor, history: history}
}

// Routes registers the claim routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/stats", h.Stats)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/history", h.History)
	r.Post("/{id}/reprocess", h.Reprocess)

	return r
}

// List returns claims, optionally filtered by status
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var (
		claims []*claim.Claim
		err    error
	)

	if s := r.URL.Query().Get("status"); s != "" {
		status := claim.Status(s)
		if !status.Valid() {
			writeError(w, errors.BadRequest("unknown status: "+s))
			return
		}
		claims, err = h.store.ListByStatus(r.Context(), status)
	} else {
		claims, err = h.store.ListAll(r.Context())
	}
	if err != nil {
		writeError(w, errors.Wrap(err, "failed to list claims"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"claims": claims,
		"count":  len(claims),
	})
}

// Get returns a single claim
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := claimID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// History returns a claim's audit trail in order
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, err := claimID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.history == nil {
		writeError(w, errors.Unavailable("claim history is not configured"))
		return
	}

	// 404 for unknown claims rather than an empty trail.
	if _, err := h.store.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	trail, err := h.history.History(r.Context(), id)
	if err != nil {
		writeError(w, errors.Wrap(err, "failed to read claim history"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"claim_id": id,
		"events":   trail,
		"count":    len(trail),
	})
}

// Stats returns summary statistics over all claims
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	claims, err := h.store.ListAll(r.Context())
	if err != nil {
		writeError(w, errors.Wrap(err, "failed to list claims"))
		return
	}

	writeJSON(w, http.StatusOK, claim.ComputeStats(claims))
}

// Reprocess retries a claim that is parked in an error state
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, err := claimID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.reprocessor.Reprocess(r.Context(), id); err != nil {
		if _, ok := err.(*errors.AppError); ok {
			writeError(w, err)
			return
		}
		writeError(w, errors.Conflict(err.Error()))
		return
	}

	c, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func claimID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.BadRequest("invalid claim id: " + raw)
	}
	return id, nil
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
