package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clearclaim/agent/internal/shared/errors"
)

// Webhook exposes the inbound chat channel's HTTP callback.
type Webhook struct {
	handler *Handler
}

// NewWebhook creates the webhook surface for an ingestion handler
func NewWebhook(handler *Handler) *Webhook {
	return &Webhook{handler: handler}
}

// Routes registers the webhook routes
func (wh *Webhook) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", wh.ReceiveMessage)
	return r
}

// ReceiveMessage accepts one inbound message in the channel provider's
// form-encoded callback format.
func (wh *Webhook) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, errors.BadRequest("invalid form body: "+err.Error()))
		return
	}

	msg := IncomingMessage{
		MessageID: r.PostFormValue("MessageSid"),
		From:      r.PostFormValue("From"),
		Body:      r.PostFormValue("Body"),
		MediaURL:  r.PostFormValue("MediaUrl0"),
		MediaType: r.PostFormValue("MediaContentType0"),
	}

	c, err := wh.handler.HandleMessage(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"accepted": true}
	if c != nil {
		resp["claim_id"] = c.ID
	}
	writeJSON(w, http.StatusOK, resp)
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
