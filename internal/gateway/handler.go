package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/medlingo/internal/observe"
	api "github.com/MrWong99/medlingo/pkg/gateway"
)

// User-facing error messages of the translation endpoint.
const (
	msgInvalidBody   = "Invalid request body"
	msgMissingFields = "Missing required fields"
	msgConfiguration = "Server configuration error"
	msgRateLimited   = "Translation rate limit hit. Please wait and try again."
	msgFailed        = "Failed to translate text"
)

// maxBodyBytes caps the request body of a single translation.
const maxBodyBytes = 1 << 20

// Handler serves POST /api/translate.
type Handler struct {
	translator *Translator
	metrics    *observe.Metrics
}

// NewHandler returns a Handler over t. m may be nil.
func NewHandler(t *Translator, m *observe.Metrics) *Handler {
	return &Handler{translator: t, metrics: m}
}

// Register adds the translation route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+api.Path, h.handleTranslate)
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var req api.TranslateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.record(r, observe.StatusInvalid, req)
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: msgInvalidBody})
		return
	}

	translation, cached, err := h.translator.translate(ctx, req.Text, req.SourceLanguage, req.TargetLanguage)
	switch {
	case err == nil:
		status := observe.StatusOK
		if cached {
			status = observe.StatusCached
		}
		h.record(r, status, req)
		writeJSON(w, http.StatusOK, api.TranslateResponse{Translation: translation})

	case errors.Is(err, ErrInvalidRequest):
		h.record(r, observe.StatusInvalid, req)
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: msgMissingFields})

	case errors.Is(err, ErrNotConfigured):
		log.Error("translation requested but no model credential is configured")
		h.record(r, observe.StatusUnconfigured, req)
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: msgConfiguration})

	case errors.Is(err, ErrRateLimited):
		log.Warn("translation rate limited", "source", req.SourceLanguage, "target", req.TargetLanguage, "err", err)
		h.record(r, observe.StatusRateLimited, req)
		writeJSON(w, http.StatusTooManyRequests, api.ErrorResponse{Error: msgRateLimited})

	default:
		log.Error("translation failed", "source", req.SourceLanguage, "target", req.TargetLanguage, "err", err)
		h.record(r, observe.StatusError, req)
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: msgFailed, Details: err.Error()})
	}
}

func (h *Handler) record(r *http.Request, status string, req api.TranslateRequest) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordTranslation(r.Context(), status, req.SourceLanguage, req.TargetLanguage)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
