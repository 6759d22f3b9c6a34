// Package handler exposes the match API over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ormatch/internal/auth"
	"ormatch/internal/match/models"
	"ormatch/internal/platform/middleware"
	dErrors "ormatch/pkg/domain-errors"
)

// Service defines the match operations the handler exposes.
type Service interface {
	Submit(ctx context.Context, req models.Request) (*models.Result, error)
	Search(ctx context.Context, req models.Request) (*models.Result, error)
	SORRecords(ctx context.Context, referenceID string) ([]models.SORRecord, error)
}

// Authorizer decides whether a request may act for a system of record.
type Authorizer interface {
	Authorize(ctx context.Context, r *http.Request, sor string) error
}

// Handler handles the people and referenceIds endpoints.
type Handler struct {
	svc    Service
	authz  Authorizer
	logger *slog.Logger
}

func New(svc Service, authz Authorizer, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, authz: authz, logger: logger}
}

// Register registers the match routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Put("/v1/people/{sor}/{sorid}", h.handleSubmit)
	r.Post("/v1/people/{sor}/{sorid}", h.handleSearch)
	r.Get("/v1/referenceIds/{referenceId}", h.handleReferenceIDs)
}

// handleSubmit processes a match submission and may mutate the registry.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.handlePeople(w, r, h.svc.Submit)
}

// handleSearch runs the match logic read-only.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	h.handlePeople(w, r, h.svc.Search)
}

func (h *Handler) handlePeople(w http.ResponseWriter, r *http.Request,
	op func(context.Context, models.Request) (*models.Result, error)) {
	ctx := r.Context()
	sor := chi.URLParam(r, "sor")
	sorid := chi.URLParam(r, "sorid")

	if err := h.authz.Authorize(ctx, r, sor); err != nil {
		h.writeError(w, r, err)
		return
	}

	var attributes models.SORAttributes
	if err := json.NewDecoder(r.Body).Decode(&attributes); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := op(ctx, models.Request{SOR: sor, SORID: sorid, Attributes: attributes})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, result.Status, result)
}

// handleReferenceIDs returns every stored record linked to a reference id.
// The response spans systems of record, so only wildcard credentials clear it.
func (h *Handler) handleReferenceIDs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.authz.Authorize(ctx, r, auth.WildcardSOR); err != nil {
		h.writeError(w, r, err)
		return
	}

	records, err := h.svc.SORRecords(ctx, chi.URLParam(r, "referenceId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sorPeople": records})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(dErrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"path", r.URL.Path,
			"error", err.Error())
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidConfiguration:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnsupportedRule:
		return http.StatusNotImplemented
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
