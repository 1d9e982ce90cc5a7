package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/ts-licensing/internal/data"
	"github.com/technosupport/ts-licensing/internal/middleware"
)

type ActivationAdmin interface {
	List(ctx context.Context, licenseID string) ([]data.Activation, error)
	Release(ctx context.Context, licenseID, deviceID string) error
}

type ActivationHandler struct {
	Manager ActivationAdmin
	Log     *slog.Logger
}

func NewActivationHandler(m ActivationAdmin, logger *slog.Logger) *ActivationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivationHandler{Manager: m, Log: logger.With("component", "activation_api")}
}

// List handles GET /api/v1/licenses/{id}/activations.
func (h *ActivationHandler) List(w http.ResponseWriter, r *http.Request) {
	licenseID, ok := licenseIDParam(w, r)
	if !ok {
		return
	}
	acts, err := h.Manager.List(r.Context(), licenseID)
	if err != nil {
		h.Log.Error("list activations failed", "license_id", licenseID, "error", err)
		respondError(w, r, http.StatusServiceUnavailable, "license store unavailable")
		return
	}
	if acts == nil {
		acts = []data.Activation{}
	}
	respond(w, r, http.StatusOK, map[string]any{
		"license_id":  licenseID,
		"current":     len(acts),
		"activations": acts,
	})
}

// Release handles DELETE /api/v1/licenses/{id}/activations/{device_id}.
func (h *ActivationHandler) Release(w http.ResponseWriter, r *http.Request) {
	licenseID, ok := licenseIDParam(w, r)
	if !ok {
		return
	}
	deviceID := chi.URLParam(r, "device_id")

	err := h.Manager.Release(r.Context(), licenseID, deviceID)
	switch {
	case errors.Is(err, data.ErrRecordNotFound):
		respondError(w, r, http.StatusNotFound, "activation not found")
		return
	case err != nil:
		h.Log.Error("release failed", "license_id", licenseID, "error", err)
		respondError(w, r, http.StatusServiceUnavailable, "license store unavailable")
		return
	}

	operator := ""
	if ac, ok := middleware.GetAuthContext(r.Context()); ok {
		operator = ac.OperatorID
	}
	h.Log.Info("activation released by operator", "license_id", licenseID, "operator_id", operator)
	w.WriteHeader(http.StatusNoContent)
}

// licenseIDParam reads the {id} route param. License ids are UUIDs; anything
// else is rejected with 400 before it reaches the store.
func licenseIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid license id")
		return "", false
	}
	return id, true
}
