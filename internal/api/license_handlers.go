package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/technosupport/ts-licensing/internal/license"
	"github.com/technosupport/ts-licensing/internal/middleware"
)

const maxValidateBody = 16 << 10

type Validator interface {
	Validate(ctx context.Context, req license.Request) (*license.Result, error)
}

// ValidateRequest is the wire form of a validation call, as a JSON body or
// as query parameters.
type ValidateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=256"`
	ProductID  string `json:"product_id" validate:"omitempty,max=128"`
	DeviceID   string `json:"device_id" validate:"omitempty,max=256"`
	AppVersion string `json:"app_version" validate:"omitempty,max=64"`
}

type LicenseHandler struct {
	Engine   Validator
	validate *validator.Validate
	log      *slog.Logger
}

func NewLicenseHandler(engine Validator, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		Engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger.With("component", "validate_api"),
	}
}

// ValidatePost handles POST /api/v1/licenses/validate.
func (h *LicenseHandler) ValidatePost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxValidateBody)

	var in ValidateRequest
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		respondInvalid(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	h.handle(w, r, in)
}

// ValidateGet handles GET /api/v1/licenses/validate?license_key=...
func (h *LicenseHandler) ValidateGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.handle(w, r, ValidateRequest{
		LicenseKey: q.Get("license_key"),
		ProductID:  q.Get("product_id"),
		DeviceID:   q.Get("device_id"),
		AppVersion: q.Get("app_version"),
	})
}

func (h *LicenseHandler) handle(w http.ResponseWriter, r *http.Request, in ValidateRequest) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.DeviceID = strings.TrimSpace(in.DeviceID)

	if err := h.validate.Struct(in); err != nil {
		respondInvalid(w, r, http.StatusBadRequest, fieldError(err))
		return
	}

	res, err := h.Engine.Validate(r.Context(), license.Request{
		LicenseKey: in.LicenseKey,
		ProductID:  in.ProductID,
		DeviceID:   in.DeviceID,
		AppVersion: in.AppVersion,
		ClientIP:   middleware.ClientIP(r),
		UserAgent:  r.UserAgent(),
		RequestID:  middleware.RequestIDFrom(r.Context()),
	})

	switch {
	case errors.Is(err, license.ErrInvalidKeyFormat):
		respondInvalid(w, r, http.StatusBadRequest, "invalid license key format")
	case errors.Is(err, license.ErrNotFound) && res != nil:
		respond(w, r, http.StatusNotFound, res)
	case errors.Is(err, license.ErrStoreUnavailable):
		h.log.Warn("validation degraded", "error", err)
		if res != nil {
			respond(w, r, http.StatusServiceUnavailable, res)
			return
		}
		respondInvalid(w, r, http.StatusServiceUnavailable, "license store unavailable")
	case err != nil:
		h.log.Error("validation failed", "error", err)
		respondInvalid(w, r, http.StatusInternalServerError, "internal error")
	default:
		respond(w, r, http.StatusOK, res)
	}
}

func fieldError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	name := map[string]string{
		"LicenseKey": "license_key",
		"ProductID":  "product_id",
		"DeviceID":   "device_id",
		"AppVersion": "app_version",
	}[fe.Field()]
	if fe.Tag() == "required" {
		return name + " is required"
	}
	return name + " is too long"
}
