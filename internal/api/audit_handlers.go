package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-licensing/internal/audit"
)

type AttemptQuerier interface {
	QueryAttempts(ctx context.Context, f audit.AttemptFilter) ([]audit.Attempt, int64, error)
}

type KeyFingerprinter interface {
	Fingerprint(licenseKey string) string
}

// AuditHandler serves the validation attempt log to operators.
type AuditHandler struct {
	Service       AttemptQuerier
	Fingerprints  KeyFingerprinter
	RetentionDays int
	Now           func() time.Time
	Log           *slog.Logger
}

// GetAttempts handles GET /api/v1/validation-attempts.
// Filters: license_id, license_key (matched by fingerprint), success,
// from, to (RFC3339), limit, cursor.
func (h *AuditHandler) GetAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.AttemptFilter{
		LicenseID: q.Get("license_id"),
	}

	if id := filter.LicenseID; id != "" {
		if _, err := uuid.Parse(id); err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid license_id")
			return
		}
	}
	if key := q.Get("license_key"); key != "" && h.Fingerprints != nil {
		filter.KeyFingerprint = h.Fingerprints.Fingerprint(key)
	}
	if s := q.Get("success"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "success must be true or false")
			return
		}
		filter.Success = &b
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = l
		}
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if c := q.Get("cursor"); c != "" {
		n, err := strconv.ParseInt(c, 10, 64)
		if err != nil || n < 0 {
			respondError(w, r, http.StatusBadRequest, "invalid cursor")
			return
		}
		filter.Cursor = n
	}

	// Parse Dates
	for name, dst := range map[string]**time.Time{"from": &filter.DateFrom, "to": &filter.DateTo} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid "+name+" timestamp")
			return
		}
		*dst = &t
	}

	attempts, next, err := h.Service.QueryAttempts(r.Context(), filter)
	if err != nil {
		if h.Log != nil {
			h.Log.Error("attempt query failed", "error", err)
		}
		respondError(w, r, http.StatusInternalServerError, "query failed")
		return
	}
	if attempts == nil {
		attempts = []audit.Attempt{}
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	days := h.RetentionDays
	if days == 0 {
		days = audit.DefaultRetentionDays
	}

	resp := map[string]any{
		"attempts":         attempts,
		"purgeable_before": audit.SafePurgeDate(now().UTC(), days),
	}
	if next > 0 {
		resp["cursor"] = strconv.FormatInt(next, 10)
	}
	respond(w, r, http.StatusOK, resp)
}
