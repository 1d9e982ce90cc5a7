package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/technosupport/ts-licensing/internal/activation"
	"github.com/technosupport/ts-licensing/internal/audit"
	"github.com/technosupport/ts-licensing/internal/events"
	"github.com/technosupport/ts-licensing/internal/keystore"
	"github.com/technosupport/ts-licensing/internal/metrics"
)

type ExpiryWriter interface {
	MarkExpired(ctx context.Context, id string, now time.Time) (bool, error)
}

type Activator interface {
	Ensure(ctx context.Context, licenseID, deviceID string, max *int) (activation.Outcome, error)
	Count(ctx context.Context, licenseID string) (int, error)
}

type AttemptRecorder interface {
	Record(ctx context.Context, a audit.Attempt)
}

type Fingerprinter interface {
	Fingerprint(licenseKey string) string
}

type EventSink interface {
	Enqueue(evt events.ValidationEvent)
}

type Deps struct {
	Resolver     *Resolver
	Expiry       ExpiryWriter
	Activations  Activator
	Audit        AttemptRecorder
	Fingerprints Fingerprinter
	Events       EventSink // optional
	Now          func() time.Time
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Engine decides whether a key may run. Every outcome past the input-format
// guard is recorded before it is returned.
type Engine struct {
	resolver     *Resolver
	expiry       ExpiryWriter
	activations  Activator
	audit        AttemptRecorder
	fingerprints Fingerprinter
	events       EventSink
	now          func() time.Time
	writeTimeout time.Duration
	log          *slog.Logger
	expiring     singleflight.Group
}

func NewEngine(d Deps) *Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.WriteTimeout <= 0 {
		d.WriteTimeout = 3 * time.Second
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Fingerprints == nil {
		d.Fingerprints = audit.NewFingerprinter("")
	}
	return &Engine{
		resolver:     d.Resolver,
		expiry:       d.Expiry,
		activations:  d.Activations,
		audit:        d.Audit,
		fingerprints: d.Fingerprints,
		events:       d.Events,
		now:          d.Now,
		writeTimeout: d.WriteTimeout,
		log:          d.Logger.With("component", "engine"),
	}
}

// Validate runs the ordered checks: found, status, expiry, activation.
//
// Business-rule failures are a Result with Valid=false and a nil error.
// ErrInvalidKeyFormat returns no Result and is not audited. ErrNotFound and
// ErrStoreUnavailable are returned together with the Result to send.
func (e *Engine) Validate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	lic, err := e.resolver.Resolve(ctx, req.LicenseKey, req.ProductID)
	if errors.Is(err, ErrInvalidKeyFormat) {
		metrics.RecordValidation("rejected", "invalid_format", time.Since(start))
		return nil, err
	}

	var res *Result
	switch {
	case err == nil:
		res, err = e.evaluate(ctx, lic, req)
	case errors.Is(err, ErrNotFound):
		res = &Result{Valid: false, Error: "license not found", Reason: ReasonNotFound}
	default:
		e.log.WarnContext(ctx, "license lookup failed", "key_fp", e.fingerprints.Fingerprint(req.LicenseKey), "error", err)
		res = &Result{Valid: false, Error: "license store unavailable", Reason: ReasonStoreUnavailable}
		if !errors.Is(err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
	}

	e.finish(ctx, req, lic, res, start)
	return res, err
}

func (e *Engine) evaluate(ctx context.Context, lic *License, req Request) (*Result, error) {
	res := &Result{
		Status: string(lic.Status),
		Type:   string(lic.Type),
		Source: string(lic.Source),
	}

	if lic.Status != StatusActive {
		res.Error = fmt.Sprintf("license is %s", lic.Status)
		res.Reason = ReasonStatus
		return res, nil
	}

	now := e.now()
	if lic.ExpiresAt != nil && lic.ExpiresAt.Before(now) {
		if lic.Source == keystore.SourcePrimary {
			e.markExpired(ctx, lic.ID, now)
		}
		res.Status = string(StatusExpired)
		res.ExpiresAt = lic.ExpiresAt
		res.Error = "license expired"
		res.Reason = ReasonExpired
		return res, nil
	}

	counts := &ActivationCounts{}
	if lic.Type == TypeFloating {
		counts.Max = lic.MaxActivations
		if req.DeviceID != "" {
			out, err := e.activations.Ensure(ctx, lic.ID, req.DeviceID, lic.MaxActivations)
			counts.Current = out.Current
			switch {
			case errors.Is(err, activation.ErrSeatLimitExceeded):
				res.Activations = counts
				res.Error = fmt.Sprintf("activation limit reached (max %d)", derefInt(lic.MaxActivations))
				res.Reason = ReasonSeatLimit
				return res, nil
			case err != nil:
				e.log.ErrorContext(ctx, "activation not confirmed", "license_id", lic.ID, "error", err)
				res.Error = "activation could not be confirmed"
				res.Reason = ReasonActivationFailure
				return res, fmt.Errorf("%w: activation: %w", ErrStoreUnavailable, err)
			}
		} else if n, err := e.activations.Count(ctx, lic.ID); err == nil {
			counts.Current = n
		} else {
			e.log.WarnContext(ctx, "activation count unavailable", "license_id", lic.ID, "error", err)
		}
	}

	res.Valid = true
	res.Reason = ReasonOK
	res.ExpiresAt = lic.ExpiresAt
	res.Product = lic.Product
	customer := lic.Customer
	res.Customer = &customer
	res.Activations = counts
	return res, nil
}

// markExpired persists active -> expired. It is best-effort: a failed write
// is logged and the caller still gets the expired result. Concurrent
// validations of the same license share one write.
func (e *Engine) markExpired(ctx context.Context, licenseID string, now time.Time) {
	_, _, _ = e.expiring.Do(licenseID, func() (any, error) {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.writeTimeout)
		defer cancel()

		changed, err := e.expiry.MarkExpired(writeCtx, licenseID, now)
		if err != nil {
			metrics.RecordStoreError("mark_expired")
			e.log.WarnContext(ctx, "auto-expiry write failed", "license_id", licenseID, "error", err)
			return nil, err
		}
		if changed {
			metrics.AutoExpiredTotal.Inc()
			e.log.InfoContext(ctx, "license auto-expired", "license_id", licenseID)
		}
		return changed, nil
	})
}

func (e *Engine) finish(ctx context.Context, req Request, lic *License, res *Result, start time.Time) {
	fp := e.fingerprints.Fingerprint(req.LicenseKey)
	eventID := uuid.New()
	var licenseID *string
	if lic != nil {
		id := lic.ID
		licenseID = &id
	}

	e.audit.Record(ctx, audit.Attempt{
		EventID:        eventID,
		LicenseID:      licenseID,
		DeviceID:       req.DeviceID,
		ProductID:      req.ProductID,
		Success:        res.Valid,
		ErrorMessage:   res.Error,
		Reason:         res.Reason,
		KeyFingerprint: fp,
		ClientIP:       req.ClientIP,
		UserAgent:      req.UserAgent,
		AppVersion:     req.AppVersion,
		RequestID:      req.RequestID,
		CreatedAt:      e.now().UTC(),
	})

	if e.events != nil {
		e.events.Enqueue(events.ValidationEvent{
			EventID:        eventID.String(),
			LicenseID:      licenseID,
			KeyFingerprint: fp,
			ProductID:      req.ProductID,
			DeviceID:       req.DeviceID,
			Valid:          res.Valid,
			Status:         res.Status,
			Source:         res.Source,
			Reason:         res.Reason,
			OccurredAt:     e.now().UTC(),
		})
	}

	result := "invalid"
	if res.Valid {
		result = "valid"
	}
	metrics.RecordValidation(result, res.Reason, time.Since(start))
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
