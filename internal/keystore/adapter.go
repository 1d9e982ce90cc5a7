package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-licensing/internal/data"
	"github.com/technosupport/ts-licensing/internal/metrics"
)

type Source string

const (
	SourcePrimary  Source = "primary"
	SourceReseller Source = "reseller-issued"
)

const (
	ResellerLicenseType    = "single-use"
	ResellerMaxActivations = 1

	PlaceholderCustomerName  = "Reseller customer"
	PlaceholderCustomerEmail = ""
)

// Record is the canonical shape of a key, whichever table it came from.
type Record struct {
	ID             string
	Key            string
	Status         string
	Type           string
	ExpiresAt      *time.Time
	MaxActivations *int
	ProductID      *string
	ProductName    *string
	CustomerName   string
	CustomerEmail  string
	Source         Source
}

type LicenseStore interface {
	GetByKeyAndProduct(ctx context.Context, key, productID string) (*data.LicenseRow, error)
	GetByKey(ctx context.Context, key string) (*data.LicenseRow, error)
}

type ResellerStore interface {
	GetByKey(ctx context.Context, key string) (*data.ResellerKeyRow, error)
}

type Options struct {
	QueryTimeout time.Duration
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

type Adapter struct {
	primary  LicenseStore
	reseller ResellerStore
	timeout  time.Duration
	backoff  time.Duration
	log      *slog.Logger
}

func NewAdapter(primary LicenseStore, reseller ResellerStore, opts Options) *Adapter {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 3 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{
		primary:  primary,
		reseller: reseller,
		timeout:  opts.QueryTimeout,
		backoff:  opts.RetryBackoff,
		log:      opts.Logger.With("component", "keystore"),
	}
}

type lookupStep struct {
	name string
	run  func(ctx context.Context) (*Record, error)
}

// ResolveRaw searches the primary table (narrowed by product when one is
// given, then by key alone) and then reseller keys. The first hit wins. A
// failing step does not stop the search. If nothing matched and any step
// failed, the result is ErrStoreUnavailable rather than ErrNotFound.
//
// Product ids are UUIDs; one that does not parse cannot match any row, so
// the product step is skipped instead of being sent to the database.
func (a *Adapter) ResolveRaw(ctx context.Context, key, productID string) (*Record, error) {
	steps := make([]lookupStep, 0, 3)
	if isProductID(productID) {
		steps = append(steps, lookupStep{StepPrimaryByProduct, func(ctx context.Context) (*Record, error) {
			row, err := a.primary.GetByKeyAndProduct(ctx, key, productID)
			if err != nil {
				return nil, err
			}
			return fromLicenseRow(row), nil
		}})
	}
	steps = append(steps,
		lookupStep{StepPrimaryByKey, func(ctx context.Context) (*Record, error) {
			row, err := a.primary.GetByKey(ctx, key)
			if err != nil {
				return nil, err
			}
			return fromLicenseRow(row), nil
		}},
		lookupStep{StepResellerByKey, func(ctx context.Context) (*Record, error) {
			row, err := a.reseller.GetByKey(ctx, key)
			if err != nil {
				return nil, err
			}
			return fromResellerRow(row), nil
		}},
	)

	var faults []error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			faults = append(faults, err)
			break
		}

		rec, err := a.runStep(ctx, step)
		if err == nil {
			if len(faults) > 0 {
				a.log.Warn("lookup matched after earlier steps failed",
					"step", step.name, "failed_steps", len(faults), "error", errors.Join(faults...))
			}
			return rec, nil
		}
		if errors.Is(err, data.ErrRecordNotFound) {
			continue
		}
		faults = append(faults, err)
	}

	if len(faults) == 0 {
		return nil, ErrNotFound
	}
	if len(faults) == len(steps) {
		a.log.Warn("degraded lookup: every step failed", "steps", len(steps), "error", errors.Join(faults...))
	}
	return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, errors.Join(faults...))
}

func isProductID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// runStep bounds each try with the query timeout and retries a failed read
// once after the backoff.
func (a *Adapter) runStep(ctx context.Context, step lookupStep) (*Record, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, a.timeout)
		rec, err := step.run(stepCtx)
		cancel()

		if err == nil || errors.Is(err, data.ErrRecordNotFound) {
			return rec, err
		}
		lastErr = err
		metrics.RecordStoreError(step.name)

		if attempt == 1 {
			select {
			case <-ctx.Done():
				return nil, &StepError{Step: step.name, Attempts: attempt, Err: lastErr}
			case <-time.After(a.backoff):
			}
		}
	}
	return nil, &StepError{Step: step.name, Attempts: 2, Err: lastErr}
}

func fromLicenseRow(row *data.LicenseRow) *Record {
	rec := &Record{
		ID:             row.ID,
		Key:            row.Key,
		Status:         row.Status,
		Type:           row.Type,
		ExpiresAt:      row.ExpiresAt,
		MaxActivations: row.MaxActivations,
		ProductID:      row.ProductID,
		ProductName:    row.ProductName,
		Source:         SourcePrimary,
	}
	if row.CustomerName != nil {
		rec.CustomerName = *row.CustomerName
	}
	if row.CustomerEmail != nil {
		rec.CustomerEmail = *row.CustomerEmail
	}
	return rec
}

// fromResellerRow synthesizes the canonical record for a reseller key:
// single-use, one seat, placeholder customer.
func fromResellerRow(row *data.ResellerKeyRow) *Record {
	max := ResellerMaxActivations
	return &Record{
		ID:             row.ID,
		Key:            row.Key,
		Status:         row.Status,
		Type:           ResellerLicenseType,
		ExpiresAt:      row.ExpiresAt,
		MaxActivations: &max,
		ProductID:      row.ProductID,
		ProductName:    row.ProductName,
		CustomerName:   PlaceholderCustomerName,
		CustomerEmail:  PlaceholderCustomerEmail,
		Source:         SourceReseller,
	}
}
