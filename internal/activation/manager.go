package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/technosupport/ts-licensing/internal/data"
	"github.com/technosupport/ts-licensing/internal/metrics"
)

var (
	ErrSeatLimitExceeded = errors.New("seat limit exceeded")
	ErrLicenseNotFound   = errors.New("license not found for activation")
	ErrDeviceRequired    = errors.New("device id is required")
)

// Outcome is the seat accounting after an Ensure call. Current is always
// the committed count, including on ErrSeatLimitExceeded.
type Outcome struct {
	Current   int
	Max       *int
	Created   bool
	Refreshed bool
}

type Store interface {
	Claim(ctx context.Context, licenseID, deviceID string, max *int, now time.Time) (data.ClaimResult, error)
	ListByLicense(ctx context.Context, licenseID string) ([]data.Activation, error)
	Delete(ctx context.Context, licenseID, deviceID string) error
}

type Options struct {
	WriteTimeout time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

type Manager struct {
	store   Store
	locker  Locker
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger
}

func NewManager(store Store, locker Locker, opts Options) *Manager {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		store:   store,
		locker:  locker,
		timeout: opts.WriteTimeout,
		now:     opts.Now,
		log:     opts.Logger.With("component", "activation"),
	}
}

func lockKey(licenseID string) string {
	return "activation:" + licenseID
}

// Ensure binds deviceID to the license, consuming a seat if the device is
// new. A device that already holds a seat only has last_seen_at refreshed.
// Attempts for one license are serialised by the locker and again by the
// store transaction.
func (m *Manager) Ensure(ctx context.Context, licenseID, deviceID string, max *int) (Outcome, error) {
	if deviceID == "" {
		return Outcome{Max: max}, ErrDeviceRequired
	}

	unlock, err := m.locker.Lock(ctx, lockKey(licenseID))
	if err != nil {
		metrics.RecordActivation("error")
		return Outcome{Max: max}, fmt.Errorf("lock license %s: %w", licenseID, err)
	}
	defer unlock()

	writeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := m.store.Claim(writeCtx, licenseID, deviceID, max, m.now().UTC())
	if err != nil {
		metrics.RecordActivation("error")
		metrics.RecordStoreError("activation_claim")
		if errors.Is(err, data.ErrRecordNotFound) {
			return Outcome{Max: max}, ErrLicenseNotFound
		}
		return Outcome{Max: max}, fmt.Errorf("claim seat: %w", err)
	}

	out := Outcome{Current: res.Count, Max: max, Created: res.Created, Refreshed: res.Refreshed}
	switch {
	case res.LimitReached:
		metrics.RecordActivation("limit")
		return out, ErrSeatLimitExceeded
	case res.Created:
		metrics.RecordActivation("created")
		m.log.Info("seat activated", "license_id", licenseID, "seats", res.Count)
	default:
		metrics.RecordActivation("refreshed")
	}
	return out, nil
}

func (m *Manager) List(ctx context.Context, licenseID string) ([]data.Activation, error) {
	readCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.store.ListByLicense(readCtx, licenseID)
}

// Count returns the number of seats currently held on a license.
func (m *Manager) Count(ctx context.Context, licenseID string) (int, error) {
	acts, err := m.List(ctx, licenseID)
	if err != nil {
		return 0, err
	}
	return len(acts), nil
}

// Release frees one device's seat. It takes the same per-license lock as
// Ensure so a release cannot interleave with a claim.
func (m *Manager) Release(ctx context.Context, licenseID, deviceID string) error {
	unlock, err := m.locker.Lock(ctx, lockKey(licenseID))
	if err != nil {
		return fmt.Errorf("lock license %s: %w", licenseID, err)
	}
	defer unlock()

	writeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.store.Delete(writeCtx, licenseID, deviceID); err != nil {
		return err
	}
	metrics.RecordActivation("released")
	m.log.Info("seat released", "license_id", licenseID)
	return nil
}
