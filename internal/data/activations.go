package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Activation struct {
	ID          string    `json:"id"`
	LicenseID   string    `json:"license_id"`
	DeviceID    string    `json:"device_id"`
	ActivatedAt time.Time `json:"activated_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// ClaimResult describes what a Claim committed.
type ClaimResult struct {
	Created      bool // a new seat was taken
	Refreshed    bool // the device already held a seat; last_seen_at moved
	LimitReached bool // no seat was free, nothing was written
	Count        int  // seats held after the claim
}

type ActivationModel struct {
	DB TxBeginner
}

// Claim takes or refreshes the seat of deviceID on a license in a single
// transaction. The license row is locked FOR UPDATE first, so concurrent
// claims for the same license (from any process) run one at a time and
// cannot both observe a free seat.
func (m ActivationModel) Claim(ctx context.Context, licenseID, deviceID string, max *int, now time.Time) (res ClaimResult, err error) {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var lockedID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM licenses WHERE id = $1 FOR UPDATE`, licenseID).Scan(&lockedID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrRecordNotFound
		return res, err
	}
	if err != nil {
		return res, err
	}

	touched, err := tx.ExecContext(ctx, `
		UPDATE activations SET last_seen_at = $3
		WHERE license_id = $1 AND device_id = $2`, licenseID, deviceID, now)
	if err != nil {
		return res, err
	}
	n, err := touched.RowsAffected()
	if err != nil {
		return res, err
	}
	res.Refreshed = n > 0

	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM activations WHERE license_id = $1`, licenseID).Scan(&res.Count)
	if err != nil {
		return res, err
	}

	if !res.Refreshed {
		if max != nil && res.Count >= *max {
			res.LimitReached = true
			err = tx.Rollback()
			return res, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO activations (id, license_id, device_id, activated_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (license_id, device_id) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at`,
			uuid.New().String(), licenseID, deviceID, now)
		if err != nil {
			return res, err
		}
		res.Created = true
		res.Count++
	}

	err = tx.Commit()
	return res, err
}

func (m ActivationModel) ListByLicense(ctx context.Context, licenseID string) ([]Activation, error) {
	query := `
		SELECT id, license_id, device_id, activated_at, last_seen_at
		FROM activations
		WHERE license_id = $1
		ORDER BY activated_at ASC`

	rows, err := m.DB.QueryContext(ctx, query, licenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activation
	for rows.Next() {
		var a Activation
		if err := rows.Scan(&a.ID, &a.LicenseID, &a.DeviceID, &a.ActivatedAt, &a.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete frees the seat held by deviceID.
func (m ActivationModel) Delete(ctx context.Context, licenseID, deviceID string) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM activations WHERE license_id = $1 AND device_id = $2`, licenseID, deviceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
