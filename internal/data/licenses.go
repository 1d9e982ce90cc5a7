package data

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// LicenseRow is a row of the primary licenses table joined with its
// product and customer. Product and customer columns are NULL when the
// referenced row was deleted.
type LicenseRow struct {
	ID             string
	Key            string
	Status         string
	Type           string
	ExpiresAt      *time.Time
	MaxActivations *int
	ProductID      *string
	ProductName    *string
	CustomerName   *string
	CustomerEmail  *string
}

type LicenseModel struct {
	DB DBTX
}

const licenseSelect = `
		SELECT l.id, l.license_key, l.status, l.license_type, l.expires_at, l.max_activations,
		       p.id, p.name, c.name, c.email
		FROM licenses l
		LEFT JOIN products p ON p.id = l.product_id
		LEFT JOIN customers c ON c.id = l.customer_id`

// GetByKeyAndProduct looks a key up within one product.
func (m LicenseModel) GetByKeyAndProduct(ctx context.Context, key, productID string) (*LicenseRow, error) {
	query := licenseSelect + `
		WHERE l.license_key = $1 AND l.product_id = $2
		LIMIT 1`
	return m.scanOne(m.DB.QueryRowContext(ctx, query, key, productID))
}

// GetByKey looks a key up across all products. Keys are unique within the
// licenses table, so at most one row matches.
func (m LicenseModel) GetByKey(ctx context.Context, key string) (*LicenseRow, error) {
	query := licenseSelect + `
		WHERE l.license_key = $1
		LIMIT 1`
	return m.scanOne(m.DB.QueryRowContext(ctx, query, key))
}

func (m LicenseModel) scanOne(row *sql.Row) (*LicenseRow, error) {
	var l LicenseRow
	var expiresAt sql.NullTime
	var maxAct sql.NullInt64
	var productID, productName, customerName, customerEmail sql.NullString

	err := row.Scan(
		&l.ID, &l.Key, &l.Status, &l.Type, &expiresAt, &maxAct,
		&productID, &productName, &customerName, &customerEmail,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		l.ExpiresAt = &t
	}
	if maxAct.Valid {
		n := int(maxAct.Int64)
		l.MaxActivations = &n
	}
	l.ProductID = nullString(productID)
	l.ProductName = nullString(productName)
	l.CustomerName = nullString(customerName)
	l.CustomerEmail = nullString(customerEmail)
	return &l, nil
}

// MarkExpired moves an active license to expired. It reports whether a row
// changed; a license that is already expired (or no longer active) is left
// alone and reports false with a nil error.
func (m LicenseModel) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE licenses
		SET status = 'expired', updated_at = $2
		WHERE id = $1 AND status = 'active' AND expires_at IS NOT NULL AND expires_at < $2`

	res, err := m.DB.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
