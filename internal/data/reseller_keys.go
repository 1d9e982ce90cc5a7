package data

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ResellerKeyRow is a key sold through a reseller. These rows carry no
// license type, seat cap or end customer of their own.
type ResellerKeyRow struct {
	ID          string
	Key         string
	ResellerID  string
	Status      string
	ExpiresAt   *time.Time
	ProductID   *string
	ProductName *string
}

type ResellerKeyModel struct {
	DB DBTX
}

func (m ResellerKeyModel) GetByKey(ctx context.Context, key string) (*ResellerKeyRow, error) {
	query := `
		SELECT r.id, r.license_key, r.reseller_id, r.status, r.expires_at, p.id, p.name
		FROM reseller_keys r
		LEFT JOIN products p ON p.id = r.product_id
		WHERE r.license_key = $1
		LIMIT 1`

	var k ResellerKeyRow
	var expiresAt sql.NullTime
	var productID, productName sql.NullString

	err := m.DB.QueryRowContext(ctx, query, key).Scan(
		&k.ID, &k.Key, &k.ResellerID, &k.Status, &expiresAt, &productID, &productName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		k.ExpiresAt = &t
	}
	k.ProductID = nullString(productID)
	k.ProductName = nullString(productName)
	return &k, nil
}
