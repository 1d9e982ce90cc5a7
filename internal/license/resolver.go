package license

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/technosupport/ts-licensing/internal/keystore"
)

const MinKeyLength = 8

type KeyStore interface {
	ResolveRaw(ctx context.Context, key, productID string) (*keystore.Record, error)
}

type Resolver struct {
	store KeyStore
}

func NewResolver(store KeyStore) *Resolver {
	return &Resolver{store: store}
}

// NormalizeKey trims surrounding whitespace and enforces the minimum length.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if utf8.RuneCountInString(key) < MinKeyLength {
		return "", ErrInvalidKeyFormat
	}
	return key, nil
}

// Resolve returns ErrInvalidKeyFormat for short keys without touching the
// store, ErrNotFound when no source has the key and ErrStoreUnavailable
// when the lookup could not be completed.
func (r *Resolver) Resolve(ctx context.Context, key, productID string) (*License, error) {
	key, err := NormalizeKey(key)
	if err != nil {
		return nil, err
	}

	rec, err := r.store.ResolveRaw(ctx, key, strings.TrimSpace(productID))
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

func fromRecord(rec *keystore.Record) *License {
	l := &License{
		ID:             rec.ID,
		Key:            rec.Key,
		Status:         Status(rec.Status),
		Type:           Type(rec.Type),
		ExpiresAt:      rec.ExpiresAt,
		MaxActivations: rec.MaxActivations,
		Customer:       Customer{Name: rec.CustomerName, Email: rec.CustomerEmail},
		Source:         rec.Source,
	}
	if rec.ProductID != nil {
		p := &Product{ID: *rec.ProductID}
		if rec.ProductName != nil {
			p.Name = *rec.ProductName
		}
		l.Product = p
	}
	return l
}
