package license

import (
	"errors"

	"github.com/technosupport/ts-licensing/internal/keystore"
)

var (
	ErrInvalidKeyFormat = errors.New("license key must be at least 8 characters")
	ErrNotFound         = keystore.ErrNotFound
	ErrStoreUnavailable = keystore.ErrStoreUnavailable
)
