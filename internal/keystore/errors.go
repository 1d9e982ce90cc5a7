package keystore

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("license not found")
	ErrStoreUnavailable = errors.New("license store unavailable")
)

// Lookup steps, in search order.
const (
	StepPrimaryByProduct = "primary_by_product"
	StepPrimaryByKey     = "primary_by_key"
	StepResellerByKey    = "reseller_by_key"
)

// StepError records which lookup step failed and after how many tries.
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("[%s] lookup failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
