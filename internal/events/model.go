package events

import "time"

const DefaultSubject = "licensing.validations"

// ValidationEvent is published once per validation outcome. It carries the
// key fingerprint, never the key.
type ValidationEvent struct {
	EventID        string    `json:"event_id"`
	LicenseID      *string   `json:"license_id"`
	KeyFingerprint string    `json:"key_fingerprint"`
	ProductID      string    `json:"product_id,omitempty"`
	DeviceID       string    `json:"device_id,omitempty"`
	Valid          bool      `json:"valid"`
	Status         string    `json:"status,omitempty"`
	Source         string    `json:"source,omitempty"`
	Reason         string    `json:"reason"`
	OccurredAt     time.Time `json:"occurred_at"`
}
