package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Attempt is one validation call as recorded for forensics. Attempts are
// append-only: nothing in this package updates or deletes them.
//
// ID is the DB primary key and the paging cursor. EventID makes inserts
// idempotent across spool replays. LicenseID is nil when no license
// resolved. KeyFingerprint stands in for the key, which is never stored.
type Attempt struct {
	ID             int64           `json:"id,omitempty"`
	EventID        uuid.UUID       `json:"event_id"`
	LicenseID      *string         `json:"license_id"`
	DeviceID       string          `json:"device_id,omitempty"`
	ProductID      string          `json:"product_id,omitempty"`
	Success        bool            `json:"success"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	KeyFingerprint string          `json:"key_fingerprint"`
	ClientIP       string          `json:"client_ip,omitempty"`
	UserAgent      string          `json:"user_agent,omitempty"`
	AppVersion     string          `json:"app_version,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// FailoverAttempt wrapper for JSONL spooling
type FailoverAttempt struct {
	EventID   string    `json:"event_id"`
	Payload   Attempt   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// AttemptFilter for querying
type AttemptFilter struct {
	LicenseID      string
	KeyFingerprint string
	Success        *bool
	DateFrom       *time.Time
	DateTo         *time.Time
	Limit          int
	Cursor         int64 // ID-based cursor, 0 = newest
}

func toMeta(m map[string]any) json.RawMessage {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}
