package license

import (
	"time"

	"github.com/technosupport/ts-licensing/internal/keystore"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
	StatusCancelled Status = "cancelled"
)

type Type string

const (
	TypeSingleUse    Type = "single-use"
	TypeSubscription Type = "subscription"
	TypeLifetime     Type = "lifetime"
	TypeFloating     Type = "floating"
	TypeTrial        Type = "trial"
)

type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// License is the canonical license, whichever table the key came from.
// Source is the discriminant; only the engine's write path branches on it.
type License struct {
	ID             string
	Key            string
	Status         Status
	Type           Type
	ExpiresAt      *time.Time
	MaxActivations *int
	Product        *Product
	Customer       Customer
	Source         keystore.Source
}

type ActivationCounts struct {
	Current int  `json:"current"`
	Max     *int `json:"max"`
}

// Request is one validation call. ClientIP, UserAgent and RequestID are
// audit context only.
type Request struct {
	LicenseKey string
	ProductID  string
	DeviceID   string
	AppVersion string
	ClientIP   string
	UserAgent  string
	RequestID  string
}

// Result is the wire body of a validation response.
type Result struct {
	Valid       bool              `json:"valid"`
	Status      string            `json:"status,omitempty"`
	Type        string            `json:"type,omitempty"`
	Source      string            `json:"source,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	Product     *Product          `json:"product,omitempty"`
	Customer    *Customer         `json:"customer,omitempty"`
	Activations *ActivationCounts `json:"activations,omitempty"`

	// Reason is a stable machine code for metrics and audit.
	Reason string `json:"-"`
}

const (
	ReasonOK                = "ok"
	ReasonNotFound          = "not_found"
	ReasonStatus            = "status"
	ReasonExpired           = "expired"
	ReasonSeatLimit         = "seat_limit"
	ReasonStoreUnavailable  = "store_unavailable"
	ReasonActivationFailure = "activation_unconfirmed"
)
