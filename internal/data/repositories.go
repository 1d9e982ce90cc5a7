package data

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TxBeginner is satisfied by *sql.DB. Models that need multi-statement
// atomicity take one of these instead of a DBTX.
type TxBeginner interface {
	DBTX
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Models groups the SQL models used by the server.
type Models struct {
	Licenses     LicenseModel
	ResellerKeys ResellerKeyModel
	Activations  ActivationModel
}

func NewModels(db *sql.DB) Models {
	return Models{
		Licenses:     LicenseModel{DB: db},
		ResellerKeys: ResellerKeyModel{DB: db},
		Activations:  ActivationModel{DB: db},
	}
}
