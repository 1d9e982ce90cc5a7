package data_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-licensing/internal/data"
)

var licenseCols = []string{
	"id", "license_key", "status", "license_type", "expires_at", "max_activations",
	"id", "name", "name", "email",
}

// 1. Lookup by key maps NULL joins to nil pointers
func TestLicenseModel_GetByKey_NullJoins(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM licenses l").
		WithArgs("ABCD-1234-EFGH-5678").
		WillReturnRows(sqlmock.NewRows(licenseCols).
			AddRow("lic-1", "ABCD-1234-EFGH-5678", "active", "floating", nil, 3, nil, nil, nil, nil))

	m := data.LicenseModel{DB: db}
	row, err := m.GetByKey(context.Background(), "ABCD-1234-EFGH-5678")
	require.NoError(t, err)

	assert.Equal(t, "lic-1", row.ID)
	assert.Nil(t, row.ExpiresAt)
	require.NotNil(t, row.MaxActivations)
	assert.Equal(t, 3, *row.MaxActivations)
	assert.Nil(t, row.ProductID)
	assert.Nil(t, row.CustomerName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 2. Missing row is ErrRecordNotFound, not a driver error
func TestLicenseModel_GetByKeyAndProduct_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery("l.product_id = \\$2").
		WithArgs("ABCD-1234", "prod-1").
		WillReturnError(sql.ErrNoRows)

	m := data.LicenseModel{DB: db}
	_, err := m.GetByKeyAndProduct(context.Background(), "ABCD-1234", "prod-1")
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}

// 3. MarkExpired is conditional; a second run changes nothing and is not an error
func TestLicenseModel_MarkExpired_Idempotent(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	now := time.Now()

	mock.ExpectExec("UPDATE licenses").WithArgs("lic-1", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE licenses").WithArgs("lic-1", now).WillReturnResult(sqlmock.NewResult(0, 0))

	m := data.LicenseModel{DB: db}
	changed, err := m.MarkExpired(context.Background(), "lic-1", now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = m.MarkExpired(context.Background(), "lic-1", now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 4. Reseller key lookup
func TestResellerKeyModel_GetByKey(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery("FROM reseller_keys").
		WithArgs("RSL-0000-1111").
		WillReturnRows(sqlmock.NewRows([]string{"id", "license_key", "reseller_id", "status", "expires_at", "id", "name"}).
			AddRow("rk-1", "RSL-0000-1111", "res-9", "active", nil, "prod-1", "Studio"))

	m := data.ResellerKeyModel{DB: db}
	k, err := m.GetByKey(context.Background(), "RSL-0000-1111")
	require.NoError(t, err)
	assert.Equal(t, "res-9", k.ResellerID)
	require.NotNil(t, k.ProductName)
	assert.Equal(t, "Studio", *k.ProductName)
}

// 5. Claim: new device under the cap inserts and commits
func TestActivationModel_Claim_NewSeat(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	now := time.Now()
	max := 2

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM licenses WHERE id = \\$1 FOR UPDATE").
		WithArgs("lic-1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("lic-1"))
	mock.ExpectExec("UPDATE activations SET last_seen_at").
		WithArgs("lic-1", "dev-a", now).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").WithArgs("lic-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO activations").
		WithArgs(sqlmock.AnyArg(), "lic-1", "dev-a", now).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	m := data.ActivationModel{DB: db}
	res, err := m.Claim(context.Background(), "lic-1", "dev-a", &max, now)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 2, res.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 6. Claim: cap reached rolls back without inserting
func TestActivationModel_Claim_LimitReached(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	now := time.Now()
	max := 2

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("lic-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("lic-1"))
	mock.ExpectExec("UPDATE activations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	m := data.ActivationModel{DB: db}
	res, err := m.Claim(context.Background(), "lic-1", "dev-c", &max, now)
	require.NoError(t, err)
	assert.True(t, res.LimitReached)
	assert.False(t, res.Created)
	assert.Equal(t, 2, res.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 7. Claim: known device refreshes in place, count unchanged
func TestActivationModel_Claim_Refresh(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	now := time.Now()
	max := 2

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("lic-1"))
	mock.ExpectExec("UPDATE activations").WithArgs("lic-1", "dev-a", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectCommit()

	m := data.ActivationModel{DB: db}
	res, err := m.Claim(context.Background(), "lic-1", "dev-a", &max, now)
	require.NoError(t, err)
	assert.True(t, res.Refreshed)
	assert.False(t, res.Created)
	assert.Equal(t, 2, res.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 8. Claim: insert failure rolls back and surfaces the error
func TestActivationModel_Claim_InsertFails(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("lic-1"))
	mock.ExpectExec("UPDATE activations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO activations").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	m := data.ActivationModel{DB: db}
	_, err := m.Claim(context.Background(), "lic-1", "dev-a", nil, now)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 9. Delete of an unknown device
func TestActivationModel_Delete_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectExec("DELETE FROM activations").WithArgs("lic-1", "ghost").WillReturnResult(sqlmock.NewResult(0, 0))

	m := data.ActivationModel{DB: db}
	err := m.Delete(context.Background(), "lic-1", "ghost")
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}
