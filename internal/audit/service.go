package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/technosupport/ts-licensing/internal/data"
	"github.com/technosupport/ts-licensing/internal/metrics"
)

// Service is the SQL sink for validation attempts with an on-disk spool
// for when the database is unreachable.
type Service struct {
	DB    data.DBTX
	spool *Spool
	log   *slog.Logger
}

func NewService(db data.DBTX, spool *Spool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{DB: db, spool: spool, log: logger.With("component", "audit")}
}

// WriteAttempt inserts an attempt. On DB failure the attempt goes to the
// spool and nil is returned; only a failed spool write is an error.
func (s *Service) WriteAttempt(ctx context.Context, a Attempt) error {
	if a.EventID == uuid.Nil {
		a.EventID = uuid.New()
	}

	err := s.insert(ctx, a)
	if err == nil {
		return nil
	}

	if s.spool == nil {
		return fmt.Errorf("audit write failed: %w", err)
	}

	s.log.Warn("audit DB write failed, spooling", "event_id", a.EventID, "error", err)
	if spoolErr := s.spool.Append(a); spoolErr != nil {
		s.log.Error("audit spool failed", "event_id", a.EventID, "error", spoolErr)
		return fmt.Errorf("audit critical failure: %w", spoolErr)
	}
	metrics.AuditSpooledTotal.Inc()
	return nil
}

// insert writes one attempt to the database only. Duplicate event ids are
// ignored.
func (s *Service) insert(ctx context.Context, a Attempt) error {
	query := `
		INSERT INTO validation_attempts (
			event_id, license_id, device_id, product_id, success, error_message, reason,
			key_fingerprint, client_ip, user_agent, app_version, request_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.DB.ExecContext(ctx, query,
		a.EventID, a.LicenseID, a.DeviceID, a.ProductID, a.Success, a.ErrorMessage, a.Reason,
		a.KeyFingerprint, a.ClientIP, a.UserAgent, a.AppVersion, a.RequestID, []byte(a.Metadata), a.CreatedAt,
	)
	return err
}

// QueryAttempts returns attempts newest first and the cursor for the next
// page (0 when the page was not full).
func (s *Service) QueryAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, int64, error) {
	q := `SELECT id, event_id, license_id, device_id, product_id, success, error_message, reason,
	             key_fingerprint, client_ip, user_agent, app_version, request_id, metadata, created_at
	      FROM validation_attempts
	      WHERE 1 = 1`
	var args []any
	idx := 1

	if f.LicenseID != "" {
		q += fmt.Sprintf(" AND license_id = $%d", idx)
		args = append(args, f.LicenseID)
		idx++
	}
	if f.KeyFingerprint != "" {
		q += fmt.Sprintf(" AND key_fingerprint = $%d", idx)
		args = append(args, f.KeyFingerprint)
		idx++
	}
	if f.Success != nil {
		q += fmt.Sprintf(" AND success = $%d", idx)
		args = append(args, *f.Success)
		idx++
	}
	if f.DateFrom != nil {
		q += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		q += fmt.Sprintf(" AND created_at < $%d", idx)
		args = append(args, *f.DateTo)
		idx++
	}
	if f.Cursor > 0 {
		q += fmt.Sprintf(" AND id < $%d", idx)
		args = append(args, f.Cursor)
		idx++
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var meta []byte
		if err := rows.Scan(&a.ID, &a.EventID, &a.LicenseID, &a.DeviceID, &a.ProductID, &a.Success,
			&a.ErrorMessage, &a.Reason, &a.KeyFingerprint, &a.ClientIP, &a.UserAgent, &a.AppVersion,
			&a.RequestID, &meta, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 && json.Valid(meta) {
			a.Metadata = meta
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var next int64
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}
