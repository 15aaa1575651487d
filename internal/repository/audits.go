package repository

import (
	// Go Internal Packages
	"context"
	"time"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"
)

// InsertCallbackAudit appends a received callback. Rows are never updated or
// deleted.
func (r *SQLiteRepo) InsertCallbackAudit(ctx context.Context, a *domain.CallbackAudit) error {
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = time.Now()
	}

	q := `
		INSERT INTO callback_audits(
			correlation_id,
			result_code,
			result_description,
			payload,
			received_at
		)
		VALUES(?, ?, ?, ?, ?);
	`
	res, err := r.db.ExecContext(
		ctx, q,
		a.CorrelationID,
		a.ResultCode,
		a.ResultDescription,
		string(a.Payload),
		formatTime(a.ReceivedAt),
	)
	if err != nil {
		return persistenceErr("insert callback audit", err)
	}

	a.ID, _ = res.LastInsertId()
	return nil
}

func (r *SQLiteRepo) ListCallbackAudits(ctx context.Context, correlationID string) ([]domain.CallbackAudit, error) {
	q := `
		SELECT id, correlation_id, result_code, result_description, payload, received_at
		FROM callback_audits
		WHERE correlation_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, q, correlationID)
	if err != nil {
		return nil, persistenceErr("list callback audits", err)
	}
	defer rows.Close()

	var res []domain.CallbackAudit
	for rows.Next() {
		var a domain.CallbackAudit
		var payload, received string
		if err := rows.Scan(&a.ID, &a.CorrelationID, &a.ResultCode, &a.ResultDescription, &payload, &received); err != nil {
			return nil, persistenceErr("list callback audits", err)
		}
		a.Payload = []byte(payload)
		if a.ReceivedAt, err = parseTime(received); err != nil {
			return nil, persistenceErr("list callback audits", err)
		}
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceErr("list callback audits", err)
	}
	return res, nil
}

// CountCallbackAudits counts every audit row, including those without a
// correlation id.
func (r *SQLiteRepo) CountCallbackAudits(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM callback_audits").Scan(&n); err != nil {
		return 0, persistenceErr("count callback audits", err)
	}
	return n, nil
}
