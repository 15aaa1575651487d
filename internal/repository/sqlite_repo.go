package repository

import (
	// Go Internal Packages
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"
	apperrors "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/errors"

	// External Packages
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Fixed-width so that stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, err
	}

	// Single connection: writers queue in the pool instead of hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	db.Exec("PRAGMA foreign_keys = ON;")
	db.Exec("PRAGMA journal_mode = WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")

	r := &SQLiteRepo{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return r, nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepo) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS payments(
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			cover_id TEXT NOT NULL,
			plan_tier TEXT NOT NULL,
			amount_paid TEXT NOT NULL,
			status TEXT NOT NULL,
			payment_date TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transactions(
			id TEXT PRIMARY KEY,
			correlation_id TEXT UNIQUE,
			merchant_request_id TEXT,
			user_id TEXT NOT NULL,
			cover_id TEXT NOT NULL,
			plan_tier TEXT NOT NULL,
			phone TEXT NOT NULL,
			amount TEXT NOT NULL,
			status TEXT NOT NULL,
			payment_id TEXT,
			receipt_number TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_tx_user_amount_status ON transactions(user_id, amount, status);
		CREATE INDEX IF NOT EXISTS idx_tx_payment ON transactions(payment_id);

		CREATE TABLE IF NOT EXISTS callback_audits(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT,
			result_code INTEGER NOT NULL,
			result_description TEXT NOT NULL,
			payload TEXT NOT NULL,
			received_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_correlation ON callback_audits(correlation_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func persistenceErr(op string, err error) error {
	return apperrors.E(apperrors.Persistence, op, err)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreatePending inserts a transaction in INITIATED state.
func (r *SQLiteRepo) CreatePending(ctx context.Context, t *domain.Transaction) error {
	if err := validatePending(t); err != nil {
		return err
	}
	return insertTx(ctx, r.db, t)
}

// CreatePendingUnlessInFlight inserts payment (when not nil) and t in one
// write transaction, unless an INITIATED transaction for the same user and
// amount was created at or after since. In that case nothing is written and
// the in-flight transaction is returned.
func (r *SQLiteRepo) CreatePendingUnlessInFlight(ctx context.Context, t *domain.Transaction, payment *domain.Payment, since time.Time) (*domain.Transaction, error) {
	if err := validatePending(t); err != nil {
		return nil, err
	}
	if payment != nil {
		if err := validatePayment(payment); err != nil {
			return nil, err
		}
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistenceErr("begin initiation", err)
	}
	defer sqlTx.Rollback()

	existing, err := findPendingDuplicate(ctx, sqlTx, t.UserID, t.Amount, since)
	if err != nil || existing != nil {
		return existing, err
	}

	if payment != nil {
		if err := insertPayment(ctx, sqlTx, payment); err != nil {
			return nil, err
		}
		t.PaymentID = &payment.ID
	}
	if err := insertTx(ctx, sqlTx, t); err != nil {
		return nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, persistenceErr("commit initiation", err)
	}
	return nil, nil
}

func validatePending(t *domain.Transaction) error {
	ve := apperrors.ValidationErrs()
	if t.ID == "" {
		ve.Add("id", "cannot be empty")
	}
	if t.UserID == "" {
		ve.Add("userId", "cannot be empty")
	}
	if t.Phone == "" {
		ve.Add("phone", "cannot be empty")
	}
	if !t.Amount.IsPositive() {
		ve.Add("amount", "must be positive")
	}
	if err := ve.Err(); err != nil {
		return apperrors.ValidationFailedErr(err)
	}
	return nil
}

func insertTx(ctx context.Context, q querier, t *domain.Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = t.CreatedAt
	t.Status = domain.StatusInitiated

	stmt := `
		INSERT INTO transactions(
			id,
			correlation_id,
			merchant_request_id,
			user_id,
			cover_id,
			plan_tier,
			phone,
			amount,
			status,
			payment_id,
			created_at,
			updated_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`

	_, err := q.ExecContext(
		ctx, stmt,
		t.ID,
		t.CorrelationID,
		t.MerchantRequestID,
		t.UserID,
		t.CoverID,
		t.PlanTier,
		t.Phone,
		t.Amount.String(),
		string(t.Status),
		t.PaymentID,
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	if err != nil {
		return persistenceErr("insert transaction", err)
	}
	return nil
}

const txColumns = `
	id,
	correlation_id,
	merchant_request_id,
	user_id,
	cover_id,
	plan_tier,
	phone,
	amount,
	status,
	payment_id,
	receipt_number,
	created_at,
	updated_at,
	completed_at
`

func (r *SQLiteRepo) FindByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = ?", id)
	return oneTx(row)
}

func (r *SQLiteRepo) FindByCorrelationID(ctx context.Context, correlationID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE correlation_id = ?", correlationID)
	return oneTx(row)
}

// FindPendingDuplicate returns the newest INITIATED transaction for the same
// user and amount created at or after since, or nil.
func (r *SQLiteRepo) FindPendingDuplicate(ctx context.Context, userID string, amount decimal.Decimal, since time.Time) (*domain.Transaction, error) {
	return findPendingDuplicate(ctx, r.db, userID, amount, since)
}

func findPendingDuplicate(ctx context.Context, db querier, userID string, amount decimal.Decimal, since time.Time) (*domain.Transaction, error) {
	q := "SELECT " + txColumns + `
		FROM transactions
		WHERE user_id = ? AND amount = ? AND status = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1
	`
	row := db.QueryRowContext(ctx, q, userID, amount.String(), string(domain.StatusInitiated), formatTime(since))
	t, err := oneTx(row)
	if apperrors.Is(apperrors.NotFound, err) {
		return nil, nil
	}
	return t, err
}

func oneTx(row *sql.Row) (*domain.Transaction, error) {
	t, err := scanTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.E(apperrors.NotFound, "transaction not found", nil)
	}
	if err != nil {
		return nil, persistenceErr("read transaction", err)
	}
	return t, nil
}

// SetCorrelation records the identifiers the gateway issued for a push.
func (r *SQLiteRepo) SetCorrelation(ctx context.Context, id, correlationID, merchantRequestID string) error {
	q := `
		UPDATE transactions
		SET correlation_id = ?, merchant_request_id = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	var merchant any
	if merchantRequestID != "" {
		merchant = merchantRequestID
	}

	res, err := r.db.ExecContext(ctx, q, correlationID, merchant, formatTime(time.Now()), id, string(domain.StatusInitiated))
	if err != nil {
		return persistenceErr("set correlation", err)
	}

	aff, _ := res.RowsAffected()
	if aff == 0 {
		return apperrors.E(apperrors.NotFound, "initiated transaction not found", nil)
	}
	return nil
}

// CompareAndTransition moves a transaction from expected to next and writes
// fields in the same statement. It reports false, without error, when the
// stored status is no longer expected.
func (r *SQLiteRepo) CompareAndTransition(ctx context.Context, id string, expected, next domain.TxStatus, f domain.TransitionFields) (bool, error) {
	if !domain.CanTransition(expected, next) {
		return false, apperrors.E(apperrors.Invalid, fmt.Sprintf("transition %s -> %s not allowed", expected, next), nil)
	}

	completed := f.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	q := `
		UPDATE transactions SET
			status = ?,
			receipt_number = COALESCE(?, receipt_number),
			merchant_request_id = COALESCE(?, merchant_request_id),
			payment_id = COALESCE(?, payment_id),
			completed_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := r.db.ExecContext(
		ctx, q,
		string(next),
		f.ReceiptNumber,
		f.MerchantRequestID,
		f.PaymentID,
		formatTime(completed),
		formatTime(completed),
		id,
		string(expected),
	)
	if err != nil {
		return false, persistenceErr("transition transaction", err)
	}

	aff, err := res.RowsAffected()
	if err != nil {
		return false, persistenceErr("transition transaction", err)
	}
	return aff == 1, nil
}

type TxFilter struct {
	UserID        string
	CorrelationID string
	PaymentID     string
	Status        domain.TxStatus
}

func (r *SQLiteRepo) ListTransactions(ctx context.Context, f TxFilter, limit, offset int) ([]domain.Transaction, error) {
	q := "SELECT " + txColumns + " FROM transactions WHERE 1 = 1"
	args := []any{}

	if f.UserID != "" {
		q += " AND user_id = ?"
		args = append(args, f.UserID)
	}

	if f.CorrelationID != "" {
		q += " AND correlation_id = ?"
		args = append(args, f.CorrelationID)
	}

	if f.PaymentID != "" {
		q += " AND payment_id = ?"
		args = append(args, f.PaymentID)
	}

	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, persistenceErr("list transactions", err)
	}
	defer rows.Close()

	var res []domain.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, persistenceErr("list transactions", err)
		}

		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceErr("list transactions", err)
	}
	return res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTx(s scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var status, amount, createdStr, updatedStr string
	var completedStr *string

	if err := s.Scan(
		&t.ID,
		&t.CorrelationID,
		&t.MerchantRequestID,
		&t.UserID,
		&t.CoverID,
		&t.PlanTier,
		&t.Phone,
		&amount,
		&status,
		&t.PaymentID,
		&t.ReceiptNumber,
		&createdStr,
		&updatedStr,
		&completedStr,
	); err != nil {
		return nil, err
	}

	t.Status = domain.TxStatus(status)

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("parse created time: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, fmt.Errorf("parse updated time: %w", err)
	}
	if t.CompletedAt, err = parseTimePtr(completedStr); err != nil {
		return nil, fmt.Errorf("parse completed time: %w", err)
	}

	return &t, nil
}
