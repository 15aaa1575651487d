package repository

import (
	// Go Internal Packages
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"
	apperrors "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/errors"

	// External Packages
	"github.com/shopspring/decimal"
)

func (r *SQLiteRepo) CreatePayment(ctx context.Context, p *domain.Payment) error {
	if err := validatePayment(p); err != nil {
		return err
	}
	return insertPayment(ctx, r.db, p)
}

func validatePayment(p *domain.Payment) error {
	ve := apperrors.ValidationErrs()
	if p.ID == "" {
		ve.Add("id", "cannot be empty")
	}
	if p.UserID == "" {
		ve.Add("userId", "cannot be empty")
	}
	if p.Status == "" {
		ve.Add("status", "cannot be empty")
	}
	if err := ve.Err(); err != nil {
		return apperrors.ValidationFailedErr(err)
	}
	return nil
}

func insertPayment(ctx context.Context, q querier, p *domain.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = p.CreatedAt

	stmt := `
		INSERT INTO payments(
			id,
			user_id,
			cover_id,
			plan_tier,
			amount_paid,
			status,
			payment_date,
			created_at,
			updated_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err := q.ExecContext(
		ctx, stmt,
		p.ID,
		p.UserID,
		p.CoverID,
		p.PlanTier,
		p.AmountPaid.String(),
		string(p.Status),
		formatTimePtr(p.PaymentDate),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		return persistenceErr("insert payment", err)
	}
	return nil
}

func (r *SQLiteRepo) FindPayment(ctx context.Context, id string) (*domain.Payment, error) {
	q := `
		SELECT
			id,
			user_id,
			cover_id,
			plan_tier,
			amount_paid,
			status,
			payment_date,
			created_at,
			updated_at
		FROM payments WHERE id = ?
	`
	p, err := scanPayment(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.E(apperrors.NotFound, "payment not found", nil)
	}
	if err != nil {
		return nil, persistenceErr("read payment", err)
	}
	return p, nil
}

// ApplyPaymentUpdate settles an INITIATED payment. It reports false when the
// payment is missing or already terminal.
func (r *SQLiteRepo) ApplyPaymentUpdate(ctx context.Context, u domain.PaymentUpdate) (bool, error) {
	if !u.Status.IsTerminal() {
		return false, apperrors.E(apperrors.Invalid, fmt.Sprintf("payment status %s is not terminal", u.Status), nil)
	}

	q := `
		UPDATE payments
		SET status = ?, amount_paid = ?, payment_date = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := r.db.ExecContext(
		ctx, q,
		string(u.Status),
		u.AmountPaid.String(),
		formatTime(u.PaymentDate),
		formatTime(time.Now()),
		u.PaymentID,
		string(domain.StatusInitiated),
	)
	if err != nil {
		return false, persistenceErr("update payment", err)
	}

	aff, err := res.RowsAffected()
	if err != nil {
		return false, persistenceErr("update payment", err)
	}
	return aff == 1, nil
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	var status, amount, createdStr, updatedStr string
	var paidStr *string

	if err := s.Scan(
		&p.ID,
		&p.UserID,
		&p.CoverID,
		&p.PlanTier,
		&amount,
		&status,
		&paidStr,
		&createdStr,
		&updatedStr,
	); err != nil {
		return nil, err
	}

	p.Status = domain.TxStatus(status)

	var err error
	if p.AmountPaid, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if p.PaymentDate, err = parseTimePtr(paidStr); err != nil {
		return nil, fmt.Errorf("parse payment date: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("parse created time: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, fmt.Errorf("parse updated time: %w", err)
	}
	return &p, nil
}
