package usecase

import (
	// Go Internal Packages
	"context"
	"errors"
	"time"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"
	apperrors "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/errors"

	// External Packages
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
)

type ReconcileResult struct {
	Outcome     Outcome
	Transaction *domain.Transaction
	// PaymentErr is set when the transaction settled but the linked payment
	// could not be written. The transaction is not rolled back.
	PaymentErr error
}

type ReconcileUsecase struct {
	store      Store
	deadLetter DeadLetter
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

func NewReconcileUsecase(store Store, deadLetter DeadLetter, opts Options, logger *zap.Logger) *ReconcileUsecase {
	return &ReconcileUsecase{
		store:      store,
		deadLetter: deadLetter,
		opts:       opts.withDefaults(),
		logger:     logger,
		now:        time.Now,
	}
}

// Reconcile applies one callback delivery. Any number of deliveries of the
// same callback produce at most one transition; repeats are reported as
// OutcomeDuplicate with a nil error.
//
// The callback is audited first, whatever happens next. A failed audit
// insert does not stop reconciliation but is returned so the gateway
// delivers again.
func (u *ReconcileUsecase) Reconcile(ctx context.Context, cb *domain.Callback) (*ReconcileResult, error) {
	auditErr := u.audit(ctx, cb)

	if cb.CorrelationID == nil || *cb.CorrelationID == "" {
		return nil, errors.Join(apperrors.EmptyParamErr("CheckoutRequestID"), auditErr)
	}
	correlationID := *cb.CorrelationID
	log := u.logger.With(zap.String("correlation_id", correlationID), zap.Int("result_code", cb.ResultCode))

	tx, err := u.findTx(ctx, correlationID)
	if apperrors.Is(apperrors.NotFound, err) {
		log.Warn("callback for unknown transaction")
		return nil, errors.Join(apperrors.E(apperrors.NotFound, "transaction not found for "+correlationID, nil), auditErr)
	}
	if err != nil {
		return nil, errors.Join(err, auditErr)
	}
	log = log.With(zap.String("transaction_id", tx.ID))

	target := domain.StatusForResultCode(cb.ResultCode)
	if tx.Status.IsTerminal() {
		log.Info("duplicate callback ignored", zap.String("status", string(tx.Status)))
		return &ReconcileResult{Outcome: OutcomeDuplicate, Transaction: tx}, auditErr
	}

	fields := domain.TransitionFields{
		MerchantRequestID: cb.MerchantRequestID,
		CompletedAt:       u.now(),
	}
	if target == domain.StatusCompleted {
		fields.ReceiptNumber = cb.ReceiptNumber
	}
	createPayment := u.opts.Flow == domain.FlowOnCallback && target == domain.StatusCompleted && tx.PaymentID == nil
	if createPayment {
		id := uuid.NewString()
		fields.PaymentID = &id
	}

	ok, err := u.transition(ctx, tx.ID, target, fields)
	if err != nil {
		log.Error("transaction transition failed", zap.Error(err))
		return nil, errors.Join(err, auditErr)
	}
	if !ok {
		log.Info("lost transition race to a concurrent delivery")
		return &ReconcileResult{Outcome: OutcomeDuplicate, Transaction: tx}, auditErr
	}

	settled := applyFields(*tx, target, fields)
	log.Info("transaction settled", zap.String("status", string(target)))

	res := &ReconcileResult{Outcome: OutcomeApplied, Transaction: &settled}
	if settled.PaymentID != nil {
		res.PaymentErr = u.settlePayment(ctx, log, &settled, cb, createPayment)
	}
	return res, auditErr
}

func (u *ReconcileUsecase) audit(ctx context.Context, cb *domain.Callback) error {
	sctx, cancel := bounded(ctx, u.opts.StorageTimeout)
	defer cancel()

	err := u.store.InsertCallbackAudit(sctx, &domain.CallbackAudit{
		CorrelationID:     cb.CorrelationID,
		ResultCode:        cb.ResultCode,
		ResultDescription: cb.ResultDescription,
		Payload:           cb.Raw,
		ReceivedAt:        u.now(),
	})
	if err != nil {
		u.logger.Error("callback audit insert failed", zap.ByteString("payload", cb.Raw), zap.Error(err))
	}
	return err
}

func (u *ReconcileUsecase) findTx(ctx context.Context, correlationID string) (*domain.Transaction, error) {
	sctx, cancel := bounded(ctx, u.opts.StorageTimeout)
	defer cancel()
	return u.store.FindByCorrelationID(sctx, correlationID)
}

func (u *ReconcileUsecase) transition(ctx context.Context, id string, target domain.TxStatus, f domain.TransitionFields) (bool, error) {
	sctx, cancel := bounded(ctx, u.opts.StorageTimeout)
	defer cancel()
	return u.store.CompareAndTransition(sctx, id, domain.StatusInitiated, target, f)
}

func applyFields(tx domain.Transaction, status domain.TxStatus, f domain.TransitionFields) domain.Transaction {
	tx.Status = status
	if f.ReceiptNumber != nil {
		tx.ReceiptNumber = f.ReceiptNumber
	}
	if f.MerchantRequestID != nil {
		tx.MerchantRequestID = f.MerchantRequestID
	}
	if f.PaymentID != nil {
		tx.PaymentID = f.PaymentID
	}
	completed := f.CompletedAt
	tx.CompletedAt = &completed
	tx.UpdatedAt = completed
	return tx
}

// paymentUpdateFor derives the payment outcome from a settled transaction.
// A failed callback pays nothing.
func paymentUpdateFor(tx *domain.Transaction, cb *domain.Callback, now time.Time) domain.PaymentUpdate {
	amount := decimal.Zero
	if tx.Status == domain.StatusCompleted {
		amount = tx.Amount
		if cb.Amount.IsPositive() {
			amount = cb.Amount
		}
	}
	date := now
	if cb.TransactionDate != nil {
		date = *cb.TransactionDate
	}
	return domain.PaymentUpdate{
		PaymentID:     *tx.PaymentID,
		TransactionID: tx.ID,
		Status:        tx.Status,
		AmountPaid:    amount,
		PaymentDate:   date,
	}
}

func (u *ReconcileUsecase) settlePayment(ctx context.Context, log *zap.Logger, tx *domain.Transaction, cb *domain.Callback, create bool) error {
	update := paymentUpdateFor(tx, cb, u.now())
	if create {
		update.Create = true
		update.UserID = tx.UserID
		update.CoverID = tx.CoverID
		update.PlanTier = tx.PlanTier
	}

	err := u.applyPaymentUpdate(ctx, update)
	if err == nil {
		return nil
	}

	log.Error("payment update failed; manual reconciliation required",
		zap.String("payment_id", update.PaymentID), zap.Error(err))
	if u.deadLetter != nil {
		if dlErr := u.deadLetter.Push(ctx, update); dlErr != nil {
			log.Error("payment update not dead-lettered", zap.String("payment_id", update.PaymentID), zap.Error(dlErr))
		}
	}
	return apperrors.E(apperrors.Persistence, "payment update", err)
}

func (u *ReconcileUsecase) applyPaymentUpdate(ctx context.Context, update domain.PaymentUpdate) error {
	sctx, cancel := bounded(ctx, u.opts.StorageTimeout)
	defer cancel()

	if update.Create {
		if _, err := u.store.FindPayment(sctx, update.PaymentID); err == nil {
			return nil
		} else if !apperrors.Is(apperrors.NotFound, err) {
			return err
		}
		return u.store.CreatePayment(sctx, update.Payment())
	}

	ok, err := u.store.ApplyPaymentUpdate(sctx, update)
	if err != nil || ok {
		return err
	}

	// No row changed: either it is already settled or it is missing.
	p, err := u.store.FindPayment(sctx, update.PaymentID)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() {
		u.logger.Info("payment already settled", zap.String("payment_id", p.ID), zap.String("status", string(p.Status)))
		return nil
	}
	return apperrors.E(apperrors.Persistence, "payment "+p.ID+" not updated", nil)
}

// ReplayPaymentUpdates drains up to limit dead-lettered payment updates.
// Updates that still fail go back on the list.
func (u *ReconcileUsecase) ReplayPaymentUpdates(ctx context.Context, limit int) (replayed, failed int, err error) {
	if u.deadLetter == nil {
		return 0, 0, apperrors.E(apperrors.Invalid, "no dead letter configured", nil)
	}

	var retry []domain.PaymentUpdate
	defer func() {
		// Failed updates go back on the list once the run is over.
		for _, update := range retry {
			if pushErr := u.deadLetter.Push(ctx, update); pushErr != nil {
				u.logger.Error("payment update lost from dead letter", zap.String("payment_id", update.PaymentID), zap.Error(pushErr))
				err = errors.Join(err, pushErr)
			}
		}
	}()

	for i := 0; i < limit; i++ {
		update, ok, popErr := u.deadLetter.Pop(ctx)
		if popErr != nil {
			return replayed, failed, popErr
		}
		if !ok {
			break
		}

		if applyErr := u.applyPaymentUpdate(ctx, update); applyErr != nil {
			failed++
			retry = append(retry, update)
			u.logger.Error("payment update replay failed", zap.String("payment_id", update.PaymentID), zap.Error(applyErr))
			continue
		}
		replayed++
		u.logger.Info("payment update replayed", zap.String("payment_id", update.PaymentID))
	}
	return replayed, failed, nil
}
