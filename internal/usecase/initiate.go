package usecase

import (
	// Go Internal Packages
	"context"
	"strings"
	"time"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"
	apperrors "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/errors"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/mpesa"

	// External Packages
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// The gateway truncates AccountReference beyond this length.
const maxAccountReference = 12

type InitiateInput struct {
	Phone    string
	Amount   decimal.Decimal
	UserID   string
	CoverID  string
	PlanTier string
}

type InitiateOutput struct {
	Transaction *domain.Transaction
	Payment     *domain.Payment
	Reused      bool
}

type InitiateUsecase struct {
	store   Store
	gateway Gateway
	locker  Locker
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewInitiateUsecase(store Store, gateway Gateway, locker Locker, opts Options, logger *zap.Logger) *InitiateUsecase {
	return &InitiateUsecase{
		store:   store,
		gateway: gateway,
		locker:  locker,
		opts:    opts.withDefaults(),
		logger:  logger,
		now:     time.Now,
	}
}

func (in InitiateInput) validate() error {
	ve := apperrors.ValidationErrs()
	if strings.TrimSpace(in.Phone) == "" {
		ve.Add("phone", "cannot be empty")
	}
	if !in.Amount.IsPositive() {
		ve.Add("amount", "must be positive")
	}
	if in.UserID == "" {
		ve.Add("userId", "cannot be empty")
	}
	if in.CoverID == "" {
		ve.Add("coverId", "cannot be empty")
	}
	if in.PlanTier == "" {
		ve.Add("planTier", "cannot be empty")
	}
	if err := ve.Err(); err != nil {
		return apperrors.ValidationFailedErr(err)
	}
	return nil
}

// Initiate records an INITIATED transaction and asks the gateway to prompt
// the customer. When the push fails the transaction stays INITIATED: the
// gateway may still have processed it and a later callback can settle it.
func (u *InitiateUsecase) Initiate(ctx context.Context, in InitiateInput) (*InitiateOutput, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	phone, err := NormalizePhone(in.Phone)
	if err != nil {
		return nil, err
	}

	log := u.logger.With(zap.String("user_id", in.UserID), zap.String("amount", in.Amount.String()))

	if u.locker != nil {
		release, err := u.locker.Obtain(ctx, "initiate:"+in.UserID+":"+in.Amount.String())
		if err != nil {
			return nil, err
		}
		defer release()
	}

	tx, payment, existing, err := u.create(ctx, in, phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.CorrelationID == nil {
			log.Warn("initiation already in flight without gateway reply", zap.String("transaction_id", existing.ID))
			return nil, apperrors.E(apperrors.Conflict, "payment request already in progress", nil)
		}
		log.Info("reusing in-flight transaction", zap.String("transaction_id", existing.ID))
		return &InitiateOutput{Transaction: existing, Reused: true}, nil
	}
	log = log.With(zap.String("transaction_id", tx.ID))

	resp, err := u.push(ctx, tx, payment)
	if err != nil {
		log.Warn("stk push failed; transaction left initiated", zap.Error(err))
		return nil, err
	}

	sctx, cancel := bounded(ctx, u.opts.StorageTimeout)
	defer cancel()
	if err := u.store.SetCorrelation(sctx, tx.ID, resp.CheckoutRequestID, resp.MerchantRequestID); err != nil {
		log.Error("push accepted but correlation id not stored",
			zap.String("correlation_id", resp.CheckoutRequestID), zap.Error(err))
		return nil, err
	}

	tx.CorrelationID = &resp.CheckoutRequestID
	if resp.MerchantRequestID != "" {
		tx.MerchantRequestID = &resp.MerchantRequestID
	}
	log.Info("stk push accepted", zap.String("correlation_id", resp.CheckoutRequestID))

	return &InitiateOutput{Transaction: tx, Payment: payment}, nil
}

// create writes the transaction (and the payment for FlowAtInitiation) unless
// an INITIATED transaction for the same user and amount is still inside the
// duplicate window, in which case that one is returned as existing.
func (u *InitiateUsecase) create(ctx context.Context, in InitiateInput, phone string) (tx *domain.Transaction, payment *domain.Payment, existing *domain.Transaction, err error) {
	sctx, cancel := bounded(ctx, u.opts.StorageTimeout)
	defer cancel()

	now := u.now()
	tx = &domain.Transaction{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		CoverID:   in.CoverID,
		PlanTier:  in.PlanTier,
		Phone:     phone,
		Amount:    in.Amount,
		Status:    domain.StatusInitiated,
		CreatedAt: now,
	}

	if u.opts.Flow == domain.FlowAtInitiation {
		payment = &domain.Payment{
			ID:         uuid.NewString(),
			UserID:     in.UserID,
			CoverID:    in.CoverID,
			PlanTier:   in.PlanTier,
			AmountPaid: in.Amount,
			Status:     domain.StatusInitiated,
			CreatedAt:  now,
		}
	}

	existing, err = u.store.CreatePendingUnlessInFlight(sctx, tx, payment, now.Add(-u.opts.DuplicateWindow))
	if err != nil || existing != nil {
		return nil, nil, existing, err
	}
	return tx, payment, nil, nil
}

func (u *InitiateUsecase) push(ctx context.Context, tx *domain.Transaction, payment *domain.Payment) (*mpesa.PushResponse, error) {
	gctx, cancel := bounded(ctx, u.opts.GatewayTimeout)
	defer cancel()

	token, err := u.gateway.Authenticate(gctx)
	if err != nil {
		return nil, err
	}

	ref := tx.ID
	if u.opts.AccountReference == RefPayment && payment != nil {
		ref = payment.ID
	}

	return u.gateway.Push(gctx, token, mpesa.PushRequest{
		Phone:            tx.Phone,
		Amount:           tx.Amount,
		AccountReference: AccountReferenceFor(ref),
		Description:      u.opts.Description,
	})
}

// AccountReferenceFor compacts an id into the gateway's reference field.
func AccountReferenceFor(id string) string {
	ref := strings.ReplaceAll(id, "-", "")
	if len(ref) > maxAccountReference {
		ref = ref[:maxAccountReference]
	}
	return ref
}
