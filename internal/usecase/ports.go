package usecase

import (
	// Go Internal Packages
	"context"
	"time"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/mpesa"
)

type TransactionStore interface {
	CreatePending(ctx context.Context, t *domain.Transaction) error
	CreatePendingUnlessInFlight(ctx context.Context, t *domain.Transaction, p *domain.Payment, since time.Time) (*domain.Transaction, error)
	FindByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindByCorrelationID(ctx context.Context, correlationID string) (*domain.Transaction, error)
	SetCorrelation(ctx context.Context, id, correlationID, merchantRequestID string) error
	CompareAndTransition(ctx context.Context, id string, expected, next domain.TxStatus, f domain.TransitionFields) (bool, error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, p *domain.Payment) error
	FindPayment(ctx context.Context, id string) (*domain.Payment, error)
	ApplyPaymentUpdate(ctx context.Context, u domain.PaymentUpdate) (bool, error)
}

type AuditLog interface {
	InsertCallbackAudit(ctx context.Context, a *domain.CallbackAudit) error
}

type Store interface {
	TransactionStore
	PaymentStore
	AuditLog
}

type Gateway interface {
	Authenticate(ctx context.Context) (string, error)
	Push(ctx context.Context, token string, req mpesa.PushRequest) (*mpesa.PushResponse, error)
}

// Locker is optional; a nil Locker skips cross-replica locking.
type Locker interface {
	Obtain(ctx context.Context, key string) (release func(), err error)
}

// DeadLetter is optional; without one failed payment updates are only logged.
type DeadLetter interface {
	Push(ctx context.Context, u domain.PaymentUpdate) error
	Pop(ctx context.Context) (domain.PaymentUpdate, bool, error)
}

type AccountReference string

const (
	RefTransaction AccountReference = "transaction"
	RefPayment     AccountReference = "payment"
)

type Options struct {
	Flow             domain.PaymentFlow
	AccountReference AccountReference
	DuplicateWindow  time.Duration
	StorageTimeout   time.Duration
	GatewayTimeout   time.Duration
	Description      string
}

func (o Options) withDefaults() Options {
	if o.Flow == "" {
		o.Flow = domain.FlowAtInitiation
	}
	if o.AccountReference == "" || o.Flow == domain.FlowOnCallback {
		o.AccountReference = RefTransaction
	}
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = 2 * time.Minute
	}
	return o
}

// bounded applies d to ctx when d is positive.
func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
