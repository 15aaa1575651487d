package domain

import (
	// Go Internal Packages
	"time"

	// External Packages
	"github.com/shopspring/decimal"
)

type Payment struct {
	ID          string
	UserID      string
	CoverID     string
	PlanTier    string
	AmountPaid  decimal.Decimal
	Status      TxStatus
	PaymentDate *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentUpdate is the outcome applied to an INITIATED payment after its
// transaction settles. It is also the unit stored in the dead letter.
type PaymentUpdate struct {
	PaymentID     string          `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	Status        TxStatus        `json:"status"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentDate   time.Time       `json:"payment_date"`

	// Create is set when the payment row does not exist yet (on_callback flow).
	Create   bool   `json:"create,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	CoverID  string `json:"cover_id,omitempty"`
	PlanTier string `json:"plan_tier,omitempty"`
}

// Payment builds the row an update with Create set should insert.
func (u PaymentUpdate) Payment() *Payment {
	date := u.PaymentDate
	return &Payment{
		ID:          u.PaymentID,
		UserID:      u.UserID,
		CoverID:     u.CoverID,
		PlanTier:    u.PlanTier,
		AmountPaid:  u.AmountPaid,
		Status:      u.Status,
		PaymentDate: &date,
	}
}

// PaymentFlow selects when the payment row is created.
type PaymentFlow string

const (
	// FlowAtInitiation creates the payment INITIATED before the push and
	// settles it on reconciliation.
	FlowAtInitiation PaymentFlow = "at_initiation"
	// FlowOnCallback creates the payment only once a callback confirms success.
	FlowOnCallback PaymentFlow = "on_callback"
)

func (f PaymentFlow) Valid() bool {
	return f == FlowAtInitiation || f == FlowOnCallback
}
