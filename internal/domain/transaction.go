package domain

import (
	// Go Internal Packages
	"time"

	// External Packages
	"github.com/shopspring/decimal"
)

type TxStatus string

const (
	StatusInitiated TxStatus = "INITIATED"
	StatusCompleted TxStatus = "COMPLETED"
	StatusFailed    TxStatus = "FAILED"
)

func (s TxStatus) Valid() bool {
	return s == StatusInitiated || s.IsTerminal()
}

// IsTerminal reports whether no further transition is allowed.
func (s TxStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition allows only INITIATED -> COMPLETED|FAILED.
func CanTransition(from, to TxStatus) bool {
	return from == StatusInitiated && to.IsTerminal()
}

// StatusForResultCode maps a gateway result code to the terminal status.
// Anything but 0, including the -1 used for a missing code, is a failure.
func StatusForResultCode(code int) TxStatus {
	if code == 0 {
		return StatusCompleted
	}
	return StatusFailed
}

type Transaction struct {
	ID                string
	CorrelationID     *string
	MerchantRequestID *string
	UserID            string
	CoverID           string
	PlanTier          string
	Phone             string
	Amount            decimal.Decimal
	Status            TxStatus
	PaymentID         *string
	ReceiptNumber     *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// TransitionFields are written together with the status in a single
// conditional update. Nil pointers leave the stored column untouched.
type TransitionFields struct {
	ReceiptNumber     *string
	MerchantRequestID *string
	PaymentID         *string
	CompletedAt       time.Time
}
