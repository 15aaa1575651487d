package httpd

import (
	// Go Internal Packages
	"time"

	// External Packages
	"github.com/shopspring/decimal"
)

type InitiateReq struct {
	Phone    string          `json:"phone" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	UserID   string          `json:"userId" validate:"required"`
	CoverID  string          `json:"coverId" validate:"required"`
	PlanTier string          `json:"planTier" validate:"required"`
}

type InitiateResp struct {
	Success           bool   `json:"success"`
	CorrelationID     string `json:"correlationId"`
	MerchantRequestID string `json:"merchantRequestId,omitempty"`
	TransactionID     string `json:"transactionId"`
	PaymentID         string `json:"paymentId,omitempty"`
	Reused            bool   `json:"reused,omitempty"`
}

type ErrorResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// CallbackResp is what the gateway reads back. ResultCode 0 acknowledges the
// delivery; anything else asks for a redelivery.
type CallbackResp struct {
	ResultCode        int    `json:"resultCode"`
	ResultDescription string `json:"resultDescription"`
}

type TxItem struct {
	ID                string     `json:"id"`
	CorrelationID     *string    `json:"correlationId,omitempty"`
	MerchantRequestID *string    `json:"merchantRequestId,omitempty"`
	UserID            string     `json:"userId"`
	CoverID           string     `json:"coverId"`
	PlanTier          string     `json:"planTier"`
	Phone             string     `json:"phone"`
	Amount            string     `json:"amount"`
	Status            string     `json:"status"`
	PaymentID         *string    `json:"paymentId,omitempty"`
	ReceiptNumber     *string    `json:"receiptNumber,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

type AuditItem struct {
	ID                int64     `json:"id"`
	ResultCode        int       `json:"resultCode"`
	ResultDescription string    `json:"resultDescription"`
	Payload           string    `json:"payload"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

type TxDetail struct {
	TxItem
	Callbacks []AuditItem `json:"callbacks"`
}
