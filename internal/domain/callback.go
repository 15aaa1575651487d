package domain

import (
	// Go Internal Packages
	"time"

	// External Packages
	"github.com/shopspring/decimal"
)

// ResultCodeUnknown is used when a callback carries no recognizable result
// code. It maps to a failure, never to success.
const ResultCodeUnknown = -1

// Callback is the canonical form of a gateway notification, whatever shape
// it arrived in.
type Callback struct {
	CorrelationID     *string
	MerchantRequestID *string
	ResultCode        int
	ResultDescription string
	Amount            decimal.Decimal
	ReceiptNumber     *string
	PhoneNumber       *string
	TransactionDate   *time.Time
	Raw               []byte
}

// CallbackAudit is an append-only record of one received callback.
type CallbackAudit struct {
	ID                int64
	CorrelationID     *string
	ResultCode        int
	ResultDescription string
	Payload           []byte
	ReceivedAt        time.Time
}
