package callback

import (
	// Go Internal Packages
	"testing"
	"time"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"

	// External Packages
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const envelopeFields = `{
	"MerchantRequestID": "29115-34620561-1",
	"CheckoutRequestID": "ws_CO_191220191020363925",
	"ResultCode": 0,
	"ResultDesc": "The service request is processed successfully.",
	"CallbackMetadata": {
		"Item": [
			{"Name": "Amount", "Value": 500},
			{"Name": "MpesaReceiptNumber", "Value": "ABC123"},
			{"Name": "Balance"},
			{"Name": "TransactionDate", "Value": 20191219102115},
			{"Name": "PhoneNumber", "Value": 254712345678}
		]
	}
}`

func stripRaw(cb *domain.Callback) domain.Callback {
	out := *cb
	out.Raw = nil
	return out
}

func TestNormalizeShapesAreEquivalent(t *testing.T) {
	payloads := map[Shape]string{
		ShapeBodyEnvelope:      `{"Body": {"stkCallback": ` + envelopeFields + `}}`,
		ShapeLowerBodyEnvelope: `{"body": {"stkCallback": ` + envelopeFields + `}}`,
		ShapeBareEnvelope:      `{"stkCallback": ` + envelopeFields + `}`,
		ShapeFlat:              envelopeFields,
	}

	var want *domain.Callback
	for shape, payload := range payloads {
		cb, got, err := Normalize([]byte(payload))
		require.NoError(t, err)
		assert.Equal(t, shape, got)
		assert.Equal(t, payload, string(cb.Raw))

		if want == nil {
			want = cb
			continue
		}
		assert.Equal(t, stripRaw(want), stripRaw(cb), "shape %s", shape)
	}

	require.NotNil(t, want.CorrelationID)
	assert.Equal(t, "ws_CO_191220191020363925", *want.CorrelationID)
	assert.Equal(t, "29115-34620561-1", *want.MerchantRequestID)
	assert.Equal(t, 0, want.ResultCode)
	assert.Equal(t, "The service request is processed successfully.", want.ResultDescription)
	assert.True(t, want.Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "ABC123", *want.ReceiptNumber)
	assert.Equal(t, "254712345678", *want.PhoneNumber)
	require.NotNil(t, want.TransactionDate)
	assert.Equal(t, time.Date(2019, 12, 19, 10, 21, 15, 0, time.UTC), *want.TransactionDate)
}

func TestNormalizeCaseInsensitiveKeys(t *testing.T) {
	payload := `{"BODY": {"StkCallback": {
		"checkoutRequestId": "ws_CO_1",
		"resultcode": "1",
		"resultDesc": "Insufficient funds",
		"callbackmetadata": {"item": [{"name": "amount", "value": "250.50"}]}
	}}}`

	cb, shape, err := Normalize([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, ShapeBodyEnvelope, shape)
	assert.Equal(t, "ws_CO_1", *cb.CorrelationID)
	assert.Equal(t, 1, cb.ResultCode)
	assert.Equal(t, "Insufficient funds", cb.ResultDescription)
	assert.True(t, cb.Amount.Equal(decimal.RequireFromString("250.50")))
	assert.Nil(t, cb.ReceiptNumber)
}

func TestNormalizeDirectPropertyWins(t *testing.T) {
	payload := `{
		"CheckoutRequestID": "ws_CO_2",
		"ResultCode": 0,
		"Amount": 100,
		"MpesaReceiptNumber": "DIRECT1",
		"CallbackMetadata": {"Item": [
			{"Name": "Amount", "Value": 999},
			{"Name": "MpesaReceiptNumber", "Value": "ITEM1"}
		]}
	}`

	cb, shape, err := Normalize([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, ShapeFlat, shape)
	assert.True(t, cb.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "DIRECT1", *cb.ReceiptNumber)
}

func TestNormalizeBlankDirectPropertyFallsBackToItems(t *testing.T) {
	payload := `{
		"CheckoutRequestID": "ws_CO_3",
		"ResultCode": 0,
		"MpesaReceiptNumber": "",
		"PhoneNumber": "   ",
		"Amount": {"value": 1},
		"TransactionDate": null,
		"CallbackMetadata": {"Item": [
			{"Name": "Amount", "Value": 250},
			{"Name": "MpesaReceiptNumber", "Value": ""},
			{"Name": "MpesaReceiptNumber", "Value": "ITEM2"},
			{"Name": "PhoneNumber", "Value": 254712345678},
			{"Name": "TransactionDate", "Value": 20240101100000}
		]}
	}`

	cb, _, err := Normalize([]byte(payload))
	require.NoError(t, err)
	require.NotNil(t, cb.ReceiptNumber)
	assert.Equal(t, "ITEM2", *cb.ReceiptNumber)
	require.NotNil(t, cb.PhoneNumber)
	assert.Equal(t, "254712345678", *cb.PhoneNumber)
	assert.True(t, cb.Amount.Equal(decimal.NewFromInt(250)))
	require.NotNil(t, cb.TransactionDate)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), *cb.TransactionDate)

	cb, _, err = Normalize([]byte(`{"CheckoutRequestID": "ws_CO_4", "MpesaReceiptNumber": ""}`))
	require.NoError(t, err)
	assert.Nil(t, cb.ReceiptNumber)
}

func TestNormalizeResultCodeFallbacks(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    int
	}{
		{"missing", `{"CheckoutRequestID": "x"}`, domain.ResultCodeUnknown},
		{"result key", `{"Result": 1032}`, 1032},
		{"non numeric", `{"ResultCode": "oops"}`, domain.ResultCodeUnknown},
		{"null", `{"ResultCode": null, "Result": 0}`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cb, _, err := Normalize([]byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.want, cb.ResultCode)
		})
	}
}

func TestNormalizeMissingCorrelation(t *testing.T) {
	cb, _, err := Normalize([]byte(`{"Body": {"stkCallback": {"ResultCode": 0}}}`))
	require.NoError(t, err)
	assert.Nil(t, cb.CorrelationID)
	assert.Nil(t, cb.MerchantRequestID)
}

func TestNormalizeRejectsNonObjects(t *testing.T) {
	_, _, err := Normalize([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, _, err = Normalize([]byte(`not json`))
	assert.Error(t, err)
}

func TestNormalizeEnvelopeNotObjectFallsBack(t *testing.T) {
	cb, shape, err := Normalize([]byte(`{"Body": "nope", "CheckoutRequestID": "ws_CO_3"}`))
	require.NoError(t, err)
	assert.Equal(t, ShapeFlat, shape)
	assert.Equal(t, "ws_CO_3", *cb.CorrelationID)
}

func TestParseTransactionDate(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	got := ParseTransactionDate("20240102030405")
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	got = ParseTransactionDate("2024-01-02T06:04:05+03:00")
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got))

	got = ParseTransactionDate("2024-01-02 03:04:05")
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	assert.Nil(t, ParseTransactionDate("20241302030405"))
	assert.Nil(t, ParseTransactionDate("yesterday"))
	assert.Nil(t, ParseTransactionDate(""))
	assert.Nil(t, ParseTransactionDate(nil))
}
