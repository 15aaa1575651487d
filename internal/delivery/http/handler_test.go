package httpd_test

import (
	// Go Internal Packages
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	// Local Packages
	httpd "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/delivery/http"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"
	apperrors "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/errors"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/mpesa"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/repository"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/usecase"

	// External Packages
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubGateway struct {
	pushErr error
	pushes  int
}

func (g *stubGateway) Authenticate(ctx context.Context) (string, error) {
	return "token", nil
}

func (g *stubGateway) Push(ctx context.Context, token string, req mpesa.PushRequest) (*mpesa.PushResponse, error) {
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	g.pushes++
	return &mpesa.PushResponse{
		MerchantRequestID: "merchant-" + strconv.Itoa(g.pushes),
		CheckoutRequestID: "ws_CO_" + strconv.Itoa(g.pushes),
		ResponseCode:      "0",
	}, nil
}

type panickingReconciler struct{}

func (panickingReconciler) Reconcile(ctx context.Context, cb *domain.Callback) (*usecase.ReconcileResult, error) {
	panic("boom")
}

type testServer struct {
	repo    *repository.SQLiteRepo
	gateway *stubGateway
	router  http.Handler
}

func newTestServer(t *testing.T, cfg httpd.RouteConfig) *testServer {
	t.Helper()
	repo, err := repository.NewSQLiteRepo(filepath.Join(t.TempDir(), "httpd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	gw := &stubGateway{}
	opts := usecase.Options{StorageTimeout: 5 * time.Second, GatewayTimeout: 5 * time.Second}
	initiator := usecase.NewInitiateUsecase(repo, gw, nil, opts, zap.NewNop())
	reconciler := usecase.NewReconcileUsecase(repo, nil, opts, zap.NewNop())

	h := httpd.NewHandler(initiator, reconciler, repo, zap.NewNop())
	return &testServer{repo: repo, gateway: gw, router: h.Routes(cfg)}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

const initiateBody = `{"phone":"0712345678","amount":500,"userId":"u1","coverId":"c1","planTier":"standard"}`

func successCallback(correlationID string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"merchant-1",
		"CheckoutRequestID":%q,
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":500},
			{"Name":"MpesaReceiptNumber","Value":"ABC123"},
			{"Name":"TransactionDate","Value":20240101120000},
			{"Name":"PhoneNumber","Value":254712345678}
		]}
	}}}`, correlationID))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestInitiateEndpoint(t *testing.T) {
	s := newTestServer(t, httpd.RouteConfig{})

	rec := s.do(t, http.MethodPost, "/payments/initiate", []byte(initiateBody), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[httpd.InitiateResp](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "ws_CO_1", resp.CorrelationID)
	assert.NotEmpty(t, resp.TransactionID)
	assert.NotEmpty(t, resp.PaymentID)
	assert.False(t, resp.Reused)

	rec = s.do(t, http.MethodPost, "/payments/initiate", []byte(initiateBody), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[httpd.InitiateResp](t, rec)
	assert.True(t, again.Reused)
	assert.Equal(t, resp.TransactionID, again.TransactionID)
	assert.Equal(t, 1, s.gateway.pushes)
}

func TestInitiateEndpointRejectsBadInput(t *testing.T) {
	s := newTestServer(t, httpd.RouteConfig{})

	cases := map[string]string{
		"invalid json":    `{"phone":`,
		"missing userId":  `{"phone":"0712345678","amount":500,"coverId":"c1","planTier":"standard"}`,
		"bad phone":       `{"phone":"12345","amount":500,"userId":"u1","coverId":"c1","planTier":"standard"}`,
		"negative amount": `{"phone":"0712345678","amount":-1,"userId":"u1","coverId":"c1","planTier":"standard"}`,
	}
	for name, body := range cases {
		rec := s.do(t, http.MethodPost, "/payments/initiate", []byte(body), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		resp := decode[httpd.ErrorResp](t, rec)
		assert.False(t, resp.Success, name)
		assert.NotEmpty(t, resp.Message, name)
	}

	rec := s.do(t, http.MethodPost, "/payments/initiate", []byte(cases["bad phone"]), nil)
	assert.Contains(t, decode[httpd.ErrorResp](t, rec).Message, "unrecognized phone format")
	assert.Zero(t, s.gateway.pushes)
}

func TestInitiateEndpointGatewayFailure(t *testing.T) {
	s := newTestServer(t, httpd.RouteConfig{})
	s.gateway.pushErr = &apperrors.GatewayError{
		Op:         "push",
		StatusCode: http.StatusBadRequest,
		Body:       []byte(`{"errorCode":"400.002.02","errorMessage":"Bad Request - Invalid Amount"}`),
	}

	rec := s.do(t, http.MethodPost, "/payments/initiate", []byte(initiateBody), nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[httpd.ErrorResp](t, rec)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Invalid Amount")

	// The ambiguous transaction blocks a second prompt.
	s.gateway.pushErr = nil
	rec = s.do(t, http.MethodPost, "/payments/initiate", []byte(initiateBody), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCallbackEndpointSettlesTransaction(t *testing.T) {
	s := newTestServer(t, httpd.RouteConfig{})
	initiated := decode[httpd.InitiateResp](t, s.do(t, http.MethodPost, "/payments/initiate", []byte(initiateBody), nil))

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/payments/callback", successCallback(initiated.CorrelationID), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, decode[httpd.CallbackResp](t, rec).ResultCode)
	}

	rec := s.do(t, http.MethodGet, "/payments/transactions/"+initiated.TransactionID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[httpd.TxDetail](t, rec)
	assert.Equal(t, "COMPLETED", detail.Status)
	require.NotNil(t, detail.ReceiptNumber)
	assert.Equal(t, "ABC123", *detail.ReceiptNumber)
	require.Len(t, detail.Callbacks, 2)
	assert.Equal(t, 0, detail.Callbacks[0].ResultCode)
	assert.Contains(t, detail.Callbacks[0].Payload, "ABC123")

	payment, err := s.repo.FindPayment(context.Background(), initiated.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, payment.Status)
}

func TestCallbackEndpointNegativeAcknowledgements(t *testing.T) {
	s := newTestServer(t, httpd.RouteConfig{})

	bodies := map[string][]byte{
		"unknown transaction": successCallback("ws_CO_unknown"),
		"not json":            []byte("not json"),
		"no correlation id":   []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`),
	}
	for name, body := range bodies {
		rec := s.do(t, http.MethodPost, "/payments/callback", body, nil)
		require.Equal(t, http.StatusOK, rec.Code, name)
		assert.Equal(t, 1, decode[httpd.CallbackResp](t, rec).ResultCode, name)
	}

	n, err := s.repo.CountCallbackAudits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(bodies), n)
}

func TestCallbackEndpointRecoversPanics(t *testing.T) {
	repo, err := repository.NewSQLiteRepo(filepath.Join(t.TempDir(), "panic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	h := httpd.NewHandler(nil, panickingReconciler{}, repo, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewReader(successCallback("ws_CO_1")))
	rec := httptest.NewRecorder()
	h.Routes(httpd.RouteConfig{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[httpd.CallbackResp](t, rec).ResultCode)
}

func TestInitiateSignature(t *testing.T) {
	s := newTestServer(t, httpd.RouteConfig{Sig: httpd.SigConfig{Secret: "s3cret", MaxAgeSeconds: 300}})

	rec := s.do(t, http.MethodPost, "/payments/initiate", []byte(initiateBody), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	rec = s.do(t, http.MethodPost, "/payments/initiate", []byte(initiateBody), map[string]string{
		"X-Timestamp": ts,
		"X-Signature": "deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	rec = s.do(t, http.MethodPost, "/payments/initiate", []byte(initiateBody), map[string]string{
		"X-Timestamp": old,
		"X-Signature": httpd.Sign("s3cret", []byte(initiateBody), old),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/payments/initiate", []byte(initiateBody), map[string]string{
		"X-Timestamp": ts,
		"X-Signature": httpd.Sign("s3cret", []byte(initiateBody), ts),
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Callbacks come from the gateway and are never signed.
	rec = s.do(t, http.MethodPost, "/payments/callback", successCallback("ws_CO_1"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[httpd.CallbackResp](t, rec).ResultCode)
}

func TestListTransactionsEndpoint(t *testing.T) {
	s := newTestServer(t, httpd.RouteConfig{})
	first := decode[httpd.InitiateResp](t, s.do(t, http.MethodPost, "/payments/initiate", []byte(initiateBody), nil))
	other := strings.Replace(initiateBody, `"amount":500`, `"amount":750`, 1)
	decode[httpd.InitiateResp](t, s.do(t, http.MethodPost, "/payments/initiate", []byte(other), nil))
	s.do(t, http.MethodPost, "/payments/callback", successCallback(first.CorrelationID), nil)

	rec := s.do(t, http.MethodGet, "/payments/transactions?userId=u1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]httpd.TxItem](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/payments/transactions?status=COMPLETED", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]httpd.TxItem](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, first.TransactionID, items[0].ID)

	rec = s.do(t, http.MethodGet, "/payments/transactions?status=PAID", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/payments/transactions/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, httpd.RouteConfig{})

	rec := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.do(t, http.MethodPost, "/payments/callback", successCallback("ws_CO_unknown"), nil)
	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "premium_payments_callbacks_total")
	assert.Contains(t, rec.Body.String(), `route="/payments/callback"`)
}
