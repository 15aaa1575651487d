package httpd

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/callback"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"
	apperrors "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/errors"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/repository"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/usecase"

	// External Packages
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Gateway callbacks are small; anything bigger is truncated before parsing.
const maxCallbackBytes = 1 << 20

type Initiator interface {
	Initiate(ctx context.Context, in usecase.InitiateInput) (*usecase.InitiateOutput, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, cb *domain.Callback) (*usecase.ReconcileResult, error)
}

// Reader serves the read-only endpoints.
type Reader interface {
	Ping(ctx context.Context) error
	FindByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, f repository.TxFilter, limit, offset int) ([]domain.Transaction, error)
	ListCallbackAudits(ctx context.Context, correlationID string) ([]domain.CallbackAudit, error)
}

type Handler struct {
	initiator  Initiator
	reconciler Reconciler
	repo       Reader
	validate   *validator.Validate
	logger     *zap.Logger
}

func NewHandler(initiator Initiator, reconciler Reconciler, repo Reader, logger *zap.Logger) *Handler {
	return &Handler{
		initiator:  initiator,
		reconciler: reconciler,
		repo:       repo,
		validate:   validator.New(),
		logger:     logger,
	}
}

type RouteConfig struct {
	AllowedOrigins []string
	Sig            SigConfig
}

func (h *Handler) Routes(cfg RouteConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Timestamp", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/payments", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.Sig.Secret != "" {
				r.Use(SignatureMiddleware(cfg.Sig))
			}
			r.Post("/initiate", h.Initiate)
		})
		r.Post("/callback", h.PaymentCallback)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{id}", h.GetTransaction)
	})
	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResp{Success: false, Message: msg})
}

func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.Invalid:
		return http.StatusBadRequest
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.Conflict:
		return http.StatusConflict
	case apperrors.Gateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// POST /payments/initiate
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.initiator.Initiate(r.Context(), usecase.InitiateInput{
		Phone:    req.Phone,
		Amount:   req.Amount,
		UserID:   req.UserID,
		CoverID:  req.CoverID,
		PlanTier: req.PlanTier,
	})
	if err != nil {
		h.initiateError(w, err)
		return
	}

	tx := out.Transaction
	resp := InitiateResp{
		Success:       true,
		CorrelationID: *tx.CorrelationID,
		TransactionID: tx.ID,
		Reused:        out.Reused,
	}
	if tx.MerchantRequestID != nil {
		resp.MerchantRequestID = *tx.MerchantRequestID
	}
	if tx.PaymentID != nil {
		resp.PaymentID = *tx.PaymentID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) initiateError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	resp := ErrorResp{Success: false, Message: err.Error()}

	var gwErr *apperrors.GatewayError
	switch {
	case errors.As(err, &gwErr):
		resp.Message = "payment gateway rejected the request"
		resp.Error = string(gwErr.Body)
		if resp.Error == "" {
			resp.Error = gwErr.Error()
		}
	case code == http.StatusInternalServerError:
		h.logger.Error("payment initiation failed", zap.Error(err))
		resp.Message = "payment initiation failed"
	}
	writeJSON(w, code, resp)
}

// POST /payments/callback
//
// The gateway only reads resultCode, so every outcome is a 200.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("callback handler panicked", zap.Any("panic", rec), zap.Stack("stack"))
			callbacksTotal.WithLabelValues("panic").Inc()
			writeJSON(w, http.StatusOK, CallbackResp{ResultCode: 1, ResultDescription: "internal error"})
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		h.logger.Warn("callback body read failed", zap.Error(err))
	}

	cb, shape, err := callback.Normalize(body)
	if err != nil {
		h.logger.Warn("unparseable callback payload", zap.ByteString("payload", body), zap.Error(err))
		cb = &domain.Callback{ResultCode: domain.ResultCodeUnknown, Raw: body}
	} else {
		h.logger.Debug("callback received", zap.Stringer("shape", shape))
	}

	// The gateway may hang up early; the audit and transition still complete.
	res, err := h.reconciler.Reconcile(context.WithoutCancel(r.Context()), cb)
	switch {
	case err != nil:
		outcome := "error"
		switch apperrors.KindOf(err) {
		case apperrors.NotFound:
			outcome = "unknown"
		case apperrors.Invalid:
			outcome = "invalid"
		}
		h.logger.Warn("callback not reconciled", zap.String("outcome", outcome), zap.Error(err))
		callbacksTotal.WithLabelValues(outcome).Inc()
		writeJSON(w, http.StatusOK, CallbackResp{ResultCode: 1, ResultDescription: err.Error()})
	case res.PaymentErr != nil:
		callbacksTotal.WithLabelValues("payment_error").Inc()
		writeJSON(w, http.StatusOK, CallbackResp{ResultCode: 0, ResultDescription: "Accepted"})
	default:
		callbacksTotal.WithLabelValues(string(res.Outcome)).Inc()
		writeJSON(w, http.StatusOK, CallbackResp{ResultCode: 0, ResultDescription: "Accepted"})
	}
}

// GET /payments/transactions?userId=&correlationId=&paymentId=&status=&limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TxFilter{
		UserID:        q.Get("userId"),
		CorrelationID: q.Get("correlationId"),
		PaymentID:     q.Get("paymentId"),
	}
	if st := q.Get("status"); st != "" {
		filter.Status = domain.TxStatus(st)
		if !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	limit := 50
	offset := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	items, err := h.repo.ListTransactions(r.Context(), filter, limit, offset)
	if err != nil {
		h.logger.Error("list transactions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cannot list transactions")
		return
	}

	out := make([]TxItem, 0, len(items))
	for _, t := range items {
		out = append(out, toTxItem(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /payments/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.repo.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		code := statusFor(err)
		if code == http.StatusNotFound {
			writeError(w, code, "transaction not found")
			return
		}
		h.logger.Error("get transaction failed", zap.Error(err))
		writeError(w, code, "cannot load transaction")
		return
	}

	detail := TxDetail{TxItem: toTxItem(*t), Callbacks: []AuditItem{}}
	if t.CorrelationID != nil {
		audits, err := h.repo.ListCallbackAudits(r.Context(), *t.CorrelationID)
		if err != nil {
			h.logger.Error("list callback audits failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "cannot load callbacks")
			return
		}
		for _, a := range audits {
			detail.Callbacks = append(detail.Callbacks, AuditItem{
				ID:                a.ID,
				ResultCode:        a.ResultCode,
				ResultDescription: a.ResultDescription,
				Payload:           string(a.Payload),
				ReceivedAt:        a.ReceivedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func toTxItem(t domain.Transaction) TxItem {
	return TxItem{
		ID:                t.ID,
		CorrelationID:     t.CorrelationID,
		MerchantRequestID: t.MerchantRequestID,
		UserID:            t.UserID,
		CoverID:           t.CoverID,
		PlanTier:          t.PlanTier,
		Phone:             t.Phone,
		Amount:            t.Amount.String(),
		Status:            string(t.Status),
		PaymentID:         t.PaymentID,
		ReceiptNumber:     t.ReceiptNumber,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		CompletedAt:       t.CompletedAt,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
