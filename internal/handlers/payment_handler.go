package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"club-system/internal/services"
	"club-system/internal/status"
	"club-system/models"
	"club-system/security"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	app           *pocketbase.PocketBase
	sessions      *services.SessionService
	store         *services.StoreService
	limiter       *security.RateLimiter
	operator      *security.OperatorGuard
	publicBaseURL string
}

func NewPaymentHandler(app *pocketbase.PocketBase, sessions *services.SessionService, store *services.StoreService, limiter *security.RateLimiter, operator *security.OperatorGuard, publicBaseURL string) *PaymentHandler {
	return &PaymentHandler{
		app:           app,
		sessions:      sessions,
		store:         store,
		limiter:       limiter,
		operator:      operator,
		publicBaseURL: publicBaseURL,
	}
}

// OpenSession - Open a hosted-page payment session for the signed-in member
func (h *PaymentHandler) OpenSession(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		Currency    string          `json:"currency"`
		Description string          `json:"description"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	ctx := e.Request.Context()

	if h.limiter != nil {
		if err := h.limiter.Allow(ctx, e.Auth.Id); err != nil {
			return e.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many payment attempts. Please try again later.",
			})
		}
	}

	session, err := h.sessions.Open(ctx, services.OpenRequest{
		MemberID:    e.Auth.Id,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Customer: models.Customer{
			Name:  e.Auth.GetString("name"),
			Email: e.Auth.Email(),
			Phone: e.Auth.GetString("phone"),
		},
		SuccessURL: h.returnURL(),
		CancelURL:  h.returnURL(),
	})
	if err != nil {
		return apis.NewBadRequestError(err.Error(), nil)
	}

	return e.JSON(http.StatusOK, session.Snapshot())
}

// GetSession - Current session snapshot, falling back to the correlation
// store for sessions resumed after the gateway redirect
func (h *PaymentHandler) GetSession(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	snap, err := h.sessions.Resolve(e.Request.Context(), e.Request.PathValue("sessionId"))
	if err != nil {
		return apis.NewNotFoundError("Session not found", nil)
	}
	if snap.MemberID != e.Auth.Id && !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Access denied", nil)
	}

	return e.JSON(http.StatusOK, snap)
}

// CancelSession - Stop polling and mark the session canceled
func (h *PaymentHandler) CancelSession(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	session, err := h.authorizedSession(e)
	if err != nil {
		return err
	}

	if err := h.sessions.Cancel(session.ID()); err != nil {
		if errors.Is(err, status.ErrSessionTerminal) {
			return apis.NewBadRequestError("Session already resolved", nil)
		}
		return apis.NewNotFoundError("Session not found", nil)
	}

	return e.JSON(http.StatusOK, session.Snapshot())
}

// RetrySession - Re-run a failed session as a fresh gateway attempt
func (h *PaymentHandler) RetrySession(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	session, err := h.authorizedSession(e)
	if err != nil {
		return err
	}

	retried, err := h.sessions.Retry(e.Request.Context(), session.ID())
	if err != nil {
		return apis.NewBadRequestError(err.Error(), nil)
	}

	return e.JSON(http.StatusOK, retried.Snapshot())
}

// FinalizeSession - Redo the record write after a persistence failure
func (h *PaymentHandler) FinalizeSession(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	session, err := h.authorizedSession(e)
	if err != nil {
		return err
	}

	snap, err := h.sessions.Finalize(e.Request.Context(), session.ID())
	if err != nil {
		return apis.NewBadRequestError(err.Error(), nil)
	}

	return e.JSON(http.StatusOK, snap)
}

// HandleReturn - Landing endpoint for the gateway redirect back to us
func (h *PaymentHandler) HandleReturn(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	sessionID := e.Request.URL.Query().Get("session_id")
	if sessionID == "" {
		return apis.NewBadRequestError("Missing session_id", nil)
	}

	snap, err := h.sessions.Resolve(e.Request.Context(), sessionID)
	if err != nil {
		return apis.NewNotFoundError("Session not found", nil)
	}
	if snap.MemberID != e.Auth.Id && !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Access denied", nil)
	}

	return e.JSON(http.StatusOK, snap)
}

// RecordManualPayment - Front-desk entry for cash, check, bank transfer or
// standing order payments. Requires the operator key; this path never
// touches the gateway.
func (h *PaymentHandler) RecordManualPayment(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	if err := h.operator.Verify(e.Request.Header.Get("X-Operator-Key")); err != nil {
		return apis.NewForbiddenError("Invalid operator key", nil)
	}

	var req struct {
		MemberID    string          `json:"member_id"`
		Amount      decimal.Decimal `json:"amount"`
		Currency    string          `json:"currency"`
		Method      string          `json:"method"`
		Status      string          `json:"status"`
		Description string          `json:"description"`
		Note        string          `json:"note"`
		PaidAt      *time.Time      `json:"paid_at"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	record, err := h.store.RecordManualPayment(e.Request.Context(), services.ManualPaymentInput{
		MemberID:    req.MemberID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      models.PaymentMethod(req.Method),
		Status:      models.PaymentStatus(req.Status),
		Description: req.Description,
		Note:        req.Note,
		PaidAt:      req.PaidAt,
	})
	if err != nil {
		return apis.NewBadRequestError(err.Error(), nil)
	}

	slog.Info("manual payment recorded",
		"payment_id", record.ID, "member_id", record.MemberID, "method", record.Method, "operator", e.Auth.Id)

	return e.JSON(http.StatusOK, record)
}

// RegenerateReceipt - Re-request the receipt document for a paid record
func (h *PaymentHandler) RegenerateReceipt(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	paymentID := e.Request.PathValue("paymentId")
	ctx := e.Request.Context()

	record, err := h.store.FindPayment(ctx, paymentID)
	if err != nil {
		return apis.NewNotFoundError("Payment not found", nil)
	}
	if record.MemberID != e.Auth.Id && !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Access denied", nil)
	}

	receipt, err := h.sessions.RegenerateReceipt(ctx, paymentID)
	if err != nil {
		return apis.NewBadRequestError(err.Error(), nil)
	}

	return e.JSON(http.StatusOK, receipt)
}

// ListMemberPayments - Payment history for a member
func (h *PaymentHandler) ListMemberPayments(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	memberID := e.Request.PathValue("memberId")
	if memberID != e.Auth.Id && !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Access denied", nil)
	}

	query := e.Request.URL.Query()
	filter := services.ListFilter{
		Status: models.PaymentStatus(query.Get("status")),
	}
	if raw := query.Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.From = t
		}
	}
	if raw := query.Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.To = t
		}
	}

	records, err := h.store.ListMemberPayments(e.Request.Context(), memberID, filter)
	if err != nil {
		return apis.NewBadRequestError("Failed to list payments", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"member_id": memberID,
		"payments":  records,
	})
}

// authorizedSession resolves the path session and checks ownership.
func (h *PaymentHandler) authorizedSession(e *core.RequestEvent) (*services.Session, error) {
	session, err := h.sessions.Get(e.Request.PathValue("sessionId"))
	if err != nil {
		return nil, apis.NewNotFoundError("Session not found", nil)
	}
	if snap := session.Snapshot(); snap.MemberID != e.Auth.Id && !e.HasSuperuserAuth() {
		return nil, apis.NewForbiddenError("Access denied", nil)
	}
	return session, nil
}

func (h *PaymentHandler) returnURL() string {
	return h.publicBaseURL + "/api/v1/payments/return"
}
