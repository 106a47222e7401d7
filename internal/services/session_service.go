package services

import (
	"club-system/internal/status"
	"club-system/models"
	"club-system/monitoring"
	"club-system/utils"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentGateway is the outbound contract to the hosted-checkout gateway.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req *status.SessionRequest) (*status.SessionInfo, error)
	CheckTransaction(ctx context.Context, transactionID string) (*status.CheckResult, error)
}

// PaymentStore is the slice of the persistence adapter the orchestrator
// needs. Writing "paid" for gateway payments happens only behind
// RecordSuccessfulPayment.
type PaymentStore interface {
	RecordSuccessfulPayment(ctx context.Context, memberID string, v *status.Validation, meta PaymentMeta) (*models.PaymentRecord, error)
	AttachReceipt(ctx context.Context, paymentID string, r *status.Receipt) error
	FindPayment(ctx context.Context, paymentID string) (*models.PaymentRecord, error)
}

// ReceiptGenerator produces a receipt document for a validated transaction.
type ReceiptGenerator interface {
	Generate(ctx context.Context, v *status.Validation, customer models.Customer, description string) (*status.Receipt, error)
}

// OpenRequest describes one logical payment attempt.
type OpenRequest struct {
	MemberID    string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Customer    models.Customer

	SuccessURL string
	CancelURL  string
}

type SessionConfig struct {
	PollInterval time.Duration
	PollTimeout  time.Duration

	// Retention is how long a terminal session stays resolvable in memory
	// before it is dropped from the registry.
	Retention time.Duration
}

// SessionService owns the payment session state machine. Each session is a
// single-writer machine: every transition happens under the session mutex,
// and the only suspension points are the awaited outbound calls and poll
// ticks.
type SessionService struct {
	gateway      PaymentGateway
	store        PaymentStore
	receipts     ReceiptGenerator
	notifier     StateNotifier
	sessionStore *SessionStore

	cb *utils.CircuitBreaker

	pollInterval time.Duration
	pollTimeout  time.Duration
	retention    time.Duration

	baseCtx context.Context

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionService(ctx context.Context, gateway PaymentGateway, store PaymentStore, receipts ReceiptGenerator, notifier StateNotifier, sessionStore *SessionStore, cfg SessionConfig) *SessionService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}

	return &SessionService{
		gateway:      gateway,
		store:        store,
		receipts:     receipts,
		notifier:     notifier,
		sessionStore: sessionStore,

		cb: utils.NewCircuitBreaker("payment-gateway"),

		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		retention:    cfg.Retention,

		baseCtx:  ctx,
		sessions: make(map[string]*Session),
	}
}

// Session is one in-flight payment attempt. Mutated only by the service.
type Session struct {
	svc *SessionService

	mu            sync.Mutex
	id            string
	req           OpenRequest
	state         models.SessionState
	starting      bool
	transactionID string
	paymentPage   string
	validation    *status.Validation
	record        *models.PaymentRecord
	receipt       *status.Receipt
	receiptErr    string
	failure       *models.Failure
	cancelPoll    context.CancelFunc
	listeners     []func(models.SessionSnapshot)
	createdAt     time.Time
}

func (s *Session) ID() string { return s.id }

func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers a state-change listener. Listeners are invoked after
// every transition with a consistent snapshot.
func (s *Session) Subscribe(fn func(models.SessionSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) snapshotLocked() models.SessionSnapshot {
	snap := models.SessionSnapshot{
		SessionID:     s.id,
		MemberID:      s.req.MemberID,
		Amount:        s.req.Amount,
		Currency:      s.req.Currency,
		State:         s.state,
		TransactionID: s.transactionID,
		PaymentPage:   s.paymentPage,
		ReceiptError:  s.receiptErr,
		Failure:       s.failure,
		CreatedAt:     s.createdAt,
	}
	if s.receipt != nil {
		snap.ReceiptURL = s.receipt.URL
	}
	if s.record != nil {
		snap.PaymentID = s.record.ID
	}
	return snap
}

// Open starts a new payment session: it asks the gateway to create a
// hosted-page session and begins polling for completion. The returned
// session is already past its first transition when Open returns.
func (svc *SessionService) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if req.MemberID == "" {
		return nil, errors.New("open session: member id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, errors.New("open session: amount must be positive")
	}
	if req.Currency == "" {
		return nil, errors.New("open session: currency is required")
	}

	code, err := utils.GenerateCode(8)
	if err != nil {
		return nil, fmt.Errorf("open session: generate id: %w", err)
	}

	s := &Session{
		svc:       svc,
		id:        fmt.Sprintf("ps_%s", strings.ToLower(code)),
		req:       req,
		state:     models.StateInitializing,
		createdAt: time.Now(),
	}

	svc.mu.Lock()
	svc.sessions[s.id] = s
	svc.mu.Unlock()

	monitoring.SessionOpened()

	if err := svc.start(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a live session by id.
func (svc *SessionService) Get(sessionID string) (*Session, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	s, ok := svc.sessions[sessionID]
	if !ok {
		return nil, status.ErrSessionNotFound
	}
	return s, nil
}

// Resolve returns a session snapshot, falling back to the redis correlation
// store for the page that resumes after the gateway redirect.
func (svc *SessionService) Resolve(ctx context.Context, sessionID string) (models.SessionSnapshot, error) {
	if s, err := svc.Get(sessionID); err == nil {
		return s.Snapshot(), nil
	}
	if svc.sessionStore == nil {
		return models.SessionSnapshot{}, status.ErrSessionNotFound
	}

	corr, err := svc.sessionStore.Find(ctx, sessionID)
	if err != nil {
		return models.SessionSnapshot{}, err
	}

	return models.SessionSnapshot{
		SessionID:     corr.SessionID,
		MemberID:      corr.MemberID,
		Amount:        corr.Amount,
		Currency:      corr.Currency,
		State:         corr.State,
		TransactionID: corr.TransactionID,
		CreatedAt:     corr.CreatedAt,
	}, nil
}

// Cancel stops polling and moves the session to canceled. It performs no
// persistence writes; cancellation between suspension points is the only
// effect it has.
func (svc *SessionService) Cancel(sessionID string) error {
	s, err := svc.Get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return status.ErrSessionTerminal
	}
	if s.cancelPoll != nil {
		s.cancelPoll()
		s.cancelPoll = nil
	}
	s.state = models.StateCanceled
	snap := s.snapshotLocked()
	s.mu.Unlock()

	svc.publish(s, snap)
	return nil
}

// Retry re-enters start with the same request parameters, producing a new
// gateway session. Allowed only from failed; a persistence failure means
// money already moved and must be finalized instead, never re-charged.
func (svc *SessionService) Retry(ctx context.Context, sessionID string) (*Session, error) {
	s, err := svc.Get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != models.StateFailed {
		s.mu.Unlock()
		return nil, errors.New("retry: allowed only from a failed session")
	}
	if s.failure != nil && s.failure.Kind == models.FailurePersistence {
		s.mu.Unlock()
		return nil, errors.New("retry: the charge already succeeded; finalize the session instead")
	}

	// Old gateway transaction id is discarded; the retry is a fresh attempt.
	s.transactionID = ""
	s.paymentPage = ""
	s.validation = nil
	s.record = nil
	s.receipt = nil
	s.receiptErr = ""
	s.failure = nil
	s.state = models.StateInitializing
	snap := s.snapshotLocked()
	s.mu.Unlock()

	monitoring.SessionReopened()
	svc.publish(s, snap)

	if err := svc.start(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Finalize re-runs the success-handling step after a persistence failure.
// Safe to call repeatedly: the record write is idempotent by transaction id.
func (svc *SessionService) Finalize(ctx context.Context, sessionID string) (models.SessionSnapshot, error) {
	s, err := svc.Get(sessionID)
	if err != nil {
		return models.SessionSnapshot{}, err
	}

	s.mu.Lock()
	allowed := s.state == models.StateFailed && s.failure != nil && s.failure.Kind == models.FailurePersistence
	if !allowed {
		s.mu.Unlock()
		return models.SessionSnapshot{}, errors.New("finalize: allowed only after a persistence failure")
	}
	s.failure = nil
	s.state = models.StateValidating
	snap := s.snapshotLocked()
	s.mu.Unlock()

	monitoring.SessionReopened()
	svc.publish(s, snap)

	svc.completeSuccess(ctx, s)
	return s.Snapshot(), nil
}

// RegenerateReceipt re-requests the receipt document for a paid gateway
// record whose receipt generation previously failed.
func (svc *SessionService) RegenerateReceipt(ctx context.Context, paymentID string) (*status.Receipt, error) {
	record, err := svc.store.FindPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.PaymentPaid {
		return nil, errors.New("receipt: receipts are issued for paid records only")
	}
	if record.TransactionID == "" {
		return nil, errors.New("receipt: record has no gateway transaction")
	}

	paidAt := record.CreatedAt
	if record.PaidAt != nil {
		paidAt = *record.PaidAt
	}
	v := &status.Validation{
		TransactionID: record.TransactionID,
		SettlementID:  record.SettlementID,
		Amount:        record.Amount,
		Currency:      record.Currency,
		CardMask:      record.CardMask,
		PaidAt:        paidAt,
	}

	receipt, err := svc.receipts.Generate(ctx, v, models.Customer{}, record.Description)
	monitoring.ReceiptGenerated(err)
	if err != nil {
		return nil, err
	}

	if err := svc.store.AttachReceipt(ctx, paymentID, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// start performs the initializing -> awaiting_completion transition. A
// second start on the same session while one is in flight is rejected so
// one logical attempt can never hold two gateway sessions.
func (svc *SessionService) start(ctx context.Context, s *Session) error {
	s.mu.Lock()
	if s.starting || s.state != models.StateInitializing {
		s.mu.Unlock()
		return status.ErrSessionActive
	}
	s.starting = true
	req := s.req
	s.mu.Unlock()

	gwReq := &status.SessionRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,

		CustomerName:  req.Customer.Name,
		CustomerEmail: req.Customer.Email,
		CustomerPhone: req.Customer.Phone,

		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	}

	began := time.Now()
	info, err := svc.createSession(ctx, gwReq)
	monitoring.ObserveGatewayRequest("create_session", began, err)

	s.mu.Lock()
	s.starting = false
	if s.state.Terminal() {
		// canceled while the create call was in flight
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		failure := classifyGatewayFailure(err)
		s.failure = failure
		s.state = models.StateFailed
		snap := s.snapshotLocked()
		s.mu.Unlock()
		svc.publish(s, snap)
		return nil
	}

	s.transactionID = info.TransactionID
	s.paymentPage = info.PaymentPage

	// only one active polling cycle per session
	if s.cancelPoll != nil {
		s.cancelPoll()
	}
	pollCtx, cancel := context.WithCancel(svc.baseCtx)
	s.cancelPoll = cancel

	s.state = models.StateAwaiting
	snap := s.snapshotLocked()
	s.mu.Unlock()

	svc.saveCorrelation(ctx, snap)
	svc.publish(s, snap)

	go svc.runPoll(pollCtx, s, info.TransactionID)
	return nil
}

func (svc *SessionService) runPoll(ctx context.Context, s *Session, transactionID string) {
	poller := NewPoller(svc, svc.pollInterval, svc.pollTimeout)
	result, err := poller.Poll(ctx, transactionID)

	if ctx.Err() != nil {
		// canceled: Cancel already transitioned the session
		return
	}

	switch {
	case errors.Is(err, status.ErrPollTimeout):
		svc.fail(s, &models.Failure{
			Kind:      models.FailureTimeout,
			Message:   "no confirmation received from the payment gateway",
			Retryable: true,
		})

	case err != nil:
		svc.fail(s, classifyGatewayFailure(err))

	case result.State == status.TxFailed || result.State == status.TxCanceled:
		message := result.Reason
		if message == "" {
			message = fmt.Sprintf("the gateway reported the transaction as %s", result.State)
		}
		svc.fail(s, &models.Failure{Kind: models.FailureGateway, Message: message, Retryable: true})

	case result.State == status.TxPaid:
		if !svc.transition(s, models.StateAwaiting, models.StateValidating) {
			return
		}
		svc.completeSuccess(ctx, s)
	}
}

// completeSuccess runs validation -> persistence -> receipt, in that order.
// Validation always happens before persistence, persistence always before
// receipt generation. The session must already be in validating state.
func (svc *SessionService) completeSuccess(ctx context.Context, s *Session) {
	s.mu.Lock()
	req := s.req
	transactionID := s.transactionID
	s.mu.Unlock()

	began := time.Now()
	result, err := svc.CheckTransaction(ctx, transactionID)
	monitoring.ObserveGatewayRequest("validate_transaction", began, err)

	if err != nil {
		svc.fail(s, classifyGatewayFailure(err))
		return
	}
	if result.State != status.TxPaid {
		svc.fail(s, &models.Failure{
			Kind:      models.FailureGateway,
			Message:   "the gateway did not confirm the transaction as paid",
			Retryable: true,
		})
		return
	}

	v := result.Validation
	if !status.AmountsMatch(req.Amount, v.Amount) || !strings.EqualFold(req.Currency, v.Currency) {
		svc.fail(s, &models.Failure{
			Kind: models.FailureMismatch,
			Message: fmt.Sprintf("gateway confirmed %s %s but %s %s was requested",
				v.Amount.StringFixed(2), v.Currency, req.Amount.StringFixed(2), req.Currency),
			Retryable: false,
		})
		return
	}

	s.mu.Lock()
	if s.state.Terminal() {
		// canceled while validating: stop before any persistence write
		s.mu.Unlock()
		return
	}
	s.validation = v
	s.mu.Unlock()

	record, err := svc.store.RecordSuccessfulPayment(ctx, req.MemberID, v, PaymentMeta{
		Description: req.Description,
		ReferenceID: s.id,
	})
	if err != nil {
		slog.Error("payment captured but record write failed",
			"session_id", s.id, "transaction_id", v.TransactionID, "error", err)
		svc.fail(s, &models.Failure{
			Kind:      models.FailurePersistence,
			Message:   "the charge succeeded but recording it failed; finalize the session again",
			Retryable: false,
		})
		return
	}

	s.mu.Lock()
	s.record = record
	s.mu.Unlock()

	// Receipt failures never demote a completed payment; they are reported
	// separately and retried via RegenerateReceipt.
	receipt, rerr := svc.receipts.Generate(ctx, v, req.Customer, req.Description)
	monitoring.ReceiptGenerated(rerr)
	if rerr != nil {
		slog.Warn("receipt generation failed", "session_id", s.id, "payment_id", record.ID, "error", rerr)
		s.mu.Lock()
		s.receiptErr = rerr.Error()
		s.mu.Unlock()
	} else {
		s.mu.Lock()
		s.receipt = receipt
		s.mu.Unlock()
		if err := svc.store.AttachReceipt(ctx, record.ID, receipt); err != nil {
			slog.Warn("attach receipt failed", "payment_id", record.ID, "error", err)
		}
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = models.StateCompleted
	snap := s.snapshotLocked()
	s.mu.Unlock()

	svc.publish(s, snap)
}

func (svc *SessionService) fail(s *Session, failure *models.Failure) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.failure = failure
	s.state = models.StateFailed
	snap := s.snapshotLocked()
	s.mu.Unlock()

	svc.publish(s, snap)
}

// transition moves from -> to if the session is still in from.
func (svc *SessionService) transition(s *Session, from, to models.SessionState) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.state = to
	snap := s.snapshotLocked()
	s.mu.Unlock()

	svc.publish(s, snap)
	return true
}

// publish delivers a snapshot to listeners and the realtime notifier,
// mirrors the state into the correlation store, and updates metrics.
func (svc *SessionService) publish(s *Session, snap models.SessionSnapshot) {
	s.mu.Lock()
	listeners := make([]func(models.SessionSnapshot), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}

	svc.notifier.NotifyStateChange(context.Background(), snap)

	if svc.sessionStore != nil && snap.TransactionID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		switch snap.State {
		case models.StateCompleted, models.StateCanceled:
			if err := svc.sessionStore.Delete(ctx, snap.SessionID); err != nil {
				slog.Debug("drop session correlation", "session_id", snap.SessionID, "error", err)
			}
		default:
			if err := svc.sessionStore.UpdateState(ctx, snap.SessionID, snap.State); err != nil {
				slog.Debug("update session correlation", "session_id", snap.SessionID, "error", err)
			}
		}
	}

	if snap.State.Terminal() {
		monitoring.SessionResolved(string(snap.State))
		time.AfterFunc(svc.retention, func() {
			svc.mu.Lock()
			if cur, ok := svc.sessions[snap.SessionID]; ok && cur.Snapshot().State.Terminal() {
				delete(svc.sessions, snap.SessionID)
			}
			svc.mu.Unlock()
		})
	}
}

func (svc *SessionService) saveCorrelation(ctx context.Context, snap models.SessionSnapshot) {
	if svc.sessionStore == nil {
		return
	}
	err := svc.sessionStore.Save(ctx, &SessionCorrelation{
		SessionID:     snap.SessionID,
		MemberID:      snap.MemberID,
		TransactionID: snap.TransactionID,
		Amount:        snap.Amount,
		Currency:      snap.Currency,
		State:         snap.State,
		CreatedAt:     snap.CreatedAt,
	})
	if err != nil {
		slog.Warn("save session correlation", "session_id", snap.SessionID, "error", err)
	}
}

// createSession routes the gateway call through the circuit breaker so a
// flapping gateway cannot stall every open attempt.
func (svc *SessionService) createSession(ctx context.Context, req *status.SessionRequest) (*status.SessionInfo, error) {
	v, err := svc.cb.Execute(ctx, func() (interface{}, error) {
		return svc.gateway.CreateSession(ctx, req)
	})
	if err != nil {
		if _, ok := status.AsGatewayError(err); !ok {
			return nil, &status.GatewayError{Kind: status.GatewayTransient, Message: err.Error()}
		}
		return nil, err
	}
	return v.(*status.SessionInfo), nil
}

// CheckTransaction satisfies TransactionChecker for the poller, routing
// probes through the circuit breaker.
func (svc *SessionService) CheckTransaction(ctx context.Context, transactionID string) (*status.CheckResult, error) {
	v, err := svc.cb.Execute(ctx, func() (interface{}, error) {
		return svc.gateway.CheckTransaction(ctx, transactionID)
	})
	if err != nil {
		if _, ok := status.AsGatewayError(err); !ok {
			return nil, &status.GatewayError{Kind: status.GatewayTransient, Message: err.Error()}
		}
		return nil, err
	}
	return v.(*status.CheckResult), nil
}

func classifyGatewayFailure(err error) *models.Failure {
	if ge, ok := status.AsGatewayError(err); ok {
		switch ge.Kind {
		case status.GatewayPermissionDenied:
			return &models.Failure{
				Kind:      models.FailureConfiguration,
				Message:   "the payment terminal is not enabled for this operation; contact support",
				Retryable: false,
			}
		case status.GatewayValidationMismatch:
			return &models.Failure{
				Kind:      models.FailureMismatch,
				Message:   ge.Message,
				Retryable: false,
			}
		default:
			return &models.Failure{
				Kind:      models.FailureGateway,
				Message:   fmt.Sprintf("the payment could not be processed: %s", ge.Message),
				Retryable: true,
			}
		}
	}
	return &models.Failure{
		Kind:      models.FailureGateway,
		Message:   err.Error(),
		Retryable: true,
	}
}
