package services

import (
	"club-system/internal/status"
	"club-system/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

// PaymentMeta carries session-side metadata attached to a payment record.
type PaymentMeta struct {
	Description string
	ReferenceID string
}

// ManualPaymentInput describes a payment collected outside the gateway
// (cash, check, bank transfer, standing order). There is no validation
// authority for these methods, so the operator's declared status is stored
// as-is.
type ManualPaymentInput struct {
	MemberID    string
	Amount      decimal.Decimal
	Currency    string
	Method      models.PaymentMethod
	Status      models.PaymentStatus
	Description string
	Note        string
	PaidAt      *time.Time
}

// ListFilter narrows a member payment listing.
type ListFilter struct {
	Status models.PaymentStatus
	From   time.Time
	To     time.Time
}

// StoreService is the persistence adapter for payment records. It is the
// only place allowed to write status "paid" for gateway payments.
type StoreService struct {
	app core.App
}

func NewStoreService(app core.App) *StoreService {
	return &StoreService{app: app}
}

// RecordSuccessfulPayment creates a paid record for a validated gateway
// transaction. Idempotent by transaction id: if a record for the same
// gateway transaction already exists it is returned unchanged, so running
// the success handler twice cannot duplicate bookkeeping.
func (s *StoreService) RecordSuccessfulPayment(ctx context.Context, memberID string, v *status.Validation, meta PaymentMeta) (*models.PaymentRecord, error) {
	existing, err := s.app.FindFirstRecordByFilter(
		"payments",
		"transaction_id = {:tx}",
		dbx.Params{"tx": v.TransactionID},
	)
	if err == nil {
		return recordToModel(existing), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, &status.PersistenceError{Op: "lookup by transaction id", Err: err}
	}

	collection, err := s.app.FindCollectionByNameOrId("payments")
	if err != nil {
		return nil, &status.PersistenceError{Op: "find payments collection", Err: err}
	}

	rec := core.NewRecord(collection)
	rec.Set("member", memberID)
	rec.Set("amount", v.Amount.StringFixed(2))
	rec.Set("currency", v.Currency)
	rec.Set("method", string(models.MethodGatewayCard))
	rec.Set("status", string(models.PaymentPaid))
	rec.Set("transaction_id", v.TransactionID)
	rec.Set("reference_id", meta.ReferenceID)
	rec.Set("settlement_id", v.SettlementID)
	rec.Set("card_mask", v.CardMask)
	rec.Set("description", meta.Description)
	rec.Set("paid_at", v.PaidAt)

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return nil, &status.PersistenceError{Op: "create paid record", Err: err}
	}

	return recordToModel(rec), nil
}

// RecordManualPayment writes a record for a non-gateway payment method.
// Gateway methods are rejected here: their records may only be created by
// RecordSuccessfulPayment after independent validation.
func (s *StoreService) RecordManualPayment(ctx context.Context, in ManualPaymentInput) (*models.PaymentRecord, error) {
	if in.Method.Gateway() {
		return nil, &status.PersistenceError{Op: "record manual payment", Err: errors.New("gateway methods require a validated transaction")}
	}
	if in.Status != models.PaymentPending && in.Status != models.PaymentPaid {
		return nil, &status.PersistenceError{Op: "record manual payment", Err: fmt.Errorf("status %q not allowed for manual payments", in.Status)}
	}

	collection, err := s.app.FindCollectionByNameOrId("payments")
	if err != nil {
		return nil, &status.PersistenceError{Op: "find payments collection", Err: err}
	}

	rec := core.NewRecord(collection)
	rec.Set("member", in.MemberID)
	rec.Set("amount", in.Amount.StringFixed(2))
	rec.Set("currency", in.Currency)
	rec.Set("method", string(in.Method))
	rec.Set("status", string(in.Status))
	rec.Set("description", in.Description)
	rec.Set("note", in.Note)
	if in.PaidAt != nil {
		rec.Set("paid_at", *in.PaidAt)
	}

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return nil, &status.PersistenceError{Op: "create manual record", Err: err}
	}

	return recordToModel(rec), nil
}

// AttachReceipt stores the generated receipt reference on the record.
func (s *StoreService) AttachReceipt(ctx context.Context, paymentID string, r *status.Receipt) error {
	rec, err := s.app.FindRecordById("payments", paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return status.ErrPaymentNotFound
		}
		return &status.PersistenceError{Op: "find payment", Err: err}
	}

	rec.Set("receipt_url", r.URL)
	rec.Set("receipt_number", r.DocumentNumber)

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return &status.PersistenceError{Op: "attach receipt", Err: err}
	}

	return nil
}

// UpdateStatus moves a record to a new status. It refuses to move a gateway
// record into "paid"; that transition belongs to RecordSuccessfulPayment.
func (s *StoreService) UpdateStatus(ctx context.Context, paymentID string, st models.PaymentStatus, note string) error {
	rec, err := s.app.FindRecordById("payments", paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return status.ErrPaymentNotFound
		}
		return &status.PersistenceError{Op: "find payment", Err: err}
	}

	method := models.PaymentMethod(rec.GetString("method"))
	if st == models.PaymentPaid && method.Gateway() {
		return &status.PersistenceError{Op: "update status", Err: errors.New("gateway records become paid only through validation")}
	}

	rec.Set("status", string(st))
	if note != "" {
		rec.Set("note", note)
	}

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return &status.PersistenceError{Op: "update status", Err: err}
	}

	return nil
}

func (s *StoreService) FindPayment(ctx context.Context, paymentID string) (*models.PaymentRecord, error) {
	rec, err := s.app.FindRecordById("payments", paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrPaymentNotFound
		}
		return nil, &status.PersistenceError{Op: "find payment", Err: err}
	}
	return recordToModel(rec), nil
}

// ListMemberPayments returns a member's payment records, newest first.
func (s *StoreService) ListMemberPayments(ctx context.Context, memberID string, filter ListFilter) ([]models.PaymentRecord, error) {
	expr := "member = {:member}"
	params := dbx.Params{"member": memberID}

	if filter.Status != "" {
		expr += " && status = {:status}"
		params["status"] = string(filter.Status)
	}
	if !filter.From.IsZero() {
		expr += " && created >= {:from}"
		params["from"] = filter.From.UTC().Format(types.DefaultDateLayout)
	}
	if !filter.To.IsZero() {
		expr += " && created <= {:to}"
		params["to"] = filter.To.UTC().Format(types.DefaultDateLayout)
	}

	recs, err := s.app.FindRecordsByFilter("payments", expr, "-created", 0, 0, params)
	if err != nil {
		return nil, &status.PersistenceError{Op: "list member payments", Err: err}
	}

	records := make([]models.PaymentRecord, 0, len(recs))
	for _, rec := range recs {
		records = append(records, *recordToModel(rec))
	}

	return records, nil
}

func recordToModel(rec *core.Record) *models.PaymentRecord {
	amount, _ := decimal.NewFromString(rec.GetString("amount"))

	m := &models.PaymentRecord{
		ID:            rec.Id,
		MemberID:      rec.GetString("member"),
		Amount:        amount,
		Currency:      rec.GetString("currency"),
		Method:        models.PaymentMethod(rec.GetString("method")),
		Status:        models.PaymentStatus(rec.GetString("status")),
		TransactionID: rec.GetString("transaction_id"),
		ReferenceID:   rec.GetString("reference_id"),
		SettlementID:  rec.GetString("settlement_id"),
		CardMask:      rec.GetString("card_mask"),
		ReceiptURL:    rec.GetString("receipt_url"),
		ReceiptNumber: rec.GetString("receipt_number"),
		Description:   rec.GetString("description"),
		Note:          rec.GetString("note"),
		CreatedAt:     rec.GetDateTime("created").Time(),
		UpdatedAt:     rec.GetDateTime("updated").Time(),
	}

	if paidAt := rec.GetDateTime("paid_at"); !paidAt.IsZero() {
		t := paidAt.Time()
		m.PaidAt = &t
	}

	return m
}
