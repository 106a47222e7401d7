package services

import (
	"context"
	"testing"
	"time"

	"club-system/internal/status"
	"club-system/models"

	_ "club-system/migrations"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreTestApp(t *testing.T) (*tests.TestApp, *StoreService) {
	t.Helper()

	app, err := tests.NewTestApp(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)

	return app, NewStoreService(app)
}

func createTestMember(t *testing.T, app *tests.TestApp, email string) string {
	t.Helper()

	col, err := app.FindCollectionByNameOrId("users")
	require.NoError(t, err)

	rec := core.NewRecord(col)
	rec.Set("email", email)
	rec.Set("password", "member-pass-123")
	require.NoError(t, app.Save(rec))

	return rec.Id
}

func paidValidation(tx, amount string) *status.Validation {
	return &status.Validation{
		TransactionID: tx,
		SettlementID:  "stl_" + tx,
		Amount:        decimal.RequireFromString(amount),
		Currency:      "ILS",
		CardMask:      "4580********1234",
		PaidAt:        time.Now().UTC(),
	}
}

func TestRecordSuccessfulPayment_IdempotentByTransactionID(t *testing.T) {
	app, store := newStoreTestApp(t)
	member := createTestMember(t, app, "idem@club.test")

	v := paidValidation("tx_idem_001", "150.00")
	meta := PaymentMeta{Description: "monthly membership", ReferenceID: "ps_idem"}

	first, err := store.RecordSuccessfulPayment(context.Background(), member, v, meta)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, first.Status)
	assert.Equal(t, models.MethodGatewayCard, first.Method)
	assert.Equal(t, member, first.MemberID)
	assert.Equal(t, "150.00", first.Amount.StringFixed(2))

	second, err := store.RecordSuccessfulPayment(context.Background(), member, v, meta)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	recs, err := app.FindRecordsByFilter(
		"payments",
		"transaction_id = {:tx}",
		"", 0, 0,
		dbx.Params{"tx": v.TransactionID},
	)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRecordManualPayment(t *testing.T) {
	app, store := newStoreTestApp(t)
	member := createTestMember(t, app, "manual@club.test")

	rec, err := store.RecordManualPayment(context.Background(), ManualPaymentInput{
		MemberID:    member,
		Amount:      decimal.RequireFromString("80.50"),
		Currency:    "ILS",
		Method:      models.MethodCash,
		Status:      models.PaymentPaid,
		Description: "day pass",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MethodCash, rec.Method)
	assert.Equal(t, models.PaymentPaid, rec.Status)
	assert.Empty(t, rec.TransactionID)

	_, err = store.RecordManualPayment(context.Background(), ManualPaymentInput{
		MemberID: member,
		Amount:   decimal.RequireFromString("80.50"),
		Currency: "ILS",
		Method:   models.MethodGatewayCard,
		Status:   models.PaymentPaid,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validated transaction")

	_, err = store.RecordManualPayment(context.Background(), ManualPaymentInput{
		MemberID: member,
		Amount:   decimal.RequireFromString("80.50"),
		Currency: "ILS",
		Method:   models.MethodCheck,
		Status:   models.PaymentFailed,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed for manual payments")
}

func TestUpdateStatus_RefusesGatewayPaid(t *testing.T) {
	app, store := newStoreTestApp(t)
	member := createTestMember(t, app, "status@club.test")

	gateway, err := store.RecordSuccessfulPayment(
		context.Background(), member,
		paidValidation("tx_status_001", "99.00"),
		PaymentMeta{},
	)
	require.NoError(t, err)

	err = store.UpdateStatus(context.Background(), gateway.ID, models.PaymentPaid, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only through validation")

	manual, err := store.RecordManualPayment(context.Background(), ManualPaymentInput{
		MemberID: member,
		Amount:   decimal.RequireFromString("40.00"),
		Currency: "ILS",
		Method:   models.MethodBankTransfer,
		Status:   models.PaymentPending,
	})
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(context.Background(), manual.ID, models.PaymentPaid, "transfer confirmed"))

	updated, err := store.FindPayment(context.Background(), manual.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, updated.Status)
	assert.Equal(t, "transfer confirmed", updated.Note)

	err = store.UpdateStatus(context.Background(), "missing_id_000", models.PaymentFailed, "")
	assert.ErrorIs(t, err, status.ErrPaymentNotFound)
}

func TestAttachReceipt(t *testing.T) {
	app, store := newStoreTestApp(t)
	member := createTestMember(t, app, "receipt@club.test")

	rec, err := store.RecordSuccessfulPayment(
		context.Background(), member,
		paidValidation("tx_receipt_001", "150.00"),
		PaymentMeta{},
	)
	require.NoError(t, err)

	receipt := &status.Receipt{
		DocumentID:     "doc_001",
		DocumentNumber: "R-2026-0001",
		URL:            "https://docs.example.com/r/doc_001",
	}
	require.NoError(t, store.AttachReceipt(context.Background(), rec.ID, receipt))

	found, err := store.FindPayment(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.URL, found.ReceiptURL)
	assert.Equal(t, receipt.DocumentNumber, found.ReceiptNumber)

	err = store.AttachReceipt(context.Background(), "missing_id_000", receipt)
	assert.ErrorIs(t, err, status.ErrPaymentNotFound)
}

func TestListMemberPayments_Filters(t *testing.T) {
	app, store := newStoreTestApp(t)
	alice := createTestMember(t, app, "alice@club.test")
	bob := createTestMember(t, app, "bob@club.test")

	_, err := store.RecordSuccessfulPayment(
		context.Background(), alice,
		paidValidation("tx_list_001", "150.00"),
		PaymentMeta{},
	)
	require.NoError(t, err)

	_, err = store.RecordManualPayment(context.Background(), ManualPaymentInput{
		MemberID: alice,
		Amount:   decimal.RequireFromString("60.00"),
		Currency: "ILS",
		Method:   models.MethodCash,
		Status:   models.PaymentPaid,
	})
	require.NoError(t, err)

	_, err = store.RecordManualPayment(context.Background(), ManualPaymentInput{
		MemberID: alice,
		Amount:   decimal.RequireFromString("60.00"),
		Currency: "ILS",
		Method:   models.MethodBankTransfer,
		Status:   models.PaymentPending,
	})
	require.NoError(t, err)

	_, err = store.RecordManualPayment(context.Background(), ManualPaymentInput{
		MemberID: bob,
		Amount:   decimal.RequireFromString("60.00"),
		Currency: "ILS",
		Method:   models.MethodCash,
		Status:   models.PaymentPaid,
	})
	require.NoError(t, err)

	all, err := store.ListMemberPayments(context.Background(), alice, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, p := range all {
		assert.Equal(t, alice, p.MemberID)
	}

	paid, err := store.ListMemberPayments(context.Background(), alice, ListFilter{Status: models.PaymentPaid})
	require.NoError(t, err)
	assert.Len(t, paid, 2)

	future, err := store.ListMemberPayments(context.Background(), alice, ListFilter{From: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)
}
