package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/innkeep/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

type allowAllValidator struct{}

func (allowAllValidator) Validate(ctx context.Context, tenantID, organizationID string, amount int64) error {
	return nil
}

type denyAllValidator struct{}

func (denyAllValidator) Validate(ctx context.Context, tenantID, organizationID string, amount int64) error {
	return NewServiceError(CodeOrgLimit, "organization spend limit exceeded", 422)
}

func newPaymentServiceForTest(t *testing.T) (*PaymentService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	wallets := NewWalletService(db)
	recon := NewReconciliationService(db, nil)
	service := NewPaymentService(db, nil, wallets, recon, allowAllValidator{})
	return service, mock, func() { db.Close() }
}

func paymentColumns() []string {
	return []string{
		"id", "tenant_id", "transaction_ref", "guest_id", "organization_id", "booking_id",
		"amount", "expected_amount", "method", "provider_id", "provider_fee_percent", "net_amount",
		"status", "charged_to_organization", "location_id", "recorded_by", "metadata", "created_at",
	}
}

// expectNoExistingPayment mocks the replay lookup that precedes every
// recording attempt coming back empty.
func expectNoExistingPayment(mock sqlmock.Sqlmock, tenantID, ref string) {
	mock.ExpectQuery("SELECT id, tenant_id, transaction_ref").
		WithArgs(tenantID, ref).
		WillReturnRows(sqlmock.NewRows(paymentColumns()))
}

func TestPaymentService_Record(t *testing.T) {
	t.Run("cash payment records once", func(t *testing.T) {
		service, mock, closeDB := newPaymentServiceForTest(t)
		defer closeDB()

		expectNoExistingPayment(mock, "tenant1", "TXN-001")

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO payments").
			WithArgs(sqlmock.AnyArg(), "tenant1", "TXN-001", nil, nil, nil,
				int64(10000), nil, "cash", nil, 0.0, int64(10000),
				models.PaymentSuccess, false, nil, "staff1", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		payment, duplicate, err := service.Record(context.Background(), &RecordPaymentRequest{
			TenantID:       "tenant1",
			TransactionRef: "TXN-001",
			Amount:         10000,
			Method:         "cash",
			RecordedBy:     "staff1",
		})
		assert.NoError(t, err)
		assert.False(t, duplicate)
		assert.Equal(t, int64(10000), payment.NetAmount)
		assert.Equal(t, models.PaymentSuccess, payment.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate reference returns the original payment without writes", func(t *testing.T) {
		service, mock, closeDB := newPaymentServiceForTest(t)
		defer closeDB()

		mock.ExpectQuery("SELECT id, tenant_id, transaction_ref").
			WithArgs("tenant1", "TXN-001").
			WillReturnRows(sqlmock.NewRows(paymentColumns()).
				AddRow("existing1", "tenant1", "TXN-001", nil, nil, nil,
					int64(10000), nil, "cash", nil, 0.0, int64(10000),
					models.PaymentSuccess, false, nil, "staff1", nil, time.Now()))

		payment, duplicate, err := service.Record(context.Background(), &RecordPaymentRequest{
			TenantID:       "tenant1",
			TransactionRef: "TXN-001",
			Amount:         10000,
			Method:         "cash",
			RecordedBy:     "staff1",
		})
		assert.NoError(t, err)
		assert.True(t, duplicate)
		assert.Equal(t, "existing1", payment.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replay succeeds even when limit checks would now reject", func(t *testing.T) {
		// A retried reference must return the original row before any
		// provider or organization-limit check runs; the first attempt's
		// own debit may have pushed the organization over its limit.
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		wallets := NewWalletService(db)
		recon := NewReconciliationService(db, nil)
		service := NewPaymentService(db, nil, wallets, recon, denyAllValidator{})

		mock.ExpectQuery("SELECT id, tenant_id, transaction_ref").
			WithArgs("tenant1", "TXN-010").
			WillReturnRows(sqlmock.NewRows(paymentColumns()).
				AddRow("existing2", "tenant1", "TXN-010", nil, "org1", nil,
					int64(10000), nil, "wallet", nil, 0.0, int64(10000),
					models.PaymentSuccess, true, nil, "staff1", nil, time.Now()))

		payment, duplicate, err := service.Record(context.Background(), &RecordPaymentRequest{
			TenantID:              "tenant1",
			TransactionRef:        "TXN-010",
			OrganizationID:        "org1",
			Amount:                10000,
			Method:                "wallet",
			RecordedBy:            "staff1",
			ChargedToOrganization: true,
		})
		assert.NoError(t, err)
		assert.True(t, duplicate)
		assert.Equal(t, "existing2", payment.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent insert race resolves to the committed row", func(t *testing.T) {
		service, mock, closeDB := newPaymentServiceForTest(t)
		defer closeDB()

		expectNoExistingPayment(mock, "tenant1", "TXN-001")

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO payments").
			WillReturnResult(sqlmock.NewResult(0, 0)) // conflict, nothing inserted

		mock.ExpectQuery("SELECT id, tenant_id, transaction_ref").
			WithArgs("tenant1", "TXN-001").
			WillReturnRows(sqlmock.NewRows(paymentColumns()).
				AddRow("existing1", "tenant1", "TXN-001", nil, nil, nil,
					int64(10000), nil, "cash", nil, 0.0, int64(10000),
					models.PaymentSuccess, false, nil, "staff1", nil, time.Now()))
		mock.ExpectRollback()

		payment, duplicate, err := service.Record(context.Background(), &RecordPaymentRequest{
			TenantID:       "tenant1",
			TransactionRef: "TXN-001",
			Amount:         10000,
			Method:         "cash",
			RecordedBy:     "staff1",
		})
		assert.NoError(t, err)
		assert.True(t, duplicate)
		assert.Equal(t, "existing1", payment.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("provider fee reduces net amount", func(t *testing.T) {
		service, mock, closeDB := newPaymentServiceForTest(t)
		defer closeDB()

		expectNoExistingPayment(mock, "tenant1", "TXN-002")

		mock.ExpectQuery("SELECT id, tenant_id, name, kind, fee_percent, active").
			WithArgs("provider1", "tenant1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "kind", "fee_percent", "active"}).
				AddRow("provider1", "tenant1", "CardCo", models.ProviderNormal, 2.5, true))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO payments").
			WithArgs(sqlmock.AnyArg(), "tenant1", "TXN-002", nil, nil, nil,
				int64(10000), nil, "card", "provider1", 2.5, int64(9750),
				models.PaymentSuccess, false, nil, "staff1", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		// Best-effort reconciliation record after commit.
		mock.ExpectExec("INSERT INTO reconciliation_records").
			WillReturnResult(sqlmock.NewResult(1, 1))

		payment, duplicate, err := service.Record(context.Background(), &RecordPaymentRequest{
			TenantID:       "tenant1",
			TransactionRef: "TXN-002",
			Amount:         10000,
			Method:         "card",
			ProviderID:     "provider1",
			RecordedBy:     "staff1",
		})
		assert.NoError(t, err)
		assert.False(t, duplicate)
		assert.Equal(t, int64(9750), payment.NetAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deferred credit provider records pending with no fee", func(t *testing.T) {
		service, mock, closeDB := newPaymentServiceForTest(t)
		defer closeDB()

		expectNoExistingPayment(mock, "tenant1", "TXN-003")

		mock.ExpectQuery("SELECT id, tenant_id, name, kind, fee_percent, active").
			WithArgs("provider2", "tenant1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "kind", "fee_percent", "active"}).
				AddRow("provider2", "tenant1", "CorpCredit", models.ProviderCreditDeferred, 3.0, true))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO payments").
			WithArgs(sqlmock.AnyArg(), "tenant1", "TXN-003", nil, nil, nil,
				int64(10000), nil, "credit", "provider2", 0.0, int64(10000),
				models.PaymentPending, false, nil, "staff1", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		// Deferred credit is excluded from reconciliation, so no more writes.

		payment, _, err := service.Record(context.Background(), &RecordPaymentRequest{
			TenantID:       "tenant1",
			TransactionRef: "TXN-003",
			Amount:         10000,
			Method:         "credit",
			ProviderID:     "provider2",
			RecordedBy:     "staff1",
		})
		assert.NoError(t, err)
		assert.Equal(t, models.PaymentPending, payment.Status)
		assert.Equal(t, int64(10000), payment.NetAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("location transaction limit rejects before any write", func(t *testing.T) {
		service, mock, closeDB := newPaymentServiceForTest(t)
		defer closeDB()

		expectNoExistingPayment(mock, "tenant1", "TXN-004")

		mock.ExpectQuery("SELECT id, tenant_id, name, max_transaction_amount, department_wallet_id").
			WithArgs("spa", "tenant1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "max_transaction_amount", "department_wallet_id"}).
				AddRow("spa", "tenant1", "Spa", int64(1000), nil))

		_, _, err := service.Record(context.Background(), &RecordPaymentRequest{
			TenantID:       "tenant1",
			TransactionRef: "TXN-004",
			Amount:         5000,
			Method:         "cash",
			LocationID:     "spa",
			RecordedBy:     "staff1",
		})
		assert.Error(t, err)

		svcErr, ok := AsServiceError(err)
		assert.True(t, ok)
		assert.Equal(t, CodeTransactionLimit, svcErr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		service, mock, closeDB := newPaymentServiceForTest(t)
		defer closeDB()

		expectNoExistingPayment(mock, "tenant1", "TXN-005")

		mock.ExpectQuery("SELECT id, tenant_id, name, kind, fee_percent, active").
			WithArgs("ghost", "tenant1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "kind", "fee_percent", "active"}))

		_, _, err := service.Record(context.Background(), &RecordPaymentRequest{
			TenantID:       "tenant1",
			TransactionRef: "TXN-005",
			Amount:         1000,
			Method:         "card",
			ProviderID:     "ghost",
			RecordedBy:     "staff1",
		})
		assert.Error(t, err)

		svcErr, ok := AsServiceError(err)
		assert.True(t, ok)
		assert.Equal(t, CodeProviderNotFound, svcErr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("overpayment credits the guest wallet", func(t *testing.T) {
		service, mock, closeDB := newPaymentServiceForTest(t)
		defer closeDB()

		expected := int64(10000)

		expectNoExistingPayment(mock, "tenant1", "TXN-006")

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO payments").
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Lazy guest wallet creation plus locked read.
		mock.ExpectExec("INSERT INTO wallets").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT id, tenant_id, owner_type, owner_id, currency, balance, allow_negative, version, active").
			WithArgs("tenant1", models.OwnerGuest, "guest1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "tenant_id", "owner_type", "owner_id", "currency", "balance", "allow_negative", "version", "active",
			}).AddRow("gw1", "tenant1", models.OwnerGuest, "guest1", "USD", int64(0), false, 1, true))

		// Credit the 500 difference.
		mock.ExpectQuery("INSERT INTO wallet_transactions").
			WithArgs("gw1", models.DirectionCredit, int64(500), int64(500),
				sqlmock.AnyArg(), sqlmock.AnyArg(), "staff1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(500), sqlmock.AnyArg(), "gw1", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		payment, _, err := service.Record(context.Background(), &RecordPaymentRequest{
			TenantID:       "tenant1",
			TransactionRef: "TXN-006",
			GuestID:        "guest1",
			Amount:         10500,
			ExpectedAmount: &expected,
			Method:         "cash",
			RecordedBy:     "staff1",
		})
		if assert.NoError(t, err) && assert.NotNil(t, payment) {
			assert.Equal(t, "overpayment", payment.Metadata["kind"])
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("underpayment opens a charge for the shortfall", func(t *testing.T) {
		service, mock, closeDB := newPaymentServiceForTest(t)
		defer closeDB()

		expected := int64(10000)

		expectNoExistingPayment(mock, "tenant1", "TXN-007")

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO payments").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO charges").
			WithArgs(sqlmock.AnyArg(), "tenant1", "guest1", nil, sqlmock.AnyArg(), int64(1000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		payment, _, err := service.Record(context.Background(), &RecordPaymentRequest{
			TenantID:       "tenant1",
			TransactionRef: "TXN-007",
			GuestID:        "guest1",
			Amount:         9000,
			ExpectedAmount: &expected,
			Method:         "cash",
			RecordedBy:     "staff1",
		})
		if assert.NoError(t, err) && assert.NotNil(t, payment) {
			assert.Equal(t, "shortfall", payment.Metadata["kind"])
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreditLimitValidator(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	validator := NewCreditLimitValidator(db)

	t.Run("organization not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT credit_limit, active FROM organizations").
			WithArgs("ghost", "tenant1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_limit", "active"}))

		err := validator.Validate(context.Background(), "tenant1", "ghost", 1000)
		assert.Error(t, err)

		svcErr, ok := AsServiceError(err)
		assert.True(t, ok)
		assert.Equal(t, CodeOrganizationNotFound, svcErr.Code)
	})

	t.Run("zero credit limit means unlimited", func(t *testing.T) {
		mock.ExpectQuery("SELECT credit_limit, active FROM organizations").
			WithArgs("org1", "tenant1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_limit", "active"}).AddRow(int64(0), true))

		err := validator.Validate(context.Background(), "tenant1", "org1", 1_000_000)
		assert.NoError(t, err)
	})

	t.Run("exposure plus amount over the limit rejected", func(t *testing.T) {
		mock.ExpectQuery("SELECT credit_limit, active FROM organizations").
			WithArgs("org1", "tenant1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_limit", "active"}).AddRow(int64(10000), true))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(CASE WHEN balance < 0 THEN -balance ELSE 0 END\\), 0\\)").
			WithArgs("tenant1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(4000)))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
			WithArgs("tenant1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(3000)))

		err := validator.Validate(context.Background(), "tenant1", "org1", 5000)
		assert.Error(t, err)

		svcErr, ok := AsServiceError(err)
		assert.True(t, ok)
		assert.Equal(t, CodeOrgLimit, svcErr.Code)
	})

	t.Run("exposure plus amount within the limit allowed", func(t *testing.T) {
		mock.ExpectQuery("SELECT credit_limit, active FROM organizations").
			WithArgs("org1", "tenant1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_limit", "active"}).AddRow(int64(10000), true))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(CASE WHEN balance < 0 THEN -balance ELSE 0 END\\), 0\\)").
			WithArgs("tenant1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(2000)))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
			WithArgs("tenant1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(1000)))

		err := validator.Validate(context.Background(), "tenant1", "org1", 5000)
		assert.NoError(t, err)
	})
}
