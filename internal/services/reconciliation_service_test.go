package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/innkeep/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestReconciliationService_File(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewReconciliationService(db, nil)

	t.Run("files an unmatched record", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO reconciliation_records").
			WithArgs(sqlmock.AnyArg(), "tenant1", "ledger", "TXN-001",
				int64(10000), "payment1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.File(context.Background(), &models.Payment{
			ID:             "payment1",
			TenantID:       "tenant1",
			TransactionRef: "TXN-001",
			Amount:         10000,
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("provider reference is prefixed with the provider id", func(t *testing.T) {
		providerID := "provider1"

		mock.ExpectExec("INSERT INTO reconciliation_records").
			WithArgs(sqlmock.AnyArg(), "tenant1", "ledger", "provider1:TXN-002",
				int64(5000), "payment2", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.File(context.Background(), &models.Payment{
			ID:             "payment2",
			TenantID:       "tenant1",
			TransactionRef: "TXN-002",
			ProviderID:     &providerID,
			Amount:         5000,
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refiling the same payment is a no-op", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO reconciliation_records").
			WillReturnResult(sqlmock.NewResult(0, 0)) // conflict on payment_id

		err := service.File(context.Background(), &models.Payment{
			ID:             "payment1",
			TenantID:       "tenant1",
			TransactionRef: "TXN-001",
			Amount:         10000,
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReconciliationService_ExportUnmatched(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	columns := []string{"id", "tenant_id", "source_system", "provider_ref", "amount", "status", "payment_id", "created_at"}

	t.Run("renders each unmatched record onto the export queue", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewReconciliationService(db, redisClient)

		mock.ExpectQuery("SELECT id, tenant_id, source_system, provider_ref, amount, status, payment_id, created_at").
			WithArgs("tenant1").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("rec1", "tenant1", "ledger", "provider1:TXN-001", int64(10000), models.ReconciliationUnmatched, "payment1", time.Now()).
				AddRow("rec2", "tenant1", "ledger", "TXN-002", int64(2500), models.ReconciliationUnmatched, "payment2", time.Now()))

		redisMock.Regexp().ExpectRPush(reconciliationExportQueue, `(?s).*`).SetVal(1)
		redisMock.Regexp().ExpectRPush(reconciliationExportQueue, `(?s).*`).SetVal(2)

		exported, err := service.ExportUnmatched(context.Background(), "tenant1", "USD")
		assert.NoError(t, err)
		assert.Equal(t, 2, exported)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no unmatched records exports nothing", func(t *testing.T) {
		service := NewReconciliationService(db, nil)

		mock.ExpectQuery("SELECT id, tenant_id, source_system, provider_ref, amount, status, payment_id, created_at").
			WithArgs("tenant1").
			WillReturnRows(sqlmock.NewRows(columns))

		exported, err := service.ExportUnmatched(context.Background(), "tenant1", "USD")
		assert.NoError(t, err)
		assert.Equal(t, 0, exported)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReconciliationService_buildPacs008(t *testing.T) {
	service := NewReconciliationService(nil, nil)

	doc, err := service.buildPacs008(&models.ReconciliationRecord{
		ID:           "rec1",
		TenantID:     "tenant1",
		SourceSystem: "ledger",
		ProviderRef:  "provider1:TXN-001",
		Amount:       12345,
		Status:       models.ReconciliationUnmatched,
		PaymentID:    "payment1",
	}, "USD")
	assert.NoError(t, err)
	assert.Len(t, doc.CdtTrfTxInf, 1)
	assert.Equal(t, 123.45, doc.CdtTrfTxInf[0].IntrBkSttlmAmt.Value)
	assert.Equal(t, "provider1:TXN-001", string(doc.CdtTrfTxInf[0].PmtId.EndToEndId))
}
