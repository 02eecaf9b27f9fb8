package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/innkeep/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestFeeConfigService_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewFeeConfigService(db)

	t.Run("configured tenant", func(t *testing.T) {
		mock.ExpectQuery("SELECT tenant_id, fee_type, booking_fee_rate, qr_fee_rate, payer, billing_cycle, active, updated_at").
			WithArgs("tenant1").
			WillReturnRows(sqlmock.NewRows([]string{
				"tenant_id", "fee_type", "booking_fee_rate", "qr_fee_rate", "payer", "billing_cycle", "active", "updated_at",
			}).AddRow("tenant1", models.FeeTypePercentage, 5.0, 2.0, models.FeePayerGuest, models.BillingRealtime, true, time.Now()))

		cfg, err := service.Get("tenant1")
		assert.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, models.FeeTypePercentage, cfg.FeeType)
		assert.Equal(t, 5.0, cfg.BookingFeeRate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unconfigured tenant means zero fee", func(t *testing.T) {
		mock.ExpectQuery("SELECT tenant_id, fee_type, booking_fee_rate, qr_fee_rate, payer, billing_cycle, active, updated_at").
			WithArgs("tenant2").
			WillReturnRows(sqlmock.NewRows([]string{
				"tenant_id", "fee_type", "booking_fee_rate", "qr_fee_rate", "payer", "billing_cycle", "active", "updated_at",
			}))

		cfg, err := service.Get("tenant2")
		assert.NoError(t, err)
		assert.Nil(t, cfg)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFeeConfigService_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewFeeConfigService(db)

	mock.ExpectExec("INSERT INTO platform_fee_configs").
		WithArgs("tenant1", models.FeeTypeFlat, 250.0, 100.0, models.FeePayerProperty, models.BillingMonthly, true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = service.Update("tenant1", &feeConfigRequest{
		FeeType:        models.FeeTypeFlat,
		BookingFeeRate: 250,
		QRFeeRate:      100,
		Payer:          models.FeePayerProperty,
		BillingCycle:   models.BillingMonthly,
		Active:         true,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
