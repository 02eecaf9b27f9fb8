package services

import (
	"testing"

	"github.com/innkeep/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func percentageConfig(rate float64, payer string) *models.PlatformFeeConfig {
	return &models.PlatformFeeConfig{
		TenantID:       "tenant1",
		FeeType:        models.FeeTypePercentage,
		BookingFeeRate: rate,
		QRFeeRate:      rate,
		Payer:          payer,
		BillingCycle:   models.BillingRealtime,
		Active:         true,
	}
}

func TestCalculateFee(t *testing.T) {
	t.Run("percentage fee on booking", func(t *testing.T) {
		// 100.00 at 5% => fee 5.00
		result, err := CalculateFee(10000, percentageConfig(5, models.FeePayerProperty), FeeContextBooking)
		assert.NoError(t, err)
		assert.Equal(t, int64(500), result.Fee)
		assert.Equal(t, int64(10000), result.Total)
	})

	t.Run("guest payer raises total", func(t *testing.T) {
		result, err := CalculateFee(10000, percentageConfig(5, models.FeePayerGuest), FeeContextBooking)
		assert.NoError(t, err)
		assert.Equal(t, int64(500), result.Fee)
		assert.Equal(t, int64(10500), result.Total)
	})

	t.Run("nil config means zero fee", func(t *testing.T) {
		result, err := CalculateFee(10000, nil, FeeContextBooking)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), result.Fee)
		assert.Equal(t, int64(10000), result.Total)
	})

	t.Run("inactive config means zero fee", func(t *testing.T) {
		cfg := percentageConfig(5, models.FeePayerGuest)
		cfg.Active = false

		result, err := CalculateFee(10000, cfg, FeeContextBooking)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), result.Fee)
		assert.Equal(t, int64(10000), result.Total)
	})

	t.Run("flat fee capped at base amount", func(t *testing.T) {
		cfg := &models.PlatformFeeConfig{
			TenantID:       "tenant1",
			FeeType:        models.FeeTypeFlat,
			BookingFeeRate: 500,
			Payer:          models.FeePayerProperty,
			Active:         true,
		}

		result, err := CalculateFee(300, cfg, FeeContextBooking)
		assert.NoError(t, err)
		assert.Equal(t, int64(300), result.Fee)
		assert.Equal(t, int64(300), result.Total)
	})

	t.Run("qr context uses qr rate", func(t *testing.T) {
		cfg := percentageConfig(5, models.FeePayerProperty)
		cfg.QRFeeRate = 2

		result, err := CalculateFee(10000, cfg, FeeContextQR)
		assert.NoError(t, err)
		assert.Equal(t, int64(200), result.Fee)
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		_, err := CalculateFee(-1, percentageConfig(5, models.FeePayerGuest), FeeContextBooking)
		assert.ErrorIs(t, err, ErrNegativeAmount)
	})

	t.Run("zero amount yields zero fee", func(t *testing.T) {
		result, err := CalculateFee(0, percentageConfig(5, models.FeePayerGuest), FeeContextBooking)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), result.Fee)
		assert.Equal(t, int64(0), result.Total)
	})

	t.Run("fractional fee truncates toward zero", func(t *testing.T) {
		// 99 minor units at 5% => 4.95, truncated to 4
		result, err := CalculateFee(99, percentageConfig(5, models.FeePayerProperty), FeeContextBooking)
		assert.NoError(t, err)
		assert.Equal(t, int64(4), result.Fee)
	})
}
