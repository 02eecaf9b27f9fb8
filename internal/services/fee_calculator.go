package services

import (
	"errors"

	"github.com/innkeep/backend/internal/models"
)

// Fee contexts select which configured rate applies.
const (
	FeeContextBooking = "booking"
	FeeContextQR      = "qr"
)

// FeeResult is the outcome of a platform fee calculation.
type FeeResult struct {
	Fee   int64 `json:"fee"`
	Total int64 `json:"total"`
}

var ErrNegativeAmount = errors.New("amount must not be negative")

// CalculateFee maps (base amount, fee config) to (fee, guest-facing
// total). No I/O, no side effects. A nil or inactive config means zero
// fee. Flat fees are capped at the base amount so the property's net
// receipt cannot go negative. The fee raises the guest-facing total
// only when the guest is the payer; a property-paid fee is
// informational and deducted from the property's net receipt.
func CalculateFee(base int64, cfg *models.PlatformFeeConfig, feeContext string) (FeeResult, error) {
	if base < 0 {
		return FeeResult{}, ErrNegativeAmount
	}

	if cfg == nil || !cfg.Active {
		return FeeResult{Fee: 0, Total: base}, nil
	}

	rate := cfg.BookingFeeRate
	if feeContext == FeeContextQR {
		rate = cfg.QRFeeRate
	}

	var fee int64
	switch cfg.FeeType {
	case models.FeeTypePercentage:
		fee = int64(float64(base) * rate / 100)
	case models.FeeTypeFlat:
		fee = int64(rate)
		if fee > base {
			fee = base
		}
	}

	total := base
	if cfg.Payer == models.FeePayerGuest {
		total = base + fee
	}

	return FeeResult{Fee: fee, Total: total}, nil
}
