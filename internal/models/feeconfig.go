package models

import (
	"time"
)

// Fee types
const (
	FeeTypePercentage = "percentage"
	FeeTypeFlat       = "flat"
)

// Fee payers
const (
	FeePayerGuest    = "guest"
	FeePayerProperty = "property"
)

// Billing cycles
const (
	BillingRealtime = "realtime"
	BillingMonthly  = "monthly"
)

// PlatformFeeConfig is the tenant-scoped platform fee configuration.
// It is a read-only input to the fee calculator; only administrative
// configuration mutates it.
type PlatformFeeConfig struct {
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	FeeType        string    `json:"fee_type" db:"fee_type"` // percentage or flat
	BookingFeeRate float64   `json:"booking_fee_rate" db:"booking_fee_rate"`
	QRFeeRate      float64   `json:"qr_fee_rate" db:"qr_fee_rate"`
	Payer          string    `json:"payer" db:"payer"` // guest or property
	BillingCycle   string    `json:"billing_cycle" db:"billing_cycle"`
	Active         bool      `json:"active" db:"active"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
