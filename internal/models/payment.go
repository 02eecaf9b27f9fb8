package models

import (
	"time"
)

// Payment statuses
const (
	PaymentPending = "pending" // deferred-credit provider, settled later
	PaymentSuccess = "success"
)

// Provider kinds
const (
	ProviderNormal         = "normal"
	ProviderCreditDeferred = "credit_deferred"
)

// Payment is one recorded external payment. The pair
// (tenant_id, transaction_ref) is unique and acts as the idempotency
// key: recording the same reference twice returns the original row.
type Payment struct {
	ID                    string   `json:"id" db:"id"`
	TenantID              string   `json:"tenant_id" db:"tenant_id"`
	TransactionRef        string   `json:"transaction_ref" db:"transaction_ref"`
	GuestID               *string  `json:"guest_id,omitempty" db:"guest_id"`
	OrganizationID        *string  `json:"organization_id,omitempty" db:"organization_id"`
	BookingID             *string  `json:"booking_id,omitempty" db:"booking_id"`
	Amount                int64    `json:"amount" db:"amount"` // actually received, minor units
	ExpectedAmount        *int64   `json:"expected_amount,omitempty" db:"expected_amount"`
	Method                string   `json:"method" db:"method"`
	ProviderID            *string  `json:"provider_id,omitempty" db:"provider_id"`
	ProviderFeePercent    float64  `json:"provider_fee_percent" db:"provider_fee_percent"`
	NetAmount             int64    `json:"net_amount" db:"net_amount"`
	Status                string   `json:"status" db:"status"`
	ChargedToOrganization bool     `json:"charged_to_organization" db:"charged_to_organization"`
	LocationID            *string  `json:"location_id,omitempty" db:"location_id"`
	RecordedBy            string   `json:"recorded_by" db:"recorded_by"`
	Metadata              Metadata `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PaymentProvider is an external payment channel (card terminal,
// transfer rail, city-ledger credit) configured per tenant.
type PaymentProvider struct {
	ID         string  `json:"id" db:"id"`
	TenantID   string  `json:"tenant_id" db:"tenant_id"`
	Name       string  `json:"name" db:"name"`
	Kind       string  `json:"kind" db:"kind"` // normal or credit_deferred
	FeePercent float64 `json:"fee_percent" db:"fee_percent"`
	Active     bool    `json:"active" db:"active"`
}

// Charge is an uncollected shortfall detected while recording a
// payment. It feeds the receivables pipeline rather than silently
// accepting a partial payment.
type Charge struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	GuestID   string    `json:"guest_id" db:"guest_id"`
	BookingID *string   `json:"booking_id,omitempty" db:"booking_id"`
	PaymentID string    `json:"payment_id" db:"payment_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Status    string    `json:"status" db:"status"` // pending until collected or converted
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
