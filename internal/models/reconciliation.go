package models

import (
	"time"
)

// Reconciliation statuses. Matching against the provider settlement
// statement happens in a separate system; records leave here unmatched.
const (
	ReconciliationUnmatched = "unmatched"
	ReconciliationMatched   = "matched"
)

// ReconciliationRecord is one unmatched external-payment record filed
// for every non-cash, non-deferred-credit payment, awaiting later
// matching against a settlement statement.
type ReconciliationRecord struct {
	ID           string    `json:"id" db:"id"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	SourceSystem string    `json:"source_system" db:"source_system"`
	ProviderRef  string    `json:"provider_ref" db:"provider_ref"`
	Amount       int64     `json:"amount" db:"amount"`
	Status       string    `json:"status" db:"status"`
	PaymentID    string    `json:"payment_id" db:"payment_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
