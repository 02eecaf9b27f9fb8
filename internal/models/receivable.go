package models

import (
	"time"
)

// Receivable statuses
const (
	ReceivableOpen       = "open"
	ReceivablePaid       = "paid"
	ReceivableEscalated  = "escalated"
	ReceivableWrittenOff = "written_off"
)

// Debtor types
const (
	DebtorGuest        = "guest"
	DebtorOrganization = "organization"
)

// Receivable is an open, uncollected amount owed by a guest or an
// organization. It is resolved exactly once: open -> paid, escalated
// or written_off.
type Receivable struct {
	ID         string     `json:"id" db:"id"`
	TenantID   string     `json:"tenant_id" db:"tenant_id"`
	DebtorType string     `json:"debtor_type" db:"debtor_type"` // guest or organization
	DebtorID   string     `json:"debtor_id" db:"debtor_id"`
	BookingID  *string    `json:"booking_id,omitempty" db:"booking_id"`
	Amount     int64      `json:"amount" db:"amount"`
	Status     string     `json:"status" db:"status"`
	Reason     string     `json:"reason" db:"reason"`
	Metadata   Metadata   `json:"metadata,omitempty" db:"metadata"`
	DueAt      time.Time  `json:"due_at" db:"due_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}
