package models

import (
	"time"
)

// Wallet owner types
const (
	OwnerGuest        = "guest"
	OwnerDepartment   = "department"
	OwnerOrganization = "organization"
)

// Ledger entry directions
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Wallet holds one balance per guest, department or organization.
// The balance column is a cache of the signed sum of the wallet's
// ledger entries and is only updated in the same transaction that
// appends an entry.
type Wallet struct {
	ID            string    `json:"id" db:"id"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	OwnerType     string    `json:"owner_type" db:"owner_type"` // guest, department or organization
	OwnerID       string    `json:"owner_id" db:"owner_id"`
	Currency      string    `json:"currency" db:"currency"`
	Balance       int64     `json:"balance" db:"balance"` // minor units
	AllowNegative bool      `json:"allow_negative" db:"allow_negative"`
	Version       int       `json:"version" db:"version"` // for optimistic locking
	Active        bool      `json:"active" db:"active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is one signed posting against a wallet. Entries are
// immutable once written; corrections are posted as reversing entries.
type LedgerEntry struct {
	ID           int       `json:"id" db:"id"`
	WalletID     string    `json:"wallet_id" db:"wallet_id"`
	Direction    string    `json:"direction" db:"direction"` // credit or debit
	Amount       int64     `json:"amount" db:"amount"`       // always positive, minor units
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	PaymentID    *string   `json:"payment_id,omitempty" db:"payment_id"`
	Description  string    `json:"description" db:"description"`
	CreatedBy    string    `json:"created_by" db:"created_by"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
