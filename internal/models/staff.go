package models

import (
	"time"
)

// Staff roles
const (
	RoleOwner     = "owner"
	RoleManager   = "manager"
	RoleFrontdesk = "frontdesk"
)

// StaffUser is a property staff member allowed to call the ledger API.
type StaffUser struct {
	ID           string    `json:"id" db:"id"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	Email        string    `json:"email" db:"email"`
	FullName     string    `json:"full_name" db:"full_name"`
	Role         string    `json:"role" db:"role"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
