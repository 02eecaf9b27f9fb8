package models

import (
	"time"
)

// Booking statuses relevant to settlement
const (
	BookingCheckedIn  = "checked_in"
	BookingCompleted  = "completed"
	BookingCheckedOut = "checked_out"
)

// Room statuses
const (
	RoomOccupied = "occupied"
	RoomCleaning = "cleaning"
)

// Booking is a guest stay. Settlement closes it out at checkout.
type Booking struct {
	ID             string     `json:"id" db:"id"`
	TenantID       string     `json:"tenant_id" db:"tenant_id"`
	RoomID         *string    `json:"room_id,omitempty" db:"room_id"`
	GuestID        string     `json:"guest_id" db:"guest_id"`
	OrganizationID *string    `json:"organization_id,omitempty" db:"organization_id"`
	TotalAmount    int64      `json:"total_amount" db:"total_amount"`
	Status         string     `json:"status" db:"status"`
	CheckedOutBy   *string    `json:"checked_out_by,omitempty" db:"checked_out_by"`
	CheckedOutAt   *time.Time `json:"checked_out_at,omitempty" db:"checked_out_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Room is a physical room released back to housekeeping at checkout.
type Room struct {
	ID        string  `json:"id" db:"id"`
	TenantID  string  `json:"tenant_id" db:"tenant_id"`
	Number    string  `json:"number" db:"number"`
	Status    string  `json:"status" db:"status"`
	GuestID   *string `json:"guest_id,omitempty" db:"guest_id"`
	BookingID *string `json:"booking_id,omitempty" db:"booking_id"`
}

// Location is a point of sale (restaurant, bar, spa). A location may
// cap transaction size and may attach a department wallet that takes a
// parallel revenue credit for payments taken there.
type Location struct {
	ID                   string  `json:"id" db:"id"`
	TenantID             string  `json:"tenant_id" db:"tenant_id"`
	Name                 string  `json:"name" db:"name"`
	MaxTransactionAmount int64   `json:"max_transaction_amount" db:"max_transaction_amount"` // 0 = uncapped
	DepartmentWalletID   *string `json:"department_wallet_id,omitempty" db:"department_wallet_id"`
}

// Organization is a corporate wallet holder (company account,
// travel agency) that can be billed for guest stays.
type Organization struct {
	ID                   string `json:"id" db:"id"`
	TenantID             string `json:"tenant_id" db:"tenant_id"`
	Name                 string `json:"name" db:"name"`
	CreditLimit          int64  `json:"credit_limit" db:"credit_limit"` // 0 = unlimited
	AllowNegativeBalance bool   `json:"allow_negative_balance" db:"allow_negative_balance"`
	Active               bool   `json:"active" db:"active"`
}
