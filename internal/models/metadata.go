package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, m)
}

// Tagged metadata variants. Each operation kind that attaches facts to
// a ledger row uses one of these instead of a free-form map, so the
// causal history stays strongly typed.

// OverpaymentDetail records why a guest wallet was credited after a
// payment came in above the expected amount.
type OverpaymentDetail struct {
	Kind           string `json:"kind"` // always "overpayment"
	PaymentID      string `json:"payment_id"`
	ExpectedAmount int64  `json:"expected_amount"`
	ActualAmount   int64  `json:"actual_amount"`
	Difference     int64  `json:"difference"`
}

// ShortfallDetail records an underpayment that produced a charge.
type ShortfallDetail struct {
	Kind           string `json:"kind"` // always "shortfall"
	PaymentID      string `json:"payment_id"`
	ExpectedAmount int64  `json:"expected_amount"`
	ActualAmount   int64  `json:"actual_amount"`
	Difference     int64  `json:"difference"`
}

// WriteOffApproval records the manager approval attached to a
// receivable write-off. The token is recorded, not verified here.
type WriteOffApproval struct {
	Kind          string `json:"kind"` // always "write_off_approval"
	ApprovalToken string `json:"approval_token"`
	ApprovedBy    string `json:"approved_by"`
	Reason        string `json:"reason"`
}

// Map converts a tagged variant to Metadata for storage.
func (d OverpaymentDetail) Map() Metadata {
	d.Kind = "overpayment"
	return toMetadata(d)
}

func (d ShortfallDetail) Map() Metadata {
	d.Kind = "shortfall"
	return toMetadata(d)
}

func (d WriteOffApproval) Map() Metadata {
	d.Kind = "write_off_approval"
	return toMetadata(d)
}

func toMetadata(v any) Metadata {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
