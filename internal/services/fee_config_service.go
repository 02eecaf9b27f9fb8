package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/innkeep/backend/internal/models"
)

// FeeConfigService is the explicit, typed per-tenant configuration
// surface for platform fees. There is no shared mutable store; every
// read goes to the tenant's row.
type FeeConfigService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewFeeConfigService(db *sql.DB) *FeeConfigService {
	return &FeeConfigService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// Get returns the tenant's fee config, or nil when none is
// configured. Absence means zero fee.
func (s *FeeConfigService) Get(tenantID string) (*models.PlatformFeeConfig, error) {
	cfg := &models.PlatformFeeConfig{}
	err := s.db.QueryRow(`
		SELECT tenant_id, fee_type, booking_fee_rate, qr_fee_rate, payer, billing_cycle, active, updated_at
		FROM platform_fee_configs
		WHERE tenant_id = $1`, tenantID).Scan(
		&cfg.TenantID, &cfg.FeeType, &cfg.BookingFeeRate, &cfg.QRFeeRate,
		&cfg.Payer, &cfg.BillingCycle, &cfg.Active, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

type feeConfigRequest struct {
	FeeType        string  `json:"fee_type" validate:"required,oneof=percentage flat"`
	BookingFeeRate float64 `json:"booking_fee_rate" validate:"gte=0"`
	QRFeeRate      float64 `json:"qr_fee_rate" validate:"gte=0"`
	Payer          string  `json:"payer" validate:"required,oneof=guest property"`
	BillingCycle   string  `json:"billing_cycle" validate:"required,oneof=realtime monthly"`
	Active         bool    `json:"active"`
}

// Update upserts the tenant's fee configuration.
func (s *FeeConfigService) Update(tenantID string, req *feeConfigRequest) error {
	_, err := s.db.Exec(`
		INSERT INTO platform_fee_configs (tenant_id, fee_type, booking_fee_rate, qr_fee_rate, payer, billing_cycle, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id) DO UPDATE
		SET fee_type = EXCLUDED.fee_type,
		    booking_fee_rate = EXCLUDED.booking_fee_rate,
		    qr_fee_rate = EXCLUDED.qr_fee_rate,
		    payer = EXCLUDED.payer,
		    billing_cycle = EXCLUDED.billing_cycle,
		    active = EXCLUDED.active,
		    updated_at = NOW()`,
		tenantID, req.FeeType, req.BookingFeeRate, req.QRFeeRate,
		req.Payer, req.BillingCycle, req.Active)
	return err
}

// GetFeeConfig retrieves the tenant fee configuration
// @Summary Get fee configuration
// @Description Get the platform fee configuration for a tenant
// @Tags fees
// @Produce json
// @Param tenantId query string true "Tenant ID"
// @Success 200 {object} models.PlatformFeeConfig
// @Failure 400 {object} ErrorResponse
// @Router /fees/config [get]
func (s *FeeConfigService) GetFeeConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		SendErrorResponse(w, "tenantId is required", CodeValidation, http.StatusBadRequest, nil)
		return
	}

	cfg, err := s.Get(tenantID)
	if err != nil {
		log.Printf("[FEES] Failed to load fee config for tenant %s: %v", tenantID, err)
		SendErrorResponse(w, "Failed to fetch fee configuration", "", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if cfg == nil {
		json.NewEncoder(w).Encode(map[string]interface{}{"configured": false})
		return
	}
	json.NewEncoder(w).Encode(cfg)
}

// UpdateFeeConfig upserts the tenant fee configuration
// @Summary Update fee configuration
// @Description Create or replace the platform fee configuration for a tenant
// @Tags fees
// @Accept json
// @Produce json
// @Param tenantId query string true "Tenant ID"
// @Param config body feeConfigRequest true "Fee configuration"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} ErrorResponse
// @Router /fees/config [put]
func (s *FeeConfigService) UpdateFeeConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		SendErrorResponse(w, "tenantId is required", CodeValidation, http.StatusBadRequest, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req feeConfigRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", CodeValidation, http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", CodeValidation, http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", CodeValidation, http.StatusBadRequest, err)
		return
	}

	if err := s.Update(tenantID, &req); err != nil {
		log.Printf("[FEES] Failed to update fee config for tenant %s: %v", tenantID, err)
		SendErrorResponse(w, "Failed to update fee configuration", "", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
