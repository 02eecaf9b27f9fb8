package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/innkeep/backend/internal/models"
)

// receivableDueDays is the default collection window for receivables
// opened at checkout.
const receivableDueDays = 30

// ReceivableService tracks amounts owed that were not collected at
// time of service. Transitions are administrative: open -> paid,
// escalated or written_off, each resolved exactly once.
type ReceivableService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewReceivableService(db *sql.DB) *ReceivableService {
	return &ReceivableService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// CreateTx opens a receivable inside an existing transaction, so a
// checkout settled via receivable commits atomically with it.
func (s *ReceivableService) CreateTx(tx *sql.Tx, tenantID, debtorType, debtorID string, bookingID *string, amount int64, reason string, dueAt time.Time) (*models.Receivable, error) {
	if amount <= 0 {
		return nil, NewServiceError(CodeValidation, "receivable amount must be positive", http.StatusBadRequest)
	}

	rec := &models.Receivable{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		DebtorType: debtorType,
		DebtorID:   debtorID,
		BookingID:  bookingID,
		Amount:     amount,
		Status:     models.ReceivableOpen,
		Reason:     reason,
		DueAt:      dueAt,
		CreatedAt:  time.Now(),
	}

	_, err := tx.Exec(`
		INSERT INTO receivables (id, tenant_id, debtor_type, debtor_id, booking_id, amount, status, reason, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.TenantID, rec.DebtorType, rec.DebtorID, rec.BookingID,
		rec.Amount, rec.Status, rec.Reason, rec.DueAt, rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create opens a receivable in its own transaction.
func (s *ReceivableService) Create(tenantID, debtorType, debtorID string, bookingID *string, amount int64, reason string, dueAt time.Time) (*models.Receivable, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rec, err := s.CreateTx(tx, tenantID, debtorType, debtorID, bookingID, amount, reason, dueAt)
	if err != nil {
		return nil, err
	}
	return rec, tx.Commit()
}

// MarkPaid resolves an open receivable as collected.
func (s *ReceivableService) MarkPaid(tenantID, receivableID string) error {
	return s.resolve(tenantID, receivableID, models.ReceivablePaid, nil)
}

// Escalate hands an open receivable to collections.
func (s *ReceivableService) Escalate(tenantID, receivableID string) error {
	return s.resolve(tenantID, receivableID, models.ReceivableEscalated, nil)
}

// WriteOff forgives an open receivable. The manager-approval token is
// recorded in metadata but not verified here; that is an application
// control, not a security boundary.
func (s *ReceivableService) WriteOff(tenantID, receivableID, approvalToken, approvedBy, reason string) error {
	md := models.WriteOffApproval{
		ApprovalToken: approvalToken,
		ApprovedBy:    approvedBy,
		Reason:        reason,
	}.Map()
	return s.resolve(tenantID, receivableID, models.ReceivableWrittenOff, md)
}

func (s *ReceivableService) resolve(tenantID, receivableID, newStatus string, md models.Metadata) error {
	result, err := s.db.Exec(`
		UPDATE receivables
		SET status = $1, metadata = COALESCE($2, metadata), resolved_at = NOW()
		WHERE id = $3 AND tenant_id = $4 AND status = 'open'`,
		newStatus, md, receivableID, tenantID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return NewServiceError(CodeAlreadyResolved, "receivable not open", http.StatusConflict)
	}
	return nil
}

// List returns a tenant's receivables, optionally filtered by status.
func (s *ReceivableService) List(tenantID, status string, limit int) ([]models.Receivable, error) {
	query := `
		SELECT id, tenant_id, debtor_type, debtor_id, booking_id, amount, status, reason, metadata, due_at, created_at, resolved_at
		FROM receivables
		WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argIndex := 2
	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receivables := []models.Receivable{}
	for rows.Next() {
		var r models.Receivable
		if err := rows.Scan(&r.ID, &r.TenantID, &r.DebtorType, &r.DebtorID, &r.BookingID,
			&r.Amount, &r.Status, &r.Reason, &r.Metadata, &r.DueAt, &r.CreatedAt, &r.ResolvedAt); err != nil {
			return nil, err
		}
		receivables = append(receivables, r)
	}
	return receivables, rows.Err()
}

// ListReceivables retrieves receivables for a tenant
// @Summary List receivables
// @Description Get receivables for a tenant, optionally filtered by status
// @Tags receivables
// @Produce json
// @Param tenantId query string true "Tenant ID"
// @Param status query string false "Filter by status"
// @Success 200 {object} object{receivables=[]models.Receivable,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /receivables [get]
func (s *ReceivableService) ListReceivables(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		SendErrorResponse(w, "tenantId is required", CodeValidation, http.StatusBadRequest, nil)
		return
	}

	receivables, err := s.List(tenantID, r.URL.Query().Get("status"), 200)
	if err != nil {
		log.Printf("[RECEIVABLE] Failed to list receivables for tenant %s: %v", tenantID, err)
		SendErrorResponse(w, "Failed to fetch receivables", "", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"receivables": receivables,
		"count":       len(receivables),
	})
}

type receivableTransitionRequest struct {
	TenantID      string `json:"tenant_id" validate:"required,max=64"`
	Action        string `json:"action" validate:"required,oneof=paid escalated written_off"`
	ApprovalToken string `json:"approval_token,omitempty" validate:"omitempty,max=128"`
	Reason        string `json:"reason,omitempty" validate:"omitempty,max=200"`
}

// TransitionReceivable applies an administrative transition
// @Summary Transition a receivable
// @Description Mark a receivable paid, escalated or written off
// @Tags receivables
// @Accept json
// @Produce json
// @Param receivableId path string true "Receivable ID"
// @Param request body receivableTransitionRequest true "Transition"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /receivables/{receivableId} [put]
func (s *ReceivableService) TransitionReceivable(w http.ResponseWriter, r *http.Request) {
	receivableID := chi.URLParam(r, "receivableId")

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req receivableTransitionRequest
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

	actorID, _ := r.Context().Value("userID").(string)

	var err error
	switch req.Action {
	case models.ReceivablePaid:
		err = s.MarkPaid(req.TenantID, receivableID)
	case models.ReceivableEscalated:
		err = s.Escalate(req.TenantID, receivableID)
	case models.ReceivableWrittenOff:
		err = s.WriteOff(req.TenantID, receivableID, req.ApprovalToken, actorID, req.Reason)
	}
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
