package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/innkeep/backend/internal/audit"
	"github.com/innkeep/backend/internal/models"
)

const paymentEventsQueue = "payment_events"

// OrgLimitValidator approves or rejects organization spend before a
// payment is recorded. The default implementation checks the
// organization's credit limit against its current exposure;
// deployments can swap in an external validator.
type OrgLimitValidator interface {
	Validate(ctx context.Context, tenantID, organizationID string, amount int64) error
}

// PaymentService records external payments exactly once, computes
// provider fees, and fans out the resulting ledger entries and
// reconciliation records.
type PaymentService struct {
	db        *sql.DB
	redis     *redis.Client
	wallets   *WalletService
	recon     *ReconciliationService
	orgLimits OrgLimitValidator
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewPaymentService(db *sql.DB, redisClient *redis.Client, wallets *WalletService, recon *ReconciliationService, orgLimits OrgLimitValidator) *PaymentService {
	return &PaymentService{
		db:        db,
		redis:     redisClient,
		wallets:   wallets,
		recon:     recon,
		orgLimits: orgLimits,
		audit:     audit.NewLogger(db),
		validator: NewValidationHelper(),
	}
}

// RecordPaymentRequest is the external contract for recording a
// payment. All ids are opaque identifiers validated for shape only.
type RecordPaymentRequest struct {
	TenantID              string          `json:"tenant_id" validate:"required,max=64"`
	TransactionRef        string          `json:"transaction_ref" validate:"required,max=128"`
	GuestID               string          `json:"guest_id,omitempty" validate:"omitempty,max=64"`
	OrganizationID        string          `json:"organization_id,omitempty" validate:"omitempty,max=64"`
	BookingID             string          `json:"booking_id,omitempty" validate:"omitempty,max=64"`
	Amount                int64           `json:"amount" validate:"required,gt=0,lte=100000000"`
	ExpectedAmount        *int64          `json:"expected_amount,omitempty" validate:"omitempty,gt=0"`
	PaymentType           string          `json:"payment_type,omitempty" validate:"omitempty,max=32"`
	Method                string          `json:"method" validate:"required,max=32"`
	ProviderID            string          `json:"provider_id,omitempty" validate:"omitempty,max=64"`
	LocationID            string          `json:"location_id,omitempty" validate:"omitempty,max=64"`
	Department            string          `json:"department,omitempty" validate:"omitempty,max=64"`
	WalletID              string          `json:"wallet_id,omitempty" validate:"omitempty,max=64"`
	RecordedBy            string          `json:"recorded_by,omitempty" validate:"omitempty,max=64"`
	Currency              string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	ChargedToOrganization bool            `json:"charged_to_organization,omitempty"`
	Metadata              models.Metadata `json:"metadata,omitempty"`
}

// Record records a payment exactly once. The second return value is
// true when the (tenant, reference) pair was already recorded; the
// caller must treat that as success.
//
// Validation, provider resolution and limit checks fail fast before
// any write. Once the payment row commits, the department-wallet
// credit and the reconciliation record are best-effort: their failure
// is logged and never rolls the payment back.
func (s *PaymentService) Record(ctx context.Context, req *RecordPaymentRequest) (*models.Payment, bool, error) {
	existing, provider, location, currency, err := s.prepareRecord(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	payment, duplicate, err := s.writePaymentTx(ctx, tx, req, provider, currency)
	if err != nil {
		return nil, false, err
	}
	if duplicate {
		return payment, true, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	s.audit.LogPayment(payment.TenantID, payment.ID, req.RecordedBy, payment.Amount, payment.Status)

	// Best-effort fan-out. None of these may fail the recorded payment.
	s.creditDepartmentWallet(location, payment, req)
	s.fileReconciliation(ctx, payment, provider)
	s.notifyPayment(ctx, payment)

	return payment, false, nil
}

// RecordTx records a payment inside a transaction the caller owns, so
// a caller holding its own locks (checkout settlement) commits the
// payment atomically with its other writes. Post-commit fan-out is
// skipped; the caller owns its side effects.
func (s *PaymentService) RecordTx(ctx context.Context, tx *sql.Tx, req *RecordPaymentRequest) (*models.Payment, bool, error) {
	existing, provider, _, currency, err := s.prepareRecord(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}
	return s.writePaymentTx(ctx, tx, req, provider, currency)
}

// prepareRecord is the fail-fast half of recording. The replay lookup
// runs before provider, location and organization-limit checks: a
// reference that was already recorded returns the original row even
// when today's provider or limit state would reject the request, for
// example because the first attempt's own debit raised the
// organization's exposure.
func (s *PaymentService) prepareRecord(ctx context.Context, req *RecordPaymentRequest) (*models.Payment, *models.PaymentProvider, *models.Location, string, error) {
	if req.Amount <= 0 {
		return nil, nil, nil, "", NewServiceError(CodeValidation, "amount must be positive", http.StatusBadRequest)
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	existing, err := s.fetchByRef(ctx, req.TenantID, req.TransactionRef)
	if err == nil {
		log.Printf("[PAYMENT] Duplicate transaction reference %s for tenant %s, returning existing payment %s",
			req.TransactionRef, req.TenantID, existing.ID)
		return existing, nil, nil, currency, nil
	}
	if err != sql.ErrNoRows {
		return nil, nil, nil, "", err
	}

	provider, err := s.resolveProvider(ctx, req.TenantID, req.ProviderID)
	if err != nil {
		return nil, nil, nil, "", err
	}

	location, err := s.resolveLocation(ctx, req.TenantID, req.LocationID)
	if err != nil {
		return nil, nil, nil, "", err
	}
	if location != nil && location.MaxTransactionAmount > 0 && req.Amount > location.MaxTransactionAmount {
		return nil, nil, nil, "", NewServiceError(CodeTransactionLimit, "amount exceeds location transaction limit", http.StatusBadRequest)
	}

	if req.OrganizationID != "" {
		if err := s.orgLimits.Validate(ctx, req.TenantID, req.OrganizationID, req.Amount); err != nil {
			return nil, nil, nil, "", err
		}
	}

	return nil, provider, location, currency, nil
}

// writePaymentTx performs the transactional half: the idempotent
// payment insert, the primary-wallet posting and the over/underpayment
// settlement. The second return value is true when a concurrent writer
// won the insert race and the original row is returned instead.
func (s *PaymentService) writePaymentTx(ctx context.Context, tx *sql.Tx, req *RecordPaymentRequest, provider *models.PaymentProvider, currency string) (*models.Payment, bool, error) {
	status := models.PaymentSuccess
	feePercent := 0.0
	if provider != nil {
		if provider.Kind == models.ProviderCreditDeferred {
			// Deferred credit settles later; no provider fee applies yet.
			status = models.PaymentPending
		} else {
			feePercent = provider.FeePercent
		}
	}
	fee := int64(float64(req.Amount) * feePercent / 100)
	net := req.Amount - fee

	payment := s.buildPayment(req, provider, feePercent, net, status)

	inserted, err := s.insertPaymentTx(tx, payment)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		// Lost the insert race: return the committed row unchanged.
		existing, err := s.fetchByRef(ctx, req.TenantID, req.TransactionRef)
		if err != nil {
			return nil, false, err
		}
		log.Printf("[PAYMENT] Duplicate transaction reference %s for tenant %s, returning existing payment %s",
			req.TransactionRef, req.TenantID, existing.ID)
		return existing, true, nil
	}

	wallet, err := s.resolvePrimaryWalletTx(tx, req, currency)
	if err != nil {
		return nil, false, err
	}
	if wallet != nil {
		direction := models.DirectionCredit
		if req.ChargedToOrganization {
			direction = models.DirectionDebit
		}
		desc := fmt.Sprintf("Payment %s via %s", req.TransactionRef, req.Method)
		if _, err := s.wallets.PostTx(tx, wallet, direction, net, &payment.ID, desc, req.RecordedBy); err != nil {
			return nil, false, err
		}
	}

	if err := s.settleExpectedDifferenceTx(tx, req, payment, currency); err != nil {
		return nil, false, err
	}

	return payment, false, nil
}

func (s *PaymentService) buildPayment(req *RecordPaymentRequest, provider *models.PaymentProvider, feePercent float64, net int64, status string) *models.Payment {
	payment := &models.Payment{
		ID:                    uuid.New().String(),
		TenantID:              req.TenantID,
		TransactionRef:        req.TransactionRef,
		Amount:                req.Amount,
		ExpectedAmount:        req.ExpectedAmount,
		Method:                req.Method,
		ProviderFeePercent:    feePercent,
		NetAmount:             net,
		Status:                status,
		ChargedToOrganization: req.ChargedToOrganization,
		RecordedBy:            req.RecordedBy,
		Metadata:              req.Metadata,
		CreatedAt:             time.Now(),
	}
	if req.GuestID != "" {
		payment.GuestID = &req.GuestID
	}
	if req.OrganizationID != "" {
		payment.OrganizationID = &req.OrganizationID
	}
	if req.BookingID != "" {
		payment.BookingID = &req.BookingID
	}
	if provider != nil {
		payment.ProviderID = &provider.ID
	}
	if req.LocationID != "" {
		payment.LocationID = &req.LocationID
	}

	// Tag the causal detail before the row is written so the metadata
	// commits with the payment.
	if req.ExpectedAmount != nil && req.GuestID != "" {
		diff := req.Amount - *req.ExpectedAmount
		if diff > balanceEpsilon {
			payment.Metadata = mergeMetadata(payment.Metadata, models.OverpaymentDetail{
				PaymentID:      payment.ID,
				ExpectedAmount: *req.ExpectedAmount,
				ActualAmount:   req.Amount,
				Difference:     diff,
			}.Map())
		} else if -diff > balanceEpsilon {
			payment.Metadata = mergeMetadata(payment.Metadata, models.ShortfallDetail{
				PaymentID:      payment.ID,
				ExpectedAmount: *req.ExpectedAmount,
				ActualAmount:   req.Amount,
				Difference:     -diff,
			}.Map())
		}
	}
	return payment
}

// insertPaymentTx inserts the payment row. Idempotency is enforced by
// the unique (tenant_id, transaction_ref) constraint: insert-or-fetch,
// never check-then-insert, so concurrent retries cannot both write.
func (s *PaymentService) insertPaymentTx(tx *sql.Tx, p *models.Payment) (bool, error) {
	result, err := tx.Exec(`
		INSERT INTO payments (id, tenant_id, transaction_ref, guest_id, organization_id, booking_id,
			amount, expected_amount, method, provider_id, provider_fee_percent, net_amount,
			status, charged_to_organization, location_id, recorded_by, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (tenant_id, transaction_ref) DO NOTHING`,
		p.ID, p.TenantID, p.TransactionRef, p.GuestID, p.OrganizationID, p.BookingID,
		p.Amount, p.ExpectedAmount, p.Method, p.ProviderID, p.ProviderFeePercent, p.NetAmount,
		p.Status, p.ChargedToOrganization, p.LocationID, p.RecordedBy, p.Metadata, p.CreatedAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *PaymentService) resolveProvider(ctx context.Context, tenantID, providerID string) (*models.PaymentProvider, error) {
	if providerID == "" {
		return nil, nil
	}

	provider := &models.PaymentProvider{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, kind, fee_percent, active
		FROM payment_providers
		WHERE id = $1 AND tenant_id = $2`, providerID, tenantID).Scan(
		&provider.ID, &provider.TenantID, &provider.Name, &provider.Kind,
		&provider.FeePercent, &provider.Active)
	if err == sql.ErrNoRows {
		return nil, NewServiceError(CodeProviderNotFound, "payment provider not found", http.StatusNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !provider.Active {
		return nil, NewServiceError(CodeProviderNotFound, "payment provider is not active", http.StatusNotFound)
	}
	return provider, nil
}

func (s *PaymentService) resolveLocation(ctx context.Context, tenantID, locationID string) (*models.Location, error) {
	if locationID == "" {
		return nil, nil
	}

	location := &models.Location{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, max_transaction_amount, department_wallet_id
		FROM locations
		WHERE id = $1 AND tenant_id = $2`, locationID, tenantID).Scan(
		&location.ID, &location.TenantID, &location.Name,
		&location.MaxTransactionAmount, &location.DepartmentWalletID)
	if err == sql.ErrNoRows {
		return nil, NewServiceError(CodeLocationNotFound, "location not found", http.StatusNotFound)
	}
	if err != nil {
		return nil, err
	}
	return location, nil
}

// resolvePrimaryWalletTx picks the wallet the net amount posts to. An
// explicit wallet id wins; otherwise an organization payment resolves
// to that organization's wallet, created lazily. A plain guest
// front-desk payment has no primary wallet.
func (s *PaymentService) resolvePrimaryWalletTx(tx *sql.Tx, req *RecordPaymentRequest, currency string) (*models.Wallet, error) {
	switch {
	case req.WalletID != "":
		return s.wallets.LockWalletTx(tx, req.WalletID)
	case req.OrganizationID != "":
		return s.wallets.EnsureWalletTx(tx, req.TenantID, models.OwnerOrganization, req.OrganizationID, currency)
	}
	return nil, nil
}

// settleExpectedDifferenceTx handles over- and underpayment when the
// caller supplied an expected amount and a guest is identified.
// Overpayments credit the guest's wallet; underpayments open a charge
// for the shortfall instead of silently accepting partial payment.
// Exactly one of the two paths can fire for a payment.
func (s *PaymentService) settleExpectedDifferenceTx(tx *sql.Tx, req *RecordPaymentRequest, payment *models.Payment, currency string) error {
	if req.ExpectedAmount == nil || req.GuestID == "" {
		return nil
	}

	diff := req.Amount - *req.ExpectedAmount
	switch {
	case diff > balanceEpsilon:
		guestWallet, err := s.wallets.EnsureWalletTx(tx, req.TenantID, models.OwnerGuest, req.GuestID, currency)
		if err != nil {
			return err
		}
		desc := fmt.Sprintf("Overpayment on %s", req.TransactionRef)
		_, err = s.wallets.PostTx(tx, guestWallet, models.DirectionCredit, diff, &payment.ID, desc, req.RecordedBy)
		return err

	case -diff > balanceEpsilon:
		shortfall := -diff
		var bookingID *string
		if req.BookingID != "" {
			bookingID = &req.BookingID
		}
		_, err := tx.Exec(`
			INSERT INTO charges (id, tenant_id, guest_id, booking_id, payment_id, amount, status, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending', 'underpayment', $7)`,
			uuid.New().String(), req.TenantID, req.GuestID, bookingID, payment.ID, shortfall, time.Now())
		return err
	}
	return nil
}

// creditDepartmentWallet posts the parallel revenue-attribution credit
// for a location with an attached department wallet. Runs after the
// payment commits; failure is a known consistency gap, logged and not
// hidden, never a rollback.
func (s *PaymentService) creditDepartmentWallet(location *models.Location, payment *models.Payment, req *RecordPaymentRequest) {
	if location == nil || location.DepartmentWalletID == nil {
		return
	}

	desc := fmt.Sprintf("Revenue attribution for %s at %s", req.TransactionRef, location.Name)
	if _, err := s.wallets.Post(*location.DepartmentWalletID, models.DirectionCredit, payment.NetAmount, &payment.ID, desc, req.RecordedBy); err != nil {
		log.Printf("[PAYMENT] Department wallet credit failed for payment %s (wallet %s): %v",
			payment.ID, *location.DepartmentWalletID, err)
	}
}

// fileReconciliation files the unmatched record for any non-cash,
// non-deferred-credit payment. Best-effort after commit.
func (s *PaymentService) fileReconciliation(ctx context.Context, payment *models.Payment, provider *models.PaymentProvider) {
	if payment.Method == "cash" {
		return
	}
	if provider != nil && provider.Kind == models.ProviderCreditDeferred {
		return
	}
	if err := s.recon.File(ctx, payment); err != nil {
		log.Printf("[PAYMENT] Failed to file reconciliation record for payment %s: %v", payment.ID, err)
	}
}

func (s *PaymentService) notifyPayment(ctx context.Context, payment *models.Payment) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(payment)
	if err != nil {
		return
	}
	if err := s.redis.RPush(ctx, paymentEventsQueue, data).Err(); err != nil {
		log.Printf("[PAYMENT] Failed to enqueue payment event for %s: %v", payment.ID, err)
	}
}

func (s *PaymentService) fetchByRef(ctx context.Context, tenantID, transactionRef string) (*models.Payment, error) {
	return s.fetchPayment(ctx, `tenant_id = $1 AND transaction_ref = $2`, tenantID, transactionRef)
}

func (s *PaymentService) fetchByID(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.fetchPayment(ctx, `id = $1`, paymentID)
}

func (s *PaymentService) fetchPayment(ctx context.Context, where string, args ...interface{}) (*models.Payment, error) {
	p := &models.Payment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, transaction_ref, guest_id, organization_id, booking_id,
			amount, expected_amount, method, provider_id, provider_fee_percent, net_amount,
			status, charged_to_organization, location_id, recorded_by, metadata, created_at
		FROM payments
		WHERE `+where, args...).Scan(
		&p.ID, &p.TenantID, &p.TransactionRef, &p.GuestID, &p.OrganizationID, &p.BookingID,
		&p.Amount, &p.ExpectedAmount, &p.Method, &p.ProviderID, &p.ProviderFeePercent, &p.NetAmount,
		&p.Status, &p.ChargedToOrganization, &p.LocationID, &p.RecordedBy, &p.Metadata, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func mergeMetadata(base, extra models.Metadata) models.Metadata {
	if base == nil {
		return extra
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// RecordPayment handles payment recording
// @Summary Record an external payment
// @Description Record a payment exactly once, compute fees and post ledger entries
// @Tags payments
// @Accept json
// @Produce json
// @Param payment body RecordPaymentRequest true "Payment data"
// @Success 200 {object} object{success=bool,payment_id=string,payment=models.Payment}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /payments [post]
func (s *PaymentService) RecordPayment(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RecordPaymentRequest
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

	if req.RecordedBy == "" {
		if userID, ok := r.Context().Value("userID").(string); ok {
			req.RecordedBy = userID
		}
	}

	payment, duplicate, err := s.Record(r.Context(), &req)
	if err != nil {
		log.Printf("[PAYMENT] Failed to record payment %s for tenant %s: %v", req.TransactionRef, req.TenantID, err)
		SendServiceError(w, err)
		return
	}

	if duplicate {
		log.Printf("[PAYMENT] Idempotent replay for reference %s", req.TransactionRef)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"payment_id": payment.ID,
		"payment":    payment,
	})
}

// GetPayment retrieves a specific payment
// @Summary Get payment by ID
// @Description Retrieve a payment by its ID
// @Tags payments
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} models.Payment
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /payments/{paymentId} [get]
func (s *PaymentService) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentId")

	payment, err := s.fetchByID(r.Context(), paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Payment not found", "", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch payment", "", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payment)
}

// CreditLimitValidator is the default OrgLimitValidator: spend is
// rejected when the organization's exposure (overdrawn wallet plus
// open receivables) would exceed its credit limit.
type CreditLimitValidator struct {
	db *sql.DB
}

func NewCreditLimitValidator(db *sql.DB) *CreditLimitValidator {
	return &CreditLimitValidator{db: db}
}

func (v *CreditLimitValidator) Validate(ctx context.Context, tenantID, organizationID string, amount int64) error {
	var creditLimit int64
	var active bool
	err := v.db.QueryRowContext(ctx, `
		SELECT credit_limit, active FROM organizations
		WHERE id = $1 AND tenant_id = $2`, organizationID, tenantID).Scan(&creditLimit, &active)
	if err == sql.ErrNoRows {
		return NewServiceError(CodeOrganizationNotFound, "organization not found", http.StatusNotFound)
	}
	if err != nil {
		return err
	}
	if !active {
		return NewServiceError(CodeOrgLimit, "organization is not active", http.StatusBadRequest)
	}
	if creditLimit == 0 {
		return nil
	}

	var overdrawn int64
	err = v.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN balance < 0 THEN -balance ELSE 0 END), 0)
		FROM wallets
		WHERE tenant_id = $1 AND owner_type = 'organization' AND owner_id = $2`,
		tenantID, organizationID).Scan(&overdrawn)
	if err != nil {
		return err
	}

	var openReceivables int64
	err = v.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM receivables
		WHERE tenant_id = $1 AND debtor_type = 'organization' AND debtor_id = $2 AND status = 'open'`,
		tenantID, organizationID).Scan(&openReceivables)
	if err != nil {
		return err
	}

	if overdrawn+openReceivables+amount > creditLimit {
		return NewServiceError(CodeOrgLimit, "organization spend limit exceeded", http.StatusBadRequest)
	}
	return nil
}
