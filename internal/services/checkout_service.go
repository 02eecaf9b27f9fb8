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

	"github.com/go-redis/redis/v8"
	"github.com/innkeep/backend/internal/audit"
	"github.com/innkeep/backend/internal/models"
)

// Settlement outcomes for a checkout attempt.
const (
	OutcomeAlreadyClosed             = "already_closed"
	OutcomeClosed                    = "closed"
	OutcomeSettledViaExistingPayment = "settled_via_existing_payment"
	OutcomeSettledViaAutoCharge      = "settled_via_auto_charge"
	OutcomeSettledViaReceivable      = "settled_via_receivable"
)

const (
	checkoutNotificationsQueue = "checkout_notifications"
	folioJobsQueue             = "folio_jobs"
)

// CheckoutService decides whether a stay may be closed out when money
// is still owed, and performs the matching side effects. Settlement
// for a booking is serialized by a row lock on the booking, so two
// concurrent attempts cannot both auto-charge.
type CheckoutService struct {
	db          *sql.DB
	redis       *redis.Client
	payments    *PaymentService
	receivables *ReceivableService
	audit       *audit.Logger
	validator   *ValidationHelper
}

func NewCheckoutService(db *sql.DB, redisClient *redis.Client, payments *PaymentService, receivables *ReceivableService) *CheckoutService {
	return &CheckoutService{
		db:          db,
		redis:       redisClient,
		payments:    payments,
		receivables: receivables,
		audit:       audit.NewLogger(db),
		validator:   NewValidationHelper(),
	}
}

// CheckoutResult is the outcome of a settlement attempt.
type CheckoutResult struct {
	Outcome    string          `json:"outcome"`
	BalanceDue int64           `json:"balance_due"`
	Booking    *models.Booking `json:"booking"`
}

// Complete runs the settlement state machine for one booking.
//
// Priority when a balance remains: an existing payment already charged
// to the booking's organization settles it (business policy: checkout
// proceeds even though a balance remains); otherwise an explicit
// auto-charge posts a synthetic payment against the organization
// wallet; otherwise tenant policy may convert the balance to a
// receivable; otherwise checkout is blocked with BALANCE_DUE.
//
// Booking, room and audit updates happen only on a non-blocked
// outcome, inside the settlement transaction. Notification and folio
// jobs fire after commit and never revert the decision.
func (s *CheckoutService) Complete(ctx context.Context, bookingID, staffID string, autoChargeToWallet bool) (*CheckoutResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	booking, err := s.lockBookingTx(tx, bookingID)
	if err != nil {
		return nil, err
	}

	if booking.Status == models.BookingCompleted || booking.Status == models.BookingCheckedOut {
		// Idempotent no-op: a second checkout call succeeds without
		// touching the room or the ledger again.
		return &CheckoutResult{Outcome: OutcomeAlreadyClosed, BalanceDue: 0, Booking: booking}, nil
	}

	paid, err := s.completedPaymentsTotalTx(tx, booking.ID)
	if err != nil {
		return nil, err
	}
	balanceDue := booking.TotalAmount - paid

	outcome := OutcomeClosed
	if balanceDue > balanceEpsilon {
		outcome, err = s.settleOutstandingTx(ctx, tx, booking, staffID, autoChargeToWallet, balanceDue)
		if err != nil {
			return nil, err
		}
	}

	if err := s.closeBookingTx(tx, booking, staffID); err != nil {
		return nil, err
	}
	if err := s.audit.RecordCheckoutTx(tx, booking.TenantID, booking.ID, staffID, outcome, balanceDue); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// Fire-and-forget: checkout notification and folio generation.
	go s.enqueuePostCheckout(booking, balanceDue)

	return &CheckoutResult{Outcome: outcome, BalanceDue: balanceDue, Booking: booking}, nil
}

// settleOutstandingTx evaluates the settlement paths in fixed priority
// order and returns the outcome, or a BALANCE_DUE / WALLET_NOT_FOUND
// error when checkout must not proceed.
func (s *CheckoutService) settleOutstandingTx(ctx context.Context, tx *sql.Tx, booking *models.Booking, staffID string, autoChargeToWallet bool, balanceDue int64) (string, error) {
	if booking.OrganizationID != nil {
		charged, err := s.hasOrganizationPaymentTx(tx, booking.ID)
		if err != nil {
			return "", err
		}
		if charged {
			return OutcomeSettledViaExistingPayment, nil
		}
	}

	if autoChargeToWallet && booking.OrganizationID != nil {
		if err := s.autoChargeTx(ctx, tx, booking, staffID, balanceDue); err != nil {
			return "", err
		}
		return OutcomeSettledViaAutoCharge, nil
	}

	allowDebt, err := s.allowCheckoutWithDebtTx(tx, booking.TenantID)
	if err != nil {
		return "", err
	}
	if allowDebt {
		debtorType, debtorID := models.DebtorGuest, booking.GuestID
		if booking.OrganizationID != nil {
			debtorType, debtorID = models.DebtorOrganization, *booking.OrganizationID
		}
		dueAt := time.Now().AddDate(0, 0, receivableDueDays)
		if _, err := s.receivables.CreateTx(tx, booking.TenantID, debtorType, debtorID, &booking.ID, balanceDue, "checkout with outstanding balance", dueAt); err != nil {
			return "", err
		}
		return OutcomeSettledViaReceivable, nil
	}

	return "", newBalanceDueError(CodeBalanceDue, "outstanding balance blocks checkout", balanceDue)
}

// autoChargeTx posts a synthetic full-balance payment against the
// organization wallet. The deterministic reference makes a retried
// checkout idempotent rather than a double charge.
func (s *CheckoutService) autoChargeTx(ctx context.Context, tx *sql.Tx, booking *models.Booking, staffID string, balanceDue int64) error {
	var walletID string
	err := tx.QueryRow(`
		SELECT id FROM wallets
		WHERE tenant_id = $1 AND owner_type = 'organization' AND owner_id = $2`,
		booking.TenantID, *booking.OrganizationID).Scan(&walletID)
	if err == sql.ErrNoRows {
		return newBalanceDueError(CodeWalletNotFound, "organization wallet not found", balanceDue)
	}
	if err != nil {
		return err
	}

	req := &RecordPaymentRequest{
		TenantID:              booking.TenantID,
		TransactionRef:        fmt.Sprintf("CHK-%s", booking.ID),
		GuestID:               booking.GuestID,
		OrganizationID:        *booking.OrganizationID,
		BookingID:             booking.ID,
		Amount:                balanceDue,
		Method:                "wallet",
		WalletID:              walletID,
		RecordedBy:            staffID,
		ChargedToOrganization: true,
	}
	// The payment joins the settlement transaction: the wallet debit
	// and the booking close commit together or not at all.
	if _, _, err := s.payments.RecordTx(ctx, tx, req); err != nil {
		return err
	}
	return nil
}

func (s *CheckoutService) lockBookingTx(tx *sql.Tx, bookingID string) (*models.Booking, error) {
	booking := &models.Booking{}
	err := tx.QueryRow(`
		SELECT id, tenant_id, room_id, guest_id, organization_id, total_amount, status
		FROM bookings
		WHERE id = $1
		FOR UPDATE`, bookingID).Scan(
		&booking.ID, &booking.TenantID, &booking.RoomID, &booking.GuestID,
		&booking.OrganizationID, &booking.TotalAmount, &booking.Status)
	if err == sql.ErrNoRows {
		return nil, NewServiceError(CodeBookingNotFound, "booking not found", http.StatusNotFound)
	}
	if err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *CheckoutService) completedPaymentsTotalTx(tx *sql.Tx, bookingID string) (int64, error) {
	var total int64
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM payments
		WHERE booking_id = $1 AND status IN ('success', 'completed')`, bookingID).Scan(&total)
	return total, err
}

func (s *CheckoutService) hasOrganizationPaymentTx(tx *sql.Tx, bookingID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM payments
			WHERE booking_id = $1 AND charged_to_organization = true AND status IN ('success', 'completed')
		)`, bookingID).Scan(&exists)
	return exists, err
}

func (s *CheckoutService) allowCheckoutWithDebtTx(tx *sql.Tx, tenantID string) (bool, error) {
	var allowed bool
	err := tx.QueryRow(`
		SELECT allow_checkout_with_debt FROM tenants WHERE id = $1`, tenantID).Scan(&allowed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// closeBookingTx marks the booking completed and releases the room to
// housekeeping with its guest and reservation references cleared.
func (s *CheckoutService) closeBookingTx(tx *sql.Tx, booking *models.Booking, staffID string) error {
	now := time.Now()
	_, err := tx.Exec(`
		UPDATE bookings
		SET status = 'completed', checked_out_by = $1, checked_out_at = $2
		WHERE id = $3`, staffID, now, booking.ID)
	if err != nil {
		return err
	}
	booking.Status = models.BookingCompleted
	booking.CheckedOutBy = &staffID
	booking.CheckedOutAt = &now

	if booking.RoomID != nil {
		_, err = tx.Exec(`
			UPDATE rooms
			SET status = 'cleaning', guest_id = NULL, booking_id = NULL
			WHERE id = $1`, *booking.RoomID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *CheckoutService) enqueuePostCheckout(booking *models.Booking, balanceDue int64) {
	if s.redis == nil {
		return
	}
	ctx := context.Background()

	event, err := json.Marshal(map[string]interface{}{
		"booking_id":  booking.ID,
		"tenant_id":   booking.TenantID,
		"guest_id":    booking.GuestID,
		"balance_due": balanceDue,
	})
	if err != nil {
		return
	}

	if err := s.redis.RPush(ctx, checkoutNotificationsQueue, event).Err(); err != nil {
		log.Printf("[CHECKOUT] Failed to enqueue notification for booking %s: %v", booking.ID, err)
	}
	if err := s.redis.RPush(ctx, folioJobsQueue, event).Err(); err != nil {
		log.Printf("[CHECKOUT] Failed to enqueue folio job for booking %s: %v", booking.ID, err)
	}
}

type completeCheckoutRequest struct {
	BookingID          string `json:"booking_id" validate:"required,max=64"`
	StaffID            string `json:"staff_id" validate:"required,max=64"`
	AutoChargeToWallet bool   `json:"auto_charge_to_wallet,omitempty"`
}

// CompleteCheckout handles checkout settlement
// @Summary Complete a checkout
// @Description Resolve the booking's outstanding balance and close the stay
// @Tags checkout
// @Accept json
// @Produce json
// @Param request body completeCheckoutRequest true "Checkout request"
// @Success 200 {object} object{success=bool,booking=models.Booking,balance_due=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /checkout [post]
func (s *CheckoutService) CompleteCheckout(w http.ResponseWriter, r *http.Request) {
	role, _ := r.Context().Value("role").(string)
	switch role {
	case models.RoleOwner, models.RoleManager, models.RoleFrontdesk:
	default:
		SendErrorResponse(w, "Insufficient role for checkout", CodeForbidden, http.StatusForbidden, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req completeCheckoutRequest
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

	result, err := s.Complete(r.Context(), req.BookingID, req.StaffID, req.AutoChargeToWallet)
	if err != nil {
		log.Printf("[CHECKOUT] Settlement failed for booking %s: %v", req.BookingID, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     true,
		"booking":     result.Booking,
		"balance_due": result.BalanceDue,
		"outcome":     result.Outcome,
	})
}
