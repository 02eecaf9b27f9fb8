package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/innkeep/backend/internal/models"
)

// balanceEpsilon is the rounding tolerance for settlement decisions.
// Amounts are stored in minor units, so one unit corresponds to the
// 0.01 major-unit tolerance used across the platform.
const balanceEpsilon int64 = 1

// WalletService owns wallet rows and their append-only ledger. The
// cached balance column is only ever written in the same transaction
// that appends an entry, under a row lock, so it always equals the
// signed sum of the wallet's entries after commit.
type WalletService struct {
	db *sql.DB
}

func NewWalletService(db *sql.DB) *WalletService {
	return &WalletService{db: db}
}

// EnsureWalletTx returns the wallet for the given owner, creating it
// lazily on first credit/debit. The returned row stays locked for the
// duration of tx.
func (s *WalletService) EnsureWalletTx(tx *sql.Tx, tenantID, ownerType, ownerID, currency string) (*models.Wallet, error) {
	_, err := tx.Exec(`
		INSERT INTO wallets (id, tenant_id, owner_type, owner_id, currency, balance, allow_negative, version, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, false, 1, true, NOW(), NOW())
		ON CONFLICT (tenant_id, owner_type, owner_id) DO NOTHING`,
		uuid.New().String(), tenantID, ownerType, ownerID, currency)
	if err != nil {
		return nil, err
	}

	wallet := &models.Wallet{}
	err = tx.QueryRow(`
		SELECT id, tenant_id, owner_type, owner_id, currency, balance, allow_negative, version, active
		FROM wallets
		WHERE tenant_id = $1 AND owner_type = $2 AND owner_id = $3
		FOR UPDATE`, tenantID, ownerType, ownerID).Scan(
		&wallet.ID, &wallet.TenantID, &wallet.OwnerType, &wallet.OwnerID,
		&wallet.Currency, &wallet.Balance, &wallet.AllowNegative, &wallet.Version, &wallet.Active)
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// LockWalletTx loads a wallet by id with a row lock held for tx.
func (s *WalletService) LockWalletTx(tx *sql.Tx, walletID string) (*models.Wallet, error) {
	wallet := &models.Wallet{}
	err := tx.QueryRow(`
		SELECT id, tenant_id, owner_type, owner_id, currency, balance, allow_negative, version, active
		FROM wallets
		WHERE id = $1
		FOR UPDATE`, walletID).Scan(
		&wallet.ID, &wallet.TenantID, &wallet.OwnerType, &wallet.OwnerID,
		&wallet.Currency, &wallet.Balance, &wallet.AllowNegative, &wallet.Version, &wallet.Active)
	if err == sql.ErrNoRows {
		return nil, NewServiceError(CodeWalletNotFound, "wallet not found", http.StatusBadRequest)
	}
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// PostTx appends one ledger entry against a locked wallet and moves
// the cached balance in the same transaction. Entries are immutable;
// corrections are posted as reversing entries, never updated.
func (s *WalletService) PostTx(tx *sql.Tx, wallet *models.Wallet, direction string, amount int64, paymentID *string, description, createdBy string) (*models.LedgerEntry, error) {
	if !wallet.Active {
		return nil, errWalletInactive
	}
	if amount <= 0 {
		return nil, NewServiceError(CodeValidation, "entry amount must be positive", http.StatusBadRequest)
	}
	if direction != models.DirectionCredit && direction != models.DirectionDebit {
		return nil, NewServiceError(CodeValidation, "invalid entry direction", http.StatusBadRequest)
	}

	delta := amount
	if direction == models.DirectionDebit {
		delta = -amount
	}
	newBalance := wallet.Balance + delta

	if newBalance < 0 && direction == models.DirectionDebit {
		allowed, err := s.negativeAllowedTx(tx, wallet)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, NewServiceError(CodeInsufficientBalance, "debit would overdraw wallet", http.StatusBadRequest)
		}
	}

	entry := &models.LedgerEntry{
		WalletID:     wallet.ID,
		Direction:    direction,
		Amount:       amount,
		BalanceAfter: newBalance,
		PaymentID:    paymentID,
		Description:  description,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now(),
	}

	err := tx.QueryRow(`
		INSERT INTO wallet_transactions (wallet_id, direction, amount, balance_after, payment_id, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		entry.WalletID, entry.Direction, entry.Amount, entry.BalanceAfter,
		entry.PaymentID, entry.Description, entry.CreatedBy, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return nil, err
	}

	if err := s.updateBalanceTx(tx, wallet.ID, newBalance, wallet.Version); err != nil {
		return nil, err
	}
	wallet.Balance = newBalance
	wallet.Version++

	return entry, nil
}

// Post appends one entry in its own transaction.
func (s *WalletService) Post(walletID, direction string, amount int64, paymentID *string, description, createdBy string) (*models.LedgerEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	wallet, err := s.LockWalletTx(tx, walletID)
	if err != nil {
		return nil, err
	}

	entry, err := s.PostTx(tx, wallet, direction, amount, paymentID, description, createdBy)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// Transfer moves amount between two wallets: debit source, credit
// destination, both visible or neither. Wallets are locked in a
// consistent order to prevent deadlocks.
func (s *WalletService) Transfer(fromWalletID, toWalletID string, amount int64, description, createdBy string) error {
	if fromWalletID == toWalletID {
		return NewServiceError(CodeValidation, "cannot transfer to the same wallet", http.StatusBadRequest)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	firstLock, secondLock := fromWalletID, toWalletID
	if fromWalletID > toWalletID {
		firstLock, secondLock = toWalletID, fromWalletID
	}

	first, err := s.LockWalletTx(tx, firstLock)
	if err != nil {
		return err
	}
	second, err := s.LockWalletTx(tx, secondLock)
	if err != nil {
		return err
	}

	from, to := first, second
	if firstLock != fromWalletID {
		from, to = second, first
	}

	if _, err := s.PostTx(tx, from, models.DirectionDebit, amount, nil, description, createdBy); err != nil {
		return err
	}
	if _, err := s.PostTx(tx, to, models.DirectionCredit, amount, nil, description, createdBy); err != nil {
		return err
	}

	return tx.Commit()
}

// Balance returns the cached wallet balance.
func (s *WalletService) Balance(walletID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`SELECT balance FROM wallets WHERE id = $1`, walletID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, NewServiceError(CodeWalletNotFound, "wallet not found", http.StatusNotFound)
	}
	return balance, err
}

// ComputedBalance derives the balance from the entries themselves.
// Used by consistency checks; must always equal Balance after commit.
func (s *WalletService) ComputedBalance(walletID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)
		FROM wallet_transactions
		WHERE wallet_id = $1`, walletID).Scan(&balance)
	return balance, err
}

// Entries lists a wallet's ledger, newest first.
func (s *WalletService) Entries(walletID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, wallet_id, direction, amount, balance_after, payment_id, description, created_by, created_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Direction, &e.Amount, &e.BalanceAfter,
			&e.PaymentID, &e.Description, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Deactivate marks a wallet inactive. Wallets are never deleted.
func (s *WalletService) Deactivate(walletID string) error {
	result, err := s.db.Exec(`UPDATE wallets SET active = false, updated_at = NOW() WHERE id = $1`, walletID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return NewServiceError(CodeWalletNotFound, "wallet not found", http.StatusNotFound)
	}
	return nil
}

func (s *WalletService) updateBalanceTx(tx *sql.Tx, walletID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), walletID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for wallet %s", walletID)
	}
	return nil
}

// negativeAllowedTx reports whether a wallet may go below zero. A
// wallet flag wins; otherwise an organization-owned wallet defers to
// the organization's allow_negative_balance setting.
func (s *WalletService) negativeAllowedTx(tx *sql.Tx, wallet *models.Wallet) (bool, error) {
	if wallet.AllowNegative {
		return true, nil
	}
	if wallet.OwnerType != models.OwnerOrganization {
		return false, nil
	}

	var allowed bool
	err := tx.QueryRow(`
		SELECT allow_negative_balance FROM organizations
		WHERE id = $1 AND tenant_id = $2`, wallet.OwnerID, wallet.TenantID).Scan(&allowed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return allowed, nil
}

var errWalletInactive = NewServiceError(CodeValidation, "wallet is not active", http.StatusBadRequest)

// GetWalletBalance returns a wallet's cached balance
// @Summary Get wallet balance
// @Description Returns the cached balance, which equals the signed sum of the wallet's ledger entries
// @Tags wallets
// @Produce json
// @Param walletId path string true "Wallet ID"
// @Success 200 {object} object{wallet_id=string,balance=int64}
// @Failure 404 {object} ErrorResponse
// @Router /wallets/{walletId}/balance [get]
func (s *WalletService) GetWalletBalance(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "walletId")

	balance, err := s.Balance(walletID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"wallet_id": walletID,
		"balance":   balance,
	})
}

// ListWalletEntries lists a wallet's ledger entries
// @Summary List wallet ledger entries
// @Description Returns the wallet's immutable ledger entries, newest first
// @Tags wallets
// @Produce json
// @Param walletId path string true "Wallet ID"
// @Param limit query int false "Maximum entries to return (default 50)"
// @Success 200 {array} models.LedgerEntry
// @Failure 404 {object} ErrorResponse
// @Router /wallets/{walletId}/entries [get]
func (s *WalletService) ListWalletEntries(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "walletId")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := s.Entries(walletID, limit)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
