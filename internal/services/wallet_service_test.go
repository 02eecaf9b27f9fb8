package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/innkeep/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func walletRows(id string, balance int64, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "owner_type", "owner_id", "currency", "balance", "allow_negative", "version", "active",
	}).AddRow(id, "tenant1", models.OwnerGuest, "guest1", "USD", balance, false, version, true)
}

func TestWalletService_Post(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db)

	t.Run("credit moves balance and appends entry", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tenant_id, owner_type, owner_id, currency, balance, allow_negative, version, active").
			WithArgs("wallet1").
			WillReturnRows(walletRows("wallet1", 5000, 1))

		mock.ExpectQuery("INSERT INTO wallet_transactions").
			WithArgs("wallet1", models.DirectionCredit, int64(1000), int64(6000),
				nil, "room service refund", "staff1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(6000), sqlmock.AnyArg(), "wallet1", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		entry, err := service.Post("wallet1", models.DirectionCredit, 1000, nil, "room service refund", "staff1")
		assert.NoError(t, err)
		assert.Equal(t, int64(6000), entry.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit that would overdraw is rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tenant_id, owner_type, owner_id, currency, balance, allow_negative, version, active").
			WithArgs("wallet1").
			WillReturnRows(walletRows("wallet1", 500, 1))

		mock.ExpectRollback()

		_, err := service.Post("wallet1", models.DirectionDebit, 1000, nil, "minibar", "staff1")
		assert.Error(t, err)

		svcErr, ok := AsServiceError(err)
		assert.True(t, ok)
		assert.Equal(t, CodeInsufficientBalance, svcErr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("organization wallet may overdraw when the org allows it", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tenant_id, owner_type, owner_id, currency, balance, allow_negative, version, active").
			WithArgs("wallet2").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "tenant_id", "owner_type", "owner_id", "currency", "balance", "allow_negative", "version", "active",
			}).AddRow("wallet2", "tenant1", models.OwnerOrganization, "org1", "USD", int64(500), false, 1, true))

		mock.ExpectQuery("SELECT allow_negative_balance FROM organizations").
			WithArgs("org1", "tenant1").
			WillReturnRows(sqlmock.NewRows([]string{"allow_negative_balance"}).AddRow(true))

		mock.ExpectQuery("INSERT INTO wallet_transactions").
			WithArgs("wallet2", models.DirectionDebit, int64(1000), int64(-500),
				nil, "corporate folio", "staff1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(-500), sqlmock.AnyArg(), "wallet2", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		entry, err := service.Post("wallet2", models.DirectionDebit, 1000, nil, "corporate folio", "staff1")
		assert.NoError(t, err)
		assert.Equal(t, int64(-500), entry.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tenant_id, owner_type, owner_id, currency, balance, allow_negative, version, active").
			WithArgs("wallet1").
			WillReturnRows(walletRows("wallet1", 5000, 1))

		mock.ExpectRollback()

		_, err := service.Post("wallet1", models.DirectionCredit, 0, nil, "noop", "staff1")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive wallet rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tenant_id, owner_type, owner_id, currency, balance, allow_negative, version, active").
			WithArgs("wallet3").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "tenant_id", "owner_type", "owner_id", "currency", "balance", "allow_negative", "version", "active",
			}).AddRow("wallet3", "tenant1", models.OwnerGuest, "guest3", "USD", int64(100), false, 1, false))

		mock.ExpectRollback()

		_, err := service.Post("wallet3", models.DirectionCredit, 100, nil, "late credit", "staff1")
		assert.ErrorIs(t, err, errWalletInactive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db)

	t.Run("locks wallets in id order", func(t *testing.T) {
		// walletB sorts before walletZ, so it must be locked first even
		// though it is the destination.
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tenant_id, owner_type, owner_id, currency, balance, allow_negative, version, active").
			WithArgs("walletB").
			WillReturnRows(walletRows("walletB", 2000, 1))

		mock.ExpectQuery("SELECT id, tenant_id, owner_type, owner_id, currency, balance, allow_negative, version, active").
			WithArgs("walletZ").
			WillReturnRows(walletRows("walletZ", 5000, 1))

		// Debit source walletZ
		mock.ExpectQuery("INSERT INTO wallet_transactions").
			WithArgs("walletZ", models.DirectionDebit, int64(1000), int64(4000),
				nil, "department sweep", "system", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(4000), sqlmock.AnyArg(), "walletZ", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Credit destination walletB
		mock.ExpectQuery("INSERT INTO wallet_transactions").
			WithArgs("walletB", models.DirectionCredit, int64(1000), int64(3000),
				nil, "department sweep", "system", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(3000), sqlmock.AnyArg(), "walletB", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		err := service.Transfer("walletZ", "walletB", 1000, "department sweep", "system")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("same wallet rejected", func(t *testing.T) {
		err := service.Transfer("wallet1", "wallet1", 1000, "loop", "system")
		assert.Error(t, err)
	})
}

func TestWalletService_updateBalanceTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db)

	t.Run("optimistic lock failure", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(4000), sqlmock.AnyArg(), "wallet1", 1).
			WillReturnResult(sqlmock.NewResult(1, 0)) // No rows affected

		err := service.updateBalanceTx(tx, "wallet1", 4000, 1)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "optimistic lock failed")
	})
}

func TestWalletService_ComputedBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(CASE WHEN direction = 'credit' THEN amount ELSE -amount END\\), 0\\)").
		WithArgs("wallet1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(4200)))

	balance, err := service.ComputedBalance("wallet1")
	assert.NoError(t, err)
	assert.Equal(t, int64(4200), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}
