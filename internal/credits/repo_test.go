package credits

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupCreditsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	accounts := `
CREATE TABLE IF NOT EXISTS credit_accounts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  balance INTEGER NOT NULL DEFAULT 0,
  first_free_used INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (balance >= 0)
);`
	require.NoError(t, db.Exec(accounts).Error)
	return db
}

func TestRepositoryEnsureAccount_idempotent(t *testing.T) {
	db := setupCreditsTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()

	first, err := repo.EnsureAccount(context.Background(), userID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Balance)

	second, err := repo.EnsureAccount(context.Background(), userID, 100)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.Balance, "existing account keeps its balance")
}

func TestRepositoryDebit_conditional(t *testing.T) {
	db := setupCreditsTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()

	_, err := repo.EnsureAccount(context.Background(), userID, 10)
	require.NoError(t, err)

	ok, err := repo.Debit(context.Background(), userID, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Debit(context.Background(), userID, 1)
	require.NoError(t, err)
	assert.False(t, ok, "debit below zero must be rejected")

	account, err := repo.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, account.Balance)
}

func TestRepositoryDebit_doubleSubmit(t *testing.T) {
	db := setupCreditsTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()

	_, err := repo.EnsureAccount(context.Background(), userID, 10)
	require.NoError(t, err)

	wins := 0
	for i := 0; i < 5; i++ {
		ok, err := repo.Debit(context.Background(), userID, 10)
		require.NoError(t, err)
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "only one of repeated debits may win")

	account, err := repo.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, account.Balance)
}

func TestRepositoryCredit_missingAccount(t *testing.T) {
	db := setupCreditsTestDB(t)
	repo := NewRepository(db)

	err := repo.Credit(context.Background(), uuid.New(), 5)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryConsumeFirstFreeGrant_singleWinner(t *testing.T) {
	db := setupCreditsTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()

	_, err := repo.EnsureAccount(context.Background(), userID, 0)
	require.NoError(t, err)

	ok, err := repo.ConsumeFirstFreeGrant(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ConsumeFirstFreeGrant(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, ok, "grant may only be consumed once")
}

func TestRepositoryRestoreFirstFreeGrant_handsBackGrant(t *testing.T) {
	db := setupCreditsTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()

	_, err := repo.EnsureAccount(context.Background(), userID, 0)
	require.NoError(t, err)

	ok, err := repo.ConsumeFirstFreeGrant(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.RestoreFirstFreeGrant(context.Background(), userID))

	ok, err = repo.ConsumeFirstFreeGrant(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, ok, "restored grant must be consumable again")

	// restoring an already clear flag is a no-op
	require.NoError(t, repo.RestoreFirstFreeGrant(context.Background(), userID))
	require.NoError(t, repo.RestoreFirstFreeGrant(context.Background(), userID))
}
