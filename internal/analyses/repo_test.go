package analyses

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
)

func setupAnalysesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	jobs := `
CREATE TABLE IF NOT EXISTS analysis_jobs (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  profile_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  period TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payload TEXT,
  error_reason TEXT,
  credits_used INTEGER NOT NULL DEFAULT 0,
  started_at DATETIME,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	naturalKey := `
CREATE UNIQUE INDEX IF NOT EXISTS uq_analysis_jobs_natural_key
  ON analysis_jobs(user_id, profile_id, kind, period)
  WHERE status <> 'failed';`
	require.NoError(t, db.Exec(jobs).Error)
	require.NoError(t, db.Exec(naturalKey).Error)
	return db
}

func testKey() NaturalKey {
	return NaturalKey{
		UserID:    uuid.New(),
		ProfileID: uuid.New(),
		Kind:      enums.AnalysisKindYearly,
		Period:    "2026",
	}
}

func newJob(key NaturalKey) *models.AnalysisJob {
	return &models.AnalysisJob{
		UserID:      key.UserID,
		ProfileID:   key.ProfileID,
		Kind:        key.Kind,
		Period:      key.Period,
		Status:      enums.AnalysisStatusPending,
		CreditsUsed: 10,
	}
}

func TestRepositoryCreateIfAbsent_returnsWinnerOnConflict(t *testing.T) {
	db := setupAnalysesTestDB(t)
	repo := NewRepository(db)
	key := testKey()

	first, created, err := repo.CreateIfAbsent(context.Background(), newJob(key))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.CreateIfAbsent(context.Background(), newJob(key))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID, "loser must receive the winner's job")
}

func TestRepositoryCreateIfAbsent_failedRowDoesNotBlock(t *testing.T) {
	db := setupAnalysesTestDB(t)
	repo := NewRepository(db)
	key := testKey()

	first, created, err := repo.CreateIfAbsent(context.Background(), newJob(key))
	require.NoError(t, err)
	require.True(t, created)

	ok, err := repo.Transition(context.Background(), first.ID,
		enums.AnalysisStatusPending, enums.AnalysisStatusFailed,
		map[string]any{"error_reason": "generation timed out"})
	require.NoError(t, err)
	require.True(t, ok)

	retry, created, err := repo.CreateIfAbsent(context.Background(), newJob(key))
	require.NoError(t, err)
	assert.True(t, created, "failed rows fall out of the unique index")
	assert.NotEqual(t, first.ID, retry.ID)
}

func TestRepositoryTransition_guardedOnSourceState(t *testing.T) {
	db := setupAnalysesTestDB(t)
	repo := NewRepository(db)

	job, _, err := repo.CreateIfAbsent(context.Background(), newJob(testKey()))
	require.NoError(t, err)

	ok, err := repo.Transition(context.Background(), job.ID,
		enums.AnalysisStatusPending, enums.AnalysisStatusInProgress, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// A duplicate delivery loses the CAS without an error.
	ok, err = repo.Transition(context.Background(), job.ID,
		enums.AnalysisStatusPending, enums.AnalysisStatusInProgress, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Transition(context.Background(), job.ID,
		enums.AnalysisStatusInProgress, enums.AnalysisStatusCompleted,
		map[string]any{"payload": []byte(`{"summary":"ok"}`)})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.AnalysisStatusCompleted, got.Status)
	assert.NotEmpty(t, got.Payload)
}

func TestRepositoryGetByNaturalKey_ignoresFailed(t *testing.T) {
	db := setupAnalysesTestDB(t)
	repo := NewRepository(db)
	key := testKey()

	job, _, err := repo.CreateIfAbsent(context.Background(), newJob(key))
	require.NoError(t, err)

	got, err := repo.GetByNaturalKey(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)

	ok, err := repo.Transition(context.Background(), job.ID,
		enums.AnalysisStatusPending, enums.AnalysisStatusFailed,
		map[string]any{"error_reason": "boom"})
	require.NoError(t, err)
	require.True(t, ok)

	got, err = repo.GetByNaturalKey(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, got)
}
