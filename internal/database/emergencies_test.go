package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketplace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEmergency(t *testing.T, db *DB, clientID int64) *models.EmergencyRequest {
	t.Helper()
	e := &models.EmergencyRequest{
		ClientID:    clientID,
		ServiceID:   3,
		Latitude:    33.9,
		Longitude:   35.5,
		Details:     "burst pipe in the kitchen",
		RequestedAt: testNow,
		Status:      models.EmergencyPending,
	}
	require.NoError(t, db.CreateEmergency(context.Background(), e))
	return e
}

func TestAcceptEmergency(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	e := seedEmergency(t, db, 1)

	got, err := db.GetEmergency(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, got.Claimed())
	assert.Nil(t, got.AcceptedAt)

	acceptedAt := testNow.Add(time.Minute)
	require.NoError(t, db.AcceptEmergency(ctx, e.ID, 42, acceptedAt))

	got, err = db.GetEmergency(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyAccepted, got.Status)
	assert.Equal(t, int64(42), got.AssignedTo())
	require.NotNil(t, got.AcceptedAt)
	assert.True(t, got.AcceptedAt.Equal(acceptedAt))

	t.Run("SecondAcceptFails", func(t *testing.T) {
		err := db.AcceptEmergency(ctx, e.ID, 43, acceptedAt)
		assert.ErrorIs(t, err, ErrAlreadyClaimed)

		got, err := db.GetEmergency(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(42), got.AssignedTo(), "provider must never change once set")
	})

	t.Run("MissingRowIsAlreadyClaimed", func(t *testing.T) {
		err := db.AcceptEmergency(ctx, 9999, 43, acceptedAt)
		assert.ErrorIs(t, err, ErrAlreadyClaimed)
	})
}

func TestAcceptEmergencyRollsBackFailedClaim(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	e := seedEmergency(t, db, 1)

	// the guard read succeeds, the claiming UPDATE fails
	_, err := db.ExecContext(ctx, `CREATE TRIGGER fail_claim BEFORE UPDATE ON emergencies
		BEGIN SELECT RAISE(ABORT, 'disk I/O error'); END`)
	require.NoError(t, err)

	err = db.AcceptEmergency(ctx, e.ID, 42, testNow.Add(time.Minute))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyClaimed, "a storage failure is not a lost race")
	assert.Contains(t, err.Error(), "failed to claim emergency")

	got, err := db.GetEmergency(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, got.Claimed())
	assert.Equal(t, models.EmergencyPending, got.Status)
	assert.Nil(t, got.AcceptedAt)

	_, err = db.ExecContext(ctx, `DROP TRIGGER fail_claim`)
	require.NoError(t, err)

	require.NoError(t, db.AcceptEmergency(ctx, e.ID, 43, testNow.Add(2*time.Minute)), "nothing was left locked")
	got, err = db.GetEmergency(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(43), got.AssignedTo())
}

func TestConcurrentAcceptEmergency(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	e := seedEmergency(t, db, 1)

	const numProviders = 16
	var wg sync.WaitGroup
	wg.Add(numProviders)

	type result struct {
		providerID int64
		err        error
	}
	results := make(chan result, numProviders)
	start := make(chan struct{})

	for i := 0; i < numProviders; i++ {
		go func(providerID int64) {
			defer wg.Done()
			<-start
			results <- result{providerID: providerID, err: db.AcceptEmergency(ctx, e.ID, providerID, testNow)}
		}(int64(100 + i))
	}
	close(start)

	wg.Wait()
	close(results)

	var winners []int64
	claimed := 0
	for r := range results {
		if r.err == nil {
			winners = append(winners, r.providerID)
			continue
		}
		assert.ErrorIs(t, r.err, ErrAlreadyClaimed)
		claimed++
	}

	require.Len(t, winners, 1, "exactly one provider must win the claim")
	assert.Equal(t, numProviders-1, claimed)

	got, err := db.GetEmergency(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.AssignedTo())
	assert.Equal(t, models.EmergencyAccepted, got.Status)
}

func TestUpdateEmergencyStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	e := seedEmergency(t, db, 1)
	require.NoError(t, db.AcceptEmergency(ctx, e.ID, 42, testNow))

	err := db.UpdateEmergencyStatus(ctx, models.EmergencyStatusChange{
		ID: e.ID, From: models.EmergencyAccepted, To: models.EmergencyInProgress, ProviderID: 43,
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	require.NoError(t, db.UpdateEmergencyStatus(ctx, models.EmergencyStatusChange{
		ID: e.ID, From: models.EmergencyAccepted, To: models.EmergencyInProgress, ProviderID: 42,
	}))

	done := testNow.Add(time.Hour)
	require.NoError(t, db.UpdateEmergencyStatus(ctx, models.EmergencyStatusChange{
		ID: e.ID, From: models.EmergencyInProgress, To: models.EmergencyCompleted, ProviderID: 42, CompletedAt: &done,
	}))

	got, err := db.GetEmergency(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done))
}

func TestListEmergencies(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := seedEmergency(t, db, 1)
	second := seedEmergency(t, db, 2)
	seedEmergency(t, db, 1)
	require.NoError(t, db.AcceptEmergency(ctx, second.ID, 42, testNow))

	pending, err := db.ListPendingEmergencies(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)

	none, err := db.ListPendingEmergencies(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, none)

	mine, err := db.ListClientEmergencies(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = db.GetEmergency(ctx, 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}
