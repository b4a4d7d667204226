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

func seedReview(t *testing.T, db *DB, b *models.Booking, rating int) *models.Review {
	t.Helper()
	comment := "great work"
	r := &models.Review{
		BookingID:  b.ID,
		ClientID:   b.ClientID,
		ProviderID: b.ProviderID,
		Rating:     rating,
		Comment:    &comment,
		CreatedAt:  testNow,
		IsVisible:  true,
	}
	require.NoError(t, db.CreateReview(context.Background(), r))
	return r
}

func TestReviewLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := seedBooking(t, db, 1, 2, models.BookingCompleted)
	r := seedReview(t, db, b, 4)

	t.Run("DuplicateBooking", func(t *testing.T) {
		err := db.CreateReview(ctx, &models.Review{
			BookingID: b.ID, ClientID: 1, ProviderID: 2, Rating: 5, CreatedAt: testNow, IsVisible: true,
		})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("BookingShowsReview", func(t *testing.T) {
		got, err := db.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, got.HasReview)
	})

	t.Run("UpdateKeepsCreatedAt", func(t *testing.T) {
		require.NoError(t, db.UpdateReviewContent(ctx, r.ID, 2, nil, true, testNow))

		got, err := db.GetReviewByBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Rating)
		assert.Nil(t, got.Comment)
		assert.True(t, got.IsAnonymous)
		assert.True(t, got.CreatedAt.Equal(testNow))
	})

	t.Run("ModerationMarksAdmin", func(t *testing.T) {
		require.NoError(t, db.SetReviewVisibility(ctx, r.ID, false))

		got, err := db.GetReview(ctx, r.ID)
		require.NoError(t, err)
		assert.False(t, got.IsVisible)
		assert.True(t, got.AdminModerated)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, db.DeleteReview(ctx, r.ID, nil))
		_, err := db.GetReview(ctx, r.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, db.DeleteReview(ctx, r.ID, nil), ErrNotFound)
	})
}

func TestReviewWritesRespectEditWindow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := seedBooking(t, db, 1, 2, models.BookingCompleted)
	r := seedReview(t, db, b, 4)

	closed := testNow.Add(time.Nanosecond)
	err := db.UpdateReviewContent(ctx, r.ID, 1, nil, false, closed)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	err = db.DeleteReview(ctx, r.ID, &closed)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := db.GetReview(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Rating, "late write must not land")

	assert.ErrorIs(t, db.UpdateReviewContent(ctx, 999, 1, nil, false, testNow), ErrNotFound)

	open := testNow
	require.NoError(t, db.UpdateReviewContent(ctx, r.ID, 5, nil, false, open), "boundary is inclusive")
	require.NoError(t, db.DeleteReview(ctx, r.ID, &open))
}

func TestListReviewsFilter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	visible := seedReview(t, db, seedBooking(t, db, 1, 2, models.BookingCompleted), 5)
	hidden := seedReview(t, db, seedBooking(t, db, 3, 2, models.BookingCompleted), 1)
	require.NoError(t, db.SetReviewVisibility(ctx, hidden.ID, false))

	all, err := db.ListReviews(ctx, models.ReviewFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	no := false
	onlyHidden, err := db.ListReviews(ctx, models.ReviewFilter{Visible: &no})
	require.NoError(t, err)
	require.Len(t, onlyHidden, 1)
	assert.Equal(t, hidden.ID, onlyHidden[0].ID)

	unmoderated, err := db.ListReviews(ctx, models.ReviewFilter{Moderated: &no})
	require.NoError(t, err)
	require.Len(t, unmoderated, 1)
	assert.Equal(t, visible.ID, unmoderated[0].ID)

	page, err := db.ListProviderReviews(ctx, 2, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 1, "hidden reviews are not listed publicly")

	counts, err := db.ProviderRatingCounts(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{5: 1}, counts)
}

func TestRecomputeProviderRating(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	empty, err := db.GetProviderRating(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalReviews)

	seedReview(t, db, seedBooking(t, db, 1, 2, models.BookingCompleted), 5)
	seedReview(t, db, seedBooking(t, db, 3, 2, models.BookingCompleted), 4)
	hidden := seedReview(t, db, seedBooking(t, db, 4, 2, models.BookingCompleted), 4)
	seedReview(t, db, seedBooking(t, db, 5, 2, models.BookingCompleted), 4)
	require.NoError(t, db.SetReviewVisibility(ctx, hidden.ID, false))

	at := testNow.Add(time.Hour)
	rating, err := db.RecomputeProviderRating(ctx, 2, at)
	require.NoError(t, err)
	assert.Equal(t, 3, rating.TotalReviews)
	assert.Equal(t, 4.3, rating.AverageRating)

	stored, err := db.GetProviderRating(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 4.3, stored.AverageRating)
	assert.Equal(t, 3, stored.TotalReviews)
	assert.True(t, stored.UpdatedAt.Equal(at))
}

func TestConcurrentRecomputeSeesEveryReview(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const n = 8
	bookings := make([]*models.Booking, n)
	for i := range bookings {
		bookings[i] = seedBooking(t, db, int64(10+i), 2, models.BookingCompleted)
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(b *models.Booking) {
			defer wg.Done()
			r := &models.Review{BookingID: b.ID, ClientID: b.ClientID, ProviderID: 2, Rating: 5, CreatedAt: testNow, IsVisible: true}
			if err := db.CreateReview(ctx, r); err != nil {
				t.Errorf("create review: %v", err)
				return
			}
			if _, err := db.RecomputeProviderRating(ctx, 2, testNow); err != nil {
				t.Errorf("recompute: %v", err)
			}
		}(bookings[i])
	}
	wg.Wait()

	stored, err := db.GetProviderRating(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, n, stored.TotalReviews)
	assert.Equal(t, 5.0, stored.AverageRating)
}

func TestRoundRating(t *testing.T) {
	assert.Equal(t, 4.3, roundRating(13.0/3.0))
	assert.Equal(t, 4.7, roundRating(14.0/3.0))
	assert.Equal(t, 0.0, roundRating(0))
}
