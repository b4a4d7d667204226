package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"marketplace/internal/database"
	"marketplace/internal/events"
	"marketplace/internal/lifecycle"
	"marketplace/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBookingRepo struct {
	mock.Mock
}

func (m *mockBookingRepo) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockBookingRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockBookingRepo) UpdateBookingStatus(ctx context.Context, change models.BookingStatusChange) error {
	return m.Called(ctx, change).Error(0)
}

func (m *mockBookingRepo) ListClientBookings(ctx context.Context, clientID int64, status *models.BookingStatus) ([]*models.Booking, error) {
	args := m.Called(ctx, clientID, status)
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func (m *mockBookingRepo) ListProviderBookings(ctx context.Context, providerID int64) ([]*models.Booking, error) {
	args := m.Called(ctx, providerID)
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func TestBookingHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)

	b, err := env.bookings.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, b.Status)
	assert.Equal(t, testNow, b.RequestedAt.UTC())

	require.NoError(t, env.bookings.Accept(ctx, id, 2))
	require.NoError(t, env.bookings.Start(ctx, id, 2))

	env.clock.Set(testNow.Add(3 * time.Hour))
	require.NoError(t, env.bookings.Complete(ctx, id, 2))

	b, err = env.bookings.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, b.Status)
	require.NotNil(t, b.CompletedAt)
	assert.Equal(t, testNow.Add(3*time.Hour), b.CompletedAt.UTC())
	assert.Nil(t, b.CancellationReason)

	assert.Len(t, env.notifier.For(2), 1, "provider hears about the new request")
	assert.Len(t, env.notifier.For(1), 3, "client hears about accept, start and completion")
	assert.Equal(t, []string{
		events.EventBookingCreated, events.EventBookingAccepted,
		events.EventBookingStarted, events.EventBookingCompleted,
	}, env.events())
}

func TestCompleteRequiresInProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)

	assert.ErrorIs(t, env.bookings.Complete(ctx, id, 2), ErrInvalidTransition)
	b, _ := env.bookings.GetBooking(ctx, id)
	assert.Equal(t, models.BookingPending, b.Status)

	require.NoError(t, env.bookings.Accept(ctx, id, 2))
	assert.ErrorIs(t, env.bookings.Complete(ctx, id, 2), ErrInvalidTransition)
	b, _ = env.bookings.GetBooking(ctx, id)
	assert.Equal(t, models.BookingAccepted, b.Status)
	assert.Nil(t, b.CompletedAt)
}

func TestAcceptTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)

	require.NoError(t, env.bookings.Accept(ctx, id, 2))
	assert.ErrorIs(t, env.bookings.Accept(ctx, id, 2), ErrInvalidTransition)
}

func TestAvailableActionsFollowState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)
	b, err := env.bookings.GetBooking(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, []lifecycle.Action{lifecycle.ActionCancel}, env.bookings.AvailableActions(b, 1))
	assert.Equal(t, []lifecycle.Action{lifecycle.ActionAccept, lifecycle.ActionReject}, env.bookings.AvailableActions(b, 2))
	assert.Empty(t, env.bookings.AvailableActions(b, 3))

	require.NoError(t, env.bookings.Accept(ctx, id, 2))
	b, err = env.bookings.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.Action{lifecycle.ActionStart}, env.bookings.AvailableActions(b, 2))
}

func TestBookingOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)

	assert.ErrorIs(t, env.bookings.Accept(ctx, id, 3), ErrNotAuthorized)
	assert.ErrorIs(t, env.bookings.Accept(ctx, id, 1), ErrNotAuthorized)
	assert.ErrorIs(t, env.bookings.CancelByClient(ctx, id, 2, "not mine"), ErrNotAuthorized)
	assert.ErrorIs(t, env.bookings.Accept(ctx, 999, 2), ErrNotFound)

	b, _ := env.bookings.GetBooking(ctx, id)
	assert.Equal(t, models.BookingPending, b.Status)
}

func TestRejectLandsInCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)
	require.NoError(t, env.bookings.Reject(ctx, id, 2, "  fully booked  "))

	b, err := env.bookings.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, b.Status)
	require.NotNil(t, b.CancellationReason)
	assert.Equal(t, "fully booked", *b.CancellationReason)

	clientNotes := env.notifier.For(1)
	require.Len(t, clientNotes, 1)
	assert.Contains(t, clientNotes[0].Message, "Reason: fully booked")
}

func TestCancelByClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)
	require.NoError(t, env.bookings.CancelByClient(ctx, pending, 1, "changed plans"))

	accepted, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)
	require.NoError(t, env.bookings.Accept(ctx, accepted, 2))
	require.NoError(t, env.bookings.CancelByClient(ctx, accepted, 1, ""))

	b, _ := env.bookings.GetBooking(ctx, accepted)
	assert.Equal(t, models.BookingCancelled, b.Status)
	assert.Nil(t, b.CancellationReason)

	started, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)
	require.NoError(t, env.bookings.Accept(ctx, started, 2))
	require.NoError(t, env.bookings.Start(ctx, started, 2))
	assert.ErrorIs(t, env.bookings.CancelByClient(ctx, started, 1, "too late"), ErrInvalidTransition)
}

func TestCancelCompletedBookingLeavesNoReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.completedBooking(t, 1, 2)
	err := env.bookings.CancelByClient(ctx, id, 1, "want a refund")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	b, err := env.bookings.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, b.Status)
	assert.Nil(t, b.CancellationReason)
}

func TestCreateBookingValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.BookingRequest)
	}{
		{"same user", func(r *models.BookingRequest) { r.ProviderID = r.ClientID }},
		{"missing client", func(r *models.BookingRequest) { r.ClientID = 0 }},
		{"missing service", func(r *models.BookingRequest) { r.ServiceID = 0 }},
		{"no schedule", func(r *models.BookingRequest) { r.ScheduledAt = time.Time{} }},
		{"latitude", func(r *models.BookingRequest) { r.Latitude = 91 }},
		{"longitude", func(r *models.BookingRequest) { r.Longitude = -181 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := bookingRequest(1, 2)
			tt.mutate(&req)
			_, err := env.bookings.CreateBooking(ctx, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	list, err := env.bookings.ListClientBookings(ctx, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, list, "nothing reaches the store")
}

func TestReasonTooLong(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)

	long := make([]rune, models.MaxReasonLength+1)
	for i := range long {
		long[i] = 'x'
	}
	assert.ErrorIs(t, env.bookings.Reject(ctx, id, 2, string(long)), ErrValidation)
}

func TestNotifierFailureDoesNotFailTransition(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("redis down")
	ctx := context.Background()

	id, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)
	require.NoError(t, env.bookings.Accept(ctx, id, 2))
}

func TestConcurrentAcceptBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.bookings.CreateBooking(ctx, bookingRequest(1, 2))
	require.NoError(t, err)

	const callers = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- env.bookings.Accept(ctx, id, 2)
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, 1, ok)
}

func TestGuardedUpdateMissIsExplained(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	pending := &models.Booking{ID: 5, ClientID: 1, ProviderID: 2, Status: models.BookingPending}
	cancelled := &models.Booking{ID: 5, ClientID: 1, ProviderID: 2, Status: models.BookingCancelled}

	repo := new(mockBookingRepo)
	repo.On("GetBooking", ctx, int64(5)).Return(pending, nil).Once()
	repo.On("UpdateBookingStatus", ctx, mock.MatchedBy(func(c models.BookingStatusChange) bool {
		return c.From == models.BookingPending && c.To == models.BookingAccepted && !c.ByClient && c.ActorID == 2
	})).Return(database.ErrConcurrentModification).Once()
	repo.On("GetBooking", ctx, int64(5)).Return(cancelled, nil).Once()

	svc := NewBookingService(repo, nil, nil, &testClock{t: testNow}, &logger)
	err := svc.Accept(ctx, 5, 2)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	repo.AssertExpectations(t)
}

func TestCancelUsesClientGuard(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	repo := new(mockBookingRepo)
	repo.On("GetBooking", ctx, int64(9)).
		Return(&models.Booking{ID: 9, ClientID: 1, ProviderID: 2, Status: models.BookingAccepted}, nil)
	repo.On("UpdateBookingStatus", ctx, mock.MatchedBy(func(c models.BookingStatusChange) bool {
		return c.ByClient && c.ActorID == 1 && c.To == models.BookingCancelled &&
			c.Reason != nil && *c.Reason == "sick" && c.CompletedAt == nil
	})).Return(nil)

	svc := NewBookingService(repo, nil, nil, &testClock{t: testNow}, &logger)
	require.NoError(t, svc.CancelByClient(ctx, 9, 1, "sick"))
	repo.AssertExpectations(t)
}
