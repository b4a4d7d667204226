package lifecycle

import (
	"testing"

	"marketplace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingMachine(t *testing.T) {
	owners := Owners{ClientID: 1, ProviderID: 2}

	tests := []struct {
		name    string
		from    models.BookingStatus
		action  Action
		actor   int64
		want    models.BookingStatus
		wantErr error
	}{
		{"accept pending", models.BookingPending, ActionAccept, 2, models.BookingAccepted, nil},
		{"reject pending lands in cancelled", models.BookingPending, ActionReject, 2, models.BookingCancelled, nil},
		{"start accepted", models.BookingAccepted, ActionStart, 2, models.BookingInProgress, nil},
		{"complete in progress", models.BookingInProgress, ActionComplete, 2, models.BookingCompleted, nil},
		{"client cancels pending", models.BookingPending, ActionCancel, 1, models.BookingCancelled, nil},
		{"client cancels accepted", models.BookingAccepted, ActionCancel, 1, models.BookingCancelled, nil},

		{"complete from pending", models.BookingPending, ActionComplete, 2, models.BookingPending, ErrInvalidTransition},
		{"complete from accepted", models.BookingAccepted, ActionComplete, 2, models.BookingAccepted, ErrInvalidTransition},
		{"accept twice", models.BookingAccepted, ActionAccept, 2, models.BookingAccepted, ErrInvalidTransition},
		{"cancel completed", models.BookingCompleted, ActionCancel, 1, models.BookingCompleted, ErrInvalidTransition},
		{"cancel in progress", models.BookingInProgress, ActionCancel, 1, models.BookingInProgress, ErrInvalidTransition},
		{"reject accepted", models.BookingAccepted, ActionReject, 2, models.BookingAccepted, ErrInvalidTransition},

		{"wrong provider accepts", models.BookingPending, ActionAccept, 3, models.BookingPending, ErrNotAuthorized},
		{"client accepts own booking", models.BookingPending, ActionAccept, 1, models.BookingPending, ErrNotAuthorized},
		{"provider cancels as client", models.BookingPending, ActionCancel, 2, models.BookingPending, ErrNotAuthorized},
		{"stranger on terminal state", models.BookingCompleted, ActionComplete, 9, models.BookingCompleted, ErrNotAuthorized},
		{"zero actor", models.BookingPending, ActionAccept, 0, models.BookingPending, ErrNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Bookings.Decide(tt.from, tt.action, tt.actor, owners)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBookingTerminalStates(t *testing.T) {
	assert.True(t, Bookings.IsTerminal(models.BookingCompleted))
	assert.True(t, Bookings.IsTerminal(models.BookingCancelled))
	assert.True(t, Bookings.IsTerminal(models.BookingRejected))
	assert.False(t, Bookings.IsTerminal(models.BookingPending))
	assert.False(t, Bookings.IsTerminal(models.BookingInProgress))

	assert.ElementsMatch(t, []Action{ActionAccept, ActionReject, ActionCancel}, Bookings.Actions(models.BookingPending))
	assert.Empty(t, Bookings.Actions(models.BookingCompleted))
}

func TestAllowedActions(t *testing.T) {
	owners := Owners{ClientID: 1, ProviderID: 2}

	assert.Equal(t, []Action{ActionCancel}, Bookings.Allowed(models.BookingPending, 1, owners))
	assert.ElementsMatch(t, []Action{ActionAccept, ActionReject}, Bookings.Allowed(models.BookingPending, 2, owners))
	assert.Equal(t, []Action{ActionStart}, Bookings.Allowed(models.BookingAccepted, 2, owners))
	assert.Equal(t, []Action{ActionCancel}, Bookings.Allowed(models.BookingAccepted, 1, owners))
	assert.Empty(t, Bookings.Allowed(models.BookingPending, 99, owners))
	assert.Empty(t, Bookings.Allowed(models.BookingCompleted, 2, owners))

	assert.Equal(t, []Action{ActionAccept}, Emergencies.Allowed(models.EmergencyPending, 42, Owners{ClientID: 1}))
	assert.Empty(t, Emergencies.Allowed(models.EmergencyPending, 1, Owners{ClientID: 1}))
}

func TestEmergencyMachine(t *testing.T) {
	t.Run("AnyProviderClaimsUnassigned", func(t *testing.T) {
		got, err := Emergencies.Decide(models.EmergencyPending, ActionAccept, 42, Owners{ClientID: 1})
		require.NoError(t, err)
		assert.Equal(t, models.EmergencyAccepted, got)
	})

	t.Run("ClientCannotClaimOwnRequest", func(t *testing.T) {
		_, err := Emergencies.Decide(models.EmergencyPending, ActionAccept, 1, Owners{ClientID: 1})
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("ClaimedIsNotPending", func(t *testing.T) {
		_, err := Emergencies.Decide(models.EmergencyAccepted, ActionAccept, 43, Owners{ClientID: 1, ProviderID: 42})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("OnlyAssigneeStarts", func(t *testing.T) {
		_, err := Emergencies.Decide(models.EmergencyAccepted, ActionStart, 43, Owners{ClientID: 1, ProviderID: 42})
		assert.ErrorIs(t, err, ErrNotAuthorized)

		got, err := Emergencies.Decide(models.EmergencyAccepted, ActionStart, 42, Owners{ClientID: 1, ProviderID: 42})
		require.NoError(t, err)
		assert.Equal(t, models.EmergencyInProgress, got)
	})

	t.Run("CompleteRequiresInProgress", func(t *testing.T) {
		_, err := Emergencies.Decide(models.EmergencyAccepted, ActionComplete, 42, Owners{ClientID: 1, ProviderID: 42})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("NoCancelPath", func(t *testing.T) {
		_, err := Emergencies.Decide(models.EmergencyPending, ActionCancel, 1, Owners{ClientID: 1})
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NotContains(t, Emergencies.Actions(models.EmergencyPending), ActionCancel)
	})

	t.Run("UnassignedStartIsNotAuthorized", func(t *testing.T) {
		_, err := Emergencies.Decide(models.EmergencyPending, ActionStart, 42, Owners{ClientID: 1})
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	assert.True(t, Emergencies.IsTerminal(models.EmergencyCompleted))
	assert.False(t, Emergencies.IsTerminal(models.EmergencyPending))
}
