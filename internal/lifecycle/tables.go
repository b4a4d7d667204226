package lifecycle

import "marketplace/internal/models"

// Bookings: Pending -> Accepted -> InProgress -> Completed, Pending -> Cancelled (provider reject),
// Pending|Accepted -> Cancelled (client cancel). Rejects intentionally land in Cancelled with a reason.
var Bookings = NewMachine("booking", []Transition[models.BookingStatus]{
	{From: models.BookingPending, Action: ActionAccept, To: models.BookingAccepted, Role: RoleProvider},
	{From: models.BookingPending, Action: ActionReject, To: models.BookingCancelled, Role: RoleProvider},
	{From: models.BookingAccepted, Action: ActionStart, To: models.BookingInProgress, Role: RoleProvider},
	{From: models.BookingInProgress, Action: ActionComplete, To: models.BookingCompleted, Role: RoleProvider},
	{From: models.BookingPending, Action: ActionCancel, To: models.BookingCancelled, Role: RoleClient},
	{From: models.BookingAccepted, Action: ActionCancel, To: models.BookingCancelled, Role: RoleClient},
})

// Emergencies have no cancel path; declining is a no-op for the provider.
var Emergencies = NewMachine("emergency", []Transition[models.EmergencyStatus]{
	{From: models.EmergencyPending, Action: ActionAccept, To: models.EmergencyAccepted, Role: RoleAnyProvider},
	{From: models.EmergencyAccepted, Action: ActionStart, To: models.EmergencyInProgress, Role: RoleProvider},
	{From: models.EmergencyInProgress, Action: ActionComplete, To: models.EmergencyCompleted, Role: RoleProvider},
})
