package models

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingAccepted   BookingStatus = "accepted"
	BookingRejected   BookingStatus = "rejected" // kept for parity, provider rejects land in BookingCancelled
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

type EmergencyStatus string

const (
	EmergencyPending    EmergencyStatus = "pending"
	EmergencyAccepted   EmergencyStatus = "accepted"
	EmergencyInProgress EmergencyStatus = "in_progress"
	EmergencyCompleted  EmergencyStatus = "completed"
	EmergencyCancelled  EmergencyStatus = "cancelled"
)

type NotificationType string

const (
	NotificationBooking   NotificationType = "booking"
	NotificationEmergency NotificationType = "emergency"
	NotificationReview    NotificationType = "review"
)

const (
	// DefaultEditWindowDays срок, в течение которого клиент может изменить отзыв
	DefaultEditWindowDays = 7

	MinRating = 1
	MaxRating = 5

	MaxCommentLength      = 1000
	MaxDetailsLength      = 2000
	MaxNotesLength        = 1000
	MaxReasonLength       = 500
	MaxNotificationLength = 500

	// DefaultPageSize размер страницы отзывов по умолчанию
	DefaultPageSize = 10

	// DefaultNotificationsLimit количество уведомлений в выдаче по умолчанию
	DefaultNotificationsLimit = 20
)
