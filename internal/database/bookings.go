package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace/internal/models"
)

const bookingColumns = `b.id, b.client_id, b.provider_id, b.service_id, b.requested_at, b.scheduled_at,
	                 b.latitude, b.longitude, b.notes, b.status, b.completed_at, b.cancellation_reason,
	                 EXISTS (SELECT 1 FROM reviews r WHERE r.booking_id = b.id)`

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	query := `INSERT INTO bookings (
				client_id, provider_id, service_id, requested_at, scheduled_at,
				latitude, longitude, notes, status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		booking.ClientID,
		booking.ProviderID,
		booking.ServiceID,
		booking.RequestedAt.UTC(),
		booking.ScheduledAt.UTC(),
		booking.Latitude,
		booking.Longitude,
		booking.Notes,
		booking.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// UpdateBookingStatus applies change only if the row is still in change.From and
// still owned by the actor. A miss returns ErrConcurrentModification and leaves the row untouched.
func (db *DB) UpdateBookingStatus(ctx context.Context, change models.BookingStatusChange) error {
	ownerColumn := "provider_id"
	if change.ByClient {
		ownerColumn = "client_id"
	}

	var completedAt interface{}
	if change.CompletedAt != nil {
		completedAt = change.CompletedAt.UTC()
	}

	query := `UPDATE bookings
              SET status = ?,
                  completed_at = COALESCE(?, completed_at),
                  cancellation_reason = COALESCE(?, cancellation_reason)
              WHERE id = ? AND status = ? AND ` + ownerColumn + ` = ?`
	result, err := db.ExecContext(ctx, query,
		change.To, completedAt, change.Reason,
		change.ID, change.From, change.ActorID,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) ListClientBookings(ctx context.Context, clientID int64, status *models.BookingStatus) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.client_id = ?`
	args := []interface{}{clientID}
	if status != nil {
		query += ` AND b.status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY b.scheduled_at DESC, b.id DESC`
	return db.queryBookings(ctx, query, args...)
}

func (db *DB) ListProviderBookings(ctx context.Context, providerID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.provider_id = ?
              ORDER BY b.scheduled_at DESC, b.id DESC`
	return db.queryBookings(ctx, query, providerID)
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b           models.Booking
		completedAt sql.NullTime
		reason      sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.ClientID, &b.ProviderID, &b.ServiceID, &b.RequestedAt, &b.ScheduledAt,
		&b.Latitude, &b.Longitude, &b.Notes, &b.Status, &completedAt, &reason, &b.HasReview,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	if reason.Valid {
		r := reason.String
		b.CancellationReason = &r
	}
	return &b, nil
}
