package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"
)

const reviewColumns = `id, booking_id, client_id, provider_id, rating, comment, created_at,
	                 is_visible, is_anonymous, admin_moderated`

// CreateReview inserts a review. A second review for the same booking returns ErrDuplicate.
func (db *DB) CreateReview(ctx context.Context, review *models.Review) error {
	query := `INSERT INTO reviews (
				booking_id, client_id, provider_id, rating, comment, created_at,
				is_visible, is_anonymous, admin_moderated
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		review.BookingID,
		review.ClientID,
		review.ProviderID,
		review.Rating,
		review.Comment,
		review.CreatedAt.UTC(),
		review.IsVisible,
		review.IsAnonymous,
		review.AdminModerated,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("review for booking %d: %w", review.BookingID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	review.ID = id
	return nil
}

func (db *DB) GetReview(ctx context.Context, id int64) (*models.Review, error) {
	return db.getReview(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id)
}

func (db *DB) GetReviewByBooking(ctx context.Context, bookingID int64) (*models.Review, error) {
	return db.getReview(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE booking_id = ?`, bookingID)
}

func (db *DB) getReview(ctx context.Context, query string, arg int64) (*models.Review, error) {
	r, err := scanReview(db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review %d: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return r, nil
}

// UpdateReviewContent rewrites the client-editable fields of a review created at or
// after editableSince. created_at is never touched. An older review is left as is and
// ErrConcurrentModification is returned.
func (db *DB) UpdateReviewContent(
	ctx context.Context, id int64, rating int, comment *string, anonymous bool, editableSince time.Time,
) error {
	query := `UPDATE reviews SET rating = ?, comment = ?, is_anonymous = ?
              WHERE id = ? AND created_at >= ?`
	result, err := db.ExecContext(ctx, query, rating, comment, anonymous, id, editableSince.UTC())
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}
	return db.expectEditable(ctx, result, id)
}

// SetReviewVisibility is the moderation write: it also marks the review as admin moderated.
func (db *DB) SetReviewVisibility(ctx context.Context, id int64, visible bool) error {
	query := `UPDATE reviews SET is_visible = ?, admin_moderated = 1 WHERE id = ?`
	result, err := db.ExecContext(ctx, query, visible, id)
	if err != nil {
		return fmt.Errorf("failed to moderate review: %w", err)
	}
	return expectOne(result, "review", id)
}

// DeleteReview removes a review. With a non-nil editableSince only a review created at
// or after it is removed, otherwise ErrConcurrentModification is returned.
func (db *DB) DeleteReview(ctx context.Context, id int64, editableSince *time.Time) error {
	if editableSince == nil {
		result, err := db.ExecContext(ctx, `DELETE FROM reviews WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete review: %w", err)
		}
		return expectOne(result, "review", id)
	}

	result, err := db.ExecContext(ctx, `DELETE FROM reviews WHERE id = ? AND created_at >= ?`, id, editableSince.UTC())
	if err != nil {
		return fmt.Errorf("failed to delete review: %w", err)
	}
	return db.expectEditable(ctx, result, id)
}

// expectEditable tells a missing review apart from one that fell out of the edit window.
func (db *DB) expectEditable(ctx context.Context, result sql.Result, id int64) error {
	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var exists int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check review: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("review %d: %w", id, ErrNotFound)
	}
	return fmt.Errorf("review %d is past its edit window: %w", id, ErrConcurrentModification)
}

// ListProviderReviews pages through a provider's visible reviews, newest first.
func (db *DB) ListProviderReviews(ctx context.Context, providerID int64, limit, offset int) ([]*models.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews
              WHERE provider_id = ? AND is_visible = 1
              ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	return db.queryReviews(ctx, query, providerID, limit, offset)
}

// ProviderRatingCounts returns the number of visible reviews per star value.
func (db *DB) ProviderRatingCounts(ctx context.Context, providerID int64) (map[int]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT rating, COUNT(*) FROM reviews WHERE provider_id = ? AND is_visible = 1 GROUP BY rating`,
		providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count provider ratings: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var rating, count int
		if err := rows.Scan(&rating, &count); err != nil {
			return nil, fmt.Errorf("failed to scan rating count: %w", err)
		}
		counts[rating] = count
	}
	return counts, rows.Err()
}

// ListReviews is the admin listing; nil filter fields match everything.
func (db *DB) ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE 1 = 1`
	var args []interface{}
	if filter.Visible != nil {
		query += ` AND is_visible = ?`
		args = append(args, *filter.Visible)
	}
	if filter.Moderated != nil {
		query += ` AND admin_moderated = ?`
		args = append(args, *filter.Moderated)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	return db.queryReviews(ctx, query, args...)
}

func (db *DB) queryReviews(ctx context.Context, query string, args ...interface{}) ([]*models.Review, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var out []*models.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReview(row rowScanner) (*models.Review, error) {
	var (
		r       models.Review
		comment sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.BookingID, &r.ClientID, &r.ProviderID, &r.Rating, &comment, &r.CreatedAt,
		&r.IsVisible, &r.IsAnonymous, &r.AdminModerated,
	)
	if err != nil {
		return nil, err
	}
	if comment.Valid {
		c := comment.String
		r.Comment = &c
	}
	return &r, nil
}

func expectOne(result sql.Result, kind string, id int64) error {
	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}
