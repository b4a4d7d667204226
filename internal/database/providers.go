package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"marketplace/internal/models"
)

// RecomputeProviderRating rebuilds a provider's aggregate from its visible reviews.
// Read and upsert share one immediate transaction, so two racing recomputations
// serialize and the later one always sees every committed review.
func (db *DB) RecomputeProviderRating(ctx context.Context, providerID int64, at time.Time) (*models.ProviderRating, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var (
		total int
		avg   sql.NullFloat64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(rating) FROM reviews WHERE provider_id = ? AND is_visible = 1`,
		providerID).Scan(&total, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reviews: %w", err)
	}

	rating := &models.ProviderRating{
		ProviderID:    providerID,
		AverageRating: roundRating(avg.Float64),
		TotalReviews:  total,
		UpdatedAt:     at.UTC(),
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO provider_ratings (provider_id, average_rating, total_reviews, updated_at)
              VALUES (?, ?, ?, ?)
              ON CONFLICT(provider_id) DO UPDATE SET
                average_rating = excluded.average_rating,
                total_reviews = excluded.total_reviews,
                updated_at = excluded.updated_at`,
		rating.ProviderID, rating.AverageRating, rating.TotalReviews, rating.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store provider rating: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit provider rating: %w", err)
	}
	return rating, nil
}

// GetProviderRating returns a zero aggregate for providers that were never rated.
func (db *DB) GetProviderRating(ctx context.Context, providerID int64) (*models.ProviderRating, error) {
	rating := &models.ProviderRating{ProviderID: providerID}
	err := db.QueryRowContext(ctx,
		`SELECT average_rating, total_reviews, updated_at FROM provider_ratings WHERE provider_id = ?`,
		providerID).Scan(&rating.AverageRating, &rating.TotalReviews, &rating.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rating, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider rating: %w", err)
	}
	return rating, nil
}

// roundRating keeps one decimal place.
func roundRating(avg float64) float64 {
	return math.Round(avg*10) / 10
}
