package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"
)

const emergencyColumns = `id, client_id, service_id, provider_id, latitude, longitude, details,
	                 requested_at, accepted_at, status, completed_at`

func (db *DB) CreateEmergency(ctx context.Context, e *models.EmergencyRequest) error {
	query := `INSERT INTO emergencies (
				client_id, service_id, latitude, longitude, details, requested_at, status
			) VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		e.ClientID,
		e.ServiceID,
		e.Latitude,
		e.Longitude,
		e.Details,
		e.RequestedAt.UTC(),
		e.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create emergency: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	return nil
}

func (db *DB) GetEmergency(ctx context.Context, id int64) (*models.EmergencyRequest, error) {
	query := `SELECT ` + emergencyColumns + ` FROM emergencies WHERE id = ?`
	e, err := scanEmergency(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("emergency %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get emergency: %w", err)
	}
	return e, nil
}

// AcceptEmergency claims the emergency for providerID.
//
// The transaction begins IMMEDIATE, so the row is read under the write lock and
// the UPDATE re-checks provider_id IS NULL itself. Of N concurrent callers exactly
// one commits; the rest get ErrAlreadyClaimed. A missing row is also ErrAlreadyClaimed.
func (db *DB) AcceptEmergency(ctx context.Context, id, providerID int64, at time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. Read and guard inside the transaction
	var (
		current sql.NullInt64
		status  models.EmergencyStatus
	)
	err = tx.QueryRowContext(ctx, `SELECT provider_id, status FROM emergencies WHERE id = ?`, id).
		Scan(&current, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("emergency %d not found: %w", id, ErrAlreadyClaimed)
	}
	if err != nil {
		return fmt.Errorf("failed to read emergency in tx: %w", err)
	}
	if current.Valid || status != models.EmergencyPending {
		return fmt.Errorf("emergency %d held by provider %d: %w", id, current.Int64, ErrAlreadyClaimed)
	}

	// 2. Claim
	result, err := tx.ExecContext(ctx, `UPDATE emergencies
              SET provider_id = ?, accepted_at = ?, status = ?
              WHERE id = ? AND provider_id IS NULL AND status = ?`,
		providerID, at.UTC(), models.EmergencyAccepted,
		id, models.EmergencyPending,
	)
	if err != nil {
		return fmt.Errorf("failed to claim emergency in tx: %w", err)
	}
	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("emergency %d: %w", id, ErrAlreadyClaimed)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit emergency claim: %w", err)
	}
	return nil
}

// UpdateEmergencyStatus moves a claimed emergency forward for its assignee only.
func (db *DB) UpdateEmergencyStatus(ctx context.Context, change models.EmergencyStatusChange) error {
	var completedAt interface{}
	if change.CompletedAt != nil {
		completedAt = change.CompletedAt.UTC()
	}

	query := `UPDATE emergencies
              SET status = ?, completed_at = COALESCE(?, completed_at)
              WHERE id = ? AND status = ? AND provider_id = ?`
	result, err := db.ExecContext(ctx, query,
		change.To, completedAt,
		change.ID, change.From, change.ProviderID,
	)
	if err != nil {
		return fmt.Errorf("failed to update emergency status: %w", err)
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

// ListPendingEmergencies returns unclaimed emergencies, oldest first. serviceID 0 matches every service.
func (db *DB) ListPendingEmergencies(ctx context.Context, serviceID int64) ([]*models.EmergencyRequest, error) {
	query := `SELECT ` + emergencyColumns + ` FROM emergencies
              WHERE status = ? AND provider_id IS NULL AND (? = 0 OR service_id = ?)
              ORDER BY requested_at ASC, id ASC`
	return db.queryEmergencies(ctx, query, models.EmergencyPending, serviceID, serviceID)
}

func (db *DB) ListClientEmergencies(ctx context.Context, clientID int64) ([]*models.EmergencyRequest, error) {
	query := `SELECT ` + emergencyColumns + ` FROM emergencies WHERE client_id = ?
              ORDER BY requested_at DESC, id DESC`
	return db.queryEmergencies(ctx, query, clientID)
}

func (db *DB) queryEmergencies(ctx context.Context, query string, args ...interface{}) ([]*models.EmergencyRequest, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list emergencies: %w", err)
	}
	defer rows.Close()

	var out []*models.EmergencyRequest
	for rows.Next() {
		e, err := scanEmergency(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan emergency: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmergency(row rowScanner) (*models.EmergencyRequest, error) {
	var (
		e           models.EmergencyRequest
		providerID  sql.NullInt64
		acceptedAt  sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.ClientID, &e.ServiceID, &providerID, &e.Latitude, &e.Longitude, &e.Details,
		&e.RequestedAt, &acceptedAt, &e.Status, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if providerID.Valid {
		id := providerID.Int64
		e.ProviderID = &id
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		e.AcceptedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return &e, nil
}
