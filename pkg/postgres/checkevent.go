package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sentriapp/shift-engine/pkg/core/model"
)

// AppendCheckEvent records an immutable check event. The unique index on
// (shift_id, kind) enforces at most one event per kind per shift; the
// violation surfaces as a ConflictError.
func (d *DB) AppendCheckEvent(ctx context.Context, event *model.CheckEvent) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO check_event (id, shift_id, personnel_id, kind, occurred_at,
		                         latitude, longitude, accuracy_m, within_geofence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ID, event.ShiftID, event.PersonnelID, event.Kind, event.Timestamp,
		event.Latitude, event.Longitude, event.AccuracyM, event.WithinGeofence)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &model.ConflictError{
				Reason: fmt.Sprintf("shift %s already has a check-%s event", event.ShiftID, event.Kind),
			}
		}
		return fmt.Errorf("failed to insert check event: %w", err)
	}
	return nil
}

// LoadCheckEvents returns the shift's check events in chronological order.
func (d *DB) LoadCheckEvents(ctx context.Context, shiftID string) ([]model.CheckEvent, error) {
	ctx, cancel := d.readCtx(ctx)
	defer cancel()

	rows, err := d.pool.Query(ctx, `
		SELECT id, shift_id, personnel_id, kind, occurred_at,
		       latitude, longitude, accuracy_m, within_geofence
		FROM check_event
		WHERE shift_id = $1
		ORDER BY occurred_at
	`, shiftID)
	if err != nil {
		return nil, timeoutErr("load check events", fmt.Errorf("failed to query check events: %w", err))
	}
	defer rows.Close()

	var checkEvents []model.CheckEvent
	for rows.Next() {
		var e model.CheckEvent
		if err := rows.Scan(&e.ID, &e.ShiftID, &e.PersonnelID, &e.Kind, &e.Timestamp,
			&e.Latitude, &e.Longitude, &e.AccuracyM, &e.WithinGeofence); err != nil {
			return nil, fmt.Errorf("failed to scan check event: %w", err)
		}
		checkEvents = append(checkEvents, e)
	}

	if err := rows.Err(); err != nil {
		return nil, timeoutErr("load check events", fmt.Errorf("error iterating check events: %w", err))
	}

	return checkEvents, nil
}

// noRows reports whether err is pgx's no-rows sentinel.
func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
