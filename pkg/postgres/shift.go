package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sentriapp/shift-engine/pkg/core/model"
	"github.com/sentriapp/shift-engine/pkg/db"
)

// LoadShift fetches one shift by ID.
func (d *DB) LoadShift(ctx context.Context, id string) (*model.Shift, error) {
	ctx, cancel := d.readCtx(ctx)
	defer cancel()

	var s model.Shift
	var personnelID, cancelActor, cancelReason *string
	err := d.pool.QueryRow(ctx, `
		SELECT id, booking_id, venue_id, role, required_certs, personnel_id,
		       hourly_rate_pence, scheduled_start, scheduled_end, status,
		       venue_lat, venue_lng, geofence_radius_m, version,
		       cancel_actor, cancel_reason
		FROM shift
		WHERE id = $1
	`, id).Scan(
		&s.ID, &s.BookingID, &s.VenueID, &s.Role, &s.RequiredCerts, &personnelID,
		&s.HourlyRatePence, &s.ScheduledStart, &s.ScheduledEnd, &s.Status,
		&s.VenueLat, &s.VenueLng, &s.GeofenceRadiusM, &s.Version,
		&cancelActor, &cancelReason,
	)
	if err != nil {
		if noRows(err) {
			return nil, &model.NotFoundError{Kind: "shift", ID: id}
		}
		return nil, timeoutErr("load shift", fmt.Errorf("failed to query shift: %w", err))
	}

	if personnelID != nil {
		s.PersonnelID = *personnelID
	}
	if cancelActor != nil {
		s.CancelActor = *cancelActor
	}
	if cancelReason != nil {
		s.CancelReason = *cancelReason
	}

	return &s, nil
}

// SaveShiftStatus performs the conditional status write: the UPDATE only
// lands if the stored status still equals expected. A zero row count with
// an existing shift means another writer won the race.
func (d *DB) SaveShiftStatus(ctx context.Context, id string, expected, next model.ShiftStatus, meta db.StatusMetadata) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE shift
		SET status = $3,
		    version = version + 1,
		    personnel_id = COALESCE(NULLIF($4, ''), personnel_id),
		    cancel_actor = COALESCE(NULLIF($5, ''), cancel_actor),
		    cancel_reason = COALESCE(NULLIF($6, ''), cancel_reason),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, expected, next, meta.PersonnelID, meta.Actor, meta.Reason)
	if err != nil {
		return fmt.Errorf("failed to update shift status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		exists, err := d.shiftExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return &model.NotFoundError{Kind: "shift", ID: id}
		}
		return &model.ConflictError{
			Reason: fmt.Sprintf("shift %s is no longer %s", id, expected),
		}
	}

	return nil
}

// ListOverdueAccepted returns accepted shifts scheduled to start at or
// before cutoff, for the no-show sweep.
func (d *DB) ListOverdueAccepted(ctx context.Context, cutoff time.Time) ([]model.Shift, error) {
	ctx, cancel := d.readCtx(ctx)
	defer cancel()

	rows, err := d.pool.Query(ctx, `
		SELECT id, booking_id, venue_id, role, personnel_id,
		       hourly_rate_pence, scheduled_start, scheduled_end, status
		FROM shift
		WHERE status = 'accepted' AND scheduled_start <= $1
	`, cutoff)
	if err != nil {
		return nil, timeoutErr("list overdue accepted", fmt.Errorf("failed to query overdue shifts: %w", err))
	}
	defer rows.Close()

	var shifts []model.Shift
	for rows.Next() {
		var s model.Shift
		var personnelID *string
		if err := rows.Scan(&s.ID, &s.BookingID, &s.VenueID, &s.Role, &personnelID,
			&s.HourlyRatePence, &s.ScheduledStart, &s.ScheduledEnd, &s.Status); err != nil {
			return nil, fmt.Errorf("failed to scan shift: %w", err)
		}
		if personnelID != nil {
			s.PersonnelID = *personnelID
		}
		shifts = append(shifts, s)
	}

	if err := rows.Err(); err != nil {
		return nil, timeoutErr("list overdue accepted", fmt.Errorf("error iterating shifts: %w", err))
	}

	return shifts, nil
}

func (d *DB) shiftExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shift WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check shift existence: %w", err)
	}
	return exists, nil
}
