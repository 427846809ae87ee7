package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sentriapp/shift-engine/pkg/core/model"
)

// LoadAvailability returns the personnel's declared availability rules.
// Rules are stored whole; occurrence expansion over the window happens in
// the availability resolver, so the query ignores from/to.
func (d *DB) LoadAvailability(ctx context.Context, personnelID string, from, to time.Time) ([]model.AvailabilityRule, error) {
	ctx, cancel := d.readCtx(ctx)
	defer cancel()

	rows, err := d.pool.Query(ctx, `
		SELECT id, personnel_id, rrule, duration_minutes
		FROM availability_rule
		WHERE personnel_id = $1
	`, personnelID)
	if err != nil {
		return nil, timeoutErr("load availability", fmt.Errorf("failed to query availability rules: %w", err))
	}
	defer rows.Close()

	var rules []model.AvailabilityRule
	for rows.Next() {
		var r model.AvailabilityRule
		if err := rows.Scan(&r.ID, &r.PersonnelID, &r.RRule, &r.DurationMinutes); err != nil {
			return nil, fmt.Errorf("failed to scan availability rule: %w", err)
		}
		rules = append(rules, r)
	}

	if err := rows.Err(); err != nil {
		return nil, timeoutErr("load availability", fmt.Errorf("error iterating availability rules: %w", err))
	}

	return rules, nil
}

// LoadPastAssignments returns the personnel's assignment history plus any
// live accepted/checked-in shifts, so overlap checks see in-flight work.
func (d *DB) LoadPastAssignments(ctx context.Context, personnelID string) ([]model.Assignment, error) {
	ctx, cancel := d.readCtx(ctx)
	defer cancel()

	rows, err := d.pool.Query(ctx, `
		SELECT shift_id, personnel_id, venue_id, start_at, end_at, status, hours_worked, rating
		FROM assignment
		WHERE personnel_id = $1
		UNION ALL
		SELECT id, personnel_id, venue_id, scheduled_start, scheduled_end, status, 0, 0
		FROM shift
		WHERE personnel_id = $1 AND status IN ('accepted', 'checked_in')
	`, personnelID)
	if err != nil {
		return nil, timeoutErr("load past assignments", fmt.Errorf("failed to query assignments: %w", err))
	}
	defer rows.Close()

	var assignments []model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ShiftID, &a.PersonnelID, &a.VenueID, &a.Start, &a.End,
			&a.Status, &a.HoursWorked, &a.Rating); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, timeoutErr("load past assignments", fmt.Errorf("error iterating assignments: %w", err))
	}

	return assignments, nil
}
