package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentriapp/shift-engine/pkg/core/broadcaster"
	"github.com/sentriapp/shift-engine/pkg/core/events"
	"github.com/sentriapp/shift-engine/pkg/core/geo"
	"github.com/sentriapp/shift-engine/pkg/core/model"
	"github.com/sentriapp/shift-engine/pkg/core/scorer"
	"github.com/sentriapp/shift-engine/pkg/db"
)

// Policy holds the lifecycle timing rules.
type Policy struct {
	// EarlyCheckInWindow is how far before scheduled start a check-in is
	// permitted.
	EarlyCheckInWindow time.Duration

	// NoShowGrace is how long after scheduled start an accepted shift may
	// sit without a check-in before the sweep marks it no-show.
	NoShowGrace time.Duration
}

// DefaultPolicy returns the documented default lifecycle policy.
func DefaultPolicy() Policy {
	return Policy{
		EarlyCheckInWindow: 30 * time.Minute,
		NoShowGrace:        15 * time.Minute,
	}
}

// Engine owns the canonical shift lifecycle: it ranks candidates, starts
// the offer cascade, validates geofenced check-in/out, computes pay, and
// enforces the state machine's transition rules. All collaborators are
// injected; the engine holds no global state.
type Engine struct {
	store       db.Store
	roster      db.Roster
	scorer      *scorer.Scorer
	broadcaster *broadcaster.Broadcaster
	emitter     events.Emitter
	policy      Policy
	logger      *zap.Logger

	// now is swappable in tests
	now func() time.Time
}

// New wires an Engine to its collaborators.
func New(store db.Store, roster db.Roster, sc *scorer.Scorer, bc *broadcaster.Broadcaster, emitter events.Emitter, policy Policy, logger *zap.Logger) *Engine {
	return &Engine{
		store:       store,
		roster:      roster,
		scorer:      sc,
		broadcaster: bc,
		emitter:     emitter,
		policy:      policy,
		logger:      logger,
		now:         time.Now,
	}
}

// Assign resolves one open shift: it lists roster candidates, filters and
// ranks them, and starts the offer cascade for the best candidate. If no
// candidate survives the availability gate the shift is marked unfilled
// immediately and a nil offer is returned.
func (e *Engine) Assign(ctx context.Context, shiftID string) (*model.Offer, error) {
	shift, err := e.store.LoadShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if err := shift.Validate(); err != nil {
		return nil, err
	}
	if shift.Status != model.StatusPending {
		return nil, &model.InvalidTransitionError{
			From:   shift.Status,
			To:     model.StatusOffered,
			Reason: "only pending shifts can be assigned",
		}
	}

	candidates, err := e.roster.ListCandidates(ctx, shift)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates for shift %s: %w", shiftID, err)
	}

	ranked, err := e.scorer.Rank(ctx, shift, candidates, e.now())
	if err != nil {
		return nil, err
	}

	if len(ranked) == 0 {
		e.logger.Warn("no eligible candidates for shift", zap.String("shift_id", shiftID))
		err = e.store.SaveShiftStatus(ctx, shiftID, model.StatusPending, model.StatusUnfilled, db.StatusMetadata{})
		if err != nil {
			return nil, fmt.Errorf("failed to mark shift %s unfilled: %w", shiftID, err)
		}
		e.emitter.Emit(&events.ShiftUnfilled{ShiftID: shiftID, UnfilledAt: e.now()})
		return nil, nil
	}

	return e.broadcaster.StartOffer(ctx, shift, ranked)
}

// Accept resolves an acceptance attempt against a pending offer. Exactly
// one concurrent attempt succeeds; losers get ErrOfferAlreadyResolved.
func (e *Engine) Accept(ctx context.Context, offerID, personnelID string) (*model.Offer, error) {
	return e.broadcaster.Accept(ctx, offerID, personnelID)
}

// Decline records an explicit decline and rotates the offer to the next
// ranked candidate.
func (e *Engine) Decline(ctx context.Context, offerID, personnelID string) error {
	return e.broadcaster.Decline(ctx, offerID, personnelID)
}

// CheckIn validates physical presence and transitions accepted -> checked_in.
// A check-in outside the geofence is rejected with a GeofenceViolation
// carrying the measured distance, and the shift's state is unchanged.
func (e *Engine) CheckIn(ctx context.Context, shiftID, personnelID string, fix geo.Fix) (*model.CheckEvent, error) {
	shift, err := e.store.LoadShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if shift.Status != model.StatusAccepted {
		return nil, &model.InvalidTransitionError{
			From:   shift.Status,
			To:     model.StatusCheckedIn,
			Reason: "check-in requires an accepted shift",
		}
	}
	if shift.PersonnelID != personnelID {
		return nil, &model.ConflictError{Reason: "shift is assigned to a different personnel"}
	}

	earliest := shift.ScheduledStart.Add(-e.policy.EarlyCheckInWindow)
	if fix.Timestamp.Before(earliest) {
		return nil, &model.ValidationError{
			Field:  "timestamp",
			Reason: fmt.Sprintf("check-in opens at %s", earliest.Format(time.RFC3339)),
		}
	}

	distance := geo.DistanceMeters(fix.Latitude, fix.Longitude, shift.VenueLat, shift.VenueLng)
	if !geo.WithinRadius(distance, shift.GeofenceRadiusM) {
		e.logger.Info("check-in rejected: outside geofence",
			zap.String("shift_id", shiftID),
			zap.String("personnel_id", personnelID),
			zap.Float64("distance_m", distance),
			zap.Float64("radius_m", shift.GeofenceRadiusM))
		return nil, &model.GeofenceViolation{DistanceM: distance, RadiusM: shift.GeofenceRadiusM}
	}

	event := &model.CheckEvent{
		ID:             uuid.New().String(),
		ShiftID:        shiftID,
		PersonnelID:    personnelID,
		Kind:           model.CheckIn,
		Timestamp:      fix.Timestamp,
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		AccuracyM:      fix.AccuracyM,
		WithinGeofence: true,
	}
	if err := e.store.AppendCheckEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record check-in for shift %s: %w", shiftID, err)
	}

	err = e.store.SaveShiftStatus(ctx, shiftID, model.StatusAccepted, model.StatusCheckedIn, db.StatusMetadata{PersonnelID: personnelID})
	if err != nil {
		return nil, fmt.Errorf("failed to transition shift %s to checked_in: %w", shiftID, err)
	}

	e.logger.Info("checked in",
		zap.String("shift_id", shiftID),
		zap.String("personnel_id", personnelID),
		zap.Float64("distance_m", distance))

	e.emitter.Emit(&events.CheckedIn{
		ShiftID:     shiftID,
		PersonnelID: personnelID,
		DistanceM:   distance,
		At:          fix.Timestamp,
	})

	return event, nil
}

// PaySummary is the result of a completed check-out.
type PaySummary struct {
	HoursWorked float64
	TotalPence  int
}

// CheckOut transitions checked_in -> checked_out and computes pay from
// elapsed time. Geofence strictness is deliberately relaxed here: staff may
// check out at any distance (they have left the area), though the event
// still records whether they were inside the radius.
func (e *Engine) CheckOut(ctx context.Context, shiftID, personnelID string, fix geo.Fix) (*model.CheckEvent, *PaySummary, error) {
	shift, err := e.store.LoadShift(ctx, shiftID)
	if err != nil {
		return nil, nil, err
	}
	if shift.Status != model.StatusCheckedIn {
		return nil, nil, &model.InvalidTransitionError{
			From:   shift.Status,
			To:     model.StatusCheckedOut,
			Reason: "check-out requires a checked-in shift",
		}
	}
	if shift.PersonnelID != personnelID {
		return nil, nil, &model.ConflictError{Reason: "shift is assigned to a different personnel"}
	}

	checkInAt, err := e.checkInTime(ctx, shiftID)
	if err != nil {
		return nil, nil, err
	}
	if !fix.Timestamp.After(checkInAt) {
		return nil, nil, &model.ValidationError{Field: "timestamp", Reason: "check-out must be after check-in"}
	}

	distance := geo.DistanceMeters(fix.Latitude, fix.Longitude, shift.VenueLat, shift.VenueLng)

	event := &model.CheckEvent{
		ID:             uuid.New().String(),
		ShiftID:        shiftID,
		PersonnelID:    personnelID,
		Kind:           model.CheckOut,
		Timestamp:      fix.Timestamp,
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		AccuracyM:      fix.AccuracyM,
		WithinGeofence: geo.WithinRadius(distance, shift.GeofenceRadiusM),
	}
	if err := e.store.AppendCheckEvent(ctx, event); err != nil {
		return nil, nil, fmt.Errorf("failed to record check-out for shift %s: %w", shiftID, err)
	}

	err = e.store.SaveShiftStatus(ctx, shiftID, model.StatusCheckedIn, model.StatusCheckedOut, db.StatusMetadata{PersonnelID: personnelID})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to transition shift %s to checked_out: %w", shiftID, err)
	}

	summary := &PaySummary{
		HoursWorked: fix.Timestamp.Sub(checkInAt).Hours(),
		TotalPence:  PayPence(checkInAt, fix.Timestamp, shift.HourlyRatePence),
	}

	e.logger.Info("checked out",
		zap.String("shift_id", shiftID),
		zap.String("personnel_id", personnelID),
		zap.Float64("hours_worked", summary.HoursWorked),
		zap.Int("total_pence", summary.TotalPence))

	e.emitter.Emit(&events.CheckedOut{
		ShiftID:     shiftID,
		PersonnelID: personnelID,
		HoursWorked: summary.HoursWorked,
		TotalPence:  summary.TotalPence,
		At:          fix.Timestamp,
	})

	return event, summary, nil
}

// Cancel transitions any non-terminal shift to cancelled, recording actor
// and reason, and synchronously invalidates any in-flight offer so no stale
// acceptance can land afterwards.
func (e *Engine) Cancel(ctx context.Context, shiftID, actor, reason string) error {
	shift, err := e.store.LoadShift(ctx, shiftID)
	if err != nil {
		return err
	}
	if shift.Status.Terminal() {
		return &model.InvalidTransitionError{
			From:   shift.Status,
			To:     model.StatusCancelled,
			Reason: "shift is already in a terminal state",
		}
	}

	// Invalidate before the status write so no acceptance can race in
	// between.
	e.broadcaster.InvalidateShift(shiftID)

	err = e.store.SaveShiftStatus(ctx, shiftID, shift.Status, model.StatusCancelled, db.StatusMetadata{Actor: actor, Reason: reason})
	if err != nil {
		return fmt.Errorf("failed to cancel shift %s: %w", shiftID, err)
	}

	e.logger.Info("shift cancelled",
		zap.String("shift_id", shiftID),
		zap.String("actor", actor),
		zap.String("reason", reason))

	e.emitter.Emit(&events.ShiftCancelled{
		ShiftID:     shiftID,
		Actor:       actor,
		Reason:      reason,
		CancelledAt: e.now(),
	})

	return nil
}

// SweepNoShows transitions accepted shifts whose check-in never arrived by
// scheduled start plus the grace period to no_show. Returns how many shifts
// were swept. Intended to run on a schedule; also exposed as an operator
// command.
func (e *Engine) SweepNoShows(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-e.policy.NoShowGrace)
	overdue, err := e.store.ListOverdueAccepted(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue shifts: %w", err)
	}

	swept := 0
	for i := range overdue {
		shift := &overdue[i]
		err = e.store.SaveShiftStatus(ctx, shift.ID, model.StatusAccepted, model.StatusNoShow, db.StatusMetadata{PersonnelID: shift.PersonnelID})
		if err != nil {
			// A concurrent check-in beat the sweep; skip, don't fail the run.
			if model.IsConflict(err) {
				continue
			}
			return swept, fmt.Errorf("failed to mark shift %s no_show: %w", shift.ID, err)
		}
		swept++

		e.logger.Info("shift marked no-show",
			zap.String("shift_id", shift.ID),
			zap.String("personnel_id", shift.PersonnelID))

		e.emitter.Emit(&events.ShiftNoShow{
			ShiftID:     shift.ID,
			PersonnelID: shift.PersonnelID,
			At:          now,
		})
	}

	return swept, nil
}

// checkInTime finds the shift's check-in event timestamp.
func (e *Engine) checkInTime(ctx context.Context, shiftID string) (time.Time, error) {
	checkEvents, err := e.store.LoadCheckEvents(ctx, shiftID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load check events for shift %s: %w", shiftID, err)
	}
	for i := range checkEvents {
		if checkEvents[i].Kind == model.CheckIn {
			return checkEvents[i].Timestamp, nil
		}
	}
	return time.Time{}, &model.NotFoundError{Kind: "check-in event for shift", ID: shiftID}
}

// PayPence computes total pay for the worked interval at the given hourly
// rate, in the smallest currency unit, rounding half up. Integer arithmetic
// keeps the half-penny boundary exact.
func PayPence(checkIn, checkOut time.Time, hourlyRatePence int) int {
	seconds := int64(checkOut.Sub(checkIn) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	return int((int64(hourlyRatePence)*seconds + 1800) / 3600)
}
