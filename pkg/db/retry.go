package db

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sentriapp/shift-engine/pkg/core/model"
)

// Retrying wraps a Store and retries idempotent reads once with a short
// backoff when the inner store reports a timeout. State-mutating calls
// (SaveShiftStatus, AppendCheckEvent) are never retried automatically, to
// avoid duplicate side effects.
type Retrying struct {
	inner   Store
	backoff time.Duration
	logger  *zap.Logger
}

// NewRetrying wraps store with read-retry behaviour.
func NewRetrying(store Store, backoff time.Duration, logger *zap.Logger) *Retrying {
	return &Retrying{inner: store, backoff: backoff, logger: logger}
}

func (r *Retrying) LoadShift(ctx context.Context, id string) (*model.Shift, error) {
	shift, err := r.inner.LoadShift(ctx, id)
	if model.IsTimeout(err) {
		r.logger.Warn("load shift timed out, retrying", zap.String("shift_id", id))
		if err = r.wait(ctx); err != nil {
			return nil, err
		}
		return r.inner.LoadShift(ctx, id)
	}
	return shift, err
}

func (r *Retrying) LoadAvailability(ctx context.Context, personnelID string, from, to time.Time) ([]model.AvailabilityRule, error) {
	rules, err := r.inner.LoadAvailability(ctx, personnelID, from, to)
	if model.IsTimeout(err) {
		r.logger.Warn("load availability timed out, retrying", zap.String("personnel_id", personnelID))
		if err = r.wait(ctx); err != nil {
			return nil, err
		}
		return r.inner.LoadAvailability(ctx, personnelID, from, to)
	}
	return rules, err
}

func (r *Retrying) LoadPastAssignments(ctx context.Context, personnelID string) ([]model.Assignment, error) {
	assignments, err := r.inner.LoadPastAssignments(ctx, personnelID)
	if model.IsTimeout(err) {
		r.logger.Warn("load past assignments timed out, retrying", zap.String("personnel_id", personnelID))
		if err = r.wait(ctx); err != nil {
			return nil, err
		}
		return r.inner.LoadPastAssignments(ctx, personnelID)
	}
	return assignments, err
}

func (r *Retrying) LoadCheckEvents(ctx context.Context, shiftID string) ([]model.CheckEvent, error) {
	eventsList, err := r.inner.LoadCheckEvents(ctx, shiftID)
	if model.IsTimeout(err) {
		r.logger.Warn("load check events timed out, retrying", zap.String("shift_id", shiftID))
		if err = r.wait(ctx); err != nil {
			return nil, err
		}
		return r.inner.LoadCheckEvents(ctx, shiftID)
	}
	return eventsList, err
}

func (r *Retrying) ListOverdueAccepted(ctx context.Context, cutoff time.Time) ([]model.Shift, error) {
	shifts, err := r.inner.ListOverdueAccepted(ctx, cutoff)
	if model.IsTimeout(err) {
		r.logger.Warn("list overdue accepted timed out, retrying", zap.Time("cutoff", cutoff))
		if err = r.wait(ctx); err != nil {
			return nil, err
		}
		return r.inner.ListOverdueAccepted(ctx, cutoff)
	}
	return shifts, err
}

// SaveShiftStatus passes through with no retry: a timed-out write may have
// landed, and replaying it could double-apply a transition.
func (r *Retrying) SaveShiftStatus(ctx context.Context, id string, expected, next model.ShiftStatus, meta StatusMetadata) error {
	return r.inner.SaveShiftStatus(ctx, id, expected, next, meta)
}

// AppendCheckEvent passes through with no retry for the same reason.
func (r *Retrying) AppendCheckEvent(ctx context.Context, event *model.CheckEvent) error {
	return r.inner.AppendCheckEvent(ctx, event)
}

func (r *Retrying) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.backoff):
		return nil
	}
}
