package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"

	"github.com/sentriapp/shift-engine/pkg/core/model"
	"github.com/sentriapp/shift-engine/pkg/db"
)

// Resolver determines whether a candidate is free for a time window by
// consulting their declared availability rules and existing confirmed
// assignments. Availability is a binary gate: an unavailable candidate is
// excluded from ranking entirely, never penalised.
type Resolver struct {
	store  db.Store
	logger *zap.Logger
}

// NewResolver wires a Resolver to its persistence collaborator.
func NewResolver(store db.Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// IsAvailable reports whether the personnel is free for [start, end).
// Free means: no overlapping accepted or checked-in assignment, and at
// least one declared availability window covering the whole shift window.
func (r *Resolver) IsAvailable(ctx context.Context, personnelID string, start, end time.Time) (bool, error) {
	if !end.After(start) {
		return false, &model.ValidationError{Field: "window", Reason: "end must be after start"}
	}

	assignments, err := r.store.LoadPastAssignments(ctx, personnelID)
	if err != nil {
		return false, fmt.Errorf("failed to load assignments for %s: %w", personnelID, err)
	}

	for i := range assignments {
		a := &assignments[i]
		if a.Status != model.StatusAccepted && a.Status != model.StatusCheckedIn {
			continue
		}
		if a.Overlaps(start, end) {
			r.logger.Debug("candidate has conflicting assignment",
				zap.String("personnel_id", personnelID),
				zap.String("conflicting_shift_id", a.ShiftID))
			return false, nil
		}
	}

	rules, err := r.store.LoadAvailability(ctx, personnelID, start, end)
	if err != nil {
		return false, fmt.Errorf("failed to load availability for %s: %w", personnelID, err)
	}

	for i := range rules {
		covered, err := r.ruleCovers(&rules[i], start, end)
		if err != nil {
			// A malformed rule grants nothing; skip it rather than fail the
			// whole assignment attempt.
			r.logger.Warn("skipping malformed availability rule",
				zap.String("rule_id", rules[i].ID),
				zap.String("personnel_id", personnelID),
				zap.Error(err))
			continue
		}
		if covered {
			return true, nil
		}
	}

	return false, nil
}

// ruleCovers reports whether any occurrence of the rule opens a window that
// contains the whole of [start, end).
func (r *Resolver) ruleCovers(rule *model.AvailabilityRule, start, end time.Time) (bool, error) {
	parsed, err := rrule.StrToRRule(rule.RRule)
	if err != nil {
		return false, fmt.Errorf("failed to parse rrule %q: %w", rule.RRule, err)
	}

	duration := time.Duration(rule.DurationMinutes) * time.Minute
	if duration <= 0 {
		return false, nil
	}

	// Any occurrence starting up to one duration before the shift could
	// still cover it, so widen the search window accordingly.
	occurrences := parsed.Between(start.Add(-duration), end, true)
	for _, occ := range occurrences {
		if !occ.After(start) && !occ.Add(duration).Before(end) {
			return true, nil
		}
	}

	return false, nil
}
