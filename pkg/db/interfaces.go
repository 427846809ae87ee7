package db

import (
	"context"
	"time"

	"github.com/sentriapp/shift-engine/pkg/core/model"
)

// StatusMetadata accompanies a status write with the context the new state
// requires (assignee on acceptance, actor and reason on cancellation).
type StatusMetadata struct {
	PersonnelID string
	Actor       string
	Reason      string
}

// Store defines the persistence collaborator for the engine. Implementations
// must provide read-after-write consistency for a single shift.
//
// Both postgres.DB and the in-memory test stores implement this interface.
type Store interface {
	// LoadShift fetches one shift by ID, or a NotFoundError.
	LoadShift(ctx context.Context, id string) (*model.Shift, error)

	// SaveShiftStatus transitions a shift's status with a conditional write:
	// it succeeds only if the stored status still equals expected, and
	// returns a ConflictError otherwise. This backs the at-most-one-accepted
	// guarantee under concurrent acceptance attempts.
	SaveShiftStatus(ctx context.Context, id string, expected, next model.ShiftStatus, meta StatusMetadata) error

	// LoadAvailability returns the personnel's declared availability rules
	// relevant to the given window.
	LoadAvailability(ctx context.Context, personnelID string, from, to time.Time) ([]model.AvailabilityRule, error)

	// LoadPastAssignments returns the personnel's assignment history,
	// including currently accepted and checked-in shifts.
	LoadPastAssignments(ctx context.Context, personnelID string) ([]model.Assignment, error)

	// AppendCheckEvent records an immutable check-in/out event. It must
	// reject a second event of the same kind for the same shift.
	AppendCheckEvent(ctx context.Context, event *model.CheckEvent) error

	// LoadCheckEvents returns the shift's check events (at most one per
	// kind), needed to compute pay at check-out.
	LoadCheckEvents(ctx context.Context, shiftID string) ([]model.CheckEvent, error)

	// ListOverdueAccepted returns accepted shifts whose scheduled start is
	// at or before cutoff, for the no-show sweep.
	ListOverdueAccepted(ctx context.Context, cutoff time.Time) ([]model.Shift, error)
}

// Roster lists the candidate personnel eligible for a shift's role, before
// availability filtering and scoring.
type Roster interface {
	ListCandidates(ctx context.Context, shift *model.Shift) ([]model.Personnel, error)
}
