package model

import (
	"fmt"
	"time"
)

// ShiftStatus is the canonical lifecycle state of a shift.
type ShiftStatus string

const (
	StatusPending    ShiftStatus = "pending"
	StatusOffered    ShiftStatus = "offered"
	StatusAccepted   ShiftStatus = "accepted"
	StatusCheckedIn  ShiftStatus = "checked_in"
	StatusCheckedOut ShiftStatus = "checked_out"
	StatusCancelled  ShiftStatus = "cancelled"
	StatusNoShow     ShiftStatus = "no_show"
	StatusUnfilled   ShiftStatus = "unfilled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s ShiftStatus) Terminal() bool {
	switch s {
	case StatusCheckedOut, StatusCancelled, StatusNoShow, StatusUnfilled:
		return true
	}
	return false
}

// Shift is a single scheduled work assignment derived from a booking.
// HourlyRatePence is stored in the smallest currency unit so pay can be
// computed without floating-point rounding at the boundary.
type Shift struct {
	ID              string
	BookingID       string
	VenueID         string
	Role            string
	RequiredCerts   []string
	PersonnelID     string // empty until a candidate accepts
	HourlyRatePence int
	ScheduledStart  time.Time
	ScheduledEnd    time.Time
	Status          ShiftStatus

	// Venue geofence for check-in validation
	VenueLat        float64
	VenueLng        float64
	GeofenceRadiusM float64

	// Version backs the conditional status writes (optimistic concurrency)
	Version int

	CancelActor  string
	CancelReason string
}

// Validate checks the shift's structural invariants before any state change.
func (s *Shift) Validate() error {
	if s.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !s.ScheduledEnd.After(s.ScheduledStart) {
		return &ValidationError{Field: "scheduled_end", Reason: "must be after scheduled_start"}
	}
	if s.HourlyRatePence <= 0 {
		return &ValidationError{Field: "hourly_rate", Reason: "must be positive"}
	}
	return nil
}

// Window returns the scheduled start and end of the shift.
func (s *Shift) Window() (time.Time, time.Time) {
	return s.ScheduledStart, s.ScheduledEnd
}

// OfferStatus tracks the resolution of a time-boxed offer.
type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferDeclined  OfferStatus = "declined"
	OfferExpired   OfferStatus = "expired"
	OfferCancelled OfferStatus = "cancelled"
)

// Offer is an ephemeral, time-boxed proposal of one shift to one candidate.
// At most one offer per shift is pending at any instant; resolved offers are
// discarded, not persisted.
type Offer struct {
	ID          string
	ShiftID     string
	PersonnelID string
	Rank        int // position in the ranked candidate list (0 = best)
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Status      OfferStatus
}

// Expired reports whether the offer's countdown has elapsed at now.
func (o *Offer) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// CheckKind distinguishes check-in from check-out events.
type CheckKind string

const (
	CheckIn  CheckKind = "in"
	CheckOut CheckKind = "out"
)

// CheckEvent is an immutable record of a single check-in or check-out.
// Corrections require a new compensating record, never an edit.
type CheckEvent struct {
	ID             string
	ShiftID        string
	PersonnelID    string
	Kind           CheckKind
	Timestamp      time.Time
	Latitude       float64
	Longitude      float64
	AccuracyM      float64
	WithinGeofence bool
}

// Personnel is a candidate staff member as the engine sees them.
type Personnel struct {
	ID             string
	Name           string
	Certifications []string
}

// ScoreBreakdown separates the weighted contributions to a candidate's score.
type ScoreBreakdown struct {
	Certification    float64
	Rating           float64
	VenueFamiliarity float64
}

// CandidateScore is a derived, non-persistent ranking value. Computed fresh
// per assignment attempt and never cached across shifts.
type CandidateScore struct {
	PersonnelID string
	Score       float64
	Breakdown   ScoreBreakdown

	// RecentHours is the candidate's worked hours over the rolling
	// utilization window, used only as the deterministic tie-break.
	RecentHours float64
}

// Assignment is a historical shift assignment for one personnel, consumed by
// the availability resolver (overlap checks) and the scorer (familiarity,
// utilization, ratings).
type Assignment struct {
	ShiftID     string
	PersonnelID string
	VenueID     string
	Start       time.Time
	End         time.Time
	Status      ShiftStatus
	HoursWorked float64
	Rating      int // 1-5, 0 if the shift was never rated
}

// Overlaps reports whether the assignment's window intersects [start, end).
func (a *Assignment) Overlaps(start, end time.Time) bool {
	return a.Start.Before(end) && start.Before(a.End)
}

// AvailabilityRule is one declared recurring availability window, expressed
// as an RFC 5545 recurrence rule whose occurrences mark window starts.
type AvailabilityRule struct {
	ID              string
	PersonnelID     string
	RRule           string
	DurationMinutes int
}

func (r *AvailabilityRule) String() string {
	return fmt.Sprintf("%s (%dm)", r.RRule, r.DurationMinutes)
}
