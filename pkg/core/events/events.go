package events

import (
	"sync"
	"time"
)

// DomainEvent is the interface for all events the engine emits. A separate
// dispatcher turns these into push/email notifications; the engine never
// calls a delivery API directly.
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// Emitter receives domain events as they happen. Emit must not block the
// calling operation; implementations that do slow delivery should queue.
type Emitter interface {
	Emit(event DomainEvent)
}

// OfferCreated is emitted when a new offer starts its countdown.
type OfferCreated struct {
	OfferID     string    `json:"offerId"`
	ShiftID     string    `json:"shiftId"`
	PersonnelID string    `json:"personnelId"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (e *OfferCreated) EventType() string     { return "shift.offer-created" }
func (e *OfferCreated) OccurredAt() time.Time { return e.CreatedAt }

// OfferAccepted is emitted when a candidate wins the acceptance race.
type OfferAccepted struct {
	OfferID     string    `json:"offerId"`
	ShiftID     string    `json:"shiftId"`
	PersonnelID string    `json:"personnelId"`
	AcceptedAt  time.Time `json:"acceptedAt"`
}

func (e *OfferAccepted) EventType() string     { return "shift.offer-accepted" }
func (e *OfferAccepted) OccurredAt() time.Time { return e.AcceptedAt }

// OfferExpired is emitted when an offer's countdown elapses or the
// candidate declines; Declined distinguishes the two.
type OfferExpired struct {
	OfferID     string    `json:"offerId"`
	ShiftID     string    `json:"shiftId"`
	PersonnelID string    `json:"personnelId"`
	Declined    bool      `json:"declined"`
	ExpiredAt   time.Time `json:"expiredAt"`
}

func (e *OfferExpired) EventType() string     { return "shift.offer-expired" }
func (e *OfferExpired) OccurredAt() time.Time { return e.ExpiredAt }

// ShiftUnfilled is emitted when the ranked candidate list is exhausted
// without an acceptance. Raised for human escalation.
type ShiftUnfilled struct {
	ShiftID    string    `json:"shiftId"`
	Attempted  int       `json:"attempted"`
	UnfilledAt time.Time `json:"unfilledAt"`
}

func (e *ShiftUnfilled) EventType() string     { return "shift.unfilled" }
func (e *ShiftUnfilled) OccurredAt() time.Time { return e.UnfilledAt }

// ShiftCancelled is emitted on cancellation from any non-terminal state.
type ShiftCancelled struct {
	ShiftID     string    `json:"shiftId"`
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelledAt"`
}

func (e *ShiftCancelled) EventType() string     { return "shift.cancelled" }
func (e *ShiftCancelled) OccurredAt() time.Time { return e.CancelledAt }

// CheckedIn is emitted after a successful geofenced check-in.
type CheckedIn struct {
	ShiftID     string    `json:"shiftId"`
	PersonnelID string    `json:"personnelId"`
	DistanceM   float64   `json:"distanceM"`
	At          time.Time `json:"at"`
}

func (e *CheckedIn) EventType() string     { return "shift.checked-in" }
func (e *CheckedIn) OccurredAt() time.Time { return e.At }

// CheckedOut is emitted after check-out, carrying the computed pay.
type CheckedOut struct {
	ShiftID     string    `json:"shiftId"`
	PersonnelID string    `json:"personnelId"`
	HoursWorked float64   `json:"hoursWorked"`
	TotalPence  int       `json:"totalPence"`
	At          time.Time `json:"at"`
}

func (e *CheckedOut) EventType() string     { return "shift.checked-out" }
func (e *CheckedOut) OccurredAt() time.Time { return e.At }

// ShiftNoShow is emitted when the no-show sweep expires an accepted shift
// whose personnel never checked in.
type ShiftNoShow struct {
	ShiftID     string    `json:"shiftId"`
	PersonnelID string    `json:"personnelId"`
	At          time.Time `json:"at"`
}

func (e *ShiftNoShow) EventType() string     { return "shift.no-show" }
func (e *ShiftNoShow) OccurredAt() time.Time { return e.At }

// NopEmitter discards all events. Used in tests and in CLI runs where no
// dispatcher is attached.
type NopEmitter struct{}

func (NopEmitter) Emit(DomainEvent) {}

// Recorder collects emitted events in order. Test helper; safe for
// concurrent emitters (expiry timers fire on their own goroutines).
type Recorder struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (r *Recorder) Emit(event DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a snapshot of everything emitted so far.
func (r *Recorder) Events() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}
