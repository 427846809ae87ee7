package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sentriapp/shift-engine/pkg/core/availability"
	"github.com/sentriapp/shift-engine/pkg/core/broadcaster"
	"github.com/sentriapp/shift-engine/pkg/core/events"
	"github.com/sentriapp/shift-engine/pkg/core/geo"
	"github.com/sentriapp/shift-engine/pkg/core/model"
	"github.com/sentriapp/shift-engine/pkg/core/scorer"
	"github.com/sentriapp/shift-engine/pkg/db"
)

// Westminster, used as the venue location throughout.
const (
	venueLat = 51.5007
	venueLng = -0.1246
)

// Friday 18:00 to Saturday 02:00 UTC.
var (
	shiftStart = time.Date(2025, 6, 6, 18, 0, 0, 0, time.UTC)
	shiftEnd   = time.Date(2025, 6, 7, 2, 0, 0, 0, time.UTC)
)

// Friday evenings 17:00 for ten hours, comfortably covering the test shift.
const fridayNights = "DTSTART=20250103T170000Z;FREQ=WEEKLY;BYDAY=FR"

type stubStore struct {
	mu          sync.Mutex
	shifts      map[string]*model.Shift
	rules       map[string][]model.AvailabilityRule
	assignments map[string][]model.Assignment
	candidates  []model.Personnel
	checkEvents map[string][]model.CheckEvent
	overdue     []model.Shift
}

func newStubStore(shifts ...*model.Shift) *stubStore {
	s := &stubStore{
		shifts:      make(map[string]*model.Shift),
		rules:       make(map[string][]model.AvailabilityRule),
		assignments: make(map[string][]model.Assignment),
		checkEvents: make(map[string][]model.CheckEvent),
	}
	for _, shift := range shifts {
		s.shifts[shift.ID] = shift
	}
	return s
}

func (s *stubStore) LoadShift(ctx context.Context, id string) (*model.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shift, ok := s.shifts[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "shift", ID: id}
	}
	clone := *shift
	return &clone, nil
}

func (s *stubStore) SaveShiftStatus(ctx context.Context, id string, expected, next model.ShiftStatus, meta db.StatusMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shift, ok := s.shifts[id]
	if !ok {
		return &model.NotFoundError{Kind: "shift", ID: id}
	}
	if shift.Status != expected {
		return &model.ConflictError{Reason: "status moved"}
	}
	shift.Status = next
	shift.Version++
	if meta.PersonnelID != "" {
		shift.PersonnelID = meta.PersonnelID
	}
	if meta.Actor != "" {
		shift.CancelActor = meta.Actor
		shift.CancelReason = meta.Reason
	}
	return nil
}

func (s *stubStore) LoadAvailability(ctx context.Context, personnelID string, from, to time.Time) ([]model.AvailabilityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules[personnelID], nil
}

func (s *stubStore) LoadPastAssignments(ctx context.Context, personnelID string) ([]model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignments[personnelID], nil
}

func (s *stubStore) AppendCheckEvent(ctx context.Context, event *model.CheckEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.checkEvents[event.ShiftID] {
		if existing.Kind == event.Kind {
			return &model.ConflictError{Reason: "duplicate check event"}
		}
	}
	s.checkEvents[event.ShiftID] = append(s.checkEvents[event.ShiftID], *event)
	return nil
}

func (s *stubStore) LoadCheckEvents(ctx context.Context, shiftID string) ([]model.CheckEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CheckEvent(nil), s.checkEvents[shiftID]...), nil
}

func (s *stubStore) ListOverdueAccepted(ctx context.Context, cutoff time.Time) ([]model.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overdue, nil
}

func (s *stubStore) ListCandidates(ctx context.Context, shift *model.Shift) ([]model.Personnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidates, nil
}

func (s *stubStore) statusOf(id string) model.ShiftStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shifts[id].Status
}

func testShift(status model.ShiftStatus) *model.Shift {
	return &model.Shift{
		ID:              "shift-1",
		BookingID:       "booking-1",
		VenueID:         "venue-1",
		Role:            "door_supervisor",
		HourlyRatePence: 1500,
		ScheduledStart:  shiftStart,
		ScheduledEnd:    shiftEnd,
		Status:          status,
		VenueLat:        venueLat,
		VenueLng:        venueLng,
		GeofenceRadiusM: 100,
	}
}

func newTestEngine(store *stubStore, now time.Time) (*Engine, *events.Recorder) {
	logger := zap.NewNop()
	resolver := availability.NewResolver(store, logger)
	sc := scorer.New(store, resolver, scorer.DefaultWeights(), logger)
	rec := &events.Recorder{}
	bc := broadcaster.New(store, rec, time.Minute, logger)

	e := New(store, store, sc, bc, rec, DefaultPolicy(), logger)
	e.now = func() time.Time { return now }
	return e, rec
}

func TestAssign_OffersBestAvailableCandidate(t *testing.T) {
	store := newStubStore(testShift(model.StatusPending))
	store.candidates = []model.Personnel{{ID: "p1", Name: "Aisha"}}
	store.rules["p1"] = []model.AvailabilityRule{{RRule: fridayNights, DurationMinutes: 600}}
	e, rec := newTestEngine(store, shiftStart.Add(-24*time.Hour))

	offer, err := e.Assign(context.Background(), "shift-1")
	require.NoError(t, err)
	require.NotNil(t, offer)

	assert.Equal(t, "p1", offer.PersonnelID)
	assert.Equal(t, model.OfferPending, offer.Status)
	assert.Equal(t, model.StatusOffered, store.statusOf("shift-1"))

	emitted := rec.Events()
	require.Len(t, emitted, 1)
	assert.Equal(t, "shift.offer-created", emitted[0].EventType())
}

func TestAssign_NoEligibleCandidatesMarksUnfilled(t *testing.T) {
	store := newStubStore(testShift(model.StatusPending))
	store.candidates = []model.Personnel{{ID: "p1"}} // no availability rules
	e, rec := newTestEngine(store, shiftStart.Add(-24*time.Hour))

	offer, err := e.Assign(context.Background(), "shift-1")
	require.NoError(t, err)
	assert.Nil(t, offer)
	assert.Equal(t, model.StatusUnfilled, store.statusOf("shift-1"))

	emitted := rec.Events()
	require.Len(t, emitted, 1)
	assert.Equal(t, "shift.unfilled", emitted[0].EventType())
}

func TestAssign_RejectsNonPendingShift(t *testing.T) {
	store := newStubStore(testShift(model.StatusAccepted))
	e, _ := newTestEngine(store, shiftStart.Add(-24*time.Hour))

	_, err := e.Assign(context.Background(), "shift-1")
	var transition *model.InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, model.StatusAccepted, transition.From)
}

func TestAcceptThroughEngine_WinsOnce(t *testing.T) {
	store := newStubStore(testShift(model.StatusPending))
	store.candidates = []model.Personnel{{ID: "p1"}}
	store.rules["p1"] = []model.AvailabilityRule{{RRule: fridayNights, DurationMinutes: 600}}
	e, _ := newTestEngine(store, shiftStart.Add(-24*time.Hour))

	offer, err := e.Assign(context.Background(), "shift-1")
	require.NoError(t, err)

	accepted, err := e.Accept(context.Background(), offer.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.OfferAccepted, accepted.Status)
	assert.Equal(t, model.StatusAccepted, store.statusOf("shift-1"))

	_, err = e.Accept(context.Background(), offer.ID, "p1")
	assert.True(t, errors.Is(err, model.ErrOfferAlreadyResolved))
}

func TestCheckIn_WithinGeofence(t *testing.T) {
	shift := testShift(model.StatusAccepted)
	shift.PersonnelID = "p1"
	store := newStubStore(shift)
	e, rec := newTestEngine(store, shiftStart)

	event, err := e.CheckIn(context.Background(), "shift-1", "p1", geo.Fix{
		Latitude:  venueLat,
		Longitude: venueLng,
		AccuracyM: 10,
		Timestamp: shiftStart.Add(-10 * time.Minute),
	})
	require.NoError(t, err)

	assert.Equal(t, model.CheckIn, event.Kind)
	assert.True(t, event.WithinGeofence)
	assert.Equal(t, model.StatusCheckedIn, store.statusOf("shift-1"))

	emitted := rec.Events()
	require.Len(t, emitted, 1)
	assert.Equal(t, "shift.checked-in", emitted[0].EventType())
}

func TestCheckIn_OutsideGeofenceRejectedWithDistance(t *testing.T) {
	shift := testShift(model.StatusAccepted)
	shift.PersonnelID = "p1"
	store := newStubStore(shift)
	e, rec := newTestEngine(store, shiftStart)

	// Roughly 150m north of the venue, against a 100m radius
	_, err := e.CheckIn(context.Background(), "shift-1", "p1", geo.Fix{
		Latitude:  venueLat + 0.00135,
		Longitude: venueLng,
		Timestamp: shiftStart.Add(-10 * time.Minute),
	})

	var violation *model.GeofenceViolation
	require.ErrorAs(t, err, &violation)
	assert.InDelta(t, 150, violation.DistanceM, 5)
	assert.Equal(t, float64(100), violation.RadiusM)

	// The rejection must leave the shift untouched
	assert.Equal(t, model.StatusAccepted, store.statusOf("shift-1"))
	assert.Empty(t, store.checkEvents["shift-1"])
	assert.Empty(t, rec.Events())
}

func TestCheckIn_TooEarlyRejected(t *testing.T) {
	shift := testShift(model.StatusAccepted)
	shift.PersonnelID = "p1"
	store := newStubStore(shift)
	e, _ := newTestEngine(store, shiftStart)

	_, err := e.CheckIn(context.Background(), "shift-1", "p1", geo.Fix{
		Latitude:  venueLat,
		Longitude: venueLng,
		Timestamp: shiftStart.Add(-31 * time.Minute),
	})
	assert.True(t, model.IsValidation(err))
	assert.Equal(t, model.StatusAccepted, store.statusOf("shift-1"))
}

func TestCheckIn_WrongPersonnelRejected(t *testing.T) {
	shift := testShift(model.StatusAccepted)
	shift.PersonnelID = "p1"
	store := newStubStore(shift)
	e, _ := newTestEngine(store, shiftStart)

	_, err := e.CheckIn(context.Background(), "shift-1", "p2", geo.Fix{
		Latitude:  venueLat,
		Longitude: venueLng,
		Timestamp: shiftStart,
	})
	assert.True(t, model.IsConflict(err))
}

func TestCheckOut_OvernightShiftPay(t *testing.T) {
	shift := testShift(model.StatusCheckedIn)
	shift.PersonnelID = "p1"
	store := newStubStore(shift)
	checkInAt := shiftStart.Add(-10 * time.Minute) // 17:50
	store.checkEvents["shift-1"] = []model.CheckEvent{{
		ShiftID:     "shift-1",
		PersonnelID: "p1",
		Kind:        model.CheckIn,
		Timestamp:   checkInAt,
	}}
	e, rec := newTestEngine(store, shiftEnd)

	// Check-out 02:10 the next day: 8h20m worked across midnight
	event, summary, err := e.CheckOut(context.Background(), "shift-1", "p1", geo.Fix{
		Latitude:  venueLat,
		Longitude: venueLng,
		Timestamp: shiftEnd.Add(10 * time.Minute),
	})
	require.NoError(t, err)

	assert.Equal(t, model.CheckOut, event.Kind)
	assert.Equal(t, model.StatusCheckedOut, store.statusOf("shift-1"))
	assert.InDelta(t, 8.3333, summary.HoursWorked, 0.001)
	assert.Equal(t, 12500, summary.TotalPence) // GBP 125.00 at GBP 15.00/h

	emitted := rec.Events()
	require.Len(t, emitted, 1)
	assert.Equal(t, "shift.checked-out", emitted[0].EventType())
}

func TestCheckOut_BeforeCheckInRejected(t *testing.T) {
	shift := testShift(model.StatusCheckedIn)
	shift.PersonnelID = "p1"
	store := newStubStore(shift)
	store.checkEvents["shift-1"] = []model.CheckEvent{{
		ShiftID:   "shift-1",
		Kind:      model.CheckIn,
		Timestamp: shiftStart,
	}}
	e, _ := newTestEngine(store, shiftEnd)

	_, _, err := e.CheckOut(context.Background(), "shift-1", "p1", geo.Fix{
		Latitude:  venueLat,
		Longitude: venueLng,
		Timestamp: shiftStart.Add(-time.Minute),
	})
	assert.True(t, model.IsValidation(err))
	assert.Equal(t, model.StatusCheckedIn, store.statusOf("shift-1"))
}

func TestCheckOut_OutsideGeofenceStillAllowed(t *testing.T) {
	shift := testShift(model.StatusCheckedIn)
	shift.PersonnelID = "p1"
	store := newStubStore(shift)
	store.checkEvents["shift-1"] = []model.CheckEvent{{
		ShiftID:   "shift-1",
		Kind:      model.CheckIn,
		Timestamp: shiftStart,
	}}
	e, _ := newTestEngine(store, shiftEnd)

	event, summary, err := e.CheckOut(context.Background(), "shift-1", "p1", geo.Fix{
		Latitude:  venueLat + 0.01, // over a kilometre away
		Longitude: venueLng,
		Timestamp: shiftEnd,
	})
	require.NoError(t, err)
	assert.False(t, event.WithinGeofence)
	assert.NotNil(t, summary)
	assert.Equal(t, model.StatusCheckedOut, store.statusOf("shift-1"))
}

func TestCancel_InvalidatesInFlightOffer(t *testing.T) {
	store := newStubStore(testShift(model.StatusPending))
	store.candidates = []model.Personnel{{ID: "p1"}}
	store.rules["p1"] = []model.AvailabilityRule{{RRule: fridayNights, DurationMinutes: 600}}
	e, rec := newTestEngine(store, shiftStart.Add(-24*time.Hour))

	offer, err := e.Assign(context.Background(), "shift-1")
	require.NoError(t, err)

	require.NoError(t, e.Cancel(context.Background(), "shift-1", "venue", "event called off"))
	assert.Equal(t, model.StatusCancelled, store.statusOf("shift-1"))

	// The stale acceptance must not land
	_, err = e.Accept(context.Background(), offer.ID, "p1")
	assert.True(t, errors.Is(err, model.ErrOfferAlreadyResolved))

	var sawCancelled bool
	for _, ev := range rec.Events() {
		if ev.EventType() == "shift.cancelled" {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled)
}

func TestCancel_TerminalShiftRejected(t *testing.T) {
	store := newStubStore(testShift(model.StatusCheckedOut))
	e, _ := newTestEngine(store, shiftEnd)

	err := e.Cancel(context.Background(), "shift-1", "venue", "too late")
	var transition *model.InvalidTransitionError
	assert.ErrorAs(t, err, &transition)
}

func TestSweepNoShows_SkipsConcurrentCheckIn(t *testing.T) {
	overdue := testShift(model.StatusAccepted)
	overdue.PersonnelID = "p1"

	raced := testShift(model.StatusCheckedIn) // checked in after the listing
	raced.ID = "shift-2"
	raced.PersonnelID = "p2"

	store := newStubStore(overdue, raced)
	store.overdue = []model.Shift{*overdue, {ID: "shift-2", PersonnelID: "p2", Status: model.StatusAccepted}}
	e, rec := newTestEngine(store, shiftStart.Add(time.Hour))

	swept, err := e.SweepNoShows(context.Background(), shiftStart.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, swept)
	assert.Equal(t, model.StatusNoShow, store.statusOf("shift-1"))
	assert.Equal(t, model.StatusCheckedIn, store.statusOf("shift-2"))

	emitted := rec.Events()
	require.Len(t, emitted, 1)
	assert.Equal(t, "shift.no-show", emitted[0].EventType())
}

func TestPayPence_RoundsHalfUp(t *testing.T) {
	base := time.Date(2025, 6, 6, 18, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		seconds int
		rate    int
		want    int
	}{
		{"exact hour", 3600, 1500, 1500},
		{"eight hours twenty", 30000, 1500, 12500},
		{"one second", 1, 3600, 1},
		{"half penny rounds up", 1, 1800, 1},
		{"below half penny rounds down", 1, 1799, 0},
		{"zero duration", 0, 1500, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PayPence(base, base.Add(time.Duration(tc.seconds)*time.Second), tc.rate)
			assert.Equal(t, tc.want, got)
		})
	}
}
