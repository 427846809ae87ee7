package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sentriapp/shift-engine/pkg/core/model"
)

// countingStore fails each method with a timeout until failures is spent,
// then succeeds.
type countingStore struct {
	failures int
	calls    map[string]int
}

func newCountingStore(failures int) *countingStore {
	return &countingStore{failures: failures, calls: make(map[string]int)}
}

func (s *countingStore) attempt(method string) error {
	s.calls[method]++
	if s.calls[method] <= s.failures {
		return &model.TimeoutError{Op: method}
	}
	return nil
}

func (s *countingStore) LoadShift(ctx context.Context, id string) (*model.Shift, error) {
	if err := s.attempt("LoadShift"); err != nil {
		return nil, err
	}
	return &model.Shift{ID: id, Status: model.StatusPending}, nil
}

func (s *countingStore) SaveShiftStatus(ctx context.Context, id string, expected, next model.ShiftStatus, meta StatusMetadata) error {
	return s.attempt("SaveShiftStatus")
}

func (s *countingStore) LoadAvailability(ctx context.Context, personnelID string, from, to time.Time) ([]model.AvailabilityRule, error) {
	if err := s.attempt("LoadAvailability"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *countingStore) LoadPastAssignments(ctx context.Context, personnelID string) ([]model.Assignment, error) {
	if err := s.attempt("LoadPastAssignments"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *countingStore) AppendCheckEvent(ctx context.Context, event *model.CheckEvent) error {
	return s.attempt("AppendCheckEvent")
}

func (s *countingStore) LoadCheckEvents(ctx context.Context, shiftID string) ([]model.CheckEvent, error) {
	if err := s.attempt("LoadCheckEvents"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *countingStore) ListOverdueAccepted(ctx context.Context, cutoff time.Time) ([]model.Shift, error) {
	if err := s.attempt("ListOverdueAccepted"); err != nil {
		return nil, err
	}
	return nil, nil
}

func TestRetrying_ReadRetriedOnceAfterTimeout(t *testing.T) {
	inner := newCountingStore(1)
	store := NewRetrying(inner, time.Millisecond, zap.NewNop())

	shift, err := store.LoadShift(context.Background(), "shift-1")
	require.NoError(t, err)
	assert.Equal(t, "shift-1", shift.ID)
	assert.Equal(t, 2, inner.calls["LoadShift"])
}

func TestRetrying_SecondTimeoutPropagates(t *testing.T) {
	inner := newCountingStore(2)
	store := NewRetrying(inner, time.Millisecond, zap.NewNop())

	_, err := store.LoadCheckEvents(context.Background(), "shift-1")
	assert.True(t, model.IsTimeout(err))
	assert.Equal(t, 2, inner.calls["LoadCheckEvents"])
}

func TestRetrying_NonTimeoutErrorNotRetried(t *testing.T) {
	inner := newCountingStore(0)
	store := NewRetrying(inner, time.Millisecond, zap.NewNop())

	// Missing shift is a clean miss, not a transient fault
	_, err := store.LoadShift(context.Background(), "shift-1")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls["LoadShift"])
}

func TestRetrying_WritesNeverRetried(t *testing.T) {
	inner := newCountingStore(1)
	store := NewRetrying(inner, time.Millisecond, zap.NewNop())

	err := store.SaveShiftStatus(context.Background(), "shift-1", model.StatusPending, model.StatusOffered, StatusMetadata{})
	assert.True(t, model.IsTimeout(err))
	assert.Equal(t, 1, inner.calls["SaveShiftStatus"])

	err = store.AppendCheckEvent(context.Background(), &model.CheckEvent{})
	assert.True(t, model.IsTimeout(err))
	assert.Equal(t, 1, inner.calls["AppendCheckEvent"])
}

func TestRetrying_CancelledContextAbortsBackoff(t *testing.T) {
	inner := newCountingStore(2)
	store := NewRetrying(inner, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.LoadPastAssignments(ctx, "p1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls["LoadPastAssignments"])
}
