package scorer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sentriapp/shift-engine/pkg/core/availability"
	"github.com/sentriapp/shift-engine/pkg/core/model"
	"github.com/sentriapp/shift-engine/pkg/db"
)

// Scorer ranks candidate staff for one open shift. Scores are computed
// fresh per assignment attempt and never cached across shifts.
type Scorer struct {
	store    db.Store
	resolver *availability.Resolver
	weights  Weights
	logger   *zap.Logger
}

// New creates a Scorer with the given policy weights.
func New(store db.Store, resolver *availability.Resolver, weights Weights, logger *zap.Logger) *Scorer {
	return &Scorer{
		store:    store,
		resolver: resolver,
		weights:  weights,
		logger:   logger,
	}
}

// Rank filters candidates through the availability gate, scores the
// survivors, and returns them best-first.
//
// Ties are broken by lower cumulative hours worked over the rolling
// utilization window, spreading opportunity toward less-utilized staff,
// with personnel ID as the final deterministic tie-break.
func (s *Scorer) Rank(ctx context.Context, shift *model.Shift, candidates []model.Personnel, now time.Time) ([]model.CandidateScore, error) {
	var scored []model.CandidateScore

	for i := range candidates {
		candidate := &candidates[i]

		free, err := s.resolver.IsAvailable(ctx, candidate.ID, shift.ScheduledStart, shift.ScheduledEnd)
		if err != nil {
			return nil, fmt.Errorf("availability check for %s: %w", candidate.ID, err)
		}
		if !free {
			s.logger.Debug("candidate filtered: not available",
				zap.String("personnel_id", candidate.ID),
				zap.String("shift_id", shift.ID))
			continue
		}

		history, err := s.store.LoadPastAssignments(ctx, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("load history for %s: %w", candidate.ID, err)
		}

		scored = append(scored, s.Score(candidate, shift, history, now))
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].RecentHours != scored[j].RecentHours {
			return scored[i].RecentHours < scored[j].RecentHours
		}
		return scored[i].PersonnelID < scored[j].PersonnelID
	})

	s.logger.Debug("ranked candidates",
		zap.String("shift_id", shift.ID),
		zap.Int("eligible", len(scored)),
		zap.Int("considered", len(candidates)))

	return scored, nil
}

// Score computes one candidate's weighted score against the shift's
// requirements. Pure given its inputs; availability is assumed already
// checked.
func (s *Scorer) Score(candidate *model.Personnel, shift *model.Shift, history []model.Assignment, now time.Time) model.CandidateScore {
	breakdown := model.ScoreBreakdown{
		Certification:    s.weights.Certification * certificationMatch(candidate, shift),
		Rating:           s.weights.Rating * ratingScore(history),
		VenueFamiliarity: s.weights.VenueFamiliarity * venueFamiliarity(history, shift.VenueID),
	}

	return model.CandidateScore{
		PersonnelID: candidate.ID,
		Score:       breakdown.Certification + breakdown.Rating + breakdown.VenueFamiliarity,
		Breakdown:   breakdown,
		RecentHours: recentHours(history, now, s.weights.UtilizationWindow),
	}
}

// certificationMatch returns matched/total required certs in [0,1].
// No required certs means full credit.
func certificationMatch(candidate *model.Personnel, shift *model.Shift) float64 {
	if len(shift.RequiredCerts) == 0 {
		return 1.0
	}

	held := make(map[string]bool, len(candidate.Certifications))
	for _, cert := range candidate.Certifications {
		held[cert] = true
	}

	matched := 0
	for _, required := range shift.RequiredCerts {
		if held[required] {
			matched++
		}
	}

	return float64(matched) / float64(len(shift.RequiredCerts))
}

// ratingScore normalises the mean of past ratings (1-5) to [0,1].
// Candidates with no rating history score the neutral midpoint.
func ratingScore(history []model.Assignment) float64 {
	total, count := 0, 0
	for i := range history {
		if history[i].Rating > 0 {
			total += history[i].Rating
			count++
		}
	}

	mean := NeutralRating
	if count > 0 {
		mean = float64(total) / float64(count)
	}

	return (mean - 1) / 4
}

// venueFamiliarity returns 1 if the candidate has at least one completed
// assignment at the venue, else 0.
func venueFamiliarity(history []model.Assignment, venueID string) float64 {
	for i := range history {
		if history[i].VenueID == venueID && history[i].Status == model.StatusCheckedOut {
			return 1.0
		}
	}
	return 0
}

// recentHours sums hours worked on completed assignments that ended inside
// the rolling window.
func recentHours(history []model.Assignment, now time.Time, window time.Duration) float64 {
	cutoff := now.Add(-window)
	hours := 0.0
	for i := range history {
		a := &history[i]
		if a.Status == model.StatusCheckedOut && a.End.After(cutoff) {
			hours += a.HoursWorked
		}
	}
	return hours
}
