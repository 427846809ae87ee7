package scorer

import "time"

// Default scoring weights. The three dimensions sum to 1.0 so a perfect
// candidate scores exactly 1. Availability is a binary gate applied before
// scoring, not a weight: an unavailable candidate must never be offered a
// shift regardless of how well they otherwise match.
const (
	// DefaultWeightCertification is the share of the score awarded for
	// matched required certifications. A shift with zero required certs
	// scores this dimension as full credit.
	DefaultWeightCertification = 0.50

	// DefaultWeightRating is the share awarded for historical performance,
	// the mean of past 1-5 ratings normalised to [0,1].
	DefaultWeightRating = 0.30

	// DefaultWeightVenueFamiliarity is the binary bonus share for having at
	// least one prior checked-out assignment at the same venue.
	DefaultWeightVenueFamiliarity = 0.20

	// NeutralRating is the default for candidates with no rating history.
	// The midpoint avoids unfairly penalising new entrants.
	NeutralRating = 3.0

	// DefaultUtilizationWindow is the rolling period over which worked
	// hours are summed for the ranking tie-break.
	DefaultUtilizationWindow = 28 * 24 * time.Hour
)

// Weights holds the scoring policy. Deployments tune these through config
// rather than code changes.
type Weights struct {
	Certification     float64
	Rating            float64
	VenueFamiliarity  float64
	UtilizationWindow time.Duration
}

// DefaultWeights returns the documented default policy.
func DefaultWeights() Weights {
	return Weights{
		Certification:     DefaultWeightCertification,
		Rating:            DefaultWeightRating,
		VenueFamiliarity:  DefaultWeightVenueFamiliarity,
		UtilizationWindow: DefaultUtilizationWindow,
	}
}
