package broadcaster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentriapp/shift-engine/pkg/core/events"
	"github.com/sentriapp/shift-engine/pkg/core/model"
	"github.com/sentriapp/shift-engine/pkg/db"
)

// storeTimeout bounds the persistence calls made from expiry timers, which
// run outside any caller's context.
const storeTimeout = 5 * time.Second

// Broadcaster owns the offer lifecycle for open shifts: it emits time-boxed
// offers down a ranked candidate list, resolves acceptance races so exactly
// one candidate wins, and rotates to the next candidate on decline or
// expiry without external intervention.
//
// Expiry is owned server-side by a timer per pending offer; it fires even
// if no client ever queries the offer again.
type Broadcaster struct {
	store   db.Store
	emitter events.Emitter
	ttl     time.Duration
	logger  *zap.Logger

	// now is swappable in tests
	now func() time.Time

	mu      sync.Mutex
	byShift map[string]*cascade
	byOffer map[string]*cascade

	// resolved retains recently resolved offer IDs so a late duplicate
	// request gets ErrOfferAlreadyResolved rather than not-found. Entries
	// age out after resolvedRetention.
	resolved map[string]model.OfferStatus
}

// resolvedRetention is how long a resolved offer ID stays recognisable.
const resolvedRetention = 5 * time.Minute

// cascade tracks one shift's progress down its ranked candidate list.
type cascade struct {
	shift  *model.Shift
	ranked []model.CandidateScore
	next   int // index of the next unattempted candidate
	offer  *model.Offer
	timer  *time.Timer
}

// New creates a Broadcaster. ttl is the countdown window for each offer.
func New(store db.Store, emitter events.Emitter, ttl time.Duration, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		store:    store,
		emitter:  emitter,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		byShift:  make(map[string]*cascade),
		byOffer:  make(map[string]*cascade),
		resolved: make(map[string]model.OfferStatus),
	}
}

// StartOffer begins the offer cascade for a shift against a ranked
// candidate list. It creates a pending offer for the best candidate and
// starts its countdown. At most one cascade may be active per shift.
func (b *Broadcaster) StartOffer(ctx context.Context, shift *model.Shift, ranked []model.CandidateScore) (*model.Offer, error) {
	if len(ranked) == 0 {
		return nil, &model.ValidationError{Field: "candidates", Reason: "ranked list must not be empty"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, active := b.byShift[shift.ID]; active {
		return nil, &model.ConflictError{Reason: fmt.Sprintf("shift %s already has an active offer", shift.ID)}
	}

	c := &cascade{
		shift:  shift,
		ranked: ranked,
	}
	b.byShift[shift.ID] = c

	offer, err := b.advanceLocked(ctx, c)
	if err != nil {
		delete(b.byShift, shift.ID)
		return nil, err
	}
	return copyOffer(offer), nil
}

// Accept resolves an acceptance attempt. The compare-and-set against the
// offer's identity, target, and expiry happens under the broadcaster lock,
// so concurrent attempts serialize and exactly one wins; losers receive
// ErrOfferAlreadyResolved.
func (b *Broadcaster) Accept(ctx context.Context, offerID, personnelID string) (*model.Offer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.byOffer[offerID]
	if !ok {
		if _, recent := b.resolved[offerID]; recent {
			return nil, model.ErrOfferAlreadyResolved
		}
		return nil, &model.NotFoundError{Kind: "offer", ID: offerID}
	}
	offer := c.offer

	if offer.Status != model.OfferPending {
		return nil, model.ErrOfferAlreadyResolved
	}
	if offer.PersonnelID != personnelID {
		return nil, &model.ConflictError{Reason: "offer targets a different candidate"}
	}

	now := b.now()
	if offer.Expired(now) {
		// The timer will rotate this offer momentarily; from the caller's
		// point of view it is already gone.
		return nil, model.ErrOfferAlreadyResolved
	}

	// Persist first: the conditional write is the durable arbiter. If it
	// fails (shift cancelled underneath us) the offer stays pending.
	err := b.store.SaveShiftStatus(ctx, c.shift.ID, model.StatusOffered, model.StatusAccepted, db.StatusMetadata{
		PersonnelID: personnelID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist acceptance for shift %s: %w", c.shift.ID, err)
	}

	offer.Status = model.OfferAccepted
	b.resolveLocked(c)

	b.logger.Info("offer accepted",
		zap.String("offer_id", offer.ID),
		zap.String("shift_id", c.shift.ID),
		zap.String("personnel_id", personnelID))

	b.emitter.Emit(&events.OfferAccepted{
		OfferID:     offer.ID,
		ShiftID:     c.shift.ID,
		PersonnelID: personnelID,
		AcceptedAt:  now,
	})

	return copyOffer(offer), nil
}

// Decline resolves an explicit decline from the offer's target and rotates
// to the next-ranked unattempted candidate, or marks the shift unfilled if
// the list is exhausted.
func (b *Broadcaster) Decline(ctx context.Context, offerID, personnelID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.byOffer[offerID]
	if !ok {
		if _, recent := b.resolved[offerID]; recent {
			return model.ErrOfferAlreadyResolved
		}
		return &model.NotFoundError{Kind: "offer", ID: offerID}
	}
	offer := c.offer

	if offer.Status != model.OfferPending {
		return model.ErrOfferAlreadyResolved
	}
	if offer.PersonnelID != personnelID {
		return &model.ConflictError{Reason: "offer targets a different candidate"}
	}

	offer.Status = model.OfferDeclined
	if c.timer != nil {
		c.timer.Stop()
	}
	b.retireOfferLocked(offer)

	b.logger.Info("offer declined",
		zap.String("offer_id", offer.ID),
		zap.String("shift_id", c.shift.ID),
		zap.String("personnel_id", personnelID))

	b.emitter.Emit(&events.OfferExpired{
		OfferID:     offer.ID,
		ShiftID:     c.shift.ID,
		PersonnelID: personnelID,
		Declined:    true,
		ExpiredAt:   b.now(),
	})

	return b.rotateLocked(ctx, c)
}

// InvalidateShift synchronously cancels any in-flight offer for the shift
// so no stale acceptance can land after cancellation. Returns true if an
// offer was invalidated.
func (b *Broadcaster) InvalidateShift(shiftID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.byShift[shiftID]
	if !ok {
		return false
	}

	if c.offer != nil && c.offer.Status == model.OfferPending {
		c.offer.Status = model.OfferCancelled
	}
	b.resolveLocked(c)

	b.logger.Info("in-flight offer invalidated", zap.String("shift_id", shiftID))
	return true
}

// PendingOffer returns a snapshot of the shift's pending offer, or nil.
func (b *Broadcaster) PendingOffer(shiftID string) *model.Offer {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.byShift[shiftID]
	if !ok || c.offer == nil || c.offer.Status != model.OfferPending {
		return nil
	}
	return copyOffer(c.offer)
}

// advanceLocked creates a pending offer for the next unattempted candidate
// and persists the pending -> offered transition. Caller holds b.mu.
func (b *Broadcaster) advanceLocked(ctx context.Context, c *cascade) (*model.Offer, error) {
	candidate := c.ranked[c.next]
	c.next++

	now := b.now()
	offer := &model.Offer{
		ID:          uuid.New().String(),
		ShiftID:     c.shift.ID,
		PersonnelID: candidate.PersonnelID,
		Rank:        c.next - 1,
		CreatedAt:   now,
		ExpiresAt:   now.Add(b.ttl),
		Status:      model.OfferPending,
	}

	err := b.store.SaveShiftStatus(ctx, c.shift.ID, model.StatusPending, model.StatusOffered, db.StatusMetadata{})
	if err != nil {
		return nil, fmt.Errorf("failed to mark shift %s offered: %w", c.shift.ID, err)
	}

	c.offer = offer
	b.byOffer[offer.ID] = c
	c.timer = time.AfterFunc(offer.ExpiresAt.Sub(now), func() {
		b.expire(offer.ID)
	})

	b.logger.Info("offer created",
		zap.String("offer_id", offer.ID),
		zap.String("shift_id", c.shift.ID),
		zap.String("personnel_id", offer.PersonnelID),
		zap.Int("rank", offer.Rank),
		zap.Time("expires_at", offer.ExpiresAt))

	b.emitter.Emit(&events.OfferCreated{
		OfferID:     offer.ID,
		ShiftID:     c.shift.ID,
		PersonnelID: offer.PersonnelID,
		ExpiresAt:   offer.ExpiresAt,
		CreatedAt:   now,
	})

	return offer, nil
}

// rotateLocked returns the shift to pending and either advances to the next
// candidate or, with the list exhausted, marks the shift unfilled. Caller
// holds b.mu.
func (b *Broadcaster) rotateLocked(ctx context.Context, c *cascade) error {
	err := b.store.SaveShiftStatus(ctx, c.shift.ID, model.StatusOffered, model.StatusPending, db.StatusMetadata{})
	if err != nil {
		b.resolveLocked(c)
		return fmt.Errorf("failed to return shift %s to pending: %w", c.shift.ID, err)
	}

	if c.next < len(c.ranked) {
		_, err = b.advanceLocked(ctx, c)
		return err
	}

	// Ranked list exhausted
	err = b.store.SaveShiftStatus(ctx, c.shift.ID, model.StatusPending, model.StatusUnfilled, db.StatusMetadata{})
	if err != nil {
		b.resolveLocked(c)
		return fmt.Errorf("failed to mark shift %s unfilled: %w", c.shift.ID, err)
	}

	attempted := c.next
	b.resolveLocked(c)

	b.logger.Warn("shift unfilled: candidate list exhausted",
		zap.String("shift_id", c.shift.ID),
		zap.Int("attempted", attempted))

	b.emitter.Emit(&events.ShiftUnfilled{
		ShiftID:    c.shift.ID,
		Attempted:  attempted,
		UnfilledAt: b.now(),
	})

	return nil
}

// expire is the timer callback for a pending offer's countdown.
func (b *Broadcaster) expire(offerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.byOffer[offerID]
	if !ok {
		return // already resolved
	}
	offer := c.offer
	if offer.ID != offerID || offer.Status != model.OfferPending {
		return
	}

	offer.Status = model.OfferExpired
	b.retireOfferLocked(offer)

	b.logger.Info("offer expired with no response",
		zap.String("offer_id", offer.ID),
		zap.String("shift_id", c.shift.ID),
		zap.String("personnel_id", offer.PersonnelID))

	b.emitter.Emit(&events.OfferExpired{
		OfferID:     offer.ID,
		ShiftID:     c.shift.ID,
		PersonnelID: offer.PersonnelID,
		ExpiredAt:   b.now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := b.rotateLocked(ctx, c); err != nil {
		b.logger.Error("failed to rotate expired offer",
			zap.String("shift_id", c.shift.ID),
			zap.Error(err))
	}
}

// resolveLocked tears down a cascade once its shift no longer needs offers.
// Caller holds b.mu.
func (b *Broadcaster) resolveLocked(c *cascade) {
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.offer != nil {
		b.retireOfferLocked(c.offer)
	}
	delete(b.byShift, c.shift.ID)
}

// retireOfferLocked removes an offer from the live index and remembers its
// resolution briefly so duplicate requests see "already resolved". Caller
// holds b.mu.
func (b *Broadcaster) retireOfferLocked(offer *model.Offer) {
	delete(b.byOffer, offer.ID)
	b.resolved[offer.ID] = offer.Status

	id := offer.ID
	time.AfterFunc(resolvedRetention, func() {
		b.mu.Lock()
		delete(b.resolved, id)
		b.mu.Unlock()
	})
}

func copyOffer(o *model.Offer) *model.Offer {
	clone := *o
	return &clone
}
