package slots

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
)

type Generator struct {
	store     Store
	merchants Merchants
	clock     domain.Clock
	loc       *time.Location
	logger    observability.Logger
}

func NewGenerator(store Store, merchants Merchants, clock domain.Clock, loc *time.Location, logger observability.Logger) *Generator {
	return &Generator{store: store, merchants: merchants, clock: clock, loc: loc, logger: logger}
}

// Generate returns the slots of merchantID on date, creating them from the
// merchant's schedule when the day has none. Concurrent callers converge on
// the same rows because inserts skip existing (start, duration) pairs.
func (g *Generator) Generate(ctx context.Context, merchantID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	existing, err := g.store.ListSlots(ctx, merchantID, date)
	if err != nil {
		return nil, errors.Wrap(err, "list slots")
	}
	if len(existing) > 0 {
		return existing, nil
	}

	profile, err := g.merchants.Merchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	candidates := BuildCandidates(profile, merchantID, date, g.clock.Now(), g.loc)
	inserted, err := g.store.InsertSlots(ctx, candidates)
	if err != nil {
		return nil, errors.Wrap(err, "insert slots")
	}
	g.logger.WithFields(map[string]interface{}{
		"merchant_id": merchantID,
		"date":        date.Format(domain.DateLayout),
		"candidates":  len(candidates),
		"inserted":    inserted,
	}).Debug("generated slots")

	return g.store.ListSlots(ctx, merchantID, date)
}

// Synthesize creates a single slot outside the generated grid when it fits the
// merchant's hours, then returns it if it is free.
func (g *Generator) Synthesize(ctx context.Context, merchantID uuid.UUID, date time.Time, start domain.ClockTime, duration int) (domain.Slot, error) {
	profile, err := g.merchants.Merchant(ctx, merchantID)
	if err != nil {
		return domain.Slot{}, err
	}
	if !profile.Fits(start, duration) {
		return domain.Slot{}, errors.Wrapf(domain.ErrNotFound, "%s for %d minutes is outside business hours", start, duration)
	}
	if domain.At(date, start, g.loc).Before(g.clock.Now()) {
		return domain.Slot{}, errors.Wrapf(domain.ErrNotFound, "%s %s is in the past", date.Format(domain.DateLayout), start)
	}

	slot := newSlot(merchantID, date, start, duration, false)
	if _, err := g.store.InsertSlots(ctx, []domain.Slot{slot}); err != nil {
		return domain.Slot{}, errors.Wrap(err, "insert slot")
	}
	return g.store.FindFreeSlot(ctx, merchantID, date, start, duration)
}

// BuildCandidates walks business hours in steps of the shortest duration and
// emits one slot per duration that ends by closing time. Slots of different
// durations overlap; claiming one does not block the others. Slots that start
// before now are created booked.
func BuildCandidates(profile domain.MerchantProfile, merchantID uuid.UUID, date, now time.Time, loc *time.Location) []domain.Slot {
	durations := profile.Durations()
	step := durations[0]
	open, closing := profile.Hours()

	var out []domain.Slot
	for start := open; start < closing; start = start.Add(step) {
		past := domain.At(date, start, loc).Before(now)
		for _, d := range durations {
			end := start.Add(d)
			if end > closing || profile.InBreak(start, end) {
				continue
			}
			out = append(out, newSlot(merchantID, date, start, d, past))
		}
	}
	return out
}

func newSlot(merchantID uuid.UUID, date time.Time, start domain.ClockTime, duration int, booked bool) domain.Slot {
	return domain.Slot{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Date:       date,
		Start:      start,
		End:        start.Add(duration),
		Duration:   duration,
		IsBooked:   booked,
	}
}
