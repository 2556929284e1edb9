package slots

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	prefillConcurrency = 4
	maxRangeDays       = 62
)

type Availability struct {
	gen   *Generator
	store Store
}

func NewAvailability(gen *Generator, store Store) *Availability {
	return &Availability{gen: gen, store: store}
}

// ListAvailable returns the free slots of a day ordered by start time,
// generating the day first if needed.
func (a *Availability) ListAvailable(ctx context.Context, merchantID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	if _, err := a.gen.Generate(ctx, merchantID, date); err != nil {
		return nil, err
	}
	free, err := a.store.ListFreeSlots(ctx, merchantID, date)
	if err != nil {
		return nil, errors.Wrap(err, "list free slots")
	}
	return free, nil
}

func (a *Availability) FindFree(ctx context.Context, merchantID uuid.UUID, date time.Time, start domain.ClockTime, duration int) (domain.Slot, error) {
	if _, err := a.gen.Generate(ctx, merchantID, date); err != nil {
		return domain.Slot{}, err
	}
	return a.store.FindFreeSlot(ctx, merchantID, date, start, duration)
}

func (a *Availability) Synthesize(ctx context.Context, merchantID uuid.UUID, date time.Time, start domain.ClockTime, duration int) (domain.Slot, error) {
	return a.gen.Synthesize(ctx, merchantID, date, start, duration)
}

func (a *Availability) Summary(ctx context.Context, merchantID uuid.UUID, from, to time.Time) ([]domain.DaySummary, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return a.store.SlotSummary(ctx, merchantID, from, to)
}

// Prefill generates every day in [from, to] and returns the number of days
// that now have slots.
func (a *Availability) Prefill(ctx context.Context, merchantID uuid.UUID, from, to time.Time) (int, error) {
	if err := checkRange(from, to); err != nil {
		return 0, err
	}

	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefillConcurrency)
	for _, day := range days {
		day := day
		g.Go(func() error {
			_, err := a.gen.Generate(gctx, merchantID, day)
			return errors.Wrapf(err, "generate %s", day.Format(domain.DateLayout))
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(days), nil
}

func checkRange(from, to time.Time) error {
	if to.Before(from) {
		return errors.Wrap(domain.ErrInvalidInput, "range end is before start")
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour {
		return errors.Wrapf(domain.ErrInvalidInput, "range exceeds %d days", maxRangeDays)
	}
	return nil
}
