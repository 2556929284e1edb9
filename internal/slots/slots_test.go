package slots_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/salon-booking-settlement/internal/adapters/memstore"
	"github.com/robertarktes/salon-booking-settlement/internal/catalog"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"github.com/robertarktes/salon-booking-settlement/internal/slots"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixture struct {
	store    *memstore.Store
	profiles *memstore.Catalog
	avail    *slots.Availability
	gen      *slots.Generator
}

// The clock sits at 08:00 UTC on 2026-03-10, so that day's morning is past.
var now = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) fixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	logger := observability.NewLoggerFrom(log)

	store := memstore.New()
	profiles := memstore.NewCatalog()
	merchants := catalog.NewService(profiles, nil, time.Minute, logger)
	gen := slots.NewGenerator(store, merchants, fixedClock{now}, time.UTC, logger)
	return fixture{store: store, profiles: profiles, avail: slots.NewAvailability(gen, store), gen: gen}
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func (f fixture) merchant(t *testing.T, mutate func(*domain.MerchantProfile)) uuid.UUID {
	t.Helper()
	m := domain.DefaultMerchantProfile(uuid.New())
	mutate(&m)
	require.NoError(t, f.profiles.UpsertMerchant(context.Background(), m))
	return m.ID
}

func TestListAvailable_ThirtyMinuteDay(t *testing.T) {
	f := newFixture(t)
	merchantID := f.merchant(t, func(m *domain.MerchantProfile) {
		m.Services = []domain.Service{{Name: "Haircut", Duration: 30, Price: 1100}}
	})

	free, err := f.avail.ListAvailable(context.Background(), merchantID, date(t, "2026-03-11"))
	require.NoError(t, err)
	require.Len(t, free, 16)

	assert.Equal(t, "09:00", free[0].Start.String())
	assert.Equal(t, "16:30", free[15].Start.String())
	for i, s := range free {
		assert.Equal(t, 30, s.Duration)
		assert.False(t, s.IsBooked)
		if i > 0 {
			assert.Less(t, int(free[i-1].Start), int(s.Start))
		}
	}
}

func TestGenerate_DefaultDurations(t *testing.T) {
	f := newFixture(t)
	merchantID := uuid.New()

	all, err := f.gen.Generate(context.Background(), merchantID, date(t, "2026-03-11"))
	require.NoError(t, err)

	// Every 15 minutes from 09:00, each of 15/30/45/60 that ends by 17:00.
	byDuration := map[int]int{}
	for _, s := range all {
		byDuration[s.Duration]++
		assert.LessOrEqual(t, int(s.End), int(domain.DefaultClosesAt))
	}
	assert.Equal(t, map[int]int{15: 32, 30: 31, 45: 30, 60: 29}, byDuration)
}

func TestGenerate_Idempotent(t *testing.T) {
	f := newFixture(t)
	merchantID := uuid.New()
	day := date(t, "2026-03-12")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gen.Generate(context.Background(), merchantID, day)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := f.store.ListSlots(context.Background(), merchantID, day)
	require.NoError(t, err)
	assert.Len(t, all, 122)

	seen := map[[2]int]bool{}
	for _, s := range all {
		key := [2]int{int(s.Start), s.Duration}
		assert.False(t, seen[key], "duplicate slot %s/%d", s.Start, s.Duration)
		seen[key] = true
	}
}

func TestGenerate_PastSlotsAreBooked(t *testing.T) {
	f := newFixture(t)
	merchantID := f.merchant(t, func(m *domain.MerchantProfile) {
		m.Services = []domain.Service{{Name: "Haircut", Duration: 60}}
	})

	yesterday, err := f.avail.ListAvailable(context.Background(), merchantID, date(t, "2026-03-09"))
	require.NoError(t, err)
	assert.Empty(t, yesterday)

	// 08:00 now: every slot today is still ahead.
	today, err := f.avail.ListAvailable(context.Background(), merchantID, date(t, "2026-03-10"))
	require.NoError(t, err)
	assert.Len(t, today, 8)

	summary, err := f.avail.Summary(context.Background(), merchantID, date(t, "2026-03-09"), date(t, "2026-03-10"))
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, domain.DaySummary{Date: date(t, "2026-03-09"), Available: 0, Booked: 8}, summary[0])
	assert.Equal(t, domain.DaySummary{Date: date(t, "2026-03-10"), Available: 8, Booked: 0}, summary[1])
}

func TestGenerate_SkipsBreak(t *testing.T) {
	f := newFixture(t)
	bs, be := domain.MustClock("13:00"), domain.MustClock("14:00")
	merchantID := f.merchant(t, func(m *domain.MerchantProfile) {
		m.Services = []domain.Service{{Name: "Haircut", Duration: 30}}
		m.BreakStart, m.BreakEnd = &bs, &be
	})

	free, err := f.avail.ListAvailable(context.Background(), merchantID, date(t, "2026-03-11"))
	require.NoError(t, err)
	assert.Len(t, free, 14)
	for _, s := range free {
		assert.False(t, s.Start >= bs && s.Start < be, "slot %s inside break", s.Start)
	}
}

func TestSynthesize(t *testing.T) {
	f := newFixture(t)
	merchantID := f.merchant(t, func(m *domain.MerchantProfile) {
		m.Services = []domain.Service{{Name: "Haircut", Duration: 30}}
	})
	day := date(t, "2026-03-11")

	_, err := f.avail.FindFree(context.Background(), merchantID, day, domain.MustClock("10:10"), 30)
	require.True(t, errors.Is(err, domain.ErrNotFound))

	slot, err := f.avail.Synthesize(context.Background(), merchantID, day, domain.MustClock("10:10"), 30)
	require.NoError(t, err)
	assert.Equal(t, "10:40", slot.End.String())

	_, err = f.avail.Synthesize(context.Background(), merchantID, day, domain.MustClock("16:50"), 30)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = f.avail.Synthesize(context.Background(), merchantID, date(t, "2026-03-09"), domain.MustClock("10:10"), 30)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPrefill(t *testing.T) {
	f := newFixture(t)
	merchantID := uuid.New()

	days, err := f.avail.Prefill(context.Background(), merchantID, date(t, "2026-03-07"), date(t, "2026-03-24"))
	require.NoError(t, err)
	assert.Equal(t, 18, days)

	summary, err := f.avail.Summary(context.Background(), merchantID, date(t, "2026-03-07"), date(t, "2026-03-24"))
	require.NoError(t, err)
	assert.Len(t, summary, 18)

	_, err = f.avail.Prefill(context.Background(), merchantID, date(t, "2026-03-24"), date(t, "2026-03-07"))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = f.avail.Summary(context.Background(), merchantID, date(t, "2026-01-01"), date(t, "2026-06-01"))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
