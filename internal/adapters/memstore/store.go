// Package memstore is an in-memory implementation of the booking store used by
// tests and local runs. Transactions are serialized and roll back by restoring
// a snapshot.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

type slotKey struct {
	merchantID uuid.UUID
	date       time.Time
	start      domain.ClockTime
	duration   int
}

type state struct {
	slots    map[uuid.UUID]domain.Slot
	slotKeys map[slotKey]uuid.UUID
	bookings map[uuid.UUID]domain.Booking
	payments map[uuid.UUID]domain.Payment
	coins    map[uuid.UUID]int64
	events   []domain.Event
}

func newState() state {
	return state{
		slots:    make(map[uuid.UUID]domain.Slot),
		slotKeys: make(map[slotKey]uuid.UUID),
		bookings: make(map[uuid.UUID]domain.Booking),
		payments: make(map[uuid.UUID]domain.Payment),
		coins:    make(map[uuid.UUID]int64),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.slotKeys {
		c.slotKeys[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.coins {
		c.coins[k] = v
	}
	c.events = append([]domain.Event(nil), s.events...)
	return c
}

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state
	now  func() time.Time
}

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bool)
	return ok
}

func (s *Store) lock(ctx context.Context) func() {
	outer := !inTx(ctx)
	if outer {
		s.txMu.Lock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if outer {
			s.txMu.Unlock()
		}
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) ListSlots(ctx context.Context, merchantID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	return s.filterSlots(ctx, merchantID, date, false), nil
}

func (s *Store) ListFreeSlots(ctx context.Context, merchantID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	return s.filterSlots(ctx, merchantID, date, true), nil
}

func (s *Store) filterSlots(ctx context.Context, merchantID uuid.UUID, date time.Time, freeOnly bool) []domain.Slot {
	defer s.lock(ctx)()
	var out []domain.Slot
	for _, sl := range s.st.slots {
		if sl.MerchantID != merchantID || !sl.Date.Equal(date) {
			continue
		}
		if freeOnly && sl.IsBooked {
			continue
		}
		out = append(out, sl)
	}
	sortSlots(out)
	return out
}

func sortSlots(slots []domain.Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Start != slots[j].Start {
			return slots[i].Start < slots[j].Start
		}
		return slots[i].Duration < slots[j].Duration
	})
}

func (s *Store) InsertSlots(ctx context.Context, slots []domain.Slot) (int, error) {
	defer s.lock(ctx)()
	inserted := 0
	for _, sl := range slots {
		key := slotKey{sl.MerchantID, sl.Date, sl.Start, sl.Duration}
		if _, ok := s.st.slotKeys[key]; ok {
			continue
		}
		if sl.CreatedAt.IsZero() {
			sl.CreatedAt = s.now()
		}
		s.st.slotKeys[key] = sl.ID
		s.st.slots[sl.ID] = sl
		inserted++
	}
	return inserted, nil
}

func (s *Store) GetSlot(ctx context.Context, id uuid.UUID) (domain.Slot, error) {
	defer s.lock(ctx)()
	sl, ok := s.st.slots[id]
	if !ok {
		return domain.Slot{}, errors.Wrapf(domain.ErrNotFound, "slot %s", id)
	}
	return sl, nil
}

func (s *Store) FindFreeSlot(ctx context.Context, merchantID uuid.UUID, date time.Time, start domain.ClockTime, duration int) (domain.Slot, error) {
	for _, sl := range s.filterSlots(ctx, merchantID, date, true) {
		if sl.Start == start && (duration == 0 || sl.Duration == duration) {
			return sl, nil
		}
	}
	return domain.Slot{}, errors.Wrapf(domain.ErrNotFound, "free slot %s %s", date.Format(domain.DateLayout), start)
}

func (s *Store) ClaimSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	defer s.lock(ctx)()
	sl, ok := s.st.slots[id]
	if !ok {
		return false, errors.Wrapf(domain.ErrNotFound, "slot %s", id)
	}
	if sl.IsBooked {
		return false, nil
	}
	sl.IsBooked = true
	s.st.slots[id] = sl
	return true, nil
}

func (s *Store) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	defer s.lock(ctx)()
	sl, ok := s.st.slots[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "slot %s", id)
	}
	sl.IsBooked = false
	s.st.slots[id] = sl
	return nil
}

func (s *Store) SlotSummary(ctx context.Context, merchantID uuid.UUID, from, to time.Time) ([]domain.DaySummary, error) {
	defer s.lock(ctx)()
	byDate := make(map[time.Time]*domain.DaySummary)
	for _, sl := range s.st.slots {
		if sl.MerchantID != merchantID || sl.Date.Before(from) || sl.Date.After(to) {
			continue
		}
		d, ok := byDate[sl.Date]
		if !ok {
			d = &domain.DaySummary{Date: sl.Date}
			byDate[sl.Date] = d
		}
		if sl.IsBooked {
			d.Booked++
		} else {
			d.Available++
		}
	}
	out := make([]domain.DaySummary, 0, len(byDate))
	for _, d := range byDate {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
