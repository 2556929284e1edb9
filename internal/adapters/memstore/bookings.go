package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

func (s *Store) InsertBooking(ctx context.Context, b domain.Booking) error {
	defer s.lock(ctx)()
	if _, ok := s.st.bookings[b.ID]; ok {
		return errors.Mark(errors.Newf("booking %s exists", b.ID), domain.ErrConflict)
	}
	now := s.now()
	b.CreatedAt, b.UpdatedAt = now, now
	s.st.bookings[b.ID] = b
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	defer s.lock(ctx)()
	b, ok := s.st.bookings[id]
	if !ok {
		return domain.Booking{}, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	return b, nil
}

func (s *Store) TransitionBooking(ctx context.Context, id uuid.UUID, from []domain.BookingStatus, to domain.BookingStatus) (domain.Booking, error) {
	defer s.lock(ctx)()
	b, ok := s.st.bookings[id]
	if !ok {
		return domain.Booking{}, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	for _, st := range from {
		if b.Status == st {
			b.Status = to
			b.UpdatedAt = s.now()
			s.st.bookings[id] = b
			return b, nil
		}
	}
	return domain.Booking{}, errors.Wrapf(domain.ErrInvalidState, "booking %s is %s, cannot move to %s", id, b.Status, to)
}

func (s *Store) SetBookingPayment(ctx context.Context, bookingID, paymentID uuid.UUID, coinsUsed, coinsEarned int64) error {
	defer s.lock(ctx)()
	b, ok := s.st.bookings[bookingID]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "booking %s", bookingID)
	}
	pid := paymentID
	b.PaymentID = &pid
	b.CoinsUsed, b.CoinsEarned = coinsUsed, coinsEarned
	b.UpdatedAt = s.now()
	s.st.bookings[bookingID] = b
	return nil
}

func (s *Store) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	defer s.lock(ctx)()
	var out []domain.Booking
	for _, b := range s.st.bookings {
		if f.UserID != nil && b.UserID != *f.UserID {
			continue
		}
		if f.MerchantID != nil && b.MerchantID != *f.MerchantID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, b.Status) {
			continue
		}
		if f.From != nil && b.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && b.Date.After(*f.To) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.After(out[j].StartsAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func containsStatus(list []domain.BookingStatus, st domain.BookingStatus) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}

func (s *Store) MarkMissed(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	defer s.lock(ctx)()
	var out []domain.Booking
	for id, b := range s.st.bookings {
		if (b.Status == domain.BookingPending || b.Status == domain.BookingConfirmed) && b.EndsAt.Before(now) {
			b.Status = domain.BookingMissed
			b.UpdatedAt = s.now()
			s.st.bookings[id] = b
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Booking, error) {
	defer s.lock(ctx)()
	var out []domain.Booking
	for _, b := range s.st.bookings {
		if b.Status == domain.BookingPending && b.CreatedAt.Before(createdBefore) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetCreatedAt backdates a booking; used to exercise expiry sweeps.
func (s *Store) SetCreatedAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.st.bookings[id]
	b.CreatedAt = at
	s.st.bookings[id] = b
}
