package memstore

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

func (s *Store) InsertPayment(ctx context.Context, p domain.Payment) error {
	defer s.lock(ctx)()
	for _, other := range s.st.payments {
		if p.BookingID != nil && other.BookingID != nil && *other.BookingID == *p.BookingID &&
			other.Status != domain.PaymentFailed && p.Status != domain.PaymentFailed {
			return errors.Mark(errors.Newf("booking %s already has an active payment", *p.BookingID), domain.ErrConflict)
		}
		if p.TransactionID != "" && other.TransactionID == p.TransactionID {
			return errors.Mark(errors.Newf("transaction %s exists", p.TransactionID), domain.ErrConflict)
		}
	}
	if p.Amount != p.PlatformFee+p.Commission+p.MerchantAmount {
		return errors.Wrap(domain.ErrInvalidInput, "payment split does not add up")
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.st.payments[p.ID] = p
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	defer s.lock(ctx)()
	p, ok := s.st.payments[id]
	if !ok {
		return domain.Payment{}, errors.Wrapf(domain.ErrNotFound, "payment %s", id)
	}
	return p, nil
}

func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	defer s.lock(ctx)()
	for _, p := range s.st.payments {
		if orderID != "" && p.OrderID == orderID {
			return p, nil
		}
	}
	return domain.Payment{}, errors.Wrapf(domain.ErrNotFound, "payment for order %s", orderID)
}

func (s *Store) ActivePaymentForBooking(ctx context.Context, bookingID uuid.UUID) (domain.Payment, error) {
	defer s.lock(ctx)()
	for _, p := range s.st.payments {
		if p.BookingID != nil && *p.BookingID == bookingID && p.Status != domain.PaymentFailed {
			return p, nil
		}
	}
	return domain.Payment{}, errors.Wrapf(domain.ErrNotFound, "active payment for booking %s", bookingID)
}

func (s *Store) SetPaymentOrder(ctx context.Context, paymentID uuid.UUID, orderID string) error {
	defer s.lock(ctx)()
	p, ok := s.st.payments[paymentID]
	if !ok || p.Status != domain.PaymentPending {
		return errors.Wrapf(domain.ErrInvalidState, "payment %s is not pending", paymentID)
	}
	p.OrderID = orderID
	p.UpdatedAt = s.now()
	s.st.payments[paymentID] = p
	return nil
}

func (s *Store) CompletePayment(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error) {
	return s.finishPayment(ctx, paymentID, func(p *domain.Payment) {
		p.Status = domain.PaymentCompleted
		p.TransactionID = transactionID
	})
}

func (s *Store) FailPayment(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	return s.finishPayment(ctx, paymentID, func(p *domain.Payment) {
		p.Status = domain.PaymentFailed
		p.FailureReason = reason
	})
}

func (s *Store) RecordLateCapture(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error) {
	defer s.lock(ctx)()
	p, ok := s.st.payments[paymentID]
	if !ok || p.Status != domain.PaymentFailed || p.TransactionID != "" {
		return false, nil
	}
	p.TransactionID = transactionID
	p.UpdatedAt = s.now()
	s.st.payments[paymentID] = p
	return true, nil
}

func (s *Store) finishPayment(ctx context.Context, paymentID uuid.UUID, apply func(p *domain.Payment)) (bool, error) {
	defer s.lock(ctx)()
	p, ok := s.st.payments[paymentID]
	if !ok || p.Status != domain.PaymentPending {
		return false, nil
	}
	apply(&p)
	p.UpdatedAt = s.now()
	s.st.payments[paymentID] = p
	return true, nil
}

func (s *Store) GetCoins(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer s.lock(ctx)()
	return s.st.coins[userID], nil
}

func (s *Store) DebitCoins(ctx context.Context, userID uuid.UUID, amount int64) (bool, error) {
	if amount <= 0 {
		return false, errors.Wrap(domain.ErrInvalidInput, "debit must be positive")
	}
	defer s.lock(ctx)()
	if s.st.coins[userID] < amount {
		return false, nil
	}
	s.st.coins[userID] -= amount
	return true, nil
}

func (s *Store) CreditCoins(ctx context.Context, userID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return errors.Wrap(domain.ErrInvalidInput, "credit must be positive")
	}
	defer s.lock(ctx)()
	s.st.coins[userID] += amount
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, e domain.Event) error {
	defer s.lock(ctx)()
	for _, existing := range s.st.events {
		if existing.Type == e.Type && existing.AggregateID == e.AggregateID {
			return nil
		}
	}
	s.st.events = append(s.st.events, e)
	return nil
}

// Events returns a copy of the recorded outbox events.
func (s *Store) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.st.events...)
}
