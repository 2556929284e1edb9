package cancellation

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
)

type Engine struct {
	store     Store
	merchants Merchants
	payments  Payments
	clock     domain.Clock
	logger    observability.Logger
	// releaseSlot applies when the merchant has no override.
	releaseSlot bool
}

func NewEngine(store Store, merchants Merchants, payments Payments, clock domain.Clock, logger observability.Logger, releaseSlot bool) *Engine {
	return &Engine{
		store:       store,
		merchants:   merchants,
		payments:    payments,
		clock:       clock,
		logger:      logger,
		releaseSlot: releaseSlot,
	}
}

type Result struct {
	Booking       domain.Booking
	CoinsRefunded int64
	SlotReleased  bool
}

// Cancel cancels a pending or confirmed booking on behalf of its customer or
// merchant. Coins spent on it are credited back and, when the release policy
// allows, its slot becomes bookable again. A second cancel returns
// ErrInvalidState and refunds nothing.
func (e *Engine) Cancel(ctx context.Context, actorID, bookingID uuid.UUID, reason string) (Result, error) {
	ctx, span := observability.Tracer("cancellation").Start(ctx, "cancellation.Cancel")
	defer span.End()

	b, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	if b.UserID != actorID && b.MerchantID != actorID {
		return Result{}, errors.Wrap(domain.ErrForbidden, "booking belongs to another user")
	}
	if !b.Status.CanTransition(domain.BookingCancelled) {
		return Result{}, errors.Wrapf(domain.ErrInvalidState, "booking %s is %s", b.ID, b.Status)
	}

	release, err := e.releasePolicy(ctx, b.MerchantID)
	if err != nil {
		return Result{}, err
	}
	if reason == "" {
		reason = "cancelled"
	}

	var res Result
	err = e.store.WithTx(ctx, func(ctx context.Context) error {
		res = Result{}
		cancelled, err := e.store.TransitionBooking(ctx, bookingID, domain.BookingCancelled.Sources(), domain.BookingCancelled)
		if err != nil {
			return err
		}
		res.Booking = cancelled

		if cancelled.CoinsUsed > 0 {
			if err := e.store.CreditCoins(ctx, cancelled.UserID, cancelled.CoinsUsed); err != nil {
				return errors.Wrap(err, "refund coins")
			}
			res.CoinsRefunded = cancelled.CoinsUsed
		}
		if release && cancelled.SlotID != nil {
			if err := e.store.ReleaseSlot(ctx, *cancelled.SlotID); err != nil {
				return errors.Wrap(err, "release slot")
			}
			res.SlotReleased = true
		}
		if err := e.payments.FailPending(ctx, bookingID, "booking cancelled"); err != nil {
			return err
		}
		return e.store.AppendEvent(ctx, domain.BookingEvent(domain.EventBookingCancelled, cancelled, map[string]interface{}{
			"reason":         reason,
			"cancelled_by":   actorID,
			"coins_refunded": res.CoinsRefunded,
			"slot_released":  res.SlotReleased,
		}))
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, errors.Wrap(err, "cancel booking")
	}

	e.logger.WithFields(map[string]interface{}{
		"booking_id":     bookingID,
		"actor_id":       actorID,
		"coins_refunded": res.CoinsRefunded,
		"slot_released":  res.SlotReleased,
	}).Info("booking cancelled")
	return res, nil
}

func (e *Engine) releasePolicy(ctx context.Context, merchantID uuid.UUID) (bool, error) {
	m, err := e.merchants.Merchant(ctx, merchantID)
	if err != nil {
		return false, errors.Wrap(err, "load merchant")
	}
	if m.ReleaseSlotOnCancel != nil {
		return *m.ReleaseSlotOnCancel, nil
	}
	return e.releaseSlot, nil
}

// MarkMissed moves every pending or confirmed booking whose end time has passed
// to missed and returns how many moved. Running it again moves nothing.
func (e *Engine) MarkMissed(ctx context.Context) (int, error) {
	var missed []domain.Booking
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		missed, err = e.store.MarkMissed(ctx, e.clock.Now())
		if err != nil {
			return err
		}
		for _, b := range missed {
			if err := e.payments.FailPending(ctx, b.ID, "booking missed"); err != nil {
				return err
			}
			if err := e.store.AppendEvent(ctx, domain.BookingEvent(domain.EventBookingMissed, b, nil)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "mark missed")
	}
	if len(missed) > 0 {
		observability.BookingsSwept.WithLabelValues("missed").Add(float64(len(missed)))
		e.logger.WithField("count", len(missed)).Info("marked bookings missed")
	}
	return len(missed), nil
}
