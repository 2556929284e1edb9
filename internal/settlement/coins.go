package settlement

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

// settleCoins debits the user's balance and confirms the booking in one
// transaction. A short balance fails before anything is written.
func (e *Engine) settleCoins(ctx context.Context, req Request, split domain.FeeSplit) (Result, error) {
	if !req.Merchant.CoinsEnabled {
		return Result{}, errors.Wrap(domain.ErrInvalidInput, "merchant does not accept coins")
	}
	coins := domain.CoinsFor(split.Base())
	if coins == 0 {
		return Result{}, errors.Wrap(domain.ErrInvalidInput, "nothing to pay with coins")
	}

	balance, err := e.store.GetCoins(ctx, req.UserID)
	if err != nil {
		return Result{}, errors.Wrap(err, "read coin balance")
	}
	if balance < coins {
		return Result{}, errors.Wrapf(domain.ErrInsufficientBalance, "need %d coins, have %d", coins, balance)
	}

	payment := newPayment(req, split, domain.PaymentCompleted)
	payment.CoinsUsed = coins
	payment.TransactionID = "coins_" + uuid.NewString()

	err = e.store.WithTx(ctx, func(ctx context.Context) error {
		ok, err := e.store.DebitCoins(ctx, req.UserID, coins)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(domain.ErrInsufficientBalance, "need %d coins", coins)
		}
		if err := e.store.InsertPayment(ctx, payment); err != nil {
			return err
		}
		booking, err := e.store.TransitionBooking(ctx, req.Booking.ID, []domain.BookingStatus{domain.BookingPending}, domain.BookingConfirmed)
		if err != nil {
			return err
		}
		if err := e.store.SetBookingPayment(ctx, booking.ID, payment.ID, coins, 0); err != nil {
			return err
		}
		if err := e.store.AppendEvent(ctx, domain.PaymentEvent(domain.EventPaymentCompleted, payment)); err != nil {
			return err
		}
		return e.store.AppendEvent(ctx, domain.BookingEvent(domain.EventBookingConfirmed, booking, map[string]interface{}{
			"payment_id": payment.ID,
			"coins_used": coins,
		}))
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "settle with coins")
	}

	e.logger.WithFields(map[string]interface{}{
		"booking_id": req.Booking.ID,
		"payment_id": payment.ID,
		"coins_used": coins,
	}).Info("booking paid with coins")

	return Result{Payment: payment, Split: split, CoinsUsed: coins}, nil
}
