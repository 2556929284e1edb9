package settlement

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
)

// initiateOrder records a pending payment and then asks the processor for an
// order. If the processor call fails the payment stays pending without an
// order id, and a later Settle for the same booking resumes it.
func (e *Engine) initiateOrder(ctx context.Context, req Request, split domain.FeeSplit) (Result, error) {
	payment := newPayment(req, split, domain.PaymentPending)
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		if err := e.store.InsertPayment(ctx, payment); err != nil {
			return err
		}
		return e.store.SetBookingPayment(ctx, req.Booking.ID, payment.ID, 0, 0)
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "record pending payment")
	}
	return e.resumeOrder(ctx, req, payment)
}

func (e *Engine) resumeOrder(ctx context.Context, req Request, payment domain.Payment) (Result, error) {
	if payment.OrderID != "" {
		return e.resultFor(payment), nil
	}

	order, err := e.createOrderWithRetry(ctx, e.orderRequest(req, payment))
	if err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"booking_id": req.Booking.ID,
			"payment_id": payment.ID,
		}).Warn("processor order creation failed")
		return Result{}, err
	}
	if err := e.store.SetPaymentOrder(ctx, payment.ID, order.ID); err != nil {
		return Result{}, errors.Wrap(err, "store processor order")
	}
	payment.OrderID = order.ID

	res := e.resultFor(payment)
	if order.KeyID != "" {
		res.KeyID = order.KeyID
	}
	return res, nil
}

func (e *Engine) orderRequest(req Request, payment domain.Payment) domain.OrderRequest {
	out := domain.OrderRequest{
		Amount:   payment.Amount,
		Currency: e.opts.Currency,
		Receipt:  req.Booking.ID.String(),
		Notes: map[string]string{
			"booking_id":       req.Booking.ID.String(),
			"payment_id":       payment.ID.String(),
			"user_id":          req.UserID.String(),
			"merchant_id":      req.Booking.MerchantID.String(),
			"service":          req.Booking.Service,
			"platform_fee":     payment.PlatformFee.String(),
			"admin_commission": payment.Commission.String(),
			"merchant_amount":  payment.MerchantAmount.String(),
		},
	}
	if req.Merchant.Name != "" {
		out.Notes["merchant_name"] = req.Merchant.Name
	}
	if p := req.Merchant.Payout; p != nil && p.LinkedAccountID != "" {
		out.Transfers = []domain.Transfer{{
			Account:  p.LinkedAccountID,
			Amount:   payment.MerchantAmount,
			Currency: e.opts.Currency,
			Notes:    map[string]string{"booking_id": req.Booking.ID.String()},
		}}
	}
	return out
}

// createOrderWithRetry retries transient processor failures with exponential
// backoff. Rejections (4xx) are returned immediately.
func (e *Engine) createOrderWithRetry(ctx context.Context, req domain.OrderRequest) (domain.ProcessorOrder, error) {
	var lastErr error
	for i := 0; i < e.opts.MaxAttempts; i++ {
		order, err := e.processor.CreateOrder(ctx, req)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrProviderError) {
			err = errors.Mark(err, domain.ErrProviderError)
		}
		lastErr = err
		if errors.Is(err, domain.ErrProviderRejected) || i == e.opts.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return domain.ProcessorOrder{}, errors.Mark(errors.Wrap(ctx.Err(), "create order"), domain.ErrProviderError)
		case <-time.After(e.opts.Backoff * time.Duration(1<<i)):
		}
	}
	return domain.ProcessorOrder{}, errors.Wrapf(lastErr, "create order after %d attempts", e.opts.MaxAttempts)
}

type VerifyRequest struct {
	// PaymentRef is the payment id or the processor order id.
	PaymentRef        string
	Provider          string
	ProviderPaymentID string
	Signature         string
	// FailureReason is set when the processor reported the payment failed.
	FailureReason string
}

// Verify finalizes a processor payment from the checkout callback. A callback
// repeating an already applied provider payment id is a no-op. An invalid
// signature is rejected without touching any state.
func (e *Engine) Verify(ctx context.Context, userID uuid.UUID, req VerifyRequest) (domain.Payment, error) {
	ctx, span := observability.Tracer("settlement").Start(ctx, "settlement.Verify")
	defer span.End()

	payment, err := e.lookup(ctx, req.PaymentRef)
	if err != nil {
		return domain.Payment{}, err
	}
	if payment.UserID != userID {
		return domain.Payment{}, errors.Wrap(domain.ErrForbidden, "payment belongs to another user")
	}
	if payment.Method != domain.MethodProcessor {
		return domain.Payment{}, errors.Wrapf(domain.ErrInvalidState, "payment %s is not a processor payment", payment.ID)
	}

	switch payment.Status {
	case domain.PaymentCompleted:
		if payment.TransactionID == req.ProviderPaymentID {
			return payment, nil
		}
		return domain.Payment{}, errors.Wrapf(domain.ErrInvalidState, "payment %s already completed", payment.ID)
	case domain.PaymentFailed:
		// The booking may have been cancelled or expired while the customer was
		// still paying. A signed capture is recorded so it can be refunded.
		capturable := req.FailureReason == "" && payment.OrderID != "" &&
			(payment.TransactionID == "" || payment.TransactionID == req.ProviderPaymentID)
		if !capturable {
			return domain.Payment{}, errors.Wrapf(domain.ErrInvalidState, "payment %s already failed", payment.ID)
		}
		if err := e.checkSignature(ctx, userID, payment, req); err != nil {
			return domain.Payment{}, err
		}
		return e.recordLateCapture(ctx, payment, req.ProviderPaymentID)
	}
	if payment.OrderID == "" {
		return domain.Payment{}, errors.Wrapf(domain.ErrInvalidState, "payment %s has no processor order", payment.ID)
	}

	if req.FailureReason != "" {
		return e.markFailed(ctx, payment, req.FailureReason)
	}

	if err := e.checkSignature(ctx, userID, payment, req); err != nil {
		return domain.Payment{}, err
	}
	return e.complete(ctx, payment, req.ProviderPaymentID)
}

func (e *Engine) checkSignature(ctx context.Context, userID uuid.UUID, payment domain.Payment, req VerifyRequest) error {
	if !e.processor.VerifySignature(payment.OrderID, req.ProviderPaymentID, req.Signature) {
		observability.Settlements.WithLabelValues(string(payment.Method), "signature_invalid").Inc()
		e.logger.WithFields(map[string]interface{}{
			"payment_id":          payment.ID,
			"order_id":            payment.OrderID,
			"provider_payment_id": req.ProviderPaymentID,
			"user_id":             userID,
		}).Warn("rejected payment callback with invalid signature")
		e.audit(ctx, AuditSignatureRejected, userID, map[string]interface{}{
			"payment_id":          payment.ID,
			"order_id":            payment.OrderID,
			"provider_payment_id": req.ProviderPaymentID,
			"provider":            req.Provider,
		})
		return errors.Wrapf(domain.ErrSignatureInvalid, "payment %s", payment.ID)
	}
	return nil
}

// recordLateCapture stores the provider payment id on a payment that already
// failed and flags it for a manual refund. The payment stays failed and the
// booking is left as it is.
func (e *Engine) recordLateCapture(ctx context.Context, payment domain.Payment, providerPaymentID string) (domain.Payment, error) {
	lateErr := errors.Wrapf(domain.ErrInvalidState, "payment %s already failed; capture %s recorded for refund", payment.ID, providerPaymentID)
	if payment.TransactionID == providerPaymentID {
		return payment, lateErr
	}

	ok, err := e.store.RecordLateCapture(ctx, payment.ID, providerPaymentID)
	if err != nil {
		return domain.Payment{}, errors.Wrap(err, "record late capture")
	}
	if !ok {
		current, err := e.store.GetPayment(ctx, payment.ID)
		if err != nil {
			return domain.Payment{}, err
		}
		if current.TransactionID == providerPaymentID {
			return current, lateErr
		}
		return domain.Payment{}, errors.Wrapf(domain.ErrInvalidState, "payment %s is %s", payment.ID, current.Status)
	}
	payment.TransactionID = providerPaymentID

	data := map[string]interface{}{
		"payment_id":          payment.ID,
		"provider_payment_id": providerPaymentID,
		"amount":              payment.Amount.String(),
		"payment_status":      string(payment.Status),
	}
	if payment.BookingID != nil {
		data["booking_id"] = *payment.BookingID
		if b, err := e.store.GetBooking(ctx, *payment.BookingID); err == nil {
			data["booking_status"] = string(b.Status)
		}
	}
	observability.Settlements.WithLabelValues(string(payment.Method), "late_capture").Inc()
	e.logger.WithFields(data).Error("captured payment for a failed checkout")
	e.audit(ctx, AuditLateVerification, payment.UserID, data)
	return payment, lateErr
}

func (e *Engine) lookup(ctx context.Context, ref string) (domain.Payment, error) {
	if ref == "" {
		return domain.Payment{}, errors.Wrap(domain.ErrInvalidInput, "payment id is required")
	}
	if id, err := uuid.Parse(ref); err == nil {
		return e.store.GetPayment(ctx, id)
	}
	return e.store.GetPaymentByOrderID(ctx, ref)
}

func (e *Engine) complete(ctx context.Context, payment domain.Payment, providerPaymentID string) (domain.Payment, error) {
	var lateBooking *domain.Booking
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		lateBooking = nil
		ok, err := e.store.CompletePayment(ctx, payment.ID, providerPaymentID)
		if err != nil {
			return err
		}
		if !ok {
			current, err := e.store.GetPayment(ctx, payment.ID)
			if err != nil {
				return err
			}
			if current.Status == domain.PaymentCompleted && current.TransactionID == providerPaymentID {
				payment = current
				return nil
			}
			return errors.Wrapf(domain.ErrInvalidState, "payment %s is %s", payment.ID, current.Status)
		}
		payment.Status, payment.TransactionID = domain.PaymentCompleted, providerPaymentID
		if err := e.store.AppendEvent(ctx, domain.PaymentEvent(domain.EventPaymentCompleted, payment)); err != nil {
			return err
		}
		if payment.BookingID == nil {
			return nil
		}

		booking, err := e.store.TransitionBooking(ctx, *payment.BookingID, []domain.BookingStatus{domain.BookingPending}, domain.BookingConfirmed)
		if errors.Is(err, domain.ErrInvalidState) {
			// Money was captured for a booking that moved on; keep the payment and flag it.
			b, getErr := e.store.GetBooking(ctx, *payment.BookingID)
			if getErr != nil {
				return getErr
			}
			lateBooking = &b
			return nil
		}
		if err != nil {
			return err
		}
		earned := domain.CoinsEarned(payment.Amount - payment.PlatformFee)
		if err := e.store.SetBookingPayment(ctx, booking.ID, payment.ID, 0, earned); err != nil {
			return err
		}
		return e.store.AppendEvent(ctx, domain.BookingEvent(domain.EventBookingConfirmed, booking, map[string]interface{}{
			"payment_id": payment.ID,
		}))
	})
	if err != nil {
		return domain.Payment{}, errors.Wrap(err, "complete payment")
	}

	if lateBooking != nil {
		e.logger.WithFields(map[string]interface{}{
			"payment_id":     payment.ID,
			"booking_id":     lateBooking.ID,
			"booking_status": lateBooking.Status,
		}).Error("payment completed for a booking that is no longer pending")
		e.audit(ctx, AuditLateVerification, payment.UserID, map[string]interface{}{
			"payment_id":          payment.ID,
			"booking_id":          lateBooking.ID,
			"booking_status":      string(lateBooking.Status),
			"provider_payment_id": providerPaymentID,
			"amount":              payment.Amount.String(),
		})
		return payment, errors.Wrapf(domain.ErrInvalidState, "booking %s is %s; payment recorded for refund", lateBooking.ID, lateBooking.Status)
	}

	observability.Settlements.WithLabelValues(string(payment.Method), string(domain.PaymentCompleted)).Inc()
	e.logger.WithFields(map[string]interface{}{
		"payment_id":          payment.ID,
		"provider_payment_id": providerPaymentID,
	}).Info("processor payment verified")
	return payment, nil
}

func (e *Engine) markFailed(ctx context.Context, payment domain.Payment, reason string) (domain.Payment, error) {
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		ok, err := e.store.FailPayment(ctx, payment.ID, reason)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(domain.ErrInvalidState, "payment %s is no longer pending", payment.ID)
		}
		payment.Status, payment.FailureReason = domain.PaymentFailed, reason
		return e.store.AppendEvent(ctx, domain.PaymentEvent(domain.EventPaymentFailed, payment))
	})
	if err != nil {
		return domain.Payment{}, errors.Wrap(err, "fail payment")
	}
	observability.Settlements.WithLabelValues(string(payment.Method), string(domain.PaymentFailed)).Inc()
	return payment, nil
}

func (e *Engine) audit(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.LogEvent(context.WithoutCancel(ctx), action, userID, data); err != nil {
		e.logger.WithError(err).WithField("action", action).Error("audit write failed")
	}
}
