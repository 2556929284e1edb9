// Package booking coordinates slot claims, booking rows and settlement, and
// compensates when a step after the claim fails.
package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"github.com/robertarktes/salon-booking-settlement/internal/settlement"
	"go.opentelemetry.io/otel/attribute"
)

const (
	AuditCompensationFailed = "booking.compensation_failed"

	expireBatch = 100
)

type Options struct {
	Location       *time.Location
	AllowSynthesis bool
	PendingTTL     time.Duration
}

type Orchestrator struct {
	store     Store
	slots     Slots
	merchants Merchants
	settler   Settler
	auditor   Auditor
	clock     domain.Clock
	logger    observability.Logger
	opts      Options
}

func NewOrchestrator(store Store, slots Slots, merchants Merchants, settler Settler, auditor Auditor, clock domain.Clock, logger observability.Logger, opts Options) *Orchestrator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 15 * time.Minute
	}
	return &Orchestrator{
		store:     store,
		slots:     slots,
		merchants: merchants,
		settler:   settler,
		auditor:   auditor,
		clock:     clock,
		logger:    logger,
		opts:      opts,
	}
}

type Request struct {
	MerchantID uuid.UUID
	// SlotID pins a specific slot; otherwise Date, Start and Duration select one.
	SlotID        *uuid.UUID
	Date          time.Time
	Start         domain.ClockTime
	Duration      int
	Service       string
	Price         domain.Money
	CustomerName  string
	CustomerPhone string
	Notes         string
	Method        domain.PaymentMethod
}

func (r Request) Validate() error {
	if r.MerchantID == uuid.Nil {
		return errors.Wrap(domain.ErrInvalidInput, "merchant id is required")
	}
	if r.Service == "" {
		return errors.Wrap(domain.ErrInvalidInput, "service is required")
	}
	if r.Price < 0 {
		return errors.Wrap(domain.ErrInvalidInput, "price must not be negative")
	}
	if r.Duration < 0 {
		return errors.Wrap(domain.ErrInvalidInput, "duration must not be negative")
	}
	if r.SlotID == nil && r.Date.IsZero() {
		return errors.Wrap(domain.ErrInvalidInput, "date or slot id is required")
	}
	switch r.Method {
	case domain.MethodCoins, domain.MethodProcessor:
	default:
		return errors.Wrapf(domain.ErrInvalidInput, "unsupported payment method %q", r.Method)
	}
	return nil
}

type Result struct {
	Booking    domain.Booking
	Settlement settlement.Result
}

// CreateBooking claims a slot, records a pending booking and settles price plus
// platform fee. A coins payment confirms the booking before returning; a
// processor payment leaves it pending until verification. If anything after
// the claim fails, the booking is cancelled and the slot released before the
// error is returned.
func (o *Orchestrator) CreateBooking(ctx context.Context, userID uuid.UUID, req Request) (Result, error) {
	ctx, span := observability.Tracer("booking").Start(ctx, "booking.CreateBooking")
	defer span.End()
	span.SetAttributes(attribute.String("merchant.id", req.MerchantID.String()), attribute.String("payment.method", string(req.Method)))

	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	merchant, err := o.merchants.Merchant(ctx, req.MerchantID)
	if err != nil {
		return Result{}, errors.Wrap(err, "load merchant")
	}
	if svc, ok := merchant.FindService(req.Service); ok {
		if svc.Price > 0 && svc.Price != req.Price {
			return Result{}, errors.Wrapf(domain.ErrInvalidInput, "price %s does not match %s for %q", req.Price, svc.Price, req.Service)
		}
		if req.Duration == 0 {
			req.Duration = svc.Duration
		}
	} else if len(merchant.Services) > 0 {
		return Result{}, errors.Wrapf(domain.ErrInvalidInput, "merchant does not offer %q", req.Service)
	}

	slot, err := o.resolveSlot(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if err := o.claim(ctx, slot.ID); err != nil {
		return Result{}, err
	}

	b := o.newBooking(userID, req, slot)
	err = o.store.WithTx(ctx, func(ctx context.Context) error {
		if err := o.store.InsertBooking(ctx, b); err != nil {
			return err
		}
		return o.store.AppendEvent(ctx, domain.BookingEvent(domain.EventBookingCreated, b, map[string]interface{}{
			"service": b.Service,
			"price":   b.Price.String(),
		}))
	})
	if err != nil {
		return Result{}, o.compensate(ctx, b, errors.Wrap(err, "insert booking"))
	}

	res, err := o.settler.Settle(ctx, settlement.Request{
		UserID:   userID,
		Booking:  b,
		Merchant: merchant,
		Method:   req.Method,
		Gross:    b.Price + o.settler.PlatformFee(),
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, o.compensate(ctx, b, err)
	}

	stored, err := o.store.GetBooking(ctx, b.ID)
	if err != nil {
		return Result{}, errors.Wrap(err, "reload booking")
	}
	o.logger.WithFields(map[string]interface{}{
		"booking_id":  stored.ID,
		"merchant_id": stored.MerchantID,
		"slot_id":     slot.ID,
		"status":      stored.Status,
		"payment_id":  res.Payment.ID,
	}).Info("booking created")

	return Result{Booking: stored, Settlement: res}, nil
}

func (o *Orchestrator) resolveSlot(ctx context.Context, req Request) (domain.Slot, error) {
	if req.SlotID != nil {
		slot, err := o.store.GetSlot(ctx, *req.SlotID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Slot{}, errors.Wrapf(domain.ErrSlotUnavailable, "slot %s does not exist", *req.SlotID)
		}
		if err != nil {
			return domain.Slot{}, errors.Wrap(err, "load slot")
		}
		if slot.MerchantID != req.MerchantID {
			return domain.Slot{}, errors.Wrapf(domain.ErrInvalidInput, "slot %s belongs to another merchant", slot.ID)
		}
		if slot.IsBooked {
			return domain.Slot{}, errors.Wrapf(domain.ErrSlotUnavailable, "slot %s is booked", slot.ID)
		}
		return slot, nil
	}

	slot, err := o.slots.FindFree(ctx, req.MerchantID, req.Date, req.Start, req.Duration)
	if errors.Is(err, domain.ErrNotFound) && o.opts.AllowSynthesis && req.Duration > 0 {
		slot, err = o.slots.Synthesize(ctx, req.MerchantID, req.Date, req.Start, req.Duration)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Slot{}, errors.Wrapf(domain.ErrSlotUnavailable, "no free slot at %s %s", req.Date.Format(domain.DateLayout), req.Start)
	}
	if err != nil {
		return domain.Slot{}, errors.Wrap(err, "find slot")
	}
	return slot, nil
}

func (o *Orchestrator) claim(ctx context.Context, slotID uuid.UUID) error {
	ok, err := o.store.ClaimSlot(ctx, slotID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		observability.SlotClaims.WithLabelValues("missing").Inc()
		return errors.Wrapf(domain.ErrSlotUnavailable, "slot %s does not exist", slotID)
	case err != nil:
		return errors.Wrap(err, "claim slot")
	case !ok:
		observability.SlotClaims.WithLabelValues("lost").Inc()
		return errors.Wrapf(domain.ErrSlotUnavailable, "slot %s already booked", slotID)
	}
	observability.SlotClaims.WithLabelValues("won").Inc()
	return nil
}

func (o *Orchestrator) newBooking(userID uuid.UUID, req Request, slot domain.Slot) domain.Booking {
	slotID := slot.ID
	startsAt := domain.At(slot.Date, slot.Start, o.opts.Location)
	return domain.Booking{
		ID:            uuid.New(),
		UserID:        userID,
		MerchantID:    req.MerchantID,
		SlotID:        &slotID,
		Service:       req.Service,
		Price:         req.Price,
		Duration:      slot.Duration,
		Date:          slot.Date,
		Start:         slot.Start,
		StartsAt:      startsAt,
		EndsAt:        startsAt.Add(time.Duration(slot.Duration) * time.Minute),
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Notes:         req.Notes,
		Status:        domain.BookingPending,
	}
}

// compensate undoes a failed creation and returns cause, or cause marked
// ErrInconsistent when the undo itself failed.
func (o *Orchestrator) compensate(ctx context.Context, b domain.Booking, cause error) error {
	ctx = context.WithoutCancel(ctx)
	_, _, err := o.cancelPending(ctx, b, "creation failed")
	if err == nil {
		observability.Compensations.WithLabelValues("applied").Inc()
		return cause
	}

	observability.Compensations.WithLabelValues("failed").Inc()
	o.logger.WithError(err).WithFields(map[string]interface{}{
		"booking_id": b.ID,
		"slot_id":    b.SlotID,
		"cause":      cause.Error(),
	}).Error("booking compensation failed")
	if o.auditor != nil {
		auditErr := o.auditor.LogEvent(ctx, AuditCompensationFailed, b.UserID, map[string]interface{}{
			"booking_id":  b.ID,
			"merchant_id": b.MerchantID,
			"slot_id":     b.SlotID,
			"cause":       cause.Error(),
			"error":       err.Error(),
		})
		if auditErr != nil {
			o.logger.WithError(auditErr).Error("audit write failed")
		}
	}
	return errors.Mark(errors.Wrapf(cause, "compensation failed: %v", err), domain.ErrInconsistent)
}

// cancelPending cancels b if it is still pending, fails its pending payment and
// frees its slot, all in one transaction. A booking that no longer exists only
// frees the slot; a booking that left pending is left alone.
func (o *Orchestrator) cancelPending(ctx context.Context, b domain.Booking, reason string) (domain.Booking, bool, error) {
	var (
		out     = b
		changed bool
	)
	err := o.store.WithTx(ctx, func(ctx context.Context) error {
		changed = false
		cancelled, err := o.store.TransitionBooking(ctx, b.ID, []domain.BookingStatus{domain.BookingPending}, domain.BookingCancelled)
		switch {
		case errors.Is(err, domain.ErrInvalidState):
			return nil
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return err
		default:
			out, changed = cancelled, true
			if err := o.settler.FailPending(ctx, b.ID, reason); err != nil {
				return err
			}
			if cancelled.CoinsUsed > 0 {
				if err := o.store.CreditCoins(ctx, cancelled.UserID, cancelled.CoinsUsed); err != nil {
					return err
				}
			}
		}
		if b.SlotID != nil {
			if err := o.store.ReleaseSlot(ctx, *b.SlotID); err != nil {
				return errors.Wrapf(err, "release slot %s", *b.SlotID)
			}
		}
		if !changed {
			return nil
		}
		return o.store.AppendEvent(ctx, domain.BookingEvent(domain.EventBookingCancelled, cancelled, map[string]interface{}{
			"reason":        reason,
			"slot_released": b.SlotID != nil,
		}))
	})
	if err != nil {
		return domain.Booking{}, false, err
	}
	return out, changed, nil
}

// SettleExisting retries settlement for a pending booking the user already
// holds. The payment is left pending on failure so the client can try again.
func (o *Orchestrator) SettleExisting(ctx context.Context, userID, bookingID uuid.UUID, method domain.PaymentMethod) (Result, error) {
	b, err := o.store.GetBooking(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	if b.UserID != userID {
		return Result{}, errors.Wrap(domain.ErrForbidden, "booking belongs to another user")
	}
	merchant, err := o.merchants.Merchant(ctx, b.MerchantID)
	if err != nil {
		return Result{}, errors.Wrap(err, "load merchant")
	}
	res, err := o.settler.Settle(ctx, settlement.Request{
		UserID:   userID,
		Booking:  b,
		Merchant: merchant,
		Method:   method,
		Gross:    b.Price + o.settler.PlatformFee(),
	})
	if err != nil {
		return Result{}, err
	}
	if b, err = o.store.GetBooking(ctx, bookingID); err != nil {
		return Result{}, errors.Wrap(err, "reload booking")
	}
	return Result{Booking: b, Settlement: res}, nil
}

// AbandonBooking cancels the user's own pending booking, typically after the
// checkout was dismissed or the processor reported a failure.
func (o *Orchestrator) AbandonBooking(ctx context.Context, userID, bookingID uuid.UUID) (domain.Booking, error) {
	b, err := o.store.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.UserID != userID {
		return domain.Booking{}, errors.Wrap(domain.ErrForbidden, "booking belongs to another user")
	}
	if b.Status != domain.BookingPending {
		return domain.Booking{}, errors.Wrapf(domain.ErrInvalidState, "booking %s is %s", b.ID, b.Status)
	}
	out, changed, err := o.cancelPending(ctx, b, "abandoned")
	if err != nil {
		return domain.Booking{}, errors.Wrap(err, "abandon booking")
	}
	if !changed {
		return domain.Booking{}, errors.Wrapf(domain.ErrInvalidState, "booking %s is no longer pending", b.ID)
	}
	return out, nil
}

// ExpireStalePending cancels pending bookings older than the pending TTL and
// returns how many were cancelled.
func (o *Orchestrator) ExpireStalePending(ctx context.Context) (int, error) {
	cutoff := o.clock.Now().Add(-o.opts.PendingTTL)
	stale, err := o.store.ListStalePending(ctx, cutoff, expireBatch)
	if err != nil {
		return 0, errors.Wrap(err, "list stale bookings")
	}

	var (
		expired int
		errs    error
	)
	for _, b := range stale {
		_, changed, err := o.cancelPending(ctx, b, "expired")
		if err != nil {
			o.logger.WithError(err).WithField("booking_id", b.ID).Error("failed to expire booking")
			errs = errors.CombineErrors(errs, err)
			continue
		}
		if changed {
			expired++
		}
	}
	if expired > 0 {
		observability.BookingsSwept.WithLabelValues("expired").Add(float64(expired))
		o.logger.WithField("count", expired).Info("expired stale pending bookings")
	}
	return expired, errs
}

// Complete marks a confirmed booking as served and credits the coins it earned.
func (o *Orchestrator) Complete(ctx context.Context, merchantID, bookingID uuid.UUID) (domain.Booking, error) {
	b, err := o.store.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.MerchantID != merchantID {
		return domain.Booking{}, errors.Wrap(domain.ErrForbidden, "booking belongs to another merchant")
	}

	err = o.store.WithTx(ctx, func(ctx context.Context) error {
		done, err := o.store.TransitionBooking(ctx, bookingID, []domain.BookingStatus{domain.BookingConfirmed}, domain.BookingCompleted)
		if err != nil {
			return err
		}
		if done.CoinsEarned > 0 {
			if err := o.store.CreditCoins(ctx, done.UserID, done.CoinsEarned); err != nil {
				return err
			}
		}
		b = done
		return o.store.AppendEvent(ctx, domain.BookingEvent(domain.EventBookingCompleted, done, map[string]interface{}{
			"coins_earned": done.CoinsEarned,
		}))
	})
	if err != nil {
		return domain.Booking{}, errors.Wrap(err, "complete booking")
	}
	return b, nil
}

// Get returns a booking visible to actorID as its customer or merchant.
func (o *Orchestrator) Get(ctx context.Context, actorID, bookingID uuid.UUID) (domain.Booking, error) {
	b, err := o.store.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.UserID != actorID && b.MerchantID != actorID {
		return domain.Booking{}, errors.Wrap(domain.ErrForbidden, "booking belongs to another user")
	}
	return b, nil
}

func (o *Orchestrator) List(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	if f.UserID == nil && f.MerchantID == nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, "user or merchant filter is required")
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, errors.Wrap(domain.ErrInvalidInput, "range end is before start")
	}
	return o.store.ListBookings(ctx, f)
}
