package settlement

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

const (
	AuditSignatureRejected = "payment.signature_rejected"
	AuditLateVerification  = "payment.late_verification"
)

type Options struct {
	PlatformFee domain.Money
	Currency    string
	MaxAttempts int
	Backoff     time.Duration
}

type Engine struct {
	store     Store
	processor Processor
	auditor   Auditor
	logger    observability.Logger
	opts      Options
}

func NewEngine(store Store, processor Processor, auditor Auditor, logger observability.Logger, opts Options) *Engine {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &Engine{store: store, processor: processor, auditor: auditor, logger: logger, opts: opts}
}

func (e *Engine) PlatformFee() domain.Money {
	return e.opts.PlatformFee
}

type Request struct {
	UserID   uuid.UUID
	Booking  domain.Booking
	Merchant domain.MerchantProfile
	Method   domain.PaymentMethod
	Gross    domain.Money
}

type Result struct {
	Payment   domain.Payment
	Split     domain.FeeSplit
	OrderID   string
	KeyID     string
	CoinsUsed int64
}

func (r Result) Completed() bool {
	return r.Payment.Status == domain.PaymentCompleted
}

// Settle collects payment for a pending booking. Coins settle synchronously and
// confirm the booking; the processor method returns a pending payment with an
// order handle. Repeating the call for the same booking reuses the active
// payment, or supersedes a pending one when the method or amount changed.
func (e *Engine) Settle(ctx context.Context, req Request) (Result, error) {
	ctx, span := observability.Tracer("settlement").Start(ctx, "settlement.Settle")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", req.Booking.ID.String()), attribute.String("payment.method", string(req.Method)))

	split, err := domain.SplitFees(req.Gross, e.opts.PlatformFee)
	if err != nil {
		return Result{}, err
	}
	if req.Booking.UserID != req.UserID {
		return Result{}, errors.Wrap(domain.ErrForbidden, "booking belongs to another user")
	}
	if req.Booking.Status != domain.BookingPending {
		return Result{}, errors.Wrapf(domain.ErrInvalidState, "booking %s is %s", req.Booking.ID, req.Booking.Status)
	}

	active, err := e.store.ActivePaymentForBooking(ctx, req.Booking.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return Result{}, errors.Wrap(err, "load active payment")
	case active.Status == domain.PaymentCompleted:
		return e.resultFor(active), nil
	case active.Method == req.Method && active.Amount == req.Gross && req.Method == domain.MethodProcessor:
		return e.resumeOrder(ctx, req, active)
	default:
		if _, err := e.store.FailPayment(ctx, active.ID, "superseded"); err != nil {
			return Result{}, errors.Wrap(err, "supersede payment")
		}
	}

	var res Result
	switch req.Method {
	case domain.MethodCoins:
		res, err = e.settleCoins(ctx, req, split)
	case domain.MethodProcessor:
		res, err = e.initiateOrder(ctx, req, split)
	default:
		err = errors.Wrapf(domain.ErrInvalidInput, "unsupported payment method %q", req.Method)
	}
	e.observe(req.Method, res, err)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

func (e *Engine) observe(method domain.PaymentMethod, res Result, err error) {
	status := string(res.Payment.Status)
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		status = "insufficient_balance"
	case errors.Is(err, domain.ErrProviderError):
		status = "provider_error"
	case err != nil:
		status = "error"
	}
	observability.Settlements.WithLabelValues(string(method), status).Inc()
}

func (e *Engine) resultFor(p domain.Payment) Result {
	res := Result{Payment: p, Split: p.Split(), OrderID: p.OrderID, CoinsUsed: p.CoinsUsed}
	if p.OrderID != "" {
		res.KeyID = e.keyID()
	}
	return res
}

func (e *Engine) keyID() string {
	if k, ok := e.processor.(interface{ KeyID() string }); ok {
		return k.KeyID()
	}
	return ""
}

func newPayment(req Request, split domain.FeeSplit, status domain.PaymentStatus) domain.Payment {
	bookingID := req.Booking.ID
	return domain.Payment{
		ID:             uuid.New(),
		UserID:         req.UserID,
		BookingID:      &bookingID,
		Method:         req.Method,
		Amount:         split.Gross,
		PlatformFee:    split.PlatformFee,
		Commission:     split.Commission,
		MerchantAmount: split.MerchantAmount,
		Status:         status,
	}
}

// FailPending marks the booking's pending payment failed. It is a no-op when
// the booking has no pending payment.
func (e *Engine) FailPending(ctx context.Context, bookingID uuid.UUID, reason string) error {
	return e.store.WithTx(ctx, func(ctx context.Context) error {
		p, err := e.store.ActivePaymentForBooking(ctx, bookingID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentPending {
			return nil
		}
		ok, err := e.store.FailPayment(ctx, p.ID, reason)
		if err != nil || !ok {
			return err
		}
		p.Status, p.FailureReason = domain.PaymentFailed, reason
		return e.store.AppendEvent(ctx, domain.PaymentEvent(domain.EventPaymentFailed, p))
	})
}
