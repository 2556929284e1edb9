package domain

import "github.com/cockroachdb/errors"

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingMissed    BookingStatus = "missed"
	BookingCompleted BookingStatus = "completed"
)

var bookingEdges = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled, BookingMissed},
	BookingConfirmed: {BookingCancelled, BookingMissed, BookingCompleted},
}

func ParseBookingStatus(s string) (BookingStatus, error) {
	switch st := BookingStatus(s); st {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingMissed, BookingCompleted:
		return st, nil
	}
	return "", errors.Wrapf(ErrInvalidInput, "unknown booking status %q", s)
}

func (s BookingStatus) Terminal() bool {
	return len(bookingEdges[s]) == 0
}

func (s BookingStatus) CanTransition(to BookingStatus) bool {
	for _, next := range bookingEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Sources lists the statuses that may move to s.
func (s BookingStatus) Sources() []BookingStatus {
	var out []BookingStatus
	for _, from := range []BookingStatus{BookingPending, BookingConfirmed} {
		if from.CanTransition(s) {
			out = append(out, from)
		}
	}
	return out
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type PaymentMethod string

const (
	MethodCoins     PaymentMethod = "coins"
	MethodProcessor PaymentMethod = "processor"
)

// ParsePaymentMethod accepts the canonical names and the legacy client aliases.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch s {
	case "coins", "plyn_coins", "loyalty_coins":
		return MethodCoins, nil
	case "processor", "razorpay", "external":
		return MethodProcessor, nil
	}
	return "", errors.Wrapf(ErrInvalidInput, "unknown payment method %q", s)
}
