package domain_test

import (
	"testing"

	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingStatus_Edges(t *testing.T) {
	assert.True(t, domain.BookingPending.CanTransition(domain.BookingConfirmed))
	assert.True(t, domain.BookingPending.CanTransition(domain.BookingMissed))
	assert.False(t, domain.BookingPending.CanTransition(domain.BookingCompleted))
	assert.True(t, domain.BookingConfirmed.CanTransition(domain.BookingCompleted))
	assert.False(t, domain.BookingConfirmed.CanTransition(domain.BookingPending))

	for _, s := range []domain.BookingStatus{domain.BookingCancelled, domain.BookingMissed, domain.BookingCompleted} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.CanTransition(domain.BookingPending), s)
	}

	assert.Equal(t, []domain.BookingStatus{domain.BookingPending, domain.BookingConfirmed}, domain.BookingCancelled.Sources())
	assert.Equal(t, []domain.BookingStatus{domain.BookingConfirmed}, domain.BookingCompleted.Sources())
}

func TestParsePaymentMethod(t *testing.T) {
	for in, want := range map[string]domain.PaymentMethod{
		"coins":      domain.MethodCoins,
		"plyn_coins": domain.MethodCoins,
		"razorpay":   domain.MethodProcessor,
		"processor":  domain.MethodProcessor,
	} {
		got, err := domain.ParsePaymentMethod(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := domain.ParsePaymentMethod("cash")
	assert.Error(t, err)
}
