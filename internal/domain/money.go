package domain

import (
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units (paise).
type Money int64

const (
	CommissionBasisPoints = 100
	CoinsPerUnit          = 2
	// One coin is earned per EarnUnit of spend on confirmed processor payments.
	EarnUnit Money = 1000
)

func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return 0, errors.Wrapf(ErrInvalidInput, "negative amount %s", d.String())
	}
	if !d.Equal(d.Round(2)) {
		return 0, errors.Wrapf(ErrInvalidInput, "amount %s has more than two decimal places", d.String())
	}
	return Money(d.Shift(2).IntPart()), nil
}

func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidInput, "amount %q: %v", s, err)
	}
	return MoneyFromDecimal(d)
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return errors.Wrapf(ErrInvalidInput, "amount: %v", err)
	}
	v, err := MoneyFromDecimal(d)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

type FeeSplit struct {
	Gross          Money `json:"amount"`
	PlatformFee    Money `json:"platformFee"`
	Commission     Money `json:"adminCommission"`
	MerchantAmount Money `json:"merchantAmount"`
}

// SplitFees keeps platform fee and commission exact; the rounding residue of the
// commission goes to the merchant.
func SplitFees(gross, platformFee Money) (FeeSplit, error) {
	if platformFee < 0 {
		return FeeSplit{}, errors.Wrap(ErrInvalidInput, "platform fee must not be negative")
	}
	if gross < platformFee {
		return FeeSplit{}, errors.Wrapf(ErrInvalidInput, "amount %s is below platform fee %s", gross, platformFee)
	}
	base := gross - platformFee
	commission := Money((int64(base)*CommissionBasisPoints + 5000) / 10000)
	return FeeSplit{
		Gross:          gross,
		PlatformFee:    platformFee,
		Commission:     commission,
		MerchantAmount: base - commission,
	}, nil
}

func (s FeeSplit) Base() Money {
	return s.Gross - s.PlatformFee
}

// CoinsFor returns the coins needed to cover amount, rounded up to a whole coin.
func CoinsFor(amount Money) int64 {
	if amount <= 0 {
		return 0
	}
	return (int64(amount)*CoinsPerUnit + 99) / 100
}

func CoinsEarned(amount Money) int64 {
	if amount <= 0 {
		return 0
	}
	return int64(amount / EarnUnit)
}
