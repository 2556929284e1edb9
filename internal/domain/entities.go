package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type Slot struct {
	ID         uuid.UUID `json:"id"`
	MerchantID uuid.UUID `json:"merchantId"`
	Date       time.Time `json:"-"`
	Start      ClockTime `json:"startTime"`
	End        ClockTime `json:"endTime"`
	Duration   int       `json:"duration"`
	IsBooked   bool      `json:"isBooked"`
	CreatedAt  time.Time `json:"createdAt"`
}

type DaySummary struct {
	Date      time.Time
	Available int
	Booked    int
}

type Booking struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	MerchantID    uuid.UUID
	SlotID        *uuid.UUID
	Service       string
	Price         Money
	Duration      int
	Date          time.Time
	Start         ClockTime
	StartsAt      time.Time
	EndsAt        time.Time
	CustomerName  string
	CustomerPhone string
	Notes         string
	Status        BookingStatus
	PaymentID     *uuid.UUID
	CoinsUsed     int64
	CoinsEarned   int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type BookingFilter struct {
	UserID     *uuid.UUID
	MerchantID *uuid.UUID
	Statuses   []BookingStatus
	From       *time.Time
	To         *time.Time
	Limit      int
}

type Payment struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	BookingID      *uuid.UUID
	Method         PaymentMethod
	Amount         Money
	PlatformFee    Money
	Commission     Money
	MerchantAmount Money
	Status         PaymentStatus
	OrderID        string
	TransactionID  string
	CoinsUsed      int64
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p Payment) Split() FeeSplit {
	return FeeSplit{Gross: p.Amount, PlatformFee: p.PlatformFee, Commission: p.Commission, MerchantAmount: p.MerchantAmount}
}

type Service struct {
	Name     string `json:"name"`
	Duration int    `json:"duration"`
	Price    Money  `json:"price"`
}

type PayoutAccount struct {
	// LinkedAccountID is the processor-side sub-merchant account used for transfers.
	LinkedAccountID string `json:"linkedAccountId,omitempty"`
	AccountNumber   string `json:"accountNumber,omitempty"`
	IFSC            string `json:"ifsc,omitempty"`
	UPI             string `json:"upi,omitempty"`
}

type MerchantProfile struct {
	ID                  uuid.UUID      `json:"id"`
	Name                string         `json:"name"`
	OpensAt             ClockTime      `json:"opensAt"`
	ClosesAt            ClockTime      `json:"closesAt"`
	BreakStart          *ClockTime     `json:"breakStart,omitempty"`
	BreakEnd            *ClockTime     `json:"breakEnd,omitempty"`
	Services            []Service      `json:"services"`
	CoinsEnabled        bool           `json:"coinsEnabled"`
	ReleaseSlotOnCancel *bool          `json:"releaseSlotOnCancel,omitempty"`
	Payout              *PayoutAccount `json:"payout,omitempty"`
}

var (
	DefaultOpensAt   = ClockTime(9 * 60)
	DefaultClosesAt  = ClockTime(17 * 60)
	DefaultDurations = []int{15, 30, 45, 60}
)

func DefaultMerchantProfile(id uuid.UUID) MerchantProfile {
	return MerchantProfile{
		ID:           id,
		OpensAt:      DefaultOpensAt,
		ClosesAt:     DefaultClosesAt,
		CoinsEnabled: true,
	}
}

// Durations returns the distinct service durations in ascending order, or the
// default set when none are configured.
func (m MerchantProfile) Durations() []int {
	seen := make(map[int]bool)
	var out []int
	for _, s := range m.Services {
		if s.Duration > 0 && !seen[s.Duration] {
			seen[s.Duration] = true
			out = append(out, s.Duration)
		}
	}
	if len(out) == 0 {
		out = append(out, DefaultDurations...)
	}
	sort.Ints(out)
	return out
}

func (m MerchantProfile) Hours() (ClockTime, ClockTime) {
	if m.ClosesAt <= m.OpensAt {
		return DefaultOpensAt, DefaultClosesAt
	}
	return m.OpensAt, m.ClosesAt
}

// InBreak reports whether [start, end) overlaps the configured break.
func (m MerchantProfile) InBreak(start, end ClockTime) bool {
	if m.BreakStart == nil || m.BreakEnd == nil {
		return false
	}
	return start < *m.BreakEnd && end > *m.BreakStart
}

// Fits reports whether a slot of duration minutes starting at start lies within
// business hours and outside the break.
func (m MerchantProfile) Fits(start ClockTime, duration int) bool {
	open, closing := m.Hours()
	end := start.Add(duration)
	return duration > 0 && start >= open && end <= closing && !m.InBreak(start, end)
}

func (m MerchantProfile) FindService(name string) (Service, bool) {
	for _, s := range m.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}
