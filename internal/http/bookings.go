package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/auth"
	"github.com/robertarktes/salon-booking-settlement/internal/booking"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

type bookingView struct {
	ID            uuid.UUID            `json:"id"`
	UserID        uuid.UUID            `json:"userId"`
	MerchantID    uuid.UUID            `json:"merchantId"`
	SlotID        *uuid.UUID           `json:"slotId,omitempty"`
	Service       string               `json:"service"`
	Price         domain.Money         `json:"price"`
	Duration      int                  `json:"duration"`
	Date          string               `json:"date"`
	Time          domain.ClockTime     `json:"time"`
	StartsAt      time.Time            `json:"startsAt"`
	EndsAt        time.Time            `json:"endsAt"`
	CustomerName  string               `json:"customerName,omitempty"`
	CustomerPhone string               `json:"customerPhone,omitempty"`
	Notes         string               `json:"notes,omitempty"`
	Status        domain.BookingStatus `json:"status"`
	PaymentID     *uuid.UUID           `json:"paymentId,omitempty"`
	CoinsUsed     int64                `json:"coinsUsed"`
	CoinsEarned   int64                `json:"coinsEarned"`
	CreatedAt     time.Time            `json:"createdAt"`
}

func toBookingView(b domain.Booking) bookingView {
	return bookingView{
		ID:            b.ID,
		UserID:        b.UserID,
		MerchantID:    b.MerchantID,
		SlotID:        b.SlotID,
		Service:       b.Service,
		Price:         b.Price,
		Duration:      b.Duration,
		Date:          b.Date.Format(domain.DateLayout),
		Time:          b.Start,
		StartsAt:      b.StartsAt,
		EndsAt:        b.EndsAt,
		CustomerName:  b.CustomerName,
		CustomerPhone: b.CustomerPhone,
		Notes:         b.Notes,
		Status:        b.Status,
		PaymentID:     b.PaymentID,
		CoinsUsed:     b.CoinsUsed,
		CoinsEarned:   b.CoinsEarned,
		CreatedAt:     b.CreatedAt,
	}
}

type bookingRequest struct {
	ID            *uuid.UUID    `json:"id"`
	MerchantID    uuid.UUID     `json:"merchantId"`
	SlotID        *uuid.UUID    `json:"slotId"`
	Date          string        `json:"date"`
	Time          string        `json:"time"`
	Duration      int           `json:"duration"`
	Service       string        `json:"service"`
	Price         *domain.Money `json:"price"`
	CustomerName  string        `json:"customerName"`
	CustomerPhone string        `json:"customerPhone"`
	Notes         string        `json:"notes"`
}

func (b bookingRequest) toRequest(price domain.Money, method domain.PaymentMethod) (booking.Request, error) {
	req := booking.Request{
		MerchantID:    b.MerchantID,
		SlotID:        b.SlotID,
		Duration:      b.Duration,
		Service:       b.Service,
		Price:         price,
		CustomerName:  b.CustomerName,
		CustomerPhone: b.CustomerPhone,
		Notes:         b.Notes,
		Method:        method,
	}
	var err error
	if b.Date != "" {
		if req.Date, err = domain.ParseDate(b.Date); err != nil {
			return booking.Request{}, err
		}
	}
	if b.Time != "" {
		if req.Start, err = domain.ParseClock(b.Time); err != nil {
			return booking.Request{}, err
		}
	} else if b.SlotID == nil {
		return booking.Request{}, errors.Wrap(domain.ErrInvalidInput, "time is required")
	}
	return req, nil
}

// CreateBooking books a slot with a direct price and payment method. The
// checkout flow uses InitiatePayment instead.
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		bookingRequest
		PaymentMethod string `json:"paymentMethod"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	method, err := domain.ParsePaymentMethod(body.PaymentMethod)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if body.Price == nil {
		h.fail(w, r, errors.Wrap(domain.ErrInvalidInput, "price is required"))
		return
	}
	req, err := body.toRequest(*body.Price, method)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Bookings.CreateBooking(r.Context(), identity(r).UserID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"booking": toBookingView(res.Booking),
		"payment": h.paymentView(res.Settlement),
	})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.Bookings.Get(r.Context(), identity(r).UserID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "booking": toBookingView(b)})
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var f domain.BookingFilter
	if id.Role == auth.RoleMerchant {
		f.MerchantID = &id.UserID
	} else {
		f.UserID = &id.UserID
	}

	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, err := domain.ParseBookingStatus(strings.TrimSpace(s))
			if err != nil {
				h.fail(w, r, err)
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		d, err := domain.ParseDate(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		*p.dst = &d
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.fail(w, r, errors.Wrap(domain.ErrInvalidInput, "invalid limit"))
			return
		}
		f.Limit = n
	}

	list, err := h.Bookings.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]bookingView, 0, len(list))
	for _, b := range list {
		out = append(out, toBookingView(b))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "bookings": out})
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	res, err := h.Cancellation.Cancel(r.Context(), identity(r).UserID, id, body.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"booking":       toBookingView(res.Booking),
		"coinsRefunded": res.CoinsRefunded,
		"slotReleased":  res.SlotReleased,
	})
}

func (h *Handlers) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.Bookings.Complete(r.Context(), identity(r).UserID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "booking": toBookingView(b)})
}
