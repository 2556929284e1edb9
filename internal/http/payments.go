package http

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"github.com/robertarktes/salon-booking-settlement/internal/settlement"
)

type paymentView struct {
	PaymentID       uuid.UUID            `json:"paymentId"`
	Method          domain.PaymentMethod `json:"method"`
	Status          domain.PaymentStatus `json:"status"`
	Amount          domain.Money         `json:"amount"`
	Currency        string               `json:"currency"`
	OrderID         string               `json:"orderId,omitempty"`
	KeyID           string               `json:"keyId,omitempty"`
	TransactionID   string               `json:"transactionId,omitempty"`
	CoinsUsed       int64                `json:"coinsUsed,omitempty"`
	PlatformFee     domain.Money         `json:"platformFee"`
	AdminCommission domain.Money         `json:"adminCommission"`
	MerchantAmount  domain.Money         `json:"merchantAmount"`
}

func (h *Handlers) paymentView(res settlement.Result) paymentView {
	return paymentView{
		PaymentID:       res.Payment.ID,
		Method:          res.Payment.Method,
		Status:          res.Payment.Status,
		Amount:          res.Split.Gross,
		Currency:        h.Currency,
		OrderID:         res.OrderID,
		KeyID:           res.KeyID,
		TransactionID:   res.Payment.TransactionID,
		CoinsUsed:       res.CoinsUsed,
		PlatformFee:     res.Split.PlatformFee,
		AdminCommission: res.Split.Commission,
		MerchantAmount:  res.Split.MerchantAmount,
	}
}

type initiateRequest struct {
	PaymentMethod string         `json:"paymentMethod"`
	Amount        domain.Money   `json:"amount"`
	PlatformFee   *domain.Money  `json:"platformFee"`
	Booking       bookingRequest `json:"booking"`
}

// InitiatePayment creates a booking and starts its payment. Amount is the
// total the client shows, service price plus platform fee. When booking.id is
// given the existing pending booking is settled again instead.
func (h *Handlers) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	fee := h.Settlement.PlatformFee()
	if req.PlatformFee != nil && *req.PlatformFee != fee {
		h.fail(w, r, errors.Wrapf(domain.ErrInvalidInput, "platform fee must be %s", fee))
		return
	}
	if req.Amount < fee {
		h.fail(w, r, errors.Wrapf(domain.ErrInvalidInput, "amount %s is below platform fee %s", req.Amount, fee))
		return
	}
	userID := identity(r).UserID

	if req.Booking.ID != nil {
		existing, err := h.Bookings.Get(r.Context(), userID, *req.Booking.ID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if existing.Price+fee != req.Amount {
			h.fail(w, r, errors.Wrapf(domain.ErrInvalidInput, "amount must be %s", existing.Price+fee))
			return
		}
		res, err := h.Bookings.SettleExisting(r.Context(), userID, existing.ID, method)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"booking": toBookingView(res.Booking),
			"payment": h.paymentView(res.Settlement),
		})
		return
	}

	bookingReq, err := req.Booking.toRequest(req.Amount-fee, method)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Bookings.CreateBooking(r.Context(), userID, bookingReq)
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

type verifyRequest struct {
	PaymentID         string `json:"paymentId"`
	Provider          string `json:"provider"`
	ProviderPaymentID string `json:"providerPaymentId"`
	ProviderSignature string `json:"providerSignature"`
	RazorpayOrderID   string `json:"razorpayOrderId"`
	RazorpayPaymentID string `json:"razorpayPaymentId"`
	RazorpaySignature string `json:"razorpaySignature"`
	// Error is the checkout failure payload; when present the payment failed.
	Error *struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

func (v verifyRequest) toVerify() settlement.VerifyRequest {
	out := settlement.VerifyRequest{
		PaymentRef:        firstNonEmpty(v.PaymentID, v.RazorpayOrderID),
		Provider:          v.Provider,
		ProviderPaymentID: firstNonEmpty(v.ProviderPaymentID, v.RazorpayPaymentID),
		Signature:         firstNonEmpty(v.ProviderSignature, v.RazorpaySignature),
	}
	if v.Error != nil {
		out.FailureReason = firstNonEmpty(v.Error.Reason, v.Error.Description, v.Error.Code, "payment failed")
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// VerifyPayment applies the processor's checkout callback. A reported failure
// marks the payment failed and releases the booking.
func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req := body.toVerify()
	if req.FailureReason == "" && (req.ProviderPaymentID == "" || req.Signature == "") {
		h.fail(w, r, errors.Wrap(domain.ErrInvalidInput, "provider payment id and signature are required"))
		return
	}
	userID := identity(r).UserID

	payment, err := h.Settlement.Verify(r.Context(), userID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if payment.Status == domain.PaymentFailed {
		if payment.BookingID != nil {
			if _, err := h.Bookings.AbandonBooking(r.Context(), userID, *payment.BookingID); err != nil && !errors.Is(err, domain.ErrInvalidState) {
				h.fail(w, r, err)
				return
			}
		}
		observability.LoggerFrom(r.Context(), h.logger).WithFields(map[string]interface{}{
			"payment_id": payment.ID,
			"reason":     payment.FailureReason,
		}).Info("processor reported payment failure")
		writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"success": false,
			"error":   "payment failed",
			"payment": map[string]interface{}{"paymentId": payment.ID, "status": payment.Status},
		})
		return
	}

	resp := map[string]interface{}{
		"success": true,
		"payment": map[string]interface{}{
			"paymentId":     payment.ID,
			"status":        payment.Status,
			"transactionId": payment.TransactionID,
		},
	}
	if payment.BookingID != nil {
		if b, err := h.Bookings.Get(r.Context(), userID, *payment.BookingID); err == nil {
			resp["booking"] = toBookingView(b)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
