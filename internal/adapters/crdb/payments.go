package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

const paymentColumns = `id, user_id, booking_id, method, amount_minor, platform_fee_minor, commission_minor,
	merchant_amount_minor, status, order_id, transaction_id, coins_used, failure_reason, created_at, updated_at`

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var p domain.Payment
	var orderID, txnID *string
	err := row.Scan(&p.ID, &p.UserID, &p.BookingID, &p.Method, &p.Amount, &p.PlatformFee, &p.Commission,
		&p.MerchantAmount, &p.Status, &orderID, &txnID, &p.CoinsUsed, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	p.OrderID, p.TransactionID = derefString(orderID), derefString(txnID)
	return p, err
}

func (r *Repository) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO payments (id, user_id, booking_id, method, amount_minor, platform_fee_minor, commission_minor,
			merchant_amount_minor, status, order_id, transaction_id, coins_used, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.UserID, p.BookingID, string(p.Method), int64(p.Amount), int64(p.PlatformFee), int64(p.Commission),
		int64(p.MerchantAmount), string(p.Status), nullString(p.OrderID), nullString(p.TransactionID), p.CoinsUsed, p.FailureReason)
	return mapErr(err, "insert payment %s", p.ID)
}

func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	p, err := scanPayment(r.q(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	return p, mapErr(err, "payment %s", id)
}

func (r *Repository) GetPaymentByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	p, err := scanPayment(r.q(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID))
	return p, mapErr(err, "payment for order %s", orderID)
}

// ActivePaymentForBooking returns the pending or completed payment of a booking.
func (r *Repository) ActivePaymentForBooking(ctx context.Context, bookingID uuid.UUID) (domain.Payment, error) {
	p, err := scanPayment(r.q(ctx).QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 AND status IN ('pending', 'completed')
	`, bookingID))
	return p, mapErr(err, "active payment for booking %s", bookingID)
}

func (r *Repository) SetPaymentOrder(ctx context.Context, paymentID uuid.UUID, orderID string) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE payments SET order_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, paymentID, orderID)
	if err != nil {
		return mapErr(err, "set payment order %s", paymentID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrInvalidState, "payment %s is not pending", paymentID)
	}
	return nil
}

// CompletePayment moves a pending payment to completed. It reports false when
// the payment was not pending.
func (r *Repository) CompletePayment(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE payments SET status = 'completed', transaction_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, paymentID, nullString(transactionID))
	if err != nil {
		return false, mapErr(err, "complete payment %s", paymentID)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) FailPayment(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE payments SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, paymentID, reason)
	if err != nil {
		return false, mapErr(err, "fail payment %s", paymentID)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordLateCapture stores the provider payment id on a failed payment that has
// none yet. The status is left failed.
func (r *Repository) RecordLateCapture(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE payments SET transaction_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'failed' AND transaction_id IS NULL
	`, paymentID, transactionID)
	if err != nil {
		return false, mapErr(err, "record late capture %s", paymentID)
	}
	return tag.RowsAffected() == 1, nil
}
