package crdb

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

const (
	bookingColumns = `id, user_id, merchant_id, slot_id, service, price_minor, duration_minutes,
		booking_date, start_minute, starts_at, ends_at, customer_name, customer_phone, notes,
		status, payment_id, coins_used, coins_earned, created_at, updated_at`

	defaultListLimit = 50
	maxListLimit     = 200
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.UserID, &b.MerchantID, &b.SlotID, &b.Service, &b.Price, &b.Duration,
		&b.Date, &b.Start, &b.StartsAt, &b.EndsAt, &b.CustomerName, &b.CustomerPhone, &b.Notes,
		&b.Status, &b.PaymentID, &b.CoinsUsed, &b.CoinsEarned, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) InsertBooking(ctx context.Context, b domain.Booking) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO bookings (id, user_id, merchant_id, slot_id, service, price_minor, duration_minutes,
			booking_date, start_minute, starts_at, ends_at, customer_name, customer_phone, notes,
			status, payment_id, coins_used, coins_earned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, b.ID, b.UserID, b.MerchantID, b.SlotID, b.Service, int64(b.Price), int64(b.Duration),
		b.Date, int64(b.Start), b.StartsAt, b.EndsAt, b.CustomerName, b.CustomerPhone, b.Notes,
		string(b.Status), b.PaymentID, b.CoinsUsed, b.CoinsEarned)
	return mapErr(err, "insert booking %s", b.ID)
}

func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	b, err := scanBooking(r.q(ctx).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	return b, mapErr(err, "booking %s", id)
}

// TransitionBooking moves a booking to status `to` only if its current status
// is one of from, and returns the updated row.
func (r *Repository) TransitionBooking(ctx context.Context, id uuid.UUID, from []domain.BookingStatus, to domain.BookingStatus) (domain.Booking, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	b, err := scanBooking(r.q(ctx).QueryRow(ctx, `
		UPDATE bookings SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+bookingColumns, id, string(to), allowed))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, mapErr(err, "transition booking %s", id)
	}

	var current string
	err = r.q(ctx).QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return domain.Booking{}, mapErr(err, "booking %s", id)
	}
	return domain.Booking{}, errors.Wrapf(domain.ErrInvalidState, "booking %s is %s, cannot move to %s", id, current, to)
}

func (r *Repository) SetBookingPayment(ctx context.Context, bookingID, paymentID uuid.UUID, coinsUsed, coinsEarned int64) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE bookings SET payment_id = $2, coins_used = $3, coins_earned = $4, updated_at = now()
		WHERE id = $1
	`, bookingID, paymentID, coinsUsed, coinsEarned)
	if err != nil {
		return mapErr(err, "set booking payment %s", bookingID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "booking %s", bookingID)
	}
	return nil
}

func (r *Repository) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	q := psql.Select(bookingColumns).From("bookings")
	// uuid.UUID is an array, which squirrel.Eq would expand into an IN list.
	if f.UserID != nil {
		q = q.Where(squirrel.Expr("user_id = ?", *f.UserID))
	}
	if f.MerchantID != nil {
		q = q.Where(squirrel.Expr("merchant_id = ?", *f.MerchantID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}
	if f.From != nil {
		q = q.Where(squirrel.GtOrEq{"booking_date": *f.From})
	}
	if f.To != nil {
		q = q.Where(squirrel.LtOrEq{"booking_date": *f.To})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	q = q.OrderBy("booking_date DESC", "start_minute DESC").Limit(uint64(limit))

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build booking query")
	}
	rows, err := r.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err, "list bookings")
	}
	out, err := collectBookings(rows)
	return out, mapErr(err, "list bookings")
}

// MarkMissed moves every open booking whose end has passed to missed and
// returns the rows it changed.
func (r *Repository) MarkMissed(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	rows, err := r.q(ctx).Query(ctx, `
		UPDATE bookings SET status = 'missed', updated_at = now()
		WHERE status IN ('pending', 'confirmed') AND ends_at < $1
		RETURNING `+bookingColumns, now)
	if err != nil {
		return nil, mapErr(err, "mark missed")
	}
	out, err := collectBookings(rows)
	return out, mapErr(err, "mark missed")
}

func (r *Repository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Booking, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, mapErr(err, "list stale pending")
	}
	out, err := collectBookings(rows)
	return out, mapErr(err, "list stale pending")
}
