package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

const slotColumns = `id, merchant_id, slot_date, start_minute, end_minute, duration_minutes, is_booked, created_at`

func scanSlot(row pgx.Row) (domain.Slot, error) {
	var s domain.Slot
	err := row.Scan(&s.ID, &s.MerchantID, &s.Date, &s.Start, &s.End, &s.Duration, &s.IsBooked, &s.CreatedAt)
	return s, err
}

func (r *Repository) querySlots(ctx context.Context, sql string, args ...any) ([]domain.Slot, error) {
	rows, err := r.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []domain.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (r *Repository) ListSlots(ctx context.Context, merchantID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	slots, err := r.querySlots(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE merchant_id = $1 AND slot_date = $2
		ORDER BY start_minute ASC, duration_minutes ASC
	`, merchantID, date)
	return slots, mapErr(err, "list slots")
}

func (r *Repository) ListFreeSlots(ctx context.Context, merchantID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	slots, err := r.querySlots(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE merchant_id = $1 AND slot_date = $2 AND is_booked = false
		ORDER BY start_minute ASC, duration_minutes ASC
	`, merchantID, date)
	return slots, mapErr(err, "list free slots")
}

// InsertSlots inserts candidates, skipping any that already exist, and
// returns how many rows were created.
func (r *Repository) InsertSlots(ctx context.Context, slots []domain.Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	inserted := 0
	err := r.WithTx(ctx, func(ctx context.Context) error {
		inserted = 0
		batch := &pgx.Batch{}
		for _, s := range slots {
			batch.Queue(`
				INSERT INTO slots (id, merchant_id, slot_date, start_minute, end_minute, duration_minutes, is_booked)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (merchant_id, slot_date, start_minute, duration_minutes) DO NOTHING
			`, s.ID, s.MerchantID, s.Date, int64(s.Start), int64(s.End), int64(s.Duration), s.IsBooked)
		}
		br := r.q(ctx).SendBatch(ctx, batch)
		defer br.Close()
		for range slots {
			tag, err := br.Exec()
			if err != nil {
				return err
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	return inserted, mapErr(err, "insert slots")
}

func (r *Repository) GetSlot(ctx context.Context, id uuid.UUID) (domain.Slot, error) {
	s, err := scanSlot(r.q(ctx).QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	return s, mapErr(err, "slot %s", id)
}

// FindFreeSlot returns the free slot at start. A zero duration matches the
// shortest free slot at that time.
func (r *Repository) FindFreeSlot(ctx context.Context, merchantID uuid.UUID, date time.Time, start domain.ClockTime, duration int) (domain.Slot, error) {
	s, err := scanSlot(r.q(ctx).QueryRow(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE merchant_id = $1 AND slot_date = $2 AND start_minute = $3
		  AND ($4 = 0 OR duration_minutes = $4) AND is_booked = false
		ORDER BY duration_minutes ASC
		LIMIT 1
	`, merchantID, date, int64(start), int64(duration)))
	return s, mapErr(err, "free slot %s %s", date.Format(domain.DateLayout), start)
}

// ClaimSlot flips is_booked in a single conditional update. It returns false
// when the slot is already booked and ErrNotFound when it does not exist.
func (r *Repository) ClaimSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE slots SET is_booked = true, updated_at = now()
		WHERE id = $1 AND is_booked = false
	`, id)
	if err != nil {
		return false, mapErr(err, "claim slot %s", id)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.q(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM slots WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, mapErr(err, "claim slot %s", id)
	}
	if !exists {
		return false, errors.Wrapf(domain.ErrNotFound, "slot %s", id)
	}
	return false, nil
}

func (r *Repository) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE slots SET is_booked = false, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return mapErr(err, "release slot %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "slot %s", id)
	}
	return nil
}

func (r *Repository) SlotSummary(ctx context.Context, merchantID uuid.UUID, from, to time.Time) ([]domain.DaySummary, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT slot_date,
		       count(*) FILTER (WHERE NOT is_booked),
		       count(*) FILTER (WHERE is_booked)
		FROM slots
		WHERE merchant_id = $1 AND slot_date BETWEEN $2 AND $3
		GROUP BY slot_date
		ORDER BY slot_date ASC
	`, merchantID, from, to)
	if err != nil {
		return nil, mapErr(err, "slot summary")
	}
	defer rows.Close()

	var out []domain.DaySummary
	for rows.Next() {
		var d domain.DaySummary
		var available, booked int64
		if err := rows.Scan(&d.Date, &available, &booked); err != nil {
			return nil, mapErr(err, "slot summary")
		}
		d.Available, d.Booked = int(available), int(booked)
		out = append(out, d)
	}
	return out, mapErr(rows.Err(), "slot summary")
}
