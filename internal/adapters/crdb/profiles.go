package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

func (r *Repository) GetCoins(ctx context.Context, userID uuid.UUID) (int64, error) {
	var coins int64
	err := r.q(ctx).QueryRow(ctx, `SELECT coins FROM profiles WHERE user_id = $1`, userID).Scan(&coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return coins, mapErr(err, "coins for %s", userID)
}

// DebitCoins subtracts amount only if the balance covers it.
func (r *Repository) DebitCoins(ctx context.Context, userID uuid.UUID, amount int64) (bool, error) {
	if amount <= 0 {
		return false, errors.Wrap(domain.ErrInvalidInput, "debit must be positive")
	}
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE profiles SET coins = coins - $2, updated_at = now()
		WHERE user_id = $1 AND coins >= $2
	`, userID, amount)
	if err != nil {
		return false, mapErr(err, "debit coins %s", userID)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) CreditCoins(ctx context.Context, userID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return errors.Wrap(domain.ErrInvalidInput, "credit must be positive")
	}
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO profiles (user_id, coins) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET coins = profiles.coins + excluded.coins, updated_at = now()
	`, userID, amount)
	return mapErr(err, "credit coins %s", userID)
}
