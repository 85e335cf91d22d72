package payouts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/farmpay/internal/repos/payouts"
	"github.com/fastprodman/farmpay/pkg/money"
	"github.com/jackc/pgx/v5/pgconn"
)

var _ payouts.Payouts = (*payoutsRepo)(nil)

type payoutsRepo struct{ db *sql.DB }

func New(db *sql.DB) *payoutsRepo {
	return &payoutsRepo{db: db}
}

func (r *payoutsRepo) Insert(ctx context.Context, tx *sql.Tx, p payouts.Payout) error {
	var txID sql.NullString
	if p.TransactionID != "" {
		txID = sql.NullString{String: p.TransactionID, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO payouts (id, seller_id, transaction_id, amount_minor, status, arrival_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.SellerID, txID, p.Amount.Minor(), p.Status, p.ArrivalAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return payouts.ErrDuplicatePayout
		}

		return fmt.Errorf("insert payout: %w", err)
	}

	return nil
}

func (r *payoutsRepo) ListBySeller(ctx context.Context, sellerID string) ([]payouts.Payout, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, seller_id, COALESCE(transaction_id::text, ''), amount_minor, status, arrival_at, created_at
		FROM payouts
		WHERE seller_id = $1
		ORDER BY created_at DESC, id
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var out []payouts.Payout

	for rows.Next() {
		var (
			p       payouts.Payout
			amount  int64
			arrival sql.NullTime
		)

		err = rows.Scan(&p.ID, &p.SellerID, &p.TransactionID, &amount, &p.Status, &arrival, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}

		p.Amount = money.FromMinor(amount)
		if arrival.Valid {
			at := arrival.Time
			p.ArrivalAt = &at
		}

		out = append(out, p)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate payouts: %w", err)
	}

	return out, nil
}

func (r *payoutsRepo) UpdateStatus(ctx context.Context, id, status string, arrivalAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payouts
		SET status = $2, arrival_at = COALESCE($3, arrival_at), updated_at = now()
		WHERE id = $1
	`, id, status, arrivalAt)
	if err != nil {
		return fmt.Errorf("update payout status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payout status: rows affected: %w", err)
	}

	if n == 0 {
		return payouts.ErrPayoutNotFound
	}

	return nil
}
