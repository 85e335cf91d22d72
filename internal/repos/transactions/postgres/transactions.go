package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/farmpay/internal/repos/transactions"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/jackc/pgx/v5/pgconn"
)

var _ transactions.Transactions = (*transactionsRepo)(nil)

const (
	uniqueViolation = "23505"
	openSourceIndex = "transactions_open_source_idx"
)

const selectColumns = `
	id, source_type, source_id, bid_id, buyer_id, seller_id,
	amount_minor, platform_fee_minor, processing_fee_minor, total_minor,
	status, authorization_ref, client_secret, payment_ref, payment_status,
	transfer_id, payout_status, payout_amount_minor, payout_transfer_id,
	idempotency_key, request_hash, created_at, updated_at`

type transactionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *transactionsRepo {
	return &transactionsRepo{db: db}
}

func (r *transactionsRepo) Insert(ctx context.Context, tx *sql.Tx, rec Record) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, source_type, source_id, bid_id, buyer_id, seller_id,
			amount_minor, platform_fee_minor, processing_fee_minor, total_minor,
			status, idempotency_key, request_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		rec.ID, string(rec.SourceType), rec.SourceID, rec.BidID, rec.BuyerID, rec.SellerID,
		rec.Amount.Minor(), rec.Fees.Platform.Minor(), rec.Fees.Processing.Minor(), rec.Total.Minor(),
		string(rec.Status), rec.IdempotencyKey, rec.RequestHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == openSourceIndex {
				return transactions.ErrSourceInUse
			}

			return transactions.ErrDuplicateTransaction
		}

		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func (r *transactionsRepo) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transactions WHERE id = $1`, id)

	return scanRecord(row, "get transaction")
}

func (r *transactionsRepo) GetByIdempotencyKey(ctx context.Context, key string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transactions WHERE idempotency_key = $1`, key)

	return scanRecord(row, "get transaction by idempotency key")
}

func (r *transactionsRepo) GetOpenBySource(ctx context.Context, sourceType payments.SourceType, sourceID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM transactions
		WHERE source_type = $1 AND source_id = $2 AND status <> 'failed'
	`, string(sourceType), sourceID)

	return scanRecord(row, "get open transaction by source")
}

func (r *transactionsRepo) LockByID(ctx context.Context, tx *sql.Tx, id string) (Record, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)

	return scanRecord(row, "lock transaction")
}

func (r *transactionsRepo) SetAuthorization(ctx context.Context, tx *sql.Tx, id string, h payments.AuthorizationHandle) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET authorization_ref = $2, client_secret = $3, updated_at = now()
		WHERE id = $1
	`, id, h.Reference, h.ClientSecret)
	if err != nil {
		return fmt.Errorf("set authorization: %w", err)
	}

	return expectOne(res, "set authorization")
}

func (r *transactionsRepo) Advance(ctx context.Context, tx *sql.Tx, id string, to payments.Status) error {
	from := payments.Predecessors(to)
	if len(from) == 0 {
		return fmt.Errorf("advance to %s: %w", to, payments.ErrInvalidTransition)
	}

	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, id, string(to), allowed)
	if err != nil {
		return fmt.Errorf("advance transaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance transaction: rows affected: %w", err)
	}

	if n == 1 {
		return nil
	}

	var current payments.Status

	err = tx.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return transactions.ErrNotFound
	}

	if err != nil {
		return fmt.Errorf("advance transaction: read status: %w", err)
	}

	return fmt.Errorf("%w: %s -> %s", payments.ErrInvalidTransition, current, to)
}

func (r *transactionsRepo) SetPayment(ctx context.Context, tx *sql.Tx, id string, p payments.Payment) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET payment_ref = $2, payment_status = $3, updated_at = now()
		WHERE id = $1
	`, id, p.Reference, p.Status)
	if err != nil {
		return fmt.Errorf("set payment: %w", err)
	}

	return expectOne(res, "set payment")
}

func (r *transactionsRepo) SetTransfer(ctx context.Context, tx *sql.Tx, id, transferID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET transfer_id = $2, updated_at = now()
		WHERE id = $1 AND transfer_id = ''
	`, id, transferID)
	if err != nil {
		return fmt.Errorf("set transfer: %w", err)
	}

	return expectOne(res, "set transfer")
}

func (r *transactionsRepo) SetPayout(ctx context.Context, tx *sql.Tx, id string, p payments.PayoutState) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET payout_status = $2, payout_amount_minor = $3, payout_transfer_id = $4, updated_at = now()
		WHERE id = $1
		  AND payout_status = 'not_requested'
		  AND status IN ('payment_held', 'completed')
	`, id, string(p.Kind), p.Amount.Minor(), p.TransferID)
	if err != nil {
		return fmt.Errorf("set payout: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set payout: rows affected: %w", err)
	}

	if n == 0 {
		return payments.ErrPayoutAlreadySet
	}

	return nil
}

func (r *transactionsRepo) CompletePayout(ctx context.Context, payoutID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET payout_status = 'completed', updated_at = now()
		WHERE payout_transfer_id = $1 AND payout_status = 'pending'
	`, payoutID)
	if err != nil {
		return fmt.Errorf("complete payout: %w", err)
	}

	return nil
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}

	if n == 0 {
		return transactions.ErrNotFound
	}

	return nil
}
