package sellers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/farmpay/internal/repos/sellers"
	"github.com/jackc/pgx/v5/pgconn"
)

func (r *sellersRepo) Insert(ctx context.Context, tx *sql.Tx, s sellers.Seller) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sellers (user_id, account_id, email)
		VALUES ($1, $2, $3)
	`, s.UserID, s.AccountID, s.Email)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return sellers.ErrAccountExists
		}

		return fmt.Errorf("insert seller: %w", err)
	}

	return nil
}
