package sellers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/farmpay/internal/repos/sellers"
)

func (r *sellersRepo) MarkBankAccountAdded(ctx context.Context, tx *sql.Tx, userID, holder string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE sellers
		SET bank_account_added = TRUE, bank_account_holder = $2, updated_at = now()
		WHERE user_id = $1
	`, userID, holder)
	if err != nil {
		return fmt.Errorf("mark bank account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return sellers.ErrSellerNotFound
	}

	return nil
}
