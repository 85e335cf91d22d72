package sellers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/farmpay/internal/repos/sellers"
)

func (r *sellersRepo) Get(ctx context.Context, userID string) (sellers.Seller, error) {
	var s sellers.Seller

	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, account_id, email, bank_account_added, bank_account_holder, created_at
		FROM sellers
		WHERE user_id = $1
	`, userID).Scan(&s.UserID, &s.AccountID, &s.Email, &s.BankAccountAdded, &s.BankAccountHolder, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sellers.Seller{}, sellers.ErrSellerNotFound
		}

		return sellers.Seller{}, fmt.Errorf("get seller: %w", err)
	}

	return s, nil
}
