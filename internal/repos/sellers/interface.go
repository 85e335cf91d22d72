package sellers

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	ErrSellerNotFound = errors.New("seller not found")
	ErrAccountExists  = errors.New("seller already has a connected account")
)

// Seller links a marketplace user to their processor connected account.
type Seller struct {
	UserID            string
	AccountID         string
	Email             string
	BankAccountAdded  bool
	BankAccountHolder string
	CreatedAt         time.Time
}

type Sellers interface {
	Get(ctx context.Context, userID string) (Seller, error)
	Insert(ctx context.Context, tx *sql.Tx, s Seller) error
	LockByUserID(ctx context.Context, tx *sql.Tx, userID string) (Seller, error)
	MarkBankAccountAdded(ctx context.Context, tx *sql.Tx, userID, holder string) error
}
