package pgutils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// txOptions: writers serialize on SELECT ... FOR UPDATE row locks, so read
// committed is sufficient and never raises serialization failures.
var txOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// WithTx runs fn inside a transaction. It commits if fn returns nil and
// rolls back otherwise; fn's error is returned as is, joined with the
// rollback error if that fails too. A panic in fn rolls back and re-panics.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	err = fn(tx)
	if err != nil {
		rbErr := tx.Rollback()
		if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
