package pgutils

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/fastprodman/farmpay/internal/infra/pgtestutil"
)

func countSellers(t *testing.T, db *sql.DB, userID string) int {
	t.Helper()

	var n int

	err := db.QueryRowContext(t.Context(), `SELECT count(*) FROM sellers WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	return n
}

func TestWithTx(t *testing.T) {
	t.Parallel()

	errFn := errors.New("fn failed")

	tests := []struct {
		name      string
		fn        func(tx *sql.Tx) error
		wantErr   error
		wantRows  int
		wantPanic bool
	}{
		{
			name:     "commit",
			fn:       func(*sql.Tx) error { return nil },
			wantRows: 1,
		},
		{
			name:     "rollback on error",
			fn:       func(*sql.Tx) error { return errFn },
			wantErr:  errFn,
			wantRows: 0,
		},
		{
			name: "fn already rolled back",
			fn: func(tx *sql.Tx) error {
				_ = tx.Rollback()

				return errFn
			},
			wantErr:  errFn,
			wantRows: 0,
		},
		{
			name:      "rollback on panic",
			fn:        func(*sql.Tx) error { panic("boom") },
			wantPanic: true,
			wantRows:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, cleanup := pgtestutil.NewTestDB(t)
			defer cleanup()

			run := func() (err error) {
				defer func() {
					p := recover()
					if (p != nil) != tt.wantPanic {
						t.Fatalf("panic = %v, want panic %v", p, tt.wantPanic)
					}
				}()

				return WithTx(t.Context(), db, func(tx *sql.Tx) error {
					_, err := tx.ExecContext(t.Context(),
						`INSERT INTO sellers (user_id, account_id, email) VALUES ('u1', 'acct_1', 'a@example.com')`)
					if err != nil {
						t.Fatalf("insert: %v", err)
					}

					return tt.fn(tx)
				})
			}

			err := run()

			switch {
			case tt.wantErr == nil && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tt.wantErr != nil && !errors.Is(err, tt.wantErr):
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}

			if got := countSellers(t, db, "u1"); got != tt.wantRows {
				t.Fatalf("rows = %d, want %d", got, tt.wantRows)
			}
		})
	}
}
