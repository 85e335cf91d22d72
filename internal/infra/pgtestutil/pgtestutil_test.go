package pgtestutil

import (
	"strings"
	"testing"
)

func TestReplaceDBInDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dsn     string
		want    string
		wantErr bool
	}{
		{
			name: "url form",
			dsn:  "postgres://u:p@localhost:5432/postgres?sslmode=disable",
			want: "postgres://u:p@localhost:5432/farmpay_test_x?sslmode=disable",
		},
		{
			name: "postgresql scheme",
			dsn:  "postgresql://u@db/other",
			want: "postgresql://u@db/farmpay_test_x",
		},
		{
			name:    "keyword form",
			dsn:     "host=localhost dbname=postgres",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ReplaceDBInDSN(tt.dsn, "farmpay_test_x")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeForPgIdent(t *testing.T) {
	t.Parallel()

	got := sanitizeForPgIdent("Farmpay_Test/Sub Test:One-Two")
	if got != "farmpay_test_sub_test_one_two" {
		t.Fatalf("got %q", got)
	}

	long := sanitizeForPgIdent(strings.Repeat("a", 40) + strings.Repeat("b", 40))
	if len(long) != 63 {
		t.Fatalf("len = %d, want 63", len(long))
	}
}
