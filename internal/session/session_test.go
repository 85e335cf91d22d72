package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSession_Token(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		creds   CredentialSource
		want    string
		wantErr error
	}{
		{name: "static token", creds: StaticToken("abc"), want: "abc"},
		{name: "blank token", creds: StaticToken("  "), wantErr: ErrNoCredential},
		{name: "no source", creds: nil, wantErr: ErrNoCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := Session{Credentials: tt.creds}

			got, err := s.Token(t.Context())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Token() error = %v, want %v", err, tt.wantErr)
			}

			if got != tt.want {
				t.Fatalf("Token() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSession_CallTimeout(t *testing.T) {
	t.Parallel()

	if got := (Session{}).CallTimeout(); got != DefaultTimeout {
		t.Fatalf("default timeout = %s, want %s", got, DefaultTimeout)
	}

	if got := (Session{Timeout: 5 * time.Second}).CallTimeout(); got != 5*time.Second {
		t.Fatalf("timeout = %s, want 5s", got)
	}
}

func TestFileStore_SaveLoadClear(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "credentials.yaml")
	store := NewFileStore(path)

	_, ok := store.Credential(t.Context())
	if ok {
		t.Fatalf("expected no credential before Save")
	}

	err := store.Save("tok-123", "seller-1", "http://localhost:8080")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("credential file perm = %o, want 600", perm)
	}

	// A fresh store reads what the first one wrote.
	reread := NewFileStore(path)

	tok, ok := reread.Credential(t.Context())
	if !ok || tok != "tok-123" {
		t.Fatalf("Credential() = %q, %v", tok, ok)
	}

	if got := reread.UserID(); got != "seller-1" {
		t.Fatalf("UserID() = %q, want seller-1", got)
	}

	err = reread.Clear()
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}

	_, ok = reread.Credential(t.Context())
	if ok {
		t.Fatalf("expected no credential after Clear")
	}
}
