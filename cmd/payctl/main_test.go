package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fastprodman/farmpay/internal/api"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/services/payout"
	"github.com/fastprodman/farmpay/internal/session"
	"github.com/fastprodman/farmpay/pkg/money"
)

const testSecret = "payctl-test-secret-payctl-test-secret"

// runCLI executes payctl with a throwaway credential file.
func runCLI(t *testing.T, credPath string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := newRootCmd(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--credentials", credPath}, args...))

	err := root.ExecuteContext(t.Context())

	return out.String(), err
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		t.Errorf("encode: %v", err)
	}
}

//nolint:paralleltest
func TestQuote(t *testing.T) {
	cred := filepath.Join(t.TempDir(), "cred.yaml")

	out, err := runCLI(t, cred, "quote", "100.00")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	for _, want := range []string{"100.00", "5.00", "3.20", "108.20"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %s:\n%s", want, out)
		}
	}

	_, err = runCLI(t, cred, "quote", "ten")
	if err == nil {
		t.Fatalf("invalid amount must fail")
	}
}

//nolint:paralleltest
func TestTokenSaveAndLogout(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("JWT_ISSUER", "farmpay")

	cred := filepath.Join(t.TempDir(), "cred.yaml")

	out, err := runCLI(t, cred, "token", "seller-1", "--save")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	store := session.NewFileStore(cred)

	tok, ok := store.Credential(t.Context())
	if !ok || tok != strings.TrimSpace(out) {
		t.Fatalf("saved token = %q, printed %q", tok, out)
	}

	sub, err := api.NewAuthenticator(testSecret, "farmpay").Validate(tok)
	if err != nil || sub != "seller-1" {
		t.Fatalf("validate = %q, %v", sub, err)
	}

	_, err = runCLI(t, cred, "logout")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}

	_, ok = session.NewFileStore(cred).Credential(t.Context())
	if ok {
		t.Fatalf("credential still present after logout")
	}
}

//nolint:paralleltest
func TestSellerCommands(t *testing.T) {
	var payoutCalls atomic.Int32

	bankAdded := atomic.Bool{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /seller/account", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(t, w, http.StatusUnauthorized, payments.ErrorBody{Error: "no", Code: payments.CodeUnauthorized})
			return
		}

		writeJSON(t, w, http.StatusOK, payments.Account{AccountID: "acct_1", BankAccountAdded: bankAdded.Load()})
	})
	mux.HandleFunc("GET /seller/balance", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, payments.Balance{Available: money.MustParse("95.00")})
	})
	mux.HandleFunc("POST /seller/payout", func(w http.ResponseWriter, _ *http.Request) {
		payoutCalls.Add(1)
		writeJSON(t, w, http.StatusCreated, payments.Transfer{ID: "po_1", Amount: money.MustParse("20.00"), Status: payments.TransferPending})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cred := filepath.Join(t.TempDir(), "cred.yaml")

	_, err := runCLI(t, cred, "--api", srv.URL, "login", "--token", "tok", "--user", "seller-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	out, err := runCLI(t, cred, "--api", srv.URL, "balance")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	if !strings.Contains(out, "available: 95.00") {
		t.Fatalf("balance output:\n%s", out)
	}

	out, err = runCLI(t, cred, "--api", srv.URL, "payout", "20.00")
	if err != nil {
		t.Fatalf("payout without bank: %v", err)
	}

	if !strings.Contains(out, payout.NoBankAccountMessage) || payoutCalls.Load() != 0 {
		t.Fatalf("payout must be blocked before any request, out=%q calls=%d", out, payoutCalls.Load())
	}

	bankAdded.Store(true)

	out, err = runCLI(t, cred, "--api", srv.URL, "--json", "payout", "20.00")
	if err != nil {
		t.Fatalf("payout: %v", err)
	}

	var res payout.Result

	err = json.Unmarshal([]byte(out), &res)
	if err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}

	if res.Transfer == nil || res.Transfer.ID != "po_1" || payoutCalls.Load() != 1 {
		t.Fatalf("result = %+v, calls = %d", res, payoutCalls.Load())
	}
}
