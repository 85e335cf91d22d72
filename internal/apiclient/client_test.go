package apiclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fastprodman/farmpay/internal/services/checkout"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/services/payout"
	"github.com/fastprodman/farmpay/internal/services/tracker"
	"github.com/fastprodman/farmpay/internal/session"
	"github.com/fastprodman/farmpay/pkg/money"
)

var (
	_ checkout.Backend = (*Client)(nil)
	_ tracker.Fetcher  = (*Client)(nil)
	_ payout.Backend   = (*Client)(nil)
)

func newTestClient(t *testing.T, h http.Handler, creds session.CredentialSource, opts ...Option) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return New(session.Session{BaseURL: srv.URL, Credentials: creds, Timeout: 2 * time.Second}, opts...)
}

func writeBody(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestClient_NoCredentialSendsNothing(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}), nil)

	_, err := c.Balance(t.Context())
	if !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("want ErrLoginRequired, got %v", err)
	}

	if hits.Load() != 0 {
		t.Fatalf("request sent without a credential")
	}
}

func TestClient_CreateTransactionSendsHeaders(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transactions/contract" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}

		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}

		if got := r.Header.Get(IdempotencyHeader); got != "key-1" {
			t.Errorf("Idempotency-Key = %q", got)
		}

		var req payments.InitiateRequest

		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil || req.Amount != 10000 {
			t.Errorf("body = %+v, %v", req, err)
		}

		writeBody(t, w, http.StatusCreated, payments.InitiateResponse{
			Transaction:   payments.Transaction{ID: "tx-1", Amount: req.Amount},
			Authorization: payments.AuthorizationHandle{Reference: "pi_1", ClientSecret: "s"},
		})
	}), session.StaticToken("tok"))

	resp, err := c.CreateTransaction(t.Context(), payments.SourceContract, payments.InitiateRequest{
		SourceID: "c-1",
		Amount:   money.MustParse("100.00"),
	}, "key-1")
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	if resp.Transaction.ID != "tx-1" || resp.Authorization.Reference != "pi_1" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestClient_ErrorCodesMapToSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"bank account", http.StatusConflict, payments.ErrorBody{Error: "no bank", Code: payments.CodeBankAccountRequired}, payments.ErrBankAccountRequired},
		{"connected account", http.StatusConflict, payments.ErrorBody{Error: "none", Code: payments.CodeConnectedAccountRequired}, payments.ErrConnectedAccountRequired},
		{"expired token", http.StatusUnauthorized, payments.ErrorBody{Error: "expired"}, ErrUnauthorized},
		{"plain 404", http.StatusNotFound, nil, ErrNotFound},
		{"server", http.StatusBadGateway, payments.ErrorBody{Error: "upstream"}, ErrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)

					return
				}

				writeBody(t, w, tt.status, tt.body)
			}), session.StaticToken("tok"))

			_, err := c.RequestPayout(t.Context(), payments.PayoutRequest{Amount: 100})
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
				t.Fatalf("want *APIError with status %d, got %v", tt.status, err)
			}
		})
	}
}

func TestClient_TransactionCacheInvalidatedOnMutation(t *testing.T) {
	t.Parallel()

	var gets atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /payment/transaction/{id}", func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		writeBody(t, w, http.StatusOK, payments.Transaction{ID: r.PathValue("id"), Status: payments.StatusPaymentHeld})
	})
	mux.HandleFunc("POST /payment/transaction/{id}/delivery", func(w http.ResponseWriter, r *http.Request) {
		writeBody(t, w, http.StatusOK, payments.Transaction{ID: r.PathValue("id"), Status: payments.StatusCompleted})
	})

	c := newTestClient(t, mux, session.StaticToken("tok"), WithCacheTTL(time.Minute))

	for range 3 {
		_, err := c.GetTransaction(t.Context(), "tx-9")
		if err != nil {
			t.Fatalf("GetTransaction: %v", err)
		}
	}

	if got := gets.Load(); got != 1 {
		t.Fatalf("GETs = %d, want 1 (cached)", got)
	}

	_, err := c.ConfirmDelivery(t.Context(), "tx-9")
	if err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}

	_, err = c.GetTransaction(t.Context(), "tx-9")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}

	if got := gets.Load(); got != 2 {
		t.Fatalf("GETs = %d, want 2 after invalidation", got)
	}
}
