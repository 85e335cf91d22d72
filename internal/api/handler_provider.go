package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/repos/transactions"
	"github.com/fastprodman/farmpay/internal/services/escrow"
	"github.com/fastprodman/farmpay/internal/services/fees"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/services/tracker"
	"github.com/go-chi/chi/v5"
)

const IdempotencyHeader = "Idempotency-Key"

// Service is the escrow surface the handlers expose. The caller argument is
// the authenticated user id.
type Service interface {
	Open(ctx context.Context, caller string, sourceType payments.SourceType, req payments.InitiateRequest, idempotencyKey string) (payments.InitiateResponse, error)
	Transaction(ctx context.Context, caller, id string) (payments.Transaction, error)
	RecordConfirmation(ctx context.Context, caller, id string, req payments.ConfirmationRequest) (payments.Transaction, error)
	ConfirmDelivery(ctx context.Context, caller, id string) (payments.Transaction, error)
	ProcessPayout(ctx context.Context, caller, id string) (payments.Transaction, error)

	Account(ctx context.Context, caller string) (payments.Account, error)
	CreateConnectedAccount(ctx context.Context, caller string, req payments.CreateAccountRequest) (payments.Account, error)
	AddBankAccount(ctx context.Context, caller string, req payments.BankAccountRequest) (payments.Account, error)
	Balance(ctx context.Context, caller string) (payments.Balance, error)
	Transfers(ctx context.Context, caller string) (payments.Transfers, error)
	RequestPayout(ctx context.Context, caller string, req payments.PayoutRequest) (payments.Transfer, error)
}

var _ Service = (*escrow.Service)(nil)

// HandlerProvider wraps the escrow service and exposes HTTP handlers.
type HandlerProvider struct {
	svc    Service
	events *tracker.Broadcaster
}

func NewHandler(svc Service, events *tracker.Broadcaster) *HandlerProvider {
	return &HandlerProvider{svc: svc, events: events}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, payments.ErrorBody{Error: msg, Code: code})
}

type errorMapping struct {
	target error
	status int
	code   string
	msg    string
}

// errorMappings is checked in order; an empty msg echoes the error text.
var errorMappings = []errorMapping{
	{payments.ErrConnectedAccountRequired, http.StatusConflict, payments.CodeConnectedAccountRequired, "create a connected account first"},
	{payments.ErrBankAccountRequired, http.StatusConflict, payments.CodeBankAccountRequired, "Please add a bank account before requesting a payout."},
	{payments.ErrPayoutAlreadySet, http.StatusConflict, payments.CodePayoutAlreadyRequested, "payout already requested"},
	{payments.ErrPayoutNotAllowed, http.StatusConflict, payments.CodeInvalidTransition, "funds are not held yet"},
	{payments.ErrInvalidTransition, http.StatusConflict, payments.CodeInvalidTransition, "transaction is not in a state that allows this"},
	{payments.ErrSourceInUse, http.StatusConflict, payments.CodeSourceInUse, "this item already has an open transaction"},
	{payments.ErrIdempotencyReused, http.StatusConflict, payments.CodeIdempotencyMismatch, "idempotency key reused with a different request"},
	{payments.ErrInsufficientFunds, http.StatusUnprocessableEntity, payments.CodeInsufficientFunds, "insufficient funds"},
	{fees.ErrFeeMismatch, http.StatusUnprocessableEntity, payments.CodeFeeMismatch, "fee breakdown mismatch"},
	{transactions.ErrNotFound, http.StatusNotFound, payments.CodeNotFound, "transaction not found"},
	{escrow.ErrForbidden, http.StatusForbidden, payments.CodeForbidden, "forbidden"},
	{escrow.ErrInvalidRequest, http.StatusBadRequest, payments.CodeBadRequest, ""},
	{escrow.ErrProcessor, http.StatusBadGateway, payments.CodeProcessor, "payment processor unavailable"},
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}

		msg := m.msg
		if msg == "" {
			msg = err.Error()
		}

		if m.status >= http.StatusInternalServerError {
			logging.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		}

		writeError(w, m.status, m.code, msg)

		return
	}

	logging.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, payments.CodeInternal, "internal error")
}

// decode reads a JSON body of at most 1MB, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(v)
	if err != nil {
		msg := "invalid JSON"
		if errors.Is(err, io.EOF) {
			msg = "empty body"
		}

		writeError(w, http.StatusBadRequest, payments.CodeBadRequest, msg)

		return false
	}

	return true
}

// --- Transaction handlers ---

// CreateTransactionHandler handles POST /transactions/{sourceType}
func (h *HandlerProvider) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	sourceType, err := payments.ParseSourceType(chi.URLParam(r, "sourceType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, payments.CodeBadRequest, "invalid source type")
		return
	}

	var req payments.InitiateRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.svc.Open(r.Context(), UserID(r.Context()), sourceType, req, r.Header.Get(IdempotencyHeader))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// GetTransactionHandler handles GET /payment/transaction/{id}
func (h *HandlerProvider) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.Transaction(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ConfirmationHandler handles POST /payment/transaction/{id}/confirmation
func (h *HandlerProvider) ConfirmationHandler(w http.ResponseWriter, r *http.Request) {
	var req payments.ConfirmationRequest
	if !decode(w, r, &req) {
		return
	}

	tx, err := h.svc.RecordConfirmation(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// DeliveryHandler handles POST /payment/transaction/{id}/delivery
func (h *HandlerProvider) DeliveryHandler(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.ConfirmDelivery(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ProcessPayoutHandler handles POST /payment/process-payout/{id}
func (h *HandlerProvider) ProcessPayoutHandler(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.ProcessPayout(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// --- Seller handlers ---

func (h *HandlerProvider) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	acct, err := h.svc.Account(r.Context(), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, acct)
}

func (h *HandlerProvider) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req payments.CreateAccountRequest
	if !decode(w, r, &req) {
		return
	}

	acct, err := h.svc.CreateConnectedAccount(r.Context(), UserID(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, acct)
}

func (h *HandlerProvider) BankAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req payments.BankAccountRequest
	if !decode(w, r, &req) {
		return
	}

	acct, err := h.svc.AddBankAccount(r.Context(), UserID(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, acct)
}

func (h *HandlerProvider) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	bal, err := h.svc.Balance(r.Context(), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bal)
}

func (h *HandlerProvider) TransfersHandler(w http.ResponseWriter, r *http.Request) {
	tr, err := h.svc.Transfers(r.Context(), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tr)
}

func (h *HandlerProvider) PayoutHandler(w http.ResponseWriter, r *http.Request) {
	var req payments.PayoutRequest
	if !decode(w, r, &req) {
		return
	}

	tr, err := h.svc.RequestPayout(r.Context(), UserID(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, tr)
}
