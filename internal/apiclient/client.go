// Package apiclient is the HTTP client for the farmpay REST API. It
// implements the backend interfaces of the checkout, tracker and payout
// packages.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/services/fees"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/fastprodman/farmpay/internal/session"
	"github.com/patrickmn/go-cache"
)

const (
	defaultCacheTTL = 2 * time.Second
	maxErrorBody    = 64 << 10
)

var (
	// ErrLoginRequired means no credential is available; nothing was sent.
	ErrLoginRequired = errors.New("login required")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrServer        = errors.New("server error")
)

// codeErrors maps stable API error codes to the sentinels callers branch on.
var codeErrors = map[string]error{
	payments.CodeConnectedAccountRequired: payments.ErrConnectedAccountRequired,
	payments.CodeBankAccountRequired:      payments.ErrBankAccountRequired,
	payments.CodeFeeMismatch:              fees.ErrFeeMismatch,
	payments.CodeInvalidTransition:        payments.ErrInvalidTransition,
	payments.CodePayoutAlreadyRequested:   payments.ErrPayoutAlreadySet,
	payments.CodeIdempotencyMismatch:      payments.ErrIdempotencyReused,
	payments.CodeSourceInUse:              payments.ErrSourceInUse,
	payments.CodeInsufficientFunds:        payments.ErrInsufficientFunds,
	payments.CodeNotFound:                 ErrNotFound,
	payments.CodeForbidden:                ErrForbidden,
	payments.CodeUnauthorized:             ErrUnauthorized,
}

// APIError is a non-2xx response. It unwraps to the sentinel for Code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}

	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if err, ok := codeErrors[e.Code]; ok {
		return err
	}

	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return ErrForbidden
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status >= http.StatusInternalServerError:
		return ErrServer
	}

	return nil
}

type Client struct {
	sess    session.Session
	baseURL string
	http    *http.Client
	txCache *cache.Cache
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCacheTTL sets how long transaction reads are served from memory.
// Zero disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl <= 0 {
			c.txCache = nil

			return
		}

		c.txCache = cache.New(ttl, 2*ttl)
	}
}

func New(sess session.Session, opts ...Option) *Client {
	c := &Client{
		sess:    sess,
		baseURL: strings.TrimRight(sess.BaseURL, "/"),
		http:    &http.Client{},
		txCache: cache.New(defaultCacheTTL, 2*defaultCacheTTL),
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// do sends one authenticated JSON request. in may be nil; out may be nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any, header http.Header) error {
	token, err := c.sess.Token(ctx)
	if err != nil {
		return ErrLoginRequired
	}

	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	ctx, cancel := c.sess.WithTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeError(resp)
		logging.FromContext(ctx).Debug("api error", "method", method, "path", path, "status", resp.StatusCode, "code", apiErr.Code)

		return fmt.Errorf("%s %s: %w", method, path, apiErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}

	return nil
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return apiErr
	}

	var body payments.ErrorBody

	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
	}

	return apiErr
}

func txPath(id string) string {
	return "/payment/transaction/" + url.PathEscape(id)
}

func (c *Client) invalidate(id string) {
	if c.txCache != nil {
		c.txCache.Delete(id)
	}
}
