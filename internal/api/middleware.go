package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/services/payments"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

const RequestIDHeader = "X-Request-ID"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmpay_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "farmpay_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})
)

// requestLogger attaches a logger carrying a request id to the context.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)

		log := logging.FromContext(r.Context()).With(slog.String("requestID", requestID))
		next.ServeHTTP(w, r.WithContext(logging.ToContext(r.Context(), log)))
	})
}

// metrics records count and latency per route pattern, so ids in paths do
// not blow up label cardinality.
func metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func rateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				logging.FromContext(r.Context()).Warn("rate limit exceeded", "path", r.URL.Path)
				writeError(w, http.StatusTooManyRequests, payments.CodeRateLimited, "too many requests")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// authenticate requires a valid bearer token and stores its subject as the
// caller.
func authenticate(auth *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logging.FromContext(r.Context())

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, payments.CodeUnauthorized, "authorization header required")
				return
			}

			userID, err := auth.Validate(strings.TrimSpace(token))
			if err != nil {
				log.Warn("token validation failed", "path", r.URL.Path, "err", err)
				writeError(w, http.StatusUnauthorized, payments.CodeUnauthorized, "invalid or expired token")

				return
			}

			ctx := withUserID(r.Context(), userID)
			ctx = logging.ToContext(ctx, log.With(slog.String("userID", userID)))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
