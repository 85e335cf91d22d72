package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fastprodman/farmpay/internal/api"
	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/infra/pgutils"
	"github.com/fastprodman/farmpay/internal/processor/stripeproc"
	"github.com/fastprodman/farmpay/internal/services/escrow"
	"github.com/fastprodman/farmpay/internal/services/tracker"
	"github.com/fastprodman/farmpay/pkg/envconf"
	"github.com/fastprodman/farmpay/pkg/shutdownqueue"
	"golang.org/x/time/rate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	err := envconf.LoadDotEnv()
	if err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg := new(apiConfig)

	err = envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	if cfg.Stripe.SecretKey == "" {
		return errors.New("init config: STRIPE_SECRET_KEY is required")
	}

	shutdown := shutdownqueue.New()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdown.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Infra ---
	db, err := pgutils.OpenDB(ctx, cfg.Postgres.DSN, cfg.Postgres.Pool())
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdown.Add(func(context.Context) error {
		slog.Info("Close database")
		return db.Close()
	})

	proc := stripeproc.New(stripeproc.Config{
		SecretKey:  cfg.Stripe.SecretKey,
		Currency:   cfg.Stripe.Currency,
		BaseURL:    cfg.Stripe.BaseURL,
		MaxRetries: cfg.Stripe.MaxRetries,
	})

	// --- Services ---
	events := tracker.NewBroadcaster(nil)
	escrowSrv := escrow.New(db, proc, escrow.WithNotifier(tracker.Notifiers{tracker.LogNotifier{}, events}))

	var limiter *rate.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	router := api.NewRouter(api.RouterConfig{
		Service: escrowSrv,
		Auth:    api.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer),
		Events:  events,
		Limiter: limiter,
	})

	// --- HTTP server ---
	srv := api.NewServer(cfg.Port, router)

	shutdown.Add(func(c context.Context) error {
		slog.Info("Shut down server")

		err := srv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	slog.Info("API started", "port", cfg.Port)

	select {
	case <-ctx.Done():
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}
