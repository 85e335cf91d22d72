// Command payctl is the buyer and seller client for the farmpay backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fastprodman/farmpay/internal/apiclient"
	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/fastprodman/farmpay/internal/processor/stripeproc"
	"github.com/fastprodman/farmpay/internal/session"
	"github.com/fastprodman/farmpay/pkg/envconf"
	"github.com/spf13/cobra"
)

var Version = "dev"

// app is built once per invocation by the root command and shared by
// every subcommand.
type app struct {
	cfg    payctlConfig
	out    io.Writer
	json   bool
	store  *session.FileStore
	sess   session.Session
	client *apiclient.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	var apiURL, credentials string

	root := &cobra.Command{
		Use:           "payctl",
		Short:         "Pay for farm produce and manage seller payouts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd, apiURL, credentials)
		},
	}

	root.SetOut(out)
	root.PersistentFlags().StringVar(&apiURL, "api", "", "backend base URL (default $FARMPAY_API_URL)")
	root.PersistentFlags().StringVar(&credentials, "credentials", "", "credential file (default $FARMPAY_CREDENTIALS or the user config dir)")
	root.PersistentFlags().BoolVar(&a.json, "json", false, "print JSON")

	root.AddCommand(
		loginCmd(a),
		logoutCmd(a),
		tokenCmd(a),
		quoteCmd(a),
		payCmd(a),
		trackCmd(a),
		deliverCmd(a),
		accountCmd(a),
		bankAccountCmd(a),
		balanceCmd(a),
		transfersCmd(a),
		payoutCmd(a),
		processPayoutCmd(a),
	)

	return root
}

func (a *app) init(cmd *cobra.Command, apiURL, credentials string) error {
	err := envconf.LoadDotEnv()
	if err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	err = envconf.Load(&a.cfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.SetupJSONTo(cmd.ErrOrStderr(), a.cfg.LogLevel)

	if apiURL != "" {
		a.cfg.APIURL = apiURL
	}

	if credentials != "" {
		a.cfg.CredentialsPath = credentials
	}

	if a.cfg.CredentialsPath == "" {
		a.cfg.CredentialsPath, err = session.DefaultPath()
		if err != nil {
			return fmt.Errorf("credential path: %w", err)
		}
	}

	a.store = session.NewFileStore(a.cfg.CredentialsPath)
	a.sess = session.Session{
		BaseURL:     a.cfg.APIURL,
		Credentials: a.store,
		Timeout:     a.cfg.Timeout,
		UserID:      a.store.UserID(),
	}
	a.client = apiclient.New(a.sess, apiclient.WithCacheTTL(a.cfg.CacheTTL))

	return nil
}

func (a *app) processor() (*stripeproc.Processor, error) {
	if a.cfg.Stripe.SecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required to confirm payments")
	}

	return stripeproc.New(stripeproc.Config{
		SecretKey:  a.cfg.Stripe.SecretKey,
		Currency:   a.cfg.Stripe.Currency,
		BaseURL:    a.cfg.Stripe.BaseURL,
		MaxRetries: a.cfg.Stripe.MaxRetries,
	}), nil
}
