package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fastprodman/farmpay/internal/api"
	"github.com/spf13/cobra"
)

var errNoSecret = errors.New("JWT_SECRET is not set")

func loginCmd(a *app) *cobra.Command {
	var token, user string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for later commands",
		Long: `Store a bearer token in the credential file (0600).

The token is read from --token or, when omitted, from the first line of stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}

				token = line
			}

			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("empty token")
			}

			err := a.store.Save(token, user, a.cfg.APIURL)
			if err != nil {
				return fmt.Errorf("save credential: %w", err)
			}

			a.printf("logged in%s; credential saved to %s\n", asUser(user), a.cfg.CredentialsPath)

			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	cmd.Flags().StringVar(&user, "user", "", "user id the token was issued for")

	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			err := a.store.Clear()
			if err != nil {
				return fmt.Errorf("logout: %w", err)
			}

			a.printf("logged out\n")

			return nil
		},
	}
}

func tokenCmd(a *app) *cobra.Command {
	var (
		ttl  time.Duration
		save bool
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a development token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if a.cfg.JWTSecret == "" {
				return errNoSecret
			}

			tok, err := api.NewAuthenticator(a.cfg.JWTSecret, a.cfg.JWTIssuer).Issue(args[0], ttl)
			if err != nil {
				return fmt.Errorf("mint token: %w", err)
			}

			if save {
				err = a.store.Save(tok, args[0], a.cfg.APIURL)
				if err != nil {
					return fmt.Errorf("save credential: %w", err)
				}
			}

			a.printf("%s\n", tok)

			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "also store the token as the current login")

	return cmd
}

func asUser(user string) string {
	if user == "" {
		return ""
	}

	return " as " + user
}
