package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"litigation-backend/internal/bootstrap"
	"litigation-backend/internal/shared/util"
)

type tokenView struct {
	Site        string    `json:"site"`
	Account     string    `json:"account"`
	Fingerprint string    `json:"fingerprint"`
	Masked      string    `json:"masked"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func tokenCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect and refresh site tokens",
	}
	cmd.AddCommand(tokenShowCmd(open), tokenRefreshCmd(open))
	return cmd
}

func tokenShowCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "show [site]",
		Short: "List accounts of a site with their token state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *bootstrap.App) error {
				status, err := app.Tokens.Status(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			})
		},
	}
}

func tokenRefreshCmd(open opener) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "refresh [site]",
		Short: "Resolve a valid token, logging in when none is stored",
		Long: `Resolve a valid token for the site. Accounts are tried in priority order
unless --account names one. The token itself is never printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *bootstrap.App) error {
				tok, err := app.Tokens.Resolve(ctx, args[0], account)
				if err != nil {
					return err
				}
				return printJSON(cmd, tokenView{
					Site:        tok.Site,
					Account:     tok.Account,
					Fingerprint: util.Fingerprint(tok.Value),
					Masked:      util.MaskToken(tok.Value),
					IssuedAt:    tok.IssuedAt,
					ExpiresAt:   tok.ExpiresAt,
				})
			})
		},
	}
	cmd.Flags().StringVarP(&account, "account", "a", "", "account to use instead of priority order")
	return cmd
}
