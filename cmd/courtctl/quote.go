package main

import (
	"context"

	"github.com/spf13/cobra"

	"litigation-backend/internal/bootstrap"
	"litigation-backend/internal/quotes"
)

func quoteCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Request and inspect guarantee premium quotes",
	}
	cmd.AddCommand(quoteRunCmd(open), quoteRetryCmd(open), quoteShowCmd(open))
	return cmd
}

func quoteRunCmd(open opener) *cobra.Command {
	var (
		caseRef     string
		amount      string
		institution string
		account     string
		providers   []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a quote request and query every provider",
		Long: `Create a quote request and run it in this process.

Examples:
  courtctl quote run --case "(2026)沪0101民初1号" --amount 6652.90
  courtctl quote run --case C-1 --amount 1000 --provider 002 --provider 004`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := quotes.ParseAmount(amount)
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(ctx context.Context, app *bootstrap.App) error {
				req, err := app.Quotes.Submit(ctx, quotes.SubmitInput{
					CaseRef:         caseRef,
					Amount:          value,
					InstitutionCode: institution,
					Providers:       providers,
					Account:         account,
				})
				if err != nil {
					return err
				}
				if _, err := app.Quotes.Execute(ctx, req.ID); err != nil {
					return err
				}
				return showQuote(ctx, cmd, app, req.ID)
			})
		},
	}
	cmd.Flags().StringVar(&caseRef, "case", "", "case reference (required)")
	cmd.Flags().StringVar(&amount, "amount", "", "guaranteed amount, e.g. 6652.90 (required)")
	cmd.Flags().StringVar(&institution, "institution", "", "institution code; defaults to the configured one")
	cmd.Flags().StringVarP(&account, "account", "a", "", "site account to query with")
	cmd.Flags().StringSliceVarP(&providers, "provider", "p", nil, "provider codes; defaults to every enabled provider")
	_ = cmd.MarkFlagRequired("case")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func quoteRetryCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [quote-id]",
		Short: "Re-query only the providers that failed or never answered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *bootstrap.App) error {
				if _, err := app.Quotes.RetryFailed(ctx, args[0]); err != nil {
					return err
				}
				return showQuote(ctx, cmd, app, args[0])
			})
		},
	}
}

func quoteShowCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "show [quote-id]",
		Short: "Print a quote request with its latest result per provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *bootstrap.App) error {
				return showQuote(ctx, cmd, app, args[0])
			})
		},
	}
}

func showQuote(ctx context.Context, cmd *cobra.Command, app *bootstrap.App, id string) error {
	summary, err := app.Quotes.Get(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(cmd, summary)
}
