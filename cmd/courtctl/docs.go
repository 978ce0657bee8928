package main

import (
	"context"

	"github.com/spf13/cobra"

	"litigation-backend/internal/bootstrap"
	"litigation-backend/internal/retrieval"
)

func docsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Fetch and inspect served court documents",
	}
	cmd.AddCommand(docsFetchCmd(open), docsShowCmd(open))
	return cmd
}

func docsFetchCmd(open opener) *cobra.Command {
	var (
		caseRef string
		account string
	)
	cmd := &cobra.Command{
		Use:   "fetch [task-ref]",
		Short: "Discover and download every document of a service task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *bootstrap.App) error {
				task, err := app.Documents.Submit(ctx, retrieval.SubmitInput{
					TaskRef: args[0],
					CaseRef: caseRef,
					Account: account,
				})
				if err != nil {
					return err
				}
				if _, err := app.Documents.Execute(ctx, task.ID); err != nil {
					return err
				}
				return showTask(ctx, cmd, app, task.ID)
			})
		},
	}
	cmd.Flags().StringVar(&caseRef, "case", "", "case reference used in storage keys")
	cmd.Flags().StringVarP(&account, "account", "a", "", "site account to fetch with")
	return cmd
}

func docsShowCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "show [task-id]",
		Short: "Print a document task with its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *bootstrap.App) error {
				return showTask(ctx, cmd, app, args[0])
			})
		},
	}
}

func showTask(ctx context.Context, cmd *cobra.Command, app *bootstrap.App, id string) error {
	summary, err := app.Documents.Get(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(cmd, summary)
}
