package cmd

import (
	"strings"
	"unicode"

	"github.com/spf13/cobra"
)

func newPoolCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect the account pool",
	}

	cmd.AddCommand(
		newPoolStatusCmd(app),
	)

	return cmd
}

func newPoolStatusCmd(app *app) *cobra.Command {
	var asJSON bool
	var accountID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, running tasks and capacity per account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := app.loadPool(cmd.Context())
			if err != nil {
				return err
			}

			statuses, err := rt.dispatcher.Status(cmd.Context())
			if err != nil {
				return err
			}
			statuses = filterStatuses(statuses, accountID)

			return writeStatusesOutput(cmd, app, statuses, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")
	cmd.Flags().StringVar(&accountID, "account", "", "Only show this account")

	return cmd
}

func sanitizeForTerminal(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}
