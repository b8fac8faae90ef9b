package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	statusadapter "github.com/bnema/drawq/internal/adapters/render/status"
	"github.com/bnema/drawq/internal/application"
	"github.com/bnema/drawq/internal/domain"
	"github.com/spf13/cobra"
)

func writeStatusesOutput(cmd *cobra.Command, app *app, statuses []application.InstanceStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	for i := range statuses {
		statuses[i].Account.Name = sanitizeForTerminal(statuses[i].Account.Name)
		statuses[i].Account.DisabledReason = sanitizeForTerminal(statuses[i].Account.DisabledReason)
	}

	rendered, err := app.statusRenderer(statuses, statusadapter.RenderOptions{
		Now: app.now(),
	})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

func filterStatuses(statuses []application.InstanceStatus, accountID string) []application.InstanceStatus {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return statuses
	}

	out := statuses[:0]
	for _, status := range statuses {
		if status.Account.ID == domain.AccountID(accountID) {
			out = append(out, status)
		}
	}
	return out
}
