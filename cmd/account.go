package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/drawq/internal/application"
	"github.com/bnema/drawq/internal/domain"
	"github.com/spf13/cobra"
)

func newAccountCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage bot accounts",
	}

	cmd.AddCommand(
		newAccountListCmd(app),
		newAccountAddCmd(app),
		newAccountEnableCmd(app),
		newAccountDisableCmd(app),
		newAccountSetCapacityCmd(app),
		newAccountSetTokenCmd(app),
		newAccountRemoveCmd(app),
	)

	return cmd
}

func newAccountListCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := app.accounts.List(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(accounts)
			}

			for _, account := range accounts {
				state := "enabled"
				if !account.Enabled {
					state = "disabled"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\tcore %d\tqueue %d\n",
					account.ID,
					sanitizeForTerminal(account.Name),
					account.Kind.Label(),
					state,
					account.Policy.CoreSize,
					account.Policy.QueueSize,
				)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print accounts as JSON")

	return cmd
}

type accountAddFlags struct {
	id             string
	name           string
	kind           string
	variant        string
	capabilities   []string
	domains        []string
	tags           []string
	remix          bool
	acceptNew      bool
	acceptFollowUp bool
	weight         int
	coreSize       int
	queueSize      int
	relaxCoreSize  int
	relaxQueueSize int
	modes          []string
	forcedMode     string
	dayDrawLimit   int
	timeout        time.Duration
	disabled       bool
}

func (f accountAddFlags) account() (domain.Account, error) {
	kind, err := domain.ParseAccountKind(f.kind)
	if err != nil {
		return domain.Account{}, err
	}
	forced, err := domain.ParseSpeedMode(f.forcedMode)
	if err != nil {
		return domain.Account{}, err
	}
	modes, err := parseModes(f.modes)
	if err != nil {
		return domain.Account{}, err
	}

	capabilities := make([]domain.Capability, 0, len(f.capabilities))
	for _, capability := range f.capabilities {
		capabilities = append(capabilities, domain.Capability(strings.ToLower(strings.TrimSpace(capability))))
	}

	return domain.Account{
		ID:             domain.AccountID(f.id),
		Name:           strings.TrimSpace(f.name),
		Enabled:        !f.disabled,
		Kind:           kind,
		Variant:        strings.TrimSpace(f.variant),
		Capabilities:   capabilities,
		Domains:        f.domains,
		Remix:          f.remix,
		Tags:           f.tags,
		AcceptNew:      f.acceptNew,
		AcceptFollowUp: f.acceptFollowUp,
		Weight:         f.weight,
		Policy: domain.CapacityPolicy{
			CoreSize:       f.coreSize,
			QueueSize:      f.queueSize,
			RelaxCoreSize:  f.relaxCoreSize,
			RelaxQueueSize: f.relaxQueueSize,
			AllowedModes:   modes,
			ForcedMode:     forced,
			DayDrawLimit:   f.dayDrawLimit,
			Timeout:        f.timeout,
		},
	}, nil
}

func newAccountAddCmd(app *app) *cobra.Command {
	var flags accountAddFlags
	var token string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a bot account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := flags.account()
			if err != nil {
				return err
			}

			added, err := app.accounts.Add(cmd.Context(), account)
			if err != nil {
				return err
			}

			if token != "" {
				if err := app.accounts.SetToken(cmd.Context(), added.ID, tokenSecretKey(added.ID), token); err != nil {
					return err
				}
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added account %s (%s)\n", added.ID, sanitizeForTerminal(added.Name))
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.id, "id", "", "Account ID")
	cmd.Flags().StringVar(&flags.name, "name", "", "Display name")
	cmd.Flags().StringVar(&flags.kind, "kind", string(domain.AccountKindDirect), "Account kind: direct, partner or official")
	cmd.Flags().StringVar(&flags.variant, "variant", "", "Bot variant served by the account")
	cmd.Flags().StringSliceVar(&flags.capabilities, "capability", nil, "Capability (repeatable): describe, blend, shorten, video, hd_video")
	cmd.Flags().StringSliceVar(&flags.domains, "domain", nil, "Domain tag (repeatable)")
	cmd.Flags().StringSliceVar(&flags.tags, "tag", nil, "Free-form tag (repeatable)")
	cmd.Flags().BoolVar(&flags.remix, "remix", false, "Account has remix mode enabled")
	cmd.Flags().BoolVar(&flags.acceptNew, "accept-new", true, "Accept new (non follow-up) tasks")
	cmd.Flags().BoolVar(&flags.acceptFollowUp, "accept-follow-up", true, "Accept follow-up tasks")
	cmd.Flags().IntVar(&flags.weight, "weight", 0, "Weight for the weighted selection rule")
	cmd.Flags().IntVar(&flags.coreSize, "core-size", domain.DefaultCoreSize, "Concurrent executions in the default tier")
	cmd.Flags().IntVar(&flags.queueSize, "queue-size", domain.DefaultQueueSize, "Queued entries allowed in the default tier")
	cmd.Flags().IntVar(&flags.relaxCoreSize, "relax-core-size", 0, "Concurrent executions in the relax tier")
	cmd.Flags().IntVar(&flags.relaxQueueSize, "relax-queue-size", 0, "Queued entries allowed in the relax tier")
	cmd.Flags().StringSliceVar(&flags.modes, "mode", nil, "Allowed speed mode (repeatable, default all)")
	cmd.Flags().StringVar(&flags.forcedMode, "forced-mode", "", "Speed mode every task on this account runs in")
	cmd.Flags().IntVar(&flags.dayDrawLimit, "day-limit", 0, "Daily draw limit of the default tier (0 for unlimited)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", domain.DefaultTimeout, "Task timeout measured from execution start")
	cmd.Flags().BoolVar(&flags.disabled, "disabled", false, "Store the account disabled")
	cmd.Flags().StringVar(&token, "token", "", "Relay token stored in the secret store")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func newAccountEnableCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <account-id>",
		Short: "Enable an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := app.accounts.Enable(cmd.Context(), domain.AccountID(args[0]))
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Enabled account %s (version %d)\n", account.ID, account.Version)
			return nil
		},
	}
}

func newAccountDisableCmd(app *app) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "disable <account-id>",
		Short: "Disable an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := app.accounts.Disable(cmd.Context(), domain.AccountID(args[0]), reason)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Disabled account %s (version %d)\n", account.ID, account.Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the account is disabled")

	return cmd
}

func newAccountSetCapacityCmd(app *app) *cobra.Command {
	var (
		coreSize, queueSize             int
		relaxCoreSize, relaxQueueSize   int
		describeCore, describeQueue     int
		dayDrawLimit, dayRelaxDrawLimit int
		timeout                         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "set-capacity <account-id>",
		Short: "Change the capacity policy of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var update application.CapacityUpdate
			changedInt := func(name string, value int, target **int) {
				if cmd.Flags().Changed(name) {
					v := value
					*target = &v
				}
			}
			changedInt("core-size", coreSize, &update.CoreSize)
			changedInt("queue-size", queueSize, &update.QueueSize)
			changedInt("relax-core-size", relaxCoreSize, &update.RelaxCoreSize)
			changedInt("relax-queue-size", relaxQueueSize, &update.RelaxQueueSize)
			changedInt("describe-core-size", describeCore, &update.DescribeCoreSize)
			changedInt("describe-queue-size", describeQueue, &update.DescribeQueueSize)
			changedInt("day-limit", dayDrawLimit, &update.DayDrawLimit)
			changedInt("day-relax-limit", dayRelaxDrawLimit, &update.DayRelaxDrawLimit)
			if cmd.Flags().Changed("timeout") {
				update.Timeout = &timeout
			}

			account, err := app.accounts.SetCapacity(cmd.Context(), domain.AccountID(args[0]), update)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated capacity of account %s (version %d)\n", account.ID, account.Version)
			return nil
		},
	}

	cmd.Flags().IntVar(&coreSize, "core-size", 0, "Concurrent executions in the default tier")
	cmd.Flags().IntVar(&queueSize, "queue-size", 0, "Queued entries allowed in the default tier")
	cmd.Flags().IntVar(&relaxCoreSize, "relax-core-size", 0, "Concurrent executions in the relax tier")
	cmd.Flags().IntVar(&relaxQueueSize, "relax-queue-size", 0, "Queued entries allowed in the relax tier")
	cmd.Flags().IntVar(&describeCore, "describe-core-size", 0, "Concurrent executions in the describe tier")
	cmd.Flags().IntVar(&describeQueue, "describe-queue-size", 0, "Queued entries allowed in the describe tier")
	cmd.Flags().IntVar(&dayDrawLimit, "day-limit", 0, "Daily draw limit of the default tier (-1 for unlimited)")
	cmd.Flags().IntVar(&dayRelaxDrawLimit, "day-relax-limit", 0, "Daily draw limit of the relax tier (-1 for unlimited)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Task timeout measured from execution start")

	return cmd
}

func newAccountSetTokenCmd(app *app) *cobra.Command {
	var token string
	var secretKey string

	cmd := &cobra.Command{
		Use:   "set-token <account-id>",
		Short: "Store the relay token of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.AccountID(args[0])
			if secretKey == "" {
				secretKey = tokenSecretKey(id)
			}
			if err := app.accounts.SetToken(cmd.Context(), id, secretKey, token); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored token for account %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Relay token")
	cmd.Flags().StringVar(&secretKey, "secret-key", "", "Secret store key (default relay/<account-id>/token)")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func newAccountRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <account-id>",
		Short: "Remove an account and its stored token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.AccountID(args[0])
			if err := app.accounts.Remove(cmd.Context(), id); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed account %s\n", id)
			return nil
		},
	}
}

func tokenSecretKey(id domain.AccountID) string {
	return fmt.Sprintf("relay/%s/token", id)
}

func parseModes(raw []string) ([]domain.SpeedMode, error) {
	modes := make([]domain.SpeedMode, 0, len(raw))
	for _, value := range raw {
		mode, err := domain.ParseSpeedMode(value)
		if err != nil {
			return nil, err
		}
		if mode == "" {
			continue
		}
		modes = append(modes, mode)
	}
	return modes, nil
}
