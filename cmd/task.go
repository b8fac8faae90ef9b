package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/drawq/internal/application"
	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
	"github.com/spf13/cobra"
)

const taskPollInterval = time.Second

func newTaskCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Submit and inspect tasks",
	}

	cmd.AddCommand(
		newTaskSubmitCmd(app),
		newTaskGetCmd(app),
	)

	return cmd
}

type taskSubmitFlags struct {
	action       string
	prompt       string
	modes        []string
	account      string
	allow        []string
	deny         []string
	variant      string
	capabilities []string
	domain       string
	tag          string
	remix        bool
	parent       string
	messageID    string
	customID     string
	payload      map[string]string
	wait         bool
	waitTimeout  time.Duration
	asJSON       bool
}

func (f taskSubmitFlags) constraints(action domain.ActionKind) (application.Constraints, error) {
	modes, err := parseModes(f.modes)
	if err != nil {
		return application.Constraints{}, err
	}

	constraints := application.Constraints{
		InstanceID:      domain.AccountID(strings.TrimSpace(f.account)),
		Allow:           toAccountIDs(f.allow),
		Deny:            toAccountIDs(f.deny),
		Variant:         strings.TrimSpace(f.variant),
		Domain:          strings.TrimSpace(f.domain),
		Remix:           f.remix,
		Tag:             strings.TrimSpace(f.tag),
		RequireNew:      !action.IsFollowUp(),
		RequireFollowUp: action.IsFollowUp(),
		Modes:           modes,
	}
	for _, capability := range f.capabilities {
		constraints.Capabilities = append(constraints.Capabilities, domain.Capability(strings.ToLower(strings.TrimSpace(capability))))
	}
	return constraints, nil
}

func newTaskSubmitCmd(app *app) *cobra.Command {
	var flags taskSubmitFlags

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Pick an account and queue a task on it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			action, err := domain.ParseActionKind(strings.ToLower(strings.TrimSpace(flags.action)))
			if err != nil {
				return err
			}
			constraints, err := flags.constraints(action)
			if err != nil {
				return err
			}

			rt, err := app.loadPool(ctx)
			if err != nil {
				return err
			}

			task := domain.Task{
				Action: action,
				Prompt: strings.TrimSpace(flags.prompt),
			}
			params := domain.EntryParams{
				MessageID: strings.TrimSpace(flags.messageID),
				CustomID:  strings.TrimSpace(flags.customID),
				Payload:   flags.payload,
			}
			if flags.parent != "" {
				if err := followParent(ctx, rt.tasks, domain.TaskID(flags.parent), &task, &params, &constraints); err != nil {
					return err
				}
			}

			instance, mode, err := rt.dispatcher.Choose(ctx, constraints)
			if err != nil {
				return err
			}
			task.Mode = mode

			result, err := rt.dispatcher.Enqueue(ctx, instance, task, domain.FunctionFor(action), params)
			if err != nil {
				return err
			}

			if flags.wait {
				final, err := waitForTask(ctx, cmd, rt.tasks, result.Task.ID, flags.waitTimeout)
				if err != nil {
					return err
				}
				return writeTask(cmd, final, flags.asJSON)
			}

			if flags.asJSON {
				return writeTask(cmd, result.Task, true)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Queued task %s on account %s (mode %s, position %d)\n",
				result.Task.ID, instance.ID(), mode, result.Position)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.action, "action", string(domain.ActionImagine), "Task action, e.g. imagine, upscale, describe, blend")
	cmd.Flags().StringVar(&flags.prompt, "prompt", "", "Prompt text")
	cmd.Flags().StringSliceVar(&flags.modes, "mode", nil, "Speed mode to try, in order (repeatable, default fast,turbo,relax)")
	cmd.Flags().StringVar(&flags.account, "account", "", "Run on this account only")
	cmd.Flags().StringSliceVar(&flags.allow, "allow", nil, "Only consider these accounts")
	cmd.Flags().StringSliceVar(&flags.deny, "deny", nil, "Never consider these accounts")
	cmd.Flags().StringVar(&flags.variant, "variant", "", "Required bot variant")
	cmd.Flags().StringSliceVar(&flags.capabilities, "capability", nil, "Required capability (repeatable)")
	cmd.Flags().StringVar(&flags.domain, "domain", "", "Required domain tag")
	cmd.Flags().StringVar(&flags.tag, "tag", "", "Required account tag (substring match)")
	cmd.Flags().BoolVar(&flags.remix, "remix", false, "Require remix mode")
	cmd.Flags().StringVar(&flags.parent, "parent", "", "Task this follow-up acts on")
	cmd.Flags().StringVar(&flags.messageID, "message-id", "", "Upstream message id of a follow-up")
	cmd.Flags().StringVar(&flags.customID, "custom-id", "", "Button custom id of a follow-up")
	cmd.Flags().StringToStringVar(&flags.payload, "payload", nil, "Extra request payload as key=value")
	cmd.Flags().BoolVar(&flags.wait, "wait", false, "Wait until the task succeeds or fails")
	cmd.Flags().DurationVar(&flags.waitTimeout, "wait-timeout", 10*time.Minute, "Give up waiting after this long")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "Print the task as JSON")

	return cmd
}

// followParent routes a follow-up to the account that ran its parent and
// fills in the parent's message id when none was given.
func followParent(ctx context.Context, tasks ports.TaskRepository, parentID domain.TaskID, task *domain.Task, params *domain.EntryParams, constraints *application.Constraints) error {
	parent, err := tasks.GetByID(ctx, parentID)
	if err != nil {
		return fmt.Errorf("load parent task %s: %w", parentID, err)
	}

	task.ParentID = parent.ID
	if constraints.InstanceID == "" {
		constraints.InstanceID = parent.AccountID
	}
	if params.MessageID == "" {
		params.MessageID = parent.Property(domain.PropMessageID)
	}
	return nil
}

func newTaskGetCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a stored task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.runtime(cmd.Context(), false)
			if err != nil {
				return err
			}

			task, err := rt.tasks.GetByID(cmd.Context(), domain.TaskID(args[0]))
			if err != nil {
				return err
			}
			return writeTask(cmd, task, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the task as JSON")

	return cmd
}

func waitForTask(ctx context.Context, cmd *cobra.Command, tasks ports.TaskRepository, id domain.TaskID, timeout time.Duration) (domain.Task, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var final domain.Task
	err := runTaskWaitSpinner(ctx, cmd.ErrOrStderr(), fmt.Sprintf("Waiting for task %s...", id), func(ctx context.Context) error {
		ticker := time.NewTicker(taskPollInterval)
		defer ticker.Stop()
		for {
			task, err := tasks.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if task.Status.IsTerminal() {
				final = task
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Task{}, fmt.Errorf("task %s did not finish within %s", id, timeout)
	}
	return final, err
}

func writeTask(cmd *cobra.Command, task domain.Task, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "task: %s\n", task.ID)
	_, _ = fmt.Fprintf(out, "action: %s\n", task.Action)
	_, _ = fmt.Fprintf(out, "status: %s\n", task.Status)
	_, _ = fmt.Fprintf(out, "account: %s\n", task.AccountID)
	if task.Mode != "" {
		_, _ = fmt.Fprintf(out, "mode: %s\n", task.Mode)
	}
	if task.Prompt != "" {
		_, _ = fmt.Fprintf(out, "prompt: %s\n", sanitizeForTerminal(task.Prompt))
	}
	if task.Progress != "" {
		_, _ = fmt.Fprintf(out, "progress: %s\n", task.Progress)
	}
	if task.ImageURL != "" {
		_, _ = fmt.Fprintf(out, "image: %s\n", task.ImageURL)
	}
	if task.FailReason != "" {
		_, _ = fmt.Fprintf(out, "failure: %s\n", sanitizeForTerminal(task.FailReason))
	}
	return nil
}

func toAccountIDs(values []string) []domain.AccountID {
	if len(values) == 0 {
		return nil
	}
	ids := make([]domain.AccountID, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			ids = append(ids, domain.AccountID(trimmed))
		}
	}
	return ids
}
