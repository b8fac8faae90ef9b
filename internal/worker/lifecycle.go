package worker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/logging"
	"github.com/bnema/drawq/internal/metrics"
	"github.com/bnema/drawq/internal/ports"
	"github.com/google/uuid"
)

// requestBuilder turns a queued entry into the protocol call of its function.
type requestBuilder func(task domain.Task, params domain.EntryParams) (ports.SubmitRequest, error)

var handlers = map[domain.Function]requestBuilder{
	domain.FuncSubmit:    promptRequest(domain.FuncSubmit),
	domain.FuncShorten:   promptRequest(domain.FuncShorten),
	domain.FuncAction:    actionRequest,
	domain.FuncModal:     modalRequest,
	domain.FuncDescribe:  payloadRequest(domain.FuncDescribe, "image"),
	domain.FuncBlend:     payloadRequest(domain.FuncBlend, "images"),
	domain.FuncEdit:      editRequest(domain.FuncEdit),
	domain.FuncRetexture: editRequest(domain.FuncRetexture),
	domain.FuncVideo:     videoRequest,
}

func baseRequest(fn domain.Function, task domain.Task, params domain.EntryParams) ports.SubmitRequest {
	prompt := task.Property(domain.PropFinalPrompt)
	if prompt == "" {
		prompt = task.Prompt
	}

	return ports.SubmitRequest{
		Function:  fn,
		Action:    task.Action,
		Mode:      task.Mode,
		AccountID: task.AccountID,
		TaskID:    task.ID,
		Prompt:    prompt,
		MessageID: params.MessageID,
		CustomID:  params.CustomID,
		Payload:   maps.Clone(params.Payload),
	}
}

func missing(fn domain.Function, what string) error {
	return fmt.Errorf("%w: %s requires %s", domain.ErrValidation, fn, what)
}

func promptRequest(fn domain.Function) requestBuilder {
	return func(task domain.Task, params domain.EntryParams) (ports.SubmitRequest, error) {
		req := baseRequest(fn, task, params)
		if strings.TrimSpace(req.Prompt) == "" {
			return ports.SubmitRequest{}, missing(fn, "a prompt")
		}
		return req, nil
	}
}

func actionRequest(task domain.Task, params domain.EntryParams) (ports.SubmitRequest, error) {
	req := baseRequest(domain.FuncAction, task, params)
	if req.MessageID == "" || req.CustomID == "" {
		return ports.SubmitRequest{}, missing(domain.FuncAction, "a message id and a custom id")
	}

	action, err := domain.ParseCustomID(req.CustomID)
	if err != nil {
		return ports.SubmitRequest{}, err
	}
	req.Action = action.Kind
	return req, nil
}

func modalRequest(task domain.Task, params domain.EntryParams) (ports.SubmitRequest, error) {
	req := baseRequest(domain.FuncModal, task, params)
	if req.CustomID == "" {
		req.CustomID = task.Property(domain.PropCustomID)
	}
	if req.MessageID == "" {
		req.MessageID = task.Property(domain.PropMessageID)
	}
	if req.MessageID == "" || req.CustomID == "" {
		return ports.SubmitRequest{}, missing(domain.FuncModal, "the message id and custom id of the modal")
	}
	return req, nil
}

func payloadRequest(fn domain.Function, key string) requestBuilder {
	return func(task domain.Task, params domain.EntryParams) (ports.SubmitRequest, error) {
		req := baseRequest(fn, task, params)
		if req.Payload[key] == "" {
			return ports.SubmitRequest{}, missing(fn, "payload "+key)
		}
		return req, nil
	}
}

func editRequest(fn domain.Function) requestBuilder {
	return func(task domain.Task, params domain.EntryParams) (ports.SubmitRequest, error) {
		req := baseRequest(fn, task, params)
		if strings.TrimSpace(req.Prompt) == "" || req.Payload["image"] == "" {
			return ports.SubmitRequest{}, missing(fn, "a prompt and payload image")
		}
		return req, nil
	}
}

func videoRequest(task domain.Task, params domain.EntryParams) (ports.SubmitRequest, error) {
	req := baseRequest(domain.FuncVideo, task, params)
	if req.Payload["image"] == "" && req.MessageID == "" {
		return ports.SubmitRequest{}, missing(domain.FuncVideo, "payload image or a source message id")
	}
	return req, nil
}

// execute drives one dequeued entry to a terminal status. It never mutates
// the task after ctx is done, so an interrupted task stays recoverable.
func (i *Instance) execute(ctx context.Context, entry domain.QueueEntry) {
	task := entry.Task.Clone()
	if stored, err := i.tasks.GetByID(ctx, entry.TaskID); err == nil && stored.Status.Rank() >= task.Status.Rank() {
		task = stored
	}
	logger := i.logger.WithValues("task", task.ID, "function", entry.Function)

	if task.Status.IsTerminal() {
		logger.V(logging.DEBUG).Info("Skipped entry of a finished task", "status", task.Status)
		return
	}

	exec, ok := i.running.add(task)
	if !ok {
		logger.V(logging.DEBUG).Info("Skipped entry of a task that is already running")
		return
	}
	metrics.SetRunning(string(i.id), i.running.len())
	defer func() {
		i.running.remove(task.ID)
		metrics.SetRunning(string(i.id), i.running.len())
	}()

	fn := entry.Function
	if fn == domain.FuncRefresh {
		if task.Status != domain.StatusNotStarted {
			i.await(ctx, exec, &task)
			i.finish(ctx, &task)
			return
		}
		fn = domain.FunctionFor(task.Action)
	}

	build, ok := handlers[fn]
	if !ok {
		i.fail(ctx, exec, &task, fmt.Sprintf("unsupported function %q", fn))
		i.finish(ctx, &task)
		return
	}
	req, err := build(task, entry.Params.Or(domain.RecordedParams(task)))
	if err != nil {
		i.fail(ctx, exec, &task, err.Error())
		i.finish(ctx, &task)
		return
	}
	req.Nonce = uuid.NewString()
	task.SetProperty(domain.PropNonce, req.Nonce)

	result, err := i.submit(ctx, &task, req)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("Abandoned task on shutdown")
			return
		}
		if errors.Is(err, domain.ErrFatalUpstream) {
			i.disable(ctx, err.Error())
		}
		i.fail(ctx, exec, &task, err.Error())
		i.finish(ctx, &task)
		return
	}

	if result.MessageID != "" {
		task.SetProperty(domain.PropMessageID, result.MessageID)
	}
	for key, value := range result.Properties {
		task.SetProperty(key, value)
	}

	if req.Function == domain.FuncAction && req.Action == domain.ActionModal {
		task.SetProperty(domain.PropCustomID, req.CustomID)
		task.Advance(domain.StatusAwaitingModal, i.clock.Now())
		i.persist(ctx, exec, &task)
		return
	}

	task.Advance(domain.StatusSubmitted, i.clock.Now())
	i.persist(ctx, exec, &task)

	i.await(ctx, exec, &task)
	i.finish(ctx, &task)
}

// await applies pushed and polled updates until the task is terminal, parked
// on a modal, or out of time.
func (i *Instance) await(ctx context.Context, exec *execution, task *domain.Task) {
	timeout := i.Account().Policy.Timeout
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(i.cfg.PollInterval)
	defer poll.Stop()

	for !task.Status.IsTerminal() && task.Status != domain.StatusAwaitingModal {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			i.fail(ctx, exec, task, fmt.Errorf("%w after %s", domain.ErrTimeout, timeout).Error())
		case <-exec.signal:
			for _, update := range exec.drain() {
				i.apply(ctx, exec, task, update)
			}
		case <-poll.C:
			update, err := i.adapter.Poll(ctx, task.Clone())
			if err != nil {
				i.logger.V(logging.DEBUG).Info("Poll failed", "task", task.ID, "error", err.Error())
				continue
			}
			i.apply(ctx, exec, task, update)
		}
	}
}

// apply merges an update into task. Updates that would move the status
// backwards only contribute their properties.
func (i *Instance) apply(ctx context.Context, exec *execution, task *domain.Task, update ports.StatusUpdate) {
	if update.TaskID != "" && update.TaskID != task.ID {
		return
	}
	if task.Status.IsTerminal() {
		return
	}

	changed := false
	for key, value := range update.Properties {
		if task.Property(key) != value {
			task.SetProperty(key, value)
			changed = true
		}
	}
	if update.Progress != "" && update.Progress != task.Progress {
		task.Progress = update.Progress
		changed = true
	}
	if update.ImageURL != "" && update.ImageURL != task.ImageURL {
		task.ImageURL = update.ImageURL
		changed = true
	}

	if update.Status != "" && update.Status != task.Status {
		if task.Advance(update.Status, i.clock.Now()) {
			changed = true
			switch update.Status {
			case domain.StatusFailure:
				task.FailReason = update.FailReason
				if task.FailReason == "" {
					task.FailReason = "upstream reported failure"
				}
			case domain.StatusSuccess:
				i.recordQuota(ctx, task)
			}
		} else {
			i.logger.V(logging.DEBUG).Info("Dropped stale status update", "task", task.ID, "status", task.Status, "update", update.Status)
		}
	}

	if changed {
		i.persist(ctx, exec, task)
	}
}

// recordQuota books a successful task against the account's quota. The
// task property guards against booking twice.
func (i *Instance) recordQuota(ctx context.Context, task *domain.Task) {
	if task.Property(domain.PropQuotaRecorded) != "" {
		return
	}
	task.SetProperty(domain.PropQuotaRecorded, "true")

	tier := domain.TierFor(domain.FunctionFor(task.Action), task.Action, task.Mode)
	if _, err := i.quota.RecordDraw(ctx, i.id, tier); err != nil {
		i.logger.Error(err, "Failed to record daily draw", "task", task.ID)
	}

	remaining, known, err := i.quota.Consume(ctx, i.id, domain.Units(task.Action, task.Mode))
	if err != nil {
		i.logger.Error(err, "Failed to consume quota", "task", task.ID)
		return
	}
	if known && i.quota.NeedsResync(remaining) {
		i.resyncQuota(ctx)
	}
}

func (i *Instance) resyncQuota(ctx context.Context) {
	reporter, ok := i.adapter.(ports.QuotaReporter)
	if !ok {
		return
	}

	snapshot, err := reporter.FetchQuota(ctx)
	if err != nil {
		i.logger.Error(err, "Failed to fetch upstream quota")
		return
	}
	if snapshot.AsOf.IsZero() {
		snapshot.AsOf = i.clock.Now()
	}
	if err := i.quota.Sync(ctx, i.id, snapshot); err != nil {
		i.logger.Error(err, "Failed to sync quota")
	}
}

func (i *Instance) fail(ctx context.Context, exec *execution, task *domain.Task, reason string) {
	if task.Fail(reason, i.clock.Now()) {
		i.persist(ctx, exec, task)
	}
}

// finish closes the books on an execution that left await.
func (i *Instance) finish(ctx context.Context, task *domain.Task) {
	switch {
	case task.Status.IsTerminal():
		metrics.RecordTerminal(string(i.id), string(task.Status))
	case ctx.Err() != nil, task.Status == domain.StatusAwaitingModal:
	default:
		i.logger.Error(domain.ErrInvariantViolation, "Execution ended with a non-terminal task", "task", task.ID, "status", task.Status)
	}
}

func (i *Instance) persist(ctx context.Context, exec *execution, task *domain.Task) {
	exec.store(*task)

	if err := i.tasks.Save(ctx, task.Clone()); err != nil {
		i.logger.Error(err, "Failed to save task", "task", task.ID, "status", task.Status)
	}
	if err := i.notifier.Notify(ctx, task.Clone()); err != nil {
		i.logger.Error(err, "Failed to notify task", "task", task.ID, "status", task.Status)
	}
}

// disable turns the account off for good after a credential failure.
func (i *Instance) disable(ctx context.Context, reason string) {
	current := i.Account()
	if !current.Enabled {
		return
	}

	next := current
	next.Enabled = false
	next.DisabledReason = reason
	next.Version = current.Version + 1
	next.UpdatedAt = i.clock.Now()

	if i.accounts != nil {
		saved, err := i.accounts.Disable(ctx, i.id, reason)
		if err != nil {
			i.logger.Error(err, "Failed to persist disabled account")
		} else if saved.Version > next.Version {
			next = saved
		}
	}

	i.Reconfigure(next)
	metrics.RecordAccountDisabled(string(i.id))
	i.logger.Error(domain.ErrFatalUpstream, "Disabled account", "reason", reason)
}
