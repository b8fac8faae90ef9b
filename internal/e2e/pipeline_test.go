package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/drawq/internal/adapters/memory"
	"github.com/bnema/drawq/internal/adapters/notify"
	"github.com/bnema/drawq/internal/adapters/notify/webhook"
	"github.com/bnema/drawq/internal/adapters/protocol/relay"
	"github.com/bnema/drawq/internal/application"
	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/logging"
	"github.com/bnema/drawq/internal/ports"
	"github.com/bnema/drawq/internal/quota"
	"github.com/bnema/drawq/internal/selection"
	"github.com/bnema/drawq/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay accepts every submit and reports the task finished on the
// first poll.
type fakeRelay struct {
	mu      sync.Mutex
	submits []map[string]any
	tokens  []string
}

func (f *fakeRelay) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.submits = append(f.submits, body)
		f.tokens = append(f.tokens, r.Header.Get("Authorization"))
		f.mu.Unlock()
		writeJSON(w, map[string]any{"message_id": "msg-" + body["task_id"].(string)})
	})
	mux.HandleFunc("GET /tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":    "success",
			"progress":  "100%",
			"image_url": "https://cdn.example/" + r.PathValue("id") + ".png",
		})
	})
	mux.HandleFunc("GET /quota", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"fast_remaining": 500})
	})
	return mux
}

func (f *fakeRelay) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

type eventSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *eventSink) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event notify.Event
		if err := json.NewDecoder(r.Body).Decode(&event); err == nil {
			s.mu.Lock()
			s.events = append(s.events, event)
			s.mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *eventSink) statuses(taskID domain.TaskID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, event := range s.events {
		if event.TaskID == string(taskID) {
			out = append(out, event.Status)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func TestPipelineRunsTaskThroughRelayAndNotifies(t *testing.T) {
	relayServer := &fakeRelay{}
	upstream := httptest.NewServer(relayServer.handler())
	defer upstream.Close()
	sink := &eventSink{}
	hooks := httptest.NewServer(sink.handler())
	defer hooks.Close()

	backend := memory.NewBackend(ports.SystemClock{})
	tasks := memory.NewTaskRepository()
	tracker := quota.NewTracker(backend.Counters(), quota.DefaultConfig(), nil, logging.NewTestLogger())
	notifier := notify.NewFilter(notify.Fanout{webhook.New(hooks.URL, hooks.Client())}, time.Minute)

	factory := func(account domain.Account) (*worker.Instance, error) {
		adapter := &relay.Adapter{
			API:     relay.DefaultAPI(upstream.URL),
			Account: account.ID,
			Token:   "token-" + string(account.ID),
		}
		return worker.New(account, worker.Config{
			IdleWait:     20 * time.Millisecond,
			BusyWait:     2 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
			Retry:        worker.RetryConfig{MaxRetries: 1, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		}, worker.Deps{
			Backend:  backend,
			Tasks:    tasks,
			Quota:    tracker,
			Adapter:  adapter,
			Notifier: notifier,
			Probe:    adapter,
			Logger:   logging.NewTestLogger(),
		})
	}

	dispatcher, err := application.NewDispatcher(application.DispatcherOptions{
		Rule:    selection.NewRoundRobin(),
		Tasks:   tasks,
		Factory: factory,
		Logger:  logging.NewTestLogger(),
	})
	require.NoError(t, err)

	added, err := dispatcher.Sync([]domain.Account{pipelineAccount("acc-1"), pipelineAccount("acc-2")})
	require.NoError(t, err)
	require.Len(t, added.Added, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(ctx) }()

	var ids []domain.TaskID
	for range 4 {
		instance, mode, err := dispatcher.Choose(ctx, application.Constraints{RequireNew: true})
		require.NoError(t, err)
		result, err := dispatcher.Enqueue(ctx, instance, domain.Task{
			Action: domain.ActionImagine,
			Prompt: "a lighthouse at dusk",
			Mode:   mode,
		}, domain.FuncSubmit, domain.EntryParams{})
		require.NoError(t, err)
		require.True(t, result.Accepted)
		ids = append(ids, result.Task.ID)
	}

	for _, id := range ids {
		require.Eventually(t, func() bool {
			task, err := tasks.GetByID(context.Background(), id)
			return err == nil && task.Status == domain.StatusSuccess
		}, 5*time.Second, 10*time.Millisecond, "task %s never finished", id)
		require.Eventually(t, func() bool {
			statuses := sink.statuses(id)
			return len(statuses) > 0 && statuses[len(statuses)-1] == string(domain.StatusSuccess)
		}, 5*time.Second, 10*time.Millisecond, "no success event for task %s", id)
	}

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 4, relayServer.submitCount())
	owners := map[domain.AccountID]int{}
	for _, id := range ids {
		task, err := tasks.GetByID(context.Background(), id)
		require.NoError(t, err)
		owners[task.AccountID]++
		assert.Equal(t, "msg-"+string(id), task.Property(domain.PropMessageID))
		assert.True(t, strings.HasSuffix(task.ImageURL, string(id)+".png"))
		assert.False(t, task.FinishTime.IsZero())
	}
	assert.Equal(t, 2, owners["acc-1"], "round robin alternates accounts")
	assert.Equal(t, 2, owners["acc-2"])

	for _, token := range relayServer.tokens {
		assert.True(t, strings.HasPrefix(token, "Bearer token-acc-"))
	}
}

func pipelineAccount(id string) domain.Account {
	account := domain.Account{
		ID:             domain.AccountID(id),
		Name:           "Pipeline " + id,
		Enabled:        true,
		AcceptNew:      true,
		AcceptFollowUp: true,
		Version:        1,
		Policy: domain.CapacityPolicy{
			CoreSize:  2,
			QueueSize: 10,
		},
	}
	account.Normalize()
	return account
}
