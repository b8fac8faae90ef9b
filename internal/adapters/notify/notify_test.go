package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	statuses []domain.TaskStatus
	err      error
}

func (r *recorder) Notify(_ context.Context, task domain.Task) error {
	r.statuses = append(r.statuses, task.Status)
	return r.err
}

func TestFilterDropsStaleAndRepeatedTerminalUpdates(t *testing.T) {
	ctx := context.Background()
	sink := &recorder{}
	filter := NewFilter(sink, time.Minute)

	for _, status := range []domain.TaskStatus{
		domain.StatusSubmitted,
		domain.StatusInProgress,
		domain.StatusInProgress,
		domain.StatusSubmitted,
		domain.StatusSuccess,
		domain.StatusSuccess,
		domain.StatusFailure,
	} {
		require.NoError(t, filter.Notify(ctx, domain.Task{ID: "t-1", Status: status}))
	}

	assert.Equal(t, []domain.TaskStatus{
		domain.StatusSubmitted,
		domain.StatusInProgress,
		domain.StatusInProgress,
		domain.StatusSuccess,
	}, sink.statuses)
}

func TestFilterTracksTasksIndependently(t *testing.T) {
	ctx := context.Background()
	sink := &recorder{}
	filter := NewFilter(sink, time.Minute)

	require.NoError(t, filter.Notify(ctx, domain.Task{ID: "a", Status: domain.StatusSuccess}))
	require.NoError(t, filter.Notify(ctx, domain.Task{ID: "b", Status: domain.StatusSubmitted}))

	assert.Len(t, sink.statuses, 2)
}

func TestFanoutJoinsErrors(t *testing.T) {
	first := &recorder{err: errors.New("webhook down")}
	second := &recorder{}

	err := Fanout{first, second}.Notify(context.Background(), domain.Task{ID: "t-1", Status: domain.StatusSubmitted})

	require.ErrorContains(t, err, "webhook down")
	assert.Len(t, second.statuses, 1)
}

func TestNewEventOmitsUnsetTimes(t *testing.T) {
	event := NewEvent(domain.Task{ID: "t-1", Action: domain.ActionImagine, Status: domain.StatusNotStarted})

	assert.Equal(t, "t-1", event.TaskID)
	assert.Nil(t, event.StartTime)
	assert.Nil(t, event.FinishTime)
}
