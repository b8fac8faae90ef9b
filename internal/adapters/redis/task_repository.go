package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
	goredis "github.com/go-redis/redis/v8"
)

const DefaultTaskTTL = 7 * 24 * time.Hour

// TaskRepository stores tasks as JSON documents with a per-account index
// scored by submit time.
type TaskRepository struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ ports.TaskRepository = (*TaskRepository)(nil)

func NewTaskRepository(client goredis.UniversalClient, prefix string, ttl time.Duration) *TaskRepository {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTaskTTL
	}
	return &TaskRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *TaskRepository) taskKey(id domain.TaskID) string {
	return r.prefix + ":task:" + string(id)
}

func (r *TaskRepository) indexKey(account domain.AccountID) string {
	return r.prefix + ":tasks:" + string(account)
}

func (r *TaskRepository) Save(ctx context.Context, task domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.taskKey(task.ID), data, r.ttl)
		if task.AccountID != "" {
			pipe.ZAdd(ctx, r.indexKey(task.AccountID), &goredis.Z{
				Score:  float64(task.SubmitTime.UnixMilli()),
				Member: string(task.ID),
			})
			pipe.Expire(ctx, r.indexKey(task.AccountID), r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	data, err := r.client.Get(ctx, r.taskKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("load task %s: %w", id, err)
	}

	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return task, nil
}

func (r *TaskRepository) Delete(ctx context.Context, id domain.TaskID) error {
	task, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, r.taskKey(id))
		if task.AccountID != "" {
			pipe.ZRem(ctx, r.indexKey(task.AccountID), string(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (r *TaskRepository) ListActive(ctx context.Context, account domain.AccountID, statuses []domain.TaskStatus, since time.Time) ([]domain.Task, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.indexKey(account), &goredis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks of %s: %w", account, err)
	}

	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		task, err := r.GetByID(ctx, domain.TaskID(id))
		if errors.Is(err, domain.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if slices.Contains(statuses, task.Status) {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}
