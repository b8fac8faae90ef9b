package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
)

type TaskRepository struct {
	mu    sync.RWMutex
	tasks map[domain.TaskID]domain.Task
}

var _ ports.TaskRepository = (*TaskRepository)(nil)

func NewTaskRepository() *TaskRepository {
	return &TaskRepository{tasks: map[domain.TaskID]domain.Task{}}
}

func (r *TaskRepository) Save(ctx context.Context, task domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (r *TaskRepository) Delete(ctx context.Context, id domain.TaskID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tasks, id)
	return nil
}

func (r *TaskRepository) ListActive(ctx context.Context, account domain.AccountID, statuses []domain.TaskStatus, since time.Time) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]domain.Task, 0)
	for _, task := range r.tasks {
		if task.AccountID != account || !slices.Contains(statuses, task.Status) || task.SubmitTime.Before(since) {
			continue
		}
		tasks = append(tasks, task.Clone())
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].SubmitTime.Before(tasks[j].SubmitTime)
	})
	return tasks, nil
}
