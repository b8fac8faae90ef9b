package ports

import (
	"context"
	"time"

	"github.com/bnema/drawq/internal/domain"
)

type TaskRepository interface {
	Save(ctx context.Context, task domain.Task) error
	GetByID(ctx context.Context, id domain.TaskID) (domain.Task, error)
	Delete(ctx context.Context, id domain.TaskID) error
	// ListActive returns the account's tasks in one of statuses submitted at
	// or after since, oldest first.
	ListActive(ctx context.Context, account domain.AccountID, statuses []domain.TaskStatus, since time.Time) ([]domain.Task, error)
}
