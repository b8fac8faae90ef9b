package worker

import (
	"sync"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
)

// execution is one running task. Updates delivered from outside are queued
// on it and picked up by the goroutine that owns the task.
type execution struct {
	mu      sync.Mutex
	task    domain.Task
	pending []ports.StatusUpdate
	signal  chan struct{}
}

func (e *execution) push(update ports.StatusUpdate) {
	e.mu.Lock()
	e.pending = append(e.pending, update)
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *execution) drain() []ports.StatusUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()

	updates := e.pending
	e.pending = nil
	return updates
}

func (e *execution) store(task domain.Task) {
	e.mu.Lock()
	e.task = task.Clone()
	e.mu.Unlock()
}

func (e *execution) snapshot() domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone()
}

// registry tracks the executions of one instance.
type registry struct {
	mu   sync.RWMutex
	byID map[domain.TaskID]*execution
}

func newRegistry() *registry {
	return &registry{byID: map[domain.TaskID]*execution{}}
}

func (r *registry) add(task domain.Task) (*execution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[task.ID]; ok {
		return nil, false
	}
	exec := &execution{task: task.Clone(), signal: make(chan struct{}, 1)}
	r.byID[task.ID] = exec
	return exec, true
}

func (r *registry) remove(id domain.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func (r *registry) get(id domain.TaskID) *execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func (r *registry) has(id domain.TaskID) bool {
	return r.get(id) != nil
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *registry) tasks() []domain.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]domain.Task, 0, len(r.byID))
	for _, exec := range r.byID {
		tasks = append(tasks, exec.snapshot())
	}
	return tasks
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byID)
}

// waiters hands seeds delivered from outside to a blocked FetchSeed call.
type waiters struct {
	mu   sync.Mutex
	byID map[domain.TaskID]chan string
}

func newWaiters() *waiters {
	return &waiters{byID: map[domain.TaskID]chan string{}}
}

func (w *waiters) register(id domain.TaskID) <-chan string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan string, 1)
	w.byID[id] = ch
	return ch
}

func (w *waiters) unregister(id domain.TaskID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.byID, id)
}

func (w *waiters) deliver(id domain.TaskID, seed string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.byID[id]
	if !ok {
		return false
	}
	select {
	case ch <- seed:
	default:
	}
	return true
}
