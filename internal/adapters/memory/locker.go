package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/drawq/internal/ports"
	"github.com/google/uuid"
)

type lease struct {
	token     string
	expiresAt time.Time
}

type Locker struct {
	mu     sync.Mutex
	clock  ports.Clock
	leases map[string]lease
}

var _ ports.Locker = (*Locker)(nil)

func NewLocker(clock ports.Clock) *Locker {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Locker{clock: clock, leases: map[string]lease{}}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (ports.Lock, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if current, ok := l.leases[key]; ok && now.Before(current.expiresAt) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return &heldLock{locker: l, key: key, token: token}, true, nil
}

type heldLock struct {
	locker *Locker
	key    string
	token  string
}

func (h *heldLock) Unlock(context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()

	if current, ok := h.locker.leases[h.key]; ok && current.token == h.token {
		delete(h.locker.leases, h.key)
	}
	return nil
}
