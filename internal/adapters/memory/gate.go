package memory

import (
	"context"
	"sync"

	"github.com/bnema/drawq/internal/ports"
)

type Gate struct {
	mu          sync.Mutex
	outstanding int
}

var _ ports.Gate = (*Gate)(nil)

func NewGate() *Gate {
	return &Gate{}
}

func (g *Gate) TryAcquire(ctx context.Context, capacity int) (ports.Token, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.outstanding >= capacity {
		return nil, false, nil
	}
	g.outstanding++
	return &token{gate: g}, true, nil
}

func (g *Gate) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	return g.outstanding, nil
}

type token struct {
	gate *Gate
	once sync.Once
}

func (t *token) Release(context.Context) error {
	t.once.Do(func() {
		t.gate.mu.Lock()
		t.gate.outstanding--
		t.gate.mu.Unlock()
	})
	return nil
}
