// Package memory implements the coordination ports for a single process.
package memory

import (
	"sync"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
)

type queueKey struct {
	account domain.AccountID
	tier    domain.Tier
}

type Backend struct {
	mu       sync.Mutex
	queues   map[queueKey]*Queue
	gates    map[queueKey]*Gate
	global   *Gate
	counters *Counters
	locker   *Locker
}

var _ ports.Backend = (*Backend)(nil)

func NewBackend(clock ports.Clock) *Backend {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &Backend{
		queues:   map[queueKey]*Queue{},
		gates:    map[queueKey]*Gate{},
		global:   NewGate(),
		counters: NewCounters(clock),
		locker:   NewLocker(clock),
	}
}

func (b *Backend) Queue(account domain.AccountID, tier domain.Tier) ports.Queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := queueKey{account: account, tier: tier}
	if q, ok := b.queues[key]; ok {
		return q
	}
	q := NewQueue()
	b.queues[key] = q
	return q
}

func (b *Backend) Gate(account domain.AccountID, tier domain.Tier) ports.Gate {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := queueKey{account: account, tier: tier}
	if g, ok := b.gates[key]; ok {
		return g
	}
	g := NewGate()
	b.gates[key] = g
	return g
}

func (b *Backend) GlobalGate() ports.Gate {
	return b.global
}

func (b *Backend) Counters() ports.CounterStore {
	return b.counters
}

func (b *Backend) Locker() ports.Locker {
	return b.locker
}
