package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
	goredis "github.com/go-redis/redis/v8"
)

// enqueueScript appends ARGV[1] unless the list already holds ARGV[2]
// entries and ARGV[3] does not allow overflow. It returns the new length, or
// -1 when the entry was refused.
var enqueueScript = goredis.NewScript(`
local n = redis.call('LLEN', KEYS[1])
local capacity = tonumber(ARGV[2])
if ARGV[3] == '0' and capacity > 0 and n >= capacity then
  return -1
end
return redis.call('RPUSH', KEYS[1], ARGV[1])
`)

// blockStep is how long one BLPOP waits before ctx is checked again.
const blockStep = time.Second

type Queue struct {
	client goredis.UniversalClient
	key    string
}

var _ ports.Queue = (*Queue)(nil)

func (q *Queue) Enqueue(ctx context.Context, entry domain.QueueEntry, capacity int, allowOverflow bool) (int, bool, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, false, fmt.Errorf("encode entry %s: %w", entry.TaskID, err)
	}

	overflow := "0"
	if allowOverflow {
		overflow = "1"
	}
	n, err := enqueueScript.Run(ctx, q.client, []string{q.key}, data, capacity, overflow).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("push entry %s: %w", entry.TaskID, err)
	}
	if n < 0 {
		return 0, false, nil
	}
	return int(n), true, nil
}

func (q *Queue) Dequeue(ctx context.Context) (domain.QueueEntry, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.QueueEntry{}, err
		}

		values, err := q.client.BLPop(ctx, blockStep, q.key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return domain.QueueEntry{}, ctx.Err()
			}
			return domain.QueueEntry{}, fmt.Errorf("pop entry: %w", err)
		}
		return decodeEntry(values[1])
	}
}

func (q *Queue) TryDequeue(ctx context.Context) (domain.QueueEntry, bool, error) {
	value, err := q.client.LPop(ctx, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return domain.QueueEntry{}, false, nil
	}
	if err != nil {
		return domain.QueueEntry{}, false, fmt.Errorf("pop entry: %w", err)
	}

	entry, err := decodeEntry(value)
	if err != nil {
		return domain.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (q *Queue) PushFront(ctx context.Context, entry domain.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", entry.TaskID, err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("push entry %s to front: %w", entry.TaskID, err)
	}
	return nil
}

func (q *Queue) Count(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return int(n), nil
}

func (q *Queue) Contains(ctx context.Context, id domain.TaskID) (bool, error) {
	raw, err := q.find(ctx, id)
	return raw != "", err
}

func (q *Queue) Remove(ctx context.Context, id domain.TaskID) (bool, error) {
	raw, err := q.find(ctx, id)
	if err != nil || raw == "" {
		return false, err
	}

	removed, err := q.client.LRem(ctx, q.key, 1, raw).Result()
	if err != nil {
		return false, fmt.Errorf("remove entry %s: %w", id, err)
	}
	return removed > 0, nil
}

func (q *Queue) find(ctx context.Context, id domain.TaskID) (string, error) {
	values, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return "", fmt.Errorf("list entries: %w", err)
	}

	for _, value := range values {
		entry, err := decodeEntry(value)
		if err != nil {
			continue
		}
		if entry.TaskID == id {
			return value, nil
		}
	}
	return "", nil
}

func decodeEntry(value string) (domain.QueueEntry, error) {
	var entry domain.QueueEntry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return domain.QueueEntry{}, fmt.Errorf("decode entry: %w", err)
	}
	return entry, nil
}
