package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/drawq/internal/ports"
	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// unlockScript deletes the lock only while it still holds our token.
var unlockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type Locker struct {
	client goredis.UniversalClient
	prefix string
}

var _ ports.Locker = (*Locker)(nil)

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (ports.Lock, bool, error) {
	token := uuid.NewString()
	full := l.prefix + ":" + key

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &heldLock{client: l.client, key: full, token: token}, true, nil
}

type heldLock struct {
	client goredis.UniversalClient
	key    string
	token  string
}

func (h *heldLock) Unlock(ctx context.Context) error {
	if err := unlockScript.Run(ctx, h.client, []string{h.key}, h.token).Err(); err != nil {
		return fmt.Errorf("unlock %s: %w", h.key, err)
	}
	return nil
}
