package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSteps records the last accepted TOTP step per account under
// prefix:totp:accountID. It satisfies mfa.StepGuard.
type RedisSteps struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisSteps(client redis.UniversalClient, prefix string) *RedisSteps {
	if prefix == "" {
		prefix = "amc"
	}
	return &RedisSteps{redis: client, prefix: prefix}
}

func (s *RedisSteps) key(accountID string) string {
	return s.prefix + ":totp:" + accountID
}

// Claim stores step when it is newer than the recorded one. It reports
// false for a step at or below the last accepted step.
func (s *RedisSteps) Claim(ctx context.Context, accountID string, step int64, ttl time.Duration) (bool, error) {
	const maxRetries = 4
	key := s.key(accountID)

	for i := 0; i < maxRetries; i++ {
		var claimed bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			last, err := tx.Get(ctx, key).Int64()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			case step <= last:
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, strconv.FormatInt(step, 10), ttl)
				return nil
			})
			if err != nil {
				return err
			}
			claimed = true
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return claimed, nil
	}

	return false, nil
}

// MemorySteps is the in-process step guard.
type MemorySteps struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewMemorySteps() *MemorySteps {
	return &MemorySteps{last: make(map[string]int64)}
}

func (s *MemorySteps) Claim(_ context.Context, accountID string, step int64, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.last[accountID]; ok && step <= last {
		return false, nil
	}
	s.last[accountID] = step
	return true, nil
}
