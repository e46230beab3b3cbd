package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	revokeStatusNotFound    int64 = 0
	revokeStatusAlready     int64 = 1
	revokeStatusRevoked     int64 = 2
	revokeStatusInvalidBlob int64 = -1
)

// The revoke script flips the revoked bit in byte 2 (Lua indexing) while
// preserving the remaining TTL.
const revokeSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
if string.byte(data, 1) ~= tonumber(ARGV[1]) or #data < 2 then
  return -1
end
local flags = string.byte(data, 2)
if flags % 2 == 1 then
  return 1
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return 0
end
local updated = string.sub(data, 1, 1) .. string.char(flags + 1) .. string.sub(data, 3)
redis.call("SET", KEYS[1], updated, "PX", ttl)
return 2
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

const revokeAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  removed = removed + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return removed
`

var revokeAllLua = redis.NewScript(revokeAllScript)

// RedisPersistence stores sessions as binary records under prefix:<id>, with
// a per-owner index set used by revoke-all.
//
// The revoke-all script touches keys derived inside Lua, so on Redis Cluster
// every key of one owner must hash to the same slot; use a hash-tagged prefix
// there.
type RedisPersistence struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisPersistence returns a persistence over client. An empty prefix
// defaults to "as".
func NewRedisPersistence(client redis.UniversalClient, prefix string) *RedisPersistence {
	if prefix == "" {
		prefix = "as"
	}
	return &RedisPersistence{redis: client, prefix: prefix, now: time.Now}
}

func (p *RedisPersistence) key(sessionID string) string {
	return p.prefix + ":" + sessionID
}

func (p *RedisPersistence) ownerKey(ownerID string) string {
	return p.prefix + ":owner:" + ownerID
}

// Insert writes the record with a TTL matching its expiry and adds it to the
// owner index in one transaction.
func (p *RedisPersistence) Insert(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id is required")
	}
	ttl := s.ExpiresAt.Sub(p.now())
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	data, err := Encode(s)
	if err != nil {
		return err
	}

	ownerKey := p.ownerKey(s.OwnerID)
	_, err = p.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.key(s.ID), data, ttl)
		pipe.SAdd(ctx, ownerKey, s.ID)
		pipe.Expire(ctx, ownerKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads and decodes a record. An expired key reads as [ErrNotFound].
func (p *RedisPersistence) Get(ctx context.Context, id string) (*Session, error) {
	data, err := p.redis.Get(ctx, p.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	sess.ID = id
	return sess, nil
}

// MarkRevoked flips the revoked flag atomically.
func (p *RedisPersistence) MarkRevoked(ctx context.Context, id string) error {
	status, err := revokeSessionLua.Run(
		ctx,
		p.redis,
		[]string{p.key(id)},
		sessionFormatVersionCurrent,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch status {
	case revokeStatusNotFound:
		return ErrNotFound
	case revokeStatusAlready, revokeStatusRevoked:
		return nil
	case revokeStatusInvalidBlob:
		return fmt.Errorf("session %s: unsupported record format", id)
	default:
		return fmt.Errorf("session %s: unexpected revoke status %d", id, status)
	}
}

// DeleteAllForOwner removes every indexed record of ownerID and the index.
func (p *RedisPersistence) DeleteAllForOwner(ctx context.Context, ownerID string) (int, error) {
	removed, err := revokeAllLua.Run(
		ctx,
		p.redis,
		[]string{p.ownerKey(ownerID)},
		p.prefix+":",
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return removed, nil
}

// Ping measures round-trip latency to Redis.
func (p *RedisPersistence) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := p.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
