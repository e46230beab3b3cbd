package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

var (
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// Challenge is one open MFA login attempt.
type Challenge struct {
	AccountID string
	ExpiresAt int64
	Attempts  uint16
}

// Challenges persists open MFA challenges. Expired and consumed records
// read as ErrChallengeNotFound.
type Challenges interface {
	Save(ctx context.Context, id string, record *Challenge, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Challenge, error)
	// Consume deletes the record and reports whether this call removed it.
	Consume(ctx context.Context, id string) (bool, error)
	// RecordFailure counts one wrong code. At maxAttempts the record is
	// deleted and exceeded is true.
	RecordFailure(ctx context.Context, id string, maxAttempts int) (exceeded bool, err error)
}

// RedisChallenges stores challenges under prefix:id.
type RedisChallenges struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisChallenges(client redis.UniversalClient, prefix string, now func() time.Time) *RedisChallenges {
	if prefix == "" {
		prefix = "amc"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisChallenges{redis: client, prefix: prefix, now: now}
}

func (s *RedisChallenges) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisChallenges) Save(ctx context.Context, id string, record *Challenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

func (s *RedisChallenges) Get(ctx context.Context, id string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(id)).Result()
		return nil, ErrChallengeNotFound
	}
	return record, nil
}

func (s *RedisChallenges) Consume(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

func (s *RedisChallenges) RecordFailure(ctx context.Context, id string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			record.Attempts++
			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			if int(record.Attempts) >= maxAttempts || ttl <= 0 {
				exceeded = int(record.Attempts) >= maxAttempts
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				if !exceeded {
					return redis.Nil
				}
				return nil
			}

			updated, err := encodeChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrChallengeNotFound
			}
			return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrChallengeNotFound
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	if len(record.AccountID) > 65535 {
		return nil, errors.New("mfa challenge account id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid mfa challenge version")
	}

	record := &Challenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	account := make([]byte, n)
	if _, err := io.ReadFull(reader, account); err != nil {
		return nil, err
	}
	record.AccountID = string(account)

	return record, nil
}

// MemoryChallenges keeps challenges in process memory.
type MemoryChallenges struct {
	mu      sync.Mutex
	records map[string]Challenge
	now     func() time.Time
}

func NewMemoryChallenges(now func() time.Time) *MemoryChallenges {
	if now == nil {
		now = time.Now
	}
	return &MemoryChallenges{records: make(map[string]Challenge), now: now}
}

// live returns the record for id, dropping it when expired. Callers hold mu.
func (s *MemoryChallenges) live(id string) (Challenge, bool) {
	rec, ok := s.records[id]
	if ok && s.now().Unix() > rec.ExpiresAt {
		delete(s.records, id)
		return Challenge{}, false
	}
	return rec, ok
}

func (s *MemoryChallenges) Save(_ context.Context, id string, record *Challenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = *record
	return nil
}

func (s *MemoryChallenges) Get(_ context.Context, id string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(id)
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return &rec, nil
}

func (s *MemoryChallenges) Consume(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(id); !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *MemoryChallenges) RecordFailure(_ context.Context, id string, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(id)
	if !ok {
		return false, ErrChallengeNotFound
	}
	rec.Attempts++
	if int(rec.Attempts) >= maxAttempts {
		delete(s.records, id)
		return true, nil
	}
	s.records[id] = rec
	return false, nil
}
