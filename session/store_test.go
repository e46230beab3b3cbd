package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T) (*Store, *RedisPersistence, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	p := NewRedisPersistence(rdb, "as")
	return NewStore(p, Config{TTL: time.Hour}), p, mr, rdb
}

func TestEncodeDecodeKeepsFlagsAndFields(t *testing.T) {
	now := time.Unix(1700000000, 0)
	in := &Session{
		ID:          "ignored",
		OwnerID:     "u1",
		UserAgent:   "curl/8.0",
		Origin:      "10.0.0.1",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		Revoked:     true,
		MFAVerified: true,
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data[0] != sessionFormatVersionCurrent || data[1] != flagRevoked|flagMFAVerified {
		t.Fatalf("unexpected header bytes %v", data[:2])
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != "" {
		t.Fatalf("expected id to stay out of the record, got %q", out.ID)
	}
	if out.OwnerID != "u1" || out.UserAgent != "curl/8.0" || out.Origin != "10.0.0.1" {
		t.Fatalf("unexpected decoded session %+v", out)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Fatalf("timestamps changed: %+v", out)
	}
	if !out.Revoked || !out.MFAVerified {
		t.Fatalf("flags lost: %+v", out)
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	good, err := Encode(&Session{OwnerID: "u1", ExpiresAt: time.Now()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cases := map[string][]byte{
		"empty":     nil,
		"version":   append([]byte{9}, good[1:]...),
		"truncated": good[:len(good)-3],
		"trailing":  append(append([]byte(nil), good...), 0),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(data); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestCreateThenIsValid(t *testing.T) {
	store, _, _, _ := newRedisStoreTest(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", "ua", "127.0.0.1", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID == "" || sess.Revoked {
		t.Fatalf("unexpected new session %+v", sess)
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != time.Hour {
		t.Fatalf("expected 1h lifetime, got %v", got)
	}

	ok, err := store.IsValid(ctx, sess.ID)
	if err != nil || !ok {
		t.Fatalf("IsValid = %v, %v", ok, err)
	}

	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.ID != sess.ID || loaded.OwnerID != "u1" || loaded.Origin != "127.0.0.1" {
		t.Fatalf("unexpected loaded session %+v", loaded)
	}
}

func TestUnknownSessionIsInvalidNotError(t *testing.T) {
	store, _, _, _ := newRedisStoreTest(t)

	ok, err := store.IsValid(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("IsValid(missing) = %v, %v", ok, err)
	}
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeIsIdempotentAndKeepsTTL(t *testing.T) {
	store, _, mr, _ := newRedisStoreTest(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", "ua", "127.0.0.1", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := mr.TTL("as:" + sess.ID)

	for i := 0; i < 2; i++ {
		if err := store.Revoke(ctx, sess.ID); err != nil {
			t.Fatalf("revoke #%d: %v", i+1, err)
		}
	}
	if err := store.Revoke(ctx, "missing"); err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}

	ok, err := store.IsValid(ctx, sess.ID)
	if err != nil || ok {
		t.Fatalf("expected revoked session to be invalid, got %v, %v", ok, err)
	}
	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !loaded.Revoked || !loaded.MFAVerified {
		t.Fatalf("expected revoked flag set and mfa flag kept, got %+v", loaded)
	}
	if after := mr.TTL("as:" + sess.ID); after <= 0 || after > before {
		t.Fatalf("expected TTL to be preserved, before=%v after=%v", before, after)
	}
}

func TestExpiredSessionIsInvalid(t *testing.T) {
	store, _, mr, _ := newRedisStoreTest(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", "", "", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	late := NewStore(store.persistence, Config{TTL: time.Hour, Now: func() time.Time {
		return sess.ExpiresAt.Add(time.Second)
	}})
	ok, err := late.IsValid(ctx, sess.ID)
	if err != nil || ok {
		t.Fatalf("expected session past expiry to be invalid, got %v, %v", ok, err)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected evicted key to read as not found, got %v", err)
	}
}

func TestRevokeAllRemovesOnlyOwnerSessions(t *testing.T) {
	store, _, _, rdb := newRedisStoreTest(t)
	ctx := context.Background()

	var mine []string
	for i := 0; i < 3; i++ {
		s, err := store.Create(ctx, "u1", "ua", "", false)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		mine = append(mine, s.ID)
	}
	other, err := store.Create(ctx, "u2", "ua", "", false)
	if err != nil {
		t.Fatalf("create other: %v", err)
	}

	removed, err := store.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	for _, id := range mine {
		if ok, _ := store.IsValid(ctx, id); ok {
			t.Fatalf("session %s survived revoke-all", id)
		}
	}
	if ok, _ := store.IsValid(ctx, other.ID); !ok {
		t.Fatal("expected other owner's session to stay valid")
	}
	if n, _ := rdb.Exists(ctx, "as:owner:u1").Result(); n != 0 {
		t.Fatal("expected owner index to be removed")
	}

	removed, err = store.RevokeAll(ctx, "u1")
	if err != nil || removed != 0 {
		t.Fatalf("second revoke-all = %d, %v", removed, err)
	}
}

func TestMarkRevokedRejectsForeignRecord(t *testing.T) {
	_, p, mr, _ := newRedisStoreTest(t)

	if err := mr.Set("as:legacy", "\x07garbage"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := p.MarkRevoked(context.Background(), "legacy")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestConcurrentRevokeAndValidateNeverSeeHalfState(t *testing.T) {
	store, _, _, _ := newRedisStoreTest(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", "ua", "", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := store.Revoke(ctx, sess.ID); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := store.Get(ctx, sess.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	if ok, _ := store.IsValid(ctx, sess.ID); ok {
		t.Fatal("expected session to end revoked")
	}
}

func TestBackendFailureWrapsUnavailable(t *testing.T) {
	store, _, mr, _ := newRedisStoreTest(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := store.Create(ctx, "u1", "", "", false); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from create, got %v", err)
	}
	if _, err := store.IsValid(ctx, "sid"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from IsValid, got %v", err)
	}
}
