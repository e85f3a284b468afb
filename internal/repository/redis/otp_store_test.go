package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"enquiry-service/internal/client"
	"enquiry-service/internal/models"
	"enquiry-service/internal/repository"
)

func newTestStore(t *testing.T) (*OTPStore, *miniredis.Miniredis, *client.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromConn(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })
	return NewOTPStore(rc), mr, rc
}

func TestSaveSetsStorageTTL(t *testing.T) {
	store, _, rc := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	err := store.Save(ctx, &models.OTPRecord{
		Phone:     "+919876543210",
		CodeKey:   "abc",
		ExpiresAt: now.Add(10 * time.Minute),
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	ttl, err := rc.TTL(ctx, "otp:+919876543210:abc")
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 9*time.Minute || ttl > 10*time.Minute {
		t.Fatalf("ttl = %v, want about 10m", ttl)
	}
}

func TestFindChecksClockNotEviction(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	expires := now.Add(5 * time.Minute)

	_ = store.Save(ctx, &models.OTPRecord{Phone: "+1", CodeKey: "k", ExpiresAt: expires})

	rec, err := store.Find(ctx, "+1", "k", now)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rec.ExpiresAt.UnixMilli() != expires.UnixMilli() {
		t.Fatalf("ExpiresAt = %v, want %v", rec.ExpiresAt, expires)
	}

	// the key still exists, but the clock says it has expired
	if _, err := store.Find(ctx, "+1", "k", expires); !errors.Is(err, repository.ErrOTPNotFound) {
		t.Fatalf("Find at expiry: err = %v, want ErrOTPNotFound", err)
	}
}

func TestKeyEvictedAfterTTL(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = store.Save(ctx, &models.OTPRecord{Phone: "+1", CodeKey: "k", ExpiresAt: now.Add(time.Minute)})
	mr.FastForward(2 * time.Minute)

	if mr.Exists("otp:+1:k") {
		t.Fatal("key still present after TTL")
	}
}

func TestConsumeOnce(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = store.Save(ctx, &models.OTPRecord{Phone: "+1", CodeKey: "k", ExpiresAt: now.Add(time.Minute)})

	ok, err := store.Consume(ctx, "+1", "k", now)
	if err != nil || !ok {
		t.Fatalf("first Consume = %v, %v; want true, nil", ok, err)
	}
	ok, err = store.Consume(ctx, "+1", "k", now)
	if err != nil || ok {
		t.Fatalf("second Consume = %v, %v; want false, nil", ok, err)
	}
	if mr.Exists("otp:+1:k") {
		t.Fatal("key not deleted by consume")
	}
}

func TestConsumeExpiredLeavesKey(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	expires := now.Add(time.Minute)

	_ = store.Save(ctx, &models.OTPRecord{Phone: "+1", CodeKey: "k", ExpiresAt: expires})

	ok, err := store.Consume(ctx, "+1", "k", expires.Add(time.Second))
	if err != nil || ok {
		t.Fatalf("Consume after expiry = %v, %v; want false, nil", ok, err)
	}
	if !mr.Exists("otp:+1:k") {
		t.Fatal("expired key should be left for TTL eviction")
	}
}

func TestSaveSkipsAlreadyExpired(t *testing.T) {
	store, mr, _ := newTestStore(t)

	err := store.Save(context.Background(), &models.OTPRecord{
		Phone:     "+1",
		CodeKey:   "k",
		ExpiresAt: time.Now().Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if mr.Exists("otp:+1:k") {
		t.Fatal("expired record was written")
	}
}
