package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLookupSessionToken(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveSessionToken(ctx, "hash-1", "ses_1", "usr_1", expiresAt); err != nil {
		t.Fatalf("SaveSessionToken failed: %v", err)
	}

	sessionID, profileID, err := store.LookupSessionToken(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupSessionToken failed: %v", err)
	}
	if sessionID != "ses_1" || profileID != "usr_1" {
		t.Errorf("got session=%s profile=%s", sessionID, profileID)
	}
}

func TestLookupUnknownToken(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	if _, _, err := store.LookupSessionToken(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown token")
	}
}

func TestTokenExpiry(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveSessionToken(ctx, "hash-exp", "ses_1", "usr_1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveSessionToken failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, _, err := store.LookupSessionToken(ctx, "hash-exp"); err == nil {
		t.Error("expected error after expiry")
	}
}

func TestRevokeSessionToken(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveSessionToken(ctx, "hash-rev", "ses_1", "usr_1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveSessionToken failed: %v", err)
	}
	if err := store.RevokeSessionToken(ctx, "hash-rev"); err != nil {
		t.Fatalf("RevokeSessionToken failed: %v", err)
	}
	if _, _, err := store.LookupSessionToken(ctx, "hash-rev"); err == nil {
		t.Error("expected error after revoke")
	}
}

func TestTokensAreIsolated(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)
	if err := store.SaveSessionToken(ctx, "hash-a", "ses_a", "usr_a", expiresAt); err != nil {
		t.Fatalf("SaveSessionToken failed: %v", err)
	}
	if err := store.SaveSessionToken(ctx, "hash-b", "ses_b", "usr_b", expiresAt); err != nil {
		t.Fatalf("SaveSessionToken failed: %v", err)
	}

	if err := store.RevokeSessionToken(ctx, "hash-a"); err != nil {
		t.Fatalf("RevokeSessionToken failed: %v", err)
	}

	sessionID, profileID, err := store.LookupSessionToken(ctx, "hash-b")
	if err != nil {
		t.Fatalf("LookupSessionToken failed: %v", err)
	}
	if sessionID != "ses_b" || profileID != "usr_b" {
		t.Errorf("got session=%s profile=%s", sessionID, profileID)
	}
}
