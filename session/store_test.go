package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, "ses"), mr, rdb
}

func testSession(id string) *Session {
	now := time.Now()
	return &Session{
		SessionID:  id,
		UserID:     "u-1",
		Kind:       KindPersistent,
		MFAEnabled: true,
		AMR:        []string{"app"},
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(time.Hour).Unix(),
	}
}

func TestEncodeDecodeKeepsClaimsRelevantFields(t *testing.T) {
	in := testSession("sid-1")
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.UserID != in.UserID || out.Kind != in.Kind || !out.MFAEnabled || len(out.AMR) != 1 || out.AMR[0] != "app" {
		t.Fatalf("decoded session mismatch: %+v", out)
	}
	if out.ExpiresAt != in.ExpiresAt || out.CreatedAt != in.CreatedAt {
		t.Fatalf("timestamps mismatch: %+v", out)
	}

	if _, err := Decode(append(data, 0)); err == nil {
		t.Fatal("expected trailing bytes to be rejected")
	}
	if _, err := Decode(data[:len(data)-3]); err == nil {
		t.Fatal("expected truncated payload to be rejected")
	}
}

func TestSaveGetDelete(t *testing.T) {
	store, _, rdb := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession("sid-1")

	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SessionID != "sid-1" || got.UserID != "u-1" {
		t.Fatalf("unexpected session %+v", got)
	}

	existed, err := store.Delete(ctx, "sid-1")
	if err != nil || !existed {
		t.Fatalf("first delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "sid-1")
	if err != nil || existed {
		t.Fatalf("second delete must be a no-op: existed=%v err=%v", existed, err)
	}
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	members, err := rdb.SMembers(ctx, store.userKey("u-1")).Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty user index, got %v", members)
	}
}

func TestGetRemovesExpiredRecord(t *testing.T) {
	store, _, rdb := newSessionStoreTest(t)
	ctx := context.Background()
	now := time.Now()
	store.WithClock(func() time.Time { return now.Add(2 * time.Hour) })

	if err := store.Save(ctx, testSession("sid-old"), 24*time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Get(ctx, "sid-old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if n, _ := rdb.Exists(ctx, store.key("sid-old")).Result(); n != 0 {
		t.Fatal("expired record must be deleted")
	}
}

func TestDeleteAllForUser(t *testing.T) {
	store, mr, _ := newSessionStoreTest(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, testSession(id), time.Hour); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	other := testSession("x")
	other.UserID = "u-2"
	if err := store.Save(ctx, other, time.Hour); err != nil {
		t.Fatalf("save other: %v", err)
	}

	n, err := store.DeleteAllForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 sessions removed, got %d", n)
	}
	if _, err := store.Get(ctx, "x"); err != nil {
		t.Fatalf("other user's session must survive: %v", err)
	}
	if mr.Exists(store.userKey("u-1")) {
		t.Fatal("user index must be removed")
	}
}

func TestActiveSessionIDsPrunesExpiredRecords(t *testing.T) {
	store, mr, _ := newSessionStoreTest(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("long"), time.Hour); err != nil {
		t.Fatalf("save long: %v", err)
	}
	if err := store.Save(ctx, testSession("short"), 10*time.Minute); err != nil {
		t.Fatalf("save short: %v", err)
	}
	if err := store.Save(ctx, testSession("mid"), 30*time.Minute); err != nil {
		t.Fatalf("save mid: %v", err)
	}

	ids, err := store.ActiveSessionIDs(ctx, "u-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(ids) != 3 || ids[0] != "long" || ids[1] != "mid" || ids[2] != "short" {
		t.Fatalf("unexpected ids %v", ids)
	}

	mr.FastForward(15 * time.Minute)

	ids, err = store.ActiveSessionIDs(ctx, "u-1")
	if err != nil {
		t.Fatalf("active after expiry: %v", err)
	}
	if len(ids) != 2 || ids[0] != "long" || ids[1] != "mid" {
		t.Fatalf("expired session must be dropped, got %v", ids)
	}
	if ok, _ := mr.SIsMember(store.userKey("u-1"), "short"); ok {
		t.Fatal("stale index entry must be pruned")
	}

	none, err := store.ActiveSessionIDs(ctx, "nobody")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("unknown user: ids=%v err=%v", none, err)
	}
}

func TestSaveRejectsIncompleteSession(t *testing.T) {
	store, _, _ := newSessionStoreTest(t)
	if err := store.Save(context.Background(), &Session{SessionID: "s"}, time.Hour); err == nil {
		t.Fatal("expected error for missing user id")
	}
	if err := store.Save(context.Background(), testSession("s"), 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestBackendFailureIsWrapped(t *testing.T) {
	store, mr, _ := newSessionStoreTest(t)
	mr.Close()
	_, err := store.Get(context.Background(), "sid")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
