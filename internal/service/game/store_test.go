package game

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/cheese-board/internal/chess/session"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb, err := DialRedis(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, time.Hour), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	snap := session.Snapshot{
		ID:      "g1",
		Config:  session.Config{Mode: session.ModeLocal},
		Moves:   []string{"e2e4", "e7e5"},
		Cursor:  1,
		Active:  true,
		Version: 3,
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL(snapshotKey("g1")); ttl != time.Hour {
		t.Fatalf("ttl = %s", ttl)
	}

	got, err := store.Load(ctx, "g1")
	if err != nil || got == nil {
		t.Fatalf("Load: %v, %v", got, err)
	}
	if got.Version != 3 || len(got.Moves) != 2 || got.Moves[1] != "e7e5" {
		t.Fatalf("loaded = %+v", got)
	}

	ids, err := store.IDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "g1" {
		t.Fatalf("IDs = %v, %v", ids, err)
	}

	if err := store.Delete(ctx, "g1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, err := store.Load(ctx, "g1"); err != nil || got != nil {
		t.Fatalf("Load after delete = %v, %v", got, err)
	}
}

func TestRedisStoreRejectsOlderVersion(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, session.Snapshot{ID: "g2", Version: 5, Moves: []string{"d2d4"}}); err != nil {
		t.Fatalf("Save v5: %v", err)
	}
	if err := store.Save(ctx, session.Snapshot{ID: "g2", Version: 4}); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("Save v4 = %v, want ErrStaleSnapshot", err)
	}
	got, _ := store.Load(ctx, "g2")
	if got.Version != 5 {
		t.Fatalf("stored version = %d", got.Version)
	}
	if err := store.Save(ctx, session.Snapshot{ID: "g2", Version: 5}); err != nil {
		t.Fatalf("same version rewrite: %v", err)
	}
}

func TestRedisStorePrunesExpiredIDs(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := store.Save(ctx, session.Snapshot{ID: id, Version: 1}); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	mr.Del(snapshotKey("a"))

	ids, err := store.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("IDs = %v", ids)
	}
	if ok, _ := mr.SIsMember(snapshotIndexKey, "a"); ok {
		t.Fatalf("expired id still indexed")
	}
}

func TestDialRedisErrors(t *testing.T) {
	if _, err := DialRedis(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := DialRedis(context.Background(), "http://localhost"); err == nil {
		t.Fatalf("expected error for bad scheme")
	}
}
