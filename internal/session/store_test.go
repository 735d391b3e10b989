package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coachai/coach-backend/internal/shared"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client), mr
}

func TestStore_CreateAndGet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	rec := &Record{UserID: "u1", ScenarioID: "feedback"}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected generated id")
	}
	if rec.Status != StatusActive {
		t.Errorf("expected active, got %s", rec.Status)
	}
	if ttl := mr.TTL(rec.RedisKey()); ttl != recordTTL {
		t.Errorf("expected TTL %v, got %v", recordTTL, ttl)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "u1" || got.ScenarioID != "feedback" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_TouchAndEnd(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := &Record{ID: "s1", UserID: "u1", ScenarioID: "feedback"}
	store.Create(ctx, rec)

	if err := store.Touch(ctx, "s1", 3); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ := store.Get(ctx, "s1")
	if got.Turns != 3 {
		t.Errorf("expected 3 turns, got %d", got.Turns)
	}

	ended, err := store.End(ctx, "s1", StatusEnded, "client_hangup", 4)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.Status != StatusEnded || ended.EndReason != "client_hangup" || ended.EndedAt == nil || ended.Turns != 4 {
		t.Errorf("unexpected ended record %+v", ended)
	}

	active, _ := store.ActiveForUser(ctx, "u1")
	if len(active) != 0 {
		t.Errorf("expected no active sessions after End, got %d", len(active))
	}

	if err := store.Touch(ctx, "missing", 1); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ActiveForUser(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	store.Create(ctx, &Record{ID: "a", UserID: "u1"})
	store.Create(ctx, &Record{ID: "b", UserID: "u1"})
	store.Create(ctx, &Record{ID: "c", UserID: "u2"})

	active, err := store.ActiveForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveForUser: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active sessions, got %d", len(active))
	}

	mr.Del(recordKey("a"))
	active, _ = store.ActiveForUser(ctx, "u1")
	if len(active) != 1 || active[0].ID != "b" {
		t.Errorf("expected only b active, got %+v", active)
	}
	if ok, _ := mr.SIsMember(activeKey("u1"), "a"); ok {
		t.Error("expired id should be pruned from the active set")
	}
}

func TestStore_CountersAndStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Increment(ctx, "feedback", map[Counter]int64{
		CounterSessions:   1,
		CounterTurns:      6,
		CounterDurationMs: 60000,
	})
	store.Increment(ctx, "feedback", map[Counter]int64{
		CounterSessions:   1,
		CounterTurns:      4,
		CounterDurationMs: 30000,
		CounterErrors:     1,
	})
	store.IncrementCounter(ctx, "feedback", CounterInterruptions, 2)
	store.IncrementCounter(ctx, "feedback", CounterConnectRetries, 1)
	store.TrackUniqueUser(ctx, "feedback", "u1")
	store.TrackUniqueUser(ctx, "feedback", "u1")
	store.TrackUniqueUser(ctx, "feedback", "u2")

	stats, err := store.Stats(ctx, "feedback", 1)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 hour of stats, got %d", len(stats))
	}
	h := stats[0]
	if h.Sessions != 2 || h.Turns != 10 || h.Interruptions != 2 || h.ConnectRetries != 1 || h.Errors != 1 {
		t.Errorf("unexpected counters %+v", h)
	}
	if h.UniqueUsers != 2 {
		t.Errorf("expected 2 unique users, got %d", h.UniqueUsers)
	}

	sum, err := store.Summary(ctx, "feedback", 24)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.AvgDurationMs != 45000 {
		t.Errorf("expected avg duration 45000, got %d", sum.AvgDurationMs)
	}
	if sum.AvgTurns != 5 {
		t.Errorf("expected avg turns 5, got %f", sum.AvgTurns)
	}
	if sum.ErrorRatePct != 50 {
		t.Errorf("expected error rate 50%%, got %f", sum.ErrorRatePct)
	}
}

func TestStore_StatsAcrossHours(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	store.now = func() time.Time { return base.Add(-2 * time.Hour) }
	store.IncrementCounter(ctx, "termination", CounterSessions, 1)
	store.now = func() time.Time { return base }
	store.IncrementCounter(ctx, "termination", CounterSessions, 3)

	stats, _ := store.Stats(ctx, "termination", 3)
	if len(stats) != 2 {
		t.Fatalf("expected 2 hours with data, got %d", len(stats))
	}
	if stats[0].Hour != 10 || stats[0].Sessions != 3 {
		t.Errorf("expected newest hour first, got %+v", stats[0])
	}
	if stats[1].Hour != 8 || stats[1].Sessions != 1 {
		t.Errorf("unexpected older hour %+v", stats[1])
	}

	stats, _ = store.Stats(ctx, "termination", 1)
	if len(stats) != 1 {
		t.Errorf("expected window of 1 hour, got %d entries", len(stats))
	}
}

func TestStore_SummaryUniqueUsersAcrossHours(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	store.now = func() time.Time { return base.Add(-time.Hour) }
	store.TrackUniqueUser(ctx, "feedback", "alice")
	store.now = func() time.Time { return base }
	store.TrackUniqueUser(ctx, "feedback", "alice")
	store.TrackUniqueUser(ctx, "feedback", "bob")

	stats, _ := store.Stats(ctx, "feedback", 24)
	if len(stats) != 2 || stats[0].UniqueUsers != 2 || stats[1].UniqueUsers != 1 {
		t.Fatalf("unexpected hourly stats %+v", stats)
	}

	sum, err := store.Summary(ctx, "feedback", 24)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.UniqueUsers != 2 {
		t.Errorf("expected 2 unique users over the window, got %d", sum.UniqueUsers)
	}

	sum, _ = store.Summary(ctx, "feedback", 1)
	if sum.UniqueUsers != 2 {
		t.Errorf("expected 2 unique users in the last hour, got %d", sum.UniqueUsers)
	}
}

func TestStore_SummaryEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	sum, err := store.Summary(context.Background(), "nothing", 24)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Sessions != 0 || sum.AvgDurationMs != 0 || sum.ErrorRatePct != 0 || sum.UniqueUsers != 0 {
		t.Errorf("expected zero summary, got %+v", sum)
	}
}
