package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/coachai/coach-backend/internal/shared"
	"github.com/redis/go-redis/v9"
)

const (
	recordTTL = 24 * time.Hour
	statsTTL  = 7 * 24 * time.Hour
	dateFmt   = "2006-01-02"
)

type Store struct {
	redis *redis.Client
	now   func() time.Time
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient, now: time.Now}
}

func (s *Store) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = shared.NewID("sess_")
	}
	now := s.now()
	rec.Status = StatusActive
	rec.StartedAt = now
	rec.LastActiveAt = now

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, rec.RedisKey(), data, recordTTL)
	pipe.SAdd(ctx, activeKey(rec.UserID), rec.ID)
	pipe.Expire(ctx, activeKey(rec.UserID), recordTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.redis.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, rec.RedisKey(), data, recordTTL).Err()
}

// Touch records activity and the current turn count.
func (s *Store) Touch(ctx context.Context, id string, turns int) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.LastActiveAt = s.now()
	rec.Turns = turns
	return s.save(ctx, rec)
}

func (s *Store) End(ctx context.Context, id string, status Status, reason string, turns int) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec.Status = status
	rec.EndReason = reason
	rec.EndedAt = &now
	rec.LastActiveAt = now
	rec.Turns = turns

	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.redis.SRem(ctx, activeKey(rec.UserID), id).Err(); err != nil {
		return nil, err
	}
	return rec, nil
}

// ActiveForUser lists the user's active records and prunes ids whose
// record has expired or ended.
func (s *Store) ActiveForUser(ctx context.Context, userID string) ([]*Record, error) {
	ids, err := s.redis.SMembers(ctx, activeKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	var active []*Record
	var stale []any
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Status != StatusActive {
			stale = append(stale, id)
			continue
		}
		active = append(active, rec)
	}

	if len(stale) > 0 {
		s.redis.SRem(ctx, activeKey(userID), stale...)
	}
	return active, nil
}

func (s *Store) IncrementCounter(ctx context.Context, scenarioID string, counter Counter, value int64) error {
	return s.Increment(ctx, scenarioID, map[Counter]int64{counter: value})
}

// Increment adds several counters to the current UTC hour in one round trip.
func (s *Store) Increment(ctx context.Context, scenarioID string, values map[Counter]int64) error {
	if len(values) == 0 {
		return nil
	}
	now := s.now().UTC()
	key := StatsRedisKey(scenarioID, now.Format(dateFmt), now.Hour())

	pipe := s.redis.Pipeline()
	for counter, v := range values {
		if v != 0 {
			pipe.HIncrBy(ctx, key, string(counter), v)
		}
	}
	pipe.Expire(ctx, key, statsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) TrackUniqueUser(ctx context.Context, scenarioID, userID string) error {
	now := s.now().UTC()
	key := usersRedisKey(scenarioID, now.Format(dateFmt), now.Hour())

	added, err := s.redis.SAdd(ctx, key, userID).Result()
	if err != nil {
		return err
	}
	s.redis.Expire(ctx, key, statsTTL)

	if added > 0 {
		return s.IncrementCounter(ctx, scenarioID, counterUniqueUsers, 1)
	}
	return nil
}

// Stats returns one entry per hour with data, newest first.
func (s *Store) Stats(ctx context.Context, scenarioID string, hours int) ([]*HourlyStats, error) {
	now := s.now().UTC()
	var stats []*HourlyStats

	for i := 0; i < hours; i++ {
		t := now.Add(-time.Duration(i) * time.Hour)
		key := StatsRedisKey(scenarioID, t.Format(dateFmt), t.Hour())

		data, err := s.redis.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read stats %s: %w", key, err)
		}
		if len(data) == 0 {
			continue
		}

		field := func(c Counter) int64 {
			v, _ := strconv.ParseInt(data[string(c)], 10, 64)
			return v
		}

		stats = append(stats, &HourlyStats{
			ScenarioID:      scenarioID,
			Date:            t.Format(dateFmt),
			Hour:            t.Hour(),
			Sessions:        field(CounterSessions),
			Turns:           field(CounterTurns),
			Interruptions:   field(CounterInterruptions),
			ConnectRetries:  field(CounterConnectRetries),
			Errors:          field(CounterErrors),
			TotalDurationMs: field(CounterDurationMs),
			UniqueUsers:     field(counterUniqueUsers),
		})
	}

	return stats, nil
}

func (s *Store) Summary(ctx context.Context, scenarioID string, hours int) (*Summary, error) {
	stats, err := s.Stats(ctx, scenarioID, hours)
	if err != nil {
		return nil, err
	}

	sum := &Summary{ScenarioID: scenarioID, Hours: hours}
	var totalDuration int64
	for _, h := range stats {
		sum.Sessions += h.Sessions
		sum.Turns += h.Turns
		sum.Interruptions += h.Interruptions
		sum.ConnectRetries += h.ConnectRetries
		sum.Errors += h.Errors
		totalDuration += h.TotalDurationMs
	}

	users, err := s.uniqueUsers(ctx, scenarioID, hours)
	if err != nil {
		return nil, err
	}
	sum.UniqueUsers = users

	if sum.Sessions > 0 {
		sum.AvgDurationMs = totalDuration / sum.Sessions
		sum.AvgTurns = float64(sum.Turns) / float64(sum.Sessions)
		sum.ErrorRatePct = float64(sum.Errors) / float64(sum.Sessions) * 100
	}
	return sum, nil
}

// uniqueUsers counts distinct users over the window. Per-hour counts cannot
// be added up since one user may be active in several hours.
func (s *Store) uniqueUsers(ctx context.Context, scenarioID string, hours int) (int64, error) {
	if hours <= 0 {
		return 0, nil
	}
	now := s.now().UTC()
	keys := make([]string, 0, hours)
	for i := 0; i < hours; i++ {
		t := now.Add(-time.Duration(i) * time.Hour)
		keys = append(keys, usersRedisKey(scenarioID, t.Format(dateFmt), t.Hour()))
	}

	members, err := s.redis.SUnion(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("read unique users: %w", err)
	}
	return int64(len(members)), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
