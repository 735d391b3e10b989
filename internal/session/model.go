package session

import (
	"strconv"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
	StatusError  Status = "error"
)

// Record is the lifecycle record of one coaching call.
type Record struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	ScenarioID   string     `json:"scenario_id"`
	Status       Status     `json:"status"`
	EndReason    string     `json:"end_reason,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Turns        int        `json:"turns"`
}

func (r *Record) RedisKey() string {
	return recordKey(r.ID)
}

type Counter string

const (
	CounterSessions       Counter = "sessions"
	CounterTurns          Counter = "turns"
	CounterInterruptions  Counter = "interruptions"
	CounterConnectRetries Counter = "connect_retries"
	CounterErrors         Counter = "errors"
	CounterDurationMs     Counter = "total_duration_ms"
	counterUniqueUsers    Counter = "unique_users"
)

type HourlyStats struct {
	ScenarioID      string `json:"scenario_id"`
	Date            string `json:"date"`
	Hour            int    `json:"hour"`
	Sessions        int64  `json:"sessions"`
	Turns           int64  `json:"turns"`
	Interruptions   int64  `json:"interruptions"`
	ConnectRetries  int64  `json:"connect_retries"`
	Errors          int64  `json:"errors"`
	TotalDurationMs int64  `json:"total_duration_ms"`
	UniqueUsers     int64  `json:"unique_users"`
}

type Summary struct {
	ScenarioID     string  `json:"scenario_id"`
	Hours          int     `json:"hours"`
	Sessions       int64   `json:"sessions"`
	Turns          int64   `json:"turns"`
	Interruptions  int64   `json:"interruptions"`
	ConnectRetries int64   `json:"connect_retries"`
	Errors         int64   `json:"errors"`
	UniqueUsers    int64   `json:"unique_users"`
	AvgDurationMs  int64   `json:"avg_duration_ms"`
	AvgTurns       float64 `json:"avg_turns"`
	ErrorRatePct   float64 `json:"error_rate_pct"`
}

const keyPrefix = "coach:"

func recordKey(id string) string {
	return keyPrefix + "session:" + id
}

func activeKey(userID string) string {
	return keyPrefix + "user:" + userID + ":active"
}

func StatsRedisKey(scenarioID, date string, hour int) string {
	return keyPrefix + "scenario:" + scenarioID + ":stats:" + date + ":" + strconv.Itoa(hour)
}

func usersRedisKey(scenarioID, date string, hour int) string {
	return keyPrefix + "scenario:" + scenarioID + ":users:" + date + ":" + strconv.Itoa(hour)
}
