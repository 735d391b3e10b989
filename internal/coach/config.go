package coach

import (
	"time"

	"github.com/coachai/coach-backend/internal/live"
)

const (
	DefaultMaxDuration        = 15 * time.Minute
	DefaultMaxSessionsPerUser = 1

	persistTimeout   = 5 * time.Second
	staleRecordGrace = time.Minute
)

type Config struct {
	ConnectAttempts    int
	ConnectBackoff     time.Duration
	MaxDuration        time.Duration
	MaxSessionsPerUser int
}

func (c Config) withDefaults() Config {
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = live.DefaultConnectAttempts
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = live.DefaultConnectBackoff
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.MaxSessionsPerUser <= 0 {
		c.MaxSessionsPerUser = DefaultMaxSessionsPerUser
	}
	return c
}

func (c Config) retryPolicy() live.RetryPolicy {
	return live.RetryPolicy{Attempts: c.ConnectAttempts, Backoff: c.ConnectBackoff}
}
