package transcript

import (
	"time"

	"github.com/coachai/coach-backend/internal/shared"
)

type Speaker string

const (
	SpeakerUser    Speaker = "user"
	SpeakerPersona Speaker = "persona"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

type Turn struct {
	Speaker     Speaker   `json:"speaker"`
	Text        string    `json:"text"`
	At          time.Time `json:"at"`
	Interrupted bool      `json:"interrupted,omitempty"`
}

// Transcript is the finished record of one coaching call, kept as input for
// later scoring.
type Transcript struct {
	ID         string                 `gorm:"primaryKey" json:"id"`
	SessionID  string                 `gorm:"not null;uniqueIndex" json:"session_id"`
	UserID     string                 `gorm:"not null;index" json:"user_id"`
	ScenarioID string                 `gorm:"index" json:"scenario_id"`
	Status     Status                 `gorm:"not null" json:"status"`
	EndReason  string                 `json:"end_reason,omitempty"`
	Turns      shared.JSONSlice[Turn] `gorm:"type:text" json:"turns"`
	StartedAt  time.Time              `json:"started_at"`
	EndedAt    time.Time              `json:"ended_at"`
	DurationMs int64                  `json:"duration_ms"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

type Summary struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	ScenarioID string    `json:"scenario_id"`
	Status     Status    `json:"status"`
	TurnCount  int       `json:"turn_count"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

func (t *Transcript) Summary() Summary {
	return Summary{
		ID:         t.ID,
		SessionID:  t.SessionID,
		ScenarioID: t.ScenarioID,
		Status:     t.Status,
		TurnCount:  len(t.Turns),
		StartedAt:  t.StartedAt,
		DurationMs: t.DurationMs,
	}
}
