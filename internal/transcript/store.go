package transcript

import (
	"context"
	"errors"

	"github.com/coachai/coach-backend/internal/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Transcript{})
}

// Save inserts the transcript, or replaces the existing one for the same
// session.
func (s *Store) Save(ctx context.Context, t *Transcript) error {
	if t.SessionID == "" {
		return errors.New("transcript: session id is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Turns == nil {
		t.Turns = shared.JSONSlice[Turn]{}
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "end_reason", "turns", "ended_at", "duration_ms", "updated_at",
		}),
	}).Create(t).Error
}

func (s *Store) GetBySessionID(ctx context.Context, sessionID string) (*Transcript, error) {
	var t Transcript
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListByUser returns the user's transcripts, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*Transcript, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	var out []*Transcript
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
