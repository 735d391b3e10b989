package coach

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/coachai/coach-backend/internal/live"
	"github.com/coachai/coach-backend/internal/persona"
	"github.com/coachai/coach-backend/internal/transport"
)

const kickoffText = "(The manager has joined the call. Start the conversation.)"

// Starter turns an accepted peer connection into a running coaching session.
type Starter struct {
	manager *Manager
	catalog *persona.Catalog
	log     *slog.Logger
}

func NewStarter(manager *Manager, catalog *persona.Catalog, log *slog.Logger) *Starter {
	if log == nil {
		log = slog.Default()
	}
	return &Starter{manager: manager, catalog: catalog, log: log.With("component", "coach_starter")}
}

func (st *Starter) Start(req transport.StartRequest) error {
	if req.Conn == nil {
		return errors.New("coach: start request has no connection")
	}

	cfg := transport.SessionConfig{}
	if req.Config != nil {
		cfg = *req.Config
	}

	scenario, err := st.catalog.Resolve(cfg.ScenarioID)
	if err != nil {
		return err
	}

	var userID, learner string
	if req.UserContext != nil {
		userID = req.UserContext.UserID
		learner = req.UserContext.Name
	}

	p := Params{
		ID:       req.SessionID,
		UserID:   userID,
		Scenario: scenario,
		Setup:    SetupFor(scenario, cfg, learner),
	}
	if scenario.OpeningLine != "" {
		p.Kickoff = kickoffText
	}

	s, err := st.manager.CreateSession(req.Conn, p)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		s.Close(ReasonEndedByServer)
		return fmt.Errorf("start coaching session: %w", err)
	}
	return nil
}

// SetupFor builds the live session setup for a scenario. Explicit voice and
// language choices override the scenario's defaults.
func SetupFor(s persona.Scenario, cfg transport.SessionConfig, learnerName string) live.SetupOptions {
	opts := live.SetupOptions{
		SystemInstruction:   persona.BuildInstruction(s, learnerName, persona.ParseDifficulty(cfg.Difficulty)),
		Voice:               s.Voice,
		Language:            s.Language,
		InputTranscription:  true,
		OutputTranscription: true,
	}
	if cfg.Voice != "" {
		opts.Voice = cfg.Voice
	}
	if cfg.Language != "" {
		opts.Language = cfg.Language
	}
	return opts
}
