package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachai/coach-backend/internal/audio"
	"github.com/coachai/coach-backend/internal/live"
	"github.com/coachai/coach-backend/internal/persona"
	"github.com/coachai/coach-backend/internal/session"
	"github.com/coachai/coach-backend/internal/shared"
	"github.com/coachai/coach-backend/internal/transcript"
	"github.com/coachai/coach-backend/internal/transport"
	"github.com/google/uuid"
)

const (
	browserSampleRate = 48000
	browserChannels   = 1
	browserFrameMs    = 20
)

// Recorder keeps the lifecycle record and aggregate counters of a call.
type Recorder interface {
	Create(ctx context.Context, rec *session.Record) error
	Touch(ctx context.Context, id string, turns int) error
	End(ctx context.Context, id string, status session.Status, reason string, turns int) (*session.Record, error)
	Increment(ctx context.Context, scenarioID string, values map[session.Counter]int64) error
	TrackUniqueUser(ctx context.Context, scenarioID, userID string) error
	ActiveForUser(ctx context.Context, userID string) ([]*session.Record, error)
}

type TranscriptSaver interface {
	Save(ctx context.Context, t *transcript.Transcript) error
}

type frameDecoder interface {
	Decode(data []byte) ([]int16, error)
}

// Params describes one coaching call.
type Params struct {
	ID       string
	UserID   string
	Scenario persona.Scenario
	Setup    live.SetupOptions
	// Kickoff is sent as text once the first connect succeeds so the persona
	// speaks first.
	Kickoff string
}

// Session bridges one peer connection to one live model session. All audio
// pipeline state is owned by the session and never shared.
type Session struct {
	id       string
	userID   string
	scenario persona.Scenario
	setup    live.SetupOptions
	kickoff  string

	conn        transport.Connection
	dialer      live.Dialer
	cfg         Config
	recorder    Recorder
	transcripts TranscriptSaver
	log         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state *stateValue

	liveMu       sync.RWMutex
	liveSess     live.Session
	resumeHandle string

	decoder   frameDecoder
	resampler *audio.Resampler

	convo      *conversation
	responseID string

	startMu    sync.Mutex
	started    bool
	stopOnce   sync.Once
	finishOnce sync.Once
	endedOnce  sync.Once
	done       chan struct{}
	endReason  string
	endStatus  session.Status
	startedAt  time.Time
	onClosed   func(*Session)

	retries       atomic.Int64
	interruptions atomic.Int64
	decodeErrors  atomic.Int64
	droppedFrames atomic.Int64
	totalTokens   atomic.Int64
}

type sessionDeps struct {
	conn        transport.Connection
	dialer      live.Dialer
	cfg         Config
	recorder    Recorder
	transcripts TranscriptSaver
	decoder     frameDecoder
	onClosed    func(*Session)
	log         *slog.Logger
}

func newSession(p Params, deps sessionDeps) (*Session, error) {
	if deps.conn == nil {
		return nil, errors.New("coach: connection is required")
	}
	if deps.dialer == nil {
		return nil, errors.New("coach: dialer is required")
	}
	if deps.log == nil {
		deps.log = slog.Default()
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	decoder := deps.decoder
	if decoder == nil {
		codec, err := audio.NewOpusCodec(browserSampleRate, browserChannels, browserFrameMs)
		if err != nil {
			return nil, fmt.Errorf("create opus decoder: %w", err)
		}
		decoder = codec
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          p.ID,
		userID:      p.UserID,
		scenario:    p.Scenario,
		setup:       p.Setup,
		kickoff:     p.Kickoff,
		conn:        deps.conn,
		dialer:      deps.dialer,
		cfg:         deps.cfg.withDefaults(),
		recorder:    deps.recorder,
		transcripts: deps.transcripts,
		log:         deps.log.With("session_id", p.ID, "user_id", p.UserID, "scenario_id", p.Scenario.ID),
		ctx:         ctx,
		cancel:      cancel,
		state:       newStateValue(StateConnecting),
		decoder:     decoder,
		resampler:   audio.NewResampler(browserSampleRate, live.DefaultInputSampleRate),
		convo:       newConversation(),
		done:        make(chan struct{}),
		endStatus:   session.StatusEnded,
		startedAt:   time.Now(),
		onClosed:    deps.onClosed,
	}

	s.conn.SetBackpressureCallback(func(dropped int) {
		s.droppedFrames.Add(int64(dropped))
		s.log.Debug("audio backpressure", "dropped", dropped)
	})
	return s, nil
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) UserID() string             { return s.userID }
func (s *Session) Scenario() persona.Scenario { return s.scenario }
func (s *Session) State() State               { return s.state.Load() }
func (s *Session) StartedAt() time.Time       { return s.startedAt }
func (s *Session) Done() <-chan struct{}      { return s.done }
func (s *Session) Turns() []transcript.Turn   { return s.convo.Turns() }

// Start records the call and begins connecting in the background.
func (s *Session) Start() error {
	s.startMu.Lock()
	if s.started {
		s.startMu.Unlock()
		return errors.New("coach: session already started")
	}
	if s.ctx.Err() != nil {
		s.startMu.Unlock()
		return live.ErrSessionClosed
	}
	s.started = true
	s.startMu.Unlock()

	s.recordStart()
	s.emit(transport.EventSessionCreated, transport.SessionCreatedPayload{
		SessionID:  s.id,
		ScenarioID: s.scenario.ID,
		Persona:    s.scenario.Persona.Name,
	})

	s.wg.Add(1)
	go s.controlLoop()
	go s.run()
	return nil
}

func (s *Session) run() {
	defer s.finish()

	sess, err := live.Connect(s.ctx, s.dialer, s.setup, s.cfg.retryPolicy(), s.onRetry)
	if err != nil {
		if s.ctx.Err() == nil {
			s.log.Error("live connect failed", "error", err)
			s.emitError("live", "could not reach the conversation partner, please try again")
			s.stop(ReasonConnectFailed, session.StatusError)
		}
		return
	}

	if !s.swapLive(sess) || !s.state.Advance(StateActive) {
		return
	}
	s.log.Info("live session connected")
	s.emit(transport.EventSessionReady, nil)

	if s.kickoff != "" {
		if err := sess.SendText(s.kickoff); err != nil {
			s.log.Warn("failed to send kickoff", "error", err)
		}
	}

	s.wg.Add(2)
	go s.uplinkLoop()
	go s.downlinkLoop()

	<-s.ctx.Done()
}

func (s *Session) onRetry(attempt int, err error, wait time.Duration) {
	s.retries.Add(1)
	s.log.Warn("live connect attempt failed", "attempt", attempt, "retry_in", wait, "error", err)
	s.emit(transport.EventSessionReconnecting, transport.ReconnectingPayload{
		Attempt: attempt + 1,
		Error:   err.Error(),
	})
}

// swapLive installs sess as the current live session. A session dialed after
// the call was cancelled is closed instead.
func (s *Session) swapLive(sess live.Session) bool {
	s.liveMu.Lock()
	if s.ctx.Err() != nil {
		s.liveMu.Unlock()
		sess.Close()
		return false
	}
	s.liveSess = sess
	s.liveMu.Unlock()
	return true
}

func (s *Session) current() live.Session {
	s.liveMu.RLock()
	defer s.liveMu.RUnlock()
	return s.liveSess
}

func (s *Session) uplinkLoop() {
	defer s.wg.Done()

	audioIn := s.conn.AudioIn()
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-audioIn:
			if !ok {
				s.stop(ReasonConnectionClosed, session.StatusEnded)
				return
			}
			s.forwardFrame(frame)
		}
	}
}

func (s *Session) forwardFrame(frame []byte) {
	pcm, err := s.decoder.Decode(frame)
	if err != nil {
		if s.decodeErrors.Add(1) == 1 {
			s.log.Warn("opus decode failed", "error", err)
		}
		return
	}

	resampled := s.resampler.Process(pcm)
	if len(resampled) == 0 {
		return
	}

	sess := s.current()
	if sess == nil {
		return
	}
	if err := sess.SendAudio(audio.Int16ToPCMBytes(resampled)); err != nil {
		if s.state.Load() == StateActive && !errors.Is(err, live.ErrSessionClosed) {
			s.log.Debug("send audio failed", "error", err)
		}
	}
}

func (s *Session) downlinkLoop() {
	defer s.wg.Done()

	for {
		sess := s.current()
		msg, err := sess.Receive()
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			if s.resumable() {
				s.log.Warn("live stream lost, resuming", "error", err)
				if !s.reconnect(sess) {
					return
				}
				continue
			}
			s.log.Error("live receive failed", "error", err)
			s.emitError("live", "the conversation was interrupted")
			s.stop(ReasonLiveError, session.StatusError)
			return
		}

		s.handleMessage(msg)

		if msg.GoAway {
			s.log.Info("live server going away, reconnecting")
			if !s.reconnect(sess) {
				return
			}
		}
	}
}

func (s *Session) resumable() bool {
	s.liveMu.RLock()
	defer s.liveMu.RUnlock()
	return s.resumeHandle != ""
}

func (s *Session) handleMessage(msg *live.Message) {
	now := time.Now()

	if msg.ResumeHandle != "" {
		s.liveMu.Lock()
		s.resumeHandle = msg.ResumeHandle
		s.liveMu.Unlock()
	}
	if msg.TotalTokens > 0 {
		s.totalTokens.Store(int64(msg.TotalTokens))
	}

	if t := msg.InputTranscript; t != nil {
		if text, ok := s.convo.AddUser(t.Text, now); ok {
			s.emit(transport.EventTranscriptUser, transport.TranscriptPayload{
				Text: text, Delta: t.Text, IsFinal: t.Finished, Timestamp: now,
			})
		}
		if t.Finished {
			s.commitTurns(s.convo.CommitUser())
		}
	}

	if msg.HasAudio() {
		s.beginResponse()
		rate := msg.AudioRate
		if rate == 0 {
			rate = live.DefaultOutputSampleRate
		}
		if err := s.conn.SendAudio(s.ctx, transport.AudioChunk{Data: msg.Audio, SampleRate: uint32(rate)}); err != nil {
			s.log.Debug("send audio to peer failed", "error", err)
		}
	}

	if t := msg.OutputTranscript; t != nil {
		if text, ok := s.convo.AddPersona(t.Text, now); ok {
			s.beginResponse()
			s.emit(transport.EventTranscriptPersona, transport.TranscriptPayload{
				Text: text, Delta: t.Text, IsFinal: t.Finished, Timestamp: now,
			})
		}
	}

	if msg.Interrupted {
		s.interruptions.Add(1)
		s.conn.FlushAudioQueue()
		s.emit(transport.EventResponseInterrupted, transport.ResponsePayload{
			ResponseID:  s.responseID,
			Interrupted: true,
		})
		s.responseID = ""
		s.commitTurns(s.convo.Interrupt())
	}

	if msg.TurnComplete {
		if s.responseID != "" {
			if err := s.conn.SendAudio(s.ctx, transport.AudioChunk{SampleRate: live.DefaultOutputSampleRate, Final: true}); err != nil {
				s.log.Debug("flush final audio failed", "error", err)
			}
			s.emit(transport.EventResponseDone, transport.ResponsePayload{ResponseID: s.responseID})
			s.responseID = ""
		}
		s.commitTurns(s.convo.CommitAll())
	}
}

func (s *Session) beginResponse() {
	if s.responseID != "" {
		return
	}
	s.responseID = uuid.NewString()
	s.emit(transport.EventResponseStarted, transport.ResponsePayload{ResponseID: s.responseID})
}

func (s *Session) commitTurns(n int) {
	if n == 0 || s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, persistTimeout)
	defer cancel()
	if err := s.recorder.Touch(ctx, s.id, s.convo.Len()); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("touch session record failed", "error", err)
	}
}

// reconnect replaces old with a fresh live session, resuming the model's
// context when a handle is known. It reports whether the session goes on.
func (s *Session) reconnect(old live.Session) bool {
	if !s.state.Advance(StateReconnecting) {
		return false
	}

	s.liveMu.RLock()
	opts := s.setup
	opts.ResumeHandle = s.resumeHandle
	s.liveMu.RUnlock()

	s.emit(transport.EventSessionReconnecting, transport.ReconnectingPayload{Attempt: 1})

	sess, err := live.Connect(s.ctx, s.dialer, opts, s.cfg.retryPolicy(), s.onRetry)
	if err != nil {
		if s.ctx.Err() == nil {
			s.log.Error("live reconnect failed", "error", err)
			s.emitError("live", "lost the conversation partner, please start a new call")
			s.stop(ReasonLiveError, session.StatusError)
		}
		return false
	}

	if !s.swapLive(sess) {
		return false
	}
	if err := old.Close(); err != nil {
		s.log.Debug("close previous live session", "error", err)
	}

	if !s.state.Advance(StateActive) {
		return false
	}
	s.log.Info("live session resumed", "resumed", opts.ResumeHandle != "")
	s.emit(transport.EventSessionReady, nil)
	return true
}

// controlLoop runs from Start, so a hangup or the duration cap also cuts
// short a connect that is still retrying.
func (s *Session) controlLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Until(s.startedAt.Add(s.cfg.MaxDuration)))
	defer timer.Stop()

	messages := s.conn.Messages()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.conn.Done():
			s.stop(ReasonConnectionClosed, session.StatusEnded)
			return
		case <-timer.C:
			s.log.Info("max session duration reached", "max", s.cfg.MaxDuration)
			s.stop(ReasonMaxDuration, session.StatusEnded)
			return
		case env, ok := <-messages:
			if !ok {
				s.stop(ReasonConnectionClosed, session.StatusEnded)
				return
			}
			s.handleClientMessage(env)
		}
	}
}

func (s *Session) handleClientMessage(env transport.ClientEnvelope) {
	switch env.Type {
	case transport.ClientEventSessionEnd:
		s.stop(ReasonClientEnded, session.StatusEnded)
	case transport.ClientEventInputText:
		var p transport.InputTextPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.emitError("client", "invalid input_text payload")
			return
		}
		sess := s.current()
		if sess == nil {
			s.emitError("client", "the conversation is not ready yet")
			return
		}
		if !s.convo.AddUserText(p.Text, time.Now()) {
			return
		}
		s.commitTurns(1)
		if err := sess.SendText(p.Text); err != nil {
			s.log.Warn("send text failed", "error", err)
		}
	default:
		s.log.Debug("ignoring client message", "type", env.Type)
	}
}

func (s *Session) emit(t transport.EventType, payload any) {
	if err := s.conn.Send(context.Background(), transport.ServerEvent{Type: t, Payload: payload}); err != nil {
		s.log.Debug("failed to send event", "type", t, "error", err)
	}
}

func (s *Session) emitError(source, message string) {
	s.emit(transport.EventError, transport.ErrorPayload{Source: source, Message: message})
}

// stop records why the session ends and cancels it. The first caller wins.
func (s *Session) stop(reason string, status session.Status) {
	s.stopOnce.Do(func() {
		s.endReason = reason
		s.endStatus = status
		s.state.Store(StateClosing)
		s.cancel()
	})
}

// Close ends the session and waits for teardown. It is safe to call more
// than once and from any goroutine except the session's own loops.
func (s *Session) Close(reason string) {
	s.stop(reason, session.StatusEnded)

	s.startMu.Lock()
	started := s.started
	s.startMu.Unlock()
	if !started {
		s.finish()
	}
	<-s.done
}

func (s *Session) finish() {
	s.finishOnce.Do(s.teardown)
}

func (s *Session) teardown() {
	defer close(s.done)

	s.stop(ReasonEndedByServer, session.StatusEnded)

	s.liveMu.Lock()
	sess := s.liveSess
	s.liveMu.Unlock()
	if sess != nil {
		if err := sess.EndAudioStream(); err != nil && !errors.Is(err, live.ErrSessionClosed) {
			s.log.Debug("end audio stream", "error", err)
		}
		if err := sess.Close(); err != nil {
			s.log.Debug("close live session", "error", err)
		}
	}
	s.wg.Wait()

	s.convo.CommitAll()
	endedAt := time.Now()
	duration := endedAt.Sub(s.startedAt)

	s.endedOnce.Do(func() {
		s.emit(transport.EventSessionEnded, transport.SessionEndedPayload{
			SessionID:  s.id,
			Reason:     s.endReason,
			DurationMs: duration.Milliseconds(),
			Turns:      s.convo.Len(),
		})
	})

	if err := s.conn.Close(); err != nil {
		s.log.Debug("close connection", "error", err)
	}

	s.startMu.Lock()
	started := s.started
	s.startMu.Unlock()
	if started {
		s.persist(endedAt, duration)
	}

	s.state.Store(StateClosed)
	s.log.Info("coaching session closed",
		"reason", s.endReason,
		"status", s.endStatus,
		"duration", duration,
		"turns", s.convo.Len(),
		"retries", s.retries.Load(),
		"interruptions", s.interruptions.Load(),
		"decode_errors", s.decodeErrors.Load(),
		"dropped_frames", s.droppedFrames.Load(),
		"total_tokens", s.totalTokens.Load(),
	)

	if s.onClosed != nil {
		s.onClosed(s)
	}
}

func (s *Session) recordStart() {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.recorder.Create(ctx, &session.Record{
		ID:         s.id,
		UserID:     s.userID,
		ScenarioID: s.scenario.ID,
	}); err != nil {
		s.log.Warn("failed to create session record", "error", err)
	}
	if err := s.recorder.TrackUniqueUser(ctx, s.scenario.ID, s.userID); err != nil {
		s.log.Warn("failed to track user", "error", err)
	}
}

func (s *Session) persist(endedAt time.Time, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	turns := s.convo.Turns()
	status := transcript.StatusCompleted
	if s.endStatus == session.StatusError {
		status = transcript.StatusError
	}

	if s.transcripts != nil {
		err := s.transcripts.Save(ctx, &transcript.Transcript{
			SessionID:  s.id,
			UserID:     s.userID,
			ScenarioID: s.scenario.ID,
			Status:     status,
			EndReason:  s.endReason,
			Turns:      shared.JSONSlice[transcript.Turn](turns),
			StartedAt:  s.startedAt,
			EndedAt:    endedAt,
			DurationMs: duration.Milliseconds(),
		})
		if err != nil {
			s.log.Error("failed to save transcript", "error", err)
		}
	}

	if s.recorder == nil {
		return
	}
	if _, err := s.recorder.End(ctx, s.id, s.endStatus, s.endReason, len(turns)); err != nil {
		s.log.Warn("failed to end session record", "error", err)
	}

	counters := map[session.Counter]int64{
		session.CounterSessions:       1,
		session.CounterTurns:          int64(len(turns)),
		session.CounterInterruptions:  s.interruptions.Load(),
		session.CounterConnectRetries: s.retries.Load(),
		session.CounterDurationMs:     duration.Milliseconds(),
	}
	if s.endStatus == session.StatusError {
		counters[session.CounterErrors] = 1
	}
	if err := s.recorder.Increment(ctx, s.scenario.ID, counters); err != nil {
		s.log.Warn("failed to update counters", "error", err)
	}
}
