package coach

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/coachai/coach-backend/internal/live"
	"github.com/coachai/coach-backend/internal/persona"
	"github.com/coachai/coach-backend/internal/session"
	"github.com/coachai/coach-backend/internal/transcript"
	"github.com/coachai/coach-backend/internal/transport"
)

var testScenario = persona.Scenario{
	ID:       "feedback-missed-deadlines",
	Title:    "Feedback on missed deadlines",
	Category: persona.CategoryFeedback,
	Persona:  persona.Persona{Name: "Jordan Blake", Role: "senior developer"},
	Voice:    "Puck",
}

type harness struct {
	s      *Session
	conn   *fakeConn
	dialer *fakeDialer
	rec    *fakeRecorder
	saver  *fakeSaver
}

func testConfig() Config {
	return Config{
		ConnectAttempts: 3,
		ConnectBackoff:  time.Millisecond,
		MaxDuration:     time.Minute,
	}
}

func newHarness(t *testing.T, dialer *fakeDialer, cfg Config, p Params) *harness {
	t.Helper()
	if dialer == nil {
		dialer = &fakeDialer{}
	}
	if p.UserID == "" {
		p.UserID = "user_1"
	}
	if p.Scenario.ID == "" {
		p.Scenario = testScenario
	}

	h := &harness{
		conn:   newFakeConn(),
		dialer: dialer,
		rec:    newFakeRecorder(),
		saver:  &fakeSaver{},
	}
	s, err := newSession(p, sessionDeps{
		conn:        h.conn,
		dialer:      dialer,
		cfg:         cfg,
		recorder:    h.rec,
		transcripts: h.saver,
		decoder:     fakeDecoder{},
		log:         discardLogger(),
	})
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	h.s = s
	t.Cleanup(func() { s.Close("test_cleanup") })
	return h
}

func (h *harness) startReady(t *testing.T) *fakeLive {
	t.Helper()
	if err := h.s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "session.ready", func() bool { return h.conn.countEvents(transport.EventSessionReady) == 1 })
	return h.dialer.session(0)
}

func TestNewSession_RequiresDeps(t *testing.T) {
	if _, err := newSession(Params{}, sessionDeps{dialer: &fakeDialer{}}); err == nil {
		t.Error("expected error without connection")
	}
	if _, err := newSession(Params{}, sessionDeps{conn: newFakeConn()}); err == nil {
		t.Error("expected error without dialer")
	}
}

func TestSession_StartBecomesReady(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{ID: "sess_ready"})
	h.startReady(t)

	types := h.conn.eventTypes()
	if types[0] != transport.EventSessionCreated {
		t.Errorf("first event = %s, want session.created", types[0])
	}
	created, _ := h.conn.lastEvent(transport.EventSessionCreated)
	payload := created.Payload.(transport.SessionCreatedPayload)
	if payload.SessionID != "sess_ready" || payload.Persona != "Jordan Blake" {
		t.Errorf("unexpected created payload: %+v", payload)
	}
	if h.s.State() != StateActive {
		t.Errorf("State() = %s, want active", h.s.State())
	}
	if len(h.rec.created) != 1 || h.rec.created[0].ScenarioID != testScenario.ID {
		t.Errorf("session record not created: %+v", h.rec.created)
	}
	if err := h.s.Start(); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestSession_RetriesBeforeReady(t *testing.T) {
	dialer := &fakeDialer{errs: []error{errors.New("unavailable"), errors.New("unavailable")}}
	h := newHarness(t, dialer, testConfig(), Params{})
	h.startReady(t)

	if got := h.conn.countEvents(transport.EventSessionReconnecting); got != 2 {
		t.Errorf("reconnecting events = %d, want 2", got)
	}
	evt, _ := h.conn.lastEvent(transport.EventSessionReconnecting)
	if p := evt.Payload.(transport.ReconnectingPayload); p.Attempt != 3 {
		t.Errorf("last reconnecting attempt = %d, want 3", p.Attempt)
	}

	h.s.Close("test")
	if got := h.rec.counter(session.CounterConnectRetries); got != 2 {
		t.Errorf("connect_retries = %d, want 2", got)
	}
}

func TestSession_ConnectFailureEndsSession(t *testing.T) {
	fail := errors.New("unavailable")
	dialer := &fakeDialer{errs: []error{fail, fail, fail, fail}}
	h := newHarness(t, dialer, testConfig(), Params{ID: "sess_fail"})

	if err := h.s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitClosed(t, h.s)

	if got := dialer.dials(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}

	types := h.conn.eventTypes()
	last := types[len(types)-1]
	if last != transport.EventSessionEnded {
		t.Errorf("last event = %s, want session.ended", last)
	}
	if h.conn.countEvents(transport.EventError) != 1 {
		t.Error("expected one error event")
	}
	if h.conn.IsConnected() {
		t.Error("connection should be closed")
	}

	saved := h.saver.all()
	if len(saved) != 1 {
		t.Fatalf("saved transcripts = %d, want 1", len(saved))
	}
	if saved[0].Status != transcript.StatusError || len(saved[0].Turns) != 0 {
		t.Errorf("unexpected transcript: status=%s turns=%d", saved[0].Status, len(saved[0].Turns))
	}

	status, reason := h.rec.endedWith("sess_fail")
	if status != session.StatusError || reason != ReasonConnectFailed {
		t.Errorf("record ended with %s/%s", status, reason)
	}
	if h.rec.counter(session.CounterErrors) != 1 {
		t.Error("errors counter should be incremented")
	}
	if h.s.State() != StateClosed {
		t.Errorf("State() = %s, want closed", h.s.State())
	}
}

func TestSession_HangupDuringConnect(t *testing.T) {
	fail := errors.New("unavailable")
	var conn *fakeConn
	dialer := &fakeDialer{
		errs: []error{fail, fail, fail, fail},
		onDial: func(n int) {
			if n == 1 {
				conn.Close()
			}
		},
	}
	cfg := testConfig()
	cfg.ConnectBackoff = 100 * time.Millisecond
	h := newHarness(t, dialer, cfg, Params{ID: "sess_hangup"})
	conn = h.conn

	if err := h.s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitClosed(t, h.s)

	if got := dialer.dials(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	status, reason := h.rec.endedWith("sess_hangup")
	if status != session.StatusEnded || reason != ReasonConnectionClosed {
		t.Errorf("record ended with %s/%s, want ended/%s", status, reason, ReasonConnectionClosed)
	}
	if h.rec.counter(session.CounterErrors) != 0 {
		t.Error("a hangup should not count as an error")
	}
	if h.conn.countEvents(transport.EventError) != 0 {
		t.Error("no error event expected")
	}
}

func TestSession_ClientEndDuringConnect(t *testing.T) {
	fail := errors.New("unavailable")
	var conn *fakeConn
	dialer := &fakeDialer{
		errs: []error{fail, fail, fail},
		onDial: func(n int) {
			if n == 1 {
				conn.messages <- transport.ClientEnvelope{Type: transport.ClientEventSessionEnd}
			}
		},
	}
	cfg := testConfig()
	cfg.ConnectBackoff = 100 * time.Millisecond
	h := newHarness(t, dialer, cfg, Params{ID: "sess_early_end"})
	conn = h.conn

	if err := h.s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitClosed(t, h.s)

	if got := dialer.dials(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if _, reason := h.rec.endedWith("sess_early_end"); reason != ReasonClientEnded {
		t.Errorf("reason = %q, want %q", reason, ReasonClientEnded)
	}
}

func TestSession_InputTextBeforeReady(t *testing.T) {
	var conn *fakeConn
	dialer := &fakeDialer{
		errs: []error{errors.New("unavailable")},
		onDial: func(n int) {
			if n == 1 {
				payload, _ := json.Marshal(transport.InputTextPayload{Text: "hello?"})
				conn.messages <- transport.ClientEnvelope{Type: transport.ClientEventInputText, Payload: payload}
			}
		},
	}
	cfg := testConfig()
	cfg.ConnectBackoff = 100 * time.Millisecond
	h := newHarness(t, dialer, cfg, Params{})
	conn = h.conn

	lv := h.startReady(t)

	if h.conn.countEvents(transport.EventError) != 1 {
		t.Error("expected an error event for text sent while connecting")
	}
	if len(lv.sentTexts()) != 0 {
		t.Errorf("text should not reach the live session, got %v", lv.sentTexts())
	}
	if len(h.s.Turns()) != 0 {
		t.Errorf("text should not be recorded, got %+v", h.s.Turns())
	}
}

func TestSession_MaxDurationCountsConnectTime(t *testing.T) {
	fail := errors.New("unavailable")
	dialer := &fakeDialer{errs: []error{fail, fail}}
	cfg := testConfig()
	cfg.ConnectBackoff = 100 * time.Millisecond
	cfg.MaxDuration = 150 * time.Millisecond
	h := newHarness(t, dialer, cfg, Params{ID: "sess_slow_connect"})

	if err := h.s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitClosed(t, h.s)

	if _, reason := h.rec.endedWith("sess_slow_connect"); reason != ReasonMaxDuration {
		t.Errorf("reason = %q, want %q", reason, ReasonMaxDuration)
	}
	if h.conn.countEvents(transport.EventSessionReady) != 0 {
		t.Error("session should end before it becomes ready")
	}
}

func TestSession_UplinkDecodesAndResamples(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{})
	lv := h.startReady(t)

	h.conn.audioIn <- []byte{0x01}
	h.conn.audioIn <- []byte{0xFF}
	h.conn.audioIn <- []byte{0x02}

	waitFor(t, "uplink audio", func() bool { return len(lv.sentAudio()) == 2 })

	for i, chunk := range lv.sentAudio() {
		if len(chunk) != 640 {
			t.Errorf("chunk %d = %d bytes, want 640 (320 samples at 16kHz)", i, len(chunk))
		}
	}
	if h.s.decodeErrors.Load() != 1 {
		t.Errorf("decodeErrors = %d, want 1", h.s.decodeErrors.Load())
	}
}

func TestSession_DownlinkTurn(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{})
	lv := h.startReady(t)

	lv.incoming <- &live.Message{InputTranscript: &live.Transcript{Text: "Hi Jordan,"}}
	lv.incoming <- &live.Message{InputTranscript: &live.Transcript{Text: " got a minute?", Finished: true}}
	lv.incoming <- &live.Message{
		Audio:            []byte{1, 2, 3, 4},
		AudioRate:        24000,
		OutputTranscript: &live.Transcript{Text: "Sure."},
	}
	lv.incoming <- &live.Message{OutputTranscript: &live.Transcript{Text: " What's up?"}}
	lv.incoming <- &live.Message{TurnComplete: true}

	waitFor(t, "response.done", func() bool { return h.conn.countEvents(transport.EventResponseDone) == 1 })

	evt, _ := h.conn.lastEvent(transport.EventTranscriptUser)
	up := evt.Payload.(transport.TranscriptPayload)
	if up.Text != "Hi Jordan, got a minute?" || !up.IsFinal || up.Delta != " got a minute?" {
		t.Errorf("unexpected user transcript: %+v", up)
	}
	evt, _ = h.conn.lastEvent(transport.EventTranscriptPersona)
	if pp := evt.Payload.(transport.TranscriptPayload); pp.Text != "Sure. What's up?" {
		t.Errorf("persona transcript = %q", pp.Text)
	}
	if h.conn.countEvents(transport.EventResponseStarted) != 1 {
		t.Error("expected exactly one response.started")
	}

	chunks := h.conn.audioChunks()
	if len(chunks) != 2 {
		t.Fatalf("audio chunks = %d, want 2", len(chunks))
	}
	if chunks[0].SampleRate != 24000 || len(chunks[0].Data) != 4 {
		t.Errorf("unexpected first chunk: %+v", chunks[0])
	}
	if !chunks[1].Final {
		t.Error("turn completion should send a final chunk")
	}

	h.s.Close("test")
	saved := h.saver.all()
	if len(saved) != 1 {
		t.Fatalf("saved = %d", len(saved))
	}
	turns := saved[0].Turns
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Speaker != transcript.SpeakerUser || turns[0].Text != "Hi Jordan, got a minute?" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Speaker != transcript.SpeakerPersona || turns[1].Text != "Sure. What's up?" {
		t.Errorf("turn 1 = %+v", turns[1])
	}
	if saved[0].Status != transcript.StatusCompleted {
		t.Errorf("status = %s", saved[0].Status)
	}
	if h.rec.counter(session.CounterTurns) != 2 {
		t.Errorf("turns counter = %d", h.rec.counter(session.CounterTurns))
	}
}

func TestSession_EmptyFragmentsIgnored(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{})
	lv := h.startReady(t)

	lv.incoming <- &live.Message{InputTranscript: &live.Transcript{Text: ""}}
	lv.incoming <- &live.Message{OutputTranscript: &live.Transcript{Text: ""}}
	lv.incoming <- &live.Message{TurnComplete: true}
	lv.incoming <- &live.Message{InputTranscript: &live.Transcript{Text: "ok"}}

	waitFor(t, "user transcript", func() bool { return h.conn.countEvents(transport.EventTranscriptUser) == 1 })
	if h.conn.countEvents(transport.EventTranscriptPersona) != 0 {
		t.Error("empty persona fragment should not emit")
	}
	if h.conn.countEvents(transport.EventResponseDone) != 0 {
		t.Error("turn without a response should not emit response.done")
	}
	if len(h.s.Turns()) != 0 {
		t.Errorf("turns = %d, want 0", len(h.s.Turns()))
	}
}

func TestSession_Interrupted(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{})
	lv := h.startReady(t)

	lv.incoming <- &live.Message{Audio: []byte{1, 2}, OutputTranscript: &live.Transcript{Text: "Well, I think"}}
	lv.incoming <- &live.Message{Interrupted: true}

	waitFor(t, "response.interrupted", func() bool {
		return h.conn.countEvents(transport.EventResponseInterrupted) == 1
	})
	if h.conn.flushCount() != 1 {
		t.Errorf("flushes = %d, want 1", h.conn.flushCount())
	}
	evt, _ := h.conn.lastEvent(transport.EventResponseInterrupted)
	if p := evt.Payload.(transport.ResponsePayload); !p.Interrupted || p.ResponseID == "" {
		t.Errorf("unexpected payload: %+v", p)
	}

	turns := h.s.Turns()
	if len(turns) != 1 || !turns[0].Interrupted {
		t.Fatalf("expected one interrupted persona turn, got %+v", turns)
	}

	h.s.Close("test")
	if h.rec.counter(session.CounterInterruptions) != 1 {
		t.Error("interruptions counter should be 1")
	}
}

func TestSession_ClientEnd(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{ID: "sess_end"})
	lv := h.startReady(t)

	h.conn.messages <- transport.ClientEnvelope{Type: transport.ClientEventSessionEnd}
	waitClosed(t, h.s)

	if !lv.isClosed() {
		t.Error("live session should be closed")
	}
	if _, reason := h.rec.endedWith("sess_end"); reason != ReasonClientEnded {
		t.Errorf("reason = %q, want %q", reason, ReasonClientEnded)
	}
	evt, ok := h.conn.lastEvent(transport.EventSessionEnded)
	if !ok {
		t.Fatal("expected session.ended")
	}
	if p := evt.Payload.(transport.SessionEndedPayload); p.Reason != ReasonClientEnded || p.SessionID != "sess_end" {
		t.Errorf("unexpected ended payload: %+v", p)
	}
}

func TestSession_InputText(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{})
	lv := h.startReady(t)

	payload, _ := json.Marshal(transport.InputTextPayload{Text: "Let's talk about the release."})
	h.conn.messages <- transport.ClientEnvelope{Type: transport.ClientEventInputText, Payload: payload}
	h.conn.messages <- transport.ClientEnvelope{Type: transport.ClientEventInputText, Payload: []byte("not json")}

	waitFor(t, "text forwarded", func() bool { return len(lv.sentTexts()) == 1 })
	waitFor(t, "error event", func() bool { return h.conn.countEvents(transport.EventError) == 1 })

	turns := h.s.Turns()
	if len(turns) != 1 || turns[0].Speaker != transcript.SpeakerUser || turns[0].Text != "Let's talk about the release." {
		t.Errorf("unexpected turns: %+v", turns)
	}
}

func TestSession_Kickoff(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{Kickoff: "start"})
	lv := h.startReady(t)

	waitFor(t, "kickoff", func() bool { return len(lv.sentTexts()) == 1 })
	if lv.sentTexts()[0] != "start" {
		t.Errorf("kickoff = %q", lv.sentTexts()[0])
	}
	if len(h.s.Turns()) != 0 {
		t.Error("kickoff must not be recorded as a turn")
	}
}

func TestSession_GoAwayResumes(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{Setup: live.SetupOptions{Voice: "Puck"}})
	first := h.startReady(t)

	first.incoming <- &live.Message{ResumeHandle: "handle-1"}
	first.incoming <- &live.Message{GoAway: true}

	waitFor(t, "redial", func() bool { return h.dialer.dials() == 2 })
	waitFor(t, "second ready", func() bool { return h.conn.countEvents(transport.EventSessionReady) == 2 })

	opts := h.dialer.optsAt(1)
	if opts.ResumeHandle != "handle-1" || opts.Voice != "Puck" {
		t.Errorf("redial opts = %+v", opts)
	}
	if !first.isClosed() {
		t.Error("previous live session should be closed")
	}

	second := h.dialer.session(1)
	second.incoming <- &live.Message{OutputTranscript: &live.Transcript{Text: "Still here."}}
	waitFor(t, "persona transcript", func() bool { return h.conn.countEvents(transport.EventTranscriptPersona) == 1 })
	if h.s.State() != StateActive {
		t.Errorf("State() = %s", h.s.State())
	}
}

func TestSession_StreamLossWithoutHandleEnds(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{ID: "sess_lost"})
	lv := h.startReady(t)

	lv.Close()
	waitClosed(t, h.s)

	status, reason := h.rec.endedWith("sess_lost")
	if status != session.StatusError || reason != ReasonLiveError {
		t.Errorf("ended with %s/%s", status, reason)
	}
	if h.conn.countEvents(transport.EventError) != 1 {
		t.Error("expected an error event")
	}
}

func TestSession_MaxDuration(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDuration = 30 * time.Millisecond
	h := newHarness(t, nil, cfg, Params{ID: "sess_max"})
	h.startReady(t)

	waitClosed(t, h.s)
	if _, reason := h.rec.endedWith("sess_max"); reason != ReasonMaxDuration {
		t.Errorf("reason = %q, want %q", reason, ReasonMaxDuration)
	}
}

func TestSession_ConnectionClosedEndsSession(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{ID: "sess_conn"})
	h.startReady(t)

	h.conn.Close()
	waitClosed(t, h.s)
	if _, reason := h.rec.endedWith("sess_conn"); reason != ReasonConnectionClosed {
		t.Errorf("reason = %q, want %q", reason, ReasonConnectionClosed)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{ID: "sess_idem"})
	h.startReady(t)

	h.s.Close("first")
	h.s.Close("second")

	if got := h.conn.countEvents(transport.EventSessionEnded); got != 1 {
		t.Errorf("session.ended events = %d, want 1", got)
	}
	if got := len(h.saver.all()); got != 1 {
		t.Errorf("saved transcripts = %d, want 1", got)
	}
	if _, reason := h.rec.endedWith("sess_idem"); reason != "first" {
		t.Errorf("reason = %q, want first", reason)
	}
}

func TestSession_CloseBeforeStart(t *testing.T) {
	h := newHarness(t, nil, testConfig(), Params{})

	h.s.Close("aborted")
	waitClosed(t, h.s)

	if h.conn.IsConnected() {
		t.Error("connection should be closed")
	}
	if got := len(h.saver.all()); got != 0 {
		t.Errorf("unstarted session should not persist, saved %d", got)
	}
	if err := h.s.Start(); err == nil {
		t.Error("Start() after Close should fail")
	}
	if h.dialer.dials() != 0 {
		t.Error("no dial expected")
	}
}
