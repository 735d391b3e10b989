package coach

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coachai/coach-backend/internal/live"
	"github.com/coachai/coach-backend/internal/session"
	"github.com/coachai/coach-backend/internal/transcript"
	"github.com/coachai/coach-backend/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	mu        sync.Mutex
	events    []transport.ServerEvent
	audio     []transport.AudioChunk
	flushes   int
	closed    bool
	audioIn   chan []byte
	messages  chan transport.ClientEnvelope
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		audioIn:  make(chan []byte, 16),
		messages: make(chan transport.ClientEnvelope, 16),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) Send(_ context.Context, evt transport.ServerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.events = append(c.events, evt)
	return nil
}

func (c *fakeConn) SendAudio(_ context.Context, chunk transport.AudioChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.audio = append(c.audio, chunk)
	return nil
}

func (c *fakeConn) Messages() <-chan transport.ClientEnvelope { return c.messages }
func (c *fakeConn) AudioIn() <-chan []byte                    { return c.audioIn }
func (c *fakeConn) AudioFormat() transport.AudioFormat        { return transport.AudioFormatOpus }
func (c *fakeConn) Done() <-chan struct{}                     { return c.done }

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) FlushAudioQueue() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return 0
}

func (c *fakeConn) SetBackpressureCallback(transport.BackpressureCallback) {}

func (c *fakeConn) eventTypes() []transport.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func (c *fakeConn) countEvents(t transport.EventType) int {
	n := 0
	for _, et := range c.eventTypes() {
		if et == t {
			n++
		}
	}
	return n
}

func (c *fakeConn) lastEvent(t transport.EventType) (transport.ServerEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == t {
			return c.events[i], true
		}
	}
	return transport.ServerEvent{}, false
}

func (c *fakeConn) audioChunks() []transport.AudioChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.AudioChunk(nil), c.audio...)
}

func (c *fakeConn) flushCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

type fakeDecoder struct{}

// Decode returns one 20ms frame of 48kHz silence, or an error for 0xFF.
func (fakeDecoder) Decode(data []byte) ([]int16, error) {
	if len(data) > 0 && data[0] == 0xFF {
		return nil, errors.New("corrupted frame")
	}
	return make([]int16, 960), nil
}

type fakeLive struct {
	mu        sync.Mutex
	audio     [][]byte
	texts     []string
	ended     bool
	closed    bool
	incoming  chan *live.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeLive() *fakeLive {
	return &fakeLive{
		incoming: make(chan *live.Message, 16),
		done:     make(chan struct{}),
	}
}

func (f *fakeLive) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return live.ErrSessionClosed
	}
	f.audio = append(f.audio, append([]byte(nil), pcm...))
	return nil
}

func (f *fakeLive) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return live.ErrSessionClosed
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeLive) EndAudioStream() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	return nil
}

func (f *fakeLive) Receive() (*live.Message, error) {
	select {
	case msg := <-f.incoming:
		return msg, nil
	case <-f.done:
		return nil, live.ErrSessionClosed
	}
}

func (f *fakeLive) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.done)
	})
	return nil
}

func (f *fakeLive) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeLive) sentAudio() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.audio...)
}

func (f *fakeLive) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// fakeDialer fails with the queued errors first, then hands out sessions.
type fakeDialer struct {
	mu       sync.Mutex
	errs     []error
	sessions []*fakeLive
	opts     []live.SetupOptions
	// onDial runs after each dial with the number of dials so far.
	onDial func(n int)
}

func (d *fakeDialer) Dial(ctx context.Context, opts live.SetupOptions) (live.Session, error) {
	sess, n, err := d.dial(opts)
	if d.onDial != nil {
		d.onDial(n)
	}
	return sess, err
}

func (d *fakeDialer) dial(opts live.SetupOptions) (live.Session, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = append(d.opts, opts)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, len(d.opts), err
	}
	s := newFakeLive()
	d.sessions = append(d.sessions, s)
	return s, len(d.opts), nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opts)
}

func (d *fakeDialer) session(i int) *fakeLive {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sessions) {
		return nil
	}
	return d.sessions[i]
}

func (d *fakeDialer) optsAt(i int) live.SetupOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts[i]
}

type fakeRecorder struct {
	mu       sync.Mutex
	created  []*session.Record
	touches  int
	ended    map[string]session.Status
	reasons  map[string]string
	counters map[session.Counter]int64
	users    []string
	// active stands in for records written by other instances.
	active    []*session.Record
	activeErr error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		ended:    make(map[string]session.Status),
		reasons:  make(map[string]string),
		counters: make(map[session.Counter]int64),
	}
}

func (r *fakeRecorder) Create(_ context.Context, rec *session.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, rec)
	return nil
}

func (r *fakeRecorder) Touch(context.Context, string, int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touches++
	return nil
}

func (r *fakeRecorder) End(_ context.Context, id string, status session.Status, reason string, turns int) (*session.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended[id] = status
	r.reasons[id] = reason
	return &session.Record{ID: id, Status: status, EndReason: reason, Turns: turns}, nil
}

func (r *fakeRecorder) Increment(_ context.Context, _ string, values map[session.Counter]int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range values {
		r.counters[k] += v
	}
	return nil
}

func (r *fakeRecorder) TrackUniqueUser(_ context.Context, _, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return nil
}

func (r *fakeRecorder) ActiveForUser(_ context.Context, userID string) ([]*session.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeErr != nil {
		return nil, r.activeErr
	}
	var out []*session.Record
	for _, rec := range r.active {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeRecorder) counter(c session.Counter) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[c]
}

func (r *fakeRecorder) endedWith(id string) (session.Status, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended[id], r.reasons[id]
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []*transcript.Transcript
}

func (f *fakeSaver) Save(_ context.Context, t *transcript.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, t)
	return nil
}

func (f *fakeSaver) all() []*transcript.Transcript {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*transcript.Transcript(nil), f.saved...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
	}
}
