package coach

import (
	"strings"
	"sync"
	"time"

	"github.com/coachai/coach-backend/internal/transcript"
)

// turnBuffer accumulates transcription fragments for one speaker until the
// turn is committed.
type turnBuffer struct {
	speaker     transcript.Speaker
	text        strings.Builder
	startedAt   time.Time
	interrupted bool
}

func (b *turnBuffer) add(fragment string, now time.Time) string {
	if b.text.Len() == 0 {
		b.startedAt = now
	}
	b.text.WriteString(fragment)
	return b.text.String()
}

func (b *turnBuffer) empty() bool {
	return strings.TrimSpace(b.text.String()) == ""
}

func (b *turnBuffer) take() (transcript.Turn, bool) {
	defer b.reset()
	if b.empty() {
		return transcript.Turn{}, false
	}
	return transcript.Turn{
		Speaker:     b.speaker,
		Text:        strings.TrimSpace(b.text.String()),
		At:          b.startedAt,
		Interrupted: b.interrupted,
	}, true
}

func (b *turnBuffer) reset() {
	b.text.Reset()
	b.interrupted = false
	b.startedAt = time.Time{}
}

// conversation is the running transcript of a call.
type conversation struct {
	mu      sync.Mutex
	user    turnBuffer
	persona turnBuffer
	turns   []transcript.Turn
}

func newConversation() *conversation {
	return &conversation{
		user:    turnBuffer{speaker: transcript.SpeakerUser},
		persona: turnBuffer{speaker: transcript.SpeakerPersona},
	}
}

// AddUser appends a user fragment and returns the accumulated turn text.
// Empty fragments are ignored.
func (c *conversation) AddUser(fragment string, now time.Time) (string, bool) {
	if fragment == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user.add(fragment, now), true
}

// AddPersona appends a persona fragment. A pending user turn is committed
// first so turns stay in speaking order.
func (c *conversation) AddPersona(fragment string, now time.Time) (string, bool) {
	if fragment == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.persona.empty() {
		c.commit(&c.user)
	}
	return c.persona.add(fragment, now), true
}

// AddUserText records a typed message as a complete user turn.
func (c *conversation) AddUserText(text string, now time.Time) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commit(&c.persona)
	c.commit(&c.user)
	c.turns = append(c.turns, transcript.Turn{Speaker: transcript.SpeakerUser, Text: text, At: now})
	return true
}

func (c *conversation) CommitUser() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commit(&c.user)
}

// CommitAll commits the user turn then the persona turn.
func (c *conversation) CommitAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commit(&c.user) + c.commit(&c.persona)
}

// Interrupt commits the persona's partial turn marked as interrupted.
func (c *conversation) Interrupt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persona.interrupted = true
	return c.commit(&c.persona)
}

func (c *conversation) commit(b *turnBuffer) int {
	turn, ok := b.take()
	if !ok {
		return 0
	}
	c.turns = append(c.turns, turn)
	return 1
}

func (c *conversation) Turns() []transcript.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transcript.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}
