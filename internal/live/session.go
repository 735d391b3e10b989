package live

import (
	"context"
	"errors"
)

var ErrSessionClosed = errors.New("live: session closed")

// SetupOptions is what a coaching session asks of the model when it dials.
type SetupOptions struct {
	SystemInstruction   string
	Voice               string
	Language            string
	InputTranscription  bool
	OutputTranscription bool
	// ResumeHandle continues an earlier session after a GoAway.
	ResumeHandle string
}

// Session is one open bidirectional stream with the model.
// SendAudio expects 16kHz mono PCM16LE.
type Session interface {
	SendAudio(pcm []byte) error
	SendText(text string) error
	EndAudioStream() error
	Receive() (*Message, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, opts SetupOptions) (Session, error)
}

type Transcript struct {
	Text     string
	Finished bool
}

// Message is one server message reduced to the fields a coaching session
// acts on.
type Message struct {
	Audio            []byte
	AudioRate        int
	InputTranscript  *Transcript
	OutputTranscript *Transcript
	TurnComplete     bool
	Interrupted      bool
	GoAway           bool
	ResumeHandle     string
	TotalTokens      int
}

func (m *Message) HasAudio() bool {
	return m != nil && len(m.Audio) > 0
}
