package transport

import (
	"encoding/json"
	"net/http"
	"time"
)

type EventType string

const (
	EventSessionCreated      EventType = "session.created"
	EventSessionReady        EventType = "session.ready"
	EventSessionReconnecting EventType = "session.reconnecting"
	EventSessionEnded        EventType = "session.ended"
	EventTranscriptUser      EventType = "transcript.user"
	EventTranscriptPersona   EventType = "transcript.persona"
	EventResponseStarted     EventType = "response.started"
	EventResponseDone        EventType = "response.done"
	EventResponseInterrupted EventType = "response.interrupted"
	EventError               EventType = "error"
)

const (
	ClientEventSessionEnd   = "session.end"
	ClientEventInputText    = "input_text"
	ClientEventICECandidate = "ice.candidate"
)

type AudioFormat int

const (
	AudioFormatOpus AudioFormat = iota
	AudioFormatPCM
)

// AudioChunk carries mono PCM16LE audio. Final marks the last chunk of a
// response so the transport can pad and flush any partial frame.
type AudioChunk struct {
	Data       []byte
	SampleRate uint32
	Final      bool
}

type BackpressureCallback func(droppedCount int)

type ServerEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

type ClientEnvelope struct {
	Type    string
	Payload json.RawMessage
}

type SessionCreatedPayload struct {
	SessionID  string `json:"session_id"`
	ScenarioID string `json:"scenario_id"`
	Persona    string `json:"persona"`
}

type SessionEndedPayload struct {
	SessionID  string `json:"session_id"`
	Reason     string `json:"reason"`
	DurationMs int64  `json:"duration_ms"`
	Turns      int    `json:"turns"`
}

type ReconnectingPayload struct {
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

type TranscriptPayload struct {
	Text      string    `json:"text"`
	Delta     string    `json:"delta,omitempty"`
	IsFinal   bool      `json:"is_final"`
	Timestamp time.Time `json:"timestamp"`
}

type ResponsePayload struct {
	ResponseID  string `json:"response_id"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

type ErrorPayload struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

type InputTextPayload struct {
	Text string `json:"text"`
}

type UserContext struct {
	UserID string
	IP     string
	Name   string
	Email  string
}

type StartRequest struct {
	SessionID   string
	Conn        Connection
	UserContext *UserContext
	Config      *SessionConfig
}

type SessionConfig struct {
	ScenarioID string `json:"scenario_id,omitempty"`
	Voice      string `json:"voice,omitempty"`
	Language   string `json:"language,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

type UserProfile struct {
	UserID string
	Name   string
	Email  string
	Role   string
}

type AuthFunc func(r *http.Request) (*UserProfile, error)
