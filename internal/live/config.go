package live

import (
	"errors"
	"time"
)

const (
	DefaultModel            = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultConnectAttempts  = 3
	DefaultConnectBackoff   = 500 * time.Millisecond
	DefaultLocation         = "us-central1"
)

var (
	ErrMissingAPIKey  = errors.New("live: GEMINI_API_KEY is required")
	ErrMissingProject = errors.New("live: GOOGLE_CLOUD_PROJECT is required for Vertex AI")
)

type Config struct {
	APIKey           string
	Model            string
	UseVertex        bool
	Project          string
	Location         string
	ConnectAttempts  int
	ConnectBackoff   time.Duration
	InputSampleRate  int
	OutputSampleRate int
}

func (c Config) WithDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Location == "" {
		c.Location = DefaultLocation
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = DefaultConnectBackoff
	}
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = DefaultInputSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = DefaultOutputSampleRate
	}
	return c
}

func (c Config) Validate() error {
	if c.UseVertex {
		if c.Project == "" {
			return ErrMissingProject
		}
		return nil
	}
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func (c Config) Retry() RetryPolicy {
	return RetryPolicy{Attempts: c.ConnectAttempts, Backoff: c.ConnectBackoff}
}
