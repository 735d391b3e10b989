package live

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GenAIDialer opens Gemini Live sessions through the genai SDK, against
// either the Gemini API or Vertex AI.
type GenAIDialer struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	client *genai.Client
}

func NewGenAIDialer(cfg Config, log *slog.Logger) *GenAIDialer {
	if log == nil {
		log = slog.Default()
	}
	return &GenAIDialer{
		cfg: cfg.WithDefaults(),
		log: log.With("component", "live"),
	}
}

func (d *GenAIDialer) Config() Config {
	return d.cfg
}

// clientFor creates the SDK client on first use so the process can start
// without credentials and report the problem through readiness instead.
func (d *GenAIDialer) clientFor(ctx context.Context) (*genai.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}
	if err := d.cfg.Validate(); err != nil {
		return nil, Permanent(err)
	}

	cc := &genai.ClientConfig{
		APIKey:  d.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if d.cfg.UseVertex {
		cc = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  d.cfg.Project,
			Location: d.cfg.Location,
		}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, Permanent(fmt.Errorf("create genai client: %w", err))
	}
	d.client = client
	return client, nil
}

func (d *GenAIDialer) Dial(ctx context.Context, opts SetupOptions) (Session, error) {
	client, err := d.clientFor(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.Live.Connect(ctx, d.cfg.Model, buildConnectConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("live connect %s: %w", d.cfg.Model, err)
	}

	d.log.Debug("live session opened", "model", d.cfg.Model, "resumed", opts.ResumeHandle != "")
	return &genaiSession{
		session:    session,
		inputMIME:  fmt.Sprintf("audio/pcm;rate=%d", d.cfg.InputSampleRate),
		outputRate: d.cfg.OutputSampleRate,
	}, nil
}

func buildConnectConfig(opts SetupOptions) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}

	if opts.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: opts.SystemInstruction}},
		}
	}

	if opts.Voice != "" || opts.Language != "" {
		sc := &genai.SpeechConfig{LanguageCode: opts.Language}
		if opts.Voice != "" {
			sc.VoiceConfig = &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: opts.Voice},
			}
		}
		cfg.SpeechConfig = sc
	}

	if opts.InputTranscription {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if opts.OutputTranscription {
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}

	cfg.SessionResumption = &genai.SessionResumptionConfig{Handle: opts.ResumeHandle}
	return cfg
}

type genaiSession struct {
	session    *genai.Session
	inputMIME  string
	outputRate int

	mu     sync.Mutex
	closed bool
}

func (s *genaiSession) send(input genai.LiveRealtimeInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.session.SendRealtimeInput(input)
}

func (s *genaiSession) SendAudio(pcm []byte) error {
	return s.send(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: s.inputMIME},
	})
}

func (s *genaiSession) SendText(text string) error {
	return s.send(genai.LiveRealtimeInput{Text: text})
}

func (s *genaiSession) EndAudioStream() error {
	return s.send(genai.LiveRealtimeInput{AudioStreamEnd: true})
}

func (s *genaiSession) Receive() (*Message, error) {
	msg, err := s.session.Receive()
	if err != nil {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrSessionClosed
		}
		return nil, err
	}
	return convertMessage(msg, s.outputRate), nil
}

func (s *genaiSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.session.Close()
}

func convertMessage(msg *genai.LiveServerMessage, defaultRate int) *Message {
	out := &Message{GoAway: msg.GoAway != nil}

	if u := msg.SessionResumptionUpdate; u != nil && u.Resumable && u.NewHandle != "" {
		out.ResumeHandle = u.NewHandle
	}
	if msg.UsageMetadata != nil {
		out.TotalTokens = int(msg.UsageMetadata.TotalTokenCount)
	}

	sc := msg.ServerContent
	if sc == nil {
		return out
	}

	out.TurnComplete = sc.TurnComplete
	out.Interrupted = sc.Interrupted

	if t := sc.InputTranscription; t != nil {
		out.InputTranscript = &Transcript{Text: t.Text, Finished: t.Finished}
	}
	if t := sc.OutputTranscription; t != nil {
		out.OutputTranscript = &Transcript{Text: t.Text, Finished: t.Finished}
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
				continue
			}
			out.Audio = append(out.Audio, part.InlineData.Data...)
			if out.AudioRate == 0 {
				out.AudioRate = sampleRateOf(part.InlineData.MIMEType, defaultRate)
			}
		}
	}

	return out
}

// sampleRateOf reads the rate parameter of a MIME type like
// "audio/pcm;rate=24000".
func sampleRateOf(mimeType string, fallback int) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return fallback
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}
