package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coachai/coach-backend/internal/audio"
	"github.com/coachai/coach-backend/internal/transport"
	"github.com/pion/webrtc/v4"
)

const defaultOutputRate = 24000

type textSender interface {
	SendText(s string) error
}

// Conn implements transport.Connection over one peer and its data channel.
// Server events sent before the data channel opens are held and flushed in
// order once it does.
type Conn struct {
	cfg    Config
	peer   mediaPeer
	output *OutputWorker
	codec  *audio.OpusCodec
	log    *slog.Logger

	messages  chan transport.ClientEnvelope
	audioIn   chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// sendMu orders writes to the data channel, including the pending flush.
	sendMu        sync.Mutex
	mu            sync.RWMutex
	dc            textSender
	connected     bool
	closed        bool
	paused        bool
	pendingEvents [][]byte
	bpCb          transport.BackpressureCallback

	audioMu   sync.Mutex
	resampler *audio.Resampler
	remainder []int16

	outputOnce sync.Once
	droppedIn  atomic.Int64
}

func NewConn(peer mediaPeer, cfg Config, log *slog.Logger) (*Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	codec, err := newOpusCodec()
	if err != nil {
		return nil, err
	}

	c := &Conn{
		cfg:      cfg,
		peer:     peer,
		codec:    codec,
		log:      log,
		messages: make(chan transport.ClientEnvelope, cfg.BufferSizes.Events),
		audioIn:  make(chan []byte, cfg.BufferSizes.AudioFrames),
		done:     make(chan struct{}),
	}
	c.output = NewOutputWorker(peer, cfg.BufferSizes.AudioFrames, log)

	peer.OnAudio(c.deliverAudio)
	peer.OnConnected(c.markConnected)
	peer.OnFailed(func() {
		c.log.Info("peer connection lost")
		go c.Close()
	})

	return c, nil
}

func (c *Conn) deliverAudio(payload []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}

	dropped := false
	select {
	case c.audioIn <- payload:
	default:
		dropped = true
	}
	cb := c.bpCb
	c.mu.RUnlock()

	if dropped {
		c.droppedIn.Add(1)
		if cb != nil {
			cb(1)
		}
	}
}

func (c *Conn) markConnected() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = true
	c.mu.Unlock()

	c.outputOnce.Do(c.output.Start)
}

func (c *Conn) SetupDataChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		c.attachChannel(dc)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			c.handleMessage(msg.Data)
		}
	})

	dc.OnClose(func() {
		go c.Close()
	})
}

func (c *Conn) attachChannel(dc textSender) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.dc = dc
	pending := c.pendingEvents
	c.pendingEvents = nil
	c.mu.Unlock()

	for _, data := range pending {
		if err := dc.SendText(string(data)); err != nil {
			c.log.Debug("failed to flush buffered event", "error", err)
		}
	}

	c.markConnected()
}

func (c *Conn) handleMessage(data []byte) {
	var base struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.Unmarshal(data, &base); err != nil || base.Type == "" {
		c.log.Debug("ignoring malformed client message")
		return
	}

	if base.Type == transport.ClientEventICECandidate {
		c.handleICECandidate(data)
		return
	}

	payload := base.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(data)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.messages <- transport.ClientEnvelope{Type: base.Type, Payload: payload}:
	default:
		c.log.Warn("client message dropped, buffer full", "type", base.Type)
	}
}

func (c *Conn) handleICECandidate(data []byte) {
	var msg struct {
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := c.peer.AddICECandidate(msg.Candidate); err != nil {
		c.log.Debug("failed to add ICE candidate", "error", err)
	}
}

func (c *Conn) SendICECandidate(candidate webrtc.ICECandidateInit) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.RLock()
	dc := c.dc
	c.mu.RUnlock()
	if dc == nil {
		return nil
	}

	data, err := json.Marshal(map[string]any{
		"type":      transport.ClientEventICECandidate,
		"candidate": candidate,
	})
	if err != nil {
		return err
	}
	return dc.SendText(string(data))
}

func (c *Conn) Send(ctx context.Context, event transport.ServerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	dc := c.dc
	if dc == nil {
		if len(c.pendingEvents) < c.cfg.BufferSizes.Events {
			c.pendingEvents = append(c.pendingEvents, data)
		} else {
			c.log.Warn("event dropped before data channel opened", "type", event.Type)
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return dc.SendText(string(data))
}

// SendAudio converts PCM16 to 48kHz, cuts it into 20ms Opus frames and
// queues them for paced output. Samples that do not fill a frame are kept
// for the next call unless the chunk is final, in which case the last
// frame is padded with silence.
func (c *Conn) SendAudio(ctx context.Context, chunk transport.AudioChunk) error {
	c.mu.RLock()
	skip := c.closed || c.paused
	c.mu.RUnlock()
	if skip {
		return nil
	}

	c.audioMu.Lock()
	defer c.audioMu.Unlock()

	rate := int(chunk.SampleRate)
	switch rate {
	case 8000, 16000, 22050, 24000, 44100, 48000:
	case 0:
		rate = defaultOutputRate
	default:
		c.log.Warn("unexpected output sample rate, assuming 24kHz", "rate", rate)
		rate = defaultOutputRate
	}

	if c.resampler == nil || c.resampler.FromRate() != rate {
		c.resampler = audio.NewResampler(rate, SampleRate)
	}

	buf := append(c.remainder, c.resampler.Process(audio.PCMBytesToInt16(chunk.Data))...)
	if chunk.Final {
		if rem := len(buf) % FrameSize; rem != 0 {
			buf = append(buf, make([]int16, FrameSize-rem)...)
		}
		c.resampler.Reset()
	}

	n := len(buf) / FrameSize * FrameSize
	for i := 0; i < n; i += FrameSize {
		packet, err := c.codec.Encode(buf[i : i+FrameSize])
		if err != nil {
			c.log.Error("opus encode failed", "error", err)
			continue
		}
		if err := c.output.Enqueue(packet); err != nil {
			return err
		}
	}

	c.remainder = append(c.remainder[:0:0], buf[n:]...)
	return nil
}

func (c *Conn) Messages() <-chan transport.ClientEnvelope {
	return c.messages
}

func (c *Conn) AudioIn() <-chan []byte {
	return c.audioIn
}

func (c *Conn) AudioFormat() transport.AudioFormat {
	return transport.AudioFormatOpus
}

func (c *Conn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.connected = false
		c.dc = nil
		c.pendingEvents = nil
		close(c.done)
		close(c.messages)
		close(c.audioIn)
		c.mu.Unlock()

		c.output.Stop()

		if dropped := c.droppedIn.Load(); dropped > 0 {
			c.log.Debug("inbound audio frames dropped", "count", dropped)
		}

		err = c.peer.Close()
	})
	return err
}

// FlushAudioQueue drops queued output frames along with any partial frame.
func (c *Conn) FlushAudioQueue() int {
	c.audioMu.Lock()
	c.remainder = nil
	if c.resampler != nil {
		c.resampler.Reset()
	}
	c.audioMu.Unlock()

	return c.output.Flush()
}

func (c *Conn) SetBackpressureCallback(cb transport.BackpressureCallback) {
	c.mu.Lock()
	c.bpCb = cb
	c.mu.Unlock()
	c.output.SetBackpressureCallback(cb)
}

func (c *Conn) PauseOutput() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	c.output.Pause()
}

func (c *Conn) ResumeOutput() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.output.Resume()
}

func (c *Conn) WaitForAudioDrain() {
	c.output.WaitForDrain()
}

var (
	_ transport.Connection       = (*Conn)(nil)
	_ transport.OutputController = (*Conn)(nil)
)
