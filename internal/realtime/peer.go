package realtime

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// mediaPeer is the part of a Peer that a Conn drives.
type mediaPeer interface {
	WriteRTP(opusData []byte, samples int) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnAudio(fn func([]byte))
	OnConnected(fn func())
	OnFailed(fn func())
	Close() error
}

type Peer struct {
	pc         *webrtc.PeerConnection
	audioTrack *webrtc.TrackLocalStaticRTP
	log        *slog.Logger

	mu          sync.RWMutex
	seq         uint16
	timestamp   uint32
	ssrc        uint32
	onAudio     func([]byte)
	onConnected func()
	onFailed    func()
}

func NewPeer(pc *webrtc.PeerConnection, log *slog.Logger) (*Peer, error) {
	if log == nil {
		log = slog.Default()
	}

	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"coach-persona",
	)
	if err != nil {
		return nil, err
	}

	if _, err := pc.AddTrack(track); err != nil {
		return nil, err
	}

	p := &Peer{
		pc:         pc,
		audioTrack: track,
		log:        log,
		ssrc:       binary.BigEndian.Uint32(seed[:4]),
		seq:        binary.BigEndian.Uint16(seed[4:6]),
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		codec := remote.Codec()
		p.log.Debug("remote audio track",
			"codec", codec.MimeType,
			"rate", codec.ClockRate,
			"channels", codec.Channels)
		go p.readIncomingAudio(remote)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("peer state changed", "state", state.String())

		p.mu.RLock()
		onConnected := p.onConnected
		onFailed := p.onFailed
		p.mu.RUnlock()

		switch state {
		case webrtc.PeerConnectionStateConnected:
			if onConnected != nil {
				onConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if onFailed != nil {
				onFailed()
			}
		}
	})

	return p, nil
}

func (p *Peer) readIncomingAudio(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.log.Debug("remote audio track ended", "error", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		p.mu.RLock()
		cb := p.onAudio
		p.mu.RUnlock()

		if cb != nil {
			cb(pkt.Payload)
		}
	}
}

func (p *Peer) SetOffer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
}

// CreateAnswer returns the answer without waiting for ICE gathering; local
// candidates are trickled over SSE and the data channel.
func (p *Peer) CreateAnswer() (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (p *Peer) WriteRTP(opusData []byte, samples int) error {
	p.mu.Lock()
	seq := p.seq
	ts := p.timestamp
	p.seq++
	p.timestamp += uint32(samples)
	p.mu.Unlock()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           p.ssrc,
		},
		Payload: opusData,
	}

	return p.audioTrack.WriteRTP(pkt)
}

func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *Peer) OnAudio(fn func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAudio = fn
}

func (p *Peer) OnConnected(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnected = fn
}

func (p *Peer) OnFailed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailed = fn
}

func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

func (p *Peer) OnDataChannel(fn func(*webrtc.DataChannel)) {
	p.pc.OnDataChannel(fn)
}

func (p *Peer) Close() error {
	return p.pc.Close()
}
