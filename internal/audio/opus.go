package audio

import (
	"fmt"
	"sync"

	"gopkg.in/hraban/opus.v2"
)

const (
	maxEncodedSize = 1024
	// 120ms is the longest duration a single Opus packet can carry.
	maxPacketMs = 120
)

var encodePool = sync.Pool{
	New: func() any {
		buf := make([]byte, maxEncodedSize)
		return &buf
	},
}

// OpusCodec pairs an encoder and decoder for one mono or stereo stream.
// Each peer owns its own codec; libopus state must not be shared.
type OpusCodec struct {
	encoder    *opus.Encoder
	decoder    *opus.Decoder
	sampleRate int
	channels   int
	frameSize  int
	decodeBuf  []int16
}

func NewOpusCodec(sampleRate, channels, frameMs int) (*OpusCodec, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}

	return &OpusCodec{
		encoder:    enc,
		decoder:    dec,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate * frameMs / 1000,
		decodeBuf:  make([]int16, sampleRate*maxPacketMs/1000*channels),
	}, nil
}

func (c *OpusCodec) Encode(pcm []int16) ([]byte, error) {
	bufPtr := encodePool.Get().(*[]byte)
	defer encodePool.Put(bufPtr)

	buf := *bufPtr
	n, err := c.encoder.Encode(pcm, buf)
	if err != nil {
		return nil, err
	}
	result := make([]byte, n)
	copy(result, buf[:n])
	return result, nil
}

// Decode returns a fresh slice; the internal buffer is reused between calls.
func (c *OpusCodec) Decode(data []byte) ([]int16, error) {
	n, err := c.decoder.Decode(data, c.decodeBuf)
	if err != nil {
		return nil, err
	}
	pcm := make([]int16, n*c.channels)
	copy(pcm, c.decodeBuf[:n*c.channels])
	return pcm, nil
}

func (c *OpusCodec) FrameSamples() int {
	return c.frameSize
}

func (c *OpusCodec) SampleRate() int {
	return c.sampleRate
}
