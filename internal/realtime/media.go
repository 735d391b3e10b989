package realtime

import "github.com/coachai/coach-backend/internal/audio"

const (
	SampleRate    = 48000
	Channels      = 1
	FrameDuration = 20
	FrameSize     = SampleRate * FrameDuration / 1000

	opusPayloadType = 111
)

func newOpusCodec() (*audio.OpusCodec, error) {
	return audio.NewOpusCodec(SampleRate, Channels, FrameDuration)
}
