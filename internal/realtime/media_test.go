package realtime

import "testing"

func TestFrameSize(t *testing.T) {
	if FrameSize != 960 {
		t.Errorf("expected 20ms at 48kHz to be 960 samples, got %d", FrameSize)
	}
}

func TestNewOpusCodec(t *testing.T) {
	codec, err := newOpusCodec()
	if err != nil {
		t.Fatalf("newOpusCodec: %v", err)
	}
	if codec.FrameSamples() != FrameSize {
		t.Errorf("expected %d samples per frame, got %d", FrameSize, codec.FrameSamples())
	}
	if codec.SampleRate() != SampleRate {
		t.Errorf("expected rate %d, got %d", SampleRate, codec.SampleRate())
	}
}
