package audio

import "encoding/binary"

func PCMBytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func Int16ToPCMBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// DurationMs returns the playback length of mono PCM16 bytes at rate.
func DurationMs(pcmBytes, rate int) int64 {
	if rate <= 0 {
		return 0
	}
	return int64(pcmBytes/2) * 1000 / int64(rate)
}
