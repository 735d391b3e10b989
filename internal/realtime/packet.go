package realtime

import "time"

// Frame lengths per TOC config, in units of 2.5ms (RFC 6716 section 3.1).
var tocFrameUnits = [32]int{
	4, 8, 16, 24, // SILK NB
	4, 8, 16, 24, // SILK MB
	4, 8, 16, 24, // SILK WB
	4, 8, // Hybrid SWB
	4, 8, // Hybrid FB
	1, 2, 4, 8, // CELT NB
	1, 2, 4, 8, // CELT WB
	1, 2, 4, 8, // CELT SWB
	1, 2, 4, 8, // CELT FB
}

const maxPacketUnits = 48 // 120ms

// OpusPacketDuration reads the TOC byte of an Opus packet and returns the
// number of samples it carries at sampleRate along with its play time.
// Empty packets are treated as one default frame.
func OpusPacketDuration(packet []byte, sampleRate int) (int, time.Duration) {
	if len(packet) == 0 {
		return sampleRate * FrameDuration / 1000, FrameDuration * time.Millisecond
	}

	toc := packet[0]
	units := tocFrameUnits[toc>>3]

	frames := 1
	switch toc & 0x03 {
	case 1, 2:
		frames = 2
	case 3:
		if len(packet) > 1 {
			if n := int(packet[1] & 0x3F); n > 0 {
				frames = n
			}
		}
	}

	total := units * frames
	if total > maxPacketUnits {
		total = maxPacketUnits
	}

	samples := total * sampleRate / 400
	return samples, time.Duration(total) * 2500 * time.Microsecond
}
