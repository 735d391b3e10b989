package realtime

const (
	defaultAudioFrames   = 128
	defaultEvents        = 64
	defaultICECandidates = 128
	defaultMaxSDPSize    = 64 * 1024
	defaultSTUNServer    = "stun:stun.l.google.com:19302"
)

type Config struct {
	ICEServers  []ICEServerConfig
	PortRange   PortRange
	BufferSizes BufferSizes
	MaxSDPSize  int
}

type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

type PortRange struct {
	Min int
	Max int
}

func (r PortRange) Valid() bool {
	return r.Min > 0 && r.Max > r.Min && r.Max <= 65535
}

type BufferSizes struct {
	AudioFrames   int
	Events        int
	ICECandidates int
}

func (c Config) withDefaults() Config {
	if c.BufferSizes.AudioFrames <= 0 {
		c.BufferSizes.AudioFrames = defaultAudioFrames
	}
	if c.BufferSizes.Events <= 0 {
		c.BufferSizes.Events = defaultEvents
	}
	if c.BufferSizes.ICECandidates <= 0 {
		c.BufferSizes.ICECandidates = defaultICECandidates
	}
	if c.MaxSDPSize <= 0 {
		c.MaxSDPSize = defaultMaxSDPSize
	}
	if len(c.ICEServers) == 0 {
		c.ICEServers = []ICEServerConfig{{URLs: []string{defaultSTUNServer}}}
	}
	return c
}
