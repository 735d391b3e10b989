package coach

import "sync/atomic"

type State string

const (
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
)

type stateValue struct {
	v atomic.Value
}

func newStateValue(s State) *stateValue {
	sv := &stateValue{}
	sv.v.Store(s)
	return sv
}

func (sv *stateValue) Load() State {
	return sv.v.Load().(State)
}

func (sv *stateValue) Store(s State) {
	sv.v.Store(s)
}

// Advance moves to next unless the session is already closing or closed.
func (sv *stateValue) Advance(next State) bool {
	for {
		cur := sv.Load()
		if cur == StateClosing || cur == StateClosed {
			return false
		}
		if sv.v.CompareAndSwap(cur, next) {
			return true
		}
	}
}

const (
	ReasonClientEnded      = "client_ended"
	ReasonConnectionClosed = "connection_closed"
	ReasonMaxDuration      = "max_duration"
	ReasonConnectFailed    = "connect_failed"
	ReasonLiveError        = "live_error"
	ReasonShutdown         = "shutdown"
	ReasonEndedByServer    = "ended_by_server"
)
