package session

// State is the conversation session's lifecycle state. A session is in
// exactly one state at any instant; all transitions happen on the session's
// event goroutine.
type State int

const (
	// StateIdle is the initial state before session allocation.
	StateIdle State = iota

	// StateConnecting covers session allocation and transcription link
	// establishment, including mid-call link rebuilds for language switches.
	StateConnecting

	// StateListening means capture audio flows to the transcription link
	// and the turn detector is armed.
	StateListening

	// StateProcessing means a finalized turn is in flight to the reasoning
	// boundary. Duplicate turn signals are dropped while here.
	StateProcessing

	// StateSpeaking means a synthesized reply is playing. Capture is muted
	// so the pipeline does not re-ingest its own output.
	StateSpeaking

	// StateExpired is terminal: the time budget ran out or the session was
	// ended explicitly. All resources are released.
	StateExpired
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// active reports whether the time budget is burning in this state.
func (s State) active() bool {
	switch s {
	case StateConnecting, StateListening, StateProcessing, StateSpeaking:
		return true
	}
	return false
}
