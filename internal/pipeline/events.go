package pipeline

import "github.com/tinyzimmer/go-gst/gst"

// Input identifies a selectable branch of the graph's input switch.
type Input int

const (
	// InputFiller is the synthetic test-signal branch, always available.
	InputFiller Input = iota
	// InputLive is the decoded live-source branch, present only after a
	// video port has been bound.
	InputLive
)

// String returns "filler" or "live".
func (i Input) String() string {
	if i == InputLive {
		return "live"
	}
	return "filler"
}

// MediaKind is the media type carried by an announced port.
type MediaKind int

const (
	MediaUnknown MediaKind = iota
	MediaVideo
	MediaAudio
)

// String returns a human-readable media kind.
func (m MediaKind) String() string {
	switch m {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// RunState mirrors the engine's element state ladder in ascending order,
// so state regressions can be detected by ordinary comparison.
type RunState int

const (
	RunStopped RunState = iota
	RunReady
	RunPaused
	RunRunning
)

// String returns a human-readable run state.
func (s RunState) String() string {
	switch s {
	case RunReady:
		return "ready"
	case RunPaused:
		return "paused"
	case RunRunning:
		return "running"
	default:
		return "stopped"
	}
}

// runStateOf maps an engine state to the orchestration-level ladder.
func runStateOf(state gst.State) RunState {
	switch state {
	case gst.StateReady:
		return RunReady
	case gst.StatePaused:
		return RunPaused
	case gst.StatePlaying:
		return RunRunning
	default:
		return RunStopped
	}
}

// EventKind discriminates the engine notifications the control loop
// consumes. Everything else on the bus is dropped at translation.
type EventKind int

const (
	// EventPortAnnounced reports a new dynamic output on the live source.
	EventPortAnnounced EventKind = iota
	// EventPortsComplete reports that the live source finished announcing
	// ports for the current negotiation. Informational only.
	EventPortsComplete
	// EventError reports an error from some node in the graph.
	EventError
	// EventEOS reports end of stream.
	EventEOS
	// EventStateChanged reports a live-source run-state transition.
	EventStateChanged
)

// Event is one engine notification translated for the control loop:
// attribution to the live source is pre-resolved, announced ports carry
// their media kind, and errors carry their fault classification.
type Event struct {
	Kind EventKind

	// Originating node and whether it is the live source.
	SourceName     string
	FromLiveSource bool

	// EventPortAnnounced payload.
	Port      *Port
	PortMedia MediaKind
	PortCaps  string

	// EventError payload.
	Message  string
	Debug    string
	Category FaultCategory

	// EventStateChanged payload.
	OldState RunState
	NewState RunState
}
