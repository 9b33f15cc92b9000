package restream

import "github.com/e7canasta/dash-restreamer/internal/pipeline"

// action is the control loop's verdict on an engine event.
type action int

const (
	actIgnore action = iota
	actBindPort
	actLiveFault
	actPromoteLive
	actFatal
	actStop
)

// routeEvent maps an engine event to the loop action it warrants. Pure
// routing; the caller applies state changes.
//
// Errors from the live source are recoverable (failover plus reconnect).
// Errors from anywhere else are fatal: every other node is mandatory
// infrastructure and cannot be repaired locally.
func routeEvent(ev *pipeline.Event) action {
	switch ev.Kind {
	case pipeline.EventPortAnnounced:
		return actBindPort

	case pipeline.EventError:
		if ev.FromLiveSource {
			return actLiveFault
		}
		return actFatal

	case pipeline.EventEOS:
		return actStop

	case pipeline.EventStateChanged:
		if !ev.FromLiveSource {
			return actIgnore
		}
		if ev.NewState == pipeline.RunRunning {
			return actPromoteLive
		}
		if ev.OldState == pipeline.RunRunning && ev.NewState < pipeline.RunRunning {
			return actLiveFault
		}
		return actIgnore

	default:
		return actIgnore
	}
}
