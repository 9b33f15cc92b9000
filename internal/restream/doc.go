// Package restream drives a live RTSP source into a continuously
// available DASH output.
//
// The package owns the orchestration policy on top of the engine graph
// built by internal/pipeline: which input feeds the output ladder
// (failover), when a freshly announced live port is wired into the
// decode chain (binding), and when a dead live source is restarted
// (reconnect scheduling).
//
// All of that state is owned by one goroutine, the control loop inside
// Streamer.Run. Engine callbacks and timers never mutate it directly;
// they post messages the loop consumes. That makes the orchestration
// layer lock-free by construction.
package restream
