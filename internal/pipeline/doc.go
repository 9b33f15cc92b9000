// Package pipeline builds and drives the GStreamer processing graph that
// turns one live RTSP source into multi-quality MPEG-DASH output.
//
// The graph has a fixed static core built once at startup:
//
//	rtspsrc (dynamic pads)          input-selector → tee → N × encode chains
//	videotestsrc → convert → caps ↗
//
// plus one dynamically bound decode chain per announced live video port:
//
//	rtspsrc pad → rtph264depay → h264parse → avdec_h264 → videoconvert → caps
//
// Each encode chain is queue → videoconvert → videoscale → videorate →
// capsfilter → openh264enc → h264parse → dashsink, one per quality profile.
//
// The package exposes the graph to the control loop as data: bus messages
// and pad announcements are translated into Event values by PollEvent, and
// the loop acts on the graph through Graph methods (SelectInput,
// BindLivePort, RestartLiveSource). No orchestration policy lives here.
package pipeline
