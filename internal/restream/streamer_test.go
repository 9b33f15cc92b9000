package restream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/dash-restreamer/internal/pipeline"
)

// fakeEngine scripts the graph side of the control loop: tests push
// events, the loop polls them, and every mutation the loop issues is
// recorded.
type fakeEngine struct {
	events chan *pipeline.Event

	mu              sync.Mutex
	started         bool
	stopped         bool
	startErr        error
	bindErr         error
	restartFailures int
	selections      []pipeline.Input
	binds           []*pipeline.Port
	restarts        int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan *pipeline.Event, 16)}
}

func (f *fakeEngine) push(ev *pipeline.Event) { f.events <- ev }

func (f *fakeEngine) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return f.startErr
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeEngine) SelectInput(in pipeline.Input) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selections = append(f.selections, in)
	return nil
}

func (f *fakeEngine) BindLivePort(port *pipeline.Port) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bindErr != nil {
		return f.bindErr
	}
	f.binds = append(f.binds, port)
	return nil
}

func (f *fakeEngine) RestartLiveSource() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	if f.restartFailures > 0 {
		f.restartFailures--
		return errors.New("failed to restart live source")
	}
	return nil
}

func (f *fakeEngine) PollEvent(timeout time.Duration) *pipeline.Event {
	select {
	case ev := <-f.events:
		return ev
	case <-time.After(timeout):
		return nil
	}
}

func (f *fakeEngine) ChainStats() []pipeline.ChainStats {
	return []pipeline.ChainStats{{Profile: "fullhd"}, {Profile: "hd"}}
}

func (f *fakeEngine) setBindErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindErr = err
}

// failRestarts makes the next n restart calls fail.
func (f *fakeEngine) failRestarts(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartFailures = n
}

func (f *fakeEngine) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

func (f *fakeEngine) bindCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.binds)
}

func (f *fakeEngine) lastBind() *pipeline.Port {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.binds) == 0 {
		return nil
	}
	return f.binds[len(f.binds)-1]
}

func (f *fakeEngine) selectionLog() []pipeline.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pipeline.Input, len(f.selections))
	copy(out, f.selections)
	return out
}

func (f *fakeEngine) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func videoAnnouncement() *pipeline.Event {
	return &pipeline.Event{
		Kind:           pipeline.EventPortAnnounced,
		SourceName:     "live-source",
		FromLiveSource: true,
		Port:           &pipeline.Port{},
		PortMedia:      pipeline.MediaVideo,
		PortCaps:       "application/x-rtp, media=(string)video, encoding-name=(string)H264",
	}
}

func liveError(msg string, category pipeline.FaultCategory) *pipeline.Event {
	return &pipeline.Event{
		Kind:           pipeline.EventError,
		SourceName:     "live-source",
		FromLiveSource: true,
		Message:        msg,
		Category:       category,
	}
}

func liveRunning() *pipeline.Event {
	return &pipeline.Event{
		Kind:           pipeline.EventStateChanged,
		SourceName:     "live-source",
		FromLiveSource: true,
		OldState:       pipeline.RunPaused,
		NewState:       pipeline.RunRunning,
	}
}

// startSession runs a streamer against the fake with short timers. The
// returned drain function cancels the loop and waits for it to exit.
func startSession(t *testing.T, eng *fakeEngine) (*Streamer, chan error, func()) {
	t.Helper()
	s := newWithEngine(Config{
		SourceURI:       "rtsp://camera.local/stream",
		OutputDir:       t.TempDir(),
		ReconnectDelay:  20 * time.Millisecond,
		ActivationDelay: 10 * time.Millisecond,
	}, eng)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	drain := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("run loop did not exit")
		}
	}
	return s, done, drain
}

func waitFor(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestStreamer_StartsOnFiller(t *testing.T) {
	eng := newFakeEngine()
	s, _, drain := startSession(t, eng)
	defer drain()

	st := s.Status()
	if st.ActiveInput != "filler" {
		t.Errorf("initial active input = %q, want filler", st.ActiveInput)
	}
	if st.LiveBound {
		t.Error("initial status reports a bound live branch")
	}
	if len(st.Chains) != 2 {
		t.Errorf("status chains = %d, want 2", len(st.Chains))
	}
	if st.SessionID == "" {
		t.Error("status has no session id")
	}
}

func TestStreamer_PromotesAfterPortBind(t *testing.T) {
	eng := newFakeEngine()
	s, _, drain := startSession(t, eng)
	defer drain()

	ann := videoAnnouncement()
	eng.push(ann)

	waitFor(t, func() bool { return eng.bindCount() == 1 }, "port bind")
	if eng.lastBind() != ann.Port {
		t.Error("bound port is not the announced port")
	}
	waitFor(t, func() bool { return s.Status().LiveBound }, "live bound mirror")

	// Activation delay elapses, then the output flips to live.
	waitFor(t, func() bool { return s.Status().ActiveInput == "live" }, "promotion to live")

	sel := eng.selectionLog()
	if len(sel) < 2 || sel[len(sel)-1] != pipeline.InputLive {
		t.Fatalf("selection log = %v, want park-then-live", sel)
	}
	if sel[0] != pipeline.InputFiller {
		t.Errorf("first selection = %v, want filler park before bind", sel[0])
	}
	if got := s.Status().Failovers; got != 1 {
		t.Errorf("failovers = %d, want 1", got)
	}

	t.Log("✅ Announced video port bound and promoted after the activation delay")
}

func TestStreamer_IgnoresNonVideoPorts(t *testing.T) {
	eng := newFakeEngine()
	s, _, drain := startSession(t, eng)
	defer drain()

	eng.push(&pipeline.Event{
		Kind:           pipeline.EventPortAnnounced,
		SourceName:     "live-source",
		FromLiveSource: true,
		Port:           &pipeline.Port{},
		PortMedia:      pipeline.MediaAudio,
		PortCaps:       "application/x-rtp, media=(string)audio",
	})

	waitFor(t, func() bool { return s.Status().PortsAnnounced == 1 }, "announcement counted")
	time.Sleep(100 * time.Millisecond)

	if eng.bindCount() != 0 {
		t.Errorf("bind count = %d for audio port, want 0", eng.bindCount())
	}
	if st := s.Status(); st.ActiveInput != "filler" || st.LiveBound {
		t.Errorf("status after audio port = %+v, want untouched filler state", st)
	}
}

func TestStreamer_RebindParksOnFiller(t *testing.T) {
	eng := newFakeEngine()
	s, _, drain := startSession(t, eng)
	defer drain()

	eng.push(videoAnnouncement())
	waitFor(t, func() bool { return s.Status().ActiveInput == "live" }, "first promotion")

	// A re-announced port must demote before rewiring, then promote again.
	eng.push(videoAnnouncement())
	waitFor(t, func() bool { return eng.bindCount() == 2 }, "second bind")
	waitFor(t, func() bool { return s.Status().Failovers == 3 }, "park and re-promotion")

	sel := eng.selectionLog()
	if sel[len(sel)-1] != pipeline.InputLive {
		t.Errorf("final selection = %v, want live", sel[len(sel)-1])
	}
}

func TestStreamer_LiveFaultFailsOverAndRetriesOnce(t *testing.T) {
	eng := newFakeEngine()
	s, _, drain := startSession(t, eng)
	defer drain()

	eng.push(videoAnnouncement())
	waitFor(t, func() bool { return s.Status().ActiveInput == "live" }, "promotion")

	eng.push(liveError("Could not read from resource.", pipeline.FaultNetwork))

	waitFor(t, func() bool { return s.Status().ActiveInput == "filler" }, "failover to filler")
	waitFor(t, func() bool { return s.Status().ReconnectsScheduled == 1 }, "reconnect scheduled")
	st := s.Status()
	if st.LiveFaults != 1 {
		t.Errorf("live faults = %d, want 1", st.LiveFaults)
	}
	if st.LastFault == nil {
		t.Fatal("no fault record after live error")
	}
	if st.LastFault.Fatal {
		t.Error("live fault recorded as fatal")
	}
	if st.LastFault.Category != "network" {
		t.Errorf("fault category = %q, want network", st.LastFault.Category)
	}
	if st.LastFault.EpisodeID == "" {
		t.Error("fault record has no episode id")
	}

	waitFor(t, func() bool { return eng.restartCount() == 1 }, "scheduled retry")
	time.Sleep(150 * time.Millisecond)
	if got := eng.restartCount(); got != 1 {
		t.Errorf("restarts = %d after one fault, want exactly 1", got)
	}

	t.Log("✅ Live fault parked output on filler and issued exactly one delayed retry")
}

func TestStreamer_FaultBurstCoalescesIntoOneRetry(t *testing.T) {
	eng := newFakeEngine()
	s, _, drain := startSession(t, eng)
	defer drain()

	eng.push(liveError("Connection refused", pipeline.FaultNetwork))
	eng.push(liveError("Connection refused", pipeline.FaultNetwork))
	eng.push(liveError("Connection refused", pipeline.FaultNetwork))

	waitFor(t, func() bool { return s.Status().LiveFaults == 3 }, "all faults handled")
	waitFor(t, func() bool { return s.Status().ReconnectsScheduled == 3 }, "one schedule per fault")

	waitFor(t, func() bool { return eng.restartCount() == 1 }, "coalesced retry")
	time.Sleep(150 * time.Millisecond)
	if got := eng.restartCount(); got != 1 {
		t.Errorf("restarts = %d after fault burst, want exactly 1", got)
	}
	if got := s.Status().Retries; got != 1 {
		t.Errorf("retry counter = %d, want 1", got)
	}

	t.Log("✅ Burst of faults collapsed into a single pending retry")
}

func TestStreamer_FailedRetryReschedules(t *testing.T) {
	eng := newFakeEngine()
	eng.failRestarts(1)
	s, _, drain := startSession(t, eng)
	defer drain()

	eng.push(liveError("Connection refused", pipeline.FaultNetwork))
	waitFor(t, func() bool { return eng.restartCount() == 1 }, "first retry")

	// The failed restart re-arms the schedule; the next firing goes
	// through once the engine accepts restarts again.
	waitFor(t, func() bool { return eng.restartCount() == 2 }, "rescheduled retry")

	time.Sleep(150 * time.Millisecond)
	if got := eng.restartCount(); got != 2 {
		t.Errorf("restarts = %d, want exactly 2", got)
	}
	if got := s.Status().ReconnectsScheduled; got != 2 {
		t.Errorf("reconnects scheduled = %d, want 2", got)
	}
}

func TestStreamer_StateDropTreatedAsFault(t *testing.T) {
	eng := newFakeEngine()
	s, _, drain := startSession(t, eng)
	defer drain()

	eng.push(videoAnnouncement())
	waitFor(t, func() bool { return s.Status().ActiveInput == "live" }, "promotion")

	eng.push(&pipeline.Event{
		Kind:           pipeline.EventStateChanged,
		SourceName:     "live-source",
		FromLiveSource: true,
		OldState:       pipeline.RunRunning,
		NewState:       pipeline.RunPaused,
	})

	waitFor(t, func() bool { return s.Status().ActiveInput == "filler" }, "failover on state drop")
	waitFor(t, func() bool { return eng.restartCount() == 1 }, "retry after state drop")

	st := s.Status()
	if st.LastFault == nil || st.LastFault.Category != "unknown" {
		t.Errorf("state-drop fault record = %+v, want category unknown", st.LastFault)
	}
}

func TestStreamer_DuplicateRunningSignalIsIdempotent(t *testing.T) {
	eng := newFakeEngine()
	s, _, drain := startSession(t, eng)
	defer drain()

	eng.push(videoAnnouncement())
	waitFor(t, func() bool { return s.Status().ActiveInput == "live" }, "promotion")
	before := s.Status().Failovers

	eng.push(liveRunning())
	eng.push(liveRunning())
	time.Sleep(150 * time.Millisecond)

	if got := s.Status().Failovers; got != before {
		t.Errorf("failovers = %d after duplicate running signals, want %d", got, before)
	}
	if s.Status().ActiveInput != "live" {
		t.Error("duplicate running signal knocked output off live")
	}
}

func TestStreamer_NewEpisodePerFault(t *testing.T) {
	eng := newFakeEngine()
	s, _, drain := startSession(t, eng)
	defer drain()

	eng.push(liveError("Connection refused", pipeline.FaultNetwork))
	waitFor(t, func() bool { return s.Status().LiveFaults == 1 }, "first fault")
	first := s.Status().LastFault
	if first == nil || first.EpisodeID == "" {
		t.Fatal("first fault carries no episode id")
	}

	// Recovery closes the episode; the next fault opens a fresh one.
	eng.push(videoAnnouncement())
	waitFor(t, func() bool { return s.Status().ActiveInput == "live" }, "recovery")

	eng.push(liveError("Connection refused", pipeline.FaultNetwork))
	waitFor(t, func() bool { return s.Status().LiveFaults == 2 }, "second fault")
	second := s.Status().LastFault
	if second == nil || second.EpisodeID == "" {
		t.Fatal("second fault carries no episode id")
	}
	if second.EpisodeID == first.EpisodeID {
		t.Error("episode id was reused across separate fault episodes")
	}

	// Faults inside one unrecovered episode share its id.
	eng.push(liveError("Connection refused", pipeline.FaultNetwork))
	waitFor(t, func() bool { return s.Status().LiveFaults == 3 }, "third fault")
	third := s.Status().LastFault
	if third.EpisodeID != second.EpisodeID {
		t.Error("fault inside an open episode got a new episode id")
	}
}

func TestStreamer_BindFailureSchedulesReconnect(t *testing.T) {
	eng := newFakeEngine()
	eng.setBindErr(errors.New("failed to link live port"))
	s, _, drain := startSession(t, eng)
	defer drain()

	eng.push(videoAnnouncement())

	waitFor(t, func() bool { return s.Status().ReconnectsScheduled == 1 }, "reconnect after bind failure")
	waitFor(t, func() bool { return eng.restartCount() == 1 }, "retry after bind failure")

	st := s.Status()
	if st.LiveBound {
		t.Error("status reports live bound after failed bind")
	}
	if st.ActiveInput != "filler" {
		t.Errorf("active input = %q after failed bind, want filler", st.ActiveInput)
	}
}

func TestStreamer_SinkErrorStopsLoop(t *testing.T) {
	eng := newFakeEngine()
	s, done, drain := startSession(t, eng)
	defer drain()

	eng.push(&pipeline.Event{
		Kind:       pipeline.EventError,
		SourceName: "package-fullhd",
		Message:    "Could not write to file",
		Category:   pipeline.FaultResource,
	})

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v on infrastructure fault, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run loop kept running after infrastructure fault")
	}

	if !eng.wasStopped() {
		t.Error("engine not stopped after fatal fault")
	}
	st := s.Status()
	if st.LastFault == nil || !st.LastFault.Fatal {
		t.Errorf("fault record = %+v, want fatal", st.LastFault)
	}

	t.Log("✅ Infrastructure fault ended the session with the engine torn down")
}

func TestStreamer_EOSStopsLoop(t *testing.T) {
	eng := newFakeEngine()
	_, done, drain := startSession(t, eng)
	defer drain()

	eng.push(&pipeline.Event{Kind: pipeline.EventEOS, SourceName: "live-source", FromLiveSource: true})

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v on end of stream, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run loop kept running after end of stream")
	}
	if !eng.wasStopped() {
		t.Error("engine not stopped after end of stream")
	}
}

func TestStreamer_CancelStopsLoop(t *testing.T) {
	eng := newFakeEngine()
	s, done, drain := startSession(t, eng)

	drain()
	if !eng.wasStopped() {
		t.Error("engine not stopped on cancellation")
	}
	if s.Status().Running {
		t.Error("status reports running after exit")
	}

	// Second run on a stopped streamer is allowed to start fresh.
	select {
	case <-done:
	default:
	}
}

func TestStreamer_RejectsConcurrentRun(t *testing.T) {
	eng := newFakeEngine()
	s, _, drain := startSession(t, eng)
	defer drain()

	waitFor(t, func() bool { return s.Status().Running }, "first run active")
	if err := s.Run(context.Background()); err == nil {
		t.Error("second concurrent Run() succeeded, want error")
	}
}

func TestStreamer_StartFailure(t *testing.T) {
	eng := newFakeEngine()
	eng.startErr = errors.New("no such element")

	s := newWithEngine(Config{
		SourceURI: "rtsp://camera.local/stream",
		OutputDir: t.TempDir(),
	}, eng)

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded with a failing engine start")
	}
	if !eng.wasStopped() {
		t.Error("engine not released after start failure")
	}
	if s.Status().Running {
		t.Error("status reports running after start failure")
	}
}
