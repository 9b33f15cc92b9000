package restream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/dash-restreamer/internal/pipeline"
)

const (
	defaultReconnectDelay  = 5 * time.Second
	defaultActivationDelay = 1 * time.Second

	// pollInterval bounds how long the control loop waits on the engine
	// before checking for cancellation and timer wakeups.
	pollInterval = 50 * time.Millisecond
)

// Config describes one restreaming session.
type Config struct {
	SourceURI string                    // RTSP locator of the live source
	OutputDir string                    // directory the DASH manifest and segments are written into
	Profiles  []pipeline.QualityProfile // output ladder (nil means the default ladder)

	ReconnectDelay  time.Duration // delay before restarting a dead live source (default: 5s)
	ActivationDelay time.Duration // settle time before promoting a freshly bound live branch (default: 1s)

	Hooks Hooks
}

// Hooks are optional observation points for telemetry. Nil entries are
// skipped. All hooks run on the control loop, so they must not block.
type Hooks struct {
	OnFailover           func(active pipeline.Input)
	OnReconnectScheduled func()
	OnRetry              func()
	OnPortAnnounced      func(media pipeline.MediaKind)
	OnFault              func(category pipeline.FaultCategory, fatal bool)
}

// engine is the slice of the pipeline graph the control loop drives.
// *pipeline.Graph satisfies it; tests substitute a scripted fake.
type engine interface {
	inputSelector
	Start() error
	Stop() error
	BindLivePort(port *pipeline.Port) error
	RestartLiveSource() error
	PollEvent(timeout time.Duration) *pipeline.Event
	ChainStats() []pipeline.ChainStats
}

type wakeupKind int

const (
	wakeActivateLive wakeupKind = iota
	wakeRetryLive
)

// wakeup is a timer firing handed to the control loop. The generation
// lets the loop discard firings that raced a cancel or re-arm.
type wakeup struct {
	kind wakeupKind
	gen  uint64
}

// FaultRecord captures the most recent engine fault for status reporting.
type FaultRecord struct {
	Node      string    `json:"node"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Fatal     bool      `json:"fatal"`
	EpisodeID string    `json:"episode_id,omitempty"`
	At        time.Time `json:"at"`
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	SessionID           string                `json:"session_id"`
	SourceURI           string                `json:"source_uri"`
	OutputDir           string                `json:"output_dir"`
	Running             bool                  `json:"running"`
	ActiveInput         string                `json:"active_input"`
	LiveBound           bool                  `json:"live_bound"`
	UptimeSec           float64               `json:"uptime_sec"`
	Failovers           uint64                `json:"failovers"`
	ReconnectsScheduled uint64                `json:"reconnects_scheduled"`
	Retries             uint64                `json:"retries"`
	PortsAnnounced      uint64                `json:"ports_announced"`
	PortsBound          uint64                `json:"ports_bound"`
	LiveFaults          uint64                `json:"live_faults"`
	LastFault           *FaultRecord          `json:"last_fault,omitempty"`
	Chains              []pipeline.ChainStats `json:"chains"`
}

// Streamer drives one source-to-DASH session: it owns the engine graph
// and runs the single control loop that reacts to engine events, flips
// failover, and schedules reconnects.
//
// All orchestration state (failover, timers, episode tracking) belongs
// to the loop goroutine inside Run. Status readers see it through
// atomic mirrors only.
type Streamer struct {
	cfg       Config
	eng       engine
	fo        *failover
	reconnect deferredAction
	activate  deferredAction
	wakeups   chan wakeup

	sessionID string
	// episodeID tags one degraded stretch, from the fault that parked
	// output on filler until the promotion back to live.
	episodeID string

	running     atomic.Bool
	startedNano atomic.Int64

	activeInput atomic.Int32
	liveBound   atomic.Bool
	lastFault   atomic.Pointer[FaultRecord]

	failovers           atomic.Uint64
	reconnectsScheduled atomic.Uint64
	retries             atomic.Uint64
	portsAnnounced      atomic.Uint64
	portsBound          atomic.Uint64
	liveFaults          atomic.Uint64
}

// New builds the engine graph for cfg and wraps it in a Streamer. The
// graph is fully constructed, with filler as the active input, but not
// started.
func New(cfg Config) (*Streamer, error) {
	g, err := pipeline.Build(pipeline.Config{
		SourceURI: cfg.SourceURI,
		OutputDir: cfg.OutputDir,
		Profiles:  cfg.Profiles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}
	return newWithEngine(cfg, g), nil
}

func newWithEngine(cfg Config, eng engine) *Streamer {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.ActivationDelay <= 0 {
		cfg.ActivationDelay = defaultActivationDelay
	}
	s := &Streamer{
		cfg:       cfg,
		eng:       eng,
		fo:        newFailover(eng),
		wakeups:   make(chan wakeup, 8),
		sessionID: uuid.New().String(),
	}
	s.activeInput.Store(int32(pipeline.InputFiller))
	return s
}

// SessionID identifies this session in logs and status output.
func (s *Streamer) SessionID() string { return s.sessionID }

// Run starts the engine and drives the control loop until ctx is
// cancelled or the engine reports a terminal condition (end of stream,
// infrastructure fault). It returns an error only when the session
// fails to start; runtime faults are absorbed by the failover path and
// reported through logs and Status.
func (s *Streamer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("session already running")
	}
	defer s.running.Store(false)
	s.startedNano.Store(time.Now().UnixNano())

	if err := s.eng.Start(); err != nil {
		s.eng.Stop()
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer s.stop()

	slog.Info("restream: session started",
		"session_id", s.sessionID,
		"source", s.cfg.SourceURI,
		"output_dir", s.cfg.OutputDir,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("restream: shutdown requested", "session_id", s.sessionID)
			return nil
		case w := <-s.wakeups:
			s.handleWakeup(w)
		default:
			ev := s.eng.PollEvent(pollInterval)
			if ev == nil {
				continue
			}
			if !s.handleEvent(ev) {
				return nil
			}
		}
	}
}

// handleEvent applies one engine event. It reports false when the loop
// must exit.
func (s *Streamer) handleEvent(ev *pipeline.Event) bool {
	switch routeEvent(ev) {
	case actBindPort:
		s.bindPort(ev)

	case actLiveFault:
		s.liveFault(ev)

	case actPromoteLive:
		s.promoteLive("live source running")

	case actFatal:
		s.fatal(ev)
		return false

	case actStop:
		slog.Info("restream: end of stream",
			"session_id", s.sessionID,
			"node", ev.SourceName,
		)
		return false

	default:
		if ev.Kind == pipeline.EventPortsComplete {
			slog.Debug("restream: live source announced all ports")
		}
	}
	return true
}

func (s *Streamer) handleWakeup(w wakeup) {
	switch w.kind {
	case wakeActivateLive:
		if !s.activate.Consume(w.gen) {
			return
		}
		s.promoteLive("decode chain settled")
	case wakeRetryLive:
		if !s.reconnect.Consume(w.gen) {
			return
		}
		s.retryLive()
	}
}

// bindPort attaches a freshly announced live port to the decode chain.
// Output is parked on filler for the duration of the rebind so a
// half-built branch never feeds the ladder; promotion follows after the
// activation delay.
func (s *Streamer) bindPort(ev *pipeline.Event) {
	s.portsAnnounced.Add(1)
	if h := s.cfg.Hooks.OnPortAnnounced; h != nil {
		h(ev.PortMedia)
	}
	if ev.PortMedia != pipeline.MediaVideo {
		slog.Info("restream: ignoring non-video port",
			"media", ev.PortMedia.String(),
			"caps", ev.PortCaps,
		)
		return
	}

	if changed, err := s.fo.Demote(); err != nil {
		slog.Error("restream: failed to park output on filler", "error", err)
	} else if changed {
		s.noteFailover()
	}

	if err := s.eng.BindLivePort(ev.Port); err != nil {
		s.liveBound.Store(false)
		slog.Error("restream: failed to bind live port",
			"error", err,
			"caps", ev.PortCaps,
		)
		s.scheduleReconnect()
		return
	}
	s.portsBound.Add(1)
	s.liveBound.Store(true)

	s.activate.Arm(s.cfg.ActivationDelay, func(gen uint64) {
		s.postWakeup(wakeup{kind: wakeActivateLive, gen: gen})
	})
	slog.Info("restream: live port bound",
		"session_id", s.sessionID,
		"caps", ev.PortCaps,
		"activation_delay", s.cfg.ActivationDelay,
	)
}

// liveFault handles a recoverable live source failure: record it, park
// output on filler, then schedule the reconnect. The session keeps
// running indefinitely in this degraded mode if the source never comes
// back.
func (s *Streamer) liveFault(ev *pipeline.Event) {
	if s.episodeID == "" {
		s.episodeID = uuid.New().String()
	}

	category := pipeline.FaultUnknown
	message := "live source left the running state"
	if ev.Kind == pipeline.EventError {
		category = ev.Category
		message = ev.Message
	}

	s.lastFault.Store(&FaultRecord{
		Node:      ev.SourceName,
		Category:  category.String(),
		Message:   message,
		Fatal:     false,
		EpisodeID: s.episodeID,
		At:        time.Now(),
	})
	s.liveFaults.Add(1)
	if h := s.cfg.Hooks.OnFault; h != nil {
		h(category, false)
	}

	if ev.Kind == pipeline.EventError {
		slog.Warn("restream: live source fault",
			"session_id", s.sessionID,
			"episode_id", s.episodeID,
			"node", ev.SourceName,
			"category", category.String(),
			"error", ev.Message,
			"debug", ev.Debug,
		)
	} else {
		slog.Warn("restream: live source lost running state",
			"session_id", s.sessionID,
			"episode_id", s.episodeID,
			"node", ev.SourceName,
			"from", ev.OldState.String(),
			"to", ev.NewState.String(),
		)
	}

	s.degradeToFiller()
	s.scheduleReconnect()
}

// fatal records an unrecoverable fault outside the live source. The
// graph cannot produce correct output past this point, so the caller
// ends the loop.
func (s *Streamer) fatal(ev *pipeline.Event) {
	s.lastFault.Store(&FaultRecord{
		Node:     ev.SourceName,
		Category: ev.Category.String(),
		Message:  ev.Message,
		Fatal:    true,
		At:       time.Now(),
	})
	if h := s.cfg.Hooks.OnFault; h != nil {
		h(ev.Category, true)
	}
	slog.Error("restream: unrecoverable fault",
		"session_id", s.sessionID,
		"node", ev.SourceName,
		"category", ev.Category.String(),
		"error", ev.Message,
		"debug", ev.Debug,
	)
}

// promoteLive flips output to the live input. An engine refusal (no
// branch bound yet) leaves output on filler; a later state change or
// retry will try again.
func (s *Streamer) promoteLive(reason string) {
	changed, err := s.fo.Promote()
	if err != nil {
		slog.Debug("restream: live input not ready",
			"reason", reason,
			"error", err,
		)
		return
	}
	if !changed {
		return
	}
	s.noteFailover()
	slog.Info("restream: output switched to live",
		"session_id", s.sessionID,
		"reason", reason,
		"episode_id", s.episodeID,
	)
	s.episodeID = ""
}

// degradeToFiller parks output on the filler input in response to a
// live fault.
func (s *Streamer) degradeToFiller() {
	changed, err := s.fo.Demote()
	if err != nil {
		slog.Error("restream: failed to switch output to filler", "error", err)
		return
	}
	if changed {
		s.noteFailover()
		slog.Warn("restream: output degraded to filler",
			"session_id", s.sessionID,
			"episode_id", s.episodeID,
		)
	}
}

func (s *Streamer) noteFailover() {
	s.activeInput.Store(int32(s.fo.Active()))
	s.failovers.Add(1)
	if h := s.cfg.Hooks.OnFailover; h != nil {
		h(s.fo.Active())
	}
}

// scheduleReconnect arms the single retry slot, replacing any pending
// deadline so bursts of fault signals collapse into one restart.
func (s *Streamer) scheduleReconnect() {
	s.reconnect.Arm(s.cfg.ReconnectDelay, func(gen uint64) {
		s.postWakeup(wakeup{kind: wakeRetryLive, gen: gen})
	})
	s.reconnectsScheduled.Add(1)
	if h := s.cfg.Hooks.OnReconnectScheduled; h != nil {
		h()
	}
	slog.Info("restream: reconnect scheduled",
		"session_id", s.sessionID,
		"episode_id", s.episodeID,
		"delay", s.cfg.ReconnectDelay,
	)
}

// retryLive restarts the live source. On success the source re-runs its
// internal connect logic and re-announces its ports; a restart that
// itself fails re-arms the schedule instead of giving up.
func (s *Streamer) retryLive() {
	s.retries.Add(1)
	if h := s.cfg.Hooks.OnRetry; h != nil {
		h()
	}
	slog.Info("restream: retrying live source",
		"session_id", s.sessionID,
		"episode_id", s.episodeID,
		"attempt", s.retries.Load(),
	)
	if err := s.eng.RestartLiveSource(); err != nil {
		slog.Error("restream: live source restart failed",
			"error", err,
			"episode_id", s.episodeID,
		)
		s.scheduleReconnect()
	}
}

// postWakeup hands a timer firing to the control loop. The channel
// capacity comfortably exceeds the two single-outstanding timers, so
// the non-blocking send only drops when the loop is already gone.
func (s *Streamer) postWakeup(w wakeup) {
	select {
	case s.wakeups <- w:
	default:
		slog.Debug("restream: wakeup dropped", "kind", int(w.kind))
	}
}

// stop cancels pending timers and tears the engine down.
func (s *Streamer) stop() {
	s.reconnect.Cancel()
	s.activate.Cancel()
	if err := s.eng.Stop(); err != nil {
		slog.Error("restream: engine stop failed", "error", err)
	}
	slog.Info("restream: session stopped",
		"session_id", s.sessionID,
		"uptime", time.Since(time.Unix(0, s.startedNano.Load())).Round(time.Second),
		"failovers", s.failovers.Load(),
		"live_faults", s.liveFaults.Load(),
		"retries", s.retries.Load(),
	)
}

// Status returns a snapshot of the session. Safe to call from any
// goroutine.
func (s *Streamer) Status() Status {
	st := Status{
		SessionID:           s.sessionID,
		SourceURI:           s.cfg.SourceURI,
		OutputDir:           s.cfg.OutputDir,
		Running:             s.running.Load(),
		ActiveInput:         pipeline.Input(s.activeInput.Load()).String(),
		LiveBound:           s.liveBound.Load(),
		Failovers:           s.failovers.Load(),
		ReconnectsScheduled: s.reconnectsScheduled.Load(),
		Retries:             s.retries.Load(),
		PortsAnnounced:      s.portsAnnounced.Load(),
		PortsBound:          s.portsBound.Load(),
		LiveFaults:          s.liveFaults.Load(),
		LastFault:           s.lastFault.Load(),
		Chains:              s.eng.ChainStats(),
	}
	if st.Running {
		st.UptimeSec = time.Since(time.Unix(0, s.startedNano.Load())).Seconds()
	}
	return st
}
