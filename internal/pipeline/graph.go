package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// Config describes the graph to build.
type Config struct {
	// SourceURI is the RTSP locator of the live source.
	SourceURI string
	// OutputDir is the directory the DASH sinks write manifest and
	// segments into.
	OutputDir string
	// Format is the canonical normalization format. Zero value means
	// DefaultFormat.
	Format VideoFormat
	// Profiles is the output ladder. Nil means DefaultProfiles.
	Profiles []QualityProfile
}

func (c *Config) withDefaults() {
	if c.Format == (VideoFormat{}) {
		c.Format = DefaultFormat()
	}
	if c.Profiles == nil {
		c.Profiles = DefaultProfiles()
	}
}

func (c Config) validate() error {
	if c.SourceURI == "" {
		return fmt.Errorf("source URI is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if err := c.Format.validate(); err != nil {
		return fmt.Errorf("canonical format: %w", err)
	}
	return validateProfiles(c.Profiles)
}

// Graph owns the engine pipeline plus non-owning references to the nodes
// the orchestration layer acts on. All mutating methods must be called
// from the control loop; the engine's own streaming threads only post
// announcements through the internal channel.
type Graph struct {
	pipeline *gst.Pipeline
	bus      *gst.Bus

	liveSrc   *gst.Element
	fillerSrc *gst.Element
	selector  *gst.Element
	splitter  *gst.Element
	packagers []*gst.Element

	// fillerPad is the switch input fed by the filler branch. It exists
	// for the whole graph lifetime; the live counterpart lives on live.
	fillerPad *gst.Pad
	live      *liveBranch

	format    VideoFormat
	profiles  []QualityProfile
	chains    []*encodeChain
	sourceURI string
	outputDir string
	liveName  string

	announcements chan *Event
	done          chan struct{}
	closeOnce     sync.Once
}

// Build constructs the full processing graph: live source, filler source,
// input switch, fan-out splitter, and one encode/package chain per
// quality profile. The returned graph is fully wired but not running,
// with the filler branch selected as active input.
//
// Any creation or linking failure aborts the whole build; a partial
// graph is never returned.
func Build(cfg Config) (*Graph, error) {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	g := &Graph{
		pipeline:      pipeline,
		bus:           pipeline.GetPipelineBus(),
		format:        cfg.Format,
		profiles:      cfg.Profiles,
		sourceURI:     cfg.SourceURI,
		outputDir:     cfg.OutputDir,
		announcements: make(chan *Event, 8),
		done:          make(chan struct{}),
	}

	if err := g.buildCore(); err != nil {
		return nil, err
	}
	for _, p := range cfg.Profiles {
		if err := g.buildEncodeChain(p); err != nil {
			return nil, fmt.Errorf("failed to build %s chain: %w", p.Name, err)
		}
	}

	// Filler is the active input until the failover controller says
	// otherwise.
	g.selector.SetProperty("active-pad", g.fillerPad)

	g.connectLiveSignals()

	slog.Info("pipeline: graph built",
		"source", cfg.SourceURI,
		"output_dir", cfg.OutputDir,
		"format", cfg.Format.Caps(),
		"profiles", len(cfg.Profiles),
	)

	return g, nil
}

// buildCore creates the live source, the filler branch, the input switch
// and the fan-out splitter, and wires everything up to the splitter input.
func (g *Graph) buildCore() error {
	liveSrc, err := newNode(kindLiveSource, "live-source")
	if err != nil {
		return err
	}
	liveSrc.SetProperty("location", g.sourceURI)
	liveSrc.SetProperty("protocols", 4) // TCP only
	liveSrc.SetProperty("retry", 999)
	liveSrc.SetProperty("timeout", uint64(5000000))     // 5s, microseconds
	liveSrc.SetProperty("tcp-timeout", uint64(5000000)) // 5s, microseconds
	liveSrc.SetProperty("do-retransmission", true)
	liveSrc.SetProperty("drop-on-latency", true)
	liveSrc.SetProperty("latency", 200)

	fillerSrc, err := newNode(kindFillerSource, "filler-source")
	if err != nil {
		return err
	}
	fillerSrc.SetProperty("pattern", 18) // moving ball
	fillerSrc.SetProperty("is-live", true)

	fillerConvert, err := newNode(kindConverter, "filler-convert")
	if err != nil {
		return err
	}
	fillerClamp, err := newNode(kindCapsFilter, "filler-format")
	if err != nil {
		return err
	}
	fillerClamp.SetProperty("caps", gst.NewCapsFromString(g.format.Caps()))

	selector, err := newNode(kindInputSwitch, "input-switch")
	if err != nil {
		return err
	}
	splitter, err := newNode(kindSplitter, "output-splitter")
	if err != nil {
		return err
	}

	g.pipeline.AddMany(liveSrc, fillerSrc, fillerConvert, fillerClamp, selector, splitter)

	if err := gst.ElementLinkMany(fillerSrc, fillerConvert, fillerClamp); err != nil {
		return fmt.Errorf("failed to link filler branch: %w", err)
	}

	fillerPad := selector.GetRequestPad("sink_%u")
	if fillerPad == nil {
		return fmt.Errorf("failed to request switch input for filler branch")
	}
	clampSrc := fillerClamp.GetStaticPad("src")
	if clampSrc == nil {
		return fmt.Errorf("failed to get filler clamp src pad")
	}
	if ret := clampSrc.Link(fillerPad); ret != gst.PadLinkOK {
		return fmt.Errorf("failed to link filler branch to switch: %s", ret)
	}

	// The switch must feed the splitter before any output branch is
	// requested; requesting a branch from an unlinked tee is undefined.
	if err := gst.ElementLinkMany(selector, splitter); err != nil {
		return fmt.Errorf("failed to link switch to splitter: %w", err)
	}

	g.liveSrc = liveSrc
	g.fillerSrc = fillerSrc
	g.selector = selector
	g.splitter = splitter
	g.fillerPad = fillerPad
	g.liveName = liveSrc.GetName()

	return nil
}

// buildEncodeChain constructs one encode/package chain for a profile and
// connects it to a fresh splitter branch.
func (g *Graph) buildEncodeChain(p QualityProfile) error {
	queue, err := newNode(kindQueue, "queue-"+p.Name)
	if err != nil {
		return err
	}
	convert, err := newNode(kindConverter, "convert-"+p.Name)
	if err != nil {
		return err
	}
	scale, err := newNode(kindScaler, "scale-"+p.Name)
	if err != nil {
		return err
	}
	rate, err := newNode(kindRater, "rate-"+p.Name)
	if err != nil {
		return err
	}
	clamp, err := newNode(kindCapsFilter, "format-"+p.Name)
	if err != nil {
		return err
	}
	clamp.SetProperty("caps", gst.NewCapsFromString(g.format.WithSize(p.Width, p.Height).Caps()))

	encoder, err := newNode(kindEncoder, "encoder-"+p.Name)
	if err != nil {
		return err
	}
	encoder.SetProperty("bitrate", p.bitrateBits())

	parser, err := newNode(kindParser, "parser-"+p.Name)
	if err != nil {
		return err
	}

	packager, err := newNode(kindPackager, "packager-"+p.Name)
	if err != nil {
		return err
	}
	packager.SetProperty("mpd-filename", "manifest.mpd")
	packager.SetProperty("mpd-root-path", g.outputDir)
	packager.SetProperty("mpd-baseurl", "./")
	packager.SetProperty("muxer", 0) // MPEG-TS segments
	packager.SetProperty("target-duration", 4)
	packager.SetProperty("use-segment-list", true)
	packager.SetProperty("send-keyframe-requests", true)

	g.pipeline.AddMany(queue, convert, scale, rate, clamp, encoder, parser, packager)

	if err := gst.ElementLinkMany(queue, convert, scale, rate, clamp, encoder, parser, packager); err != nil {
		return fmt.Errorf("failed to link chain elements: %w", err)
	}

	branchPad := g.splitter.GetRequestPad("src_%u")
	if branchPad == nil {
		return fmt.Errorf("failed to request splitter branch")
	}
	queueSink := queue.GetStaticPad("sink")
	if queueSink == nil {
		return fmt.Errorf("failed to get queue sink pad")
	}

	for _, el := range []*gst.Element{queue, convert, scale, rate, clamp, encoder, parser, packager} {
		el.SyncStateWithParent()
	}

	if ret := branchPad.Link(queueSink); ret != gst.PadLinkOK {
		return fmt.Errorf("failed to link splitter branch to queue: %s", ret)
	}

	chain := &encodeChain{profile: p}
	if err := attachThroughputProbe(parser, chain); err != nil {
		slog.Warn("pipeline: throughput probe not installed, continuing without chain telemetry",
			"profile", p.Name,
			"error", err,
		)
	}
	g.chains = append(g.chains, chain)
	g.packagers = append(g.packagers, packager)

	slog.Debug("pipeline: encode chain ready",
		"profile", p.Name,
		"resolution", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"bitrate_kbps", p.BitrateKbps,
	)

	return nil
}

// connectLiveSignals wires the live source's dynamic-pad signals. The
// callbacks run on engine threads and only translate and post; all
// decisions happen on the control loop.
func (g *Graph) connectLiveSignals() {
	g.liveSrc.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
		media, caps := inspectPad(pad)
		slog.Debug("pipeline: port announced",
			"pad", pad.GetName(),
			"media", media.String(),
			"caps", caps,
		)
		g.post(&Event{
			Kind:           EventPortAnnounced,
			SourceName:     self.GetName(),
			FromLiveSource: true,
			Port:           &Port{pad: pad, name: pad.GetName()},
			PortMedia:      media,
			PortCaps:       caps,
		})
	})
	g.liveSrc.Connect("no-more-pads", func(self *gst.Element) {
		g.post(&Event{
			Kind:           EventPortsComplete,
			SourceName:     self.GetName(),
			FromLiveSource: true,
		})
	})
}

// post delivers an announcement to the control loop, giving up once the
// graph is closed so engine threads never block on shutdown.
func (g *Graph) post(ev *Event) {
	select {
	case g.announcements <- ev:
	case <-g.done:
		slog.Debug("pipeline: graph closed, dropping announcement")
	}
}

// Start sets the whole graph to the running state.
func (g *Graph) Start() error {
	if err := g.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	return nil
}

// Stop sets the pipeline to NULL and releases engine resources.
// Safe to call more than once.
func (g *Graph) Stop() error {
	g.closeOnce.Do(func() { close(g.done) })
	if err := g.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to stop pipeline: %w", err)
	}
	return nil
}

// SelectInput points the input switch at the given branch. Selecting the
// branch that is already active just re-asserts the configuration.
func (g *Graph) SelectInput(in Input) error {
	switch in {
	case InputFiller:
		g.selector.SetProperty("active-pad", g.fillerPad)
	case InputLive:
		if g.live == nil {
			return fmt.Errorf("no live branch bound")
		}
		g.selector.SetProperty("active-pad", g.live.selectorPad)
	default:
		return fmt.Errorf("unknown input %d", in)
	}
	return nil
}

// RestartLiveSource forces the live source through a full stop and back
// to running, which re-runs its internal connect/retry logic and leads to
// fresh port announcements on success.
func (g *Graph) RestartLiveSource() error {
	if err := g.liveSrc.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to stop live source: %w", err)
	}
	if err := g.liveSrc.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to restart live source: %w", err)
	}
	return nil
}

// PollEvent returns the next engine event, or nil if none arrived within
// timeout. Pending port announcements are drained before the bus so a
// binding is never starved by bus chatter.
func (g *Graph) PollEvent(timeout time.Duration) *Event {
	select {
	case ev := <-g.announcements:
		return ev
	default:
	}
	msg := g.bus.TimedPop(timeout)
	if msg == nil {
		return nil
	}
	return g.translate(msg)
}

// translate converts a bus message into a control-loop event. Message
// kinds the loop does not act on translate to nil.
func (g *Graph) translate(msg *gst.Message) *Event {
	switch msg.Type() {
	case gst.MessageEOS:
		return &Event{
			Kind:           EventEOS,
			SourceName:     msg.Source(),
			FromLiveSource: msg.Source() == g.liveName,
		}

	case gst.MessageError:
		ev := &Event{
			Kind:           EventError,
			SourceName:     msg.Source(),
			FromLiveSource: msg.Source() == g.liveName,
		}
		if gerr := msg.ParseError(); gerr != nil {
			ev.Message = gerr.Error()
			ev.Debug = gerr.DebugString()
		}
		ev.Category = ClassifyFault(ev.Message, ev.Debug)
		return ev

	case gst.MessageStateChanged:
		src := msg.Source()
		old, next := msg.ParseStateChanged()
		if src == g.pipeline.GetName() {
			slog.Debug("pipeline: state changed", "from", old, "to", next)
			return nil
		}
		if src != g.liveName {
			return nil
		}
		return &Event{
			Kind:           EventStateChanged,
			SourceName:     src,
			FromLiveSource: true,
			OldState:       runStateOf(old),
			NewState:       runStateOf(next),
		}

	default:
		return nil
	}
}
