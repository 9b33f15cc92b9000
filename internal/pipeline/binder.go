package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// Port is a dynamic output announced by the live source. The media kind
// travels on the announcement event; the Port itself is the opaque handle
// handed back to BindLivePort.
type Port struct {
	pad  *gst.Pad
	name string
}

// Name returns the engine pad name.
func (p *Port) Name() string { return p.name }

// liveBranch is one bound decode path from an announced port to a
// requested switch input.
type liveBranch struct {
	elements    []*gst.Element
	selectorPad *gst.Pad
}

// inspectPad resolves the media kind of an announced pad from its current
// caps, falling back to a capability query when negotiation has not
// finished yet.
func inspectPad(pad *gst.Pad) (MediaKind, string) {
	caps := pad.GetCurrentCaps()
	if caps == nil {
		caps = pad.QueryCaps(nil)
	}
	if caps == nil || caps.GetSize() == 0 {
		return MediaUnknown, ""
	}

	structure := caps.GetStructureAt(0)
	if structure == nil {
		return MediaUnknown, caps.String()
	}
	if !strings.HasPrefix(structure.Name(), "application/x-rtp") {
		return MediaUnknown, caps.String()
	}

	val, err := structure.GetValue("media")
	if err != nil {
		return MediaUnknown, caps.String()
	}
	media, ok := val.(string)
	if !ok {
		return MediaUnknown, caps.String()
	}

	switch media {
	case "video":
		return MediaVideo, caps.String()
	case "audio":
		return MediaAudio, caps.String()
	default:
		return MediaUnknown, caps.String()
	}
}

// BindLivePort builds a decode chain for an announced live video port,
// connects it to a fresh switch input and records it as the live branch.
// A previously bound branch is released first so repeated reconnects do
// not accumulate dead chains. The new branch is wired and state-synced
// but not activated; activation is the failover controller's decision.
func (g *Graph) BindLivePort(port *Port) error {
	if port == nil || port.pad == nil {
		return fmt.Errorf("no port to bind")
	}

	if g.live != nil {
		g.releaseLiveBranch()
	}

	depay, err := newNode(kindDepayloader, "live-depay")
	if err != nil {
		return err
	}
	parser, err := newNode(kindParser, "live-parse")
	if err != nil {
		return err
	}
	decoder, err := newNode(kindDecoder, "live-decode")
	if err != nil {
		return err
	}
	convert, err := newNode(kindConverter, "live-convert")
	if err != nil {
		return err
	}
	clamp, err := newNode(kindCapsFilter, "live-format")
	if err != nil {
		return err
	}
	clamp.SetProperty("caps", gst.NewCapsFromString(g.format.Caps()))

	elements := []*gst.Element{depay, parser, decoder, convert, clamp}
	g.pipeline.AddMany(elements...)

	unwind := func() {
		for _, el := range elements {
			el.SetState(gst.StateNull)
			g.pipeline.Remove(el)
		}
	}

	if err := gst.ElementLinkMany(elements...); err != nil {
		unwind()
		return fmt.Errorf("failed to link decode chain: %w", err)
	}

	depaySink := depay.GetStaticPad("sink")
	if depaySink == nil {
		unwind()
		return fmt.Errorf("failed to get depayloader sink pad")
	}
	if ret := port.pad.Link(depaySink); ret != gst.PadLinkOK {
		unwind()
		return fmt.Errorf("failed to link port %s to decode chain: %s", port.name, ret)
	}

	selectorPad := g.selector.GetRequestPad("sink_%u")
	if selectorPad == nil {
		unwind()
		return fmt.Errorf("failed to request switch input for live branch")
	}
	clampSrc := clamp.GetStaticPad("src")
	if clampSrc == nil {
		g.selector.ReleaseRequestPad(selectorPad)
		unwind()
		return fmt.Errorf("failed to get live clamp src pad")
	}
	if ret := clampSrc.Link(selectorPad); ret != gst.PadLinkOK {
		g.selector.ReleaseRequestPad(selectorPad)
		unwind()
		return fmt.Errorf("failed to link live branch to switch: %s", ret)
	}

	for _, el := range elements {
		el.SyncStateWithParent()
	}

	g.live = &liveBranch{elements: elements, selectorPad: selectorPad}

	slog.Info("pipeline: live branch bound",
		"port", port.name,
		"switch_input", selectorPad.GetName(),
	)

	return nil
}

// releaseLiveBranch tears the previously bound decode chain down: stop
// the elements, give the switch input back, remove the elements from the
// graph. Callers must route the switch away from the branch first.
func (g *Graph) releaseLiveBranch() {
	br := g.live
	if br == nil {
		return
	}
	for _, el := range br.elements {
		el.SetState(gst.StateNull)
	}
	g.selector.ReleaseRequestPad(br.selectorPad)
	for _, el := range br.elements {
		g.pipeline.Remove(el)
	}
	g.live = nil
	slog.Info("pipeline: previous live branch released")
}

// LiveBound reports whether a live decode branch is currently wired into
// the switch.
func (g *Graph) LiveBound() bool {
	return g.live != nil
}
