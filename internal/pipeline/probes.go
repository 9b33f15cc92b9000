package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
)

// ChainStats is a point-in-time view of one encode chain's output.
type ChainStats struct {
	Profile   string `json:"profile"`
	Buffers   uint64 `json:"buffers"`
	Keyframes uint64 `json:"keyframes"`
}

// encodeChain carries the per-profile telemetry counters. They are
// written from an engine streaming thread, so access is atomic.
type encodeChain struct {
	profile   QualityProfile
	buffers   atomic.Uint64
	keyframes atomic.Uint64
}

// attachThroughputProbe counts encoded buffers and keyframes leaving the
// parser, one probe per chain. The probe body must stay trivial: it runs
// on the streaming thread for every buffer.
func attachThroughputProbe(parser *gst.Element, chain *encodeChain) error {
	srcPad := parser.GetStaticPad("src")
	if srcPad == nil {
		return fmt.Errorf("failed to get parser src pad")
	}

	srcPad.AddProbe(gst.PadProbeTypeBuffer, func(pad *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
		chain.buffers.Add(1)
		buffer := info.GetBuffer()
		if buffer == nil {
			return gst.PadProbeOK
		}
		// Delta units are dependent frames; everything else is a sync point.
		if buffer.GetFlags()&gst.BufferFlagDeltaUnit == 0 {
			chain.keyframes.Add(1)
		}
		return gst.PadProbeOK
	})

	return nil
}

// ChainStats returns the current per-profile output counters.
func (g *Graph) ChainStats() []ChainStats {
	stats := make([]ChainStats, 0, len(g.chains))
	for _, c := range g.chains {
		stats = append(stats, ChainStats{
			Profile:   c.profile.Name,
			Buffers:   c.buffers.Load(),
			Keyframes: c.keyframes.Load(),
		})
	}
	return stats
}
