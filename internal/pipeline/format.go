package pipeline

import "fmt"

// VideoFormat describes the raw-video contract enforced at the graph's
// normalization points: pixel format, resolution and frame rate. Every
// input branch is clamped to one canonical VideoFormat before it reaches
// the input switch, so flipping branches never forces a renegotiation
// downstream.
type VideoFormat struct {
	PixelFormat string
	Width       int
	Height      int
	FPSNum      int
	FPSDen      int
}

// DefaultFormat returns the canonical format both input branches are
// normalized to: I420 1080p at 25 fps.
func DefaultFormat() VideoFormat {
	return VideoFormat{
		PixelFormat: "I420",
		Width:       1920,
		Height:      1080,
		FPSNum:      25,
		FPSDen:      1,
	}
}

// Caps renders the format as a GStreamer caps string.
func (f VideoFormat) Caps() string {
	return fmt.Sprintf(
		"video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d",
		f.PixelFormat, f.Width, f.Height, f.FPSNum, f.FPSDen,
	)
}

// WithSize returns a copy of the format scaled to the given resolution,
// keeping pixel format and frame rate. Used for per-profile caps.
func (f VideoFormat) WithSize(width, height int) VideoFormat {
	f.Width = width
	f.Height = height
	return f
}

func (f VideoFormat) validate() error {
	if f.PixelFormat == "" {
		return fmt.Errorf("pixel format is required")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", f.Width, f.Height)
	}
	if f.FPSNum <= 0 || f.FPSDen <= 0 {
		return fmt.Errorf("invalid frame rate %d/%d", f.FPSNum, f.FPSDen)
	}
	return nil
}
