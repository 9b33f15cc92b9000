package pipeline

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"
)

// nodeKind enumerates the kinds of processing nodes the graph is built
// from. Element creation goes through the factory table below so the
// builder never branches on factory-name strings.
type nodeKind int

const (
	kindLiveSource nodeKind = iota
	kindFillerSource
	kindInputSwitch
	kindSplitter
	kindQueue
	kindConverter
	kindScaler
	kindRater
	kindCapsFilter
	kindEncoder
	kindParser
	kindPackager
	kindDepayloader
	kindDecoder
)

// factoryNames maps each node kind to the GStreamer factory that builds it.
var factoryNames = map[nodeKind]string{
	kindLiveSource:   "rtspsrc",
	kindFillerSource: "videotestsrc",
	kindInputSwitch:  "input-selector",
	kindSplitter:     "tee",
	kindQueue:        "queue",
	kindConverter:    "videoconvert",
	kindScaler:       "videoscale",
	kindRater:        "videorate",
	kindCapsFilter:   "capsfilter",
	kindEncoder:      "openh264enc",
	kindParser:       "h264parse",
	kindPackager:     "dashsink",
	kindDepayloader:  "rtph264depay",
	kindDecoder:      "avdec_h264",
}

// String returns the factory name backing the kind.
func (k nodeKind) String() string {
	if name, ok := factoryNames[k]; ok {
		return name
	}
	return "unknown"
}

// newNode creates a named element of the given kind.
func newNode(kind nodeKind, name string) (*gst.Element, error) {
	factory, ok := factoryNames[kind]
	if !ok {
		return nil, fmt.Errorf("unknown node kind %d", kind)
	}
	el, err := gst.NewElement(factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s (%s): %w", name, factory, err)
	}
	el.SetProperty("name", name)
	return el, nil
}
