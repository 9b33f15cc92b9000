package pipeline

import "strings"

// FaultCategory classifies engine error messages for telemetry.
type FaultCategory int

const (
	// FaultNetwork indicates network-related failures (connection, timeout, DNS)
	FaultNetwork FaultCategory = iota
	// FaultCodec indicates codec/stream failures (decode errors, format issues)
	FaultCodec
	// FaultAuth indicates authentication/authorization failures
	FaultAuth
	// FaultResource indicates local resource failures (disk, filesystem, memory)
	FaultResource
	// FaultUnknown indicates unclassified errors
	FaultUnknown
)

// String returns a human-readable string representation of the category
func (c FaultCategory) String() string {
	switch c {
	case FaultNetwork:
		return "network"
	case FaultCodec:
		return "codec"
	case FaultAuth:
		return "auth"
	case FaultResource:
		return "resource"
	default:
		return "unknown"
	}
}

// ClassifyFault categorizes an engine error for telemetry.
//
// This distinguishes between:
// - Network issues (the live source's retry will eventually recover)
// - Codec issues (stream format problem, retry unlikely to help)
// - Auth issues (credentials needed)
// - Resource issues (disk/filesystem problems on the packaging side)
// - Unknown issues (need investigation)
//
// go-gst's GError does not expose an error domain, so classification is
// based on message keyword heuristics.
func ClassifyFault(message, debug string) FaultCategory {
	combined := strings.ToLower(message) + " " + strings.ToLower(debug)

	// Priority order: most specific keywords first.
	if containsAny(combined, authKeywords) {
		return FaultAuth
	}
	if containsAny(combined, resourceKeywords) {
		return FaultResource
	}
	if containsAny(combined, codecKeywords) {
		return FaultCodec
	}
	if containsAny(combined, networkKeywords) {
		return FaultNetwork
	}
	return FaultUnknown
}

var authKeywords = []string{
	"unauthorized",
	"401",
	"403",
	"forbidden",
	"authentication",
	"credentials",
	"password",
	"username",
}

var resourceKeywords = []string{
	"no space",
	"disk",
	"read-only file system",
	"too many open files",
	"permission denied",
	"could not write",
	"out of memory",
}

var codecKeywords = []string{
	"codec",
	"decode",
	"encode",
	"format",
	"negotiation",
	"caps",
	"h264",
	"h265",
	"not negotiated",
	"no decoder",
	"missing plugin",
}

var networkKeywords = []string{
	"connection",
	"timeout",
	"timed out",
	"unreachable",
	"network",
	"dns",
	"resolve",
	"socket",
	"tcp",
	"udp",
	"rtsp",
	"not found",
	"could not connect",
	"failed to connect",
	"could not open resource",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
