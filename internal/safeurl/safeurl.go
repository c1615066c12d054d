// Package safeurl validates that a configured source URL uses a scheme the
// RTSP client actually understands before any network connection is
// attempted, rejecting file://, http://, and other schemes that have no
// business reaching a control-plane dial.
package safeurl

import "net/url"

// IsRTSP reports whether u parses as an absolute URL with scheme "rtsp" or
// "rtsps".
func IsRTSP(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "rtsp", "rtsps":
		return parsed.Host != ""
	default:
		return false
	}
}
