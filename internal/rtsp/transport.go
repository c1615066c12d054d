// Package rtsp implements the RTSP control plane: transport header
// tokens, TCP response framing, and the client state machine (DESCRIBE/
// SETUP/PLAY/TEARDOWN, Basic/Digest auth, reconnection).
package rtsp

import (
	"fmt"
	"strconv"
	"strings"
)

// CastType distinguishes unicast from multicast transport.
type CastType int

const (
	Unicast CastType = iota
	Multicast
)

// Transport is a parsed or to-be-emitted RTSP Transport header.
type Transport struct {
	Protocol       string // "RTP/AVP" or "RTP/AVP/TCP"
	CastType       CastType
	ClientPortRTP  *uint16
	ClientPortRTCP *uint16
	ServerPortRTP  *uint16
	ServerPortRTCP *uint16
	InterleavedRTP *uint8
	InterleavedRTCP *uint8
	SSRC           *uint32
	Mode           string
	Extra          map[string]string // key -> value; value-less tokens map to ""
	extraOrder     []string
}

// NewRTPAVP builds a unicast RTP/AVP transport with the given client UDP
// port pair.
func NewRTPAVP(clientRTP, clientRTCP uint16) Transport {
	return Transport{
		Protocol:       "RTP/AVP",
		CastType:       Unicast,
		ClientPortRTP:  &clientRTP,
		ClientPortRTCP: &clientRTCP,
		Extra:          map[string]string{},
	}
}

// NewInterleaved builds a TCP-interleaved RTP/AVP/TCP transport with the
// given channel pair.
func NewInterleaved(rtpChannel, rtcpChannel uint8) Transport {
	return Transport{
		Protocol:        "RTP/AVP/TCP",
		CastType:        Unicast,
		InterleavedRTP:  &rtpChannel,
		InterleavedRTCP: &rtcpChannel,
		Extra:           map[string]string{},
	}
}

// ParseTransport decodes a semicolon-separated Transport header value.
// Unknown tokens are preserved verbatim for round-trip.
func ParseTransport(header string) (Transport, bool) {
	parts := strings.Split(header, ";")
	if len(parts) == 0 {
		return Transport{}, false
	}
	t := Transport{
		Protocol: strings.TrimSpace(parts[0]),
		Extra:    map[string]string{},
	}
	for _, raw := range parts[1:] {
		part := strings.TrimSpace(raw)
		switch {
		case part == "unicast":
			t.CastType = Unicast
		case part == "multicast":
			t.CastType = Multicast
		case strings.HasPrefix(part, "client_port="):
			a, b, ok := splitPortPair(part[len("client_port="):])
			if ok {
				t.ClientPortRTP, t.ClientPortRTCP = &a, &b
			}
		case strings.HasPrefix(part, "server_port="):
			a, b, ok := splitPortPair(part[len("server_port="):])
			if ok {
				t.ServerPortRTP, t.ServerPortRTCP = &a, &b
			}
		case strings.HasPrefix(part, "interleaved="):
			a, b, ok := splitBytePair(part[len("interleaved="):])
			if ok {
				t.InterleavedRTP, t.InterleavedRTCP = &a, &b
			}
		case strings.HasPrefix(part, "ssrc="):
			val := strings.TrimPrefix(part[len("ssrc="):], "0x")
			if ssrc, err := strconv.ParseUint(val, 16, 32); err == nil {
				u := uint32(ssrc)
				t.SSRC = &u
			}
		case strings.HasPrefix(part, "mode="):
			t.Mode = strings.Trim(part[len("mode="):], `"`)
		default:
			if key, value, ok := strings.Cut(part, "="); ok {
				t.Extra[key] = value
				t.extraOrder = append(t.extraOrder, key)
			} else if part != "" {
				t.Extra[part] = ""
				t.extraOrder = append(t.extraOrder, part)
			}
		}
	}
	return t, true
}

func splitPortPair(s string) (a, b uint16, ok bool) {
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, false
	}
	av, err1 := strconv.ParseUint(lo, 10, 16)
	bv, err2 := strconv.ParseUint(hi, 10, 16)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint16(av), uint16(bv), true
}

func splitBytePair(s string) (a, b uint8, ok bool) {
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, false
	}
	av, err1 := strconv.ParseUint(lo, 10, 8)
	bv, err2 := strconv.ParseUint(hi, 10, 8)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint8(av), uint8(bv), true
}

// String formats the transport as a Transport header value.
func (t Transport) String() string {
	parts := []string{t.Protocol}
	if t.CastType == Multicast {
		parts = append(parts, "multicast")
	} else {
		parts = append(parts, "unicast")
	}
	if t.ClientPortRTP != nil && t.ClientPortRTCP != nil {
		parts = append(parts, fmt.Sprintf("client_port=%d-%d", *t.ClientPortRTP, *t.ClientPortRTCP))
	}
	if t.ServerPortRTP != nil && t.ServerPortRTCP != nil {
		parts = append(parts, fmt.Sprintf("server_port=%d-%d", *t.ServerPortRTP, *t.ServerPortRTCP))
	}
	if t.InterleavedRTP != nil && t.InterleavedRTCP != nil {
		parts = append(parts, fmt.Sprintf("interleaved=%d-%d", *t.InterleavedRTP, *t.InterleavedRTCP))
	}
	if t.SSRC != nil {
		parts = append(parts, fmt.Sprintf("ssrc=%08x", *t.SSRC))
	}
	if t.Mode != "" {
		parts = append(parts, fmt.Sprintf("mode=%s", t.Mode))
	}
	for _, k := range t.extraOrder {
		if v := t.Extra[k]; v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		} else {
			parts = append(parts, k)
		}
	}
	return strings.Join(parts, ";")
}
