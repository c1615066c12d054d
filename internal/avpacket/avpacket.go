// Package avpacket defines the media packet container that flows from the
// jitter buffer through the TS muxer: raw access-unit bytes plus timing and
// stream-identification metadata.
package avpacket

import "time"

// Packet is one encoded access unit (a video frame or an audio frame) ready
// for muxing. Timestamps are in milliseconds; the TS muxer converts them to
// the 90 kHz PTS/DTS clock at write time.
type Packet struct {
	Data        []byte
	PTS         *int64
	DTS         *int64
	StreamIndex int
	IsKey       bool
	Duration    *time.Duration
}

// New creates a packet with all timing/metadata fields at their zero value:
// no PTS/DTS, stream index 0, not a key frame, no duration.
func New(data []byte) Packet {
	return Packet{Data: data}
}

// WithPTS sets the presentation timestamp and returns p for chaining.
func (p Packet) WithPTS(pts int64) Packet {
	p.PTS = &pts
	return p
}

// WithDTS sets the decoding timestamp and returns p for chaining.
func (p Packet) WithDTS(dts int64) Packet {
	p.DTS = &dts
	return p
}

// WithStreamIndex sets the elementary-stream index and returns p for chaining.
func (p Packet) WithStreamIndex(index int) Packet {
	p.StreamIndex = index
	return p
}

// WithKeyFlag marks whether this packet carries a key frame and returns p
// for chaining.
func (p Packet) WithKeyFlag(isKey bool) Packet {
	p.IsKey = isKey
	return p
}

// WithDuration sets the packet's media duration and returns p for chaining.
func (p Packet) WithDuration(d time.Duration) Packet {
	p.Duration = &d
	return p
}
