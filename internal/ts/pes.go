package ts

import (
	"bytes"
	"time"
)

// PTS/DTS presence flags within the PES flag byte.
const (
	ptsDtsFlagPTSOnly   = 0x20
	ptsDtsFlagPTSAndDTS = 0x30
)

// PESHeader is a Packetized Elementary Stream header.
type PESHeader struct {
	StartCodePrefix         uint32
	StreamID                byte
	PacketLength            uint16
	ScramblingControl       byte
	Priority                bool
	DataAlignment           bool
	Copyright               bool
	Original                bool
	PTSDTSFlags             byte
	ESCRFlag                bool
	ESRateFlag              bool
	DSMTrickModeFlag        bool
	AdditionalCopyInfoFlag  bool
	CRCFlag                 bool
	ExtensionFlag           bool
	HeaderDataLength        byte
	PTS                     *uint64
	DTS                     *uint64
}

// NewPESHeader creates a header for the given PES stream ID (StreamIDH264,
// StreamIDH265, or StreamIDAAC) with all flags clear.
func NewPESHeader(streamID byte) PESHeader {
	return PESHeader{StartCodePrefix: 0x000001, StreamID: streamID}
}

// WithPTS sets the presentation timestamp and returns h for chaining.
func (h PESHeader) WithPTS(pts time.Duration) PESHeader {
	v := DurationToPTS(pts)
	h.PTS = &v
	h.PTSDTSFlags |= 0x80
	return h
}

// WithDTS sets the decoding timestamp and returns h for chaining.
func (h PESHeader) WithDTS(dts time.Duration) PESHeader {
	v := DurationToPTS(dts)
	h.DTS = &v
	h.PTSDTSFlags |= 0x40
	return h
}

// WriteTo serializes the PES header to buf.
func (h PESHeader) WriteTo(buf *bytes.Buffer) {
	buf.WriteByte(byte(h.StartCodePrefix >> 16))
	buf.WriteByte(byte(h.StartCodePrefix >> 8))
	buf.WriteByte(byte(h.StartCodePrefix))
	buf.WriteByte(h.StreamID)
	writeUint16(buf, h.PacketLength)

	var flags byte
	flags |= h.ScramblingControl << 6
	if h.Priority {
		flags |= 0x20
	}
	if h.DataAlignment {
		flags |= 0x10
	}
	if h.Copyright {
		flags |= 0x08
	}
	if h.Original {
		flags |= 0x04
	}
	flags |= h.PTSDTSFlags
	buf.WriteByte(flags)

	var flags2 byte
	if h.ESCRFlag {
		flags2 |= 0x20
	}
	if h.ESRateFlag {
		flags2 |= 0x10
	}
	if h.DSMTrickModeFlag {
		flags2 |= 0x08
	}
	if h.AdditionalCopyInfoFlag {
		flags2 |= 0x04
	}
	if h.CRCFlag {
		flags2 |= 0x02
	}
	if h.ExtensionFlag {
		flags2 |= 0x01
	}
	buf.WriteByte(flags2)

	buf.WriteByte(h.HeaderDataLength)

	if h.PTS != nil {
		marker := byte(ptsDtsFlagPTSOnly)
		if h.DTS != nil {
			marker = ptsDtsFlagPTSAndDTS
		}
		writeTimestamp(buf, marker, *h.PTS)
	}
	if h.DTS != nil {
		writeTimestamp(buf, 0x10, *h.DTS)
	}
}

// PESPacket is a complete PES header plus its elementary-stream payload.
type PESPacket struct {
	Header  PESHeader
	Payload []byte
}

// NewPESPacket creates a packet with an unmarked header for the given
// payload.
func NewPESPacket(streamID byte, payload []byte) PESPacket {
	return PESPacket{Header: NewPESHeader(streamID), Payload: payload}
}

// WithPTS sets the header's presentation timestamp and returns p for
// chaining.
func (p PESPacket) WithPTS(pts time.Duration) PESPacket {
	p.Header = p.Header.WithPTS(pts)
	return p
}

// WithDTS sets the header's decoding timestamp and returns p for chaining.
func (p PESPacket) WithDTS(dts time.Duration) PESPacket {
	p.Header = p.Header.WithDTS(dts)
	return p
}

// WriteTo serializes the full PES packet (header then payload) to buf.
func (p PESPacket) WriteTo(buf *bytes.Buffer) {
	p.Header.WriteTo(buf)
	buf.Write(p.Payload)
}

// Len returns the total encoded size of the PES packet: the fixed 9-byte
// header, 5 bytes per present PTS/DTS field, plus the payload.
func (p PESPacket) Len() int {
	n := 9 + len(p.Payload)
	if p.Header.PTS != nil {
		n += 5
	}
	if p.Header.DTS != nil {
		n += 5
	}
	return n
}

// writeTimestamp encodes a 33-bit PTS/DTS value with the marker-bit pattern
// from ITU-T H.222.0: marker nibble + 3 MSBs + 1, 15 bits + 1, 15 bits + 1.
func writeTimestamp(buf *bytes.Buffer, marker byte, ts uint64) {
	pts := ts & 0x1FFFFFFFF // 33 bits

	buf.WriteByte(marker | byte((pts>>29)&0x0E) | 0x01)
	writeUint16(buf, uint16((pts>>14)&0xFFFE)|0x01)
	writeUint16(buf, uint16((pts<<1)&0xFFFE)|0x01)
}
