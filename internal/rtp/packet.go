// Package rtp parses and composes RTP packets (RFC 3550) and implements a
// sequence-ordered jitter buffer.
package rtp

import (
	"encoding/binary"
	"errors"
)

// ErrTooShort is returned when fewer than 12 bytes are available for the
// fixed RTP header.
var ErrTooShort = errors.New("rtp: packet too short")

// ErrBadVersion is returned when the version field is not 2.
var ErrBadVersion = errors.New("rtp: unsupported version")

// Extension is the optional RTP header extension.
type Extension struct {
	ProfileID uint16
	Data      []byte // length is a multiple of 4 bytes
}

// Packet is a parsed RTP packet. PadLength is the number of padding bytes
// that followed the payload on the wire, counting the final length byte (0
// when Padding is false); Compose re-emits exactly that many padding bytes,
// zeros followed by the length byte, so parse(compose(p)) round-trips padded
// packets too.
type Packet struct {
	Version        uint8
	Padding        bool
	HasExtension   bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32
	Ext            *Extension
	Payload        []byte
	PadLength      uint8
}

// Parse decodes an RTP packet from a wire-format buffer.
func Parse(data []byte) (Packet, error) {
	if len(data) < 12 {
		return Packet{}, ErrTooShort
	}
	version := data[0] >> 6
	if version != 2 {
		return Packet{}, ErrBadVersion
	}
	padding := data[0]&0x20 != 0
	hasExtension := data[0]&0x10 != 0
	csrcCount := int(data[0] & 0x0F)
	marker := data[1]&0x80 != 0
	payloadType := data[1] & 0x7F
	seq := binary.BigEndian.Uint16(data[2:4])
	ts := binary.BigEndian.Uint32(data[4:8])
	ssrc := binary.BigEndian.Uint32(data[8:12])

	pos := 12
	if len(data) < pos+4*csrcCount {
		return Packet{}, ErrTooShort
	}
	var csrc []uint32
	if csrcCount > 0 {
		csrc = make([]uint32, csrcCount)
	}
	for i := 0; i < csrcCount; i++ {
		csrc[i] = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	var ext *Extension
	if hasExtension {
		if len(data) < pos+4 {
			return Packet{}, ErrTooShort
		}
		profileID := binary.BigEndian.Uint16(data[pos : pos+2])
		lengthWords := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		pos += 4
		extLen := lengthWords * 4
		if len(data) < pos+extLen {
			return Packet{}, ErrTooShort
		}
		ext = &Extension{ProfileID: profileID, Data: append([]byte(nil), data[pos:pos+extLen]...)}
		pos += extLen
	}

	end := len(data)
	var padLen uint8
	if padding {
		if end <= pos {
			return Packet{}, ErrTooShort
		}
		padLen = data[end-1]
		end -= int(padLen)
		if end < pos {
			return Packet{}, ErrTooShort
		}
	}

	payload := append([]byte(nil), data[pos:end]...)

	return Packet{
		Version:        version,
		Padding:        padding,
		HasExtension:   hasExtension,
		Marker:         marker,
		PayloadType:    payloadType,
		SequenceNumber: seq,
		Timestamp:      ts,
		SSRC:           ssrc,
		CSRC:           csrc,
		Ext:            ext,
		Payload:        payload,
		PadLength:      padLen,
	}, nil
}

// Compose serializes a Packet to wire format, the inverse of Parse.
func Compose(p Packet) []byte {
	if len(p.CSRC) > 15 {
		panic("rtp: too many CSRC entries")
	}
	size := 12 + 4*len(p.CSRC)
	if p.HasExtension && p.Ext != nil {
		size += 4 + len(p.Ext.Data)
	}
	size += len(p.Payload)
	if p.Padding {
		size += int(p.PadLength)
	}

	buf := make([]byte, size)
	buf[0] = (2 << 6) | byte(len(p.CSRC)&0x0F)
	if p.HasExtension && p.Ext != nil {
		buf[0] |= 0x10
	}
	if p.Padding {
		buf[0] |= 0x20
	}
	buf[1] = p.PayloadType & 0x7F
	if p.Marker {
		buf[1] |= 0x80
	}
	binary.BigEndian.PutUint16(buf[2:4], p.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], p.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], p.SSRC)

	pos := 12
	for _, c := range p.CSRC {
		binary.BigEndian.PutUint32(buf[pos:pos+4], c)
		pos += 4
	}
	if p.HasExtension && p.Ext != nil {
		binary.BigEndian.PutUint16(buf[pos:pos+2], p.Ext.ProfileID)
		binary.BigEndian.PutUint16(buf[pos+2:pos+4], uint16(len(p.Ext.Data)/4))
		pos += 4
		copy(buf[pos:], p.Ext.Data)
		pos += len(p.Ext.Data)
	}
	copy(buf[pos:], p.Payload)
	pos += len(p.Payload)
	if p.Padding && p.PadLength > 0 {
		buf[len(buf)-1] = p.PadLength
	}
	return buf
}
