package ts

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/ninestream/mediatoolkit/internal/avpacket"
	"github.com/ninestream/mediatoolkit/internal/crc32mpeg2"
	"github.com/ninestream/mediatoolkit/internal/metrics"
)

// pcrInterval targets roughly 25 PCR updates per second.
const pcrInterval = 40 * time.Millisecond

// CodecType names an elementary stream's codec, used to pick its PMT
// stream_type and PES stream_id.
type CodecType int

const (
	CodecH264 CodecType = iota
	CodecH265
	CodecAAC
)

func (c CodecType) streamType() (byte, error) {
	switch c {
	case CodecH264:
		return StreamTypeH264, nil
	case CodecH265:
		return StreamTypeH265, nil
	case CodecAAC:
		return StreamTypeAAC, nil
	default:
		return 0, fmt.Errorf("ts: unsupported codec type %d", c)
	}
}

func (c CodecType) pesStreamID() byte {
	switch c {
	case CodecH265:
		return StreamIDH265
	case CodecAAC:
		return StreamIDAAC
	default:
		return StreamIDH264
	}
}

// Muxer serializes MediaPacket access units into a 188-byte-aligned MPEG-TS
// stream: one PAT/PMT pair at startup, then fragmented PES for every
// subsequent packet.
type Muxer struct {
	w   io.Writer
	pat PAT
	pmt PMT

	streams            []CodecType
	continuityCounters []byte

	currentPCR   time.Duration
	lastPCR      *time.Duration
	lastPCRWrite time.Duration
	discontinuity bool

	metrics    *metrics.Registry
	streamName string
}

// NewMuxer creates a muxer writing to w. Streams must be added with
// AddStream before WriteHeader.
func NewMuxer(w io.Writer) *Muxer {
	return &Muxer{w: w}
}

// WithMetrics attaches a metrics registry; the PCR-discontinuity counter
// is a no-op until this is called.
func (m *Muxer) WithMetrics(reg *metrics.Registry, streamName string) *Muxer {
	m.metrics = reg
	m.streamName = streamName
	return m
}

// AddStream registers a new elementary stream and returns its assigned PID.
// PIDs are allocated sequentially starting at 0x100.
func (m *Muxer) AddStream(codec CodecType) (uint16, error) {
	return m.AddVideoStream(codec, nil)
}

// videoDescriptorTag is the DVB/MPEG-2 PMT descriptor tag identifying an
// AVC_video_descriptor (H.264) or HEVC_video_descriptor (H.265).
const (
	videoDescriptorTagAVC  = 0x28
	videoDescriptorTagHEVC = 0x38
)

// VideoDescriptorParams carries the parsed parameter-set fields an
// AddVideoStream caller already decoded from an SPS (H.264) or SPS/VPS
// (H.265) NAL, used to size the stream's PMT video descriptor.
type VideoDescriptorParams struct {
	ProfileIDC byte
	LevelIDC   byte
}

// AddVideoStream is AddStream plus an optional PMT video descriptor
// (AVC_video_descriptor or HEVC_video_descriptor) built from a parsed
// SPS/VPS profile and level. params may be nil, in which case the stream is
// registered with no descriptor, exactly as AddStream does.
func (m *Muxer) AddVideoStream(codec CodecType, params *VideoDescriptorParams) (uint16, error) {
	streamType, err := codec.streamType()
	if err != nil {
		return 0, err
	}
	pid := uint16(0x100) + uint16(len(m.streams))

	var descriptors []Descriptor
	if params != nil {
		if d, ok := videoDescriptor(codec, *params); ok {
			descriptors = append(descriptors, d)
		}
	}

	m.pmt.ElementaryStreamInfo = append(m.pmt.ElementaryStreamInfo, ElementaryStreamInfo{
		StreamType:    streamType,
		ElementaryPID: pid,
		Descriptors:   descriptors,
	})
	m.streams = append(m.streams, codec)
	m.continuityCounters = append(m.continuityCounters, 0)
	return pid, nil
}

// videoDescriptor builds the 4-byte AVC_video_descriptor (ETSI EN 300 468
// table 76) for H.264, or a simplified HEVC_video_descriptor for H.265
// carrying the same profile/level fields in its first bytes. Non-video
// codecs get no descriptor.
func videoDescriptor(codec CodecType, p VideoDescriptorParams) (Descriptor, bool) {
	switch codec {
	case CodecH264:
		return Descriptor{
			Tag: videoDescriptorTagAVC,
			// profile_idc, constraint flags (unknown, zeroed), level_idc,
			// AVC_still_present/AVC_24_hour_picture_flag/reserved.
			Data: []byte{p.ProfileIDC, 0x00, p.LevelIDC, 0x00},
		}, true
	case CodecH265:
		return Descriptor{
			Tag: videoDescriptorTagHEVC,
			// Leading profile_space/tier/profile_idc byte and level_idc;
			// the full descriptor also carries compatibility flags and
			// temporal-layer info this muxer does not track per stream.
			Data: []byte{p.ProfileIDC, p.LevelIDC},
		}, true
	default:
		return Descriptor{}, false
	}
}

// MarkDiscontinuity flags the next media packet to carry the discontinuity
// indicator in its adaptation field.
func (m *Muxer) MarkDiscontinuity() {
	m.discontinuity = true
	if m.metrics != nil {
		m.metrics.TSPCRDiscontinuities.WithLabelValues(m.streamName).Inc()
	}
}

// ResetPCR clears the current PCR estimate, used at WriteHeader time.
func (m *Muxer) ResetPCR() {
	m.currentPCR = 0
	m.lastPCR = nil
	m.lastPCRWrite = 0
}

// WriteHeader emits the PAT and PMT, assigning the PCR PID to the first
// added stream.
func (m *Muxer) WriteHeader() error {
	m.pat = PAT{Entries: []PATEntry{{ProgramNumber: 1, ProgramMapPID: PIDPMT}}}
	if len(m.streams) > 0 {
		m.pmt.PCRPID = m.streamPID(0)
	}

	if err := m.writePAT(); err != nil {
		return err
	}
	if err := m.writePMT(); err != nil {
		return err
	}

	m.ResetPCR()
	m.discontinuity = false
	return nil
}

func (m *Muxer) streamPID(index int) uint16 { return uint16(0x100) + uint16(index) }

func (m *Muxer) nextContinuityCounter(index int) byte {
	m.continuityCounters[index] = (m.continuityCounters[index] + 1) & 0x0F
	return m.continuityCounters[index]
}

func (m *Muxer) updatePCR(t time.Duration) {
	if m.lastPCR != nil && t < *m.lastPCR {
		m.MarkDiscontinuity()
	}
	m.currentPCR = t
}

func (m *Muxer) needsPCR() bool {
	return m.currentPCR >= m.lastPCRWrite+pcrInterval
}

// WritePacket muxes one access unit: it is PES-framed, then fragmented
// across as many 188-byte TS packets as the payload requires. Only the
// first fragment carries payload_unit_start and is PCR-eligible; the PCR
// cadence (~25 Hz) is far below typical frame rates, so later fragments of
// the same access unit are never due for another PCR anyway.
func (m *Muxer) WritePacket(pkt avpacket.Packet) error {
	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(m.streams) {
		return fmt.Errorf("ts: packet references unknown stream index %d", pkt.StreamIndex)
	}
	codec := m.streams[pkt.StreamIndex]
	pid := m.streamPID(pkt.StreamIndex)
	isPCRPID := pid == m.pmt.PCRPID

	pes := NewPESPacket(codec.pesStreamID(), pkt.Data)
	if pkt.PTS != nil {
		d := millisToDuration(*pkt.PTS)
		m.updatePCR(d)
		pes = pes.WithPTS(d)
	}
	if pkt.DTS != nil {
		pes = pes.WithDTS(millisToDuration(*pkt.DTS))
	}

	var pesBuf bytes.Buffer
	pes.WriteTo(&pesBuf)

	return m.writeFragmented(pid, pkt.StreamIndex, isPCRPID, pesBuf.Bytes())
}

// millisToDuration mirrors the original muxer's Duration::from_millis(pts)
// treatment of MediaPacket timestamps.
func millisToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (m *Muxer) writeFragmented(pid uint16, streamIndex int, isPCRPID bool, payload []byte) error {
	offset := 0
	first := true
	for offset < len(payload) || first {
		remaining := payload[offset:]

		needPCR := first && isPCRPID && m.needsPCR()
		discontinuityNow := first && m.discontinuity

		// An adaptation field costs its length and flags bytes, plus six
		// bytes when it carries a PCR. A fragment too short to fill the
		// payload also needs one, to hold its stuffing.
		adaptationOverhead := 0
		if needPCR || discontinuityNow || len(remaining) < PacketSize-HeaderSize {
			adaptationOverhead = 2
		}
		if needPCR {
			adaptationOverhead += 6
		}

		capacity := PacketSize - HeaderSize - adaptationOverhead
		chunk := remaining
		stuffing := 0
		if len(chunk) > capacity {
			chunk = chunk[:capacity]
		} else if len(chunk) < capacity {
			stuffing = capacity - len(chunk)
		}

		hasAdaptation := adaptationOverhead > 0

		header := Header{
			SyncByte:              0x47,
			PayloadUnitStart:      first,
			PID:                   pid,
			AdaptationFieldExists: hasAdaptation,
			ContainsPayload:       true,
			ContinuityCounter:     m.nextContinuityCounter(streamIndex),
		}

		var buf bytes.Buffer
		header.WriteTo(&buf)
		if hasAdaptation {
			m.writeAdaptationField(&buf, needPCR, stuffing, discontinuityNow)
			if needPCR {
				m.lastPCRWrite = m.currentPCR
				pcr := m.currentPCR
				m.lastPCR = &pcr
			}
		}
		buf.Write(chunk)
		for buf.Len() < PacketSize {
			buf.WriteByte(0xFF)
		}

		if _, err := m.w.Write(buf.Bytes()); err != nil {
			return err
		}

		offset += len(chunk)
		first = false
		if len(payload) == 0 {
			break
		}
	}
	return nil
}

func (m *Muxer) writeAdaptationField(buf *bytes.Buffer, needPCR bool, stuffing int, discontinuity bool) {
	length := 1 + stuffing // flags byte plus stuffing
	if needPCR {
		length += 6
	}
	buf.WriteByte(byte(length))

	var flags byte
	if needPCR {
		flags |= 0x10
	}
	if discontinuity {
		flags |= 0x80
	}
	if stuffing > 0 {
		flags |= 0x20
	}
	buf.WriteByte(flags)

	if needPCR {
		pcr := DurationToPCR(m.currentPCR)
		top32 := uint32(pcr >> 16)
		buf.WriteByte(byte(top32 >> 24))
		buf.WriteByte(byte(top32 >> 16))
		buf.WriteByte(byte(top32 >> 8))
		buf.WriteByte(byte(top32))
		writeUint16(buf, uint16(pcr&0xFFFF))
	}

	for i := 0; i < stuffing; i++ {
		buf.WriteByte(0xFF)
	}

	m.discontinuity = false
}

func (m *Muxer) writePAT() error {
	var patBody bytes.Buffer
	m.pat.WriteTo(&patBody)
	return m.writePSISection(PIDPAT, TableIDPAT, 1, patBody.Bytes())
}

func (m *Muxer) writePMT() error {
	var pmtBody bytes.Buffer
	m.pmt.WriteTo(&pmtBody)
	return m.writePSISection(PIDPMT, TableIDPMT, 1, pmtBody.Bytes())
}

// writePSISection assembles and writes a single-section PSI table (PAT or
// PMT): table-id, 12-bit section length, table-id-extension (transport
// stream id for a PAT, program number for a PMT), version/current_next,
// section numbers, body, then CRC-32/MPEG-2 over the table-id through the
// last body byte. The remainder of the 188-byte packet is 0xFF stuffing.
func (m *Muxer) writePSISection(pid uint16, tableID byte, tableIDExtension uint16, body []byte) error {
	sectionLength := len(body) + 5 + 4

	var section bytes.Buffer
	section.WriteByte(tableID)
	section.WriteByte(byte(0xB0 | (sectionLength>>8)&0x0F))
	section.WriteByte(byte(sectionLength))
	writeUint16(&section, tableIDExtension)
	section.WriteByte(0xC1) // version 0, current_next_indicator 1
	section.WriteByte(0x00) // section_number
	section.WriteByte(0x00) // last_section_number
	section.Write(body)

	crc := crc32mpeg2.Checksum(section.Bytes())
	section.WriteByte(byte(crc >> 24))
	section.WriteByte(byte(crc >> 16))
	section.WriteByte(byte(crc >> 8))
	section.WriteByte(byte(crc))

	header := Header{
		SyncByte:         0x47,
		PayloadUnitStart: true,
		PID:              pid,
		ContainsPayload:  true,
	}
	var pktBuf bytes.Buffer
	header.WriteTo(&pktBuf)
	pktBuf.WriteByte(0x00) // pointer field
	pktBuf.Write(section.Bytes())
	for pktBuf.Len() < PacketSize {
		pktBuf.WriteByte(0xFF)
	}

	_, err := m.w.Write(pktBuf.Bytes())
	return err
}
