package ts

import (
	"fmt"

	"github.com/ninestream/mediatoolkit/internal/mediaerr"
)

// ErrInvalidData re-exports the shared invalid-data category sentinel so
// callers in this package can write errors.Is(err, ts.ErrInvalidData).
var ErrInvalidData = mediaerr.ErrInvalidData

// ParseHeader decodes the 4-byte TS packet header, validating the sync byte.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("ts: packet too short: %w", ErrInvalidData)
	}
	if data[0] != 0x47 {
		return Header{}, fmt.Errorf("ts: bad sync byte 0x%02x: %w", data[0], ErrInvalidData)
	}
	return Header{
		SyncByte:              data[0],
		TransportError:        data[1]&0x80 != 0,
		PayloadUnitStart:      data[1]&0x40 != 0,
		TransportPriority:     data[1]&0x20 != 0,
		PID:                   (uint16(data[1]&0x1F) << 8) | uint16(data[2]),
		ScramblingControl:     (data[3] >> 6) & 0x03,
		AdaptationFieldExists: data[3]&0x20 != 0,
		ContainsPayload:       data[3]&0x10 != 0,
		ContinuityCounter:     data[3] & 0x0F,
	}, nil
}

// ParseAdaptationField decodes the adaptation field starting at offset in
// data, given the packet's header. Returns (nil, nil) when the header's
// AdaptationFieldExists bit is clear or the field's length byte is 0
// (stuffing-only adaptation field).
func ParseAdaptationField(data []byte, offset int, header Header) (*AdaptationField, error) {
	if !header.AdaptationFieldExists {
		return nil, nil
	}
	if offset >= len(data) {
		return nil, fmt.Errorf("ts: adaptation field offset out of range: %w", ErrInvalidData)
	}

	length := int(data[offset])
	if length == 0 {
		return nil, nil
	}
	if len(data) < offset+length+1 {
		return nil, fmt.Errorf("ts: adaptation field too short: %w", ErrInvalidData)
	}

	flags := data[offset+1]
	field := &AdaptationField{
		Length:            length,
		Discontinuity:     flags&0x80 != 0,
		RandomAccess:      flags&0x40 != 0,
		ESPriority:        flags&0x20 != 0,
		PCRFlag:           flags&0x10 != 0,
		OPCRFlag:          flags&0x08 != 0,
		SplicingPointFlag: flags&0x04 != 0,
		PrivateDataFlag:   flags&0x02 != 0,
		ExtensionFlag:     flags&0x01 != 0,
	}

	pos := offset + 2

	if field.PCRFlag {
		if len(data) < pos+6 {
			return nil, fmt.Errorf("ts: PCR data too short: %w", ErrInvalidData)
		}
		pcr := decode48BitPCR(data[pos : pos+6])
		field.PCR = &pcr
		pos += 6
	}

	if field.OPCRFlag {
		if len(data) < pos+6 {
			return nil, fmt.Errorf("ts: OPCR data too short: %w", ErrInvalidData)
		}
		opcr := decode48BitPCR(data[pos : pos+6])
		field.OPCR = &opcr
		pos += 6
	}

	if field.SplicingPointFlag {
		if len(data) < pos+1 {
			return nil, fmt.Errorf("ts: splice countdown too short: %w", ErrInvalidData)
		}
		sc := int8(data[pos])
		field.SpliceCountdown = &sc
		pos++
	}

	if field.PrivateDataFlag {
		if pos+1 > offset+length {
			return nil, fmt.Errorf("ts: private data length byte missing: %w", ErrInvalidData)
		}
		privLen := int(data[pos])
		pos++
		remaining := length - (pos - offset)
		if privLen > remaining {
			// Malformed private-data length; the original keeps parsing with
			// no private data rather than failing the whole field.
			return field, nil
		}
		field.PrivateData = append([]byte(nil), data[pos:pos+privLen]...)
	}

	return field, nil
}

// decode48BitPCR decodes the 48-bit base(33)*300+ext(9) encoding used for
// both PCR and OPCR fields.
func decode48BitPCR(b []byte) uint64 {
	base := (uint64(b[0]) << 25) | (uint64(b[1]) << 17) | (uint64(b[2]) << 9) | (uint64(b[3]) << 1) | uint64(b[4]>>7)
	ext := (uint64(b[4]&0x01) << 8) | uint64(b[5])
	return base*300 + ext
}

// ParsePAT decodes a PAT section (section_length onward through the program
// loop; the CRC is present but not validated on ingress, per the documented
// contract).
func ParsePAT(data []byte) (PAT, error) {
	if len(data) < 8 {
		return PAT{}, fmt.Errorf("ts: PAT section too short: %w", ErrInvalidData)
	}
	if data[0] != TableIDPAT {
		return PAT{}, fmt.Errorf("ts: unexpected PAT table id 0x%02x: %w", data[0], ErrInvalidData)
	}

	sectionLength := (int(data[1]&0x0F) << 8) | int(data[2])
	totalLength := 3 + sectionLength
	if len(data) < totalLength {
		return PAT{}, fmt.Errorf("ts: PAT shorter than section length: %w", ErrInvalidData)
	}

	var pat PAT
	pos := 8
	for pos+4 <= totalLength-4 {
		programNumber := (uint16(data[pos]) << 8) | uint16(data[pos+1])
		pid := (uint16(data[pos+2]&0x1F) << 8) | uint16(data[pos+3])
		entry := PATEntry{ProgramNumber: programNumber}
		if programNumber == 0 {
			entry.NetworkPID = pid
		} else {
			entry.ProgramMapPID = pid
		}
		pat.Entries = append(pat.Entries, entry)
		pos += 4
	}
	return pat, nil
}

// ParsePMT decodes a PMT section.
func ParsePMT(data []byte) (PMT, error) {
	if len(data) < 7 {
		return PMT{}, fmt.Errorf("ts: PMT section too short: %w", ErrInvalidData)
	}
	if data[0] != TableIDPMT {
		return PMT{}, fmt.Errorf("ts: unexpected PMT table id 0x%02x: %w", data[0], ErrInvalidData)
	}

	sectionLength := (int(data[1]&0x0F) << 8) | int(data[2])
	totalLength := 3 + sectionLength
	if len(data) < totalLength {
		return PMT{}, fmt.Errorf("ts: PMT shorter than section length: %w", ErrInvalidData)
	}

	var pmt PMT
	pos := 8
	pmt.PCRPID = (uint16(data[pos]&0x1F) << 8) | uint16(data[pos+1])
	pos += 2

	programInfoLength := (int(data[pos]&0x0F) << 8) | int(data[pos+1])
	pos += 2
	if programInfoLength > 0 {
		if pos+programInfoLength > totalLength-4 {
			return PMT{}, fmt.Errorf("ts: program info extends beyond section: %w", ErrInvalidData)
		}
		descs, err := parseDescriptors(data[pos : pos+programInfoLength])
		if err != nil {
			return PMT{}, err
		}
		pmt.ProgramDescriptors = descs
		pos += programInfoLength
	}

	for pos+5 <= totalLength-4 {
		streamType := data[pos]
		elementaryPID := (uint16(data[pos+1]&0x1F) << 8) | uint16(data[pos+2])
		esInfoLength := (int(data[pos+3]&0x0F) << 8) | int(data[pos+4])
		pos += 5

		if pos+esInfoLength > totalLength-4 {
			return PMT{}, fmt.Errorf("ts: ES info extends beyond section: %w", ErrInvalidData)
		}
		descs, err := parseDescriptors(data[pos : pos+esInfoLength])
		if err != nil {
			return PMT{}, err
		}
		pos += esInfoLength

		pmt.ElementaryStreamInfo = append(pmt.ElementaryStreamInfo, ElementaryStreamInfo{
			StreamType:    streamType,
			ElementaryPID: elementaryPID,
			Descriptors:   descs,
		})
	}

	return pmt, nil
}

func parseDescriptors(data []byte) ([]Descriptor, error) {
	var descriptors []Descriptor
	pos := 0
	for pos+2 <= len(data) {
		tag := data[pos]
		length := int(data[pos+1])
		pos += 2
		if pos+length > len(data) {
			return nil, fmt.Errorf("ts: descriptor data too short: %w", ErrInvalidData)
		}
		descriptors = append(descriptors, Descriptor{Tag: tag, Data: append([]byte(nil), data[pos:pos+length]...)})
		pos += length
	}
	return descriptors, nil
}
