// Package h264 splits an H.264 Annex B byte stream into NAL units and
// classifies them, stripping emulation-prevention bytes where needed.
package h264

import (
	"errors"

	"github.com/ninestream/mediatoolkit/internal/bitio"
)

// NALType identifies an H.264 NAL unit type (low 5 bits of the header byte).
type NALType uint8

const (
	NALTypeUnknown NALType = 0
	NALTypeNonIDR  NALType = 1
	NALTypeIDR     NALType = 5
	NALTypeSEI     NALType = 6
	NALTypeSPS     NALType = 7
	NALTypePPS     NALType = 8
)

// ErrEmptyUnit is returned for a NAL unit with no header byte.
var ErrEmptyUnit = errors.New("h264: empty NAL unit")

// NALUnit is a view into the source buffer holding one NAL unit's bytes
// (header byte followed by payload), exclusive of the start code.
type NALUnit struct {
	Data []byte
}

// Header returns the NAL unit's header byte.
func (u NALUnit) Header() (byte, error) {
	if len(u.Data) == 0 {
		return 0, ErrEmptyUnit
	}
	return u.Data[0], nil
}

// Type returns the unit's NAL type (low 5 bits of the header byte).
func (u NALUnit) Type() (NALType, error) {
	h, err := u.Header()
	if err != nil {
		return NALTypeUnknown, err
	}
	return NALType(h & 0x1F), nil
}

// Payload returns the bytes after the header byte.
func (u NALUnit) Payload() []byte {
	if len(u.Data) <= 1 {
		return nil
	}
	return u.Data[1:]
}

// IsKeyFrame reports whether the unit is an IDR slice (NAL type 5).
func (u NALUnit) IsKeyFrame() bool {
	t, err := u.Type()
	return err == nil && t == NALTypeIDR
}

// FindUnits splits data on 0x000001 / 0x00000001 start codes and returns the
// byte ranges between them (start code excluded, trailing unit included).
func FindUnits(data []byte) []NALUnit {
	var units []NALUnit
	starts := startCodeOffsets(data)
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1].codeStart
		}
		if s.payloadStart >= end {
			continue
		}
		units = append(units, NALUnit{Data: data[s.payloadStart:end]})
	}
	return units
}

type startCode struct {
	codeStart    int
	payloadStart int
}

// startCodeOffsets finds every 0x000001 (3-byte) or 0x00000001 (4-byte)
// start code in data, preferring the longer match when both align.
func startCodeOffsets(data []byte) []startCode {
	var out []startCode
	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			codeStart := i
			payloadStart := i + 3
			if i > 0 && data[i-1] == 0 {
				codeStart = i - 1
			}
			out = append(out, startCode{codeStart: codeStart, payloadStart: payloadStart})
			i += 3
			continue
		}
		i++
	}
	return out
}

// RemoveEmulationPrevention removes 0x03 emulation-prevention bytes that
// follow every 00 00 sequence, required before parsing parameter-set
// payloads.
func RemoveEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for i := 0; i < len(data); i++ {
		b := data[i]
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// SPSInfo holds the subset of sequence-parameter-set fields the transport
// layer can use to size PMT descriptors.
type SPSInfo struct {
	ProfileIDC uint8
	LevelIDC   uint8
	Width      uint32
	Height     uint32
}

// ParseSPS extracts profile/level/dimensions from an SPS NAL payload
// (header byte and emulation-prevention bytes already removed).
//
// This is a best-effort partial decode: it reads exactly the fields needed
// to report picture dimensions, not the full parameter-set grammar.
func ParseSPS(payload []byte) (SPSInfo, error) {
	if len(payload) < 4 {
		return SPSInfo{}, errors.New("h264: SPS payload too short")
	}
	info := SPSInfo{
		ProfileIDC: payload[0],
		LevelIDC:   payload[2],
	}
	r := bitio.NewReader(payload[3:])
	spsID, err := r.ReadGolomb()
	if err != nil {
		return info, err
	}
	_ = spsID

	if info.ProfileIDC == 100 || info.ProfileIDC == 110 || info.ProfileIDC == 122 ||
		info.ProfileIDC == 244 || info.ProfileIDC == 44 || info.ProfileIDC == 83 ||
		info.ProfileIDC == 86 || info.ProfileIDC == 118 || info.ProfileIDC == 128 {
		chromaFormatIDC, err := r.ReadGolomb()
		if err != nil {
			return info, err
		}
		if chromaFormatIDC == 3 {
			if err := r.SkipBits(1); err != nil {
				return info, err
			}
		}
		if _, err := r.ReadGolomb(); err != nil { // bit_depth_luma_minus8
			return info, err
		}
		if _, err := r.ReadGolomb(); err != nil { // bit_depth_chroma_minus8
			return info, err
		}
		if err := r.SkipBits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return info, err
		}
		seqScalingMatrixPresent, err := r.ReadBit()
		if err != nil {
			return info, err
		}
		if seqScalingMatrixPresent == 1 {
			return info, errors.New("h264: scaling matrices unsupported")
		}
	}
	if _, err := r.ReadGolomb(); err != nil { // log2_max_frame_num_minus4
		return info, err
	}
	picOrderCntType, err := r.ReadGolomb()
	if err != nil {
		return info, err
	}
	if picOrderCntType == 0 {
		if _, err := r.ReadGolomb(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return info, err
		}
	} else if picOrderCntType == 1 {
		return info, errors.New("h264: pic_order_cnt_type 1 unsupported")
	}
	if _, err := r.ReadGolomb(); err != nil { // max_num_ref_frames
		return info, err
	}
	if err := r.SkipBits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return info, err
	}
	picWidthInMbsMinus1, err := r.ReadGolomb()
	if err != nil {
		return info, err
	}
	picHeightInMapUnitsMinus1, err := r.ReadGolomb()
	if err != nil {
		return info, err
	}
	info.Width = (picWidthInMbsMinus1 + 1) * 16
	info.Height = (picHeightInMapUnitsMinus1 + 1) * 16
	return info, nil
}
