// Package h265 splits an H.265/HEVC Annex B byte stream into NAL units,
// classifies them, and decodes VPS/SPS parameter sets.
package h265

import (
	"errors"

	"github.com/ninestream/mediatoolkit/internal/bitio"
)

// NALType identifies an H.265 NAL unit type, extracted as (byte0>>1)&0x3F.
type NALType uint8

const (
	NALTypeTrail    NALType = 0
	NALTypeIDRWRADL NALType = 19
	NALTypeIDRNLP   NALType = 20
	NALTypeCRA      NALType = 21
	NALTypeVPS      NALType = 32
	NALTypeSPS      NALType = 33
	NALTypePPS      NALType = 34
)

// ErrEmptyUnit is returned for a NAL unit with no header byte.
var ErrEmptyUnit = errors.New("h265: empty NAL unit")

// NALUnit is a view into the source buffer holding one NAL unit's bytes
// (2-byte header followed by payload), exclusive of the start code.
type NALUnit struct {
	Data []byte
}

// Type returns the unit's NAL type: (data[0]>>1)&0x3F.
func (u NALUnit) Type() (NALType, error) {
	if len(u.Data) == 0 {
		return NALTypeTrail, ErrEmptyUnit
	}
	return NALType((u.Data[0] >> 1) & 0x3F), nil
}

// Payload returns the bytes after the 2-byte NAL header.
func (u NALUnit) Payload() []byte {
	if len(u.Data) <= 2 {
		return nil
	}
	return u.Data[2:]
}

// IsKeyFrame reports whether the unit is IDR_W_RADL, IDR_N_LP, or CRA.
func (u NALUnit) IsKeyFrame() bool {
	t, err := u.Type()
	if err != nil {
		return false
	}
	return t == NALTypeIDRWRADL || t == NALTypeIDRNLP || t == NALTypeCRA
}

// FindUnits splits data on 0x000001 / 0x00000001 start codes and returns
// the byte ranges between them.
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
// follow every 00 00 sequence.
func RemoveEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
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

// ProfileTierLevel holds the profile_tier_level() fields shared by VPS and
// SPS, used by decoders/packagers to size buffers and pick a codec string.
type ProfileTierLevel struct {
	ProfileSpace              uint8
	TierFlag                  bool
	ProfileIDC                uint8
	ProfileCompatibilityFlags uint32
	ProgressiveSourceFlag     bool
	InterlacedSourceFlag      bool
	NonPackedConstraintFlag   bool
	FrameOnlyConstraintFlag   bool
	LevelIDC                  uint8
}

// VPSInfo holds the subset of video-parameter-set fields a transport or
// packaging layer can use.
type VPSInfo struct {
	VPSID                   uint8
	BaseLayerInternalFlag   bool
	BaseLayerAvailableFlag  bool
	MaxLayersMinus1         uint8
	MaxSubLayersMinus1      uint8
	TemporalIDNestingFlag   bool
	ProfileTierLevel        ProfileTierLevel
}

// SPSInfo holds the subset of sequence-parameter-set fields the transport
// layer can use to size PMT descriptors and report picture dimensions.
type SPSInfo struct {
	SPSID                 uint32
	VPSID                 uint8
	MaxSubLayersMinus1     uint8
	TemporalIDNestingFlag  bool
	ProfileTierLevel       ProfileTierLevel
	ChromaFormatIDC        uint32
	PicWidthInLumaSamples  uint32
	PicHeightInLumaSamples uint32
	ConformanceWindowFlag  bool
	ConfWinLeftOffset      uint32
	ConfWinRightOffset     uint32
	ConfWinTopOffset       uint32
	ConfWinBottomOffset    uint32
}

// parseProfileTierLevel reads profile_tier_level() as defined by the H.265
// bitstream grammar; profilePresentFlag is always true for the general
// (non-sub-layer) level this package decodes.
func parseProfileTierLevel(r *bitio.Reader, profilePresentFlag bool) (ProfileTierLevel, error) {
	var ptl ProfileTierLevel

	if profilePresentFlag {
		v, err := r.ReadBits(2)
		if err != nil {
			return ptl, err
		}
		ptl.ProfileSpace = uint8(v)

		tierFlag, err := r.ReadBit()
		if err != nil {
			return ptl, err
		}
		ptl.TierFlag = tierFlag == 1

		v, err = r.ReadBits(5)
		if err != nil {
			return ptl, err
		}
		ptl.ProfileIDC = uint8(v)

		v, err = r.ReadBits(32)
		if err != nil {
			return ptl, err
		}
		ptl.ProfileCompatibilityFlags = v

		if b, err := r.ReadBit(); err != nil {
			return ptl, err
		} else {
			ptl.ProgressiveSourceFlag = b == 1
		}
		if b, err := r.ReadBit(); err != nil {
			return ptl, err
		} else {
			ptl.InterlacedSourceFlag = b == 1
		}
		if b, err := r.ReadBit(); err != nil {
			return ptl, err
		} else {
			ptl.NonPackedConstraintFlag = b == 1
		}
		if b, err := r.ReadBit(); err != nil {
			return ptl, err
		} else {
			ptl.FrameOnlyConstraintFlag = b == 1
		}

		if err := r.SkipBits(44); err != nil { // reserved constraint/general bits
			return ptl, err
		}
	}

	v, err := r.ReadBits(8)
	if err != nil {
		return ptl, err
	}
	ptl.LevelIDC = uint8(v)
	return ptl, nil
}

// ParseVPS decodes a video_parameter_set_rbsp() NAL payload (2-byte NAL
// header and emulation-prevention bytes already removed).
func ParseVPS(payload []byte) (VPSInfo, error) {
	r := bitio.NewReader(payload)

	var info VPSInfo
	v, err := r.ReadBits(4)
	if err != nil {
		return info, err
	}
	info.VPSID = uint8(v)

	if b, err := r.ReadBit(); err != nil {
		return info, err
	} else {
		info.BaseLayerInternalFlag = b == 1
	}
	if b, err := r.ReadBit(); err != nil {
		return info, err
	} else {
		info.BaseLayerAvailableFlag = b == 1
	}

	v, err = r.ReadBits(6)
	if err != nil {
		return info, err
	}
	info.MaxLayersMinus1 = uint8(v)

	v, err = r.ReadBits(3)
	if err != nil {
		return info, err
	}
	info.MaxSubLayersMinus1 = uint8(v)

	if b, err := r.ReadBit(); err != nil {
		return info, err
	} else {
		info.TemporalIDNestingFlag = b == 1
	}

	if err := r.SkipBits(16); err != nil { // vps_reserved_0xffff_16bits
		return info, err
	}

	ptl, err := parseProfileTierLevel(r, true)
	if err != nil {
		return info, err
	}
	info.ProfileTierLevel = ptl
	return info, nil
}

// ParseSPS decodes a seq_parameter_set_rbsp() NAL payload (2-byte NAL
// header and emulation-prevention bytes already removed), reading only the
// fields needed to report picture dimensions and profile/level.
func ParseSPS(payload []byte) (SPSInfo, error) {
	r := bitio.NewReader(payload)

	var info SPSInfo
	v, err := r.ReadBits(4)
	if err != nil {
		return info, err
	}
	info.VPSID = uint8(v)

	v, err = r.ReadBits(3)
	if err != nil {
		return info, err
	}
	info.MaxSubLayersMinus1 = uint8(v)

	if b, err := r.ReadBit(); err != nil {
		return info, err
	} else {
		info.TemporalIDNestingFlag = b == 1
	}

	ptl, err := parseProfileTierLevel(r, true)
	if err != nil {
		return info, err
	}
	info.ProfileTierLevel = ptl

	spsID, err := r.ReadGolomb()
	if err != nil {
		return info, err
	}
	info.SPSID = spsID

	chromaFormatIDC, err := r.ReadGolomb()
	if err != nil {
		return info, err
	}
	info.ChromaFormatIDC = chromaFormatIDC
	if chromaFormatIDC == 3 {
		if err := r.SkipBits(1); err != nil { // separate_colour_plane_flag
			return info, err
		}
	}

	width, err := r.ReadGolomb()
	if err != nil {
		return info, err
	}
	info.PicWidthInLumaSamples = width

	height, err := r.ReadGolomb()
	if err != nil {
		return info, err
	}
	info.PicHeightInLumaSamples = height

	confWinFlag, err := r.ReadBit()
	if err != nil {
		return info, err
	}
	info.ConformanceWindowFlag = confWinFlag == 1
	if info.ConformanceWindowFlag {
		if info.ConfWinLeftOffset, err = r.ReadGolomb(); err != nil {
			return info, err
		}
		if info.ConfWinRightOffset, err = r.ReadGolomb(); err != nil {
			return info, err
		}
		if info.ConfWinTopOffset, err = r.ReadGolomb(); err != nil {
			return info, err
		}
		if info.ConfWinBottomOffset, err = r.ReadGolomb(); err != nil {
			return info, err
		}
	}

	return info, nil
}
