package h265

import (
	"reflect"
	"testing"
)

func TestNALTypeFromHeader(t *testing.T) {
	// first byte 0x40 = 0b0100_0000 -> (0x40>>1)&0x3F = 0x20 = 32 (VPS)
	u := NALUnit{Data: []byte{0x40, 0x01, 0x02, 0x03}}
	typ, err := u.Type()
	if err != nil {
		t.Fatal(err)
	}
	if typ != NALTypeVPS {
		t.Fatalf("got %v, want VPS", typ)
	}
}

func TestIsKeyFrame(t *testing.T) {
	idr := NALUnit{Data: []byte{19 << 1, 0x00}}
	trail := NALUnit{Data: []byte{0 << 1, 0x00}}
	if !idr.IsKeyFrame() {
		t.Error("IDR_W_RADL should be a keyframe")
	}
	if trail.IsKeyFrame() {
		t.Error("TRAIL should not be a keyframe")
	}
}

func TestRemoveEmulationPrevention(t *testing.T) {
	input := []byte{0x00, 0x00, 0x03, 0x01}
	want := []byte{0x00, 0x00, 0x01}
	if got := RemoveEmulationPrevention(input); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFindUnits(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x01, 32 << 1, 0xAA, // VPS
		0x00, 0x00, 0x01, 33 << 1, 0xBB, // SPS
	}
	units := FindUnits(data)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	t0, _ := units[0].Type()
	t1, _ := units[1].Type()
	if t0 != NALTypeVPS || t1 != NALTypeSPS {
		t.Fatalf("got %v, %v", t0, t1)
	}
}

// vpsPayload encodes vps_id=1, base_layer_internal/available_flag=1,
// max_layers_minus1=0, max_sub_layers_minus1=0, temporal_id_nesting_flag=1,
// 16 reserved bits, then a profile_tier_level with profile_space=0,
// tier_flag=0, profile_idc=1, profile_compatibility_flags=0x60000000,
// progressive_source_flag=1, interlaced_source_flag=0,
// non_packed_constraint_flag=1, frame_only_constraint_flag=1, 44 reserved
// bits, level_idc=93.
var vpsPayload = []byte{0x1C, 0x01, 0xFF, 0xFF, 0x01, 0x60, 0x00, 0x00, 0x00, 0xBF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x5D}

func TestParseVPS(t *testing.T) {
	got, err := ParseVPS(vpsPayload)
	if err != nil {
		t.Fatal(err)
	}
	want := VPSInfo{
		VPSID:                  1,
		BaseLayerInternalFlag:  true,
		BaseLayerAvailableFlag: true,
		TemporalIDNestingFlag:  true,
		ProfileTierLevel: ProfileTierLevel{
			ProfileIDC:                1,
			ProfileCompatibilityFlags: 0x60000000,
			ProgressiveSourceFlag:     true,
			NonPackedConstraintFlag:   true,
			FrameOnlyConstraintFlag:   true,
			LevelIDC:                  93,
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

// spsPayload reuses vpsPayload's profile_tier_level encoding after a
// 1-byte vps_id/max_sub_layers_minus1/temporal_id_nesting_flag header, then
// encodes sps_id=0, chroma_format_idc=1, pic_width_in_luma_samples=1920,
// pic_height_in_luma_samples=1080, conformance_window_flag=0 as exp-Golomb
// codes.
var spsPayload = []byte{
	0x11,
	0x01, 0x60, 0x00, 0x00, 0x00, 0xBF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x5D,
	0xA0, 0x03, 0xC0, 0x80, 0x10, 0xE4,
}

func TestParseSPS(t *testing.T) {
	got, err := ParseSPS(spsPayload)
	if err != nil {
		t.Fatal(err)
	}
	want := SPSInfo{
		VPSID:                 1,
		TemporalIDNestingFlag: true,
		ProfileTierLevel: ProfileTierLevel{
			ProfileIDC:                1,
			ProfileCompatibilityFlags: 0x60000000,
			ProgressiveSourceFlag:     true,
			NonPackedConstraintFlag:   true,
			FrameOnlyConstraintFlag:   true,
			LevelIDC:                  93,
		},
		ChromaFormatIDC:        1,
		PicWidthInLumaSamples:  1920,
		PicHeightInLumaSamples: 1080,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
