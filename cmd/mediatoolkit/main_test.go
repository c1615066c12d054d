package main

import (
	"testing"

	"github.com/ninestream/mediatoolkit/internal/sdp"
	"github.com/ninestream/mediatoolkit/internal/ts"
)

func mediaWithRTPMap(rtpmap string) sdp.MediaDescription {
	return sdp.MediaDescription{
		MediaType:  "video",
		Attributes: map[string]string{"rtpmap": rtpmap},
	}
}

func TestDetectCodecH264(t *testing.T) {
	codec, ok := detectCodec(mediaWithRTPMap("96 H264/90000"))
	if !ok || codec != ts.CodecH264 {
		t.Fatalf("detectCodec = (%v, %v), want (CodecH264, true)", codec, ok)
	}
}

func TestDetectCodecH265(t *testing.T) {
	codec, ok := detectCodec(mediaWithRTPMap("97 H265/90000"))
	if !ok || codec != ts.CodecH265 {
		t.Fatalf("detectCodec = (%v, %v), want (CodecH265, true)", codec, ok)
	}
}

func TestDetectCodecAAC(t *testing.T) {
	codec, ok := detectCodec(mediaWithRTPMap("97 MPEG4-GENERIC/48000/2"))
	if !ok || codec != ts.CodecAAC {
		t.Fatalf("detectCodec = (%v, %v), want (CodecAAC, true)", codec, ok)
	}
}

func TestDetectCodecUnsupported(t *testing.T) {
	if _, ok := detectCodec(mediaWithRTPMap("98 PCMU/8000")); ok {
		t.Fatal("expected unsupported codec to report ok=false")
	}
}

func TestLooksLikeKeyframeH264IDR(t *testing.T) {
	idrNAL := []byte{0x65, 0x00, 0x00} // nal_unit_type 5
	if !looksLikeKeyframe(ts.CodecH264, idrNAL) {
		t.Fatal("expected IDR NAL to be flagged as keyframe")
	}
	nonIDR := []byte{0x61, 0x00} // nal_unit_type 1
	if looksLikeKeyframe(ts.CodecH264, nonIDR) {
		t.Fatal("non-IDR NAL incorrectly flagged as keyframe")
	}
}

func TestLooksLikeKeyframeH265IRAP(t *testing.T) {
	irap := []byte{byte(19 << 1), 0x00} // nal_unit_type 19 (IDR_W_RADL)
	if !looksLikeKeyframe(ts.CodecH265, irap) {
		t.Fatal("expected IRAP NAL to be flagged as keyframe")
	}
}

func TestLooksLikeKeyframeAACAlwaysTrue(t *testing.T) {
	if !looksLikeKeyframe(ts.CodecAAC, []byte{0xFF, 0xF1}) {
		t.Fatal("AAC access units should always report as keyframes")
	}
}

func TestLooksLikeKeyframeEmptyPayload(t *testing.T) {
	if looksLikeKeyframe(ts.CodecH264, nil) {
		t.Fatal("empty payload should never be a keyframe")
	}
}

func TestSegmentSwitchWriterRejectsWriteBeforeSwap(t *testing.T) {
	var w segmentSwitchWriter
	if _, err := w.Write([]byte{1}); err == nil {
		t.Fatal("expected an error writing before any segment file is open")
	}
}

func mediaWithFmtp(mediaType, fmtp string) sdp.MediaDescription {
	return sdp.MediaDescription{
		MediaType:  mediaType,
		Attributes: map[string]string{"fmtp": fmtp},
	}
}

func TestParseVideoParameterSetsH264(t *testing.T) {
	// sprop-parameter-sets carries a 1-byte NAL header + the Baseline SPS
	// payload from h264_test.go's TestParseSPS (profile 66, level 30,
	// 1280x720), base64-encoded, comma-joined with a PPS.
	fmtp := "96 sprop-parameter-sets=Z0IAHvgKALQ=,aM48gA==;packetization-mode=1"
	params, width, height := parseVideoParameterSets(mediaWithFmtp("video", fmtp), ts.CodecH264)
	if params == nil {
		t.Fatal("expected non-nil params")
	}
	if params.ProfileIDC != 66 || params.LevelIDC != 30 {
		t.Fatalf("params = %+v, want ProfileIDC=66 LevelIDC=30", params)
	}
	if width != 1280 || height != 720 {
		t.Fatalf("dimensions = %dx%d, want 1280x720", width, height)
	}
}

func TestParseVideoParameterSetsH265(t *testing.T) {
	// sprop-vps/sprop-sps carry the 2-byte-NAL-header-prefixed VPS/SPS
	// payloads from h265_test.go (profile_idc 1, level_idc 93, 1920x1080).
	fmtp := "97 sprop-vps=QAEcAf//AWAAAAC///////9d;sprop-sps=QgERAWAAAAC///////9doAPAgBDk"
	params, width, height := parseVideoParameterSets(mediaWithFmtp("video", fmtp), ts.CodecH265)
	if params == nil {
		t.Fatal("expected non-nil params")
	}
	if params.ProfileIDC != 1 || params.LevelIDC != 93 {
		t.Fatalf("params = %+v, want ProfileIDC=1 LevelIDC=93", params)
	}
	if width != 1920 || height != 1080 {
		t.Fatalf("dimensions = %dx%d, want 1920x1080", width, height)
	}
}

func TestParseVideoParameterSetsMissingFmtp(t *testing.T) {
	media := sdp.MediaDescription{MediaType: "video"}
	params, width, height := parseVideoParameterSets(media, ts.CodecH264)
	if params != nil || width != 0 || height != 0 {
		t.Fatalf("expected nil/zero result without fmtp, got %+v %d %d", params, width, height)
	}
}

func TestParseVideoParameterSetsAudioAlwaysNil(t *testing.T) {
	media := mediaWithFmtp("audio", "97 profile-level-id=1;mode=AAC-hbr")
	params, width, height := parseVideoParameterSets(media, ts.CodecAAC)
	if params != nil || width != 0 || height != 0 {
		t.Fatalf("expected nil/zero result for AAC, got %+v %d %d", params, width, height)
	}
}

func TestHLSCodecsAttrPrecise(t *testing.T) {
	plans := []streamPlan{
		{codec: ts.CodecH264, videoParams: &ts.VideoDescriptorParams{ProfileIDC: 66, LevelIDC: 30}},
		{codec: ts.CodecAAC},
	}
	got := hlsCodecsAttr(plans)
	want := "avc1.42001E,mp4a.40.2"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHLSCodecsAttrFallback(t *testing.T) {
	plans := []streamPlan{{codec: ts.CodecH265}}
	got := hlsCodecsAttr(plans)
	want := "hvc1.1.6.L93.B0"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
