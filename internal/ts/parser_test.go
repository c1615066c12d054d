package ts

import (
	"testing"
	"time"
)

func TestParseHeader(t *testing.T) {
	data := []byte{
		0x47, // sync byte
		0x40, // payload_unit_start set
		0x00, // PID high bits
		0x10, // continuity counter
	}
	h, err := ParseHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	if h.SyncByte != 0x47 {
		t.Errorf("sync byte = 0x%02x", h.SyncByte)
	}
	if !h.PayloadUnitStart {
		t.Error("expected payload_unit_start set")
	}
	if h.PID != 0 {
		t.Errorf("pid = %d", h.PID)
	}
	if h.ContinuityCounter != 0x10&0x0F {
		t.Errorf("continuity counter = %d", h.ContinuityCounter)
	}
}

func TestParseHeaderBadSync(t *testing.T) {
	data := []byte{0x00, 0x40, 0x00, 0x10}
	if _, err := ParseHeader(data); err == nil {
		t.Fatal("expected error for bad sync byte")
	}
}

func TestParseHeaderTooShort(t *testing.T) {
	if _, err := ParseHeader([]byte{0x47, 0x40}); err == nil {
		t.Fatal("expected error for short packet")
	}
}

func TestParsePAT(t *testing.T) {
	data := []byte{
		TableIDPAT,
		0x80, 0x0D, // section length 13
		0x00, 0x01, // transport stream id
		0xC1,       // version/current_next
		0x00, 0x00, // section numbers
		0x00, 0x01, // program number 1
		0x10, 0x00, // PMT PID 0x1000
		0x00, 0x00, 0x00, 0x00, // CRC32 (not validated on ingress)
	}
	pat, err := ParsePAT(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(pat.Entries) != 1 {
		t.Fatalf("got %d entries", len(pat.Entries))
	}
	if pat.Entries[0].ProgramNumber != 1 {
		t.Errorf("program number = %d", pat.Entries[0].ProgramNumber)
	}
	if pat.Entries[0].ProgramMapPID != 0x1000 {
		t.Errorf("pmt pid = 0x%04x", pat.Entries[0].ProgramMapPID)
	}
}

func TestParsePATBadTableID(t *testing.T) {
	data := make([]byte, 12)
	data[0] = 0xFF
	if _, err := ParsePAT(data); err == nil {
		t.Fatal("expected error for bad table id")
	}
}

// buildPMTSection builds a minimal single-ES PMT section for round-trip
// testing against ParsePMT.
func buildPMTSection(pcrPID uint16, streamType byte, elementaryPID uint16) []byte {
	var body []byte
	body = append(body, byte(pcrPID>>8)|0xE0, byte(pcrPID))
	body = append(body, 0xF0, 0x00) // program info length 0
	body = append(body, streamType, byte(elementaryPID>>8)|0xE0, byte(elementaryPID), 0xF0, 0x00)

	sectionLength := 5 + len(body) + 4 // TSID+version+secnum(5) + body + CRC(4)
	section := []byte{TableIDPMT, byte(0xB0 | (sectionLength>>8)&0x0F), byte(sectionLength)}
	section = append(section, 0x00, 0x01, 0xC1, 0x00, 0x00) // program number, version, section nums
	section = append(section, body...)
	section = append(section, 0, 0, 0, 0) // CRC placeholder
	return section
}

func TestParsePMT(t *testing.T) {
	data := buildPMTSection(0x100, StreamTypeH264, 0x100)
	pmt, err := ParsePMT(data)
	if err != nil {
		t.Fatal(err)
	}
	if pmt.PCRPID != 0x100 {
		t.Errorf("pcr pid = 0x%04x", pmt.PCRPID)
	}
	if len(pmt.ElementaryStreamInfo) != 1 {
		t.Fatalf("got %d ES entries", len(pmt.ElementaryStreamInfo))
	}
	info := pmt.ElementaryStreamInfo[0]
	if info.StreamType != StreamTypeH264 {
		t.Errorf("stream type = 0x%02x", info.StreamType)
	}
	if info.ElementaryPID != 0x100 {
		t.Errorf("elementary pid = 0x%04x", info.ElementaryPID)
	}
}

func TestParseAdaptationFieldPCR(t *testing.T) {
	header := Header{AdaptationFieldExists: true}
	// length=7, flags=PCR only, then 6 bytes of PCR at base=4, ext=126.
	data := []byte{0x47, 0x20, 0x00, 0x30, 0x07, 0x10, 0x00, 0x00, 0x00, 0x02, 0x00, 0x7E}
	field, err := ParseAdaptationField(data, 4, header)
	if err != nil {
		t.Fatal(err)
	}
	if field == nil {
		t.Fatal("expected non-nil adaptation field")
	}
	if !field.PCRFlag || field.PCR == nil {
		t.Fatal("expected PCR present")
	}
}

func TestParseAdaptationFieldAbsent(t *testing.T) {
	header := Header{AdaptationFieldExists: false}
	data := []byte{0x47, 0x00, 0x00, 0x10}
	field, err := ParseAdaptationField(data, 4, header)
	if err != nil {
		t.Fatal(err)
	}
	if field != nil {
		t.Fatal("expected nil field when adaptation_field_exists is clear")
	}
}

func TestPCRRoundTrip(t *testing.T) {
	d := 500 * time.Millisecond
	enc := DurationToPCR(d)
	dec := PCRToDuration(enc)
	diff := dec - d
	if diff < 0 {
		diff = -diff
	}
	if diff > 100*time.Nanosecond {
		t.Errorf("round trip drift too large: %v", diff)
	}
}

func TestPTSRoundTrip(t *testing.T) {
	d := 2 * time.Second
	pts := DurationToPTS(d)
	if pts != 180000 {
		t.Fatalf("pts = %d, want 180000", pts)
	}
	back := PTSToDuration(pts)
	if back != d {
		t.Fatalf("round trip = %v, want %v", back, d)
	}
}
