package diag

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ninestream/mediatoolkit/internal/avpacket"
	"github.com/ninestream/mediatoolkit/internal/ts"
)

func buildMuxedStream(t *testing.T) []byte {
	t.Helper()
	var out bytes.Buffer
	m := ts.NewMuxer(&out)
	if _, err := m.AddStream(ts.CodecH264); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteHeader(); err != nil {
		t.Fatal(err)
	}
	p := avpacket.New(make([]byte, 50)).WithStreamIndex(0).WithPTS(1000)
	if err := m.WritePacket(p); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func TestInspectorObservesPATAndPMT(t *testing.T) {
	buf := buildMuxedStream(t)
	insp := New()
	for i := 0; i*ts.PacketSize < len(buf); i++ {
		insp.Observe(buf[i*ts.PacketSize : (i+1)*ts.PacketSize])
	}

	snap := insp.Snapshot()
	if snap.PATCount != 1 {
		t.Errorf("pat count = %d, want 1", snap.PATCount)
	}
	if snap.PMTCount != 1 {
		t.Errorf("pmt count = %d, want 1", snap.PMTCount)
	}
	if snap.PCRPID == nil || *snap.PCRPID != 0x100 {
		t.Errorf("pcr pid = %v, want 0x100", snap.PCRPID)
	}
	if snap.Packets != len(buf)/ts.PacketSize {
		t.Errorf("packets = %d, want %d", snap.Packets, len(buf)/ts.PacketSize)
	}
}

func TestInspectorFlagsSyncLossOnShortPacket(t *testing.T) {
	insp := New()
	insp.Observe(make([]byte, 10))
	snap := insp.Snapshot()
	if snap.SyncLosses != 1 {
		t.Fatalf("sync losses = %d, want 1", snap.SyncLosses)
	}
}

func TestHandlerPlainJSON(t *testing.T) {
	insp := New()
	insp.Observe(make([]byte, 10)) // one recorded sync loss, no compression requested

	req := httptest.NewRequest(http.MethodGet, "/debug/tsinfo", nil)
	rec := httptest.NewRecorder()
	Handler(insp)(rec, req)

	if enc := rec.Header().Get("Content-Encoding"); enc != "" {
		t.Fatalf("unexpected content-encoding: %q", enc)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if snap.SyncLosses != 1 {
		t.Fatalf("sync losses = %d, want 1", snap.SyncLosses)
	}
}

func TestHandlerGzipNegotiated(t *testing.T) {
	insp := New()
	insp.Observe(make([]byte, 10))

	req := httptest.NewRequest(http.MethodGet, "/debug/tsinfo", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := httptest.NewRecorder()
	Handler(insp)(rec, req)

	if enc := rec.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("content-encoding = %q, want gzip", enc)
	}
	gr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("body is not valid gzip: %v", err)
	}
	raw, err := io.ReadAll(gr)
	if err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("invalid JSON after decompression: %v", err)
	}
}

func TestHandlerBrotliPreferredOverGzip(t *testing.T) {
	insp := New()
	req := httptest.NewRequest(http.MethodGet, "/debug/tsinfo", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	rec := httptest.NewRecorder()
	Handler(insp)(rec, req)

	if enc := rec.Header().Get("Content-Encoding"); enc != "br" {
		t.Fatalf("content-encoding = %q, want br", enc)
	}
}

func TestStreamTypeNameKnownAndUnknown(t *testing.T) {
	if got := StreamTypeName(ts.StreamTypeH264); got != "h264" {
		t.Errorf("h264 name = %q", got)
	}
	if got := StreamTypeName(0x06); got != "0x6" {
		t.Errorf("unknown stream type name = %q", got)
	}
}
