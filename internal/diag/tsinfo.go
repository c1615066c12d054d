// Package diag exposes per-PID MPEG-TS bookkeeping over an HTTP debug
// endpoint, the way the teacher exposes its ts-inspect counters through log
// lines. Nothing here sits on the media data path: Observe is called from
// the same place a muxer already writes each TS packet, purely for
// diagnostics.
package diag

import (
	"compress/gzip"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"

	"github.com/ninestream/mediatoolkit/internal/ts"
)

// pidStats tracks continuity, PCR and PTS/DTS bookkeeping for one PID.
type pidStats struct {
	PID               uint16 `json:"pid"`
	StreamType        byte   `json:"stream_type,omitempty"`
	StreamTypeKnown   bool   `json:"-"`
	Packets           int    `json:"packets"`
	PayloadPackets    int    `json:"payload_packets"`
	PUSICount         int    `json:"pusi_count"`
	ccSeen            bool
	lastCC            byte
	CCErrors          int    `json:"cc_errors"`
	CCDup             int    `json:"cc_dup"`
	DiscIndicatorPkts int    `json:"discontinuity_indicator_packets"`
	PCRCount          int    `json:"pcr_count"`
	lastPCR           uint64
	PCRBackwards      int `json:"pcr_backwards"`
	PTSCount          int `json:"pts_count"`
	lastPTS           uint64
	PTSBackwards      int `json:"pts_backwards"`
}

// Snapshot is the JSON-serializable form of one Inspector's state.
type Snapshot struct {
	Packets       int        `json:"packets"`
	SyncLosses    int        `json:"sync_losses"`
	PATCount      int        `json:"pat_count"`
	PMTCount      int        `json:"pmt_count"`
	PMTPID        *uint16    `json:"pmt_pid,omitempty"`
	PCRPID        *uint16    `json:"pcr_pid,omitempty"`
	GlobalCCErr   int        `json:"cc_errors_total"`
	GlobalCCDup   int        `json:"cc_dup_total"`
	GlobalDisc    int        `json:"discontinuities_total"`
	PIDs          []pidStats `json:"pids"`
}

// Inspector accumulates per-PID statistics across an in-progress TS stream.
type Inspector struct {
	mu sync.Mutex

	packets    int
	syncLosses int

	patCount  int
	pmtCount  int
	pmtPID    uint16
	pmtPIDSet bool
	pcrPID    uint16
	pcrPIDSet bool

	globalCCErr int
	globalCCDup int
	globalDisc  int

	pids map[uint16]*pidStats
}

// New creates an empty Inspector.
func New() *Inspector {
	return &Inspector{pids: map[uint16]*pidStats{}}
}

// Observe folds one 188-byte TS packet's header, adaptation field, and (for
// PAT/PMT/PES payload_unit_start packets) section or timestamp contents
// into the running statistics. Malformed packets increment SyncLosses
// rather than erroring, matching the teacher's tolerant inspector.
func (insp *Inspector) Observe(pkt []byte) {
	if len(pkt) != ts.PacketSize {
		insp.mu.Lock()
		insp.syncLosses++
		insp.mu.Unlock()
		return
	}

	header, err := ts.ParseHeader(pkt)
	if err != nil {
		insp.mu.Lock()
		insp.syncLosses++
		insp.mu.Unlock()
		return
	}

	insp.mu.Lock()
	defer insp.mu.Unlock()

	insp.packets++
	s := insp.pidStat(header.PID)
	s.Packets++
	if header.PayloadUnitStart {
		s.PUSICount++
	}

	payloadOffset := ts.HeaderSize
	if header.AdaptationFieldExists {
		if field, _ := ts.ParseAdaptationField(pkt, ts.HeaderSize, header); field != nil {
			if field.Discontinuity {
				s.DiscIndicatorPkts++
				insp.globalDisc++
			}
			if field.PCRFlag && field.PCR != nil {
				recordBackwards(&s.PCRCount, &s.lastPCR, &s.PCRBackwards, *field.PCR)
			}
			payloadOffset += int(field.Length) + 1
		} else {
			payloadOffset++
		}
	}

	if header.ContainsPayload {
		s.PayloadPackets++
		if s.ccSeen {
			expected := (s.lastCC + 1) & 0x0F
			if header.ContinuityCounter != expected {
				if header.ContinuityCounter == s.lastCC {
					s.CCDup++
					insp.globalCCDup++
				} else {
					s.CCErrors++
					insp.globalCCErr++
				}
			}
		}
		s.ccSeen = true
		s.lastCC = header.ContinuityCounter
	}

	if !header.ContainsPayload || payloadOffset >= len(pkt) {
		return
	}
	payload := pkt[payloadOffset:]

	switch {
	case header.PID == ts.PIDPAT && header.PayloadUnitStart:
		if pat, err := parsePATFromPointer(payload); err == nil {
			insp.patCount++
			for _, e := range pat.Entries {
				if e.ProgramMapPID != 0 {
					insp.pmtPID = e.ProgramMapPID
					insp.pmtPIDSet = true
				}
			}
		}
	case insp.pmtPIDSet && header.PID == insp.pmtPID && header.PayloadUnitStart:
		if pmt, err := parsePMTFromPointer(payload); err == nil {
			insp.pmtCount++
			insp.pcrPID = pmt.PCRPID
			insp.pcrPIDSet = true
			for _, es := range pmt.ElementaryStreamInfo {
				est := insp.pidStat(es.ElementaryPID)
				est.StreamType = es.StreamType
				est.StreamTypeKnown = true
			}
		}
	case header.PayloadUnitStart:
		if pts, dts, hasPTS, hasDTS := parsePESTimestamps(payload); hasPTS || hasDTS {
			if hasPTS {
				recordBackwards(&s.PTSCount, &s.lastPTS, &s.PTSBackwards, pts)
			}
			_ = dts
		}
	}
}

func (insp *Inspector) pidStat(pid uint16) *pidStats {
	s := insp.pids[pid]
	if s == nil {
		s = &pidStats{PID: pid}
		insp.pids[pid] = s
	}
	return s
}

// Snapshot returns a point-in-time copy of the inspector's state, sorted by
// descending packet count.
func (insp *Inspector) Snapshot() Snapshot {
	insp.mu.Lock()
	defer insp.mu.Unlock()

	snap := Snapshot{
		Packets:     insp.packets,
		SyncLosses:  insp.syncLosses,
		PATCount:    insp.patCount,
		PMTCount:    insp.pmtCount,
		GlobalCCErr: insp.globalCCErr,
		GlobalCCDup: insp.globalCCDup,
		GlobalDisc:  insp.globalDisc,
	}
	if insp.pmtPIDSet {
		pid := insp.pmtPID
		snap.PMTPID = &pid
	}
	if insp.pcrPIDSet {
		pid := insp.pcrPID
		snap.PCRPID = &pid
	}

	rows := make([]pidStats, 0, len(insp.pids))
	for _, s := range insp.pids {
		rows = append(rows, *s)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Packets == rows[j].Packets {
			return rows[i].PID < rows[j].PID
		}
		return rows[i].Packets > rows[j].Packets
	})
	snap.PIDs = rows
	return snap
}

func recordBackwards(count *int, last *uint64, backwards *int, v uint64) {
	if *count > 0 && v < *last {
		*backwards++
	}
	*last = v
	*count++
}

// Handler serves insp's current snapshot as JSON at /debug/tsinfo,
// compressing the body with brotli or gzip when the client's
// Accept-Encoding header offers it.
func Handler(insp *Inspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := json.Marshal(insp.Snapshot())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		switch negotiateEncoding(r.Header.Get("Accept-Encoding")) {
		case "br":
			w.Header().Set("Content-Encoding", "br")
			bw := brotli.NewWriterLevel(w, brotli.DefaultCompression)
			defer bw.Close()
			bw.Write(body)
		case "gzip":
			w.Header().Set("Content-Encoding", "gzip")
			gw := gzip.NewWriter(w)
			defer gw.Close()
			gw.Write(body)
		default:
			w.Write(body)
		}
	}
}

// negotiateEncoding picks brotli over gzip over identity, matching the
// preference order the teacher's debug surface uses elsewhere.
func negotiateEncoding(acceptEncoding string) string {
	lower := strings.ToLower(acceptEncoding)
	if strings.Contains(lower, "br") {
		return "br"
	}
	if strings.Contains(lower, "gzip") {
		return "gzip"
	}
	return "identity"
}

func parsePATFromPointer(payload []byte) (ts.PAT, error) {
	if len(payload) < 1 {
		return ts.PAT{}, errShortPayload
	}
	ptr := int(payload[0])
	if 1+ptr >= len(payload) {
		return ts.PAT{}, errShortPayload
	}
	return ts.ParsePAT(payload[1+ptr:])
}

func parsePMTFromPointer(payload []byte) (ts.PMT, error) {
	if len(payload) < 1 {
		return ts.PMT{}, errShortPayload
	}
	ptr := int(payload[0])
	if 1+ptr >= len(payload) {
		return ts.PMT{}, errShortPayload
	}
	return ts.ParsePMT(payload[1+ptr:])
}

// parsePESTimestamps extracts PTS/DTS from a PES payload that starts a new
// PES packet (payload_unit_start set), without needing a full PES parser —
// the inspector only reads the fixed-position marker-bit timestamp fields.
func parsePESTimestamps(payload []byte) (pts, dts uint64, hasPTS, hasDTS bool) {
	if len(payload) < 14 || payload[0] != 0x00 || payload[1] != 0x00 || payload[2] != 0x01 {
		return 0, 0, false, false
	}
	flags2 := payload[7]
	hdrLen := int(payload[8])
	if 9+hdrLen > len(payload) {
		return 0, 0, false, false
	}
	ptsDtsFlags := (flags2 >> 6) & 0x03
	off := 9
	if ptsDtsFlags == 0x02 || ptsDtsFlags == 0x03 {
		if off+5 > len(payload) {
			return 0, 0, false, false
		}
		if v, ok := decodeTimestamp33(payload[off : off+5]); ok {
			pts, hasPTS = v, true
		}
		off += 5
	}
	if ptsDtsFlags == 0x03 {
		if off+5 > len(payload) {
			return pts, 0, hasPTS, false
		}
		if v, ok := decodeTimestamp33(payload[off : off+5]); ok {
			dts, hasDTS = v, true
		}
	}
	return pts, dts, hasPTS, hasDTS
}

func decodeTimestamp33(b []byte) (uint64, bool) {
	if len(b) < 5 || b[0]&0x01 != 1 || b[2]&0x01 != 1 || b[4]&0x01 != 1 {
		return 0, false
	}
	v := (uint64((b[0]>>1)&0x07) << 30) |
		(uint64(b[1]) << 22) |
		(uint64((b[2]>>1)&0x7F) << 15) |
		(uint64(b[3]) << 7) |
		uint64((b[4]>>1)&0x7F)
	return v, true
}

var errShortPayload = shortPayloadError{}

type shortPayloadError struct{}

func (shortPayloadError) Error() string { return "diag: payload too short" }

// StreamTypeName renders a PMT stream_type byte for display; unknown values
// fall back to their hex form the way the teacher's formatter does.
func StreamTypeName(t byte) string {
	switch t {
	case ts.StreamTypeH264:
		return "h264"
	case ts.StreamTypeH265:
		return "hevc"
	case ts.StreamTypeAAC:
		return "aac"
	default:
		return "0x" + strconv.FormatUint(uint64(t), 16)
	}
}
