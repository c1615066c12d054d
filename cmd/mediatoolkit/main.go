// Command mediatoolkit pulls one RTSP-announced video/audio stream,
// remuxes it into MPEG-TS, and writes a sliding-window HLS segment set and
// playlist (one media .m3u8 per variant, one master .m3u8) to disk.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ninestream/mediatoolkit/internal/avpacket"
	"github.com/ninestream/mediatoolkit/internal/config"
	"github.com/ninestream/mediatoolkit/internal/diag"
	"github.com/ninestream/mediatoolkit/internal/h264"
	"github.com/ninestream/mediatoolkit/internal/h265"
	"github.com/ninestream/mediatoolkit/internal/health"
	"github.com/ninestream/mediatoolkit/internal/hls"
	"github.com/ninestream/mediatoolkit/internal/mediastream"
	"github.com/ninestream/mediatoolkit/internal/metrics"
	"github.com/ninestream/mediatoolkit/internal/rtp"
	"github.com/ninestream/mediatoolkit/internal/rtsp"
	"github.com/ninestream/mediatoolkit/internal/sdp"
	"github.com/ninestream/mediatoolkit/internal/segstore"
	"github.com/ninestream/mediatoolkit/internal/supervisor"
	"github.com/ninestream/mediatoolkit/internal/ts"
)

// fixedClientPorts assigns one UDP port pair per track; SETUP requires
// announcing client ports before the server tells us anything back.
var fixedClientPorts = [][2]uint16{{6970, 6971}, {6972, 6973}}

// variantName labels the single HLS rendition this process produces; it
// doubles as the segment filename prefix and the metrics "stream" label.
const variantName = "stream"

// approxVariantBandwidth is a conservative fixed BANDWIDTH estimate for the
// master playlist's EXT-X-STREAM-INF line; the toolkit does not measure the
// source's actual encoded bitrate.
const approxVariantBandwidth = 2_000_000

// streaming reports true once the RTSP session is playing and the mux loop
// is actively consuming packets; health.Handler reads it directly.
var streaming atomic.Bool

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg := config.Load()

	if cfg.SupervisorConfigPath != "" {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			cancel()
		}()
		if err := supervisor.Run(ctx, cfg.SupervisorConfigPath); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("supervisor: %v", err)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	insp := diag.New()

	if cfg.MetricsListenAddr != "" {
		go serveDebug(cfg.MetricsListenAddr, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	if cfg.DebugListenAddr != "" {
		go serveDebug(cfg.DebugListenAddr, "/debug/tsinfo", diag.Handler(insp))
	}
	if cfg.HealthListenAddr != "" {
		go serveDebug(cfg.HealthListenAddr, "/healthz", health.Handler(streaming.Load))
	}

	var store *segstore.Store
	if cfg.SegmentIndexPath != "" {
		s, err := segstore.Open(cfg.SegmentIndexPath)
		if err != nil {
			log.Fatalf("open segment index: %v", err)
		}
		store = s
		defer store.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, m, insp, store); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("mediatoolkit: %v", err)
	}
}

func serveDebug(addr, path string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(path, h)
	log.Printf("debug: listening on %s (%s)", addr, path)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("debug server on %s: %v", addr, err)
	}
}

// streamPlan is one negotiated media track ready to be bound and pulled.
type streamPlan struct {
	track       *mediastream.Track
	codec       ts.CodecType
	index       int
	videoParams *ts.VideoDescriptorParams // nil unless SDP carried a parsable SPS/VPS
}

func run(ctx context.Context, cfg config.Config, m *metrics.Registry, insp *diag.Inspector, store *segstore.Store) error {
	if err := health.CheckRTSPReachableDefault(ctx, cfg.RTSPURL); err != nil {
		return fmt.Errorf("pre-flight check: %w", err)
	}

	client, err := rtsp.New(cfg.RTSPURL)
	if err != nil {
		return fmt.Errorf("parse rtsp url: %w", err)
	}
	client.SetReconnectPolicy(rtsp.ReconnectPolicy{
		MaxAttempts:  cfg.ReconnectMaxAttempts,
		InitialDelay: cfg.ReconnectInitialDelay,
	})

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	session, err := client.Describe(ctx)
	if err != nil {
		return fmt.Errorf("describe: %w", err)
	}
	if err := session.ResolveControlURLs(cfg.RTSPURL); err != nil {
		return fmt.Errorf("resolve control urls: %w", err)
	}

	if err := os.MkdirAll(cfg.HLSOutputDir, 0o755); err != nil {
		return fmt.Errorf("create hls output dir: %w", err)
	}

	var out segmentSwitchWriter
	muxer := ts.NewMuxer(&observingWriter{w: &out, insp: insp}).WithMetrics(m, "stream")

	var plans []streamPlan
	var variantWidth, variantHeight int
	for _, media := range session.Media {
		codec, ok := detectCodec(media)
		if !ok {
			continue
		}
		if len(plans) >= len(fixedClientPorts) {
			log.Printf("mediatoolkit: ignoring extra media section %s (only %d tracks supported)", media.MediaType, len(fixedClientPorts))
			continue
		}
		ports := fixedClientPorts[len(plans)]
		requested := rtsp.NewRTPAVP(ports[0], ports[1])

		assigned, err := client.Setup(ctx, media.ControlURL, requested)
		if err != nil {
			return fmt.Errorf("setup %s: %w", media.MediaType, err)
		}

		streamIndex := len(plans)
		descParams, width, height := parseVideoParameterSets(media, codec)
		if _, err := muxer.AddVideoStream(codec, descParams); err != nil {
			return fmt.Errorf("add stream %s: %w", media.MediaType, err)
		}
		if width > 0 && height > 0 {
			variantWidth, variantHeight = width, height
		}

		track := mediastream.New(media.MediaType, assigned, 32).WithMetrics(m, "stream")
		if err := track.BindUnicast(); err != nil {
			return fmt.Errorf("bind %s: %w", media.MediaType, err)
		}
		defer track.Close()

		plans = append(plans, streamPlan{track: track, codec: codec, index: streamIndex, videoParams: descParams})
	}
	if len(plans) == 0 {
		return fmt.Errorf("no supported H.264/H.265/AAC media sections in SDP")
	}

	if err := client.Play(ctx); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	defer client.Teardown(ctx)
	streaming.Store(true)
	defer streaming.Store(false)

	pktCh := make(chan avpacket.Packet, cfg.ReceiverChannelCapacity)

	var wg sync.WaitGroup
	streamStart := time.Now()
	for _, plan := range plans {
		wg.Add(2)
		go receiveLoop(ctx, &wg, plan.track)
		go pullLoop(ctx, &wg, plan, pktCh, streamStart)
	}

	segmenter := hls.NewSegmenter(cfg.HLSOutputDir).
		WithSegmentDuration(cfg.HLSTargetDuration).
		WithMaxSegments(cfg.HLSMaxSegments).
		WithVariant(hls.Variant{
			Name:      variantName,
			Bandwidth: approxVariantBandwidth,
			Width:     variantWidth,
			Height:    variantHeight,
			Codecs:    hlsCodecsAttr(plans),
		})
	segmenter.EvictionNotify = func(evicted []hls.Segment) {
		for _, seg := range evicted {
			if store != nil {
				_ = store.EvictSegment("stream", seg.SequenceNumber)
			}
			m.HLSSegmentsEvicted.WithLabelValues("stream").Inc()
		}
	}
	if err := writePlaylistFile(cfg.HLSOutputDir, "master.m3u8", segmenter.MasterPlaylist().String()); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}

	go func() {
		wg.Wait()
		close(pktCh)
	}()

	muxLoop(ctx, muxer, segmenter, &out, pktCh, store, m)
	return ctx.Err()
}

// hlsCodecsAttr builds the CODECS attribute value for the master playlist's
// EXT-X-STREAM-INF line from the negotiated tracks' codec types, using the
// standard RFC 6381 tags HLS players expect. When SDP carried a parsable
// SPS/VPS, the H.264 tag takes its profile_idc and level_idc and the H.265
// tag takes its level_idc (the H.265 profile stays 1); otherwise a generic
// placeholder profile/level is used.
func hlsCodecsAttr(plans []streamPlan) string {
	var tags []string
	seen := make(map[string]bool)
	for _, p := range plans {
		var tag string
		switch p.codec {
		case ts.CodecH264:
			if p.videoParams != nil {
				tag = fmt.Sprintf("avc1.%02X00%02X", p.videoParams.ProfileIDC, p.videoParams.LevelIDC)
			} else {
				tag = "avc1.640028"
			}
		case ts.CodecH265:
			if p.videoParams != nil {
				tag = fmt.Sprintf("hvc1.1.6.L%d.B0", p.videoParams.LevelIDC)
			} else {
				tag = "hvc1.1.6.L93.B0"
			}
		case ts.CodecAAC:
			tag = "mp4a.40.2"
		default:
			continue
		}
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return strings.Join(tags, ",")
}

// writePlaylistFile writes an M3U8 playlist's rendered text to name under
// dir, overwriting any previous version.
func writePlaylistFile(dir, name, content string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

// receiveLoop reads datagrams off one track's RTP socket and folds them
// into its jitter buffer and statistics.
func receiveLoop(ctx context.Context, wg *sync.WaitGroup, track *mediastream.Track) {
	defer wg.Done()
	buf := make([]byte, 65536)
	conn := track.RTPConn()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("mediatoolkit: rtp read: %v", err)
			continue
		}
		pkt, err := rtp.Parse(buf[:n])
		if err != nil {
			continue
		}
		if err := track.HandlePacket(pkt); err != nil {
			log.Printf("mediatoolkit: jitter buffer: %v", err)
		}
	}
}

// pullLoop drains a track's jitter buffer on a fixed tick and forwards
// each ordered RTP payload into the shared packet channel, blocking (not
// dropping) when the channel is full.
func pullLoop(ctx context.Context, wg *sync.WaitGroup, plan streamPlan, out chan<- avpacket.Packet, start time.Time) {
	defer wg.Done()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				pkt, ok := plan.track.JitterBuffer.Pop()
				if !ok {
					break
				}
				ptsMillis := time.Since(start).Milliseconds()
				av := avpacket.New(pkt.Payload).
					WithStreamIndex(plan.index).
					WithPTS(ptsMillis).
					WithKeyFlag(looksLikeKeyframe(plan.codec, pkt.Payload))
				select {
				case out <- av:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// muxLoop is the single consumer of the packet channel: it decides segment
// boundaries on wall-clock time, rolls the muxer's output to a fresh
// segment file (re-emitting PAT/PMT so each segment is self-contained),
// and feeds every packet through the muxer.
func muxLoop(ctx context.Context, muxer *ts.Muxer, segmenter *hls.Segmenter, out *segmentSwitchWriter, pktCh <-chan avpacket.Packet, store *segstore.Store, m *metrics.Registry) {
	haveSegment := false

	rollSegment := func(now time.Duration) error {
		if haveSegment {
			if err := segmenter.FinishSegment(now); err != nil {
				return err
			}
			if segs := segmenter.Playlist().Segments; len(segs) > 0 && store != nil {
				last := segs[len(segs)-1]
				_ = store.RecordSegment(segstore.Segment{
					Variant:        "stream",
					SequenceNumber: last.SequenceNumber,
					Filename:       last.Filename,
					DurationMillis: last.Duration.Milliseconds(),
				})
			}
			m.HLSSegmentsActive.WithLabelValues("stream").Set(float64(segmenter.ActiveSegmentCount()))
			playlistName := variantName + ".m3u8"
			if err := writePlaylistFile(segmenter.OutputDir(), playlistName, segmenter.Playlist().String()); err != nil {
				log.Printf("mediatoolkit: write playlist: %v", err)
			}
		}
		f, err := segmenter.StartSegment(now)
		if err != nil {
			return err
		}
		out.swap(f)
		haveSegment = true
		return muxer.WriteHeader()
	}

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			if haveSegment {
				_ = segmenter.FinishSegment(time.Since(start))
			}
			return
		case pkt, ok := <-pktCh:
			if !ok {
				if haveSegment {
					_ = segmenter.FinishSegment(time.Since(start))
				}
				return
			}
			now := time.Since(start)
			if segmenter.ShouldStartNewSegment(now) {
				if err := rollSegment(now); err != nil {
					log.Printf("mediatoolkit: roll segment: %v", err)
					continue
				}
			}
			if err := muxer.WritePacket(pkt); err != nil {
				log.Printf("mediatoolkit: write packet: %v", err)
			}
		}
	}
}

// detectCodec maps an SDP media section's rtpmap attribute to a supported
// CodecType.
func detectCodec(media sdp.MediaDescription) (ts.CodecType, bool) {
	rtpmap, _ := media.Attribute("rtpmap")
	upper := strings.ToUpper(rtpmap)
	switch {
	case strings.Contains(upper, "H265") || strings.Contains(upper, "HEVC"):
		return ts.CodecH265, true
	case strings.Contains(upper, "H264"):
		return ts.CodecH264, true
	case strings.Contains(upper, "MPEG4-GENERIC") || strings.Contains(upper, "MP4A"):
		return ts.CodecAAC, true
	default:
		return 0, false
	}
}

// parseVideoParameterSets decodes the sprop-parameter-sets (H.264) or
// sprop-vps/sprop-sps (H.265) fmtp fields SDP carries for a video media
// section, if present, returning PMT video-descriptor parameters and the
// picture dimensions for the HLS master playlist's RESOLUTION attribute.
// Returns a nil params and zero dimensions whenever the fmtp field is
// missing or doesn't parse; video still streams, just without those extras.
func parseVideoParameterSets(media sdp.MediaDescription, codec ts.CodecType) (params *ts.VideoDescriptorParams, width, height int) {
	fmtp, ok := media.Attribute("fmtp")
	if !ok {
		return nil, 0, 0
	}
	_, rest, ok := strings.Cut(fmtp, " ")
	if !ok {
		return nil, 0, 0
	}
	fields := make(map[string]string)
	for _, kv := range strings.Split(rest, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if ok {
			fields[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}

	switch codec {
	case ts.CodecH264:
		raw, ok := fields["sprop-parameter-sets"]
		if !ok {
			return nil, 0, 0
		}
		spsB64, _, _ := strings.Cut(raw, ",")
		sps, err := base64.StdEncoding.DecodeString(spsB64)
		if err != nil || len(sps) < 2 {
			return nil, 0, 0
		}
		info, err := h264.ParseSPS(h264.RemoveEmulationPrevention(sps[1:]))
		if err != nil {
			return nil, 0, 0
		}
		return &ts.VideoDescriptorParams{ProfileIDC: info.ProfileIDC, LevelIDC: info.LevelIDC}, int(info.Width), int(info.Height)

	case ts.CodecH265:
		// sprop-vps is informational here: the stream's level/profile are
		// carried in the SPS too, but parsing it exercises the VPS grammar
		// and would surface a malformed parameter set early.
		if vpsB64, ok := fields["sprop-vps"]; ok {
			if vps, err := base64.StdEncoding.DecodeString(vpsB64); err == nil && len(vps) > 2 {
				if _, err := h265.ParseVPS(h265.RemoveEmulationPrevention(vps[2:])); err != nil {
					log.Printf("mediatoolkit: parse sprop-vps: %v", err)
				}
			}
		}
		spsB64, ok := fields["sprop-sps"]
		if !ok {
			return nil, 0, 0
		}
		sps, err := base64.StdEncoding.DecodeString(spsB64)
		if err != nil || len(sps) < 3 {
			return nil, 0, 0
		}
		info, err := h265.ParseSPS(h265.RemoveEmulationPrevention(sps[2:]))
		if err != nil {
			return nil, 0, 0
		}
		return &ts.VideoDescriptorParams{
			ProfileIDC: info.ProfileTierLevel.ProfileIDC,
			LevelIDC:   info.ProfileTierLevel.LevelIDC,
		}, int(info.PicWidthInLumaSamples), int(info.PicHeightInLumaSamples)

	default:
		return nil, 0, 0
	}
}

// looksLikeKeyframe makes a best-effort IDR/IRAP guess from the NAL header
// byte for video codecs; audio access units are always marked as key.
func looksLikeKeyframe(codec ts.CodecType, payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	switch codec {
	case ts.CodecH264:
		return payload[0]&0x1F == 5
	case ts.CodecH265:
		nalType := (payload[0] >> 1) & 0x3F
		return nalType >= 16 && nalType <= 23
	default:
		return true
	}
}

// segmentSwitchWriter is a swappable io.Writer: the muxer writes through it
// continuously while the segmenter periodically redirects it to a new
// segment file.
type segmentSwitchWriter struct {
	mu  sync.Mutex
	cur io.WriteCloser
}

func (w *segmentSwitchWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	cur := w.cur
	w.mu.Unlock()
	if cur == nil {
		return 0, fmt.Errorf("mediatoolkit: no segment file open")
	}
	return cur.Write(p)
}

func (w *segmentSwitchWriter) swap(f io.WriteCloser) {
	w.mu.Lock()
	prev := w.cur
	w.cur = f
	w.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// observingWriter forwards every write to a diag.Inspector in addition to
// the underlying writer; the muxer always writes exactly one TS packet per
// call, so each forwarded write is one packet.
type observingWriter struct {
	w    io.Writer
	insp *diag.Inspector
}

func (o *observingWriter) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	if n == len(p) && o.insp != nil {
		o.insp.Observe(p)
	}
	return n, err
}
