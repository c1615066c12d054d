// Package metrics exposes the toolkit's Prometheus collectors. Update
// calls are wired directly into the bookkeeping spec already requires
// (RTCP statistics, PCR discontinuity detection, HLS segment trimming) —
// collecting metrics adds no new control flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles all collectors the toolkit exports, scoped to one
// prometheus.Registerer so multiple streams in one process don't clash.
type Registry struct {
	RTPPacketsReceived   *prometheus.CounterVec
	RTPPacketsLost       *prometheus.CounterVec
	RTPJitterEstimate    *prometheus.GaugeVec
	TSPCRDiscontinuities *prometheus.CounterVec
	TSContinuityErrors   *prometheus.CounterVec
	HLSSegmentsActive    *prometheus.GaugeVec
	HLSSegmentsEvicted   *prometheus.CounterVec
}

// New creates and registers all collectors against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RTPPacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtp_packets_received_total",
			Help: "Total RTP packets received, labeled by stream.",
		}, []string{"stream"}),
		RTPPacketsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtp_packets_lost_total",
			Help: "Total RTP packets inferred lost from sequence gaps, labeled by stream.",
		}, []string{"stream"}),
		RTPJitterEstimate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtp_jitter_estimate",
			Help: "Current RFC 3550 interarrival jitter estimate, labeled by stream/SSRC.",
		}, []string{"stream", "ssrc"}),
		TSPCRDiscontinuities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ts_pcr_discontinuities_total",
			Help: "Total PCR discontinuities observed in the muxed TS output.",
		}, []string{"stream"}),
		TSContinuityErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ts_continuity_errors_total",
			Help: "Total continuity-counter errors observed, labeled by PID.",
		}, []string{"stream", "pid"}),
		HLSSegmentsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hls_segments_active",
			Help: "Number of segments currently in the sliding window.",
		}, []string{"stream"}),
		HLSSegmentsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_segments_evicted_total",
			Help: "Total segments evicted from the sliding window.",
		}, []string{"stream"}),
	}
	reg.MustRegister(
		r.RTPPacketsReceived,
		r.RTPPacketsLost,
		r.RTPJitterEstimate,
		r.TSPCRDiscontinuities,
		r.TSContinuityErrors,
		r.HLSSegmentsActive,
		r.HLSSegmentsEvicted,
	)
	return r
}
