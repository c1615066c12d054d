// Package mediastream manages one RTP/RTCP media track after SETUP: socket
// ownership, jitter buffering, loss/jitter statistics, and RTCP receiver
// report generation.
package mediastream

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/ninestream/mediatoolkit/internal/metrics"
	"github.com/ninestream/mediatoolkit/internal/rtcp"
	"github.com/ninestream/mediatoolkit/internal/rtp"
	"github.com/ninestream/mediatoolkit/internal/rtsp"
)

// Statistics tracks per-track reception counters.
type Statistics struct {
	PacketsReceived uint32
	BytesReceived   uint64
	PacketsLost     uint32
	LastSeq         uint16
	haveSeq         bool
	LastTimestamp   uint32
	haveTimestamp   bool
	jitter          rtcp.JitterEstimator
}

// Jitter returns the current RFC 3550 jitter estimate.
func (s *Statistics) Jitter() float64 { return s.jitter.Jitter() }

// update folds one received packet's header fields into the statistics,
// using the same sequence-gap and jitter bookkeeping as the original
// per-stream statistics tracker, and returns the number of packets newly
// inferred lost by this update (0 most of the time).
func (s *Statistics) update(seq uint16, timestamp uint32, payloadBytes int) uint32 {
	s.PacketsReceived++
	s.BytesReceived += uint64(payloadBytes)

	var gap uint32
	if s.haveSeq {
		expected := s.LastSeq + 1
		if seq != expected {
			if seq < expected {
				gap = (65536 - uint32(expected)) + uint32(seq)
			} else {
				gap = uint32(seq) - uint32(expected)
			}
			s.PacketsLost += gap
		}
	}
	s.LastSeq = seq
	s.haveSeq = true

	if s.haveTimestamp {
		s.jitter.Update(seq, timestamp)
	}
	s.LastTimestamp = timestamp
	s.haveTimestamp = true
	return gap
}

// Track is one media stream (video or audio) bound to a local transport.
type Track struct {
	MediaType string
	Transport rtsp.Transport

	rtpConn  net.PacketConn
	rtcpConn net.PacketConn
	mcastPC  *ipv4.PacketConn // non-nil only when joined as a multicast group

	JitterBuffer *rtp.JitterBuffer
	Stats        Statistics

	metrics    *metrics.Registry
	streamName string
}

// New constructs a Track around an already-negotiated transport.
// jitterCapacity mirrors the original's fixed 32-packet buffer.
func New(mediaType string, transport rtsp.Transport, jitterCapacity int) *Track {
	return &Track{
		MediaType:    mediaType,
		Transport:    transport,
		JitterBuffer: rtp.NewJitterBuffer(jitterCapacity),
	}
}

// WithMetrics attaches a metrics registry and stream label; updates become
// no-ops on the zero value until this is called.
func (t *Track) WithMetrics(reg *metrics.Registry, streamName string) *Track {
	t.metrics = reg
	t.streamName = streamName
	return t
}

// BindUnicast opens plain unicast UDP sockets on the negotiated client
// ports. Used whenever Transport.CastType is Unicast.
func (t *Track) BindUnicast() error {
	if t.Transport.ClientPortRTP == nil {
		return fmt.Errorf("mediastream: no client RTP port negotiated")
	}
	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(*t.Transport.ClientPortRTP)})
	if err != nil {
		return fmt.Errorf("mediastream: bind rtp port: %w", err)
	}
	t.rtpConn = rtpConn

	if t.Transport.ClientPortRTCP != nil {
		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(*t.Transport.ClientPortRTCP)})
		if err != nil {
			rtpConn.Close()
			return fmt.Errorf("mediastream: bind rtcp port: %w", err)
		}
		t.rtcpConn = rtcpConn
	}
	return nil
}

// JoinMulticast joins the RTP/RTCP multicast group named by groupAddr (the
// SDP "c=" connection address) on the negotiated ports, using
// golang.org/x/net/ipv4 instead of a plain unicast listener.
func (t *Track) JoinMulticast(groupAddr string, iface *net.Interface) error {
	if t.Transport.ClientPortRTP == nil {
		return fmt.Errorf("mediastream: no client RTP port negotiated")
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(*t.Transport.ClientPortRTP)})
	if err != nil {
		return fmt.Errorf("mediastream: listen for multicast rtp: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(groupAddr)}
	if err := pc.JoinGroup(iface, group); err != nil {
		conn.Close()
		return fmt.Errorf("mediastream: join multicast group %s: %w", groupAddr, err)
	}
	t.rtpConn = conn
	t.mcastPC = pc
	return nil
}

// LeaveMulticast leaves the joined group, if any; a no-op for unicast
// tracks.
func (t *Track) LeaveMulticast(groupAddr string, iface *net.Interface) error {
	if t.mcastPC == nil {
		return nil
	}
	group := &net.UDPAddr{IP: net.ParseIP(groupAddr)}
	return t.mcastPC.LeaveGroup(iface, group)
}

// RTPConn returns the bound RTP socket, or nil if not yet bound.
func (t *Track) RTPConn() net.PacketConn { return t.rtpConn }

// RTCPConn returns the bound RTCP socket, or nil if not yet bound (always
// nil for multicast tracks, which demux RTCP out of the same group).
func (t *Track) RTCPConn() net.PacketConn { return t.rtcpConn }

// Close releases the track's sockets.
func (t *Track) Close() error {
	var err error
	if t.rtpConn != nil {
		err = t.rtpConn.Close()
	}
	if t.rtcpConn != nil {
		if e := t.rtcpConn.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// HandlePacket folds one parsed RTP packet into the jitter buffer and
// statistics, updating metrics if attached.
func (t *Track) HandlePacket(pkt rtp.Packet) error {
	lost := t.Stats.update(pkt.SequenceNumber, pkt.Timestamp, len(pkt.Payload))
	if t.metrics != nil {
		t.metrics.RTPPacketsReceived.WithLabelValues(t.streamName).Inc()
		if lost > 0 {
			t.metrics.RTPPacketsLost.WithLabelValues(t.streamName).Add(float64(lost))
		}
		t.metrics.RTPJitterEstimate.WithLabelValues(t.streamName, fmt.Sprintf("%d", pkt.SSRC)).Set(t.Stats.Jitter())
	}
	return t.JitterBuffer.Push(pkt)
}

// ReceiverReport builds an RTCP RR for the current statistics.
func (t *Track) ReceiverReport(ssrc uint32) rtcp.ReceiverReport {
	var fractionLost uint8
	if t.Stats.PacketsReceived > 0 {
		fractionLost = uint8((uint32(t.Stats.PacketsLost) * 256) / t.Stats.PacketsReceived)
	}
	return rtcp.ReceiverReport{
		SSRC: ssrc,
		ReceptionBlocks: []rtcp.ReceptionReport{{
			SSRC:               ssrc,
			FractionLost:       fractionLost,
			CumulativeLost:     t.Stats.PacketsLost,
			HighestSeqReceived: uint32(t.Stats.LastSeq),
			Jitter:             uint32(t.Stats.Jitter()),
		}},
	}
}
