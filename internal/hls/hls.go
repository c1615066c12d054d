// Package hls implements the sliding-window segmenter and the media/master
// M3U8 playlist writers that sit downstream of the TS muxer.
package hls

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Defaults mirror the original segmenter's constants.
const (
	DefaultSegmentDuration = 2 * time.Second
	DefaultMaxSegments     = 5
)

// Variant describes one rendition in a master playlist.
type Variant struct {
	Name       string
	Bandwidth  uint32
	Width      int // 0 means no RESOLUTION attribute
	Height     int
	Codecs     string
}

// Segment is one media segment entry in a playlist.
type Segment struct {
	Filename       string
	Duration       time.Duration
	SequenceNumber uint32
	ByteRangeLen   uint64
	ByteRangeStart uint64
	HasByteRange   bool
}

// Playlist is a media (variant) playlist: *.m3u8 listing segments.
type Playlist struct {
	Version        int
	TargetDuration time.Duration
	MediaSequence  uint32
	Segments       []Segment
	IsEndlist      bool
	Variant        *Variant
}

// NewPlaylist creates a playlist with the given default target duration.
func NewPlaylist(targetDuration time.Duration) Playlist {
	return Playlist{Version: 3, TargetDuration: targetDuration}
}

// WithVariant attaches variant stream metadata used for the
// EXT-X-STREAM-INF line and returns p for chaining.
func (p Playlist) WithVariant(v Variant) Playlist {
	p.Variant = &v
	return p
}

// WriteTo renders the playlist in M3U8 text format.
func (p Playlist) WriteTo(w *strings.Builder) {
	w.WriteString("#EXTM3U\n")
	fmt.Fprintf(w, "#EXT-X-VERSION:%d\n", p.Version)

	if p.Variant != nil {
		writeStreamInf(w, *p.Variant)
	}

	maxDuration := p.TargetDuration
	for _, s := range p.Segments {
		if s.Duration > maxDuration {
			maxDuration = s.Duration
		}
	}
	fmt.Fprintf(w, "#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(maxDuration.Seconds())))
	fmt.Fprintf(w, "#EXT-X-MEDIA-SEQUENCE:%d\n", p.MediaSequence)

	for _, s := range p.Segments {
		fmt.Fprintf(w, "#EXTINF:%.3f,\n", s.Duration.Seconds())
		if s.HasByteRange {
			fmt.Fprintf(w, "#EXT-X-BYTERANGE:%d@%d\n", s.ByteRangeLen, s.ByteRangeStart)
		}
		w.WriteString(s.Filename)
		w.WriteString("\n")
	}

	if p.IsEndlist {
		w.WriteString("#EXT-X-ENDLIST\n")
	}
}

// String renders the playlist via WriteTo.
func (p Playlist) String() string {
	var b strings.Builder
	p.WriteTo(&b)
	return b.String()
}

// MasterPlaylist references one or more variant media playlists.
type MasterPlaylist struct {
	Variants []Variant
}

// AddVariant appends a variant stream.
func (m *MasterPlaylist) AddVariant(v Variant) {
	m.Variants = append(m.Variants, v)
}

// WriteTo renders the master playlist in M3U8 text format.
func (m MasterPlaylist) WriteTo(w *strings.Builder) {
	w.WriteString("#EXTM3U\n")
	w.WriteString("#EXT-X-VERSION:3\n")
	for _, v := range m.Variants {
		writeStreamInf(w, v)
		fmt.Fprintf(w, "%s.m3u8\n", v.Name)
	}
}

// String renders the master playlist via WriteTo.
func (m MasterPlaylist) String() string {
	var b strings.Builder
	m.WriteTo(&b)
	return b.String()
}

func writeStreamInf(w *strings.Builder, v Variant) {
	if v.Width > 0 && v.Height > 0 {
		fmt.Fprintf(w, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS=\"%s\"\n", v.Bandwidth, v.Width, v.Height, v.Codecs)
	} else {
		fmt.Fprintf(w, "#EXT-X-STREAM-INF:BANDWIDTH=%d,CODECS=\"%s\"\n", v.Bandwidth, v.Codecs)
	}
}

// openSegment tracks the currently-open segment file.
type openSegment struct {
	path      string
	startTime time.Duration
}

// Segmenter manages the sliding window of TS segments and their playlists
// for one variant.
type Segmenter struct {
	outputDir       string
	segmentDuration time.Duration
	maxSegments     int
	sequenceNumber  uint32

	playlist       Playlist
	masterPlaylist MasterPlaylist
	current        *openSegment
	variant        *Variant

	// EvictionNotify, if set, is called with the segments evicted by each
	// FinishSegment call that trims the window (used to update
	// hls_segments_evicted_total and to drive segstore deletions).
	EvictionNotify func(evicted []Segment)
}

// NewSegmenter creates a segmenter writing into outputDir with default
// segment duration and window size.
func NewSegmenter(outputDir string) *Segmenter {
	return &Segmenter{
		outputDir:       outputDir,
		segmentDuration: DefaultSegmentDuration,
		maxSegments:     DefaultMaxSegments,
		playlist:        NewPlaylist(DefaultSegmentDuration),
	}
}

// WithSegmentDuration sets the target segment duration and returns s for
// chaining.
func (s *Segmenter) WithSegmentDuration(d time.Duration) *Segmenter {
	s.segmentDuration = d
	s.playlist.TargetDuration = d
	return s
}

// WithMaxSegments sets the sliding-window size and returns s for chaining.
func (s *Segmenter) WithMaxSegments(n int) *Segmenter {
	s.maxSegments = n
	return s
}

// WithVariant attaches variant metadata to both the media and master
// playlists and returns s for chaining.
func (s *Segmenter) WithVariant(v Variant) *Segmenter {
	s.variant = &v
	s.playlist = s.playlist.WithVariant(v)
	s.masterPlaylist.AddVariant(v)
	return s
}

// ShouldStartNewSegment reports whether a new segment should be opened at
// now: true when none is open, or the open segment has reached its target
// duration.
func (s *Segmenter) ShouldStartNewSegment(now time.Duration) bool {
	if s.current == nil {
		return true
	}
	return now-s.current.startTime >= s.segmentDuration
}

// StartSegment opens a new segment file named <variant>_<seq>.ts and
// returns it for the caller to write TS packets into.
func (s *Segmenter) StartSegment(now time.Duration) (*os.File, error) {
	prefix := "stream"
	if s.variant != nil {
		prefix = s.variant.Name
	}
	filename := fmt.Sprintf("%s_%d.ts", prefix, s.sequenceNumber)
	path := filepath.Join(s.outputDir, filename)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("hls: create segment: %w", err)
	}
	s.current = &openSegment{path: path, startTime: now}
	return f, nil
}

// FinishSegment closes the open segment descriptor, appends it to the
// playlist, and trims the sliding window: while the segment count exceeds
// the configured maximum, the oldest file is deleted, its descriptor
// dropped, and media_sequence incremented.
func (s *Segmenter) FinishSegment(end time.Duration) error {
	if s.current == nil {
		return nil
	}
	cur := s.current
	s.current = nil

	seg := Segment{
		Filename:       filepath.Base(cur.path),
		Duration:       end - cur.startTime,
		SequenceNumber: s.sequenceNumber,
	}
	s.playlist.Segments = append(s.playlist.Segments, seg)

	var evicted []Segment
	for len(s.playlist.Segments) > s.maxSegments {
		old := s.playlist.Segments[0]
		oldPath := filepath.Join(s.outputDir, old.Filename)
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("hls: remove evicted segment: %w", err)
		}
		evicted = append(evicted, old)
		s.playlist.Segments = s.playlist.Segments[1:]
		s.playlist.MediaSequence++
	}
	if len(evicted) > 0 && s.EvictionNotify != nil {
		s.EvictionNotify(evicted)
	}

	s.sequenceNumber++
	return nil
}

// Playlist returns the current media playlist (copy-by-value; Segments
// shares its backing array, treat as read-only).
func (s *Segmenter) Playlist() Playlist { return s.playlist }

// MasterPlaylist returns the master playlist referencing all configured
// variants.
func (s *Segmenter) MasterPlaylist() MasterPlaylist { return s.masterPlaylist }

// OutputDir returns the directory segments are written into.
func (s *Segmenter) OutputDir() string { return s.outputDir }

// ActiveSegmentCount reports the number of segments currently in the
// sliding window, for the hls_segments_active gauge.
func (s *Segmenter) ActiveSegmentCount() int { return len(s.playlist.Segments) }
