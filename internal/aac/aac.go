// Package aac decodes AAC ADTS headers and caches the last-known-good
// configuration so unframed payloads can still be timestamped.
package aac

import (
	"errors"

	"github.com/ninestream/mediatoolkit/internal/bitio"
)

// ErrShortHeader is returned when fewer than 7 bytes are available.
var ErrShortHeader = errors.New("aac: ADTS header too short")

// ErrBadSyncWord is returned when the 12-bit sync word is not 0xFFF.
var ErrBadSyncWord = errors.New("aac: invalid ADTS sync word")

// ErrShortFrame is returned when frame_length is less than the header size.
var ErrShortFrame = errors.New("aac: frame length shorter than header")

// Profile is the AAC object type carried in the ADTS header.
type Profile uint8

const (
	ProfileMain Profile = 0
	ProfileLC   Profile = 1
	ProfileSSR  Profile = 2
	ProfileLTP  Profile = 3
)

// sampleRates maps a 4-bit sampling-frequency-index to Hz, index 13/14
// reserved and 15 meaning "explicit frequency" (unsupported here).
var sampleRates = [13]uint32{
	96000, 88200, 64000, 48000, 44100, 32000, 24000,
	22050, 16000, 12000, 11025, 8000, 7350,
}

// ADTSHeader is the decoded 7-byte ADTS fixed+variable header.
type ADTSHeader struct {
	ID                   uint8
	Layer                uint8
	ProtectionAbsent     bool
	Profile              Profile
	SampleRateIndex      uint8
	Private              bool
	ChannelConfiguration uint8
	Original             bool
	Home                 bool
	CopyrightIDBit       bool
	CopyrightIDStart     bool
	FrameLength          uint16
	BufferFullness       uint16
	NumberOfRawBlocks    uint8
}

// SampleRate returns the Hz value for the header's sampling-frequency-index,
// or 0 if the index has no defined rate.
func (h ADTSHeader) SampleRate() uint32 {
	if int(h.SampleRateIndex) >= len(sampleRates) {
		return 0
	}
	return sampleRates[h.SampleRateIndex]
}

// ParseADTSHeader decodes the 7-byte ADTS header from data (at least 7
// bytes must be present).
func ParseADTSHeader(data []byte) (ADTSHeader, error) {
	if len(data) < 7 {
		return ADTSHeader{}, ErrShortHeader
	}
	r := bitio.NewReader(data[:7])
	syncWord, _ := r.ReadBits(12)
	if syncWord != 0xFFF {
		return ADTSHeader{}, ErrBadSyncWord
	}
	id, _ := r.ReadBits(1)
	layer, _ := r.ReadBits(2)
	protectionAbsent, _ := r.ReadBits(1)
	profile, _ := r.ReadBits(2)
	sampleRateIdx, _ := r.ReadBits(4)
	private, _ := r.ReadBits(1)
	channelCfg, _ := r.ReadBits(3)
	original, _ := r.ReadBits(1)
	home, _ := r.ReadBits(1)
	copyrightIDBit, _ := r.ReadBits(1)
	copyrightIDStart, _ := r.ReadBits(1)
	frameLength, _ := r.ReadBits(13)
	bufferFullness, _ := r.ReadBits(11)
	numRawBlocks, _ := r.ReadBits(2)

	if frameLength < 7 {
		return ADTSHeader{}, ErrShortFrame
	}

	return ADTSHeader{
		ID:                   uint8(id),
		Layer:                uint8(layer),
		ProtectionAbsent:     protectionAbsent == 1,
		Profile:              Profile(profile),
		SampleRateIndex:      uint8(sampleRateIdx),
		Private:              private == 1,
		ChannelConfiguration: uint8(channelCfg),
		Original:             original == 1,
		Home:                 home == 1,
		CopyrightIDBit:       copyrightIDBit == 1,
		CopyrightIDStart:     copyrightIDStart == 1,
		FrameLength:          uint16(frameLength),
		BufferFullness:       uint16(bufferFullness),
		NumberOfRawBlocks:    uint8(numRawBlocks),
	}, nil
}

// Config is the working AAC stream configuration derived from the most
// recently seen ADTS header.
type Config struct {
	Profile              Profile
	SampleRateIndex      uint8
	ChannelConfiguration uint8
	FrameLength          uint16 // samples per frame, conventionally 1024
}

// Frame is one AAC access unit plus the configuration it was decoded under.
type Frame struct {
	Config Config
	Data   []byte
}

// Parser decodes ADTS-framed AAC and falls back to the last-seen
// configuration for raw (non-ADTS) payloads.
type Parser struct {
	config *Config
}

// NewParser creates an AAC parser with no cached configuration.
func NewParser() *Parser {
	return &Parser{}
}

// SetConfig installs a configuration to use for frames with no ADTS header.
func (p *Parser) SetConfig(c Config) {
	p.config = &c
}

// Config returns the parser's current cached configuration, if any.
func (p *Parser) Config() (Config, bool) {
	if p.config == nil {
		return Config{}, false
	}
	return *p.config, true
}

// ErrNoConfig is returned when data has no ADTS header and no configuration
// has been cached yet.
var ErrNoConfig = errors.New("aac: no configuration available for raw payload")

// ParseFrame decodes one AAC frame from data. If data begins with a valid
// 7-byte ADTS header, the header's fields become the working configuration
// and the frame payload is data[7:frame_length]. Otherwise the cached
// configuration (from the most recent ADTS header) is used verbatim.
func (p *Parser) ParseFrame(data []byte) (Frame, error) {
	if len(data) >= 7 {
		if header, err := ParseADTSHeader(data[:7]); err == nil {
			end := int(header.FrameLength)
			if end > len(data) {
				end = len(data)
			}
			cfg := Config{
				Profile:              header.Profile,
				SampleRateIndex:      header.SampleRateIndex,
				ChannelConfiguration: header.ChannelConfiguration,
				FrameLength:          1024,
			}
			p.SetConfig(cfg)
			return Frame{Config: cfg, Data: data[7:end]}, nil
		}
	}
	if p.config == nil {
		return Frame{}, ErrNoConfig
	}
	return Frame{Config: *p.config, Data: data}, nil
}
