// Package sdp parses Session Description Protocol bodies (RFC 4566) as
// found in an RTSP DESCRIBE response, and resolves each media section's
// control attribute to an absolute SETUP URL.
package sdp

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidLine is returned for a line not of the form "<type>=<value>".
var ErrInvalidLine = errors.New("sdp: invalid line format")

// ErrInvalidMedia is returned for a malformed "m=" line.
var ErrInvalidMedia = errors.New("sdp: invalid media description")

// MediaDescription is one "m=" section and its attributes.
type MediaDescription struct {
	MediaType  string
	Port       uint16
	Protocol   string
	Format     string
	Attributes map[string]string
	// ControlURL is the absolute SETUP URL, populated by ResolveControlURLs.
	ControlURL string
}

// Attribute returns a media-level attribute's value and whether it was
// present (a value-less flag attribute reports ok=true with an empty
// string).
func (m MediaDescription) Attribute(name string) (string, bool) {
	v, ok := m.Attributes[name]
	return v, ok
}

// SessionDescription is a parsed SDP body.
type SessionDescription struct {
	Version     int
	Origin      string
	SessionName string
	Connection  string
	Time        string
	Attributes  map[string]string
	Media       []MediaDescription
}

// Attribute returns a session-level attribute's value and whether it was
// present.
func (s SessionDescription) Attribute(name string) (string, bool) {
	v, ok := s.Attributes[name]
	return v, ok
}

// GetMedia returns the first media section of the given type ("video",
// "audio", ...), if any.
func (s SessionDescription) GetMedia(mediaType string) (MediaDescription, bool) {
	for _, m := range s.Media {
		if m.MediaType == mediaType {
			return m, true
		}
	}
	return MediaDescription{}, false
}

// Parse decodes an SDP body into a SessionDescription.
func Parse(content string) (SessionDescription, error) {
	sdp := SessionDescription{Attributes: make(map[string]string)}
	var current *MediaDescription

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		typ, value, ok := splitTypeValue(line)
		if !ok {
			return SessionDescription{}, ErrInvalidLine
		}

		switch typ {
		case "v":
			n, err := strconv.Atoi(value)
			if err != nil {
				return SessionDescription{}, err
			}
			sdp.Version = n
		case "o":
			sdp.Origin = value
		case "s":
			sdp.SessionName = value
		case "c":
			sdp.Connection = value
		case "t":
			sdp.Time = value
		case "m":
			if current != nil {
				sdp.Media = append(sdp.Media, *current)
			}
			md, err := parseMediaLine(value)
			if err != nil {
				return SessionDescription{}, err
			}
			current = &md
		case "a":
			name, val := splitAttribute(value)
			if current != nil {
				current.Attributes[name] = val
			} else {
				sdp.Attributes[name] = val
			}
		default:
			// unknown line types are ignored
		}
	}
	if current != nil {
		sdp.Media = append(sdp.Media, *current)
	}
	return sdp, nil
}

func splitTypeValue(line string) (typ, value string, ok bool) {
	idx := strings.IndexByte(line, '=')
	if idx != 1 {
		return "", "", false
	}
	return line[:1], strings.TrimSpace(line[2:]), true
}

func splitAttribute(value string) (name, val string) {
	idx := strings.IndexByte(value, ':')
	if idx < 0 {
		return value, ""
	}
	return value[:idx], value[idx+1:]
}

func parseMediaLine(value string) (MediaDescription, error) {
	parts := strings.Fields(value)
	if len(parts) < 4 {
		return MediaDescription{}, ErrInvalidMedia
	}
	port, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return MediaDescription{}, err
	}
	return MediaDescription{
		MediaType:  parts[0],
		Port:       uint16(port),
		Protocol:   parts[2],
		Format:     parts[3],
		Attributes: make(map[string]string),
	}, nil
}

// ResolveControlURLs computes each media section's absolute SETUP URL from
// its (or the session's) "control" attribute, resolved against baseURL
// (typically the DESCRIBE request URL). A control value of "*" means the
// base URL applies directly; an absolute control value is used as-is;
// otherwise it is appended as a path segment to the session-level control
// (or baseURL when no session-level control attribute exists).
func (s *SessionDescription) ResolveControlURLs(baseURL string) error {
	base, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	sessionControl := base
	if c, ok := s.Attribute("control"); ok && c != "" && c != "*" {
		resolved, err := resolveOne(base, c)
		if err != nil {
			return err
		}
		sessionControl = resolved
	}

	for i := range s.Media {
		m := &s.Media[i]
		control, ok := m.Attribute("control")
		if !ok || control == "" || control == "*" {
			m.ControlURL = sessionControl.String()
			continue
		}
		resolved, err := resolveOne(sessionControl, control)
		if err != nil {
			return err
		}
		m.ControlURL = resolved.String()
	}
	return nil
}

// resolveOne joins a relative control attribute onto base as an additional
// path segment (RTSP control URLs are conventionally appended, not merged
// the way an HTTP relative reference replaces the last path segment).
func resolveOne(base *url.URL, control string) (*url.URL, error) {
	if strings.Contains(control, "://") {
		return url.Parse(control)
	}
	joined := *base
	joined.Path = strings.TrimSuffix(joined.Path, "/") + "/" + control
	return &joined, nil
}
