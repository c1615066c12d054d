// Package mediaerr holds the cross-cutting error-category sentinels used
// throughout the toolkit so callers can test taxonomy membership with
// errors.Is instead of a custom error-code enum.
package mediaerr

import "errors"

var (
	// ErrIO marks a failure in the underlying socket or file I/O.
	ErrIO = errors.New("mediaerr: io error")
	// ErrProtocol marks a malformed RTSP/RTP/RTCP control-plane exchange:
	// bad status line, missing header, malformed SDP, unknown status code.
	ErrProtocol = errors.New("mediaerr: protocol error")
	// ErrCodec marks an invalid bitstream pattern: bad start code, invalid
	// exp-Golomb code, wrong sync byte.
	ErrCodec = errors.New("mediaerr: codec error")
	// ErrParser marks a malformed auxiliary structure, e.g. a short or
	// invalid ADTS header.
	ErrParser = errors.New("mediaerr: parser error")
	// ErrInvalidData marks a violated structural invariant: wrong TS sync,
	// a frame shorter than its declared length, a negative length field.
	ErrInvalidData = errors.New("mediaerr: invalid data")
)
