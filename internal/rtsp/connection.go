package rtsp

import (
	"bytes"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrConnectionClosed is returned when the peer closes the TCP connection
// before a complete response has been read.
var ErrConnectionClosed = errors.New("rtsp: connection closed by peer")

// Connection wraps a TCP socket to an RTSP server, framing requests and
// responses on the RTSP/1.0 "\r\n\r\n" + Content-Length boundary.
type Connection struct {
	conn net.Conn
	buf  bytes.Buffer
	tmp  [4096]byte
}

// Dial opens a TCP connection to host:port with TCP_NODELAY enabled, as
// RTSP control traffic is latency-sensitive and small.
func Dial(host string, port uint16) (*Connection, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Connection{conn: conn}, nil
}

// WriteAll writes data to the connection in full.
func (c *Connection) WriteAll(data []byte) error {
	_, err := c.conn.Write(data)
	return err
}

// SetDeadline sets the read/write deadline on the underlying socket.
func (c *Connection) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// ReadResponse reads one complete RTSP response: headers terminated by
// "\r\n\r\n", followed by exactly Content-Length body bytes if present.
func (c *Connection) ReadResponse() ([]byte, error) {
	c.buf.Reset()
	for {
		if boundary, ok := findHeaderBoundary(c.buf.Bytes()); ok {
			if n, ok := contentLength(c.buf.Bytes()[:boundary]); ok {
				if c.buf.Len() >= boundary+4+n {
					out := make([]byte, boundary+4+n)
					copy(out, c.buf.Bytes()[:boundary+4+n])
					return out, nil
				}
			} else {
				out := make([]byte, boundary+4)
				copy(out, c.buf.Bytes()[:boundary+4])
				return out, nil
			}
		}
		n, err := c.conn.Read(c.tmp[:])
		if n > 0 {
			c.buf.Write(c.tmp[:n])
		}
		if err != nil {
			if c.buf.Len() == 0 {
				return nil, ErrConnectionClosed
			}
			return nil, err
		}
	}
}

// ReadN reads exactly n bytes, used for interleaved RTP/RTCP channel data
// after a "$" framing byte and 2-byte length have been consumed.
func (c *Connection) ReadN(n int) ([]byte, error) {
	out := make([]byte, n)
	read := 0
	for read < n {
		m, err := c.conn.Read(out[read:])
		read += m
		if err != nil && read < n {
			return nil, err
		}
	}
	return out, nil
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.conn.Close()
}

func findHeaderBoundary(buf []byte) (int, bool) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

func contentLength(headers []byte) (int, bool) {
	for _, line := range strings.Split(string(headers), "\r\n") {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "content-length:") {
			n, err := strconv.Atoi(strings.TrimSpace(line[len("content-length:"):]))
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}
