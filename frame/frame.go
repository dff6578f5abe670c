// Package frame implements the GameBox remote-control wire framing: the
// 8-byte length+handle header that precedes every request, response, and
// callback body, plus the one-shot connect banner a server sends immediately
// after TCP accept.
//
// Frame layout, little-endian:
//
//	offset 0: u32 body_length
//	offset 4: u32 handle   // bit 31 set -> response to a client call
//	offset 8: body_length bytes
package frame

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// HeaderSize is the fixed size of a frame header: a u32 body length followed
// by a u32 handle.
const HeaderSize = 8

// DefaultMaxBody bounds per-frame memory at 4 MiB.
const DefaultMaxBody = 4 << 20

// MaxBannerLen is the largest accepted connect banner length.
const MaxBannerLen = 64

// Protocol is the only banner value a GameBox 2 server may send.
const Protocol = "GBXRemote 2"

// ErrClosed indicates the peer closed the connection mid-frame or mid-banner.
var ErrClosed = errors.New("frame: connection closed")

// ErrTooLarge indicates a frame body or banner exceeded its configured ceiling.
var ErrTooLarge = errors.New("frame: declared length exceeds ceiling")

// ErrTimeout indicates the banner deadline elapsed before a full banner was read.
var ErrTimeout = errors.New("frame: banner deadline exceeded")

// InvalidProtocolError reports a banner that does not match Protocol.
type InvalidProtocolError struct {
	Banner string
}

func (e *InvalidProtocolError) Error() string {
	return "frame: invalid protocol banner " + quote(e.Banner)
}

func quote(s string) string {
	return "\"" + s + "\""
}

// ReadFrame reads exactly one frame: an 8-byte header then its body. It
// returns ErrClosed on EOF that lands exactly on a frame boundary (i.e. the
// connection closed cleanly before the next frame started) or mid-frame, and
// ErrTooLarge if the declared body length exceeds maxBody. Any other I/O
// failure is returned wrapped with context.
func ReadFrame(r io.Reader, maxBody uint32) (handle uint32, body []byte, err error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, ErrClosed
		}
		return 0, nil, errors.Wrap(err, "frame: read header")
	}

	bodyLen := binary.LittleEndian.Uint32(hdr[0:4])
	handle = binary.LittleEndian.Uint32(hdr[4:8])

	if bodyLen > maxBody {
		return 0, nil, ErrTooLarge
	}

	body = make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, ErrClosed
		}
		return 0, nil, errors.Wrap(err, "frame: read body")
	}

	return handle, body, nil
}

// WriteFrame writes a complete frame — header then body — as one logical
// unit. It makes no retry of its own: io.Writer's contract (which
// net.Conn.Write follows) is to write everything or return an error, so a
// short write surfaces as an error. Callers must externally serialize
// concurrent WriteFrame calls on the same writer.
func WriteFrame(w io.Writer, handle uint32, body []byte) error {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(hdr[4:8], handle)

	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "frame: write header")
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return errors.Wrap(err, "frame: write body")
		}
	}
	return nil
}

// ReadBanner reads the server's one-time connect banner: a u32 length
// (bounded to MaxBannerLen) followed by that many ASCII bytes. deadline, if
// non-zero, is pushed onto conn's read deadline for the duration of the read
// and cleared before returning.
func ReadBanner(conn net.Conn, deadline time.Time) (string, error) {
	if !deadline.IsZero() {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return "", errors.Wrap(err, "frame: set banner deadline")
		}
		defer conn.SetReadDeadline(time.Time{})
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", ErrTimeout
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return "", ErrClosed
		}
		return "", errors.Wrap(err, "frame: read banner length")
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > MaxBannerLen {
		return "", ErrTooLarge
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", ErrTimeout
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return "", ErrClosed
		}
		return "", errors.Wrap(err, "frame: read banner body")
	}

	return string(buf), nil
}

// CheckProtocol validates a banner read by ReadBanner against the one
// accepted GameBox protocol string.
func CheckProtocol(banner string) error {
	if banner != Protocol {
		return &InvalidProtocolError{Banner: banner}
	}
	return nil
}
