// Package controlsock implements the framed Unix-socket-pair protocol
// used only between the supervisor and a launched task (spec §6
// "Control socket", §4.7 pid reporting state machine).
//
// The wire format (4-byte LE pid, 1-byte ack, varint-length-prefixed
// error payload) is spec-literal, not a library's framing — so this is
// one of the few places this module reaches for the standard library's
// encoding/binary instead of a pack dependency; no serialization
// library in the retrieval pack (protobuf, msgpack, cbor) fits a
// bespoke three-message handshake better than direct byte encoding
// (see DESIGN.md).
package controlsock

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/containerkit/netcore/pkg/nerr"
)

// Conn wraps one end of the control socket pair.
type Conn struct {
	f *os.File
}

// NewPair creates a connected Unix socket pair, returning the
// supervisor-side (MasterSock) and child-side (Sock) ends per spec
// §4.7.
func NewPair() (master, sock *Conn, err error) {
	fds, err := rawSocketpair()
	if err != nil {
		return nil, nil, nerr.Wrap(nerr.Unknown, 0, err, "create control socket pair")
	}
	return &Conn{f: os.NewFile(uintptr(fds[0]), "master-sock")},
		&Conn{f: os.NewFile(uintptr(fds[1]), "sock")}, nil
}

// FromFile wraps an inherited file descriptor (e.g. after fork, when
// the child side is reached via a pre-set fd number).
func FromFile(f *os.File) *Conn { return &Conn{f: f} }

// Fd returns the underlying file descriptor, e.g. to pass across exec.
func (c *Conn) Fd() uintptr { return c.f.Fd() }

// Close closes the socket. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}

// SetRecvTimeout bounds subsequent reads (spec §5 "MasterSock.set_recv_timeout(start_timeout_ms)").
func (c *Conn) SetRecvTimeout(d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(int(c.f.Fd()), unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return nerr.Wrap(nerr.Unknown, 0, err, "set control socket receive timeout")
	}
	return nil
}

// SendPid writes a 4-byte little-endian pid.
func (c *Conn) SendPid(pid int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(pid))
	if _, err := c.f.Write(buf[:]); err != nil {
		return nerr.Wrap(nerr.Unknown, 0, err, "send pid")
	}
	return nil
}

// RecvPid reads a 4-byte little-endian pid.
func (c *Conn) RecvPid() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.f, buf[:]); err != nil {
		return 0, nerr.Wrap(nerr.Unknown, 0, err, "recv pid")
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// SendAck writes the single zero-byte ack.
func (c *Conn) SendAck() error {
	if _, err := c.f.Write([]byte{0}); err != nil {
		return nerr.Wrap(nerr.Unknown, 0, err, "send ack")
	}
	return nil
}

// RecvAck reads and validates the single zero-byte ack.
func (c *Conn) RecvAck() error {
	var buf [1]byte
	if _, err := io.ReadFull(c.f, buf[:]); err != nil {
		return nerr.Wrap(nerr.Unknown, 0, err, "recv ack")
	}
	if buf[0] != 0 {
		return nerr.New(nerr.InvalidData, "expected zero-byte ack, got %#x", buf[0])
	}
	return nil
}

// ErrorPayload is the stage-2 error message (spec §6): a closed error
// kind, an errno (0 if synthetic), and human text.
type ErrorPayload struct {
	Kind  nerr.Kind
	Errno int32
	Text  string
}

// SendError writes a varint-length-prefixed error payload.
func (c *Conn) SendError(p ErrorPayload) error {
	var body []byte
	body = binary.AppendVarint(body, int64(p.Kind))
	var errnoBuf [4]byte
	binary.LittleEndian.PutUint32(errnoBuf[:], uint32(p.Errno))
	body = append(body, errnoBuf[:]...)
	body = binary.AppendVarint(body, int64(len(p.Text)))
	body = append(body, p.Text...)

	var lenBuf []byte
	lenBuf = binary.AppendVarint(lenBuf, int64(len(body)))
	if _, err := c.f.Write(lenBuf); err != nil {
		return nerr.Wrap(nerr.Unknown, 0, err, "send error length")
	}
	if _, err := c.f.Write(body); err != nil {
		return nerr.Wrap(nerr.Unknown, 0, err, "send error body")
	}
	return nil
}

// RecvError reads and decodes a varint-length-prefixed error payload.
// On success the child never sends stage-2 at all and instead execs,
// closing its end of the socket — that EOF-with-no-bytes is the wire
// signal for Success (spec §4.7 step 4: "It sends stage-2 error only
// on failure").
func (c *Conn) RecvError() (ErrorPayload, error) {
	br := &byteReader{f: c.f}
	n, err := binary.ReadVarint(br)
	if err != nil {
		if br.consumed == 0 && (err == io.EOF) {
			return ErrorPayload{Kind: nerr.Success}, nil
		}
		return ErrorPayload{}, nerr.Wrap(nerr.Unknown, 0, err, "recv error length")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c.f, body); err != nil {
		return ErrorPayload{}, nerr.Wrap(nerr.Unknown, 0, err, "recv error body")
	}

	bbr := &byteReader{f: readerFrom(body)}
	kind, err := binary.ReadVarint(bbr)
	if err != nil {
		return ErrorPayload{}, nerr.Wrap(nerr.InvalidData, 0, err, "decode error kind")
	}
	consumed := bbr.consumed
	if consumed+4 > len(body) {
		return ErrorPayload{}, nerr.New(nerr.InvalidData, "truncated error payload")
	}
	errno := int32(binary.LittleEndian.Uint32(body[consumed : consumed+4]))
	rest := body[consumed+4:]

	tbr := &byteReader{f: readerFrom(rest)}
	textLen, err := binary.ReadVarint(tbr)
	if err != nil {
		return ErrorPayload{}, nerr.Wrap(nerr.InvalidData, 0, err, "decode error text length")
	}
	textStart := tbr.consumed
	if textStart+int(textLen) > len(rest) {
		return ErrorPayload{}, nerr.New(nerr.InvalidData, "truncated error text")
	}
	text := string(rest[textStart : textStart+int(textLen)])

	return ErrorPayload{Kind: nerr.Kind(kind), Errno: errno, Text: text}, nil
}

// byteReader adapts an io.Reader to io.ByteReader for binary.ReadVarint,
// tracking how many bytes it has consumed.
type byteReader struct {
	f        io.Reader
	consumed int
}

func (b *byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.f, buf[:]); err != nil {
		return 0, err
	}
	b.consumed++
	return buf[0], nil
}

func readerFrom(b []byte) io.Reader {
	return &sliceReader{b: b}
}

type sliceReader struct {
	b   []byte
	pos int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.pos:])
	s.pos += n
	return n, nil
}

