package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Frame separator. JSON never contains a NUL byte, so scanning for it is safe.
const frameSep = 0x00

const initialBufSize = 256

// ErrFrameTooLarge is returned when a frame does not fit into the stream's
// read buffer even after growing it to its cap. The connection must be
// closed: the stream can never make progress past the oversized frame.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds read buffer cap")

// Stream frames tagged JSON messages over a net.Conn. Each message is the
// JSON text followed by a single NUL byte. The read buffer tolerates partial
// reads and coalesces multiple frames arriving in one read; it grows on
// demand up to maxFrame bytes.
//
// Reads must stay on a single goroutine. Sends are serialized internally:
// the partner's connection goroutine also writes turn results and
// disconnect notices into this stream.
type Stream struct {
	conn net.Conn

	wmu sync.Mutex

	buf      []byte
	filled   int
	maxFrame int
}

// NewStream wraps conn. maxFrame bounds the per-connection read buffer.
func NewStream(conn net.Conn, maxFrame int) *Stream {
	size := initialBufSize
	if size > maxFrame {
		size = maxFrame
	}
	return &Stream{
		conn:     conn,
		buf:      make([]byte, size),
		maxFrame: maxFrame,
	}
}

// Send serializes msg, appends the frame separator and writes everything
// to the connection.
func (s *Stream) Send(msg Message) error {
	data, err := msg.encode()
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.conn.Write(append(data, frameSep)); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReceiveClient reads the next client message from the stream, blocking
// until a full frame is available.
func (s *Stream) ReceiveClient() (ClientMessage, error) {
	frame, err := s.receiveFrame()
	if err != nil {
		return nil, err
	}
	return DecodeClientMessage(frame)
}

// ReceiveServer reads the next server message from the stream, blocking
// until a full frame is available.
func (s *Stream) ReceiveServer() (ServerMessage, error) {
	frame, err := s.receiveFrame()
	if err != nil {
		return nil, err
	}
	return DecodeServerMessage(frame)
}

// receiveFrame returns the next frame without the separator. Buffered
// frames are drained before the connection is read again, so a burst of
// coalesced messages is delivered one frame per call without blocking.
func (s *Stream) receiveFrame() ([]byte, error) {
	for {
		if i := bytes.IndexByte(s.buf[:s.filled], frameSep); i >= 0 {
			frame := make([]byte, i)
			copy(frame, s.buf[:i])
			// Shift the tail (start of the next frame) to the front.
			copy(s.buf, s.buf[i+1:s.filled])
			s.filled -= i + 1
			return frame, nil
		}

		if s.filled == len(s.buf) {
			if len(s.buf) >= s.maxFrame {
				return nil, ErrFrameTooLarge
			}
			size := len(s.buf) * 2
			if size > s.maxFrame {
				size = s.maxFrame
			}
			grown := make([]byte, size)
			copy(grown, s.buf[:s.filled])
			s.buf = grown
		}

		n, err := s.conn.Read(s.buf[s.filled:])
		s.filled += n
		if n > 0 {
			continue // scan what we have before surfacing any error
		}
		if err != nil {
			return nil, fmt.Errorf("reading frame: %w", err)
		}
	}
}

// Close closes the underlying connection. Safe to call from another
// goroutine to unblock a pending receive.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// RemoteAddr returns the remote address of the underlying connection.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
