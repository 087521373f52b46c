package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameType identifies the purpose of a frame.
type FrameType uint8

const (
	FrameRequest  FrameType = 1
	FrameResponse FrameType = 2
	FrameError    FrameType = 3
	FramePing     FrameType = 4
	FramePong     FrameType = 5
)

// String returns the string representation of FrameType.
func (t FrameType) String() string {
	switch t {
	case FrameRequest:
		return "request"
	case FrameResponse:
		return "response"
	case FrameError:
		return "error"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Constants for frame serialization
const (
	// FrameVersion is the protocol version written in every header
	FrameVersion uint8 = 1

	// FrameHeaderSize is the fixed size of the frame header in bytes
	FrameHeaderSize = 16

	// DefaultMaxPayload is the default limit on payload size
	DefaultMaxPayload = 16 * 1024 * 1024
)

// Frame errors
var (
	ErrFrameTooLarge    = errors.New("frame payload too large")
	ErrFrameTruncated   = errors.New("frame truncated")
	ErrFrameVersion     = errors.New("unsupported frame version")
	ErrFrameNil         = errors.New("frame is nil")
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Frame is one unit on the wire.
type Frame struct {
	Type    FrameType
	Flags   uint16
	ID      uint64
	Payload []byte
}

// Size returns the encoded size of the frame in bytes.
func (f *Frame) Size() int {
	return FrameHeaderSize + len(f.Payload)
}

// FrameCodec encodes and decodes frames.
type FrameCodec struct {
	// MaxPayload bounds payload size; zero means DefaultMaxPayload
	MaxPayload int
}

// NewFrameCodec creates a codec with the given payload limit.
func NewFrameCodec(maxPayload int) *FrameCodec {
	return &FrameCodec{MaxPayload: maxPayload}
}

func (c *FrameCodec) maxPayload() int {
	if c == nil || c.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	return c.MaxPayload
}

// Encode encodes a frame to bytes.
func (c *FrameCodec) Encode(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, ErrFrameNil
	}
	if len(f.Payload) > c.maxPayload() {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(f.Payload), c.maxPayload())
	}

	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	c.putHeader(buf, f)
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf, nil
}

// DecodeHeader decodes the header and returns the frame without payload and
// the payload length announced by the header.
func (c *FrameCodec) DecodeHeader(data []byte) (*Frame, int, error) {
	if len(data) < FrameHeaderSize {
		return nil, 0, fmt.Errorf("%w: header needs %d bytes, got %d", ErrFrameTruncated, FrameHeaderSize, len(data))
	}
	if data[0] != FrameVersion {
		return nil, 0, fmt.Errorf("%w: %d", ErrFrameVersion, data[0])
	}

	f := &Frame{
		Type:  FrameType(data[1]),
		Flags: binary.BigEndian.Uint16(data[2:4]),
		ID:    binary.BigEndian.Uint64(data[4:12]),
	}
	if f.Type < FrameRequest || f.Type > FramePong {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownFrameType, data[1])
	}

	length := int(binary.BigEndian.Uint32(data[12:16]))
	if length > c.maxPayload() {
		return nil, 0, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, c.maxPayload())
	}

	return f, length, nil
}

// Decode decodes a complete frame. Trailing bytes are an error.
func (c *FrameCodec) Decode(data []byte) (*Frame, error) {
	f, length, err := c.DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	if len(data) != FrameHeaderSize+length {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrFrameTruncated, FrameHeaderSize+length, len(data))
	}

	if length > 0 {
		f.Payload = make([]byte, length)
		copy(f.Payload, data[FrameHeaderSize:])
	}
	return f, nil
}

// ReadFrame reads exactly one frame from r.
func (c *FrameCodec) ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	f, length, err := c.DecodeHeader(header)
	if err != nil {
		return nil, err
	}

	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("failed to read frame payload: %w", err)
		}
	}

	return f, nil
}

// WriteFrame writes one frame to w.
func (c *FrameCodec) WriteFrame(w io.Writer, f *Frame) error {
	data, err := c.Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (c *FrameCodec) putHeader(buf []byte, f *Frame) {
	buf[0] = FrameVersion
	buf[1] = byte(f.Type)
	binary.BigEndian.PutUint16(buf[2:4], f.Flags)
	binary.BigEndian.PutUint64(buf[4:12], f.ID)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(f.Payload)))
}
