package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidVersion = errors.New("unsupported packet version")
	ErrInvalidHeader  = errors.New("invalid header")
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
)

// Header represents the frame header
type Header struct {
	Service uint16 // Protocol family
	Subtype uint8  // Concrete item kind
	Size    uint32 // Whole frame length, header included
}

// Encode writes the header into the first HeaderSize bytes of buf
func (h *Header) Encode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrBufferTooShort
	}

	binary.BigEndian.PutUint16(buf[0:2], h.Service)
	buf[2] = h.Subtype
	buf[3] = PacketVersion
	binary.BigEndian.PutUint32(buf[4:8], h.Size)

	return nil
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}

	h.Service = binary.BigEndian.Uint16(buf[0:2])
	h.Subtype = buf[2]
	h.Size = binary.BigEndian.Uint32(buf[4:8])

	if buf[3] != PacketVersion {
		return ErrInvalidVersion
	}

	return h.Validate()
}

// Validate checks that the declared size can describe a frame
func (h *Header) Validate() error {
	if h.Size < HeaderSize {
		return fmt.Errorf("%w: size %d smaller than header", ErrInvalidHeader, h.Size)
	}

	if h.Size > MaxFrameSize {
		return ErrFrameTooLarge
	}

	return nil
}

// PeekHeader decodes the header at the start of a frame without consuming it
func PeekHeader(frame []byte) (Header, error) {
	var h Header
	err := h.Decode(frame)
	return h, err
}

// ReadFrame reads one complete frame from an io.Reader
func ReadFrame(r io.Reader) ([]byte, error) {
	head := make([]byte, HeaderSize)

	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}

	var h Header
	if err := h.Decode(head); err != nil {
		return nil, err
	}

	frame := make([]byte, h.Size)
	copy(frame, head)

	if _, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return frame, nil
}

// SplitFrames cuts a concatenation of frames into individual frames.
// Frames are only delimited, not decoded.
func SplitFrames(data []byte) ([][]byte, error) {
	var frames [][]byte

	for len(data) > 0 {
		var h Header
		if err := h.Decode(data); err != nil {
			return frames, err
		}

		if int(h.Size) > len(data) {
			return frames, fmt.Errorf("%w: frame declares %d bytes, %d left", ErrBufferTooShort, h.Size, len(data))
		}

		frames = append(frames, data[:h.Size:h.Size])
		data = data[h.Size:]
	}

	return frames, nil
}
