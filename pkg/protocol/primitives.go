package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Common codec errors.
var (
	ErrBufferTooShort     = errors.New("protocol: buffer too short")
	ErrAllocationTooLarge = errors.New("protocol: allocation size exceeds limit")
	ErrCollectionTooLarge = errors.New("protocol: collection count exceeds limit")
	ErrTLVType            = errors.New("protocol: unexpected TLV tag")
	ErrTLVLength          = errors.New("protocol: invalid TLV length")
)

// TLVHeaderSize is the tag plus length prefix of every TLV unit
const TLVHeaderSize = 6

// Encode functions write into buf at *offset and advance it by the exact width.
// They never write past len(buf). Decode functions mirror them.

func need(buf []byte, offset, n int) error {
	if offset < 0 || n < 0 || n > len(buf)-offset {
		return ErrBufferTooShort
	}
	return nil
}

// PutUint8 writes a single byte
func PutUint8(buf []byte, offset *int, v uint8) error {
	if err := need(buf, *offset, 1); err != nil {
		return err
	}
	buf[*offset] = v
	*offset++
	return nil
}

// GetUint8 reads a single byte
func GetUint8(buf []byte, offset *int) (uint8, error) {
	if err := need(buf, *offset, 1); err != nil {
		return 0, err
	}
	v := buf[*offset]
	*offset++
	return v, nil
}

// PutUint16 writes a big-endian uint16
func PutUint16(buf []byte, offset *int, v uint16) error {
	if err := need(buf, *offset, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(buf[*offset:], v)
	*offset += 2
	return nil
}

// GetUint16 reads a big-endian uint16
func GetUint16(buf []byte, offset *int) (uint16, error) {
	if err := need(buf, *offset, 2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(buf[*offset:])
	*offset += 2
	return v, nil
}

// PutUint32 writes a big-endian uint32
func PutUint32(buf []byte, offset *int, v uint32) error {
	if err := need(buf, *offset, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(buf[*offset:], v)
	*offset += 4
	return nil
}

// GetUint32 reads a big-endian uint32
func GetUint32(buf []byte, offset *int) (uint32, error) {
	if err := need(buf, *offset, 4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(buf[*offset:])
	*offset += 4
	return v, nil
}

// PutUint64 writes a big-endian uint64
func PutUint64(buf []byte, offset *int, v uint64) error {
	if err := need(buf, *offset, 8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(buf[*offset:], v)
	*offset += 8
	return nil
}

// GetUint64 reads a big-endian uint64
func GetUint64(buf []byte, offset *int) (uint64, error) {
	if err := need(buf, *offset, 8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(buf[*offset:])
	*offset += 8
	return v, nil
}

// PutFixed copies a fixed-width value (id, hash, key) into buf
func PutFixed(buf []byte, offset *int, v []byte) error {
	if err := need(buf, *offset, len(v)); err != nil {
		return err
	}
	copy(buf[*offset:], v)
	*offset += len(v)
	return nil
}

// GetFixed fills dst from buf; the width is len(dst)
func GetFixed(buf []byte, offset *int, dst []byte) error {
	if err := need(buf, *offset, len(dst)); err != nil {
		return err
	}
	copy(dst, buf[*offset:*offset+len(dst)])
	*offset += len(dst)
	return nil
}

// ===== TLV =====

// TLVSize returns the encoded size of a TLV unit holding n payload bytes
func TLVSize(n int) int {
	return TLVHeaderSize + n
}

// PutTLVHeader writes a TLV tag and the total unit length
func PutTLVHeader(buf []byte, offset *int, tag uint16, payloadLen int) error {
	if err := need(buf, *offset, TLVHeaderSize); err != nil {
		return err
	}
	if err := PutUint16(buf, offset, tag); err != nil {
		return err
	}
	return PutUint32(buf, offset, uint32(TLVSize(payloadLen)))
}

// GetTLVHeader reads a TLV header, checks the tag and returns the payload
// length after validating it against the bytes left in buf.
func GetTLVHeader(buf []byte, offset *int, tag uint16) (int, error) {
	start := *offset

	got, err := GetUint16(buf, offset)
	if err != nil {
		return 0, err
	}

	total, err := GetUint32(buf, offset)
	if err != nil {
		*offset = start
		return 0, err
	}

	if got != tag {
		*offset = start
		return 0, fmt.Errorf("%w: got 0x%04x, want 0x%04x", ErrTLVType, got, tag)
	}

	if total < TLVHeaderSize {
		*offset = start
		return 0, ErrTLVLength
	}

	payload := uint64(total) - TLVHeaderSize
	if payload > uint64(len(buf)-*offset) {
		*offset = start
		return 0, ErrBufferTooShort
	}

	if payload > MaxAllocation {
		*offset = start
		return 0, ErrAllocationTooLarge
	}

	return int(payload), nil
}

// PutTLVString writes a string as a TLV unit
func PutTLVString(buf []byte, offset *int, tag uint16, s string) error {
	if err := need(buf, *offset, TLVSize(len(s))); err != nil {
		return err
	}
	if err := PutTLVHeader(buf, offset, tag, len(s)); err != nil {
		return err
	}
	copy(buf[*offset:], s)
	*offset += len(s)
	return nil
}

// GetTLVString reads a string TLV unit
func GetTLVString(buf []byte, offset *int, tag uint16) (string, error) {
	n, err := GetTLVHeader(buf, offset, tag)
	if err != nil {
		return "", err
	}
	s := string(buf[*offset : *offset+n])
	*offset += n
	return s, nil
}

// PutTLVBytes writes an opaque blob as a TLV unit
func PutTLVBytes(buf []byte, offset *int, tag uint16, b []byte) error {
	if err := need(buf, *offset, TLVSize(len(b))); err != nil {
		return err
	}
	if err := PutTLVHeader(buf, offset, tag, len(b)); err != nil {
		return err
	}
	copy(buf[*offset:], b)
	*offset += len(b)
	return nil
}

// GetTLVBytes reads an opaque blob TLV unit into a freshly owned slice
func GetTLVBytes(buf []byte, offset *int, tag uint16) ([]byte, error) {
	n, err := GetTLVHeader(buf, offset, tag)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, buf[*offset:*offset+n])
	*offset += n
	return b, nil
}

// ===== MEMORY BLOCKS =====

// BlobSize returns the encoded size of a raw length-prefixed block
func BlobSize(n int) int {
	return 4 + n
}

// PutBlob writes a uint32 length followed by the raw bytes
func PutBlob(buf []byte, offset *int, b []byte) error {
	if err := need(buf, *offset, BlobSize(len(b))); err != nil {
		return err
	}
	if err := PutUint32(buf, offset, uint32(len(b))); err != nil {
		return err
	}
	copy(buf[*offset:], b)
	*offset += len(b)
	return nil
}

// GetBlob reads a length-prefixed block. The declared length is checked
// against the remaining bytes before anything is allocated.
func GetBlob(buf []byte, offset *int) ([]byte, error) {
	start := *offset

	n, err := GetUint32(buf, offset)
	if err != nil {
		return nil, err
	}

	if uint64(n) > uint64(len(buf)-*offset) {
		*offset = start
		return nil, ErrBufferTooShort
	}

	if n > MaxAllocation {
		*offset = start
		return nil, ErrAllocationTooLarge
	}

	b := make([]byte, n)
	copy(b, buf[*offset:*offset+int(n)])
	*offset += int(n)
	return b, nil
}
