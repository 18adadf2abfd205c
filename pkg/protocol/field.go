package protocol

import "fmt"

// Field describes one encoded field of an item. A Field holds a pointer into
// the item it was built from, so the same descriptor both measures, writes
// and reads that struct member.
type Field interface {
	Name() string
	serialSize() int
	serialize(ctx *Context) error
	deserialize(ctx *Context) error
}

type named string

func (n named) Name() string { return string(n) }

// ===== INTEGERS =====

type uint8Field struct {
	named
	v *uint8
}

// Uint8 describes a one byte field
func Uint8(name string, v *uint8) Field { return &uint8Field{named(name), v} }

func (f *uint8Field) serialSize() int { return 1 }

func (f *uint8Field) serialize(ctx *Context) error {
	return PutUint8(ctx.Data, &ctx.Offset, *f.v)
}

func (f *uint8Field) deserialize(ctx *Context) (err error) {
	*f.v, err = GetUint8(ctx.Data, &ctx.Offset)
	return err
}

type uint32Field struct {
	named
	v *uint32
}

// Uint32 describes a four byte field
func Uint32(name string, v *uint32) Field { return &uint32Field{named(name), v} }

func (f *uint32Field) serialSize() int { return 4 }

func (f *uint32Field) serialize(ctx *Context) error {
	return PutUint32(ctx.Data, &ctx.Offset, *f.v)
}

func (f *uint32Field) deserialize(ctx *Context) (err error) {
	*f.v, err = GetUint32(ctx.Data, &ctx.Offset)
	return err
}

type uint64Field struct {
	named
	v *uint64
}

// Uint64 describes an eight byte field
func Uint64(name string, v *uint64) Field { return &uint64Field{named(name), v} }

func (f *uint64Field) serialSize() int { return 8 }

func (f *uint64Field) serialize(ctx *Context) error {
	return PutUint64(ctx.Data, &ctx.Offset, *f.v)
}

func (f *uint64Field) deserialize(ctx *Context) (err error) {
	*f.v, err = GetUint64(ctx.Data, &ctx.Offset)
	return err
}

// trailingUint32Field is always written but only read when exactly four bytes
// remain in the frame. Older writers stopped before it.
type trailingUint32Field struct {
	named
	v *uint32
}

// TrailingUint32 describes an optional uint32 that ends a frame
func TrailingUint32(name string, v *uint32) Field {
	return &trailingUint32Field{named(name), v}
}

func (f *trailingUint32Field) serialSize() int { return 4 }

func (f *trailingUint32Field) serialize(ctx *Context) error {
	return PutUint32(ctx.Data, &ctx.Offset, *f.v)
}

func (f *trailingUint32Field) deserialize(ctx *Context) (err error) {
	if ctx.Remaining() != 4 {
		*f.v = 0
		return nil
	}
	*f.v, err = GetUint32(ctx.Data, &ctx.Offset)
	return err
}

// ===== FIXED WIDTH =====

type fixedField struct {
	named
	b []byte
}

// Fixed describes a fixed-width value. b must alias the destination array,
// e.g. Fixed("peer", id[:]).
func Fixed(name string, b []byte) Field { return &fixedField{named(name), b} }

func (f *fixedField) serialSize() int { return len(f.b) }

func (f *fixedField) serialize(ctx *Context) error {
	return PutFixed(ctx.Data, &ctx.Offset, f.b)
}

func (f *fixedField) deserialize(ctx *Context) error {
	return GetFixed(ctx.Data, &ctx.Offset, f.b)
}

// ===== TLV =====

type stringField struct {
	named
	tag uint16
	v   *string
}

// String describes a TLV encoded string
func String(name string, tag uint16, v *string) Field {
	return &stringField{named(name), tag, v}
}

func (f *stringField) serialSize() int { return TLVSize(len(*f.v)) }

func (f *stringField) serialize(ctx *Context) error {
	return PutTLVString(ctx.Data, &ctx.Offset, f.tag, *f.v)
}

func (f *stringField) deserialize(ctx *Context) (err error) {
	*f.v, err = GetTLVString(ctx.Data, &ctx.Offset, f.tag)
	return err
}

type bytesField struct {
	named
	tag uint16
	v   *[]byte
}

// Bytes describes a TLV encoded opaque blob
func Bytes(name string, tag uint16, v *[]byte) Field {
	return &bytesField{named(name), tag, v}
}

func (f *bytesField) serialSize() int { return TLVSize(len(*f.v)) }

func (f *bytesField) serialize(ctx *Context) error {
	return PutTLVBytes(ctx.Data, &ctx.Offset, f.tag, *f.v)
}

func (f *bytesField) deserialize(ctx *Context) (err error) {
	*f.v, err = GetTLVBytes(ctx.Data, &ctx.Offset, f.tag)
	return err
}

type blobField struct {
	named
	v *[]byte
}

// Blob describes a raw memory block: a uint32 length then the bytes, no tag
func Blob(name string, v *[]byte) Field {
	return &blobField{named(name), v}
}

func (f *blobField) serialSize() int { return BlobSize(len(*f.v)) }

func (f *blobField) serialize(ctx *Context) error {
	return PutBlob(ctx.Data, &ctx.Offset, *f.v)
}

func (f *blobField) deserialize(ctx *Context) (err error) {
	*f.v, err = GetBlob(ctx.Data, &ctx.Offset)
	return err
}

// ===== COMPOSITES =====

type groupField struct {
	named
	fields []Field
}

// Group nests the description of a sub-object in place
func Group(name string, fields ...Field) Field {
	return &groupField{named(name), fields}
}

func (f *groupField) serialSize() int { return measure(f.fields) }

func (f *groupField) serialize(ctx *Context) error {
	return Process(JobSerialize, ctx, f.fields)
}

func (f *groupField) deserialize(ctx *Context) error {
	return Process(JobDeserialize, ctx, f.fields)
}

type listField[T any] struct {
	named
	s    *[]T
	elem func(*T) []Field
}

// List describes a count-prefixed (uint32) sequence. elem returns the
// description of one element. Every element must occupy at least one byte.
func List[T any](name string, s *[]T, elem func(*T) []Field) Field {
	return &listField[T]{named(name), s, elem}
}

func (f *listField[T]) serialSize() int {
	n := 4
	for i := range *f.s {
		n += measure(f.elem(&(*f.s)[i]))
	}
	return n
}

func (f *listField[T]) serialize(ctx *Context) error {
	if err := PutUint32(ctx.Data, &ctx.Offset, uint32(len(*f.s))); err != nil {
		return err
	}
	for i := range *f.s {
		if err := Process(JobSerialize, ctx, f.elem(&(*f.s)[i])); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	return nil
}

func (f *listField[T]) deserialize(ctx *Context) error {
	count, err := GetUint32(ctx.Data, &ctx.Offset)
	if err != nil {
		return err
	}
	if count > MaxCollectionCount {
		return ErrCollectionTooLarge
	}
	if int(count) > ctx.Remaining() {
		return ErrBufferTooShort
	}

	out := make([]T, count)
	for i := range out {
		if err := Process(JobDeserialize, ctx, f.elem(&out[i])); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	*f.s = out
	return nil
}

// ===== SIGNATURE =====

// Signature is a detachable signature: the signing identity and the raw
// signature bytes.
type Signature struct {
	KeyID GxsID
	Data  []byte
}

// IsZero reports whether no signature is held
func (s *Signature) IsZero() bool {
	return s.KeyID.IsZero() && len(s.Data) == 0
}

type signatureField struct {
	named
	v *Signature
}

// SignatureValue describes a key-signature TLV: the key id followed by a
// nested binary TLV holding the signature bytes.
func SignatureValue(name string, v *Signature) Field {
	return &signatureField{named(name), v}
}

func (f *signatureField) payloadSize() int {
	return len(f.v.KeyID) + TLVSize(len(f.v.Data))
}

func (f *signatureField) serialSize() int { return TLVSize(f.payloadSize()) }

func (f *signatureField) serialize(ctx *Context) error {
	if err := need(ctx.Data, ctx.Offset, f.serialSize()); err != nil {
		return err
	}
	if err := PutTLVHeader(ctx.Data, &ctx.Offset, TLVKeySignature, f.payloadSize()); err != nil {
		return err
	}
	if err := PutFixed(ctx.Data, &ctx.Offset, f.v.KeyID[:]); err != nil {
		return err
	}
	return PutTLVBytes(ctx.Data, &ctx.Offset, TLVBinarySign, f.v.Data)
}

func (f *signatureField) deserialize(ctx *Context) error {
	n, err := GetTLVHeader(ctx.Data, &ctx.Offset, TLVKeySignature)
	if err != nil {
		return err
	}

	// The nested fields are bounded by the outer TLV, not by the frame.
	end := ctx.Offset + n
	inner := ctx.Data[:end]
	offset := ctx.Offset

	var sig Signature
	if err := GetFixed(inner, &offset, sig.KeyID[:]); err != nil {
		return err
	}
	if sig.Data, err = GetTLVBytes(inner, &offset, TLVBinarySign); err != nil {
		return err
	}
	if offset != end {
		return ErrTLVLength
	}

	*f.v = sig
	ctx.Offset = end
	return nil
}
