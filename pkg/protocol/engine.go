package protocol

import (
	"errors"
	"fmt"
	"log"
)

var (
	ErrSizeMismatch = errors.New("protocol: encoded size does not match declared size")
	ErrUnknownJob   = errors.New("protocol: unknown serialize job")
)

// Job selects what Process does with a field description
type Job int

const (
	JobSizeEstimate Job = iota // accumulate encoded size only
	JobSerialize               // write fields into Context.Data
	JobDeserialize             // read fields from Context.Data
)

func (j Job) String() string {
	switch j {
	case JobSizeEstimate:
		return "size-estimate"
	case JobSerialize:
		return "serialize"
	case JobDeserialize:
		return "deserialize"
	default:
		return fmt.Sprintf("job(%d)", int(j))
	}
}

// Context is the cursor shared by all fields of one traversal. Data is bounded
// to the frame being processed and is nil for JobSizeEstimate.
type Context struct {
	Data   []byte
	Offset int
}

// Remaining returns the number of bytes left after the cursor
func (c *Context) Remaining() int {
	return len(c.Data) - c.Offset
}

// Process runs a field description under job j, advancing ctx.Offset.
func Process(j Job, ctx *Context, fields []Field) error {
	for _, f := range fields {
		var err error

		switch j {
		case JobSizeEstimate:
			ctx.Offset += f.serialSize()
		case JobSerialize:
			err = f.serialize(ctx)
		case JobDeserialize:
			err = f.deserialize(ctx)
		default:
			return ErrUnknownJob
		}

		if err != nil {
			return fmt.Errorf("%s: %w", f.Name(), err)
		}
	}
	return nil
}

func measure(fields []Field) int {
	ctx := &Context{}
	_ = Process(JobSizeEstimate, ctx, fields)
	return ctx.Offset
}

// Item is any object that can be framed
type Item interface {
	Service() uint16
	Subtype() uint8
	// Fields returns the ordered description of the item's encoded fields.
	Fields() []Field
}

// Size returns the exact frame size of an item, header included
func Size(it Item) int {
	return HeaderSize + measure(it.Fields())
}

// Serialize encodes an item into a newly allocated frame
func Serialize(it Item) ([]byte, error) {
	return encodeFrame(it, it.Fields())
}

// encodeFrame measures then writes one description. Both passes walk the same
// slice, so a mismatch means a field reported the wrong size.
func encodeFrame(it Item, fields []Field) ([]byte, error) {
	size := HeaderSize + measure(fields)
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, size)
	h := Header{Service: it.Service(), Subtype: it.Subtype(), Size: uint32(size)}
	if err := h.Encode(buf); err != nil {
		return nil, err
	}

	ctx := &Context{Data: buf, Offset: HeaderSize}
	if err := Process(JobSerialize, ctx, fields); err != nil {
		log.Printf("❌ Serialization error for subtype 0x%02x: %v", it.Subtype(), err)
		return nil, err
	}

	if ctx.Offset != size {
		log.Printf("❌ Serialization size error for subtype 0x%02x: wrote %d, expected %d", it.Subtype(), ctx.Offset, size)
		return nil, ErrSizeMismatch
	}

	return buf, nil
}

// decodeFields reads a description from a complete frame and checks that the
// cursor ends exactly on the declared size.
func decodeFields(frame []byte, size uint32, fields []Field) error {
	ctx := &Context{Data: frame[:size], Offset: HeaderSize}

	if err := Process(JobDeserialize, ctx, fields); err != nil {
		return err
	}

	if ctx.Offset != int(size) {
		return fmt.Errorf("%w: consumed %d of %d bytes", ErrSizeMismatch, ctx.Offset, size)
	}

	return nil
}
