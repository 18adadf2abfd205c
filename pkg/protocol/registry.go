package protocol

import (
	"errors"
	"fmt"
	"log"
	"sort"
)

var (
	ErrUnknownSubtype = errors.New("protocol: unknown item subtype")
	ErrTrailingData   = errors.New("protocol: data after end of frame")
)

// Constructor returns an empty item ready to be decoded into
type Constructor func() Item

type itemKey struct {
	service uint16
	subtype uint8
}

// Registry maps (service, subtype) pairs to item constructors. Register every
// kind before sharing the registry; lookups are read-only afterwards.
type Registry struct {
	ctors map[itemKey]Constructor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		ctors: make(map[itemKey]Constructor),
	}
}

// Register adds a constructor. Registering the same pair twice panics since it
// can only come from a programming error at start-up.
func (r *Registry) Register(service uint16, subtype uint8, ctor Constructor) {
	k := itemKey{service, subtype}
	if _, exists := r.ctors[k]; exists {
		panic(fmt.Sprintf("protocol: duplicate registration for service 0x%04x subtype 0x%02x", service, subtype))
	}
	r.ctors[k] = ctor
}

// Create builds an empty item for the given pair
func (r *Registry) Create(service uint16, subtype uint8) (Item, error) {
	ctor, ok := r.ctors[itemKey{service, subtype}]
	if !ok {
		return nil, fmt.Errorf("%w: service 0x%04x subtype 0x%02x", ErrUnknownSubtype, service, subtype)
	}
	return ctor(), nil
}

// Subtypes lists the registered subtypes of a service in ascending order
func (r *Registry) Subtypes(service uint16) []uint8 {
	var out []uint8
	for k := range r.ctors {
		if k.service == service {
			out = append(out, k.subtype)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Deserialize decodes exactly one frame. The frame must be complete and must
// not carry trailing bytes; any shortfall or overrun fails the whole frame.
func (r *Registry) Deserialize(frame []byte) (Item, error) {
	var h Header
	if err := h.Decode(frame); err != nil {
		return nil, err
	}

	if int(h.Size) > len(frame) {
		return nil, fmt.Errorf("%w: header declares %d bytes, got %d", ErrBufferTooShort, h.Size, len(frame))
	}

	if int(h.Size) < len(frame) {
		return nil, fmt.Errorf("%w: %d extra bytes", ErrTrailingData, len(frame)-int(h.Size))
	}

	it, err := r.Create(h.Service, h.Subtype)
	if err != nil {
		log.Printf("⚠️  Dropping frame: %v", err)
		return nil, err
	}

	if err := decodeFields(frame, h.Size, it.Fields()); err != nil {
		return nil, fmt.Errorf("subtype 0x%02x: %w", h.Subtype, err)
	}

	return it, nil
}

// DeserializeAll decodes a concatenation of frames. Frames that fail to decode
// are skipped; the declared sizes keep the remaining frames in sync. An error
// is returned only when a header itself cannot be trusted.
func (r *Registry) DeserializeAll(data []byte) ([]Item, int, error) {
	frames, err := SplitFrames(data)

	items := make([]Item, 0, len(frames))
	dropped := 0
	for _, f := range frames {
		it, derr := r.Deserialize(f)
		if derr != nil {
			log.Printf("⚠️  Skipping malformed frame: %v", derr)
			dropped++
			continue
		}
		items = append(items, it)
	}

	return items, dropped, err
}
