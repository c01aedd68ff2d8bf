package image

import (
	"encoding/binary"
	"fmt"

	"github.com/fansqz/scriptdbg/errs"
)

// TypeID is a 32-bit word split into a 4-bit kind and a 28-bit payload.
type TypeID uint32

const (
	typeIDKindInline  = 0
	typeIDKindComplex = 1
)

// Kind returns the low 4 bits of the type-id.
func (t TypeID) Kind() uint32 { return uint32(t) & 0x0F }

// Payload returns the upper 28 bits of the type-id.
func (t TypeID) Payload() uint32 { return uint32(t) >> 4 }

// IsInline reports whether the type is encoded directly in the payload.
func (t TypeID) IsInline() bool { return t.Kind() == typeIDKindInline }

// Recognized tags in the rtti.data byte stream (and inline payloads).
const (
	TagAny         byte = 0x01
	TagBool        byte = 0x02
	TagInt32       byte = 0x03
	TagChar8       byte = 0x04
	TagFloat32     byte = 0x05
	TagFixedArray  byte = 0x06
	TagArray       byte = 0x07
	TagEnum        byte = 0x08
	TagTypedef     byte = 0x09
	TagTypeset     byte = 0x0A
	TagClassdef    byte = 0x0B
	TagEnumStruct  byte = 0x0C
	TagConst       byte = 0x0D
)

// maxTypeDepth bounds recursive type decoding against malformed/cyclic
// streams; the spec recommends 32 for class-field re-entry, we use the same
// bound here for type-id recursion.
const maxTypeDepth = 32

// Type is the decoded shape of a type-id: enough structure to answer the
// renderer's (C5) and lookup services' (C4) questions without re-decoding.
type Type struct {
	Tag             byte
	ArrayCounts     []uint32 // one entry per leading fixed_array layer, outermost first
	Sub             *Type    // element type for array/fixed_array; nil for every other tag
	ClassIndex      uint32
	HasClass        bool
	EnumIndex       uint32
	HasEnum         bool
	EnumStructIndex uint32
	HasEnumStruct   bool
	TypesetIndex    uint32
	HasTypeset      bool
}

// Decode decodes a type-id, reading from rtti.data when the type is complex
// and from the inline payload bytes otherwise.
func Decode(t TypeID, rttiData []byte) (*Type, error) {
	if t.IsInline() {
		payload := t.Payload()
		buf := []byte{byte(payload), byte(payload >> 8), byte(payload >> 16)}
		typ, _, err := decodeType(buf, 0, 0)
		return typ, err
	}
	pos := int(t.Payload())
	if pos < 0 || pos >= len(rttiData) {
		return nil, fmt.Errorf("%w: complex type-id payload %d out of rtti.data bounds (%d)", errs.ErrTypeIDOutOfBounds, pos, len(rttiData))
	}
	typ, _, err := decodeType(rttiData, pos, 0)
	return typ, err
}

// ValidateType decodes t and requires that decoding consumed bytes strictly
// within rtti.data's bounds (for complex types; inline types are always in
// bounds by construction).
func ValidateType(t TypeID, rttiData []byte) error {
	if t.IsInline() {
		_, err := Decode(t, rttiData)
		return err
	}
	pos := int(t.Payload())
	if pos < 0 || pos >= len(rttiData) {
		return fmt.Errorf("%w: complex type-id payload %d out of rtti.data bounds (%d)", errs.ErrTypeIDOutOfBounds, pos, len(rttiData))
	}
	_, end, err := decodeType(rttiData, pos, 0)
	if err != nil {
		return err
	}
	if end > len(rttiData) {
		return fmt.Errorf("%w: type decode consumed past rtti.data end", errs.ErrTypeIDOutOfBounds)
	}
	return nil
}

func decodeType(src []byte, pos int, depth int) (*Type, int, error) {
	if depth > maxTypeDepth {
		return nil, pos, fmt.Errorf("%w: type-id recursion exceeds %d", errs.ErrTypeIDOutOfBounds, maxTypeDepth)
	}
	if pos >= len(src) {
		return nil, pos, fmt.Errorf("%w: type-id tag read past end", errs.ErrTypeIDOutOfBounds)
	}
	tag := src[pos]
	pos++

	switch tag {
	case TagConst:
		// Transparent prefix: decode the following type and report it
		// under the same node, remembering only the underlying tag.
		inner, newPos, err := decodeType(src, pos, depth+1)
		if err != nil {
			return nil, newPos, err
		}
		return inner, newPos, nil

	case TagFixedArray:
		count, newPos, err := readVarint(src, pos)
		if err != nil {
			return nil, newPos, err
		}
		sub, newPos2, err := decodeType(src, newPos, depth+1)
		if err != nil {
			return nil, newPos2, err
		}
		node := &Type{Tag: TagFixedArray, ArrayCounts: append([]uint32{count}, sub.ArrayCounts...), Sub: sub}
		return node, newPos2, nil

	case TagArray:
		sub, newPos, err := decodeType(src, pos, depth+1)
		if err != nil {
			return nil, newPos, err
		}
		return &Type{Tag: TagArray, Sub: sub}, newPos, nil

	case TagTypedef:
		idx, newPos, err := readVarint(src, pos)
		if err != nil {
			return nil, newPos, err
		}
		return &Type{Tag: TagTypedef, TypesetIndex: idx, HasTypeset: true}, newPos, nil

	case TagTypeset:
		idx, newPos, err := readVarint(src, pos)
		if err != nil {
			return nil, newPos, err
		}
		return &Type{Tag: TagTypeset, TypesetIndex: idx, HasTypeset: true}, newPos, nil

	case TagClassdef:
		idx, newPos, err := readVarint(src, pos)
		if err != nil {
			return nil, newPos, err
		}
		return &Type{Tag: TagClassdef, ClassIndex: idx, HasClass: true}, newPos, nil

	case TagEnum:
		idx, newPos, err := readVarint(src, pos)
		if err != nil {
			return nil, newPos, err
		}
		return &Type{Tag: TagEnum, EnumIndex: idx, HasEnum: true}, newPos, nil

	case TagEnumStruct:
		idx, newPos, err := readVarint(src, pos)
		if err != nil {
			return nil, newPos, err
		}
		return &Type{Tag: TagEnumStruct, EnumStructIndex: idx, HasEnumStruct: true}, newPos, nil

	case TagAny, TagBool, TagInt32, TagChar8, TagFloat32:
		return &Type{Tag: tag}, pos, nil

	default:
		return nil, pos, fmt.Errorf("%w: unrecognized type tag %#x", errs.ErrTypeIDOutOfBounds, tag)
	}
}

func readVarint(src []byte, pos int) (uint32, int, error) {
	if pos >= len(src) {
		return 0, pos, fmt.Errorf("%w: varint read past end", errs.ErrTypeIDOutOfBounds)
	}
	v, n := binary.Uvarint(src[pos:])
	if n <= 0 {
		return 0, pos, fmt.Errorf("%w: malformed varint at offset %d", errs.ErrTypeIDOutOfBounds, pos)
	}
	return uint32(v), pos + n, nil
}

// ArrayRank returns how many leading fixed_array layers wrap t, and the
// per-layer element counts (outermost first).
func (t *Type) ArrayRank() (rank int, counts []uint32) {
	return len(t.ArrayCounts), t.ArrayCounts
}

// Innermost walks through fixed_array/array wrappers and returns the
// innermost (element) type node.
func (t *Type) Innermost() *Type {
	n := t
	for n.Sub != nil && (n.Tag == TagFixedArray || n.Tag == TagArray) {
		n = n.Sub
	}
	return n
}

// DisplayKind classifies the innermost scalar tag for the renderer (C5):
// char8 under array => string, float32 => float, bool => bool, else integer.
type DisplayKind int

const (
	DisplayInteger DisplayKind = iota
	DisplayBool
	DisplayFloat
	DisplayString
	DisplayHex
	DisplayFixed
)

// Display infers the display type per spec.md 4.5 rule 3/4.
func (t *Type) Display() DisplayKind {
	inner := t.Innermost()
	switch inner.Tag {
	case TagBool:
		return DisplayBool
	case TagFloat32:
		return DisplayFloat
	case TagChar8:
		if t.Tag == TagFixedArray || t.Tag == TagArray {
			return DisplayString
		}
		return DisplayInteger
	default:
		// Open Question (a): the kAny fallthrough bug is fixed here by
		// treating kAny (and everything else) as a 32-bit integer.
		return DisplayInteger
	}
}
