// Package render implements the variable renderer (C5): it turns a Symbol,
// an index path, and a VM context's memory into the value tree the wire
// protocol and the DAP bridge both send to clients.
package render

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/fansqz/scriptdbg/internal/image"
	"github.com/fansqz/scriptdbg/internal/vm"
)

// Value is the renderer's output: a name/type/value triple plus, for
// structured RTTI types, nested children. Mirrors the teacher's flat
// Variable struct, generalized with Children since the binary wire protocol
// renders a variable's full value inline rather than lazily by reference.
type Value struct {
	Name     string
	Type     string
	Value    string
	Children []Value
}

// NullString is emitted for a null string pointer.
const NullString = "NULL_STRING"

// Request bundles everything Render needs to produce one Value.
type Request struct {
	Sym     image.Symbol
	Img     *image.Image
	Ctx     vm.Context
	Indices []int
	// Frm is the current frame pointer, used to relocate local addresses.
	Frm uint32
	// Cip is the current code instruction pointer, for the out-of-scope check.
	Cip uint32
}

// Renderer holds the vclass-keyed display-type memoization cache described
// in spec.md 9: inference only runs once per distinct vclass value.
type Renderer struct {
	mu    sync.Mutex
	cache map[uint8]image.DisplayKind
}

func New() *Renderer {
	return &Renderer{cache: make(map[uint8]image.DisplayKind)}
}

// Render is the entry point: rule order follows spec.md 4.5 exactly.
func (r *Renderer) Render(req Request) Value {
	name, err := req.Img.Names.String(req.Sym.NameOffs())
	if err != nil {
		name = "?"
	}

	// Rule 1: RTTI structured types.
	if t, ok := req.Sym.RttiType(); ok {
		typ, err := image.Decode(t, req.Img.Rtti.Data)
		if err == nil {
			inner := typ.Innermost()
			if inner.Tag == image.TagClassdef && inner.HasClass {
				return r.renderClassdef(req, name, inner)
			}
			if inner.Tag == image.TagEnumStruct && inner.HasEnumStruct {
				return r.renderEnumStruct(req, name, inner)
			}
		}
	}

	// Rule 2: out-of-scope check.
	if req.Cip < req.Sym.CodeStart() || req.Cip > req.Sym.CodeEnd() {
		return Value{Name: name, Type: "", Value: "Not in scope."}
	}

	display := r.displayKind(req)
	typeName := displayTypeName(display)

	// Rule 6a: indices supplied for a non-array symbol.
	if len(req.Indices) > 0 && !isArrayIdent(req.Sym.Ident()) {
		return Value{Name: name, Type: typeName, Value: "(invalid index, not an array)"}
	}

	dim := req.Sym.DimCount()

	// Rule 4: array rendering at idxlevel==0.
	if len(req.Indices) == 0 && isArrayIdent(req.Sym.Ident()) {
		if display == image.DisplayString {
			return Value{Name: name, Type: typeName, Value: r.renderString(req)}
		}
		if dim == 1 {
			return Value{Name: name, Type: typeName, Value: r.renderArrayLiteral(req, display)}
		}
		return Value{Name: name, Type: typeName, Value: "(multi-dimensional array)"}
	}

	// Rule 6b: wrong number of dimensions.
	if len(req.Indices) != dim && dim > 0 {
		return Value{Name: name, Type: typeName, Value: "(invalid number of dimensions)"}
	}

	addr, ok := r.elementAddress(req)
	if !ok {
		return Value{Name: name, Type: typeName, Value: "(index out of range)"}
	}

	// Rule 5: scalar rendering.
	val, ok := r.readScalar(req, addr, display)
	if !ok {
		return Value{Name: name, Type: typeName, Value: "(?)"}
	}
	return Value{Name: name, Type: typeName, Value: val}
}

func isArrayIdent(id image.Ident) bool {
	return id == image.IdentArray || id == image.IdentReferenceArray
}

// displayKind implements rule 3: legacy symbols infer display type once per
// vclass value; RTTI symbols derive it directly from the decoded type.
func (r *Renderer) displayKind(req Request) image.DisplayKind {
	if t, ok := req.Sym.RttiType(); ok {
		typ, err := image.Decode(t, req.Img.Rtti.Data)
		if err == nil {
			return typ.Display()
		}
	}

	r.mu.Lock()
	if d, ok := r.cache[req.Sym.VClass()]; ok {
		r.mu.Unlock()
		return d
	}
	r.mu.Unlock()

	d := r.inferLegacyDisplay(req)
	r.mu.Lock()
	r.cache[req.Sym.VClass()] = d
	r.mu.Unlock()
	return d
}

func (r *Renderer) inferLegacyDisplay(req Request) image.DisplayKind {
	tagID, hasTag := req.Sym.TagID()
	if hasTag {
		if name, err := req.Img.Names.String(tagID); err == nil {
			switch strings.ToLower(name) {
			case "bool":
				return image.DisplayBool
			case "float":
				return image.DisplayFloat
			case "hex":
				return image.DisplayHex
			case "fixed":
				return image.DisplayFixed
			}
		}
	}
	if req.Sym.Ident() == image.IdentArray && req.Sym.DimCount() == 1 {
		if looksLikeCString(req, req.Sym) {
			return image.DisplayString
		}
	}
	return image.DisplayInteger
}

func looksLikeCString(req Request, sym image.Symbol) bool {
	addr := baseAddr(req, sym)
	data, ok := req.Ctx.ReadMemory(addr, 256)
	if !ok || len(data) == 0 {
		return false
	}
	first := data[0]
	if !((first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z')) {
		return false
	}
	for _, b := range data {
		if b == 0 {
			return true
		}
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return false
}

func baseAddr(req Request, sym image.Symbol) uint32 {
	if sym.Ident() == image.IdentReference || sym.Ident() == image.IdentReferenceArray {
		if phys, err := req.Ctx.LocalToPhysAddr(req.Frm + uint32(sym.Addr())); err == nil {
			return phys
		}
	}
	if InGlobalScope(sym) {
		return uint32(sym.Addr())
	}
	return req.Frm + uint32(sym.Addr())
}

// InGlobalScope re-exposes image.InGlobalScope for callers that only import
// render; kept as a thin wrapper rather than importing image twice.
func InGlobalScope(sym image.Symbol) bool { return image.InGlobalScope(sym) }

func displayTypeName(d image.DisplayKind) string {
	switch d {
	case image.DisplayBool:
		return "bool"
	case image.DisplayFloat:
		return "float"
	case image.DisplayString:
		return "string"
	case image.DisplayHex:
		return "hex"
	case image.DisplayFixed:
		return "fixed"
	default:
		return "int"
	}
}

func (r *Renderer) renderString(req Request) string {
	addr := baseAddr(req, req.Sym)
	_, ok := req.Ctx.ReadMemory(addr, 1)
	if !ok {
		return NullString
	}
	if addr == 0 {
		return NullString
	}
	var sb strings.Builder
	for i := 0; i < 4096; i++ {
		b, ok := req.Ctx.ReadMemory(addr+uint32(i), 1)
		if !ok || len(b) == 0 || b[0] == 0 {
			break
		}
		sb.WriteByte(b[0])
	}
	return sb.String()
}

func (r *Renderer) renderArrayLiteral(req Request, display image.DisplayKind) string {
	_, counts := elementType(req).ArrayRank()
	n := uint32(0)
	if len(counts) > 0 {
		n = counts[0]
	}
	base := baseAddr(req, req.Sym)
	var parts []string
	for i := uint32(0); i < n; i++ {
		b, ok := req.Ctx.ReadMemory(base+i*image.CellSize, image.CellSize)
		if !ok {
			parts = append(parts, "(?)")
			continue
		}
		parts = append(parts, formatScalar(b, display))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func elementType(req Request) *image.Type {
	if t, ok := req.Sym.RttiType(); ok {
		if typ, err := image.Decode(t, req.Img.Rtti.Data); err == nil {
			return typ
		}
	}
	return &image.Type{}
}

// elementAddress applies the supplied index path and returns the byte
// address of the selected scalar, or ok=false on any out-of-range index.
func (r *Renderer) elementAddress(req Request) (uint32, bool) {
	addr := baseAddr(req, req.Sym)
	_, counts := elementType(req).ArrayRank()
	for depth, idx := range req.Indices {
		var dim uint32 = ^uint32(0)
		if depth < len(counts) {
			dim = counts[depth]
		}
		if dim != ^uint32(0) && uint32(idx) >= dim {
			return 0, false
		}
		stride := uint32(image.CellSize)
		for k := depth + 1; k < len(counts); k++ {
			stride *= counts[k]
		}
		addr += uint32(idx) * stride
	}
	return addr, true
}

func (r *Renderer) readScalar(req Request, addr uint32, display image.DisplayKind) (string, bool) {
	data, ok := req.Ctx.ReadMemory(addr, image.CellSize)
	if !ok {
		return "", false
	}
	return formatScalar(data, display), true
}

func formatScalar(data []byte, display image.DisplayKind) string {
	v := int32(data[0]) | int32(data[1])<<8 | int32(data[2])<<16 | int32(data[3])<<24
	switch display {
	case image.DisplayBool:
		if v == 0 {
			return "false"
		} else if v == 1 {
			return "true"
		}
		return fmt.Sprintf("%d (true)", v)
	case image.DisplayFloat:
		bits := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
		return fmt.Sprintf("%f", math.Float32frombits(bits))
	case image.DisplayHex:
		return fmt.Sprintf("%x", uint32(v))
	case image.DisplayFixed:
		whole := v / 1000
		frac := v % 1000
		if frac < 0 {
			frac = -frac
		}
		return fmt.Sprintf("%d.%03d", whole, frac)
	default:
		return fmt.Sprintf("%d", v)
	}
}

func (r *Renderer) renderClassdef(req Request, name string, t *image.Type) Value {
	ptr, ok := req.Ctx.ReadMemory(baseAddr(req, req.Sym), image.CellSize)
	if !ok {
		return Value{Name: name, Type: "classdef", Value: "(?)"}
	}
	base := leUint32(ptr)
	fields, err := req.Img.Rtti.GetTypeFields(t.ClassIndex)
	if err != nil {
		return Value{Name: name, Type: "classdef", Value: "(?)"}
	}
	children := r.renderFieldRun(req, base, fieldsToGeneric(fields))
	return Value{Name: name, Type: "classdef", Children: children}
}

func (r *Renderer) renderEnumStruct(req Request, name string, t *image.Type) Value {
	base := baseAddr(req, req.Sym)
	fields, err := req.Img.Rtti.GetEnumFields(t.EnumStructIndex)
	if err != nil {
		return Value{Name: name, Type: "enum_struct", Value: "(?)"}
	}
	children := r.renderFieldRun(req, base, enumFieldsToGeneric(fields))
	return Value{Name: name, Type: "enum_struct", Children: children}
}

// genericField flattens RttiField/RttiEnumStructField into the shape
// renderFieldRun needs, so one walker serves both classdef and enum_struct
// layouts.
type genericField struct {
	nameOffs uint32
	typeID   image.TypeID
}

func fieldsToGeneric(fs []image.RttiField) []genericField {
	out := make([]genericField, len(fs))
	for i, f := range fs {
		out[i] = genericField{nameOffs: f.NameOffs, typeID: f.TypeID}
	}
	return out
}

func enumFieldsToGeneric(fs []image.RttiEnumStructField) []genericField {
	out := make([]genericField, len(fs))
	for i, f := range fs {
		out[i] = genericField{nameOffs: f.NameOffs, typeID: f.TypeID}
	}
	return out
}

func (r *Renderer) renderFieldRun(req Request, base uint32, fields []genericField) []Value {
	var out []Value
	offset := uint32(0)
	for _, f := range fields {
		name, _ := req.Img.Names.String(f.nameOffs)
		typ, err := image.Decode(f.typeID, req.Img.Rtti.Data)
		if err != nil {
			out = append(out, Value{Name: name, Value: "(?)"})
			continue
		}
		addr := base + offset
		fieldReq := req
		fieldReq.Sym = syntheticFieldSymbol{typeID: f.typeID, nameOffs: f.nameOffs, addr: int32(addr)}
		fieldReq.Indices = nil

		if typ.Tag == image.TagClassdef && typ.HasClass {
			out = append(out, r.renderClassdef(fieldReq, name, typ))
			offset += image.CellSize
			continue
		}
		if typ.Tag == image.TagEnumStruct && typ.HasEnumStruct {
			out = append(out, r.renderEnumStruct(fieldReq, name, typ))
			size := uint32(image.CellSize)
			if int(typ.EnumStructIndex) < len(req.Img.Rtti.EnumStructs) {
				size = req.Img.Rtti.EnumStructs[typ.EnumStructIndex].Size
			}
			offset += size
			continue
		}
		if typ.Tag == image.TagArray && typ.Sub != nil && typ.Sub.Tag == image.TagChar8 {
			s := r.readCStringAt(req, addr)
			out = append(out, Value{Name: name, Type: "string", Value: s})
			advance := uint32(len(s)) + 1
			advance = ((advance + image.CellSize - 1) / image.CellSize) * image.CellSize
			offset += advance
			continue
		}
		if typ.Tag == image.TagFixedArray {
			rank, counts := typ.ArrayRank()
			n := uint32(1)
			for i := 0; i < rank; i++ {
				n *= counts[i]
			}
			var elems []Value
			display := typ.Display()
			for i := uint32(0); i < n; i++ {
				b, ok := req.Ctx.ReadMemory(addr+i*image.CellSize, image.CellSize)
				v := "(?)"
				if ok {
					v = formatScalar(b, display)
				}
				elems = append(elems, Value{Name: fmt.Sprintf("[%d]", i), Value: v})
			}
			out = append(out, Value{Name: name, Type: "array", Children: elems})
			offset += n * image.CellSize
			continue
		}

		display := typ.Display()
		b, ok := req.Ctx.ReadMemory(addr, image.CellSize)
		v := "(?)"
		if ok {
			v = formatScalar(b, display)
		}
		out = append(out, Value{Name: name, Type: displayTypeName(display), Value: v})
		offset += image.CellSize
	}
	return out
}

func (r *Renderer) readCStringAt(req Request, addr uint32) string {
	var sb strings.Builder
	for i := 0; i < 4096; i++ {
		b, ok := req.Ctx.ReadMemory(addr+uint32(i), 1)
		if !ok || len(b) == 0 || b[0] == 0 {
			break
		}
		sb.WriteByte(b[0])
	}
	return sb.String()
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// syntheticFieldSymbol adapts one struct/enum_struct field into the Symbol
// interface so renderFieldRun can recurse through the same RTTI-symbol path
// used for top-level variables.
type syntheticFieldSymbol struct {
	typeID   image.TypeID
	nameOffs uint32
	addr     int32
}

func (s syntheticFieldSymbol) Addr() int32                  { return s.addr }
func (s syntheticFieldSymbol) CodeStart() uint32             { return 0 }
func (s syntheticFieldSymbol) CodeEnd() uint32               { return ^uint32(0) }
func (s syntheticFieldSymbol) Ident() image.Ident            { return image.IdentVariable }
func (s syntheticFieldSymbol) VClass() uint8                 { return 0 }
func (s syntheticFieldSymbol) DimCount() int                 { return 0 }
func (s syntheticFieldSymbol) NameOffs() uint32              { return s.nameOffs }
func (s syntheticFieldSymbol) TagID() (uint32, bool)         { return 0, false }
func (s syntheticFieldSymbol) RttiType() (image.TypeID, bool) { return s.typeID, true }
