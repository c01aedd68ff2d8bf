package image

import (
	"encoding/binary"
	"fmt"

	"github.com/fansqz/scriptdbg/errs"
)

// Ident classifies what a symbol names.
type Ident uint8

const (
	IdentVariable       Ident = 1
	IdentReference      Ident = 2
	IdentArray          Ident = 3
	IdentReferenceArray Ident = 4
	IdentFunction       Ident = 9
)

// Scope selects which half of a symbol table SymbolIterator walks.
type Scope int

const (
	ScopeLocal Scope = iota
	ScopeGlobal
)

// vclassScopeMask isolates the storage-class bits of a legacy vclass byte;
// scenario 6 in spec.md 8 requires "vclass & 0x0f == 0" to mean global.
const vclassScopeMask = 0x0F

// SymbolEncoding names which of the three mutually exclusive symbol
// representations an image carries.
type SymbolEncoding int

const (
	EncodingPackedLegacy SymbolEncoding = iota
	EncodingUnpackedLegacy
	EncodingRtti
)

// Symbol is the unified accessor set over the three symbol representations.
// Deliberately an interface over three small concrete types rather than one
// struct with optional fields: the representations' field sets genuinely
// differ (legacy symbols carry a numeric tag id, RTTI symbols carry a
// TypeID) and forcing them into a shared struct would just grow a pile of
// "doesn't apply to this variant" fields.
type Symbol interface {
	Addr() int32
	CodeStart() uint32
	CodeEnd() uint32
	Ident() Ident
	VClass() uint8
	DimCount() int
	NameOffs() uint32
	// TagID returns the legacy tag id, valid only when ok is true.
	TagID() (id uint32, ok bool)
	// RttiType returns the RTTI type-id, valid only when ok is true.
	RttiType() (t TypeID, ok bool)
}

// InGlobalScope reports whether sym's storage class marks it global, per
// the vclass & 0x0f == 0 convention.
func InGlobalScope(sym Symbol) bool {
	return sym.VClass()&vclassScopeMask == 0
}

// --- packed legacy -----------------------------------------------------

type packedLegacySymbol struct {
	addr      int32
	tagID     uint16
	codeStart uint16
	codeEnd   uint16
	ident     Ident
	vclass    uint8
	dimCount  uint8
	nameOffs  uint16
}

func (s packedLegacySymbol) Addr() int32             { return s.addr }
func (s packedLegacySymbol) CodeStart() uint32        { return uint32(s.codeStart) }
func (s packedLegacySymbol) CodeEnd() uint32          { return uint32(s.codeEnd) }
func (s packedLegacySymbol) Ident() Ident             { return s.ident }
func (s packedLegacySymbol) VClass() uint8            { return s.vclass }
func (s packedLegacySymbol) DimCount() int            { return int(s.dimCount) }
func (s packedLegacySymbol) NameOffs() uint32         { return uint32(s.nameOffs) }
func (s packedLegacySymbol) TagID() (uint32, bool)    { return uint32(s.tagID), true }
func (s packedLegacySymbol) RttiType() (TypeID, bool) { return 0, false }

const packedSymbolFixedSize = 15
const packedDimSize = 2

func decodePackedSymbol(buf []byte, pos int) (packedLegacySymbol, int, error) {
	if pos+packedSymbolFixedSize > len(buf) {
		return packedLegacySymbol{}, pos, fmt.Errorf("%w: packed symbol record truncated", errs.ErrInvalidSection)
	}
	s := packedLegacySymbol{
		addr:      int32(binary.LittleEndian.Uint32(buf[pos : pos+4])),
		tagID:     binary.LittleEndian.Uint16(buf[pos+4 : pos+6]),
		codeStart: binary.LittleEndian.Uint16(buf[pos+6 : pos+8]),
		codeEnd:   binary.LittleEndian.Uint16(buf[pos+8 : pos+10]),
		ident:     Ident(buf[pos+10]),
		vclass:    buf[pos+11],
		dimCount:  buf[pos+12],
		nameOffs:  binary.LittleEndian.Uint16(buf[pos+13 : pos+15]),
	}
	pos += packedSymbolFixedSize
	dimsEnd := pos + int(s.dimCount)*packedDimSize
	if dimsEnd > len(buf) {
		return s, pos, fmt.Errorf("%w: packed symbol dim list truncated", errs.ErrInvalidSection)
	}
	return s, dimsEnd, nil
}

// --- unpacked legacy -----------------------------------------------------

type unpackedLegacySymbol struct {
	addr      int32
	tagID     uint16
	codeStart uint32
	codeEnd   uint32
	ident     Ident
	vclass    uint8
	dimCount  uint16
	nameOffs  uint32
}

func (s unpackedLegacySymbol) Addr() int32             { return s.addr }
func (s unpackedLegacySymbol) CodeStart() uint32        { return s.codeStart }
func (s unpackedLegacySymbol) CodeEnd() uint32          { return s.codeEnd }
func (s unpackedLegacySymbol) Ident() Ident             { return s.ident }
func (s unpackedLegacySymbol) VClass() uint8            { return s.vclass }
func (s unpackedLegacySymbol) DimCount() int            { return int(s.dimCount) }
func (s unpackedLegacySymbol) NameOffs() uint32         { return s.nameOffs }
func (s unpackedLegacySymbol) TagID() (uint32, bool)    { return uint32(s.tagID), true }
func (s unpackedLegacySymbol) RttiType() (TypeID, bool) { return 0, false }

const unpackedSymbolFixedSize = 22
const unpackedDimSize = 6

func decodeUnpackedSymbol(buf []byte, pos int) (unpackedLegacySymbol, int, error) {
	if pos+unpackedSymbolFixedSize > len(buf) {
		return unpackedLegacySymbol{}, pos, fmt.Errorf("%w: unpacked symbol record truncated", errs.ErrInvalidSection)
	}
	s := unpackedLegacySymbol{
		addr:      int32(binary.LittleEndian.Uint32(buf[pos : pos+4])),
		tagID:     binary.LittleEndian.Uint16(buf[pos+4 : pos+6]),
		codeStart: binary.LittleEndian.Uint32(buf[pos+6 : pos+10]),
		codeEnd:   binary.LittleEndian.Uint32(buf[pos+10 : pos+14]),
		ident:     Ident(buf[pos+14]),
		vclass:    buf[pos+15],
		dimCount:  binary.LittleEndian.Uint16(buf[pos+16 : pos+18]),
		nameOffs:  binary.LittleEndian.Uint32(buf[pos+18 : pos+22]),
	}
	pos += unpackedSymbolFixedSize
	dimsEnd := pos + int(s.dimCount)*unpackedDimSize
	if dimsEnd > len(buf) {
		return s, pos, fmt.Errorf("%w: unpacked symbol dim list truncated", errs.ErrInvalidSection)
	}
	return s, dimsEnd, nil
}

// --- RTTI debug-var ------------------------------------------------------

type rttiSymbol struct {
	addr     int32
	typeID   TypeID
	nameOffs uint32
	// codeStart/codeEnd are only meaningful for locals; globals use the
	// full [0, ^0) range since they're never out of scope by address.
	codeStart uint32
	codeEnd   uint32
	dimCount  int
	vclass    uint8
}

func (s rttiSymbol) Addr() int32             { return s.addr }
func (s rttiSymbol) CodeStart() uint32        { return s.codeStart }
func (s rttiSymbol) CodeEnd() uint32          { return s.codeEnd }
func (s rttiSymbol) Ident() Ident             { return IdentVariable }
func (s rttiSymbol) VClass() uint8            { return s.vclass }
func (s rttiSymbol) DimCount() int            { return s.dimCount }
func (s rttiSymbol) NameOffs() uint32         { return s.nameOffs }
func (s rttiSymbol) TagID() (uint32, bool)    { return 0, false }
func (s rttiSymbol) RttiType() (TypeID, bool) { return s.typeID, true }

// debugVarRow is the {address, typeid, nameoffs} row shape of .dbg.globals.
// Globals have no code range: they're never out of scope by address.
type debugVarRow struct {
	address uint32
	typeID  uint32
	nameOff uint32
}

func parseDebugGlobalsTable(section []byte) ([]debugVarRow, error) {
	t, err := parseRowTable(".dbg.globals", section)
	if err != nil {
		return nil, err
	}
	if t.rowCount > 0 && t.rowSize != 12 {
		return nil, fmt.Errorf("%w .dbg.globals: unexpected row size %d", errs.ErrInvalidSection, t.rowSize)
	}
	rows := make([]debugVarRow, t.count())
	for i := range rows {
		r, err := t.row(i)
		if err != nil {
			return nil, err
		}
		rows[i] = debugVarRow{
			address: binary.LittleEndian.Uint32(r[0:4]),
			typeID:  binary.LittleEndian.Uint32(r[4:8]),
			nameOff: binary.LittleEndian.Uint32(r[8:12]),
		}
	}
	return rows, nil
}

// debugLocalRow is the .dbg.locals row shape: a debugVarRow plus the code
// range the local is valid within, since local scope is address-bound.
type debugLocalRow struct {
	address   uint32
	typeID    uint32
	nameOff   uint32
	codeStart uint32
	codeEnd   uint32
}

func parseDebugLocalsTable(section []byte) ([]debugLocalRow, error) {
	t, err := parseRowTable(".dbg.locals", section)
	if err != nil {
		return nil, err
	}
	if t.rowCount > 0 && t.rowSize != 20 {
		return nil, fmt.Errorf("%w .dbg.locals: unexpected row size %d", errs.ErrInvalidSection, t.rowSize)
	}
	rows := make([]debugLocalRow, t.count())
	for i := range rows {
		r, err := t.row(i)
		if err != nil {
			return nil, err
		}
		rows[i] = debugLocalRow{
			address:   binary.LittleEndian.Uint32(r[0:4]),
			typeID:    binary.LittleEndian.Uint32(r[4:8]),
			nameOff:   binary.LittleEndian.Uint32(r[8:12]),
			codeStart: binary.LittleEndian.Uint32(r[12:16]),
			codeEnd:   binary.LittleEndian.Uint32(r[16:20]),
		}
	}
	return rows, nil
}
