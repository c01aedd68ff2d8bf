package image

import "fmt"

// SymbolIterator returns every symbol in scope, decoded into the unified
// Symbol interface regardless of which of the three encodings the image
// carries.
func (img *Image) SymbolIterator(scope Scope) ([]Symbol, error) {
	switch img.Encoding {
	case EncodingPackedLegacy:
		return img.iteratePackedLegacy(scope)
	case EncodingUnpackedLegacy:
		return img.iterateUnpackedLegacy(scope)
	case EncodingRtti:
		return img.iterateRtti(scope)
	default:
		return nil, nil
	}
}

func (img *Image) iteratePackedLegacy(scope Scope) ([]Symbol, error) {
	var out []Symbol
	pos := 0
	for pos < len(img.legacySymbols) {
		sym, next, err := decodePackedSymbol(img.legacySymbols, pos)
		if err != nil {
			return nil, err
		}
		if next <= pos {
			return nil, fmt.Errorf("packed symbol cursor did not advance at offset %d", pos)
		}
		if symbolInScope(sym, scope) {
			out = append(out, sym)
		}
		pos = next
	}
	return out, nil
}

func (img *Image) iterateUnpackedLegacy(scope Scope) ([]Symbol, error) {
	var out []Symbol
	pos := 0
	for pos < len(img.legacySymbols) {
		sym, next, err := decodeUnpackedSymbol(img.legacySymbols, pos)
		if err != nil {
			return nil, err
		}
		if next <= pos {
			return nil, fmt.Errorf("unpacked symbol cursor did not advance at offset %d", pos)
		}
		if symbolInScope(sym, scope) {
			out = append(out, sym)
		}
		pos = next
	}
	return out, nil
}

func symbolInScope(sym Symbol, scope Scope) bool {
	global := InGlobalScope(sym)
	if scope == ScopeGlobal {
		return global
	}
	return !global
}

// rttiVClassGlobal / rttiVClassLocal are synthetic vclass bytes assigned to
// RTTI-encoded symbols, which carry no vclass byte of their own: any value
// with the low nibble zero reads as global under InGlobalScope.
const (
	rttiVClassGlobal = 0x00
	rttiVClassLocal  = 0x01
)

func (img *Image) iterateRtti(scope Scope) ([]Symbol, error) {
	var out []Symbol
	if scope == ScopeGlobal {
		for _, row := range img.DebugGlobals {
			sym, err := img.rttiSymbolFromGlobal(row)
			if err != nil {
				return nil, err
			}
			out = append(out, sym)
		}
		return out, nil
	}
	for _, row := range img.DebugLocals {
		sym, err := img.rttiSymbolFromLocal(row)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

func (img *Image) rttiSymbolFromGlobal(row debugVarRow) (Symbol, error) {
	dim, err := img.rttiDimCount(TypeID(row.typeID))
	if err != nil {
		return nil, err
	}
	return rttiSymbol{
		addr:      int32(row.address),
		typeID:    TypeID(row.typeID),
		nameOffs:  row.nameOff,
		codeStart: 0,
		codeEnd:   ^uint32(0),
		dimCount:  dim,
		vclass:    rttiVClassGlobal,
	}, nil
}

func (img *Image) rttiSymbolFromLocal(row debugLocalRow) (Symbol, error) {
	dim, err := img.rttiDimCount(TypeID(row.typeID))
	if err != nil {
		return nil, err
	}
	return rttiSymbol{
		addr:      int32(row.address),
		typeID:    TypeID(row.typeID),
		nameOffs:  row.nameOff,
		codeStart: row.codeStart,
		codeEnd:   row.codeEnd,
		dimCount:  dim,
		vclass:    rttiVClassLocal,
	}, nil
}

func (img *Image) rttiDimCount(t TypeID) (int, error) {
	typ, err := Decode(t, img.Rtti.Data)
	if err != nil {
		return 0, err
	}
	rank, _ := typ.ArrayRank()
	return rank, nil
}
