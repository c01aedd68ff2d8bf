package image

import (
	"encoding/binary"
	"fmt"

	"github.com/fansqz/scriptdbg/errs"
)

// RttiMethod is one row of rtti.methods.
type RttiMethod struct {
	NameOffs  uint32
	PCode     uint32
	Signature TypeID
}

// RttiNative is one row of rtti.natives.
type RttiNative struct {
	NameOffs  uint32
	Signature TypeID
}

// RttiField is one row of rtti.fields (classdef struct members).
type RttiField struct {
	NameOffs uint32
	TypeID   TypeID
	Flags    uint16
}

// RttiClassdef is one row of rtti.classdefs. FirstField indexes into
// rtti.fields; the field run ends at the next classdef's FirstField (or the
// end of rtti.fields for the last classdef).
type RttiClassdef struct {
	NameOffs   uint32
	FirstField uint32
	Size       uint32
	Flags      uint16
}

// RttiEnum is one row of rtti.enums.
type RttiEnum struct {
	NameOffs uint32
	Size     uint32
}

// RttiEnumStruct is one row of rtti.enumstructs. FirstField indexes into
// rtti.enumstruct_fields, symmetric with RttiClassdef.
type RttiEnumStruct struct {
	NameOffs   uint32
	FirstField uint32
	Size       uint32
}

// RttiEnumStructField is one row of rtti.enumstruct_fields.
type RttiEnumStructField struct {
	NameOffs uint32
	TypeID   TypeID
	Offset   uint32
}

// RttiTables bundles every RTTI-table view plus the raw rtti.data byte
// region the complex type-ids are decoded from.
type RttiTables struct {
	Data            []byte
	Methods         []RttiMethod
	Natives         []RttiNative
	Fields          []RttiField
	Classdefs       []RttiClassdef
	Enums           []RttiEnum
	EnumStructs     []RttiEnumStruct
	EnumStructFields []RttiEnumStructField
}

func parseRttiTables(sections map[string]Section, img []byte) (RttiTables, error) {
	var out RttiTables

	if s, ok := sections["rtti.data"]; ok {
		b, err := s.Bytes(img)
		if err != nil {
			return out, err
		}
		out.Data = b
	}

	if err := parseTableIfPresent(sections, img, "rtti.methods", func(row []byte) error {
		out.Methods = append(out.Methods, RttiMethod{
			NameOffs:  binary.LittleEndian.Uint32(row[0:4]),
			PCode:     binary.LittleEndian.Uint32(row[4:8]),
			Signature: TypeID(binary.LittleEndian.Uint32(row[8:12])),
		})
		return nil
	}, 12); err != nil {
		return out, err
	}

	if err := parseTableIfPresent(sections, img, "rtti.natives", func(row []byte) error {
		out.Natives = append(out.Natives, RttiNative{
			NameOffs:  binary.LittleEndian.Uint32(row[0:4]),
			Signature: TypeID(binary.LittleEndian.Uint32(row[4:8])),
		})
		return nil
	}, 8); err != nil {
		return out, err
	}

	if err := parseTableIfPresent(sections, img, "rtti.fields", func(row []byte) error {
		out.Fields = append(out.Fields, RttiField{
			NameOffs: binary.LittleEndian.Uint32(row[0:4]),
			TypeID:   TypeID(binary.LittleEndian.Uint32(row[4:8])),
			Flags:    binary.LittleEndian.Uint16(row[8:10]),
		})
		return nil
	}, 10); err != nil {
		return out, err
	}

	if err := parseTableIfPresent(sections, img, "rtti.classdefs", func(row []byte) error {
		out.Classdefs = append(out.Classdefs, RttiClassdef{
			NameOffs:   binary.LittleEndian.Uint32(row[0:4]),
			FirstField: binary.LittleEndian.Uint32(row[4:8]),
			Size:       binary.LittleEndian.Uint32(row[8:12]),
			Flags:      binary.LittleEndian.Uint16(row[12:14]),
		})
		return nil
	}, 14); err != nil {
		return out, err
	}

	if err := parseTableIfPresent(sections, img, "rtti.enums", func(row []byte) error {
		out.Enums = append(out.Enums, RttiEnum{
			NameOffs: binary.LittleEndian.Uint32(row[0:4]),
			Size:     binary.LittleEndian.Uint32(row[4:8]),
		})
		return nil
	}, 8); err != nil {
		return out, err
	}

	if err := parseTableIfPresent(sections, img, "rtti.enumstructs", func(row []byte) error {
		out.EnumStructs = append(out.EnumStructs, RttiEnumStruct{
			NameOffs:   binary.LittleEndian.Uint32(row[0:4]),
			FirstField: binary.LittleEndian.Uint32(row[4:8]),
			Size:       binary.LittleEndian.Uint32(row[8:12]),
		})
		return nil
	}, 12); err != nil {
		return out, err
	}

	if err := parseTableIfPresent(sections, img, "rtti.enumstruct_fields", func(row []byte) error {
		out.EnumStructFields = append(out.EnumStructFields, RttiEnumStructField{
			NameOffs: binary.LittleEndian.Uint32(row[0:4]),
			TypeID:   TypeID(binary.LittleEndian.Uint32(row[4:8])),
			Offset:   binary.LittleEndian.Uint32(row[8:12]),
		})
		return nil
	}, 12); err != nil {
		return out, err
	}

	return out, nil
}

func parseTableIfPresent(sections map[string]Section, img []byte, name string, row func([]byte) error, wantRowSize uint32) error {
	s, ok := sections[name]
	if !ok {
		return nil
	}
	data, err := s.Bytes(img)
	if err != nil {
		return err
	}
	t, err := parseRowTable(name, data)
	if err != nil {
		return err
	}
	if t.rowCount > 0 && t.rowSize != wantRowSize {
		return fmt.Errorf("%w %q: unexpected row size %d (want %d)", errs.ErrInvalidRtti, name, t.rowSize, wantRowSize)
	}
	for i := 0; i < t.count(); i++ {
		r, err := t.row(i)
		if err != nil {
			return err
		}
		if err := row(r); err != nil {
			return err
		}
	}
	return nil
}

// GetTypeFields returns the contiguous slice of rtti.fields belonging to the
// classdef at index classdefIndex.
func (r RttiTables) GetTypeFields(classdefIndex uint32) ([]RttiField, error) {
	if int(classdefIndex) >= len(r.Classdefs) {
		return nil, fmt.Errorf("%w: classdef index %d out of range", errs.ErrInvalidRtti, classdefIndex)
	}
	start := r.Classdefs[classdefIndex].FirstField
	var end uint32
	if int(classdefIndex)+1 < len(r.Classdefs) {
		end = r.Classdefs[classdefIndex+1].FirstField
	} else {
		end = uint32(len(r.Fields))
	}
	if start > end || int(end) > len(r.Fields) {
		return nil, fmt.Errorf("%w: classdef %d field range [%d,%d) invalid", errs.ErrInvalidRtti, classdefIndex, start, end)
	}
	return r.Fields[start:end], nil
}

// GetEnumFields is the enum_struct analogue of GetTypeFields.
func (r RttiTables) GetEnumFields(enumStructIndex uint32) ([]RttiEnumStructField, error) {
	if int(enumStructIndex) >= len(r.EnumStructs) {
		return nil, fmt.Errorf("%w: enum_struct index %d out of range", errs.ErrInvalidRtti, enumStructIndex)
	}
	start := r.EnumStructs[enumStructIndex].FirstField
	var end uint32
	if int(enumStructIndex)+1 < len(r.EnumStructs) {
		end = r.EnumStructs[enumStructIndex+1].FirstField
	} else {
		end = uint32(len(r.EnumStructFields))
	}
	if start > end || int(end) > len(r.EnumStructFields) {
		return nil, fmt.Errorf("%w: enum_struct %d field range [%d,%d) invalid", errs.ErrInvalidRtti, enumStructIndex, start, end)
	}
	return r.EnumStructFields[start:end], nil
}

// ClassdefName resolves a classdef's name through the image's name table.
func (r RttiTables) ClassdefName(idx uint32, names NameTable) (string, error) {
	if int(idx) >= len(r.Classdefs) {
		return "", fmt.Errorf("%w: classdef index %d out of range", errs.ErrInvalidRtti, idx)
	}
	return names.String(r.Classdefs[idx].NameOffs)
}

// EnumStructName resolves an enum_struct's name through the image's name table.
func (r RttiTables) EnumStructName(idx uint32, names NameTable) (string, error) {
	if int(idx) >= len(r.EnumStructs) {
		return "", fmt.Errorf("%w: enum_struct index %d out of range", errs.ErrInvalidRtti, idx)
	}
	return names.String(r.EnumStructs[idx].NameOffs)
}
