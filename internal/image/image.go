package image

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/fansqz/scriptdbg/errs"
)

// PublicEntry is one row of .publics / .pubvars (same shape, different section).
type PublicEntry struct {
	Addr     uint32
	NameOffs uint32
}

// NativeEntry is one row of .natives.
type NativeEntry struct {
	NameOffs uint32
}

// TagEntry is one row of .tags.
type TagEntry struct {
	TagID    uint32
	NameOffs uint32
}

// DebugFileEntry is one row of .dbg.files, sorted by Addr ascending.
type DebugFileEntry struct {
	Addr     uint32
	NameOffs uint32
}

// DebugLineEntry is one row of .dbg.lines, sorted by Addr ascending.
type DebugLineEntry struct {
	Addr uint32
	Line uint32
}

// Image is a validated, possibly-decompressed script container together
// with every table the debugger needs: code, data, publics, natives,
// pubvars, tags, debug files/lines, legacy debug symbols, and RTTI.
type Image struct {
	raw      []byte
	Version  uint16
	Sections map[string]Section

	Code  CodeBlob
	Data  DataBlob
	Names NameTable

	Publics []PublicEntry
	Pubvars []PublicEntry
	Natives []NativeEntry
	Tags    []TagEntry

	DebugFiles []DebugFileEntry
	DebugLines []DebugLineEntry

	Rtti         RttiTables
	DebugGlobals []debugVarRow
	DebugLocals  []debugLocalRow

	Encoding      SymbolEncoding
	legacySymbols []byte
}

// Open validates header, section table, and every present optional table,
// returning a ready-to-query Image.
func Open(raw []byte) (*Image, error) {
	h, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	full, err := h.materialize(raw)
	if err != nil {
		return nil, err
	}
	sections, err := parseSections(full, h)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Section, len(sections))
	for _, s := range sections {
		byName[s.Name] = s
	}

	img := &Image{raw: full, Version: h.version, Sections: byName}

	namesSection, ok := byName[".names"]
	if !ok {
		return nil, fmt.Errorf("%w: missing mandatory section .names", errs.ErrInvalidSection)
	}
	namesBytes, err := namesSection.Bytes(full)
	if err != nil {
		return nil, err
	}
	img.Names, err = newNameTable(namesBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidSection, err)
	}

	codeSection, ok := byName[".code"]
	if !ok {
		return nil, fmt.Errorf("%w: missing mandatory section .code", errs.ErrInvalidSection)
	}
	codeBytes, err := codeSection.Bytes(full)
	if err != nil {
		return nil, err
	}
	if img.Code, err = parseCode(codeBytes); err != nil {
		return nil, err
	}

	dataSection, ok := byName[".data"]
	if !ok {
		return nil, fmt.Errorf("%w: missing mandatory section .data", errs.ErrInvalidSection)
	}
	dataBytes, err := dataSection.Bytes(full)
	if err != nil {
		return nil, err
	}
	if img.Data, err = parseData(dataBytes); err != nil {
		return nil, err
	}

	if err := img.parsePublicsLike(byName, full, ".publics", &img.Publics); err != nil {
		return nil, err
	}
	if err := img.parsePublicsLike(byName, full, ".pubvars", &img.Pubvars); err != nil {
		return nil, err
	}
	if err := img.parseNatives(byName, full); err != nil {
		return nil, err
	}
	if err := img.parseTags(byName, full); err != nil {
		return nil, err
	}
	if err := img.parseDebugFiles(byName, full); err != nil {
		return nil, err
	}
	if err := img.parseDebugLines(byName, full); err != nil {
		return nil, err
	}

	if img.Rtti, err = parseRttiTables(byName, full); err != nil {
		return nil, err
	}
	if s, ok := byName[".dbg.globals"]; ok {
		b, err := s.Bytes(full)
		if err != nil {
			return nil, err
		}
		if img.DebugGlobals, err = parseDebugGlobalsTable(b); err != nil {
			return nil, err
		}
	}
	if s, ok := byName[".dbg.locals"]; ok {
		b, err := s.Bytes(full)
		if err != nil {
			return nil, err
		}
		if img.DebugLocals, err = parseDebugLocalsTable(b); err != nil {
			return nil, err
		}
	}

	_, hasRttiDebugVars := byName[".dbg.globals"]
	_, hasDbgNatives := byName[".dbg.natives"]
	_, hasDbgSymbols := byName[".dbg.symbols"]

	switch {
	case hasRttiDebugVars:
		img.Encoding = EncodingRtti
	case hasDbgNatives:
		img.Encoding = EncodingUnpackedLegacy
	case hasDbgSymbols:
		img.Encoding = EncodingPackedLegacy
	}

	if hasDbgSymbols {
		s := byName[".dbg.symbols"]
		b, err := s.Bytes(full)
		if err != nil {
			return nil, err
		}
		img.legacySymbols = b
	}

	return img, nil
}

func (img *Image) parsePublicsLike(byName map[string]Section, full []byte, name string, out *[]PublicEntry) error {
	s, ok := byName[name]
	if !ok {
		return nil
	}
	b, err := s.Bytes(full)
	if err != nil {
		return err
	}
	t, err := parseRowTable(name, b)
	if err != nil {
		return err
	}
	if t.rowCount > 0 && t.rowSize != 8 {
		return fmt.Errorf("%w %q: unexpected row size %d", errs.ErrInvalidSection, name, t.rowSize)
	}
	entries := make([]PublicEntry, t.count())
	for i := range entries {
		r, err := t.row(i)
		if err != nil {
			return err
		}
		entries[i] = PublicEntry{
			Addr:     binary.LittleEndian.Uint32(r[0:4]),
			NameOffs: binary.LittleEndian.Uint32(r[4:8]),
		}
	}
	*out = entries
	return nil
}

func (img *Image) parseNatives(byName map[string]Section, full []byte) error {
	s, ok := byName[".natives"]
	if !ok {
		return nil
	}
	b, err := s.Bytes(full)
	if err != nil {
		return err
	}
	t, err := parseRowTable(".natives", b)
	if err != nil {
		return err
	}
	if t.rowCount > 0 && t.rowSize != 4 {
		return fmt.Errorf("%w .natives: unexpected row size %d", errs.ErrInvalidSection, t.rowSize)
	}
	img.Natives = make([]NativeEntry, t.count())
	for i := range img.Natives {
		r, err := t.row(i)
		if err != nil {
			return err
		}
		img.Natives[i] = NativeEntry{NameOffs: binary.LittleEndian.Uint32(r[0:4])}
	}
	return nil
}

func (img *Image) parseTags(byName map[string]Section, full []byte) error {
	s, ok := byName[".tags"]
	if !ok {
		return nil
	}
	b, err := s.Bytes(full)
	if err != nil {
		return err
	}
	t, err := parseRowTable(".tags", b)
	if err != nil {
		return err
	}
	if t.rowCount > 0 && t.rowSize != 8 {
		return fmt.Errorf("%w .tags: unexpected row size %d", errs.ErrInvalidSection, t.rowSize)
	}
	img.Tags = make([]TagEntry, t.count())
	for i := range img.Tags {
		r, err := t.row(i)
		if err != nil {
			return err
		}
		img.Tags[i] = TagEntry{
			TagID:    binary.LittleEndian.Uint32(r[0:4]),
			NameOffs: binary.LittleEndian.Uint32(r[4:8]),
		}
	}
	return nil
}

func (img *Image) parseDebugFiles(byName map[string]Section, full []byte) error {
	s, ok := byName[".dbg.files"]
	if !ok {
		return nil
	}
	b, err := s.Bytes(full)
	if err != nil {
		return err
	}
	t, err := parseRowTable(".dbg.files", b)
	if err != nil {
		return err
	}
	if t.rowCount > 0 && t.rowSize != 8 {
		return fmt.Errorf("%w .dbg.files: unexpected row size %d", errs.ErrInvalidSection, t.rowSize)
	}
	img.DebugFiles = make([]DebugFileEntry, t.count())
	for i := range img.DebugFiles {
		r, err := t.row(i)
		if err != nil {
			return err
		}
		img.DebugFiles[i] = DebugFileEntry{
			Addr:     binary.LittleEndian.Uint32(r[0:4]),
			NameOffs: binary.LittleEndian.Uint32(r[4:8]),
		}
	}
	if !sort.SliceIsSorted(img.DebugFiles, func(i, j int) bool { return img.DebugFiles[i].Addr < img.DebugFiles[j].Addr }) {
		return fmt.Errorf("%w: .dbg.files is not sorted by address", errs.ErrInvalidSection)
	}
	return nil
}

func (img *Image) parseDebugLines(byName map[string]Section, full []byte) error {
	s, ok := byName[".dbg.lines"]
	if !ok {
		return nil
	}
	b, err := s.Bytes(full)
	if err != nil {
		return err
	}
	t, err := parseRowTable(".dbg.lines", b)
	if err != nil {
		return err
	}
	if t.rowCount > 0 && t.rowSize != 8 {
		return fmt.Errorf("%w .dbg.lines: unexpected row size %d", errs.ErrInvalidSection, t.rowSize)
	}
	img.DebugLines = make([]DebugLineEntry, t.count())
	for i := range img.DebugLines {
		r, err := t.row(i)
		if err != nil {
			return err
		}
		img.DebugLines[i] = DebugLineEntry{
			Addr: binary.LittleEndian.Uint32(r[0:4]),
			Line: binary.LittleEndian.Uint32(r[4:8]),
		}
	}
	if !sort.SliceIsSorted(img.DebugLines, func(i, j int) bool { return img.DebugLines[i].Addr < img.DebugLines[j].Addr }) {
		return fmt.Errorf("%w: .dbg.lines is not sorted by address", errs.ErrInvalidSection)
	}
	return nil
}

// NumPublics reports how many exported functions the image has.
func (img *Image) NumPublics() int { return len(img.Publics) }

// FileName resolves a debug-files name offset through the name table.
func (img *Image) FileName(e DebugFileEntry) (string, error) { return img.Names.String(e.NameOffs) }

// baseName lowercases and strips any directory component, matching the
// basename-lowercase comparison used throughout breakpoint/session matching.
func baseName(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return strings.ToLower(path)
}
