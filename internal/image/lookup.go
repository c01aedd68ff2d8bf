package image

import (
	"fmt"
	"sort"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
	godsutils "github.com/emirpasic/gods/utils"

	"github.com/fansqz/scriptdbg/errs"
)

func uint32Comparator(a, b interface{}) int {
	x, y := a.(uint32), b.(uint32)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// fileIndex builds an address-ordered map over .dbg.files so LookupFile can
// use a floor lookup (largest key <= addr) instead of a hand-rolled binary
// search.
func (img *Image) fileIndex() *treemap.Map {
	m := treemap.NewWith(godsutils.Comparator(uint32Comparator))
	for i, f := range img.DebugFiles {
		m.Put(f.Addr, i)
	}
	return m
}

func (img *Image) lineIndex() *treemap.Map {
	m := treemap.NewWith(godsutils.Comparator(uint32Comparator))
	for i, l := range img.DebugLines {
		m.Put(l.Addr, i)
	}
	return m
}

// LookupFile returns the debug-files entry with the largest Addr <= addr, or
// nil if addr precedes every entry.
func (img *Image) LookupFile(addr uint32) *DebugFileEntry {
	if len(img.DebugFiles) == 0 {
		return nil
	}
	_, idx := img.fileIndex().Floor(addr)
	if idx == nil {
		return nil
	}
	e := img.DebugFiles[idx.(int)]
	return &e
}

// LookupLine returns the source line for addr: the largest .dbg.lines entry
// with Addr <= addr, plus one (the CIP precedes the line it stopped on).
func (img *Image) LookupLine(addr uint32) (line uint32, ok bool) {
	if len(img.DebugLines) == 0 {
		return 0, false
	}
	_, idx := img.lineIndex().Floor(addr)
	if idx == nil {
		return 0, false
	}
	return img.DebugLines[idx.(int)].Line + 1, true
}

// GetFunctionAddress finds the first breakable instruction of the named
// function within file, by scanning function-ident symbols and rejecting any
// whose LookupFile doesn't match.
func (img *Image) GetFunctionAddress(fnName string, file string) (uint32, error) {
	symbols, err := img.SymbolIterator(ScopeGlobal)
	if err != nil {
		return 0, err
	}
	wantFile := baseName(file)
	for _, sym := range symbols {
		if sym.Ident() != IdentFunction {
			continue
		}
		name, err := img.Names.String(sym.NameOffs())
		if err != nil {
			continue
		}
		if name != fnName {
			continue
		}
		df := img.LookupFile(uint32(sym.Addr()))
		if df == nil {
			continue
		}
		dfName, err := img.FileName(*df)
		if err != nil || baseName(dfName) != wantFile {
			continue
		}
		// First debug_line entry with addr >= function address.
		for _, l := range img.DebugLines {
			if l.Addr >= uint32(sym.Addr()) {
				return l.Addr, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: function %q not found in %q", errs.ErrNoSuchTable, fnName, file)
}

// GetLineAddress finds, for every .dbg.files entry named file, the first
// .dbg.lines entry within that file's address range whose line number is >=
// the requested line.
func (img *Image) GetLineAddress(line uint32, file string) (uint32, error) {
	wantFile := baseName(file)
	for i, f := range img.DebugFiles {
		name, err := img.FileName(f)
		if err != nil || baseName(name) != wantFile {
			continue
		}
		start := f.Addr
		end := uint32(0xFFFFFFFF)
		if i+1 < len(img.DebugFiles) {
			end = img.DebugFiles[i+1].Addr
		}
		for _, l := range img.DebugLines {
			if l.Addr < start || l.Addr >= end {
				continue
			}
			if l.Line >= line {
				return l.Addr, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: line %d not found in %q", errs.ErrNoSuchTable, line, file)
}

// FindFileByPartialName returns the first debug-files entry whose resolved
// name ends with suffix.
func (img *Image) FindFileByPartialName(suffix string) (*DebugFileEntry, error) {
	suffix = strings.ToLower(suffix)
	for _, f := range img.DebugFiles {
		name, err := img.FileName(f)
		if err != nil {
			continue
		}
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			e := f
			return &e, nil
		}
	}
	return nil, fmt.Errorf("%w: no file matching %q", errs.ErrNoSuchTable, suffix)
}

// FindPublic binary searches the name-sorted .publics table.
func (img *Image) FindPublic(name string) (*PublicEntry, error) {
	return img.findByName(img.Publics, name)
}

// FindPubvar binary searches the name-sorted .pubvars table.
func (img *Image) FindPubvar(name string) (*PublicEntry, error) {
	return img.findByName(img.Pubvars, name)
}

func (img *Image) findByName(table []PublicEntry, name string) (*PublicEntry, error) {
	names := make([]string, len(table))
	for i, e := range table {
		n, err := img.Names.String(e.NameOffs)
		if err != nil {
			return nil, err
		}
		names[i] = n
	}
	i := sort.Search(len(names), func(i int) bool { return names[i] >= name })
	if i < len(names) && names[i] == name {
		e := table[i]
		return &e, nil
	}
	return nil, fmt.Errorf("%w: %q not found", errs.ErrNoSuchTable, name)
}

// GetVariable looks up name as a local first (requiring codestart <=
// scopeaddr <= codeend), falling back to a global lookup by name alone.
func (img *Image) GetVariable(name string, scopeAddr uint32) (Symbol, error) {
	locals, err := img.SymbolIterator(ScopeLocal)
	if err != nil {
		return nil, err
	}
	for _, sym := range locals {
		n, err := img.Names.String(sym.NameOffs())
		if err != nil || n != name {
			continue
		}
		if sym.CodeStart() <= scopeAddr && scopeAddr <= sym.CodeEnd() {
			return sym, nil
		}
	}
	globals, err := img.SymbolIterator(ScopeGlobal)
	if err != nil {
		return nil, err
	}
	for _, sym := range globals {
		n, err := img.Names.String(sym.NameOffs())
		if err != nil || n != name {
			continue
		}
		return sym, nil
	}
	return nil, fmt.Errorf("%w: variable %q not found", errs.ErrNoSuchTable, name)
}
