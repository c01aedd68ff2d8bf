package image

import (
	"encoding/binary"
	"fmt"

	"github.com/fansqz/scriptdbg/errs"
)

// tableHeaderSize is the fixed {header_size, row_size, row_count} prefix
// shared by every RTTI and row-based debug table.
const tableHeaderSize = 12

// rowTable is the common shape for every section laid out as a small header
// followed by row_count fixed-size rows: .publics, .pubvars, .natives,
// .tags, .dbg.files, .dbg.lines, .dbg.globals, .dbg.locals, .dbg.natives,
// and every rtti.* table except rtti.data.
type rowTable struct {
	headerSize uint32
	rowSize    uint32
	rowCount   uint32
	rows       []byte // rowCount*rowSize bytes, starting at headerSize
}

// parseRowTable validates the table-equation invariant
// header_size + row_size*row_count == len(section) (multiply-safe) and
// returns a view over the rows.
func parseRowTable(name string, section []byte) (rowTable, error) {
	if len(section) < tableHeaderSize {
		return rowTable{}, fmt.Errorf("%w %q: shorter than table header", errs.ErrInvalidRtti, name)
	}
	hs := binary.LittleEndian.Uint32(section[0:4])
	rs := binary.LittleEndian.Uint32(section[4:8])
	rc := binary.LittleEndian.Uint32(section[8:12])

	product := uint64(rs) * uint64(rc)
	if product >= (1 << 32) {
		return rowTable{}, fmt.Errorf("%w %q: row_size*row_count overflows 32 bits", errs.ErrInvalidRtti, name)
	}
	total := uint64(hs) + product
	if total != uint64(len(section)) {
		return rowTable{}, fmt.Errorf("%w %q: header_size(%d)+row_size(%d)*row_count(%d) != section size %d",
			errs.ErrInvalidRtti, name, hs, rs, rc, len(section))
	}
	if uint64(hs) > uint64(len(section)) {
		return rowTable{}, fmt.Errorf("%w %q: header_size %d exceeds section size", errs.ErrInvalidRtti, name, hs)
	}

	return rowTable{
		headerSize: hs,
		rowSize:    rs,
		rowCount:   rc,
		rows:       section[hs:],
	}, nil
}

// row returns the ith row's bytes, bounds checked.
func (t rowTable) row(i int) ([]byte, error) {
	if i < 0 || uint32(i) >= t.rowCount {
		return nil, fmt.Errorf("row index %d out of range [0,%d)", i, t.rowCount)
	}
	start := uint32(i) * t.rowSize
	return t.rows[start : start+t.rowSize], nil
}

func (t rowTable) count() int { return int(t.rowCount) }
