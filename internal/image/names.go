package image

import "fmt"

// NameTable is a bounded byte slice indexable by offset. Every offset stored
// elsewhere in the image (public/pubvar/symbol name offsets, and so on) must
// be strictly less than Size() and must dereference to a zero-terminated
// string.
type NameTable struct {
	bytes []byte
}

// Size returns the number of bytes in the table.
func (n NameTable) Size() int { return len(n.bytes) }

// String dereferences offset into a zero-terminated string.
func (n NameTable) String(offset uint32) (string, error) {
	if uint64(offset) >= uint64(len(n.bytes)) {
		return "", fmt.Errorf("name offset %d out of bounds (table size %d)", offset, len(n.bytes))
	}
	return readCString(n.bytes, uint64(offset))
}

func newNameTable(data []byte) (NameTable, error) {
	if len(data) > 0 && data[len(data)-1] != 0 {
		return NameTable{}, fmt.Errorf("names section is not zero-terminated")
	}
	return NameTable{bytes: data}, nil
}
