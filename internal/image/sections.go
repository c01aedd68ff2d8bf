package image

import (
	"encoding/binary"
	"fmt"

	"github.com/fansqz/scriptdbg/errs"
)

const sectionRowSize = 12 // {nameoffs, dataoffs, size} uint32 each

// Section describes one named region of the (possibly decompressed) image.
type Section struct {
	Name     string
	NameOffs uint32
	DataOffs uint32
	Size     uint32
}

// Bytes returns the section's payload, bounds-checked against img.
func (s Section) Bytes(img []byte) ([]byte, error) {
	if err := validateSection(img, s); err != nil {
		return nil, err
	}
	return img[s.DataOffs : s.DataOffs+s.Size], nil
}

// validateSection enforces the C1 invariant that every section lies fully
// within the image bytes.
func validateSection(img []byte, s Section) error {
	end := uint64(s.DataOffs) + uint64(s.Size)
	if end > uint64(len(img)) {
		return fmt.Errorf("%w %q: [%d,%d) exceeds image length %d", errs.ErrInvalidSection, s.Name, s.DataOffs, end, len(img))
	}
	return nil
}

// parseSections reads the section table immediately following the header,
// resolves each section's name from the string table, and validates that
// the string table's bytes terminate before the first section's data.
func parseSections(img []byte, h header) ([]Section, error) {
	tableEnd := headerSize + int(h.sectionCount)*sectionRowSize
	if tableEnd > len(img) {
		return nil, fmt.Errorf("%w: section table runs past image (need %d, have %d)", errs.ErrBadHeader, tableEnd, len(img))
	}

	raw := make([]rawSectionEntry, h.sectionCount)
	off := headerSize
	for i := range raw {
		raw[i].nameOffs = binary.LittleEndian.Uint32(img[off : off+4])
		raw[i].dataOffs = binary.LittleEndian.Uint32(img[off+4 : off+8])
		raw[i].size = binary.LittleEndian.Uint32(img[off+8 : off+12])
		off += sectionRowSize
	}

	// Names live in [stringtab, firstDataOffs). Every nameoffs is relative
	// to stringtab and must land strictly before the first section's data.
	firstDataOffs := uint32(len(img))
	for _, r := range raw {
		if r.dataOffs < firstDataOffs {
			firstDataOffs = r.dataOffs
		}
	}
	if len(raw) == 0 {
		firstDataOffs = uint32(len(img))
	}

	var maxNameOffs uint32
	for _, r := range raw {
		abs := uint64(h.stringTab) + uint64(r.nameOffs)
		if abs >= uint64(firstDataOffs) {
			return nil, fmt.Errorf("%w: section nameoffs %d not below dataoffs boundary %d", errs.ErrInvalidSection, r.nameOffs, firstDataOffs)
		}
		if r.nameOffs > maxNameOffs {
			maxNameOffs = r.nameOffs
		}
	}

	if len(raw) > 0 {
		start := uint64(h.stringTab) + uint64(maxNameOffs)
		if start >= uint64(firstDataOffs) || start >= uint64(len(img)) {
			return nil, fmt.Errorf("%w: section name table has no room for a terminator", errs.ErrInvalidSection)
		}
		terminated := false
		for i := start; i < uint64(firstDataOffs); i++ {
			if img[i] == 0 {
				terminated = true
				break
			}
		}
		if !terminated {
			return nil, fmt.Errorf("%w: section name table is not zero-terminated", errs.ErrInvalidSection)
		}
	}

	sections := make([]Section, len(raw))
	for i, r := range raw {
		name, err := readCString(img, uint64(h.stringTab)+uint64(r.nameOffs))
		if err != nil {
			return nil, fmt.Errorf("%w: section %d name: %v", errs.ErrInvalidSection, i, err)
		}
		sections[i] = Section{Name: name, NameOffs: r.nameOffs, DataOffs: r.dataOffs, Size: r.size}
	}
	return sections, nil
}

type rawSectionEntry struct {
	nameOffs uint32
	dataOffs uint32
	size     uint32
}

// readCString reads a zero-terminated string starting at offset off within
// buf, failing if no terminator is found before the end of buf.
func readCString(buf []byte, off uint64) (string, error) {
	if off > uint64(len(buf)) {
		return "", fmt.Errorf("offset %d out of bounds (len %d)", off, len(buf))
	}
	end := off
	for end < uint64(len(buf)) && buf[end] != 0 {
		end++
	}
	if end == uint64(len(buf)) {
		return "", fmt.Errorf("string starting at %d is not zero-terminated", off)
	}
	return string(buf[off:end]), nil
}
