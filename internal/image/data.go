package image

import (
	"encoding/binary"
	"fmt"

	"github.com/fansqz/scriptdbg/errs"
)

const dataHeaderSize = 8

// DataBlob is the parsed `.data` section: the initial data segment plus the
// memory budget the host must reserve for globals and the runtime stack.
type DataBlob struct {
	Bytes   []byte
	Length  uint32
	MemSize uint32
}

func parseData(section []byte) (DataBlob, error) {
	if len(section) < dataHeaderSize {
		return DataBlob{}, fmt.Errorf("%w .data: shorter than data header", errs.ErrInvalidSection)
	}
	length := binary.LittleEndian.Uint32(section[0:4])
	memSize := binary.LittleEndian.Uint32(section[4:8])

	if memSize < length {
		return DataBlob{}, fmt.Errorf("%w .data: memsize %d smaller than length %d", errs.ErrInvalidSection, memSize, length)
	}
	end := uint64(dataHeaderSize) + uint64(length)
	if end > uint64(len(section)) {
		return DataBlob{}, fmt.Errorf("%w .data: length %d runs past section", errs.ErrInvalidSection, length)
	}

	return DataBlob{
		Bytes:   section[dataHeaderSize:end],
		Length:  length,
		MemSize: memSize,
	}, nil
}
