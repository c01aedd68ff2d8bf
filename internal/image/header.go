// Package image parses the compiled script container ("script image") and
// exposes typed views over its code, data, publics, natives, pubvars, tags,
// debug, and RTTI tables. No breakpoint can be resolved, no stack frame
// named, and no variable value decoded without going through this package
// first.
package image

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fansqz/scriptdbg/errs"
)

// Magic identifies a valid script image. It is checked verbatim against the
// first four bytes of the container.
const Magic uint32 = 0x53504646 // "SPFF"

// Compression kinds recorded in the header.
const (
	CompressNone uint8 = 0
	CompressGz   uint8 = 1
)

// Recognized container versions, encoded as major*100+minor*10.
const (
	Version10 uint16 = 100
	Version11 uint16 = 110
	Version17 uint16 = 170
)

var recognizedVersions = map[uint16]bool{
	Version10: true,
	Version11: true,
	Version17: true,
}

// headerSize is the number of bytes occupied by the fixed header, before the
// section table begins.
const headerSize = 25

// header is the raw, fixed-size prefix of every image.
type header struct {
	magic        uint32
	version      uint16
	compression  uint8
	diskSize     uint32
	imageSize    uint32
	sectionCount uint16
	stringTab    uint32
	dataOffs     uint32
}

func parseHeader(data []byte) (header, error) {
	var h header
	if len(data) < headerSize {
		return h, fmt.Errorf("%w: image shorter than header (%d bytes)", errs.ErrBadHeader, len(data))
	}
	h.magic = binary.LittleEndian.Uint32(data[0:4])
	if h.magic != Magic {
		return h, fmt.Errorf("%w: bad magic %#x", errs.ErrBadHeader, h.magic)
	}
	h.version = binary.LittleEndian.Uint16(data[4:6])
	if !recognizedVersions[h.version] {
		return h, fmt.Errorf("%w: version %d", errs.ErrUnsupportedVersion, h.version)
	}
	h.compression = data[6]
	if h.compression != CompressNone && h.compression != CompressGz {
		return h, fmt.Errorf("%w: unknown compression kind %d", errs.ErrBadCompression, h.compression)
	}
	h.diskSize = binary.LittleEndian.Uint32(data[7:11])
	h.imageSize = binary.LittleEndian.Uint32(data[11:15])
	h.sectionCount = binary.LittleEndian.Uint16(data[15:17])
	h.stringTab = binary.LittleEndian.Uint32(data[17:21])
	h.dataOffs = binary.LittleEndian.Uint32(data[21:25])
	return h, nil
}

// materialize returns the fully-inflated image bytes: for CompressNone this
// is the input unchanged (after a length sanity check); for CompressGz the
// prefix [0, dataoffs) is copied verbatim and [dataoffs, disksize) is
// inflated into [dataoffs, imagesize).
func (h header) materialize(raw []byte) ([]byte, error) {
	if h.compression == CompressNone {
		if uint32(len(raw)) < h.diskSize {
			return nil, fmt.Errorf("%w: disksize %d exceeds input length %d", errs.ErrBadHeader, h.diskSize, len(raw))
		}
		return raw, nil
	}

	if h.dataOffs < headerSize || uint64(h.dataOffs) > uint64(len(raw)) {
		return nil, fmt.Errorf("%w: dataoffs %d out of range", errs.ErrBadCompression, h.dataOffs)
	}
	if uint64(h.diskSize) > uint64(len(raw)) {
		return nil, fmt.Errorf("%w: disksize %d exceeds input length %d", errs.ErrBadCompression, h.diskSize, len(raw))
	}
	if h.imageSize < h.dataOffs {
		return nil, fmt.Errorf("%w: imagesize %d smaller than dataoffs %d", errs.ErrBadCompression, h.imageSize, h.dataOffs)
	}
	if h.diskSize < h.dataOffs {
		return nil, fmt.Errorf("%w: disksize %d smaller than dataoffs %d", errs.ErrBadCompression, h.diskSize, h.dataOffs)
	}

	out := make([]byte, h.imageSize)
	copy(out[:h.dataOffs], raw[:h.dataOffs])

	// The compressed region spans [dataoffs, disksize): disksize is the
	// total on-disk length of the container, not the compressed payload's
	// own size.
	compressed := raw[h.dataOffs:h.diskSize]
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrBadCompression, err)
	}
	defer zr.Close()

	dst := out[h.dataOffs:]
	n, err := io.ReadFull(zr, dst)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: inflate failed: %v", errs.ErrBadCompression, err)
	}
	if n != len(dst) {
		return nil, fmt.Errorf("%w: inflate produced %d bytes, want %d", errs.ErrBadCompression, n, len(dst))
	}
	// Confirm the stream doesn't have leftover bytes beyond imagesize.
	var extra [1]byte
	if _, err := io.ReadFull(zr, extra[:]); err != io.EOF && err != io.ErrUnexpectedEOF {
		if err == nil {
			return nil, fmt.Errorf("%w: inflate produced more than imagesize bytes", errs.ErrBadCompression)
		}
	}
	return out, nil
}
