package image

import (
	"encoding/binary"
	"fmt"

	"github.com/fansqz/scriptdbg/errs"
)

// CellSize is the native word of the script VM.
const CellSize = 4

// Code version range this parser understands.
const (
	MinCodeVersion     uint8 = 9
	CurrentCodeVersion uint8 = 13
)

// FeatureMask is the set of recognized bits in a code blob's Features word.
const FeatureMask uint32 = 0x0000000F

const codeHeaderSize = 12

// CodeBlob is the parsed `.code` section.
type CodeBlob struct {
	Bytes       []byte
	CodeVersion uint8
	CellSize    uint8
	Flags       uint16
	Features    uint32
	Length      uint32
}

func parseCode(section []byte) (CodeBlob, error) {
	if len(section) < codeHeaderSize {
		return CodeBlob{}, fmt.Errorf("%w .code: shorter than code header", errs.ErrInvalidSection)
	}
	length := binary.LittleEndian.Uint32(section[0:4])
	cellSize := section[4]
	codeVersion := section[5]
	flags := binary.LittleEndian.Uint16(section[6:8])
	features := binary.LittleEndian.Uint32(section[8:12])

	if codeVersion < MinCodeVersion || codeVersion > CurrentCodeVersion {
		return CodeBlob{}, fmt.Errorf("%w: code_version %d outside [%d,%d]", errs.ErrUnsupportedVersion, codeVersion, MinCodeVersion, CurrentCodeVersion)
	}
	if features &^ FeatureMask != 0 {
		return CodeBlob{}, fmt.Errorf("%w .code: features %#x outside supported mask %#x", errs.ErrInvalidSection, features, FeatureMask)
	}
	end := uint64(codeHeaderSize) + uint64(length)
	if end > uint64(len(section)) {
		return CodeBlob{}, fmt.Errorf("%w .code: length %d runs past section", errs.ErrInvalidSection, length)
	}

	return CodeBlob{
		Bytes:       section[codeHeaderSize:end],
		CodeVersion: codeVersion,
		CellSize:    cellSize,
		Flags:       flags,
		Features:    features,
		Length:      length,
	}, nil
}
