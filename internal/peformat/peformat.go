// Package peformat implements the PE probe: parsing a DOS/NT header,
// section table, resource directory, and security directory out of a
// Windows PE image, with every dereference checked against the stream's
// actual length first.
package peformat

import (
	"encoding/binary"
	"unicode/utf16"

	"orc-import/pkg/orcerrors"
)

const (
	dosHeaderSize  = 0x40
	peReadWindow   = 0x400
	maxSections    = 0x100 // defensive cap per spec

	imageDosSignature = 0x5A4D // "MZ"
	peSignature       = 0x00004550
)

// Accepted alternate DOS magics besides the canonical "MZ"; some
// bootstrapping/stub-less images use these.
var acceptedDosMagics = []uint16{0x5A4D, 0x4D5A, 0x0000}

// DosHeader is the subset of IMAGE_DOS_HEADER this probe captures.
type DosHeader struct {
	Magic   uint16
	ELfanew uint32
}

// FileHeader mirrors IMAGE_FILE_HEADER.
type FileHeader struct {
	Machine              uint16
	NumberOfSections      uint16
	TimeDateStamp         uint32
	PointerToSymbolTable  uint32
	NumberOfSymbols       uint32
	SizeOfOptionalHeader  uint16
	Characteristics       uint16
}

// DataDirectory mirrors IMAGE_DATA_DIRECTORY.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

const (
	DirExport int = iota
	DirImport
	DirResource
	DirException
	DirSecurity
	DirBaseReloc
	DirDebug
	DirArchitecture
	DirGlobalPtr
	DirTLS
	DirLoadConfig
	DirBoundImport
	DirIAT
	DirDelayImport
	DirCOMDescriptor
	DirReserved
	numDataDirectories
)

// OptionalHeader carries the fields this probe needs from either the PE32
// or PE32+ optional header; Is64 disambiguates which layout was read.
type OptionalHeader struct {
	Is64            bool
	Magic           uint16
	SizeOfImage     uint32
	DataDirectories [numDataDirectories]DataDirectory
}

// SectionHeader mirrors IMAGE_SECTION_HEADER.
type SectionHeader struct {
	Name             string
	VirtualSize      uint32
	VirtualAddress   uint32
	SizeOfRawData    uint32
	PointerToRawData uint32
}

// PEHeader bundles FileHeader, OptionalHeader and the section table.
type PEHeader struct {
	FileHeader     FileHeader
	OptionalHeader OptionalHeader
	Sections       []SectionHeader
}

// Image is the parsed result of probing a PE image.
type Image struct {
	DosHeader DosHeader
	PEHeader  *PEHeader // nil if data is not a PE (DOS-only stub, or unrecognized)
}

// Probe parses data: a DOS header, and if the DOS signature is
// recognized, the NT headers and section table. Every dereference is
// checked against len(data) first; Probe never panics on truncated or
// malformed input, returning an error instead.
func Probe(data []byte) (*Image, error) {
	if len(data) < dosHeaderSize {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "Probe", "stream too short for a DOS header")
	}

	window := data
	if len(window) > peReadWindow {
		window = window[:peReadWindow]
	}

	magic := binary.LittleEndian.Uint16(window[0:2])
	if !isAcceptedDosMagic(magic) {
		return nil, orcerrors.New(orcerrors.CodeUnrecognizedFormat, "peformat", "Probe", "unrecognized DOS signature")
	}

	elfanew := binary.LittleEndian.Uint32(window[0x3c:0x40])
	img := &Image{DosHeader: DosHeader{Magic: magic, ELfanew: elfanew}}

	if magic != imageDosSignature {
		return img, nil
	}

	pe, err := parseNTHeaders(data, int64(elfanew))
	if err != nil {
		return img, err
	}
	img.PEHeader = pe
	return img, nil
}

func isAcceptedDosMagic(m uint16) bool {
	for _, a := range acceptedDosMagics {
		if a == m {
			return true
		}
	}
	return false
}

func parseNTHeaders(data []byte, elfanew int64) (*PEHeader, error) {
	if elfanew < 0 || elfanew+4+20 > int64(len(data)) {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseNTHeaders", "e_lfanew out of range")
	}
	off := elfanew

	sig := binary.LittleEndian.Uint32(data[off : off+4])
	if sig != peSignature {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseNTHeaders", "invalid PE signature")
	}
	off += 4

	fh := FileHeader{
		Machine:             binary.LittleEndian.Uint16(data[off : off+2]),
		NumberOfSections:     binary.LittleEndian.Uint16(data[off+2 : off+4]),
		TimeDateStamp:        binary.LittleEndian.Uint32(data[off+4 : off+8]),
		PointerToSymbolTable: binary.LittleEndian.Uint32(data[off+8 : off+12]),
		NumberOfSymbols:      binary.LittleEndian.Uint32(data[off+12 : off+16]),
		SizeOfOptionalHeader: binary.LittleEndian.Uint16(data[off+16 : off+18]),
		Characteristics:      binary.LittleEndian.Uint16(data[off+18 : off+20]),
	}
	if fh.NumberOfSections >= maxSections {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseNTHeaders", "NumberOfSections exceeds defensive cap")
	}
	off += 20

	optStart := off
	optEnd := optStart + int64(fh.SizeOfOptionalHeader)
	if optEnd > int64(len(data)) {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseNTHeaders", "optional header exceeds stream length")
	}
	oh, err := parseOptionalHeader(data[optStart:optEnd])
	if err != nil {
		return nil, err
	}

	sectionStart := optEnd
	sectionTableEnd := int64(4) + 20 + int64(fh.SizeOfOptionalHeader) + int64(fh.NumberOfSections)*40
	end := elfanew + sectionTableEnd
	if end > int64(len(data)) {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseNTHeaders", "section table exceeds stream length")
	}

	sections := make([]SectionHeader, 0, fh.NumberOfSections)
	p := sectionStart
	for i := uint16(0); i < fh.NumberOfSections; i++ {
		name := trimZero(data[p : p+8])
		sections = append(sections, SectionHeader{
			Name:             name,
			VirtualSize:      binary.LittleEndian.Uint32(data[p+8 : p+12]),
			VirtualAddress:   binary.LittleEndian.Uint32(data[p+12 : p+16]),
			SizeOfRawData:    binary.LittleEndian.Uint32(data[p+16 : p+20]),
			PointerToRawData: binary.LittleEndian.Uint32(data[p+20 : p+24]),
		})
		p += 40
	}

	return &PEHeader{FileHeader: fh, OptionalHeader: oh, Sections: sections}, nil
}

func parseOptionalHeader(b []byte) (OptionalHeader, error) {
	var oh OptionalHeader
	if len(b) < 2 {
		return oh, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseOptionalHeader", "optional header too short")
	}
	oh.Magic = binary.LittleEndian.Uint16(b[0:2])
	oh.Is64 = oh.Magic == 0x20b // PE32+

	var sizeOfImageOff, ddOff int
	if oh.Is64 {
		sizeOfImageOff = 56
		ddOff = 112
	} else {
		sizeOfImageOff = 56
		ddOff = 96
	}
	if sizeOfImageOff+4 <= len(b) {
		oh.SizeOfImage = binary.LittleEndian.Uint32(b[sizeOfImageOff : sizeOfImageOff+4])
	}

	for i := 0; i < numDataDirectories; i++ {
		start := ddOff + i*8
		if start+8 > len(b) {
			break
		}
		oh.DataDirectories[i] = DataDirectory{
			VirtualAddress: binary.LittleEndian.Uint32(b[start : start+4]),
			Size:           binary.LittleEndian.Uint32(b[start+4 : start+8]),
		}
	}
	return oh, nil
}

func trimZero(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// RVAToOffset resolves a relative virtual address to a file offset via the
// section table, with range checks. length is the number of bytes the
// caller intends to read starting at rva; the whole range [rva, rva+length)
// must fit within one section's virtual extent (VirtualAddress+VirtualSize),
// not merely start inside it. Returns -1 if no section satisfies that.
func (h *PEHeader) RVAToOffset(rva uint32, length uint32) int64 {
	for _, s := range h.Sections {
		start := s.VirtualAddress
		end := s.VirtualAddress + s.VirtualSize
		if rva < start || rva >= end {
			continue
		}
		if uint64(rva)+uint64(length) > uint64(end) {
			continue
		}
		delta := rva - s.VirtualAddress
		return int64(s.PointerToRawData) + int64(delta)
	}
	return -1
}

// SecurityDirectory returns the raw bytes of the IMAGE_DIRECTORY_ENTRY_SECURITY
// region. Unlike every other data directory, this one is a raw file offset,
// not an RVA. Bounded by the stream size.
func (img *Image) SecurityDirectory(data []byte) ([]byte, error) {
	if img.PEHeader == nil {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "SecurityDirectory", "not a PE image")
	}
	dd := img.PEHeader.OptionalHeader.DataDirectories[DirSecurity]
	if dd.Size == 0 {
		return nil, nil
	}
	start := int64(dd.VirtualAddress)
	end := start + int64(dd.Size)
	if start < 0 || end > int64(len(data)) {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "SecurityDirectory", "security directory exceeds stream bounds")
	}
	return data[start:end], nil
}

// utf16LEString decodes a little-endian UTF-16 string of the given rune
// count starting at offset off; used by the version-resource probe.
func utf16LEString(data []byte, off, count int) (string, error) {
	if off < 0 || off+count*2 > len(data) {
		return "", orcerrors.New(orcerrors.CodeInvalidData, "peformat", "utf16LEString", "utf16 string exceeds stream bounds")
	}
	units := make([]uint16, count)
	for i := 0; i < count; i++ {
		units[i] = binary.LittleEndian.Uint16(data[off+i*2 : off+i*2+2])
	}
	return string(utf16.Decode(units)), nil
}
