package peformat

import (
	"encoding/binary"

	"orc-import/pkg/orcerrors"
)

const resourceVersionID = 16 // RT_VERSION

// resourceDirectoryHeader mirrors IMAGE_RESOURCE_DIRECTORY's fixed part.
type resourceDirectoryHeader struct {
	NumberOfNamedEntries uint16
	NumberOfIdEntries    uint16
}

// resourceDirectoryEntry mirrors IMAGE_RESOURCE_DIRECTORY_ENTRY.
type resourceDirectoryEntry struct {
	ID     uint32 // low bit of NameOffset unused here: only Id-keyed entries are walked
	Offset uint32 // high bit set => subdirectory; cleared here before returning
	IsDir  bool
}

// VersionInfo is the VS_FIXEDFILEINFO payload located by walking the
// resource directory tree down to the VERSION node.
type VersionInfo struct {
	Signature      uint32
	StrucVersion   uint32
	FileVersionMS  uint32
	FileVersionLS  uint32
	ProductVersionMS uint32
	ProductVersionLS uint32
}

const versionInfoMagic = 0xFEEF04BD

// FindVersionInfo walks the resource directory tree rooted at the
// IMAGE_DIRECTORY_ENTRY_RESOURCE data directory: first
// level selects the node with Id==16 (VERSION), second level takes the
// first available child, third level takes the first entry that is not a
// directory. The VS_FIXEDFILEINFO block must be preceded by the literal
// UTF-16 string "VS_VERSION_INFO" at offset 6 of the resource data; this is
// validated and an error returned otherwise.
func (img *Image) FindVersionInfo(data []byte) (*VersionInfo, error) {
	if img.PEHeader == nil {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "FindVersionInfo", "not a PE image")
	}
	dd := img.PEHeader.OptionalHeader.DataDirectories[DirResource]
	if dd.Size == 0 {
		return nil, orcerrors.New(orcerrors.CodeNoMatch, "peformat", "FindVersionInfo", "no resource directory present")
	}
	rootOff := img.PEHeader.RVAToOffset(dd.VirtualAddress, dd.Size)
	if rootOff < 0 {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "FindVersionInfo", "resource directory RVA out of range")
	}
	resourceBase := rootOff

	level1, err := readDirectoryEntries(data, rootOff)
	if err != nil {
		return nil, err
	}
	var versionNode *resourceDirectoryEntry
	for i := range level1 {
		if level1[i].ID == resourceVersionID {
			versionNode = &level1[i]
			break
		}
	}
	if versionNode == nil || !versionNode.IsDir {
		return nil, orcerrors.New(orcerrors.CodeNoMatch, "peformat", "FindVersionInfo", "no VERSION resource node")
	}

	level2, err := readDirectoryEntries(data, resourceBase+int64(versionNode.Offset))
	if err != nil {
		return nil, err
	}
	if len(level2) == 0 || !level2[0].IsDir {
		return nil, orcerrors.New(orcerrors.CodeNoMatch, "peformat", "FindVersionInfo", "VERSION node has no language subdirectory")
	}

	level3, err := readDirectoryEntries(data, resourceBase+int64(level2[0].Offset))
	if err != nil {
		return nil, err
	}
	var dataEntry *resourceDirectoryEntry
	for i := range level3 {
		if !level3[i].IsDir {
			dataEntry = &level3[i]
			break
		}
	}
	if dataEntry == nil {
		return nil, orcerrors.New(orcerrors.CodeNoMatch, "peformat", "FindVersionInfo", "no leaf data entry under VERSION")
	}

	return parseVersionDataEntry(img, data, resourceBase, dataEntry.Offset)
}

func readDirectoryEntries(data []byte, off int64) ([]resourceDirectoryEntry, error) {
	if off < 0 || off+16 > int64(len(data)) {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "readDirectoryEntries", "resource directory header exceeds bounds")
	}
	hdr := resourceDirectoryHeader{
		NumberOfNamedEntries: binary.LittleEndian.Uint16(data[off+12 : off+14]),
		NumberOfIdEntries:    binary.LittleEndian.Uint16(data[off+14 : off+16]),
	}
	total := int(hdr.NumberOfNamedEntries) + int(hdr.NumberOfIdEntries)
	entriesStart := off + 16
	entriesEnd := entriesStart + int64(total)*8
	if entriesEnd > int64(len(data)) {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "readDirectoryEntries", "resource entries exceed bounds")
	}

	out := make([]resourceDirectoryEntry, 0, total)
	p := entriesStart
	for i := 0; i < total; i++ {
		nameOrID := binary.LittleEndian.Uint32(data[p : p+4])
		offsetField := binary.LittleEndian.Uint32(data[p+4 : p+8])
		out = append(out, resourceDirectoryEntry{
			ID:     nameOrID,
			Offset: offsetField &^ 0x80000000,
			IsDir:  offsetField&0x80000000 != 0,
		})
		p += 8
	}
	return out, nil
}

func parseVersionDataEntry(img *Image, data []byte, resourceBase int64, dataEntryOffset uint32) (*VersionInfo, error) {
	entryOff := resourceBase + int64(dataEntryOffset)
	if entryOff+16 > int64(len(data)) {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseVersionDataEntry", "resource data entry exceeds bounds")
	}
	dataRVA := binary.LittleEndian.Uint32(data[entryOff : entryOff+4])
	dataSize := binary.LittleEndian.Uint32(data[entryOff+4 : entryOff+8])

	dataOff := img.PEHeader.RVAToOffset(dataRVA, dataSize)
	if dataOff < 0 || dataOff+int64(dataSize) > int64(len(data)) {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseVersionDataEntry", "version resource data exceeds bounds")
	}
	resData := data[dataOff : dataOff+int64(dataSize)]

	// VS_VERSION_INFO structure: wLength(2) wValueLength(2) wType(2)
	// szKey (UTF-16 "VS_VERSION_INFO", 15 chars + NUL) then padding to a
	// 4-byte boundary, then VS_FIXEDFILEINFO.
	if len(resData) < 6+32 {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseVersionDataEntry", "version resource too short")
	}
	key, err := utf16LEString(resData, 6, 15)
	if err != nil || key != "VS_VERSION_INFO" {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseVersionDataEntry", "missing VS_VERSION_INFO literal")
	}

	keyBytes := 16 * 2 // 15 chars + NUL, UTF-16
	fixedStart := 6 + keyBytes
	fixedStart = (fixedStart + 3) &^ 3 // align to 4 bytes
	if fixedStart+4 > len(resData) {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseVersionDataEntry", "missing VS_FIXEDFILEINFO")
	}
	sig := binary.LittleEndian.Uint32(resData[fixedStart : fixedStart+4])
	if sig != versionInfoMagic {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseVersionDataEntry", "invalid VS_FIXEDFILEINFO signature")
	}
	if fixedStart+32 > len(resData) {
		return nil, orcerrors.New(orcerrors.CodeInvalidData, "peformat", "parseVersionDataEntry", "truncated VS_FIXEDFILEINFO")
	}

	return &VersionInfo{
		Signature:        sig,
		StrucVersion:     binary.LittleEndian.Uint32(resData[fixedStart+4 : fixedStart+8]),
		FileVersionMS:    binary.LittleEndian.Uint32(resData[fixedStart+8 : fixedStart+12]),
		FileVersionLS:    binary.LittleEndian.Uint32(resData[fixedStart+12 : fixedStart+16]),
		ProductVersionMS: binary.LittleEndian.Uint32(resData[fixedStart+16 : fixedStart+20]),
		ProductVersionLS: binary.LittleEndian.Uint32(resData[fixedStart+20 : fixedStart+24]),
	}, nil
}
