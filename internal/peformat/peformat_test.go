package peformat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalPE assembles a syntactically valid, minimally-sized 32-bit PE
// image with one section and no resource directory, sufficient to exercise
// DOS/NT/section parsing without a real toolchain-produced binary.
func buildMinimalPE(t *testing.T) []byte {
	t.Helper()
	const (
		numSections     = 1
		sizeOfOptional  = 96 // PE32, 16 data directories * 8 + 96 base fields... truncated for test simplicity
	)

	dos := make([]byte, 0x40)
	binary.LittleEndian.PutUint16(dos[0:2], imageDosSignature)
	elfanew := uint32(0x80)
	binary.LittleEndian.PutUint32(dos[0x3c:0x40], elfanew)

	ntStart := int(elfanew)
	fileHeaderStart := ntStart + 4
	optionalStart := fileHeaderStart + 20
	sectionStart := optionalStart + sizeOfOptional
	total := sectionStart + numSections*40

	buf := make([]byte, total)
	copy(buf, dos)

	binary.LittleEndian.PutUint32(buf[ntStart:ntStart+4], peSignature)
	binary.LittleEndian.PutUint16(buf[fileHeaderStart:fileHeaderStart+2], 0x8664) // machine
	binary.LittleEndian.PutUint16(buf[fileHeaderStart+2:fileHeaderStart+4], numSections)
	binary.LittleEndian.PutUint16(buf[fileHeaderStart+16:fileHeaderStart+18], uint16(sizeOfOptional))

	binary.LittleEndian.PutUint16(buf[optionalStart:optionalStart+2], 0x10b) // PE32
	binary.LittleEndian.PutUint32(buf[optionalStart+56:optionalStart+60], uint32(total))

	sectionName := "text\x00\x00\x00\x00"
	copy(buf[sectionStart:sectionStart+8], sectionName)
	binary.LittleEndian.PutUint32(buf[sectionStart+8:sectionStart+12], 0x1000)  // VirtualSize
	binary.LittleEndian.PutUint32(buf[sectionStart+12:sectionStart+16], 0x1000) // VirtualAddress
	binary.LittleEndian.PutUint32(buf[sectionStart+16:sectionStart+20], 0x200)  // SizeOfRawData
	binary.LittleEndian.PutUint32(buf[sectionStart+20:sectionStart+24], uint32(total)) // PointerToRawData

	return buf
}

func TestProbeRejectsShortInput(t *testing.T) {
	_, err := Probe([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestProbeRejectsBadDosMagic(t *testing.T) {
	data := make([]byte, dosHeaderSize)
	binary.LittleEndian.PutUint16(data[0:2], 0x1234)
	_, err := Probe(data)
	assert.Error(t, err)
}

func TestProbeParsesMinimalPE(t *testing.T) {
	data := buildMinimalPE(t)
	img, err := Probe(data)
	require.NoError(t, err)
	require.NotNil(t, img.PEHeader)
	assert.Equal(t, uint16(1), img.PEHeader.FileHeader.NumberOfSections)
	assert.Len(t, img.PEHeader.Sections, 1)
	assert.Equal(t, "text", img.PEHeader.Sections[0].Name)
}

func TestProbeRejectsExcessiveSectionCount(t *testing.T) {
	data := buildMinimalPE(t)
	fileHeaderStart := int(0x80) + 4
	binary.LittleEndian.PutUint16(data[fileHeaderStart+2:fileHeaderStart+4], 0x100)
	_, err := Probe(data)
	assert.Error(t, err)
}

func TestRVAToOffset(t *testing.T) {
	data := buildMinimalPE(t)
	img, err := Probe(data)
	require.NoError(t, err)

	off := img.PEHeader.RVAToOffset(0x1000, 0)
	assert.EqualValues(t, len(data), off)

	off = img.PEHeader.RVAToOffset(0x5000, 0)
	assert.EqualValues(t, -1, off)
}

func TestRVAToOffsetRejectsRangeOverrunningSectionExtent(t *testing.T) {
	data := buildMinimalPE(t)
	img, err := Probe(data)
	require.NoError(t, err)

	// section's virtual extent is [0x1000, 0x2000); a length that runs
	// past the section's own VirtualSize must be rejected.
	off := img.PEHeader.RVAToOffset(0x1000, 0x1000)
	assert.EqualValues(t, len(data), off, "range exactly filling the extent must be accepted")

	off = img.PEHeader.RVAToOffset(0x1000, 0x1001)
	assert.EqualValues(t, -1, off, "range overrunning the section's virtual extent must be rejected")
}

func TestFindVersionInfoNoResourceDirectory(t *testing.T) {
	data := buildMinimalPE(t)
	img, err := Probe(data)
	require.NoError(t, err)

	_, err = img.FindVersionInfo(data)
	assert.Error(t, err)
}
