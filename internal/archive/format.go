// Package archive implements the archive extractor: format detection
// by suffix/magic, and streaming extraction of zip/tar/gzip/zstd containers
// into child ImportItems.
package archive

import (
	"bufio"
	"strings"

	"orc-import/pkg/model"
)

// Container identifies a recognized archive container format.
type Container string

const (
	ContainerZip     Container = "zip"
	ContainerTar     Container = "tar"
	ContainerTarGzip Container = "tar.gz"
	ContainerGzip    Container = "gzip"
	ContainerZstd    Container = "zstd"
	ContainerUnknown Container = "unknown"
)

var suffixTable = []struct {
	suffix    string
	container Container
}{
	{".tar.gz", ContainerTarGzip},
	{".tgz", ContainerTarGzip},
	{".zip", ContainerZip},
	{".tar", ContainerTar},
	{".gz", ContainerGzip},
	{".zst", ContainerZstd},
}

var (
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// GetArchiveFormat recognizes an archive container from its name, falling
// back to a magic-byte sniff of peek (which may be nil if unavailable, e.g.
// when only the name is known ahead of opening the stream). Returns
// ContainerUnknown for anything unrecognized.
func GetArchiveFormat(name string, peek []byte) Container {
	lower := strings.ToLower(name)
	for _, e := range suffixTable {
		if strings.HasSuffix(lower, e.suffix) {
			return e.container
		}
	}
	return sniff(peek)
}

func sniff(peek []byte) Container {
	switch {
	case hasPrefix(peek, zipMagic):
		return ContainerZip
	case hasPrefix(peek, gzipMagic):
		return ContainerGzip
	case hasPrefix(peek, zstdMagic):
		return ContainerZstd
	default:
		return ContainerUnknown
	}
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// SniffReader peeks up to n bytes from r without consuming them further
// than the returned *bufio.Reader allows; callers should read through the
// returned reader afterwards.
func SniffReader(r *bufio.Reader, n int) ([]byte, error) {
	return r.Peek(n)
}

// IsArchive reports whether it.Format is model.FormatArchive, i.e. whether
// the classifier should route this item to the extractor.
func IsArchive(it *model.ImportItem) bool {
	return it.Format == model.FormatArchive
}
