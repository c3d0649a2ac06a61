package pehash

import (
	"orc-import/internal/peformat"
	"orc-import/pkg/orcerrors"
)

// ComputeChunks is the module's default chunk function: the standard
// authenticode exclusion set, which skips the PE checksum field and the
// security (signature) directory so that re-signing an image does not
// change its hash. Callers may supply any other chunk function satisfying
// the same (offset,length) contract.
func ComputeChunks(image []byte) ([]Chunk, error) {
	img, err := peformat.Probe(image)
	if err != nil {
		return nil, orcerrors.Wrap(orcerrors.CodeDecodeFailed, "pehash", "ComputeChunks", err)
	}
	if img.PEHeader == nil {
		return []Chunk{{Offset: 0, Length: int64(len(image))}}, nil
	}

	checksumOff, checksumLen := checksumFieldRange(img)
	secDirOff, secDirLen := securityDirectoryRange(img)

	excluded := []Chunk{
		{Offset: checksumOff, Length: checksumLen},
	}
	if secDirLen > 0 {
		excluded = append(excluded, Chunk{Offset: secDirOff, Length: secDirLen})
	}

	return subtractExclusions(int64(len(image)), excluded), nil
}

// checksumFieldRange locates the 4-byte CheckSum field of the optional
// header: offset 64 from the start of the optional header for both PE32
// and PE32+ layouts.
func checksumFieldRange(img *peformat.Image) (int64, int64) {
	ntHeadersStart := int64(img.DosHeader.ELfanew)
	optionalStart := ntHeadersStart + 4 + 20
	return optionalStart + 64, 4
}

func securityDirectoryRange(img *peformat.Image) (int64, int64) {
	dd := img.PEHeader.OptionalHeader.DataDirectories[peformat.DirSecurity]
	if dd.Size == 0 {
		return 0, 0
	}
	return int64(dd.VirtualAddress), int64(dd.Size)
}

// subtractExclusions returns the ordered set of chunks covering [0,total)
// with each excluded range removed. excluded need not be sorted.
func subtractExclusions(total int64, excluded []Chunk) []Chunk {
	cuts := make([]Chunk, len(excluded))
	copy(cuts, excluded)
	for i := 1; i < len(cuts); i++ {
		for j := i; j > 0 && cuts[j-1].Offset > cuts[j].Offset; j-- {
			cuts[j-1], cuts[j] = cuts[j], cuts[j-1]
		}
	}

	var chunks []Chunk
	cursor := int64(0)
	for _, c := range cuts {
		start := c.Offset
		end := c.Offset + c.Length
		if start > total {
			start = total
		}
		if end > total {
			end = total
		}
		if start > cursor {
			chunks = append(chunks, Chunk{Offset: cursor, Length: start - cursor})
		}
		if end > cursor {
			cursor = end
		}
	}
	if cursor < total {
		chunks = append(chunks, Chunk{Offset: cursor, Length: total - cursor})
	}
	return chunks
}
