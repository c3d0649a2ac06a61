package envelope

import (
	"encoding/binary"
	"io"

	"orc-import/internal/orcstream"
	"orc-import/pkg/orcerrors"
)

// journalMagic prefixes a plaintext stream that is a record-by-record
// journal rather than a direct payload.
var journalMagic = [8]byte{'O', 'R', 'C', 'J', 'R', 'N', 'L', 0x01}

// DetectJournal probes plaintext for the journal magic without consuming
// it for any other purpose; the stream's read position is restored
// afterward when the stream supports seeking.
func DetectJournal(plaintext orcstream.Stream) (bool, error) {
	if !plaintext.CanSeek() {
		return false, nil
	}
	cur, err := plaintext.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, err
	}
	defer plaintext.Seek(cur, io.SeekStart)

	if _, err := plaintext.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	var magic [8]byte
	n, err := io.ReadFull(plaintext, magic[:])
	if err != nil && err != io.ErrUnexpectedEOF {
		return false, err
	}
	return n == len(magic) && magic == journalMagic, nil
}

// ReplayJournal reads a detected journal from plaintext and replays its
// records, in order, into dst. Each record is
// [uint32 length][length bytes]; replay is deterministic: records are
// concatenated in stream order with no reordering or deduplication. On
// success dst is rewound to its start so it can be read back directly.
func ReplayJournal(plaintext orcstream.Stream, dst orcstream.Stream) error {
	if _, err := plaintext.Seek(int64(len(journalMagic)), io.SeekStart); err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "envelope", "ReplayJournal", err)
	}

	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(plaintext, lenBuf[:])
		if err == io.EOF {
			if _, err := dst.Seek(0, io.SeekStart); err != nil {
				return orcerrors.Wrap(orcerrors.CodeIOFailed, "envelope", "ReplayJournal", err)
			}
			return nil
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				return orcerrors.New(orcerrors.CodeInvalidData, "envelope", "ReplayJournal", "truncated journal record header")
			}
			return orcerrors.Wrap(orcerrors.CodeIOFailed, "envelope", "ReplayJournal", err)
		}
		recLen := binary.LittleEndian.Uint32(lenBuf[:])
		record := make([]byte, recLen)
		if _, err := io.ReadFull(plaintext, record); err != nil {
			return orcerrors.Wrap(orcerrors.CodeInvalidData, "envelope", "ReplayJournal", err)
		}
		if _, err := dst.Write(record); err != nil {
			return orcerrors.Wrap(orcerrors.CodeIOFailed, "envelope", "ReplayJournal", err)
		}
	}
}
