package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"orc-import/internal/metrics"
	"orc-import/pkg/orcerrors"
)

// Entry describes one member encountered while walking an archive.
type Entry struct {
	NameInArchive string
	Size          int64
	IsDir         bool
}

// Options bundles the extractor's three callbacks plus the logger used for
// per-entry diagnostics.
type Options struct {
	// ShouldExtract decides whether entry is worth materializing at all;
	// returning false skips it without error.
	ShouldExtract func(entry Entry) bool

	// SinkFor is called once per accepted entry, before its first write,
	// and must return a destination the extractor writes entry's content
	// into.
	SinkFor func(entry Entry) (io.WriteCloser, error)

	// OnComplete is called once per entry after its last write,
	// regardless of outcome; err is non-nil if writing the entry failed.
	OnComplete func(entry Entry, err error)

	Logger *logrus.Logger
}

// Extract walks container, reading from r, and drives opts' callbacks for
// each member. A per-entry failure is reported through OnComplete and does
// not abort extraction of sibling entries. Nested archives are surfaced as
// ordinary entries (by name) — the caller re-enqueues them for a further
// pass; Extract does not recurse.
func Extract(ctx context.Context, container Container, r io.Reader, opts Options) error {
	switch container {
	case ContainerZip:
		return extractZip(ctx, r, opts)
	case ContainerTar:
		return extractTar(ctx, r, opts)
	case ContainerTarGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return orcerrors.Wrap(orcerrors.CodeDecodeFailed, "archive", "Extract", err)
		}
		defer gz.Close()
		return extractTar(ctx, gz, opts)
	case ContainerGzip:
		return extractSingleGzip(ctx, r, opts)
	case ContainerZstd:
		return extractSingleZstd(ctx, r, opts)
	default:
		return orcerrors.New(orcerrors.CodeUnrecognizedFormat, "archive", "Extract", "unrecognized container format")
	}
}

// dedupGuard suppresses repeated members: an archive that lists the same
// in-archive name twice must not double-import it.
type dedupGuard struct {
	seen map[uint64]struct{}
}

func newDedupGuard() *dedupGuard {
	return &dedupGuard{seen: make(map[uint64]struct{})}
}

func (d *dedupGuard) seenBefore(name string) bool {
	h := xxhash.Sum64String(name)
	if _, ok := d.seen[h]; ok {
		return true
	}
	d.seen[h] = struct{}{}
	return false
}

func extractZip(ctx context.Context, r io.Reader, opts Options) error {
	ra, ok := r.(io.ReaderAt)
	var zr *zip.Reader
	if ok {
		sz, err := streamSize(r)
		if err != nil {
			return orcerrors.Wrap(orcerrors.CodeIOFailed, "archive", "extractZip", err)
		}
		zr, err = zip.NewReader(ra, sz)
		if err != nil {
			return orcerrors.Wrap(orcerrors.CodeDecodeFailed, "archive", "extractZip", err)
		}
	} else if rs, isSeeker := r.(io.ReadSeeker); isSeeker {
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return orcerrors.Wrap(orcerrors.CodeIOFailed, "archive", "extractZip", err)
		}
		data, err := io.ReadAll(rs)
		if err != nil {
			return orcerrors.Wrap(orcerrors.CodeIOFailed, "archive", "extractZip", err)
		}
		zr, err = zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return orcerrors.Wrap(orcerrors.CodeDecodeFailed, "archive", "extractZip", err)
		}
	} else {
		return orcerrors.New(orcerrors.CodeInvalidArgument, "archive", "extractZip", "zip extraction requires a seekable, sized source")
	}

	guard := newDedupGuard()
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := Entry{NameInArchive: f.Name, Size: int64(f.UncompressedSize64), IsDir: f.FileInfo().IsDir()}
		if entry.IsDir {
			continue
		}
		if guard.seenBefore(entry.NameInArchive) {
			continue
		}
		if opts.ShouldExtract != nil && !opts.ShouldExtract(entry) {
			continue
		}
		err := extractOneZipMember(f, entry, opts)
		if opts.OnComplete != nil {
			opts.OnComplete(entry, err)
		}
		if err == nil {
			metrics.ArchiveMembersExtractedTotal.Inc()
		}
	}
	return nil
}

func extractOneZipMember(f *zip.File, entry Entry, opts Options) error {
	rc, err := f.Open()
	if err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "archive", "extractOneZipMember", err)
	}
	defer rc.Close()

	if opts.SinkFor == nil {
		return orcerrors.New(orcerrors.CodeInvalidArgument, "archive", "extractOneZipMember", "no sink configured")
	}
	sink, err := opts.SinkFor(entry)
	if err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "archive", "extractOneZipMember", err)
	}
	defer sink.Close()

	if _, err := io.Copy(sink, rc); err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "archive", "extractOneZipMember", err)
	}
	return nil
}

func extractTar(ctx context.Context, r io.Reader, opts Options) error {
	tr := tar.NewReader(r)
	guard := newDedupGuard()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return orcerrors.Wrap(orcerrors.CodeDecodeFailed, "archive", "extractTar", err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		entry := Entry{NameInArchive: hdr.Name, Size: hdr.Size}
		if guard.seenBefore(entry.NameInArchive) {
			continue
		}
		if opts.ShouldExtract != nil && !opts.ShouldExtract(entry) {
			continue
		}
		writeErr := extractOneTarMember(tr, entry, opts)
		if opts.OnComplete != nil {
			opts.OnComplete(entry, writeErr)
		}
		if writeErr == nil {
			metrics.ArchiveMembersExtractedTotal.Inc()
		}
	}
}

func extractOneTarMember(tr *tar.Reader, entry Entry, opts Options) error {
	if opts.SinkFor == nil {
		return orcerrors.New(orcerrors.CodeInvalidArgument, "archive", "extractOneTarMember", "no sink configured")
	}
	sink, err := opts.SinkFor(entry)
	if err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "archive", "extractOneTarMember", err)
	}
	defer sink.Close()

	if _, err := io.Copy(sink, tr); err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "archive", "extractOneTarMember", err)
	}
	return nil
}

// extractSingleGzip / extractSingleZstd handle a bare compressed stream
// (not a container of multiple members): the decompressed content is the
// single "entry". A gzip entry takes the original name recorded in the gzip
// header (empty if the header has none); a zstd entry's name is always
// empty, since zstd frames carry no name.
func extractSingleGzip(ctx context.Context, r io.Reader, opts Options) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return orcerrors.Wrap(orcerrors.CodeDecodeFailed, "archive", "extractSingleGzip", err)
	}
	defer gz.Close()
	return extractSingleMember(ctx, gz, gz.Name, opts)
}

func extractSingleZstd(ctx context.Context, r io.Reader, opts Options) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return orcerrors.Wrap(orcerrors.CodeDecodeFailed, "archive", "extractSingleZstd", err)
	}
	defer zr.Close()
	return extractSingleMember(ctx, zr, "", opts)
}

func extractSingleMember(ctx context.Context, r io.Reader, name string, opts Options) error {
	entry := Entry{NameInArchive: name}
	if opts.ShouldExtract != nil && !opts.ShouldExtract(entry) {
		return nil
	}
	if opts.SinkFor == nil {
		return orcerrors.New(orcerrors.CodeInvalidArgument, "archive", "extractSingleMember", "no sink configured")
	}
	sink, err := opts.SinkFor(entry)
	if err != nil {
		if opts.OnComplete != nil {
			opts.OnComplete(entry, err)
		}
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "archive", "extractSingleMember", err)
	}
	defer sink.Close()

	_, copyErr := io.Copy(sink, r)
	if opts.OnComplete != nil {
		opts.OnComplete(entry, copyErr)
	}
	if copyErr != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "archive", "extractSingleMember", copyErr)
	}
	metrics.ArchiveMembersExtractedTotal.Inc()
	return nil
}

// streamSize determines the total size of r via Seek, restoring the
// original position afterward. r must implement io.Seeker.
func streamSize(r io.Reader) (int64, error) {
	seeker, ok := r.(io.Seeker)
	if !ok {
		return 0, orcerrors.New(orcerrors.CodeInvalidArgument, "archive", "streamSize", "source is not seekable")
	}
	cur, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := seeker.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}
