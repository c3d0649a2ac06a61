// Package orcstream implements the ByteStream abstraction every pipeline
// stage reads and writes through, plus the memory-to-disk migrating
// TempBuffer used to stage content of unknown size without committing to a
// temp file up front.
package orcstream

import (
	"bytes"
	"errors"
	"io"
	"os"

	"orc-import/pkg/orcerrors"
)

// Stream is the capability contract every payload in the pipeline
// implements. Not every stream supports every operation: CanRead/CanWrite/
// CanSeek report what is actually available so a decoder-adapter stream
// (read-only, forward-only) can satisfy the same interface as a file.
type Stream interface {
	IsOpen() bool
	CanRead() bool
	CanWrite() bool
	CanSeek() bool

	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Seek(offset int64, whence int) (int64, error)

	Size() (int64, error)
	SetSize(size int64) error

	Close() error

	// CopyTo streams the full remaining content to dst and returns the
	// number of bytes copied.
	CopyTo(dst io.Writer) (int64, error)
}

var (
	ErrNotReadable = errors.New("orcstream: stream does not support read")
	ErrNotWritable = errors.New("orcstream: stream does not support write")
	ErrNotSeekable = errors.New("orcstream: stream does not support seek")
	ErrClosed      = errors.New("orcstream: stream is closed")
)

// MemoryStream is an in-memory, fully seekable, read/write Stream backed by
// a growable byte buffer.
type MemoryStream struct {
	buf    []byte
	pos    int64
	closed bool
}

// NewMemoryStream allocates a MemoryStream with the given initial capacity
// hint (0 is fine; the buffer grows as needed).
func NewMemoryStream(initialCap int) *MemoryStream {
	return &MemoryStream{buf: make([]byte, 0, initialCap)}
}

func (m *MemoryStream) IsOpen() bool    { return !m.closed }
func (m *MemoryStream) CanRead() bool   { return !m.closed }
func (m *MemoryStream) CanWrite() bool  { return !m.closed }
func (m *MemoryStream) CanSeek() bool   { return !m.closed }

func (m *MemoryStream) Read(p []byte) (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *MemoryStream) Write(p []byte) (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:end], p)
	m.pos = end
	return n, nil
}

func (m *MemoryStream) Seek(offset int64, whence int) (int64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = m.pos + offset
	case io.SeekEnd:
		newPos = int64(len(m.buf)) + offset
	default:
		return 0, orcerrors.New(orcerrors.CodeInvalidArgument, "orcstream", "Seek", "invalid whence")
	}
	if newPos < 0 {
		return 0, orcerrors.New(orcerrors.CodeInvalidArgument, "orcstream", "Seek", "negative position")
	}
	m.pos = newPos
	return m.pos, nil
}

func (m *MemoryStream) Size() (int64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	return int64(len(m.buf)), nil
}

func (m *MemoryStream) SetSize(size int64) error {
	if m.closed {
		return ErrClosed
	}
	if size < 0 {
		return orcerrors.New(orcerrors.CodeInvalidArgument, "orcstream", "SetSize", "negative size")
	}
	if size <= int64(len(m.buf)) {
		m.buf = m.buf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

func (m *MemoryStream) Close() error {
	m.closed = true
	return nil
}

func (m *MemoryStream) CopyTo(dst io.Writer) (int64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	n, err := io.Copy(dst, bytes.NewReader(m.buf[m.pos:]))
	m.pos = int64(len(m.buf))
	return n, err
}

// FileStream is a Stream backed by an *os.File.
type FileStream struct {
	f      *os.File
	closed bool
}

// NewFileStream opens path with the given os.OpenFile flags and mode.
func NewFileStream(path string, flags int, perm os.FileMode) (*FileStream, error) {
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return nil, orcerrors.Wrap(orcerrors.CodeIOFailed, "orcstream", "NewFileStream", err)
	}
	return &FileStream{f: f}, nil
}

func (fs *FileStream) IsOpen() bool   { return !fs.closed }
func (fs *FileStream) CanRead() bool  { return !fs.closed }
func (fs *FileStream) CanWrite() bool { return !fs.closed }
func (fs *FileStream) CanSeek() bool  { return !fs.closed }

func (fs *FileStream) Read(p []byte) (int, error) {
	if fs.closed {
		return 0, ErrClosed
	}
	return fs.f.Read(p)
}

func (fs *FileStream) Write(p []byte) (int, error) {
	if fs.closed {
		return 0, ErrClosed
	}
	return fs.f.Write(p)
}

func (fs *FileStream) Seek(offset int64, whence int) (int64, error) {
	if fs.closed {
		return 0, ErrClosed
	}
	return fs.f.Seek(offset, whence)
}

func (fs *FileStream) Size() (int64, error) {
	if fs.closed {
		return 0, ErrClosed
	}
	info, err := fs.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (fs *FileStream) SetSize(size int64) error {
	if fs.closed {
		return ErrClosed
	}
	return fs.f.Truncate(size)
}

func (fs *FileStream) Close() error {
	if fs.closed {
		return nil
	}
	fs.closed = true
	return fs.f.Close()
}

func (fs *FileStream) CopyTo(dst io.Writer) (int64, error) {
	if fs.closed {
		return 0, ErrClosed
	}
	return io.Copy(dst, fs.f)
}

// Name returns the underlying file path.
func (fs *FileStream) Name() string { return fs.f.Name() }
