package orcstream

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"orc-import/pkg/orcerrors"
)

// TempBuffer is a Stream that starts resident in memory and migrates to a
// single backing file the first time its size crosses thresholdBytes. This
// generalizes a DiskBuffer rotation loop (which rotates
// repeatedly, at a fixed size, across many output files) down to a single
// one-shot migration: an ImportItem's payload is bounded work, not an
// unbounded log stream, so there is exactly one migration to perform, never
// "pkg/buffer"'s recurring rotate-and-start-a-new-file cycle.
type TempBuffer struct {
	mu        sync.Mutex
	dir       string
	threshold int64

	mem   *MemoryStream
	file  *FileStream
	onDisk bool

	closed bool
}

// NewTempBuffer creates a TempBuffer that stays in memory until its size
// exceeds thresholdBytes, at which point it migrates into a file created
// under dir. A thresholdBytes of 0 forces immediate on-disk allocation on
// first write.
func NewTempBuffer(dir string, thresholdBytes int64) *TempBuffer {
	return &TempBuffer{
		dir:       dir,
		threshold: thresholdBytes,
		mem:       NewMemoryStream(0),
	}
}

func (t *TempBuffer) active() Stream {
	if t.onDisk {
		return t.file
	}
	return t.mem
}

// migrate spills the in-memory content to a backing file. Called with mu
// held.
func (t *TempBuffer) migrate() error {
	if t.onDisk {
		return nil
	}
	f, err := os.CreateTemp(t.dir, "orc-import-*.tmp")
	if err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "orcstream", "migrate", err)
	}
	pos := t.mem.pos
	if _, err := f.Write(t.mem.buf); err != nil {
		f.Close()
		os.Remove(f.Name())
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "orcstream", "migrate", err)
	}
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "orcstream", "migrate", err)
	}
	t.file = &FileStream{f: f}
	t.onDisk = true
	t.mem = nil
	return nil
}

// IsMemoryStream reports whether content is currently resident in memory.
func (t *TempBuffer) IsMemoryStream() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.onDisk
}

// IsFileStream reports whether content has migrated to disk.
func (t *TempBuffer) IsFileStream() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onDisk
}

func (t *TempBuffer) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}
func (t *TempBuffer) CanRead() bool  { return t.IsOpen() }
func (t *TempBuffer) CanWrite() bool { return t.IsOpen() }
func (t *TempBuffer) CanSeek() bool  { return t.IsOpen() }

func (t *TempBuffer) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	return t.active().Read(p)
}

func (t *TempBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	if !t.onDisk {
		prospective := t.mem.pos + int64(len(p))
		if prospective > t.threshold {
			if err := t.migrate(); err != nil {
				return 0, err
			}
		}
	}
	return t.active().Write(p)
}

func (t *TempBuffer) Seek(offset int64, whence int) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	return t.active().Seek(offset, whence)
}

func (t *TempBuffer) Size() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	return t.active().Size()
}

func (t *TempBuffer) SetSize(size int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if !t.onDisk && size > t.threshold {
		if err := t.migrate(); err != nil {
			return err
		}
	}
	return t.active().SetSize(size)
}

func (t *TempBuffer) CopyTo(dst io.Writer) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	return t.active().CopyTo(dst)
}

func (t *TempBuffer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.onDisk {
		name := t.file.Name()
		err := t.file.Close()
		os.Remove(name)
		return err
	}
	return nil
}

// MoveTo relocates the buffer's content to a final, durable path. Only a
// buffer that has migrated to disk (IsFileStream) can be moved this way —
// an in-memory-resident buffer has no backing file to relocate and MoveTo
// returns an error; the caller must write its content out explicitly (e.g.
// via CopyTo) instead. When on disk, MoveTo attempts os.Rename first
// (same-volume, atomic); if the rename fails for any reason (a cross-device
// move among them) it falls back to copy-then-remove. The TempBuffer is closed as a side effect of a
// successful move.
func (t *TempBuffer) MoveTo(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if !t.onDisk {
		return orcerrors.New(orcerrors.CodeInvalidArgument, "orcstream", "MoveTo", "buffer is still memory-resident, nothing to move")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "orcstream", "MoveTo", err)
	}

	src := t.file.Name()
	t.file.Close()
	if err := os.Rename(src, path); err != nil {
		if linkErr, ok := err.(*os.LinkError); ok {
			if copyErr := copyThenRemove(linkErr.Old, path); copyErr != nil {
				t.closed = true
				return orcerrors.Wrap(orcerrors.CodeIOFailed, "orcstream", "MoveTo", copyErr)
			}
			t.closed = true
			return nil
		}
		t.closed = true
		return orcerrors.Wrap(orcerrors.CodeIOFailed, "orcstream", "MoveTo", err)
	}
	t.closed = true
	return nil
}

func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// String implements fmt.Stringer for debug logging.
func (t *TempBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("TempBuffer{onDisk=%v}", t.onDisk)
}
