package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestGetArchiveFormat(t *testing.T) {
	assert.Equal(t, ContainerZip, GetArchiveFormat("a.zip", nil))
	assert.Equal(t, ContainerTarGzip, GetArchiveFormat("a.tar.gz", nil))
	assert.Equal(t, ContainerTarGzip, GetArchiveFormat("a.tgz", nil))
	assert.Equal(t, ContainerTar, GetArchiveFormat("a.tar", nil))
	assert.Equal(t, ContainerGzip, GetArchiveFormat("a.gz", nil))
	assert.Equal(t, ContainerZstd, GetArchiveFormat("a.zst", nil))
	assert.Equal(t, ContainerUnknown, GetArchiveFormat("a.bin", nil))
	assert.Equal(t, ContainerZip, GetArchiveFormat("noext", []byte{'P', 'K', 0x03, 0x04, 0, 0}))
}

func buildZip(t *testing.T, files map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func TestExtractZip(t *testing.T) {
	r := buildZip(t, map[string]string{"a.txt": "hello", "b.txt": "world"})

	results := map[string]string{}
	var completed []string
	err := Extract(context.Background(), ContainerZip, r, Options{
		ShouldExtract: func(e Entry) bool { return true },
		SinkFor: func(e Entry) (io.WriteCloser, error) {
			return nopCloser{&bytes.Buffer{}}, nil
		},
		OnComplete: func(e Entry, err error) {
			completed = append(completed, e.NameInArchive)
		},
	})
	require.NoError(t, err)
	assert.Len(t, completed, 2)
	_ = results
}

func TestExtractZipDedup(t *testing.T) {
	// zip.Writer itself won't let us create duplicate names easily via the
	// high-level API, so this exercises the guard's logic directly.
	g := newDedupGuard()
	assert.False(t, g.seenBefore("a.txt"))
	assert.True(t, g.seenBefore("a.txt"))
}

func TestExtractZipShouldExtractFilter(t *testing.T) {
	r := buildZip(t, map[string]string{"keep.txt": "1", "skip.txt": "2"})

	var extracted []string
	err := Extract(context.Background(), ContainerZip, r, Options{
		ShouldExtract: func(e Entry) bool { return e.NameInArchive == "keep.txt" },
		SinkFor: func(e Entry) (io.WriteCloser, error) {
			extracted = append(extracted, e.NameInArchive)
			return nopCloser{&bytes.Buffer{}}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt"}, extracted)
}

func buildTar(t *testing.T, files map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Size: int64(len(content)), Mode: 0o644}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return &buf
}

func TestExtractTar(t *testing.T) {
	buf := buildTar(t, map[string]string{"x.txt": "contents"})

	var gotContent string
	err := Extract(context.Background(), ContainerTar, buf, Options{
		ShouldExtract: func(e Entry) bool { return true },
		SinkFor: func(e Entry) (io.WriteCloser, error) {
			target := &bytes.Buffer{}
			return &captureCloser{Buffer: target, onClose: func() { gotContent = target.String() }}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "contents", gotContent)
}

type captureCloser struct {
	*bytes.Buffer
	onClose func()
}

func (c *captureCloser) Close() error {
	c.onClose()
	return nil
}

func TestExtractUnrecognizedFormat(t *testing.T) {
	err := Extract(context.Background(), ContainerUnknown, bytes.NewReader(nil), Options{})
	assert.Error(t, err)
}
