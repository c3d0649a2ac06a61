package orcstream

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStreamReadWrite(t *testing.T) {
	m := NewMemoryStream(0)
	n, err := m.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = m.Seek(0, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err = m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestFileStream(t *testing.T) {
	path := t.TempDir() + "/f.bin"
	fs, err := NewFileStream(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer fs.Close()

	_, err = fs.Write([]byte("abc"))
	require.NoError(t, err)
	size, err := fs.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 3, size)
}

func TestTempBufferMigratesAtThreshold(t *testing.T) {
	dir := t.TempDir()
	tb := NewTempBuffer(dir, 8)
	assert.True(t, tb.IsMemoryStream())

	_, err := tb.Write([]byte("12345"))
	require.NoError(t, err)
	assert.True(t, tb.IsMemoryStream())

	_, err = tb.Write([]byte("678901"))
	require.NoError(t, err)
	assert.True(t, tb.IsFileStream())

	size, err := tb.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 11, size)
	require.NoError(t, tb.Close())
}

func TestTempBufferMoveToErrorsWhileMemoryResident(t *testing.T) {
	dir := t.TempDir()
	tb := NewTempBuffer(dir, 1<<20)
	_, err := tb.Write([]byte("small"))
	require.NoError(t, err)

	dst := dir + "/final/out.bin"
	err = tb.MoveTo(dst)
	assert.Error(t, err)
}

func TestTempBufferMoveToFromDisk(t *testing.T) {
	dir := t.TempDir()
	tb := NewTempBuffer(dir, 1)
	_, err := tb.Write([]byte("overflow"))
	require.NoError(t, err)
	require.True(t, tb.IsFileStream())

	dst := dir + "/moved/out.bin"
	require.NoError(t, tb.MoveTo(dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "overflow", string(content))
}

func TestDecoderStreamGzip(t *testing.T) {
	var compressed bytes.Buffer
	gw := gzip.NewWriter(&compressed)
	_, err := gw.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	ds, err := NewDecoderStream(&compressed, func(src io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(src)
	})
	require.NoError(t, err)
	defer ds.Close()

	var out bytes.Buffer
	_, err = ds.CopyTo(&out)
	require.NoError(t, err)
	assert.Equal(t, "payload", out.String())
}
