package orcstream

import "io"

// Decoder is anything that turns a compressed/encoded io.Reader into a
// plaintext io.ReadCloser: compress/gzip.NewReader, klauspost/compress/zstd,
// or an envelope's cipher.Stream wrapper all satisfy this shape via a small
// adapter.
type Decoder func(src io.Reader) (io.ReadCloser, error)

// DecoderStream adapts a Decoder over a source reader into a forward-only
// Stream. It does not support Write or Seek; CanRead is the only capability
// offered, matching a one-pass decompression pipe.
type DecoderStream struct {
	src    io.Reader
	dec    io.ReadCloser
	closed bool
}

// NewDecoderStream applies decode to src and wraps the result.
func NewDecoderStream(src io.Reader, decode Decoder) (*DecoderStream, error) {
	dec, err := decode(src)
	if err != nil {
		return nil, err
	}
	return &DecoderStream{src: src, dec: dec}, nil
}

func (d *DecoderStream) IsOpen() bool   { return !d.closed }
func (d *DecoderStream) CanRead() bool  { return !d.closed }
func (d *DecoderStream) CanWrite() bool { return false }
func (d *DecoderStream) CanSeek() bool  { return false }

func (d *DecoderStream) Read(p []byte) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	return d.dec.Read(p)
}

func (d *DecoderStream) Write(p []byte) (int, error) {
	return 0, ErrNotWritable
}

func (d *DecoderStream) Seek(offset int64, whence int) (int64, error) {
	return 0, ErrNotSeekable
}

func (d *DecoderStream) Size() (int64, error) {
	return 0, ErrNotSeekable
}

func (d *DecoderStream) SetSize(size int64) error {
	return ErrNotWritable
}

func (d *DecoderStream) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.dec.Close()
}

func (d *DecoderStream) CopyTo(dst io.Writer) (int64, error) {
	if d.closed {
		return 0, ErrClosed
	}
	return io.Copy(dst, d.dec)
}
