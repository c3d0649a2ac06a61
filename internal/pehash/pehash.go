// Package pehash computes content hashes over a byte stream: whole-stream
// hashes for ordinary content, and authenticode-style chunked hashes for PE
// images that exclude the checksum field and the security directory.
package pehash

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
	"io"

	"orc-import/pkg/orcerrors"
)

// Chunk is an ordered byte range within a PE image to be fed to the hash
// accumulator; ComputeChunks returns these in order.
type Chunk struct {
	Offset int64
	Length int64
}

// Digests carries the requested hash outputs.
type Digests struct {
	MD5    []byte
	SHA1   []byte
	SHA256 []byte
}

// Want selects which digests to compute.
type Want struct {
	MD5    bool
	SHA1   bool
	SHA256 bool
}

// HashContent consumes r linearly and computes the requested digests over
// the whole stream, used for non-PE content.
func HashContent(r io.Reader, want Want) (Digests, error) {
	hashers, accessors := newAccumulator(want)
	if _, err := io.Copy(multiWriter(hashers), r); err != nil {
		return Digests{}, orcerrors.Wrap(orcerrors.CodeIOFailed, "pehash", "HashContent", err)
	}
	return accessors(), nil
}

// HashPEChunks pads image to an 8-byte multiple with zero bytes, validates
// that chunks are ordered and non-overlapping (chunks[i].Offset+Length must
// not exceed chunks[i+1].Offset, or the padded image length for the last
// chunk), then
// feeds the chunk ranges, in order, into the hash accumulator.
func HashPEChunks(image []byte, chunks []Chunk, want Want) (Digests, error) {
	padded := padTo8(image)

	for i, c := range chunks {
		if c.Offset < 0 || c.Length < 0 || c.Offset+c.Length > int64(len(padded)) {
			return Digests{}, orcerrors.New(orcerrors.CodeInvalidData, "pehash", "HashPEChunks", "chunk exceeds image bounds")
		}
		var limit int64
		if i+1 < len(chunks) {
			limit = chunks[i+1].Offset
		} else {
			limit = int64(len(padded))
		}
		if c.Offset+c.Length > limit {
			return Digests{}, orcerrors.New(orcerrors.CodeInvalidData, "pehash", "HashPEChunks", "chunk overlaps following chunk or exceeds image length")
		}
	}

	hashers, accessors := newAccumulator(want)
	w := multiWriter(hashers)
	for _, c := range chunks {
		if _, err := w.Write(padded[c.Offset : c.Offset+c.Length]); err != nil {
			return Digests{}, orcerrors.Wrap(orcerrors.CodeIOFailed, "pehash", "HashPEChunks", err)
		}
	}
	return accessors(), nil
}

func padTo8(image []byte) []byte {
	rem := len(image) % 8
	if rem == 0 {
		return image
	}
	padded := make([]byte, len(image)+(8-rem))
	copy(padded, image)
	return padded
}

func newAccumulator(want Want) ([]hash.Hash, func() Digests) {
	var md5h, sha1h, sha256h hash.Hash
	var hashers []hash.Hash
	if want.MD5 {
		md5h = md5.New()
		hashers = append(hashers, md5h)
	}
	if want.SHA1 {
		sha1h = sha1.New()
		hashers = append(hashers, sha1h)
	}
	if want.SHA256 {
		sha256h = sha256.New()
		hashers = append(hashers, sha256h)
	}
	return hashers, func() Digests {
		var d Digests
		if md5h != nil {
			d.MD5 = md5h.Sum(nil)
		}
		if sha1h != nil {
			d.SHA1 = sha1h.Sum(nil)
		}
		if sha256h != nil {
			d.SHA256 = sha256h.Sum(nil)
		}
		return d
	}
}

// multiWriter fans writes out to every hasher; on any write error the first
// one encountered is returned (hash.Hash writes never actually fail, but
// the io.Writer contract is honored regardless).
func multiWriter(hashers []hash.Hash) io.Writer {
	writers := make([]io.Writer, len(hashers))
	for i, h := range hashers {
		writers[i] = h
	}
	return io.MultiWriter(writers...)
}
