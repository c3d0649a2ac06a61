package pehash

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashContent(t *testing.T) {
	data := []byte("forensic content")
	d, err := HashContent(bytes.NewReader(data), Want{SHA256: true})
	require.NoError(t, err)
	want := sha256.Sum256(data)
	assert.Equal(t, want[:], d.SHA256)
}

func TestHashPEChunksRejectsOverlap(t *testing.T) {
	image := make([]byte, 32)
	chunks := []Chunk{{Offset: 0, Length: 10}, {Offset: 5, Length: 10}}
	_, err := HashPEChunks(image, chunks, Want{SHA256: true})
	assert.Error(t, err)
}

func TestHashPEChunksRejectsOutOfBounds(t *testing.T) {
	image := make([]byte, 16)
	chunks := []Chunk{{Offset: 0, Length: 32}}
	_, err := HashPEChunks(image, chunks, Want{SHA256: true})
	assert.Error(t, err)
}

func TestHashPEChunksOrderedNonOverlapping(t *testing.T) {
	image := []byte("0123456789abcdef")
	chunks := []Chunk{{Offset: 0, Length: 4}, {Offset: 8, Length: 4}}
	d, err := HashPEChunks(image, chunks, Want{SHA256: true})
	require.NoError(t, err)

	expected := sha256.New()
	expected.Write(image[0:4])
	expected.Write(image[8:12])
	assert.Equal(t, expected.Sum(nil), d.SHA256)
}

func TestPadTo8(t *testing.T) {
	assert.Len(t, padTo8(make([]byte, 5)), 8)
	assert.Len(t, padTo8(make([]byte, 8)), 8)
	assert.Len(t, padTo8(make([]byte, 9)), 16)
}

func TestSubtractExclusions(t *testing.T) {
	chunks := subtractExclusions(100, []Chunk{{Offset: 20, Length: 10}, {Offset: 50, Length: 5}})
	require.Len(t, chunks, 3)
	assert.Equal(t, Chunk{Offset: 0, Length: 20}, chunks[0])
	assert.Equal(t, Chunk{Offset: 30, Length: 20}, chunks[1])
	assert.Equal(t, Chunk{Offset: 55, Length: 45}, chunks[2])
}
