package envelope

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"orc-import/internal/orcstream"
)

type memKeyStore struct {
	thumbprint []byte
	priv       *rsa.PrivateKey
	cert       *x509.Certificate
}

func (m *memKeyStore) Lookup(thumbprint []byte) (*rsa.PrivateKey, *x509.Certificate, error) {
	if !bytes.Equal(thumbprint, m.thumbprint) {
		return nil, nil, errNotFound
	}
	return m.priv, m.cert, nil
}

var errNotFound = &lookupErr{}

type lookupErr struct{}

func (e *lookupErr) Error() string { return "recipient not found" }

func makeTestRecipient(t *testing.T) *memKeyStore {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-recipient"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	sum := sha256.Sum256(der)
	return &memKeyStore{thumbprint: sum[:], priv: priv, cert: cert}
}

func seal(t *testing.T, ks *memKeyStore, plaintext []byte) []byte {
	t.Helper()
	cek := make([]byte, 32)
	_, err := rand.Read(cek)
	require.NoError(t, err)

	block, err := aes.NewCipher(cek)
	require.NoError(t, err)

	padded := pkcs7Pad(plaintext, block.BlockSize())
	iv := make([]byte, block.BlockSize())
	_, err = rand.Read(iv)
	require.NoError(t, err)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	encKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &ks.priv.PublicKey, cek, nil)
	require.NoError(t, err)

	msg := sealedMessage{
		RecipientCertThumbprint: ks.thumbprint,
		EncryptedKey:            encKey,
		IV:                      iv,
		Ciphertext:              ciphertext,
	}
	der, err := asn1.Marshal(msg)
	require.NoError(t, err)
	return der
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func TestDecodeRoundTrip(t *testing.T) {
	ks := makeTestRecipient(t)
	plaintext := []byte("hello, forensic world")
	sealedBytes := seal(t, ks, plaintext)

	sealedStream := orcstream.NewMemoryStream(len(sealedBytes))
	_, err := sealedStream.Write(sealedBytes)
	require.NoError(t, err)
	_, err = sealedStream.Seek(0, io.SeekStart)
	require.NoError(t, err)

	out, subject, err := Decode(context.Background(), sealedStream, ks)
	require.NoError(t, err)
	require.Equal(t, "CN=test-recipient", subject)

	var buf bytes.Buffer
	_, err = out.CopyTo(&buf)
	require.NoError(t, err)
	require.Equal(t, plaintext, buf.Bytes())
}

func TestDetectAndReplayJournal(t *testing.T) {
	var raw bytes.Buffer
	raw.Write(journalMagic[:])
	writeRecord(&raw, []byte("record-one"))
	writeRecord(&raw, []byte("record-two"))

	stream := orcstream.NewMemoryStream(raw.Len())
	_, err := stream.Write(raw.Bytes())
	require.NoError(t, err)
	_, err = stream.Seek(0, io.SeekStart)
	require.NoError(t, err)

	isJournal, err := DetectJournal(stream)
	require.NoError(t, err)
	require.True(t, isJournal)

	dst := orcstream.NewMemoryStream(0)
	require.NoError(t, ReplayJournal(stream, dst))

	var got bytes.Buffer
	_, err = dst.CopyTo(&got)
	require.NoError(t, err)
	require.Equal(t, "record-onerecord-two", got.String())
}

func writeRecord(buf *bytes.Buffer, rec []byte) {
	var lenBuf [4]byte
	le := uint32(len(rec))
	lenBuf[0] = byte(le)
	lenBuf[1] = byte(le >> 8)
	lenBuf[2] = byte(le >> 16)
	lenBuf[3] = byte(le >> 24)
	buf.Write(lenBuf[:])
	buf.Write(rec)
}
