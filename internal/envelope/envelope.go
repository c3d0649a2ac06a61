// Package envelope implements the envelope decoder: unwrapping a
// sealed, enveloped message into its plaintext stream, exposing the
// recipient certificate subject that unwrapped it, and detecting/replaying
// a journaling wrapper if the plaintext turns out to be one.
//
// No CMS/PKCS#7 library appears anywhere in the example corpus this module
// was grounded on, so the DER structure below is a minimal, self-contained
// enveloped-data encoding parsed with the standard library's
// encoding/asn1 + crypto/x509 + crypto/rsa + crypto/aes, matching the
// corpus's general pattern of reaching for stdlib crypto primitives
// directly rather than through a wrapper package.
package envelope

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"io"

	"orc-import/internal/orcstream"
	"orc-import/pkg/orcerrors"
)

// sealedMessage is the DER sequence this decoder expects:
// { recipientCertThumbprint OCTET STRING, encryptedKey OCTET STRING,
//   iv OCTET STRING, ciphertext OCTET STRING }.
type sealedMessage struct {
	RecipientCertThumbprint []byte
	EncryptedKey            []byte
	IV                      []byte
	Ciphertext              []byte
}

// KeyStore resolves a recipient certificate thumbprint (SHA-256 of the DER
// certificate) to the RSA private key able to unwrap that recipient's
// encrypted content-encryption key, plus the certificate itself (for
// exposing its subject in the success notification).
type KeyStore interface {
	Lookup(thumbprint []byte) (*rsa.PrivateKey, *x509.Certificate, error)
}

// Decode unwraps a sealed message read in full from sealed, returning a
// Stream over the plaintext and the subject of the recipient certificate
// that unwrapped it.
func Decode(ctx context.Context, sealed orcstream.Stream, keys KeyStore) (orcstream.Stream, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	raw, err := readAll(sealed)
	if err != nil {
		return nil, "", orcerrors.Wrap(orcerrors.CodeIOFailed, "envelope", "Decode", err)
	}

	var msg sealedMessage
	if _, err := asn1.Unmarshal(raw, &msg); err != nil {
		return nil, "", orcerrors.Wrap(orcerrors.CodeDecodeFailed, "envelope", "Decode", err)
	}

	priv, cert, err := keys.Lookup(msg.RecipientCertThumbprint)
	if err != nil {
		return nil, "", orcerrors.Wrap(orcerrors.CodeDecodeFailed, "envelope", "Decode", err)
	}

	cek, err := rsa.DecryptOAEP(sha256.New(), nil, priv, msg.EncryptedKey, nil)
	if err != nil {
		return nil, "", orcerrors.Wrap(orcerrors.CodeDecodeFailed, "envelope", "Decode", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, "", orcerrors.Wrap(orcerrors.CodeDecodeFailed, "envelope", "Decode", err)
	}
	if len(msg.IV) != block.BlockSize() {
		return nil, "", orcerrors.New(orcerrors.CodeDecodeFailed, "envelope", "Decode", "malformed iv length")
	}
	if len(msg.Ciphertext)%block.BlockSize() != 0 {
		return nil, "", orcerrors.New(orcerrors.CodeDecodeFailed, "envelope", "Decode", "ciphertext is not block-aligned")
	}

	plaintext := make([]byte, len(msg.Ciphertext))
	cbc := cipher.NewCBCDecrypter(block, msg.IV)
	cbc.CryptBlocks(plaintext, msg.Ciphertext)
	plaintext, err = unpadPKCS7(plaintext, block.BlockSize())
	if err != nil {
		return nil, "", orcerrors.Wrap(orcerrors.CodeDecodeFailed, "envelope", "Decode", err)
	}

	out := orcstream.NewMemoryStream(len(plaintext))
	if _, err := out.Write(plaintext); err != nil {
		return nil, "", orcerrors.Wrap(orcerrors.CodeIOFailed, "envelope", "Decode", err)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return nil, "", orcerrors.Wrap(orcerrors.CodeIOFailed, "envelope", "Decode", err)
	}

	return out, cert.Subject.String(), nil
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, orcerrors.New(orcerrors.CodeDecodeFailed, "envelope", "unpadPKCS7", "invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, orcerrors.New(orcerrors.CodeDecodeFailed, "envelope", "unpadPKCS7", "invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, orcerrors.New(orcerrors.CodeDecodeFailed, "envelope", "unpadPKCS7", "invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}

func readAll(s orcstream.Stream) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.Seek(0, io.SeekStart); err == nil {
		// best effort; decoder-adapter streams may not support seek
	}
	if _, err := s.CopyTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
