package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/and161185/tglink/internal/errs"
)

const (
	// KeyLen is the AES-256 key size.
	KeyLen = 32

	separator = "."
	hkdfInfo  = "tglink session key v1"
)

var b64 = base64.StdEncoding

// SessionCipher encrypts session blobs with AES-256-CBC and a random IV per call.
// Output format: base64(iv) "." base64(ciphertext).
type SessionCipher struct {
	block cipher.Block
}

// NewSessionCipher builds a cipher from key material, see DeriveKey.
func NewSessionCipher(material []byte) (*SessionCipher, error) {
	key, err := DeriveKey(material)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &SessionCipher{block: block}, nil
}

// DeriveKey returns 32-byte material unchanged (compatible with blobs written using
// the raw API hash as key) and stretches anything else with HKDF-SHA256.
func DeriveKey(material []byte) ([]byte, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("%w: empty session key", errs.ErrConfiguration)
	}
	if len(material) == KeyLen {
		return bytes.Clone(material), nil
	}
	r := hkdf.New(sha256.New, material, nil, []byte(hkdfInfo))
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt pads plain with PKCS#7 and encrypts it under a fresh IV.
func (c *SessionCipher) Encrypt(plain []byte) (string, error) {
	iv, err := RandBytes(aes.BlockSize)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)
	return b64.EncodeToString(iv) + separator + b64.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any structural problem yields errs.ErrMalformedCipherText.
func (c *SessionCipher) Decrypt(text string) ([]byte, error) {
	parts := strings.Split(text, separator)
	if len(parts) != 2 {
		return nil, errs.ErrMalformedCipherText
	}
	iv, err := b64.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return nil, errs.ErrMalformedCipherText
	}
	body, err := b64.DecodeString(parts[1])
	if err != nil || len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, errs.ErrMalformedCipherText
	}
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, body)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errs.ErrMalformedCipherText
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, errs.ErrMalformedCipherText
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errs.ErrMalformedCipherText
		}
	}
	return b[:len(b)-n], nil
}
