package mapper

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	nonceSize = 12
	tagSize   = 16
)

// ErrCrypto indicates a payload could not be decrypted: it is corrupted,
// truncated, or was encrypted under a different key. Never retried.
var ErrCrypto = errors.New("decryption failed")

// Cipher provides payload confidentiality. Implementations own their own
// nonce and integrity-tag framing.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESGCMCipher is an AES-GCM Cipher with the wire format
//
//	nonce (12 bytes) || authentication tag (16 bytes) || ciphertext
//
// Decryption fails closed with ErrCrypto on tag mismatch or truncated
// input.
type AESGCMCipher struct {
	aead cipher.AEAD
}

// NewAESGCMCipher creates a cipher from a 16, 24 or 32 byte key.
func NewAESGCMCipher(key []byte) (*AESGCMCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid cipher key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESGCMCipher{aead: aead}, nil
}

// Encrypt implements Cipher.
func (c *AESGCMCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal produces ciphertext||tag; the wire format wants the tag
	// between nonce and ciphertext.
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt implements Cipher.
func (c *AESGCMCipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < nonceSize+tagSize {
		return nil, fmt.Errorf("%w: input truncated", ErrCrypto)
	}
	nonce := data[:nonceSize]
	tag := data[nonceSize : nonceSize+tagSize]
	ciphertext := data[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return plaintext, nil
}
