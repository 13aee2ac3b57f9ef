package cache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	stderrors "errors"
	"fmt"
)

var errCiphertextTooShort = stderrors.New("ciphertext shorter than nonce")

// encryptor seals and opens cache values with AES-GCM. Each sealed value
// carries its random nonce as a prefix.
type encryptor struct {
	aead cipher.AEAD
}

// newEncryptor builds an encryptor from a 16, 24, or 32 byte key.
func newEncryptor(key []byte) (*encryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &encryptor{aead: aead}, nil
}

func (e *encryptor) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *encryptor) open(sealed []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(sealed) < ns {
		return nil, errCiphertextTooShort
	}
	return e.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
}
