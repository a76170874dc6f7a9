package federation

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// peerKeyCipher encrypts peer API keys at rest with AES-GCM. None of the
// example repos carry a secrets-at-rest library (credstore only resolves
// secrets this node consumes, never encrypts ones it stores for others), so
// this uses the standard library directly rather than force-fitting an
// unrelated dependency.
type peerKeyCipher struct {
	gcm cipher.AEAD
}

func newPeerKeyCipher(key32 []byte) (*peerKeyCipher, error) {
	block, err := aes.NewCipher(key32)
	if err != nil {
		return nil, fmt.Errorf("init peer key cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}
	return &peerKeyCipher{gcm: gcm}, nil
}

func (c *peerKeyCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *peerKeyCipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := c.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, body := sealed[:nonceSize], sealed[nonceSize:]
	plain, err := c.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}
