package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Placeholder is shown in place of a message body that cannot be
// decrypted (corrupt row, rotated key, legacy data). Display must never
// fail on bad ciphertext.
const Placeholder = "[unreadable message]"

var errCiphertextTooShort = errors.New("ciphertext too short")

// Codec encrypts and decrypts stored message bodies with a single
// process-wide XChaCha20-Poly1305 key. Ciphertext is base64-encoded so
// it fits in a TEXT column.
type Codec struct {
	aead      cipher.AEAD
	generated bool
}

// NewCodec builds a Codec from a base64-encoded 32-byte key. When the
// key is empty or unusable a random key is generated instead; the codec
// still works but KeyGenerated reports true so callers can flag the
// deployment as unconfigured.
func NewCodec(base64Key string) (*Codec, error) {
	key, generated := resolveKey(base64Key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Codec{aead: aead, generated: generated}, nil
}

func resolveKey(base64Key string) ([]byte, bool) {
	if base64Key != "" {
		key, err := base64.StdEncoding.DecodeString(base64Key)
		if err == nil && len(key) == chacha20poly1305.KeySize {
			return key, false
		}
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		// rand.Read failing means the platform entropy source is broken;
		// nothing sensible to fall back to.
		panic(fmt.Sprintf("crypto: read random key: %v", err))
	}
	return key, true
}

// KeyGenerated reports whether the codec runs on a generated dev-mode
// key rather than a configured one.
func (c *Codec) KeyGenerated() bool {
	return c.generated
}

// Encrypt seals plaintext and returns base64 ciphertext. On failure the
// caller stores the plaintext unencrypted and marks the row accordingly.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64 ciphertext produced by Encrypt.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", errCiphertextTooShort
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}

// Reveal returns the readable body of a stored message. Unencrypted
// rows (the encryption fallback path) pass through untouched; rows that
// fail to decrypt yield the placeholder.
func (c *Codec) Reveal(body string, encrypted bool) string {
	if !encrypted {
		return body
	}
	plaintext, err := c.Decrypt(body)
	if err != nil {
		return Placeholder
	}
	return plaintext
}
