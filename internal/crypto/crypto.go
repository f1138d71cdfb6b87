// Package crypto provides encryption for credential records at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidKey indicates the encryption key is invalid (must be 32 bytes for AES-256)
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
	// ErrInvalidCiphertext indicates the ciphertext is too short or corrupted
	ErrInvalidCiphertext = errors.New("ciphertext too short")
	// ErrDecryptionFailed indicates decryption failed (wrong key or corrupted data)
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Scheme names recorded alongside stored records so reads use the same
// transform that produced them.
const (
	SchemeAESGCM = "aes-256-gcm"
	SchemePlain  = "plain"
)

// Cipher is a reversible transform applied to credential records before
// they hit the database.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	Scheme() string
}

// Encryptor provides AES-256-GCM encryption and decryption.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates a new Encryptor with the given 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Encryptor{gcm: gcm}, nil
}

// NewEncryptorFromSecret derives a 32-byte AES key from an arbitrary-length
// secret using HKDF-SHA256 and returns an Encryptor over it. The same
// secret and salt always derive the same key.
func NewEncryptorFromSecret(secret []byte, salt []byte) (*Encryptor, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidKey
	}
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, salt, []byte("credential-store"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return NewEncryptor(key)
}

// Scheme identifies the transform for stored records.
func (e *Encryptor) Scheme() string { return SchemeAESGCM }

// Encrypt encrypts plaintext using AES-256-GCM.
// The nonce is prepended to the ciphertext.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	// Seal appends the ciphertext to dst, which we set to the nonce
	// Result is: nonce || ciphertext || tag
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
// Expects the nonce to be prepended to the ciphertext.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// PlainCipher is the fallback transform used when no encryption secret is
// configured. It is a reversible encoding, not encryption; callers are
// expected to warn loudly when selecting it.
type PlainCipher struct{}

// Scheme identifies the transform for stored records.
func (PlainCipher) Scheme() string { return SchemePlain }

// Encrypt encodes plaintext with base64. Not confidential.
func (PlainCipher) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(plaintext)))
	base64.StdEncoding.Encode(out, plaintext)
	return out, nil
}

// Decrypt reverses Encrypt.
func (PlainCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(ciphertext)))
	n, err := base64.StdEncoding.Decode(out, ciphertext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return out[:n], nil
}

// EncryptJSON encrypts a value as JSON with the given cipher.
func EncryptJSON(c Cipher, v interface{}) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(plaintext)
}

// DecryptJSON decrypts ciphertext and unmarshals the JSON result into v.
func DecryptJSON(c Cipher, ciphertext []byte, v interface{}) error {
	plaintext, err := c.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrDecryptionFailed
	}
	return nil
}
