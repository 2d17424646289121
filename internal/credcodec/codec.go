// Package credcodec encrypts and decrypts token records with a passphrase-derived key.
//
// Keys are derived with PBKDF2-HMAC-SHA256 and blobs are sealed with
// XChaCha20-Poly1305, so any modification, truncation or wrong key makes Decrypt fail
// with ErrDecryption instead of returning garbage.
package credcodec

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

const (
	// Iterations is the PBKDF2 iteration count.
	Iterations = 100_000
	// KeySize is the derived key length in bytes.
	KeySize = chacha20poly1305.KeySize

	blobVersion byte = 1
	headerSize       = 1 + chacha20poly1305.NonceSizeX
)

// DefaultSalt is used when no salt is configured. It is public and offers no
// protection against precomputation; the passphrase must carry the secrecy.
var DefaultSalt = []byte("rss2kobo_salt_123")

// ErrDecryption is returned for tampered, truncated or foreign blobs and wrong keys.
var ErrDecryption = errors.New("credential decryption failed")

// Key is a derived symmetric key. It is never persisted.
type Key [KeySize]byte

// DeriveKey derives a key from passphrase and salt. A nil salt selects DefaultSalt.
// The salt actually used is returned so callers can record it.
func DeriveKey(passphrase string, salt []byte) (Key, []byte) {
	if salt == nil {
		salt = DefaultSalt
	}
	var k Key
	copy(k[:], pbkdf2.Key([]byte(passphrase), salt, Iterations, KeySize, sha256.New))
	return k, salt
}

// Encrypt seals plaintext under key. Layout: version | nonce | ciphertext+tag.
func Encrypt(key Key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	blob := make([]byte, headerSize, headerSize+len(plaintext)+aead.Overhead())
	blob[0] = blobVersion
	nonce := blob[1:headerSize]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aead.Seal(blob, nonce, plaintext, blob[:1]), nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(key Key, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	if len(blob) < headerSize+aead.Overhead() {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", ErrDecryption, len(blob))
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("%w: unsupported blob version %d", ErrDecryption, blob[0])
	}

	plaintext, err := aead.Open(nil, blob[1:headerSize], blob[headerSize:], blob[:1])
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return plaintext, nil
}

// Codec seals and opens token records under a fixed key.
type Codec struct {
	key Key
}

// New derives the key once and returns a Codec bound to it.
func New(passphrase string, salt []byte) *Codec {
	key, _ := DeriveKey(passphrase, salt)
	return &Codec{key: key}
}

// NewWithKey returns a Codec for an already derived key.
func NewWithKey(key Key) *Codec {
	return &Codec{key: key}
}

// Seal encodes and encrypts a record.
func (c *Codec) Seal(r *credential.TokenRecord) ([]byte, error) {
	data, err := credential.Encode(r)
	if err != nil {
		return nil, err
	}
	return Encrypt(c.key, data)
}

// Open decrypts and decodes a record. Decryption failures wrap ErrDecryption.
func (c *Codec) Open(blob []byte) (*credential.TokenRecord, error) {
	data, err := Decrypt(c.key, blob)
	if err != nil {
		return nil, err
	}
	return credential.Decode(data)
}
