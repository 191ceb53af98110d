// Package chk implements content hash key (convergent) encryption.
//
// The key for a plaintext is its own sha256 hash,
// so encrypting the same plaintext twice gives the same key
// and the same ciphertext.
// Encrypted content therefore deduplicates exactly as well as plain content,
// while anyone lacking the key cannot read it.
//
// Each key encrypts exactly one plaintext,
// which is what makes the fixed all-zero nonce safe.
package chk

import (
	"crypto/cipher"
	"io"

	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bobg/hashtree"
)

// Overhead is the number of bytes that encryption adds to a plaintext.
const Overhead = chacha20poly1305.Overhead

var (
	salt = []byte("hashtree-chk")
	info = []byte("encryption-key")
)

// Encrypt encrypts plaintext under a key derived from its hash.
// The returned key is needed to decrypt the result.
func Encrypt(plaintext []byte) ([]byte, hashtree.Key, error) {
	key := hashtree.Key(hashtree.Sum(plaintext))
	aead, err := newAEAD(key)
	if err != nil {
		return nil, key, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	return aead.Seal(nil, nonce[:], plaintext, nil), key, nil
}

// Decrypt decrypts the output of Encrypt.
// A wrong key or damaged ciphertext yields an *hashtree.AuthenticationError.
func Decrypt(ciphertext []byte, key hashtree.Key) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, &hashtree.AuthenticationError{Err: errors.Errorf("ciphertext too short (%d bytes)", len(ciphertext))}
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, &hashtree.AuthenticationError{Err: err}
	}
	if hashtree.Key(hashtree.Sum(plaintext)) != key {
		return nil, &hashtree.AuthenticationError{Err: errors.New("plaintext does not match key")}
	}
	return plaintext, nil
}

// PlainSize gives the plaintext length for a ciphertext of length n.
func PlainSize(n uint64) uint64 {
	if n < Overhead {
		return 0
	}
	return n - Overhead
}

// CipherSize gives the ciphertext length for a plaintext of length n.
func CipherSize(n uint64) uint64 {
	return n + Overhead
}

func newAEAD(key hashtree.Key) (cipher.AEAD, error) {
	var derived [chacha20poly1305.KeySize]byte
	r := hkdf.New(sha256.New, key[:], salt, info)
	if _, err := io.ReadFull(r, derived[:]); err != nil {
		return nil, errors.Wrap(err, "deriving encryption key")
	}
	aead, err := chacha20poly1305.New(derived[:])
	return aead, errors.Wrap(err, "creating cipher")
}
