package xcrypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// NonceSize is the size in bytes of the nonce consumed by Cryptor.
const NonceSize = 24

// KeySize is the size in bytes of a Cryptor master key.
const KeySize = 32

// ErrAuthFailed is returned by Open when the ciphertext does not
// authenticate under the given key and nonce.
var ErrAuthFailed = errors.New("xcrypto: authentication failed")

// Cryptor is the shape of the low-level authenticated-encryption
// primitive the specification calls an "async secret-box API" and
// places out of scope for this core to implement: callers only ever
// see this interface, and a production embedder may swap in a
// different primitive (e.g. one backed by hardware key storage)
// without XSP or the keyring changing a line.
type Cryptor interface {
	// Seal authenticates and encrypts plaintext under key and nonce,
	// returning ciphertext with the authentication tag appended.
	Seal(key [KeySize]byte, nonce [NonceSize]byte, plaintext []byte) []byte
	// Open authenticates and decrypts ciphertext (as produced by Seal)
	// under key and nonce.
	Open(key [KeySize]byte, nonce [NonceSize]byte, ciphertext []byte) ([]byte, error)
}

// SecretboxCryptor implements Cryptor over golang.org/x/crypto/nacl/secretbox
// (XSalsa20-Poly1305). It is the default Cryptor used by tests and by any
// embedder that has not supplied its own.
type SecretboxCryptor struct{}

var _ Cryptor = SecretboxCryptor{}

// Seal implements Cryptor.
func (SecretboxCryptor) Seal(key [KeySize]byte, nonce [NonceSize]byte, plaintext []byte) []byte {
	return secretbox.Seal(nil, plaintext, &nonce, &key)
}

// Open implements Cryptor.
func (SecretboxCryptor) Open(key [KeySize]byte, nonce [NonceSize]byte, ciphertext []byte) ([]byte, error) {
	plain, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return nil, ErrAuthFailed
	}
	return plain, nil
}

// RandomNonce returns a fresh random 24-byte nonce.
func RandomNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	_, err := rand.Read(n[:])
	return n, err
}
