// Package xcrypto provides the key-material primitives the rest of the
// core builds on: Ed25519 signing keys for MailerId, and Diffie-Hellman
// box keys for keyring pair derivation. The actual bulk authenticated
// encryption of XSP segments is treated as an injected, swappable
// primitive (see Cryptor) per the out-of-scope "async secret-box API"
// named in the specification; this package ships one concrete Cryptor
// over NaCl secretbox for local use and tests.
package xcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// BoxKeyPair is a Diffie-Hellman key pair used to derive shared master
// keys for the keyring (introductory and established pairs alike).
type BoxKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateBoxKeyPair creates a new random Curve25519 key pair.
func GenerateBoxKeyPair() (*BoxKeyPair, error) {
	log := logrus.WithFields(logrus.Fields{"package": "xcrypto", "function": "GenerateBoxKeyPair"})

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		log.WithError(err).Error("key generation failed")
		return nil, err
	}
	return &BoxKeyPair{Public: *pub, Private: *priv}, nil
}

// SharedMasterKey performs a Curve25519 Diffie-Hellman exchange between
// our private key and their public key, returning a 32-byte master key
// suitable for seeding a Cryptor. It is the sole DH primitive behind
// both introductory and established correspondent pairs (§4.G).
func SharedMasterKey(ourPrivate, theirPublic [32]byte) ([32]byte, error) {
	var shared [32]byte
	scalarOut, err := curve25519.X25519(ourPrivate[:], theirPublic[:])
	if err != nil {
		return shared, err
	}
	copy(shared[:], scalarOut)
	return shared, nil
}

// SigningKeyPair is an Ed25519 key pair used at every level of the
// MailerId certificate chain (root, provider, user/sign).
type SigningKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSigningKeyPair creates a new random Ed25519 signing key pair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &SigningKeyPair{Public: pub, Private: priv}, nil
}

// Sign signs message with the private key.
func (kp *SigningKeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.Private, message)
}

// Verify checks a signature against a raw Ed25519 public key.
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(message) == 0 {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// ErrEmptyMessage names the refusal of an empty payload, since an empty
// load is never a meaningful certificate or assertion body. No function
// in this package returns it; Verify reports an empty message as false.
var ErrEmptyMessage = errors.New("xcrypto: empty message")
