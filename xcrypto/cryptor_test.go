package xcrypto_test

import (
	"testing"

	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretboxRoundTrip(t *testing.T) {
	var key [xcrypto.KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	nonce, err := xcrypto.RandomNonce()
	require.NoError(t, err)

	c := xcrypto.SecretboxCryptor{}
	plain := []byte("hello, correspondent")
	ct := c.Seal(key, nonce, plain)
	got, err := c.Open(key, nonce, ct)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestSecretboxTamperDetected(t *testing.T) {
	var key [xcrypto.KeySize]byte
	nonce, _ := xcrypto.RandomNonce()
	c := xcrypto.SecretboxCryptor{}
	ct := c.Seal(key, nonce, []byte("payload"))
	ct[0] ^= 0xFF
	_, err := c.Open(key, nonce, ct)
	assert.ErrorIs(t, err, xcrypto.ErrAuthFailed)
}

func TestSharedMasterKeySymmetric(t *testing.T) {
	a, err := xcrypto.GenerateBoxKeyPair()
	require.NoError(t, err)
	b, err := xcrypto.GenerateBoxKeyPair()
	require.NoError(t, err)

	sharedA, err := xcrypto.SharedMasterKey(a.Private, b.Public)
	require.NoError(t, err)
	sharedB, err := xcrypto.SharedMasterKey(b.Private, a.Public)
	require.NoError(t, err)
	assert.Equal(t, sharedA, sharedB)
}

func TestSignVerify(t *testing.T) {
	kp, err := xcrypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	msg := []byte("certify me")
	sig := kp.Sign(msg)
	assert.True(t, xcrypto.Verify(kp.Public, msg, sig))
	assert.False(t, xcrypto.Verify(kp.Public, []byte("other"), sig))
}
