package mailerid

import (
	"crypto/ed25519"
	"time"

	"github.com/3nsoft-go/asmail-core/xcrypto"
)

// VerifiedUser is the result of successfully verifying a certificate
// chain: the user's short-lived public signing key plus the leaf
// certificate's validity window, sufficient to verify assertions
// signed by that key.
type VerifiedUser struct {
	Address   string
	PublicKey ed25519.PublicKey
	Kid       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// VerifyChain verifies a three-level certificate chain for userAddress
// at time at, per §4.C: root -> provider -> user, checking at each step
// that the kid matches the parent's key id, that the signature verifies
// against the parent's public key, that the principal matches what is
// expected, and that the validity window (with Grace) contains the
// timestamp relevant to that level (the user cert is checked at at; the
// provider cert at the user cert's issuedAt; the root cert at the
// provider cert's issuedAt). midDomain is the MailerId domain the
// service locator resolved for userAddress's domain, and must equal the
// root certificate's principal.
func VerifyChain(chain Chain, userAddress, midDomain string, at time.Time) (*VerifiedUser, error) {
	userCert, err := decodeCertificate(chain.User)
	if err != nil {
		return nil, err
	}
	providerCert, err := decodeCertificate(chain.Provider)
	if err != nil {
		return nil, err
	}
	rootCert, err := decodeCertificate(chain.Root)
	if err != nil {
		return nil, err
	}

	if userCert.Principal.Address != userAddress {
		return nil, errf(KindCertsMismatch, "user cert principal %q != expected %q", userCert.Principal.Address, userAddress)
	}
	if userCert.Issuer != providerCert.Principal.Address {
		return nil, errf(KindCertsMismatch, "user cert issuer %q != provider principal %q", userCert.Issuer, providerCert.Principal.Address)
	}
	if providerCert.Principal.Address != rootCert.Principal.Address {
		return nil, errf(KindCertsMismatch, "provider principal %q != root principal %q", providerCert.Principal.Address, rootCert.Principal.Address)
	}
	if rootCert.Issuer != rootCert.Principal.Address {
		return nil, errf(KindCertsMismatch, "root cert is not self-principaled: issuer %q != principal %q", rootCert.Issuer, rootCert.Principal.Address)
	}
	if rootCert.Principal.Address != midDomain {
		return nil, errf(KindCertsMismatch, "root principal %q != mailerid domain %q", rootCert.Principal.Address, midDomain)
	}

	// user signed by provider.
	if chain.User.Kid != providerCert.PublicKey.Kid {
		return nil, errf(KindCertsMismatch, "user cert kid %q != provider key id %q", chain.User.Kid, providerCert.PublicKey.Kid)
	}
	if !xcrypto.Verify(providerCert.PublicKey.K, chain.User.Load, chain.User.Sig) {
		return nil, errf(KindSigVerificationFails, "user cert signature")
	}
	if err := checkValidity(userCert, at); err != nil {
		return nil, err
	}

	// provider signed by root, checked at the user cert's issuedAt.
	if chain.Provider.Kid != rootCert.PublicKey.Kid {
		return nil, errf(KindCertsMismatch, "provider cert kid %q != root key id %q", chain.Provider.Kid, rootCert.PublicKey.Kid)
	}
	if !xcrypto.Verify(rootCert.PublicKey.K, chain.Provider.Load, chain.Provider.Sig) {
		return nil, errf(KindSigVerificationFails, "provider cert signature")
	}
	if err := checkValidity(providerCert, userCert.issuedAtTime()); err != nil {
		return nil, err
	}

	// root is self-signed, checked at the provider cert's issuedAt.
	if chain.Root.Kid != rootCert.PublicKey.Kid {
		return nil, errf(KindCertsMismatch, "root cert kid %q != its own key id %q", chain.Root.Kid, rootCert.PublicKey.Kid)
	}
	if !xcrypto.Verify(rootCert.PublicKey.K, chain.Root.Load, chain.Root.Sig) {
		return nil, errf(KindSigVerificationFails, "root cert signature")
	}
	if err := checkValidity(rootCert, providerCert.issuedAtTime()); err != nil {
		return nil, err
	}

	return &VerifiedUser{
		Address:   userCert.Principal.Address,
		PublicKey: ed25519.PublicKey(userCert.PublicKey.K),
		Kid:       userCert.PublicKey.Kid,
		IssuedAt:  userCert.issuedAtTime(),
		ExpiresAt: userCert.expiresAtTime(),
	}, nil
}

// VerifyKeyCertificate opens sl as a Certificate signed by user's
// verified chain at time t: the shape a published introductory key's
// box public key is certified under, one level below the full MailerId
// chain (§4.G, §4.K), mirroring VerifyAssertion's kid/signature checks
// but decoding a Certificate payload instead of an Assertion.
func VerifyKeyCertificate(sl SignedLoad, user *VerifiedUser, t time.Time) (*Certificate, error) {
	if sl.Kid != user.Kid {
		return nil, errf(KindCertsMismatch, "certificate kid %q != chain user key id %q", sl.Kid, user.Kid)
	}
	if !xcrypto.Verify(user.PublicKey, sl.Load, sl.Sig) {
		return nil, errf(KindSigVerificationFails, "certificate signature")
	}
	c, err := decodeCertificate(sl)
	if err != nil {
		return nil, err
	}
	if c.Principal.Address != user.Address {
		return nil, errf(KindCertsMismatch, "certificate principal %q != chain user %q", c.Principal.Address, user.Address)
	}
	if err := checkValidity(c, t); err != nil {
		return nil, err
	}
	return &c, nil
}

// checkValidity enforces issuedAt-Grace <= t < expiresAt.
func checkValidity(c Certificate, t time.Time) error {
	lower := c.issuedAtTime().Add(-Grace)
	if t.Before(lower) {
		return errf(KindTimeMismatch, "t %s before issuedAt-grace %s", t, lower)
	}
	if !t.Before(c.expiresAtTime()) {
		return errf(KindTimeMismatch, "t %s not before expiresAt %s", t, c.expiresAtTime())
	}
	return nil
}

// VerifyAssertion opens sl as an Assertion signed by user's verified
// chain, requiring a matching user and a non-empty sessionId, and
// enforcing |t - issuedAt| <= (expiresAt - issuedAt).
func VerifyAssertion(sl SignedLoad, user *VerifiedUser, t time.Time) (*Assertion, error) {
	if sl.Kid != user.Kid {
		return nil, errf(KindCertsMismatch, "assertion kid %q != chain user key id %q", sl.Kid, user.Kid)
	}
	if !xcrypto.Verify(user.PublicKey, sl.Load, sl.Sig) {
		return nil, errf(KindSigVerificationFails, "assertion signature")
	}
	a, err := decodeAssertion(sl.Load)
	if err != nil {
		return nil, err
	}
	if a.User != user.Address {
		return nil, errf(KindCertsMismatch, "assertion user %q != chain user %q", a.User, user.Address)
	}
	issuedAt := time.Unix(a.IssuedAt, 0).UTC()
	expiresAt := time.Unix(a.ExpiresAt, 0).UTC()
	validFor := expiresAt.Sub(issuedAt)
	delta := t.Sub(issuedAt)
	if delta < 0 {
		delta = -delta
	}
	if delta > validFor {
		return nil, errf(KindTimeMismatch, "|t-issuedAt|=%s exceeds validity %s", delta, validFor)
	}
	return &a, nil
}
