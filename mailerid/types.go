// Package mailerid implements the MailerId identity protocol: a
// three-level Ed25519 certificate chain (root -> provider -> user),
// verification of such chains, and issuance of short-lived session
// assertions used to authenticate to relying-party services.
package mailerid

import (
	"crypto/ed25519"
	"encoding/json"
	"time"
)

// Grace is the clock-skew allowance applied to every validity check:
// a certificate is accepted up to Grace before its nominal issuedAt.
const Grace = 20 * time.Minute

// MaxAssertionValidity bounds how long a single session assertion may
// be valid for, regardless of what the caller requests.
const MaxAssertionValidity = 30 * time.Minute

// JWKey is a minimal JSON Web Key-shaped wrapper around raw key bytes,
// used for both the certificate chain's Ed25519 keys and keyring pair
// halves published as JSON.
type JWKey struct {
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	K   []byte `json:"k"`
}

// Principal names the certificate's subject by canonical address (a
// user address for the user cert, a provider domain for root/provider
// certs).
type Principal struct {
	Address string `json:"address"`
}

// Certificate is the payload carried inside a SignedLoad at every
// level of the chain.
type Certificate struct {
	Principal  Principal `json:"principal"`
	PublicKey  JWKey     `json:"publicKey"`
	Issuer     string    `json:"issuer"`
	IssuedAt   int64     `json:"issuedAt"`
	ExpiresAt  int64     `json:"expiresAt"`
}

func (c Certificate) issuedAtTime() time.Time  { return time.Unix(c.IssuedAt, 0).UTC() }
func (c Certificate) expiresAtTime() time.Time { return time.Unix(c.ExpiresAt, 0).UTC() }

// SignedLoad is a tuple {alg, kid, load, sig}: load is a serialized
// payload (a Certificate or an Assertion, as canonical JSON) and sig is
// an Ed25519 signature over load by the key identified by kid.
type SignedLoad struct {
	Alg  string `json:"alg"`
	Kid  string `json:"kid"`
	Load []byte `json:"load"`
	Sig  []byte `json:"sig"`
}

// Chain is the three SignedLoads that make up a MailerId certificate
// chain: root (self-signed by the provider domain), provider (signed
// by root), user (signed by provider).
type Chain struct {
	Root     SignedLoad `json:"root"`
	Provider SignedLoad `json:"provider"`
	User     SignedLoad `json:"user"`
}

// Assertion is the payload signed by a user's short-lived signing key
// to authenticate a session to a relying party.
type Assertion struct {
	User      string `json:"user"`
	RPDomain  string `json:"rpDomain"`
	SessionID string `json:"sessionId"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// decodeCertificate parses a SignedLoad's load as a Certificate,
// rejecting malformed JSON or an unexpected signing algorithm.
func decodeCertificate(sl SignedLoad) (Certificate, error) {
	if sl.Alg != "" && sl.Alg != "Ed25519" {
		return Certificate{}, errf(KindAlgMismatch, "unknown alg %q", sl.Alg)
	}
	var c Certificate
	if err := json.Unmarshal(sl.Load, &c); err != nil {
		return Certificate{}, errf(KindCertMalformed, "%v", err)
	}
	if c.Principal.Address == "" || c.PublicKey.Kid == "" || len(c.PublicKey.K) != ed25519.PublicKeySize {
		return Certificate{}, errf(KindCertMalformed, "missing required field")
	}
	return c, nil
}

func decodeAssertion(load []byte) (Assertion, error) {
	var a Assertion
	if err := json.Unmarshal(load, &a); err != nil {
		return Assertion{}, errf(KindCertMalformed, "%v", err)
	}
	if a.User == "" || a.SessionID == "" {
		return Assertion{}, errf(KindCertMalformed, "missing required field")
	}
	return a, nil
}
