package mailerid

import (
	"encoding/json"
	"time"

	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/3nsoft-go/asmail-core/xtime"
	"github.com/google/uuid"
)

// Signer holds a short-lived ephemeral signing key bound to a verified
// user certificate chain and issues session assertions or further key
// certificates on the user's behalf (§3 MailerIdSigner).
type Signer struct {
	userAddress   string
	keyPair       *xcrypto.SigningKeyPair
	kid           string
	userCertChain Chain
	certExpiresAt time.Time
	clock         xtime.Provider
}

// NewSigner builds a Signer from a freshly generated ephemeral signing
// key, a userCertChain that certifies kid/keyPair.Public under
// userAddress, and the expiry of that certification.
func NewSigner(userAddress string, keyPair *xcrypto.SigningKeyPair, kid string, userCertChain Chain, certExpiresAt time.Time, clock xtime.Provider) *Signer {
	if clock == nil {
		clock = xtime.Default()
	}
	return &Signer{
		userAddress:   userAddress,
		keyPair:       keyPair,
		kid:           kid,
		userCertChain: userCertChain,
		certExpiresAt: certExpiresAt,
		clock:         clock,
	}
}

// GenerateAssertionFor issues a session assertion for rpDomain and
// sessionId, valid for validFor (clamped by MaxAssertionValidity and by
// the remaining life of the signer's own certification).
func (s *Signer) GenerateAssertionFor(rpDomain, sessionID string, validFor time.Duration) (SignedLoad, error) {
	now := s.clock.Now()

	if validFor <= 0 || validFor > MaxAssertionValidity {
		validFor = MaxAssertionValidity
	}
	if remaining := s.certExpiresAt.Sub(now); remaining < validFor {
		validFor = remaining
	}
	if validFor <= 0 {
		return SignedLoad{}, errf(KindTimeMismatch, "signer's own certification has expired")
	}

	a := Assertion{
		User:      s.userAddress,
		RPDomain:  rpDomain,
		SessionID: sessionID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(validFor).Unix(),
	}
	return s.signLoad(a)
}

// CertifyPublicKey issues a new Certificate for pkey, valid for
// validFor, signed by the signer's ephemeral key. This is how the
// keyring certifies a published introductory key pair (§4.G) without
// going back to the full MailerId provider flow.
func (s *Signer) CertifyPublicKey(pkey JWKey, validFor time.Duration) (SignedLoad, error) {
	now := s.clock.Now()
	c := Certificate{
		Principal: Principal{Address: s.userAddress},
		PublicKey: pkey,
		Issuer:    s.userAddress,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(validFor).Unix(),
	}
	return s.signLoad(c)
}

// Sign signs arbitrary bytes with the signer's ephemeral key and
// returns the raw signature alongside the provider and user certs of
// the chain, so a message header can embed everything a receiver needs
// to verify it without a separate fetch (§4.G message packing).
func (s *Signer) Sign(bytes []byte) (sig []byte, providerCert, userCert SignedLoad, err error) {
	return s.keyPair.Sign(bytes), s.userCertChain.Provider, s.userCertChain.User, nil
}

// Chain returns the signer's bound certificate chain.
func (s *Signer) Chain() Chain { return s.userCertChain }

// Kid returns the key id of the signer's ephemeral signing key, as
// certified in userCertChain.User.
func (s *Signer) Kid() string { return s.kid }

func (s *Signer) signLoad(payload interface{}) (SignedLoad, error) {
	load, err := json.Marshal(payload)
	if err != nil {
		return SignedLoad{}, errf(KindCertMalformed, "%v", err)
	}
	return SignedLoad{
		Alg:  "Ed25519",
		Kid:  s.kid,
		Load: load,
		Sig:  s.keyPair.Sign(load),
	}, nil
}

// NewKid returns a fresh random key id, suitable for a newly minted
// signing or box key pair.
func NewKid() string {
	return uuid.NewString()
}
