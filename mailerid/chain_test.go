package mailerid_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/3nsoft-go/asmail-core/mailerid"
	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/3nsoft-go/asmail-core/xtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type builtChain struct {
	chain      mailerid.Chain
	userKey    *xcrypto.SigningKeyPair
	userKid    string
	domain     string
	userAddr   string
	issuedUser time.Time
	expireUser time.Time
}

// buildChain constructs a valid three-level chain with everything
// issued at issuedBase and expiring after validFor at each level.
func buildChain(t *testing.T, domain, userAddr string, issuedBase time.Time, validFor time.Duration) builtChain {
	t.Helper()

	rootKP, err := xcrypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	rootKid := "root-1"
	rootCert := mailerid.Certificate{
		Principal: mailerid.Principal{Address: domain},
		PublicKey: mailerid.JWKey{Alg: "Ed25519", Use: "sign", Kid: rootKid, K: []byte(rootKP.Public)},
		Issuer:    domain,
		IssuedAt:  issuedBase.Unix(),
		ExpiresAt: issuedBase.Add(validFor).Unix(),
	}
	rootLoad, err := json.Marshal(rootCert)
	require.NoError(t, err)
	rootSL := mailerid.SignedLoad{Alg: "Ed25519", Kid: rootKid, Load: rootLoad, Sig: rootKP.Sign(rootLoad)}

	providerKP, err := xcrypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	providerKid := "provider-1"
	providerCert := mailerid.Certificate{
		Principal: mailerid.Principal{Address: domain},
		PublicKey: mailerid.JWKey{Alg: "Ed25519", Use: "sign", Kid: providerKid, K: []byte(providerKP.Public)},
		Issuer:    domain,
		IssuedAt:  issuedBase.Unix(),
		ExpiresAt: issuedBase.Add(validFor).Unix(),
	}
	providerLoad, err := json.Marshal(providerCert)
	require.NoError(t, err)
	providerSL := mailerid.SignedLoad{Alg: "Ed25519", Kid: rootKid, Load: providerLoad, Sig: rootKP.Sign(providerLoad)}

	userKP, err := xcrypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	userKid := "user-1"
	userIssued := issuedBase
	userExpires := issuedBase.Add(validFor)
	userCert := mailerid.Certificate{
		Principal: mailerid.Principal{Address: userAddr},
		PublicKey: mailerid.JWKey{Alg: "Ed25519", Use: "sign", Kid: userKid, K: []byte(userKP.Public)},
		Issuer:    domain,
		IssuedAt:  userIssued.Unix(),
		ExpiresAt: userExpires.Unix(),
	}
	userLoad, err := json.Marshal(userCert)
	require.NoError(t, err)
	userSL := mailerid.SignedLoad{Alg: "Ed25519", Kid: providerKid, Load: userLoad, Sig: providerKP.Sign(userLoad)}

	return builtChain{
		chain:      mailerid.Chain{Root: rootSL, Provider: providerSL, User: userSL},
		userKey:    userKP,
		userKid:    userKid,
		domain:     domain,
		userAddr:   userAddr,
		issuedUser: userIssued,
		expireUser: userExpires,
	}
}

func TestVerifyChainSucceedsInsideValidity(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bc := buildChain(t, "example.org", "alice@example.org", base, 24*time.Hour)

	vu, err := mailerid.VerifyChain(bc.chain, bc.userAddr, bc.domain, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, bc.userAddr, vu.Address)
	assert.Equal(t, bc.userKid, vu.Kid)
}

func TestVerifyChainFailsOutsideValidity(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bc := buildChain(t, "example.org", "alice@example.org", base, time.Hour)

	_, err := mailerid.VerifyChain(bc.chain, bc.userAddr, bc.domain, base.Add(2*time.Hour))
	var merr *mailerid.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, mailerid.KindTimeMismatch, merr.Kind)
}

func TestVerifyChainFailsOnWrongPrincipal(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bc := buildChain(t, "example.org", "alice@example.org", base, 24*time.Hour)

	_, err := mailerid.VerifyChain(bc.chain, "bob@example.org", bc.domain, base.Add(time.Hour))
	var merr *mailerid.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, mailerid.KindCertsMismatch, merr.Kind)
}

func TestVerifyChainFailsOnWrongDomain(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bc := buildChain(t, "example.org", "alice@example.org", base, 24*time.Hour)

	_, err := mailerid.VerifyChain(bc.chain, bc.userAddr, "evil.org", base.Add(time.Hour))
	assert.Error(t, err)
}

func TestAssertionRoundTrip(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bc := buildChain(t, "example.org", "alice@example.org", base, 24*time.Hour)
	vu, err := mailerid.VerifyChain(bc.chain, bc.userAddr, bc.domain, base.Add(time.Hour))
	require.NoError(t, err)

	signer := mailerid.NewSigner(bc.userAddr, bc.userKey, bc.userKid, bc.chain, bc.expireUser, xtime.NewFixed(base.Add(time.Hour)))
	sl, err := signer.GenerateAssertionFor("mid.example.org", "S1", 5*time.Minute)
	require.NoError(t, err)

	a, err := mailerid.VerifyAssertion(sl, vu, base.Add(time.Hour+time.Minute))
	require.NoError(t, err)
	assert.Equal(t, bc.userAddr, a.User)
	assert.Equal(t, "S1", a.SessionID)
	assert.Equal(t, "mid.example.org", a.RPDomain)
}

func TestAssertionRejectsWrongSession(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bc := buildChain(t, "example.org", "alice@example.org", base, 24*time.Hour)
	vu, err := mailerid.VerifyChain(bc.chain, bc.userAddr, bc.domain, base.Add(time.Hour))
	require.NoError(t, err)

	signer := mailerid.NewSigner(bc.userAddr, bc.userKey, bc.userKid, bc.chain, bc.expireUser, xtime.NewFixed(base.Add(time.Hour)))
	sl, err := signer.GenerateAssertionFor("mid.example.org", "S1", 5*time.Minute)
	require.NoError(t, err)

	tamperedLoad := sl.Load
	var a mailerid.Assertion
	require.NoError(t, json.Unmarshal(tamperedLoad, &a))
	a.SessionID = "S2"
	newLoad, err := json.Marshal(a)
	require.NoError(t, err)
	sl.Load = newLoad // signature no longer matches

	_, err = mailerid.VerifyAssertion(sl, vu, base.Add(time.Hour+time.Minute))
	assert.Error(t, err)
}
