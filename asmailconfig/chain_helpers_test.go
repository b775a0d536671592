package asmailconfig

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3nsoft-go/asmail-core/mailerid"
	"github.com/3nsoft-go/asmail-core/xcrypto"
)

// testChain is a valid three-level MailerId chain plus the user's
// signing key, built the same way mailerid's own chain_test.go does.
type testChain struct {
	chain  mailerid.Chain
	userKP *xcrypto.SigningKeyPair
	kid    string
	domain string
	addr   string
}

func buildTestChain(t *testing.T, domain, addr string, issuedBase time.Time, validFor time.Duration) testChain {
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
	userCert := mailerid.Certificate{
		Principal: mailerid.Principal{Address: addr},
		PublicKey: mailerid.JWKey{Alg: "Ed25519", Use: "sign", Kid: userKid, K: []byte(userKP.Public)},
		Issuer:    domain,
		IssuedAt:  issuedBase.Unix(),
		ExpiresAt: issuedBase.Add(validFor).Unix(),
	}
	userLoad, err := json.Marshal(userCert)
	require.NoError(t, err)
	userSL := mailerid.SignedLoad{Alg: "Ed25519", Kid: providerKid, Load: userLoad, Sig: providerKP.Sign(userLoad)}

	return testChain{
		chain:  mailerid.Chain{Root: rootSL, Provider: providerSL, User: userSL},
		userKP: userKP,
		kid:    userKid,
		domain: domain,
		addr:   addr,
	}
}
