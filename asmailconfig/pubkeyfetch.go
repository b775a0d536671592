package asmailconfig

import (
	"context"
	"encoding/json"

	"github.com/3nsoft-go/asmail-core/keyring"
	"github.com/3nsoft-go/asmail-core/mailerid"
	"github.com/3nsoft-go/asmail-core/xtime"
)

// ConfigURLResolver resolves a correspondent address's ASMail config
// service base URL and the MailerId domain its certificate chain must
// root to. A real embedder backs this with locator.Locator (the
// "asmail" kind's root document's "config" path, and the "mailerid"
// kind's host), the same way inbox.MidDomainResolver does for the
// receiving side.
type ConfigURLResolver interface {
	ResolveConfigURL(ctx context.Context, addr string) (configURL, midDomain string, err error)
}

// UnauthenticatedDoer issues one unauthenticated GET, used to read a
// correspondent's public parameters, which carry no session of their
// own.
type UnauthenticatedDoer interface {
	Get(ctx context.Context, url string) (Response, error)
}

// PublicKeyFetcher implements keyring.IntroKeyLookup by reading a
// correspondent's published introductory key straight off their own
// ASMail config service (§4.K init-pub-key), verifying the embedded
// MailerId chain before trusting the certified box key.
type PublicKeyFetcher struct {
	doer    UnauthenticatedDoer
	resolve ConfigURLResolver
	clock   xtime.Provider
}

// NewPublicKeyFetcher builds a PublicKeyFetcher.
func NewPublicKeyFetcher(doer UnauthenticatedDoer, resolve ConfigURLResolver, clock xtime.Provider) *PublicKeyFetcher {
	if clock == nil {
		clock = xtime.Default()
	}
	return &PublicKeyFetcher{doer: doer, resolve: resolve, clock: clock}
}

// CorrespondentIntroKey implements keyring.IntroKeyLookup. The
// interface carries no context, so this uses context.Background()
// internally; a caller needing cancellation should wrap its own
// UnauthenticatedDoer/ConfigURLResolver with one bound ahead of time.
func (f *PublicKeyFetcher) CorrespondentIntroKey(addr string) (*keyring.PublishedIntroKey, error) {
	ctx := context.Background()
	configURL, midDomain, err := f.resolve.ResolveConfigURL(ctx, addr)
	if err != nil {
		return nil, err
	}
	resp, err := f.doer.Get(ctx, configURL+"/param/"+string(ParamInitPubKey))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 0 && resp.StatusCode >= 300 {
		return nil, errf(KindBadResponse, "GET %s/param/%s: status %d", configURL, ParamInitPubKey, resp.StatusCode)
	}
	if len(resp.Body) == 0 || string(resp.Body) == "null" {
		return nil, errf(KindNotFound, "%s has not published an introductory key", addr)
	}

	var doc wireIntroKey
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, errf(KindBadResponse, "malformed init-pub-key: %v", err)
	}
	if doc.Current == nil {
		return nil, errf(KindNotFound, "%s's init-pub-key has no current generation", addr)
	}

	current, err := f.verifyGeneration(*doc.Current, addr, midDomain)
	if err != nil {
		return nil, err
	}
	previous := make([]*keyring.IntroKeyPair, 0, len(doc.Previous))
	for _, gen := range doc.Previous {
		p, err := f.verifyGeneration(gen, addr, midDomain)
		if err != nil {
			continue // a stale/unverifiable retired generation just can't be used to open old mail
		}
		previous = append(previous, p)
	}
	return &keyring.PublishedIntroKey{Current: current, Previous: previous}, nil
}

func (f *PublicKeyFetcher) verifyGeneration(gen wireIntroKeyGen, addr, midDomain string) (*keyring.IntroKeyPair, error) {
	now := f.clock.Now()
	user, err := mailerid.VerifyChain(gen.Chain, addr, midDomain, now)
	if err != nil {
		return nil, errf(KindIdentityFail, "generation %s: %v", gen.Kid, err)
	}
	cert, err := mailerid.VerifyKeyCertificate(gen.Cert, user, now)
	if err != nil {
		return nil, errf(KindIdentityFail, "generation %s: %v", gen.Kid, err)
	}
	if len(cert.PublicKey.K) != 32 {
		return nil, errf(KindBadResponse, "generation %s: box key is %d bytes, want 32", gen.Kid, len(cert.PublicKey.K))
	}
	var pub [32]byte
	copy(pub[:], cert.PublicKey.K)

	genBytes, err := json.Marshal(gen)
	if err != nil {
		return nil, err
	}
	return &keyring.IntroKeyPair{
		Kid:       gen.Kid,
		Public:    pub,
		CreatedAt: gen.CreatedAt,
		ExpiresAt: gen.ExpiresAt,
		CertChain: genBytes,
	}, nil
}
