package asmailconfig

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3nsoft-go/asmail-core/mailerid"
	"github.com/3nsoft-go/asmail-core/xtime"
)

type fakeUnauthDoer struct {
	svc  *memService
	base string
}

func (f *fakeUnauthDoer) Get(ctx context.Context, url string) (Response, error) {
	path := strings.TrimPrefix(url, f.base)
	return f.svc.Do("GET", path, nil)
}

type fakeResolver struct {
	configURL string
	midDomain string
}

func (f *fakeResolver) ResolveConfigURL(ctx context.Context, addr string) (string, string, error) {
	return f.configURL, f.midDomain, nil
}

func publishTestIntroKey(t *testing.T, svc *memService, tc testChain, clock *xtime.Fixed, pub [32]byte) string {
	t.Helper()
	signer := mailerid.NewSigner(tc.addr, tc.userKP, tc.kid, tc.chain, clock.Now().Add(365*24*time.Hour), clock)
	c := New(svc, signer, clock)
	kid, _, _, err := c.CertifyAndPublish(pub)
	require.NoError(t, err)
	return kid
}

func TestCorrespondentIntroKeyVerifiesChainAndDecodesKey(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tc := buildTestChain(t, "example.org", "bob@example.org", base, 365*24*time.Hour)
	clock := xtime.NewFixed(base.Add(time.Hour))

	svc := newMemService()
	pub := [32]byte{9, 9, 9}
	kid := publishTestIntroKey(t, svc, tc, clock, pub)

	doer := &fakeUnauthDoer{svc: svc, base: "https://bob.example"}
	resolver := &fakeResolver{configURL: "https://bob.example", midDomain: "example.org"}
	fetcher := NewPublicKeyFetcher(doer, resolver, clock)

	pik, err := fetcher.CorrespondentIntroKey("bob@example.org")
	require.NoError(t, err)
	require.NotNil(t, pik.Current)
	require.Equal(t, kid, pik.Current.Kid)
	require.Equal(t, pub, pik.Current.Public)
	require.Empty(t, pik.Previous)
}

func TestCorrespondentIntroKeyRejectsWrongMidDomain(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tc := buildTestChain(t, "example.org", "bob@example.org", base, 365*24*time.Hour)
	clock := xtime.NewFixed(base.Add(time.Hour))

	svc := newMemService()
	publishTestIntroKey(t, svc, tc, clock, [32]byte{1})

	doer := &fakeUnauthDoer{svc: svc, base: "https://bob.example"}
	resolver := &fakeResolver{configURL: "https://bob.example", midDomain: "evil.org"}
	fetcher := NewPublicKeyFetcher(doer, resolver, clock)

	_, err := fetcher.CorrespondentIntroKey("bob@example.org")
	require.Error(t, err)
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, KindIdentityFail, aerr.Kind)
}

func TestCorrespondentIntroKeyNotPublishedYet(t *testing.T) {
	clock := xtime.NewFixed(time.Now())
	doer := &fakeUnauthDoer{svc: newMemService(), base: "https://carol.example"}
	resolver := &fakeResolver{configURL: "https://carol.example", midDomain: "example.org"}
	fetcher := NewPublicKeyFetcher(doer, resolver, clock)

	_, err := fetcher.CorrespondentIntroKey("carol@example.org")
	require.Error(t, err)
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, KindNotFound, aerr.Kind)
}
