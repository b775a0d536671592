package sendingparams

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3nsoft-go/asmail-core/xtime"
)

type fakeInvitePublisher struct {
	mu    sync.Mutex
	calls int
	token string
}

func (p *fakeInvitePublisher) PublishInvite(ctx context.Context, label string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.token, nil
}

func TestSuggestDefaultParamsMintsInviteOnFirstContact(t *testing.T) {
	fs := NewMemFileStore()
	pub := &fakeInvitePublisher{token: "tok-1"}
	clock := xtime.NewFixed(time.Now())
	s, err := NewStore(fs, pub, clock)
	require.NoError(t, err)

	ps, err := s.SuggestDefaultParams(context.Background(), "carol@example.com")
	require.NoError(t, err)
	require.Equal(t, "tok-1", ps.Invitation)

	// a second suggestion for the same address returns the same
	// suggested set and does not mint a second invite.
	ps2, err := s.SuggestDefaultParams(context.Background(), "carol@example.com")
	require.NoError(t, err)
	require.Equal(t, ps, ps2)
	require.Equal(t, 1, pub.calls)

	op, ok := s.OwnParamsFor("carol@example.com")
	require.True(t, ok)
	require.NotNil(t, op.Suggested)
	require.Nil(t, op.InUse)
}

func TestMarkInviteUsedPromotesSuggestedToInUse(t *testing.T) {
	fs := NewMemFileStore()
	pub := &fakeInvitePublisher{token: "tok-2"}
	clock := xtime.NewFixed(time.Now())
	s, err := NewStore(fs, pub, clock)
	require.NoError(t, err)

	_, err = s.SuggestDefaultParams(context.Background(), "dave@example.com")
	require.NoError(t, err)

	require.NoError(t, s.MarkInviteUsed("tok-2"))

	op, ok := s.OwnParamsFor("dave@example.com")
	require.True(t, ok)
	require.Nil(t, op.Suggested)
	require.NotNil(t, op.InUse)
	require.Equal(t, "tok-2", op.InUse.Invitation)

	// an unknown invite is reported, not silently swallowed.
	err = s.MarkInviteUsed("never-suggested")
	require.Error(t, err)
}

func TestUpdateFromMessageLastWriterWins(t *testing.T) {
	fs := NewMemFileStore()
	clock := xtime.NewFixed(time.Now())
	s, err := NewStore(fs, nil, clock)
	require.NoError(t, err)

	base := clock.Now()
	require.NoError(t, s.UpdateFromMessage("erin@example.com", "kid-1", "https://erin.example/asmail", base))

	op, ok := s.OthersParamsFor("erin@example.com")
	require.True(t, ok)
	require.Equal(t, "kid-1", op.IntroKeyID)

	// a stale (earlier-or-equal) update is ignored.
	require.NoError(t, s.UpdateFromMessage("erin@example.com", "kid-stale", "https://stale.example", base.Add(-time.Minute)))
	op, ok = s.OthersParamsFor("erin@example.com")
	require.True(t, ok)
	require.Equal(t, "kid-1", op.IntroKeyID)

	// a newer update replaces it.
	require.NoError(t, s.UpdateFromMessage("erin@example.com", "kid-2", "https://erin.example/v2", base.Add(time.Minute)))
	op, ok = s.OthersParamsFor("erin@example.com")
	require.True(t, ok)
	require.Equal(t, "kid-2", op.IntroKeyID)
}

func TestStorePersistsAcrossReload(t *testing.T) {
	fs := NewMemFileStore()
	pub := &fakeInvitePublisher{token: "tok-3"}
	clock := xtime.NewFixed(time.Now())

	s1, err := NewStore(fs, pub, clock)
	require.NoError(t, err)
	_, err = s1.SuggestDefaultParams(context.Background(), "frank@example.com")
	require.NoError(t, err)
	require.NoError(t, s1.UpdateFromMessage("grace@example.com", "kid-g", "https://grace.example", clock.Now()))

	s2, err := NewStore(fs, pub, clock)
	require.NoError(t, err)

	op, ok := s2.OwnParamsFor("frank@example.com")
	require.True(t, ok)
	require.NotNil(t, op.Suggested)
	require.Equal(t, "tok-3", op.Suggested.Invitation)

	others, ok := s2.OthersParamsFor("grace@example.com")
	require.True(t, ok)
	require.Equal(t, "kid-g", others.IntroKeyID)
}
