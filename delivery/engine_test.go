package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3nsoft-go/asmail-core/keyring"
	"github.com/3nsoft-go/asmail-core/message"
	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/3nsoft-go/asmail-core/xspfs"
	"github.com/3nsoft-go/asmail-core/xtime"
)

type fakeIntroLookup struct {
	keys map[string]*keyring.PublishedIntroKey
}

func (f *fakeIntroLookup) CorrespondentIntroKey(addr string) (*keyring.PublishedIntroKey, error) {
	k, ok := f.keys[addr]
	if !ok {
		return nil, nil
	}
	return k, nil
}

func newTestKeyring(t *testing.T, addrs ...string) *keyring.Keyring {
	t.Helper()
	lookup := &fakeIntroLookup{keys: make(map[string]*keyring.PublishedIntroKey)}
	for _, addr := range addrs {
		kp, err := xcrypto.GenerateBoxKeyPair()
		require.NoError(t, err)
		lookup.keys[addr] = &keyring.PublishedIntroKey{Current: &keyring.IntroKeyPair{
			Kid: "kid-" + addr, Public: kp.Public, Private: kp.Private,
			CreatedAt: time.Now(), ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		}}
	}
	return keyring.New(lookup)
}

type scriptedTransport struct {
	mu          sync.Mutex
	failOnce    map[string]bool // recipient -> fail the next call once
	sessions    int
	pushedMain  map[string]bool
	pushedAttch map[string]int
	finalized   map[string]bool
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		failOnce:    make(map[string]bool),
		pushedMain:  make(map[string]bool),
		pushedAttch: make(map[string]int),
		finalized:   make(map[string]bool),
	}
}

func (s *scriptedTransport) PreFlight(ctx context.Context, addr string) (PreFlightResult, error) {
	return PreFlightResult{MaxMsgLength: 10 << 20}, nil
}

func (s *scriptedTransport) StartSession(ctx context.Context, addr, msgObjID string, env RecipientEnvelope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOnce[addr] {
		s.failOnce[addr] = false
		return "", errf(KindNotFound, "simulated session failure for %s", addr)
	}
	s.sessions++
	return "sess-" + addr, nil
}

func (s *scriptedTransport) PushMain(ctx context.Context, sessionID string, header, segments []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushedMain[sessionID] = true
	return nil
}

func (s *scriptedTransport) PushAttachment(ctx context.Context, sessionID, objID string, header, segments []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushedAttch[sessionID]++
	return nil
}

func (s *scriptedTransport) Finalize(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized[sessionID] = true
	return nil
}

func waitForDone(t *testing.T, ch <-chan Progress, timeout time.Duration) Progress {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case p := <-ch:
			if done, _ := p.isDone(); done {
				return p
			}
		case <-deadline:
			t.Fatal("timed out waiting for delivery to finish")
		}
	}
}

func newTestEngine(t *testing.T, transport *scriptedTransport, recipients ...string) (*Engine, *xtime.Fixed) {
	t.Helper()
	container := xspfs.NewNodesContainer(xspfs.NewMemStore(), xcrypto.SecretboxCryptor{})
	clock := xtime.NewFixed(time.Now())
	eng := NewEngine(NewMemStore(), transport, container, xcrypto.SecretboxCryptor{}, newTestKeyring(t, recipients...), clock)
	return eng, clock
}

func TestAddMsgImmediateDeliversToAllRecipients(t *testing.T) {
	transport := newScriptedTransport()
	eng, _ := newTestEngine(t, transport, "bob@example.com", "carol@example.com")

	out := message.OutgoingMessage{
		Sections: message.Sections{From: "alice@example.com", To: []string{"bob@example.com", "carol@example.com"}, MsgType: "mail"},
		Body:     message.Body{PlainTxtBody: "hi"},
	}
	sub := eng.Subscribe("m1")
	require.NoError(t, eng.AddMsg("m1", []string{"bob@example.com", "carol@example.com"}, out, AddMsgOpts{}))

	final := waitForDone(t, sub, 2*time.Second)
	require.Equal(t, AllOK, final.AllDone)
	require.True(t, final.Recipients["bob@example.com"].Done)
	require.True(t, final.Recipients["carol@example.com"].Done)
}

func TestAddMsgWithAttachmentsPushesEveryObject(t *testing.T) {
	transport := newScriptedTransport()
	eng, _ := newTestEngine(t, transport, "bob@example.com")

	out := message.OutgoingMessage{
		Sections:    message.Sections{From: "alice@example.com", To: []string{"bob@example.com"}, MsgType: "mail"},
		Body:        message.Body{PlainTxtBody: "see attached"},
		Attachments: []message.Attachment{{Name: "a.txt", Content: []byte("hello")}},
	}
	sub := eng.Subscribe("m2")
	require.NoError(t, eng.AddMsg("m2", []string{"bob@example.com"}, out, AddMsgOpts{}))

	final := waitForDone(t, sub, 2*time.Second)
	require.Equal(t, AllOK, final.AllDone)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	// the attachments folder object plus the one file object.
	require.Equal(t, 2, transport.pushedAttch["sess-bob@example.com"])
	require.True(t, transport.pushedMain["sess-bob@example.com"])
	require.True(t, transport.finalized["sess-bob@example.com"])
}

func TestDuplicateMsgIDRejected(t *testing.T) {
	transport := newScriptedTransport()
	eng, _ := newTestEngine(t, transport, "bob@example.com")

	out := message.OutgoingMessage{Sections: message.Sections{From: "a@example.com", To: []string{"bob@example.com"}, MsgType: "mail"}}
	require.NoError(t, eng.AddMsg("dup", []string{"bob@example.com"}, out, AddMsgOpts{}))
	err := eng.AddMsg("dup", []string{"bob@example.com"}, out, AddMsgOpts{})
	require.Error(t, err)
	delivErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindDuplicate, delivErr.Kind)
}

func TestRemoveMsgRefusesUnlessDoneOrCancelled(t *testing.T) {
	transport := newScriptedTransport()
	transport.failOnce["bob@example.com"] = true // force it to stay not-done for this check
	eng, _ := newTestEngine(t, transport, "bob@example.com")

	out := message.OutgoingMessage{Sections: message.Sections{From: "a@example.com", To: []string{"bob@example.com"}, MsgType: "mail"}}
	require.NoError(t, eng.AddMsg("m3", []string{"bob@example.com"}, out, AddMsgOpts{}))

	require.Eventually(t, func() bool {
		p, err := eng.GetProgress("m3")
		return err == nil && p.Recipients["bob@example.com"].Err != ""
	}, 2*time.Second, 10*time.Millisecond)

	err := eng.RemoveMsg("m3", false)
	require.Error(t, err)

	require.NoError(t, eng.RemoveMsg("m3", true))
	_, err = eng.GetProgress("m3")
	require.Error(t, err)
}

func TestRestartSkipsDoneMessages(t *testing.T) {
	transport := newScriptedTransport()
	store := NewMemStore()
	container := xspfs.NewNodesContainer(xspfs.NewMemStore(), xcrypto.SecretboxCryptor{})
	clock := xtime.NewFixed(time.Now())
	keys := newTestKeyring(t, "bob@example.com")

	eng1 := NewEngine(store, transport, container, xcrypto.SecretboxCryptor{}, keys, clock)
	out := message.OutgoingMessage{Sections: message.Sections{From: "a@example.com", To: []string{"bob@example.com"}, MsgType: "mail"}}
	require.NoError(t, eng1.AddMsg("m4", []string{"bob@example.com"}, out, AddMsgOpts{}))
	sub1 := eng1.Subscribe("m4")
	waitForDone(t, sub1, 2*time.Second)

	// a second engine over the same store should see it as already done
	// and therefore skip it on restart.
	eng2 := NewEngine(store, transport, container, xcrypto.SecretboxCryptor{}, keys, clock)
	require.NoError(t, eng2.Restart())
	_, err := eng2.GetProgress("m4")
	require.NoError(t, err)
}
