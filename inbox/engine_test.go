package inbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3nsoft-go/asmail-core/keyring"
	"github.com/3nsoft-go/asmail-core/message"
	"github.com/3nsoft-go/asmail-core/objcache"
	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/3nsoft-go/asmail-core/xspfs"
	"github.com/3nsoft-go/asmail-core/xtime"
)

// fakeObjFetcher serves one pre-baked combined header+segment stream
// per (msgID, objID) directly from memory, mirroring cache_test.go's
// fixture style without needing a real network round trip.
type fakeObjFetcher struct {
	objects map[string][]byte // msgID+"/"+objID -> combined bytes
}

func (f *fakeObjFetcher) LeadingRead(msgID, objID string) ([]byte, int64, error) {
	data := f.objects[msgID+"/"+objID]
	return data, int64(len(data)), nil
}

func (f *fakeObjFetcher) RangeRead(msgID, objID string, start, end int64) ([]byte, error) {
	data := f.objects[msgID+"/"+objID]
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[start:end], nil
}

type introLookup struct {
	keys map[string]*keyring.PublishedIntroKey
}

func (l *introLookup) CorrespondentIntroKey(addr string) (*keyring.PublishedIntroKey, error) {
	return l.keys[addr], nil
}

func newIntroKey(t *testing.T, kid string) *keyring.PublishedIntroKey {
	t.Helper()
	kp, err := xcrypto.GenerateBoxKeyPair()
	require.NoError(t, err)
	return &keyring.PublishedIntroKey{Current: &keyring.IntroKeyPair{
		Kid: kid, Public: kp.Public, Private: kp.Private,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}}
}

// fakeTransport serves one scripted message end to end: metadata,
// envelope header, and (via the shared fakeObjFetcher) the encrypted
// object bytes, so Engine.Receive can be exercised without a network.
type fakeTransport struct {
	mu       sync.Mutex
	metas    map[string]objcache.MsgMeta
	mainObjs map[string]string
	headers  map[string]InboundHeader
	deleted  map[string]bool
	events   chan Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		metas:    make(map[string]objcache.MsgMeta),
		mainObjs: make(map[string]string),
		headers:  make(map[string]InboundHeader),
		deleted:  make(map[string]bool),
		events:   make(chan Event, 8),
	}
}

func (f *fakeTransport) Subscribe(ctx context.Context, onStatus func(bool, time.Time)) (<-chan Event, error) {
	onStatus(true, time.Now())
	return f.events, nil
}

func (f *fakeTransport) FetchMeta(ctx context.Context, msgID string) (objcache.MsgMeta, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metas[msgID], f.mainObjs[msgID], nil
}

func (f *fakeTransport) FetchHeader(ctx context.Context, msgID string) (InboundHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[msgID], nil
}

func (f *fakeTransport) ListServerMsgIDs(ctx context.Context, sinceTS time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.metas {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeTransport) DeleteOnServer(ctx context.Context, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[msgID] = true
	return nil
}

func newTestEngine(t *testing.T, transport *fakeTransport, fetcher *fakeObjFetcher, aliceIntro *keyring.PublishedIntroKey) *Engine {
	t.Helper()
	cryptor := xcrypto.SecretboxCryptor{}
	disk := objcache.NewMemDiskStore()
	clock := xtime.NewFixed(time.Now())
	cache := objcache.New(disk, fetcher, clock)
	container := xspfs.NewNodesContainer(xspfs.NewMemStore(), cryptor)

	aliceKeys := keyring.New(&introLookup{})
	aliceKeys.SetOwnIntroKey(aliceIntro)

	return NewEngine(cache, container, cryptor, aliceKeys, NewMemIndexStore(), transport, nil, nil, nil, clock)
}

func TestReceiveRoundTripSharedIntroKey(t *testing.T) {
	aliceIntro := newIntroKey(t, "alice-kid-1")
	cryptor := xcrypto.SecretboxCryptor{}
	clock := xtime.NewFixed(time.Now())
	container := xspfs.NewNodesContainer(xspfs.NewMemStore(), cryptor)

	bobKeys := keyring.New(&introLookup{keys: map[string]*keyring.PublishedIntroKey{"alice@example.com": aliceIntro}})
	out := message.OutgoingMessage{
		Sections: message.Sections{From: "bob@example.com", To: []string{"alice@example.com"}, MsgType: "mail"},
		Body:     message.Body{PlainTxtBody: "hello alice"},
	}
	content, err := message.PackContent(container, cryptor, clock, out)
	require.NoError(t, err)
	sk, err := bobKeys.GenerateKeysToSend("alice@example.com")
	require.NoError(t, err)
	env, err := message.SealForRecipient(content, cryptor, sk)
	require.NoError(t, err)

	header := InboundHeader{
		SenderAddr:      "bob@example.com",
		RecipientKid:    env.IntroKeyID,
		SenderPKey:      env.RecipientOneShotPub,
		MsgKeyPackNonce: env.MsgKeyPackNonce,
		MsgKeyPack:      env.MsgKeyPack,
		MsgCount:        env.MsgCount,
		At:              clock.Now(),
	}
	meta := objcache.MsgMeta{ObjIDs: []string{content.MainObjID}, DeliveryTS: clock.Now()}
	combined := append(append([]byte{}, content.MainHeader...), content.MainSegments...)

	transport := newFakeTransport()
	transport.metas["m1"] = meta
	transport.mainObjs["m1"] = content.MainObjID
	transport.headers["m1"] = header
	fetcher := &fakeObjFetcher{objects: map[string][]byte{"m1/" + content.MainObjID: combined}}

	eng := newTestEngine(t, transport, fetcher, aliceIntro)
	sub := eng.Subscribe()

	require.NoError(t, eng.Receive(context.Background(), "m1"))

	select {
	case rm := <-sub:
		require.Equal(t, "m1", rm.MsgID)
		require.Equal(t, "hello alice", rm.Opened.PlainTxtBody)
	default:
		t.Fatal("expected a broadcast on successful receive")
	}

	entry, ok, err := eng.index.LoadEntry("m1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bob@example.com", entry.DecryptInfo.SenderAddr)

	// idempotent: receiving again is a no-op, not an error.
	require.NoError(t, eng.Receive(context.Background(), "m1"))

	opened, err := eng.GetMessage("m1")
	require.NoError(t, err)
	require.Equal(t, "hello alice", opened.PlainTxtBody)
}

func TestReceiveFlagsAuthSenderMismatch(t *testing.T) {
	aliceIntro := newIntroKey(t, "alice-kid-1")
	cryptor := xcrypto.SecretboxCryptor{}
	clock := xtime.NewFixed(time.Now())
	container := xspfs.NewNodesContainer(xspfs.NewMemStore(), cryptor)

	bobKeys := keyring.New(&introLookup{keys: map[string]*keyring.PublishedIntroKey{"alice@example.com": aliceIntro}})
	out := message.OutgoingMessage{
		Sections: message.Sections{From: "bob@example.com", To: []string{"alice@example.com"}, MsgType: "mail"},
		Body:     message.Body{PlainTxtBody: "spoofed"},
	}
	content, err := message.PackContent(container, cryptor, clock, out)
	require.NoError(t, err)
	sk, err := bobKeys.GenerateKeysToSend("alice@example.com")
	require.NoError(t, err)
	env, err := message.SealForRecipient(content, cryptor, sk)
	require.NoError(t, err)

	header := InboundHeader{
		SenderAddr:      "bob@example.com",
		RecipientKid:    env.IntroKeyID,
		SenderPKey:      env.RecipientOneShotPub,
		MsgKeyPackNonce: env.MsgKeyPackNonce,
		MsgKeyPack:      env.MsgKeyPack,
		MsgCount:        env.MsgCount,
		At:              clock.Now(),
	}
	// server claims a different authenticated sender than the one the
	// envelope actually decrypts against.
	meta := objcache.MsgMeta{ObjIDs: []string{content.MainObjID}, DeliveryTS: clock.Now(), AuthSender: "mallory@example.com"}
	combined := append(append([]byte{}, content.MainHeader...), content.MainSegments...)

	transport := newFakeTransport()
	transport.metas["m2"] = meta
	transport.mainObjs["m2"] = content.MainObjID
	transport.headers["m2"] = header
	fetcher := &fakeObjFetcher{objects: map[string][]byte{"m2/" + content.MainObjID: combined}}

	eng := newTestEngine(t, transport, fetcher, aliceIntro)
	err = eng.Receive(context.Background(), "m2")
	require.Error(t, err)

	_, ok, _ := eng.index.LoadEntry("m2")
	require.False(t, ok)
}

func TestRemoveMsgIsIdempotent(t *testing.T) {
	aliceIntro := newIntroKey(t, "alice-kid-1")
	transport := newFakeTransport()
	fetcher := &fakeObjFetcher{objects: make(map[string][]byte)}
	eng := newTestEngine(t, transport, fetcher, aliceIntro)

	require.NoError(t, eng.RemoveMsg(context.Background(), "never-existed"))
	require.NoError(t, eng.RemoveMsg(context.Background(), "never-existed"))
	require.True(t, transport.deleted["never-existed"])
}
