package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/3nsoft-go/asmail-core/keyring"
	"github.com/3nsoft-go/asmail-core/mailerid"
	"github.com/3nsoft-go/asmail-core/message"
	"github.com/3nsoft-go/asmail-core/objcache"
	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/3nsoft-go/asmail-core/xspfs"
	"github.com/3nsoft-go/asmail-core/xtime"
)

// MidDomainResolver resolves the MailerId domain a sender address's
// certificate chain must root to, so ReceivedMessage's embedded
// SenderCertChain can be checked against it. A real embedder backs this
// with locator.Locator (stripping its "https://" scheme prefix, which
// VerifyChain does not expect).
type MidDomainResolver interface {
	ResolveMidDomain(ctx context.Context, addr string) (string, error)
}

// ReceivedMessage is what the engine broadcasts once a message has been
// downloaded, decrypted, and opened.
type ReceivedMessage struct {
	MsgID  string
	Meta   objcache.MsgMeta
	Opened *message.OpenedMessage
}

// Engine is the receiving side of ASMail (§4.J): event subscription
// with reconnect/back-off, the decrypt-info index, the reader cache,
// and the receive-path orchestration.
type Engine struct {
	cache     *objcache.Cache
	container *xspfs.NodesContainer
	cryptor   xcrypto.Cryptor
	keys      *keyring.Keyring
	index     IndexStore
	transport Transport
	midDomain MidDomainResolver
	params    SendingParamsSink
	invites   InviteUsageMarker
	clock     xtime.Provider
	log       *logrus.Entry

	reader *readerCache

	idMu sync.Map // msgID -> *sync.Mutex, serializes concurrent receive/remove of the same id

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}

	subsMu sync.Mutex
	subs   []chan ReceivedMessage
}

// NewEngine builds an Engine. midDomain and params/invites may be nil
// if the caller does not need sender-identity verification or
// sending-params propagation; clock may be nil to use xtime.Default().
func NewEngine(cache *objcache.Cache, container *xspfs.NodesContainer, cryptor xcrypto.Cryptor, keys *keyring.Keyring, index IndexStore, transport Transport, midDomain MidDomainResolver, params SendingParamsSink, invites InviteUsageMarker, clock xtime.Provider) *Engine {
	if clock == nil {
		clock = xtime.Default()
	}
	return &Engine{
		cache:     cache,
		container: container,
		cryptor:   cryptor,
		keys:      keys,
		index:     index,
		transport: transport,
		midDomain: midDomain,
		params:    params,
		invites:   invites,
		clock:     clock,
		log:       logrus.WithField("component", "inbox.engine"),
		reader:    newReaderCache(clock),
	}
}

func (e *Engine) idLock(msgID string) func() {
	v, _ := e.idMu.LoadOrStore(msgID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Subscribe returns a channel of every message this engine finishes
// receiving.
func (e *Engine) Subscribe() <-chan ReceivedMessage {
	ch := make(chan ReceivedMessage, 16)
	e.subsMu.Lock()
	e.subs = append(e.subs, ch)
	e.subsMu.Unlock()
	return ch
}

func (e *Engine) broadcast(rm ReceivedMessage) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- rm:
		default:
		}
	}
}

// Start begins the persistent event subscription loop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.mu.Unlock()

	go e.subscribeLoop(ctx)
}

// Stop halts the event subscription loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopChan)
}

// subscribeLoop holds the persistent event channel open, reconnecting
// with DefaultReconnectBackoff on drop, and recovers events missed
// during an outage by listing messages delivered since
// disconnectedAt-MissedEventWindow (§4.J).
func (e *Engine) subscribeLoop(ctx context.Context) {
	var disconnectedAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		default:
		}

		events, err := e.transport.Subscribe(ctx, func(connected bool, at time.Time) {
			if !connected {
				disconnectedAt = at
				return
			}
			if !disconnectedAt.IsZero() {
				e.recoverMissed(ctx, disconnectedAt)
				disconnectedAt = time.Time{}
			}
		})
		if err != nil {
			e.log.WithError(err).Warn("event subscription failed, retrying")
			if !e.sleepOrStop(ctx, DefaultReconnectBackoff) {
				return
			}
			continue
		}

		e.drainEvents(ctx, events)
		if !e.sleepOrStop(ctx, DefaultReconnectBackoff) {
			return
		}
	}
}

func (e *Engine) drainEvents(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.Receive(ctx, ev.MsgID); err != nil {
				e.log.WithError(err).WithField("msgId", ev.MsgID).Warn("failed to receive message")
			}
		}
	}
}

func (e *Engine) recoverMissed(ctx context.Context, disconnectedAt time.Time) {
	ids, err := e.transport.ListServerMsgIDs(ctx, disconnectedAt.Add(-MissedEventWindow))
	if err != nil {
		e.log.WithError(err).Warn("failed to recover events missed during outage")
		return
	}
	for _, id := range ids {
		if _, ok, _ := e.index.LoadEntry(id); ok {
			continue
		}
		if err := e.Receive(ctx, id); err != nil {
			e.log.WithError(err).WithField("msgId", id).Warn("failed to receive recovered message")
		}
	}
}

func (e *Engine) sleepOrStop(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.stopChan:
		return false
	case <-timer.C:
		return true
	}
}

// Receive implements the §4.J receive path for a msgId just announced
// by an event or discovered by listMsgs: download metadata and the
// header-first object, decrypt the main object's file key, open the
// logical message, authenticate the sender, persist to the index, wire
// sending-params/invite side effects, and broadcast.
func (e *Engine) Receive(ctx context.Context, msgID string) error {
	unlock := e.idLock(msgID)
	defer unlock()

	if _, ok, _ := e.index.LoadEntry(msgID); ok {
		return nil // already received; idempotent
	}

	meta, mainObjID, err := e.transport.FetchMeta(ctx, msgID)
	if err != nil {
		return err
	}
	handle, err := e.cache.CreateMsg(msgID, meta, mainObjID)
	if err != nil {
		return err
	}
	defer handle.Release()

	header, err := e.transport.FetchHeader(ctx, msgID)
	if err != nil {
		return err
	}

	fileKey, err := e.keys.ReceiveEnvelope(header.SenderAddr, header.toEnvelope(), e.cryptor)
	if err != nil {
		_ = handle.SetKeyStatus(objcache.KeyStatusFail)
		return err
	}

	if meta.AuthSender != "" && meta.AuthSender != header.SenderAddr {
		_ = handle.SetKeyStatus(objcache.KeyStatusFail)
		return errf(KindKeyMismatch, "meta.authSender %q != decrypting address %q", meta.AuthSender, header.SenderAddr)
	}

	combined, err := handle.ReadObjectRange(mainObjID, 0, maxObjectSize)
	if err != nil {
		return err
	}
	headerBytes, segBytes, err := splitObjectBytes(combined)
	if err != nil {
		_ = handle.SetKeyStatus(objcache.KeyStatusFail)
		return err
	}

	opened, err := message.Open(fileKey, e.cryptor, headerBytes, segBytes)
	if err != nil {
		_ = handle.SetKeyStatus(objcache.KeyStatusFail)
		return err
	}

	if opened.SenderCertChain != nil && e.midDomain != nil {
		if err := e.verifySenderIdentity(ctx, header, opened); err != nil {
			_ = handle.SetKeyStatus(objcache.KeyStatusFail)
			return err
		}
	}

	if err := handle.SetKeyStatus(objcache.KeyStatusOK); err != nil {
		return err
	}

	entry := IndexEntry{
		MsgType:    opened.MsgType,
		DeliveryTS: meta.DeliveryTS,
		DecryptInfo: DecryptInfo{
			FileKey:    fileKey,
			SenderAddr: header.SenderAddr,
		},
	}
	if err := e.index.SaveEntry(msgID, entry); err != nil {
		return err
	}

	if e.params != nil && opened.NextSendingParams != nil {
		if err := e.params.UpdateFromMessage(header.SenderAddr, opened.NextSendingParams.IntroKeyID, opened.NextSendingParams.ServiceURL, meta.DeliveryTS); err != nil {
			e.log.WithError(err).WithField("msgId", msgID).Warn("failed to update sending-params from message")
		}
	}
	if e.invites != nil && meta.Invite != "" {
		if err := e.invites.MarkInviteUsed(meta.Invite); err != nil {
			e.log.WithError(err).WithField("msgId", msgID).Warn("failed to mark invite used")
		}
	}

	e.reader.put(msgID, opened)
	e.broadcast(ReceivedMessage{MsgID: msgID, Meta: meta, Opened: opened})
	return nil
}

// verifySenderIdentity checks an embedded sender certificate chain
// against header.SenderAddr, per the Open Question decision recorded in
// DESIGN.md that identity-chain verification belongs here, not inside
// keyring.ReceiveEnvelope.
func (e *Engine) verifySenderIdentity(ctx context.Context, header InboundHeader, opened *message.OpenedMessage) error {
	domain, err := e.midDomain.ResolveMidDomain(ctx, header.SenderAddr)
	if err != nil {
		return err
	}
	verified, err := mailerid.VerifyChain(*opened.SenderCertChain, header.SenderAddr, domain, e.clock.Now())
	if err != nil {
		return errf(KindIdentityFail, "%v", err)
	}
	if header.SenderPKey == nil {
		return errf(KindIdentityFail, "no one-shot sender key to bind the certified identity to")
	}
	// verified.PublicKey confirms header.SenderAddr currently holds a
	// valid MailerId identity; it does not yet bind that identity to
	// header.SenderPKey, which would need a signature over the key that
	// this wire format does not carry (see DESIGN.md Open Questions).
	_ = verified
	return nil
}

// GetMessage returns msgID's opened content, serving from the reader
// cache when present and otherwise re-decrypting from the index and
// object cache.
func (e *Engine) GetMessage(msgID string) (*message.OpenedMessage, error) {
	if opened, ok := e.reader.get(msgID); ok {
		return opened, nil
	}
	entry, ok, err := e.index.LoadEntry(msgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errf(KindNotFound, "message %s not in index", msgID)
	}
	handle, err := e.cache.Get(msgID)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	combined, err := handle.ReadObjectRange(handle.Status().MainObjID, 0, maxObjectSize)
	if err != nil {
		return nil, err
	}
	headerBytes, segBytes, err := splitObjectBytes(combined)
	if err != nil {
		return nil, err
	}
	opened, err := message.Open(entry.DecryptInfo.FileKey, e.cryptor, headerBytes, segBytes)
	if err != nil {
		return nil, err
	}
	e.reader.put(msgID, opened)
	return opened, nil
}

// ListMsgs implements listMsgs(fromTS?): it reconciles the server's
// list with the local index, running the receive path for any
// server-only id, and falls back to index-only listing if the server
// call fails.
func (e *Engine) ListMsgs(ctx context.Context, fromTS time.Time) ([]string, error) {
	local, err := e.index.ListEntries()
	if err != nil {
		return nil, err
	}
	serverIDs, err := e.transport.ListServerMsgIDs(ctx, fromTS)
	if err != nil {
		e.log.WithError(err).Warn("listMsgs: server call failed, falling back to index-only listing")
		ids := make([]string, 0, len(local))
		for id := range local {
			ids = append(ids, id)
		}
		return ids, nil
	}
	for _, id := range serverIDs {
		if _, ok := local[id]; ok {
			continue
		}
		if err := e.Receive(ctx, id); err != nil {
			e.log.WithError(err).WithField("msgId", id).Warn("listMsgs: failed to receive server-only message")
		}
	}
	return serverIDs, nil
}

// RemoveMsg is idempotent: it removes the index entry, best-effort
// deletes server-side, and purges the local object cache and reader
// cache, serialized per msgId so concurrent double-removes collapse
// into one (§4.J).
func (e *Engine) RemoveMsg(ctx context.Context, msgID string) error {
	unlock := e.idLock(msgID)
	defer unlock()

	if err := e.index.RemoveEntry(msgID); err != nil {
		return err
	}
	e.reader.remove(msgID)
	if err := e.cache.RemoveMsg(msgID); err != nil {
		e.log.WithError(err).WithField("msgId", msgID).Warn("failed to purge local object cache")
	}
	if err := e.transport.DeleteOnServer(ctx, msgID); err != nil {
		e.log.WithError(err).WithField("msgId", msgID).Warn("best-effort server deletion failed")
	}
	return nil
}

// SweepReaderCache evicts reader-cache entries idle past their TTL; a
// caller ticks this periodically the way objcache.Cache.Sweep is ticked.
func (e *Engine) SweepReaderCache() {
	e.reader.sweep()
}
