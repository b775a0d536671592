package keyring

import (
	"sync"
	"time"

	"github.com/3nsoft-go/asmail-core/xcrypto"
)

// IntroKeyLookup resolves a correspondent's published introductory key,
// injected at construction rather than held as a mutable cross-
// component reference (§9 "wire these with interface abstractions").
type IntroKeyLookup interface {
	CorrespondentIntroKey(addr string) (*PublishedIntroKey, error)
}

// Keyring owns every correspondent's key state plus this side's own
// published introductory key, and implements the ratchet coherence
// rules of §4.G.
type Keyring struct {
	mu            sync.Mutex
	correspondents map[string]*CorrespondentState
	ownIntroKey   *PublishedIntroKey
	introLookup   IntroKeyLookup
}

// New builds an empty Keyring. introLookup may be nil if the embedder
// has no way to fetch correspondents' intro keys yet (first sends to
// such correspondents will fail with KindNoSendingMeans).
func New(introLookup IntroKeyLookup) *Keyring {
	return &Keyring{correspondents: make(map[string]*CorrespondentState), introLookup: introLookup}
}

// SetOwnIntroKey installs this side's own published introductory key,
// used to decrypt first-contact envelopes addressed to its kid.
func (k *Keyring) SetOwnIntroKey(p *PublishedIntroKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ownIntroKey = p
}

func (k *Keyring) correspondent(addr string) *CorrespondentState {
	c, ok := k.correspondents[addr]
	if !ok {
		c = &CorrespondentState{Address: addr, ReceptionPairs: make(map[string]*ReceptionPair)}
		k.correspondents[addr] = c
	}
	return c
}

// SendKeys is what generateKeysToSend hands back to the message packer
// (§4.G "generateKeysToSend returns {encryptor, currentPair, msgCount}").
type SendKeys struct {
	Pid                 string
	MasterKey           [32]byte
	MsgCount            uint64
	ViaIntro            bool
	IntroKeyID          string
	RecipientOneShotPub *[32]byte
}

// GenerateKeysToSend returns the key material for the next message to
// addr: the existing sending pair if one is established, or a fresh
// introductory pair derived from the correspondent's published intro
// key otherwise.
func (k *Keyring) GenerateKeysToSend(addr string) (*SendKeys, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	c := k.correspondent(addr)
	if c.SendingPair != nil {
		count := c.SendingPair.nextCount()
		return &SendKeys{Pid: c.SendingPair.Pid, MasterKey: c.SendingPair.MasterKey, MsgCount: count}, nil
	}

	introKey := c.IntroKeyCache
	if introKey == nil && k.introLookup != nil {
		fetched, err := k.introLookup.CorrespondentIntroKey(addr)
		if err != nil {
			return nil, err
		}
		introKey = fetched
		c.IntroKeyCache = fetched
	}
	if introKey == nil || introKey.Current == nil {
		return nil, errf(KindNoSendingMeans, "no established pair and no intro key for %s", addr)
	}

	ephemeral, err := xcrypto.GenerateBoxKeyPair()
	if err != nil {
		return nil, err
	}
	masterKey, err := xcrypto.SharedMasterKey(ephemeral.Private, introKey.Current.Public)
	if err != nil {
		return nil, err
	}
	pid := DerivePid(ephemeral.Public, introKey.Current.Public)
	sp := &SendingPair{Pid: pid, MasterKey: masterKey, OurPriv: ephemeral.Private, OurPub: ephemeral.Public, TheirPub: introKey.Current.Public, ViaIntro: true, IntroKeyID: introKey.Current.Kid}
	c.SendingPair = sp
	count := sp.nextCount()

	pub := ephemeral.Public
	return &SendKeys{Pid: pid, MasterKey: masterKey, MsgCount: count, ViaIntro: true, IntroKeyID: introKey.Current.Kid, RecipientOneShotPub: &pub}, nil
}

// SealMsgKeyPack wraps fileKey under sk's master key, returning the
// msgKeyPack bytes and the nonce the header must carry alongside them.
func SealMsgKeyPack(cryptor xcrypto.Cryptor, sk *SendKeys, fileKey [32]byte) ([]byte, [xcrypto.NonceSize]byte, error) {
	nonce, err := xcrypto.RandomNonce()
	if err != nil {
		return nil, nonce, err
	}
	return cryptor.Seal(sk.MasterKey, nonce, fileKey[:]), nonce, nil
}

// NextCryptoSuggestion is the ratchet forward-pointer a sender embeds
// in every outgoing message (§4.H "nextCrypto").
type NextCryptoSuggestion struct {
	SenderPub  [32]byte
	IntroKeyID string // must equal the intro key id the envelope was opened with, if any
}

// InboundEnvelope carries the fields ReceiveEnvelope needs out of the
// message header to resolve a master key and validate ratchet state.
type InboundEnvelope struct {
	Pid             string
	RecipientKid    string
	SenderPKey      *[32]byte
	MsgKeyPackNonce [xcrypto.NonceSize]byte
	MsgKeyPack      []byte
	MsgCount        uint64
	NextCrypto      *NextCryptoSuggestion
	At              time.Time
}

// ReceiveEnvelope resolves the envelope's main object file key,
// enforces replay detection on msgCount, and applies the next-crypto
// coherence rules of §4.G, storing a new sending pair ratcheted from
// the peer's suggestion.
func (k *Keyring) ReceiveEnvelope(senderAddr string, env InboundEnvelope, cryptor xcrypto.Cryptor) ([32]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	var fileKey [32]byte
	c := k.correspondent(senderAddr)

	var masterKey [32]byte
	var usedPair *ReceptionPair
	var usedIntroKid string

	switch {
	case env.Pid != "":
		p, ok := c.ReceptionPairs[env.Pid]
		if !ok {
			return fileKey, errf(KindUnknownPid, "pid %s not known for %s", env.Pid, senderAddr)
		}
		masterKey = p.MasterKey
		usedPair = p

	case env.RecipientKid != "" && env.SenderPKey != nil:
		if k.ownIntroKey == nil {
			return fileKey, errf(KindUnknownIntroKey, "no own intro key installed")
		}
		gen, ok := k.ownIntroKey.FindByKid(env.RecipientKid)
		if !ok {
			return fileKey, errf(KindUnknownIntroKey, "kid %s not current or previous", env.RecipientKid)
		}
		mk, err := xcrypto.SharedMasterKey(gen.Private, *env.SenderPKey)
		if err != nil {
			return fileKey, err
		}
		masterKey = mk
		usedIntroKid = env.RecipientKid

	default:
		return fileKey, errf(KindUnknownPid, "envelope carries neither pid nor recipientKid+senderPKey")
	}

	plain, err := cryptor.Open(masterKey, env.MsgKeyPackNonce, env.MsgKeyPack)
	if err != nil {
		return fileKey, err
	}
	copy(fileKey[:], plain)

	if usedPair != nil {
		if err := usedPair.recordCount(env.MsgCount); err != nil {
			return fileKey, err
		}
		usedPair.LastTS = env.At
		usedPair.Role = RoleInUse
	}

	if env.NextCrypto != nil {
		if usedIntroKid != "" && env.NextCrypto.IntroKeyID != usedIntroKid {
			return fileKey, errf(KindCoherenceFailed, "nextCrypto introKeyId %s != envelope introKeyId %s", env.NextCrypto.IntroKeyID, usedIntroKid)
		}
		if err := k.ratchetSendingPair(c, env.NextCrypto.SenderPub); err != nil {
			return fileKey, err
		}
	}

	return fileKey, nil
}

// ratchetSendingPair derives and stores a fresh sending pair towards c
// using theirSuggestedPub, generating a new ephemeral half on our side
// (§4.G "a new sending pair ratcheted from the suggestion is stored
// under the correspondent").
func (k *Keyring) ratchetSendingPair(c *CorrespondentState, theirSuggestedPub [32]byte) error {
	ours, err := xcrypto.GenerateBoxKeyPair()
	if err != nil {
		return err
	}
	masterKey, err := xcrypto.SharedMasterKey(ours.Private, theirSuggestedPub)
	if err != nil {
		return err
	}
	pid := DerivePid(ours.Public, theirSuggestedPub)
	sp := &SendingPair{Pid: pid, MasterKey: masterKey, OurPriv: ours.Private, OurPub: ours.Public, TheirPub: theirSuggestedPub}
	c.SendingPair = sp
	c.LastSuggestion = sp

	recv := &ReceptionPair{Pid: pid, MasterKey: masterKey, Role: RoleSuggested}
	c.ReceptionPairs[pid] = recv
	return nil
}

// Correspondent returns addr's live state (creating an empty entry if
// addr is unknown), for inspection/testing. The returned pointer is not
// a copy: changes made through it are seen by the keyring.
func (k *Keyring) Correspondent(addr string) *CorrespondentState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.correspondent(addr)
}
