package inbox

import (
	"time"

	"github.com/3nsoft-go/asmail-core/keyring"
	"github.com/3nsoft-go/asmail-core/xcrypto"
)

// DefaultReconnectBackoff is the fixed delay between subscription
// reconnect attempts (§4.J "restarts with exponential/fixed back-off
// (default 5s)").
const DefaultReconnectBackoff = 5 * time.Second

// MissedEventWindow is how far before the disconnect time recoverMissed
// asks the transport's ListServerMsgIDs to look once a dropped
// connection comes back, to recover events missed during the outage.
const MissedEventWindow = 2 * time.Minute

// ReaderCacheTTL is how long an opened message stays in the reader
// cache before it is evicted.
const ReaderCacheTTL = 60 * time.Second

// Event is one msgReceivedCompletely notification off the server's
// persistent channel.
type Event struct {
	MsgID string
}

// InboundHeader is the wire shape of one message's delivery envelope as
// the receiving side sees it: keyring.InboundEnvelope's fields plus the
// sender address the server attributes the push to.
type InboundHeader struct {
	SenderAddr      string
	Pid             string
	RecipientKid    string
	SenderPKey      *[32]byte
	MsgKeyPackNonce [xcrypto.NonceSize]byte
	MsgKeyPack      []byte
	MsgCount        uint64
	NextCrypto      *keyring.NextCryptoSuggestion
	At              time.Time
}

func (h InboundHeader) toEnvelope() keyring.InboundEnvelope {
	return keyring.InboundEnvelope{
		Pid:             h.Pid,
		RecipientKid:    h.RecipientKid,
		SenderPKey:      h.SenderPKey,
		MsgKeyPackNonce: h.MsgKeyPackNonce,
		MsgKeyPack:      h.MsgKeyPack,
		MsgCount:        h.MsgCount,
		NextCrypto:      h.NextCrypto,
		At:              h.At,
	}
}

// DecryptInfo is what the index caches per message so a later read
// never has to re-run ReceiveEnvelope (§4.J).
type DecryptInfo struct {
	FileKey    [32]byte `json:"fileKey"`
	SenderAddr string   `json:"senderAddr"`
}

// IndexEntry is one message's row in the synced index (§4.J).
type IndexEntry struct {
	MsgType     string      `json:"msgType"`
	DeliveryTS  time.Time   `json:"deliveryTS"`
	DecryptInfo DecryptInfo `json:"decryptInfo"`
}

// SendingParamsSink receives the outbound-params hints a correspondent
// leaves in their messages, so the sending-params store can keep
// per-correspondent service URLs and intro keys current (§4.L). at is
// the message's DeliveryTS, used as the last-writer-wins ordering key
// since NextSendingParams itself carries no timestamp of its own.
type SendingParamsSink interface {
	UpdateFromMessage(correspondentAddr string, introKeyID, serviceURL string, at time.Time) error
}

// InviteUsageMarker is told when one of our own anonymous invites was
// just redeemed by an inbound message, so it is not reused (§4.K, §4.L).
type InviteUsageMarker interface {
	MarkInviteUsed(invite string) error
}
