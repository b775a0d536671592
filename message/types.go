package message

import (
	"encoding/json"

	"github.com/3nsoft-go/asmail-core/keyring"
	"github.com/3nsoft-go/asmail-core/mailerid"
)

// MsgSegmentSize is the fixed 16 x 256-byte blocking the specification
// requires for message objects (§4.H), kept as its own constant rather
// than reusing xsp.DefaultSegmentSize even though the two currently
// agree numerically.
const MsgSegmentSize uint32 = 16 * 256

// Sections are the logical message's addressing/classification header.
type Sections struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	MsgType string   `json:"msgType"`
	Subject string   `json:"subject,omitempty"`
}

// Body is the logical message's payload; any subset of its three forms
// may be populated.
type Body struct {
	PlainTxtBody string          `json:"plainTxtBody,omitempty"`
	HTMLTxtBody  string          `json:"htmlTxtBody,omitempty"`
	JSONBody     json.RawMessage `json:"jsonBody,omitempty"`
}

// NextSendingParams is the optional forward pointer a sender leaves for
// the recipient's future messages back to them (§4.H, §4.L).
type NextSendingParams struct {
	IntroKeyID string `json:"introKeyId,omitempty"`
	ServiceURL string `json:"serviceUrl,omitempty"`
}

// Attachment is one named blob to be stored as a sibling object and
// linked into the message's attachments folder.
type Attachment struct {
	Name    string
	Content []byte
}

// mainContent is the JSON shape written into the main XSP object's
// content: sections, body, the attachments folder pointer (if any),
// and the two ratchet/forwarding policy fields (§4.H).
type mainContent struct {
	Sections
	Body
	AttachmentsObjID  string                        `json:"attachmentsObjId,omitempty"`
	AttachmentsKeyHex string                        `json:"attachmentsKeyHex,omitempty"`
	NextCrypto        *keyring.NextCryptoSuggestion `json:"nextCrypto,omitempty"`
	NextSendingParams *NextSendingParams            `json:"nextSendingParams,omitempty"`
	SenderCertChain   *mailerid.Chain               `json:"senderCertChain,omitempty"`
}

// OutgoingMessage is what a caller hands to PackContent. SenderCertChain is
// only worth setting on first contact via an introductory key, where
// the recipient has no other way to learn which address the envelope's
// one-shot sender key belongs to (§4.J "verify embedded certs").
type OutgoingMessage struct {
	Sections
	Body
	Attachments       []Attachment
	NextCrypto        *keyring.NextCryptoSuggestion
	NextSendingParams *NextSendingParams
	SenderCertChain   *mailerid.Chain
}

// OpenedMessage is what Open returns: the parsed sections/body plus
// enough to resolve the attachments subtree lazily.
type OpenedMessage struct {
	Sections
	Body
	NextCrypto        *keyring.NextCryptoSuggestion
	NextSendingParams *NextSendingParams
	SenderCertChain   *mailerid.Chain

	attachmentsObjID string
	attachmentsKey   [32]byte
	hasAttachments   bool
}

// HasAttachments reports whether the message carries an attachments
// subtree at all.
func (m *OpenedMessage) HasAttachments() bool { return m.hasAttachments }
