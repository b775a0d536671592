package message

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/3nsoft-go/asmail-core/keyring"
	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/3nsoft-go/asmail-core/xsp"
	"github.com/3nsoft-go/asmail-core/xspfs"
	"github.com/3nsoft-go/asmail-core/xtime"
)

// PackedContent is a message's main object and attachments subtree,
// built once regardless of recipient count: the object graph a
// multi-recipient send pushes identically to every recipient, only the
// envelope sealing the main object's file key differs per recipient
// (§4.H, §4.I).
type PackedContent struct {
	MainObjID    string
	MainHeader   []byte
	MainSegments []byte

	AttachmentsObjID  string
	AttachmentsKeyHex string
	Attachments       []AttachmentObject

	fileKey [32]byte
}

// AttachmentObject is one sibling object's raw encrypted bytes, in the
// order they were linked into the attachments folder, for a sender to
// push over the wire without ever decrypting them (§4.I step 3c).
type AttachmentObject struct {
	ObjID    string
	Header   []byte
	Segments []byte
}

// Envelope is the per-recipient wrapping of a PackedContent's file key
// under one correspondent's sending keys (§4.G, §4.H).
type Envelope struct {
	Pid                 string
	MsgCount            uint64
	ViaIntro            bool
	IntroKeyID          string
	RecipientOneShotPub *[32]byte

	MsgKeyPackNonce [xcrypto.NonceSize]byte
	MsgKeyPack      []byte
}

// PackContent serializes an OutgoingMessage into its main XSP object,
// building an attachments folder of sibling objects first if there are
// any. The result carries no recipient-specific key material; call
// SealForRecipient once per recipient to produce their envelope.
func PackContent(container *xspfs.NodesContainer, cryptor xcrypto.Cryptor, clock xtime.Provider, out OutgoingMessage) (*PackedContent, error) {
	content := mainContent{
		Sections:          out.Sections,
		Body:              out.Body,
		NextCrypto:        out.NextCrypto,
		NextSendingParams: out.NextSendingParams,
		SenderCertChain:   out.SenderCertChain,
	}

	var attachmentObjs []AttachmentObject
	if len(out.Attachments) > 0 {
		var folderKey [32]byte
		if _, err := rand.Read(folderKey[:]); err != nil {
			return nil, err
		}
		folder := xspfs.NewFolder(container, "", folderKey, clock)
		for _, att := range out.Attachments {
			var fileKey [32]byte
			if _, err := rand.Read(fileKey[:]); err != nil {
				return nil, err
			}
			file := xspfs.NewFile(container, folder.ObjID(), fileKey, clock)
			wh, err := file.WriteSink(nil, true)
			if err != nil {
				return nil, err
			}
			wh.Sink().Write(0, att.Content)
			if err := wh.Commit(nil); err != nil {
				return nil, err
			}
			if err := folder.AddChild(att.Name, file.ObjID(), hex.EncodeToString(fileKey[:]), xspfs.NodeFile); err != nil {
				return nil, err
			}
			stored, ok, err := container.RawObject(file.ObjID())
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errf(KindMalformed, "attachment %s vanished right after commit", att.Name)
			}
			attachmentObjs = append(attachmentObjs, AttachmentObject{ObjID: file.ObjID(), Header: stored.Header, Segments: stored.Segments})
		}
		content.AttachmentsObjID = folder.ObjID()
		content.AttachmentsKeyHex = hex.EncodeToString(folderKey[:])

		folderStored, ok, err := container.RawObject(folder.ObjID())
		if err != nil {
			return nil, err
		}
		if ok {
			attachmentObjs = append([]AttachmentObject{{ObjID: folder.ObjID(), Header: folderStored.Header, Segments: folderStored.Segments}}, attachmentObjs...)
		}
	}

	var mainFileKey [32]byte
	if _, err := rand.Read(mainFileKey[:]); err != nil {
		return nil, err
	}
	contentBytes, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}

	sink, err := xsp.NewSink(mainFileKey, cryptor, MsgSegmentSize)
	if err != nil {
		return nil, err
	}
	sink.Write(0, contentBytes)
	headerBytes, segBytes, err := sink.Done()
	if err != nil {
		return nil, err
	}

	return &PackedContent{
		MainObjID:         container.ReserveID(),
		MainHeader:        headerBytes,
		MainSegments:      segBytes,
		AttachmentsObjID:  content.AttachmentsObjID,
		AttachmentsKeyHex: content.AttachmentsKeyHex,
		Attachments:       attachmentObjs,
		fileKey:           mainFileKey,
	}, nil
}

// SealForRecipient wraps pc's main object file key under sk's master
// key, producing the envelope fields one recipient's delivery session
// carries alongside the (shared, unmodified) main header and segments.
func SealForRecipient(pc *PackedContent, cryptor xcrypto.Cryptor, sk *keyring.SendKeys) (*Envelope, error) {
	msgKeyPack, nonce, err := keyring.SealMsgKeyPack(cryptor, sk, pc.fileKey)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Pid:                 sk.Pid,
		MsgCount:            sk.MsgCount,
		ViaIntro:            sk.ViaIntro,
		IntroKeyID:          sk.IntroKeyID,
		RecipientOneShotPub: sk.RecipientOneShotPub,
		MsgKeyPackNonce:     nonce,
		MsgKeyPack:          msgKeyPack,
	}, nil
}
