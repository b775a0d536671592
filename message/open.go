package message

import (
	"encoding/hex"
	"encoding/json"

	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/3nsoft-go/asmail-core/xsp"
	"github.com/3nsoft-go/asmail-core/xspfs"
)

// Open decrypts and parses a message's main object under fileKey
// (already recovered by the keyring from the envelope's msgKeyPack),
// mirroring PackContent (§4.H).
func Open(fileKey [32]byte, cryptor xcrypto.Cryptor, headerBytes, segmentBytes []byte) (*OpenedMessage, error) {
	obj, err := xsp.Open(fileKey, cryptor, headerBytes, segmentBytes)
	if err != nil {
		return nil, err
	}

	var content mainContent
	if err := json.Unmarshal(obj.Content, &content); err != nil {
		return nil, errf(KindMalformed, "main object content: %v", err)
	}

	m := &OpenedMessage{
		Sections:          content.Sections,
		Body:              content.Body,
		NextCrypto:        content.NextCrypto,
		NextSendingParams: content.NextSendingParams,
		SenderCertChain:   content.SenderCertChain,
		attachmentsObjID:  content.AttachmentsObjID,
	}
	if content.AttachmentsObjID != "" {
		keyBytes, err := hex.DecodeString(content.AttachmentsKeyHex)
		if err != nil || len(keyBytes) != 32 {
			return nil, errf(KindMalformed, "malformed attachments key")
		}
		copy(m.attachmentsKey[:], keyBytes)
		m.hasAttachments = true
	}
	return m, nil
}

// Attachments resolves the message's attachments folder as a read-only
// filesystem (§4.J), or returns (nil, nil) if the message carries none.
func (m *OpenedMessage) Attachments(container *xspfs.NodesContainer) (*xspfs.Folder, *xspfs.AttachmentStorage, error) {
	if !m.hasAttachments {
		return nil, nil, nil
	}
	storage := xspfs.NewAttachmentStorage(container, false)
	folder, err := storage.Folder(m.attachmentsObjID, "", m.attachmentsKey)
	if err != nil {
		return nil, nil, err
	}
	return folder, storage, nil
}
