package message

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3nsoft-go/asmail-core/keyring"
	"github.com/3nsoft-go/asmail-core/xcrypto"
	"github.com/3nsoft-go/asmail-core/xspfs"
	"github.com/3nsoft-go/asmail-core/xtime"
)

func testContainer() *xspfs.NodesContainer {
	return xspfs.NewNodesContainer(xspfs.NewMemStore(), xcrypto.SecretboxCryptor{})
}

func TestPackOpenRoundTripNoAttachments(t *testing.T) {
	container := testContainer()
	clock := xtime.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cryptor := xcrypto.SecretboxCryptor{}

	var masterKey [32]byte
	copy(masterKey[:], []byte("0123456789abcdef0123456789abcdef"))
	sk := &keyring.SendKeys{Pid: "pid-1", MasterKey: masterKey, MsgCount: 1}

	out := OutgoingMessage{
		Sections: Sections{From: "alice@example.com", To: []string{"bob@example.com"}, MsgType: "mail", Subject: "hi"},
		Body:     Body{PlainTxtBody: "hello bob"},
		NextCrypto: &keyring.NextCryptoSuggestion{SenderPub: [32]byte{1, 2, 3}},
	}

	content, err := PackContent(container, cryptor, clock, out)
	require.NoError(t, err)
	require.NotEmpty(t, content.MainHeader)
	require.Empty(t, content.AttachmentsObjID)

	env, err := SealForRecipient(content, cryptor, sk)
	require.NoError(t, err)

	fileKeyPlain, err := cryptor.Open(masterKey, env.MsgKeyPackNonce, env.MsgKeyPack)
	require.NoError(t, err)
	var fileKey [32]byte
	copy(fileKey[:], fileKeyPlain)

	opened, err := Open(fileKey, cryptor, content.MainHeader, content.MainSegments)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", opened.From)
	require.Equal(t, []string{"bob@example.com"}, opened.To)
	require.Equal(t, "hello bob", opened.PlainTxtBody)
	require.False(t, opened.HasAttachments())
	require.NotNil(t, opened.NextCrypto)
	require.Equal(t, [32]byte{1, 2, 3}, opened.NextCrypto.SenderPub)
}

func TestPackOpenRoundTripWithAttachments(t *testing.T) {
	container := testContainer()
	clock := xtime.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cryptor := xcrypto.SecretboxCryptor{}

	var masterKey [32]byte
	copy(masterKey[:], []byte("fedcba9876543210fedcba9876543210"))
	sk := &keyring.SendKeys{Pid: "pid-2", MasterKey: masterKey, MsgCount: 1}

	out := OutgoingMessage{
		Sections: Sections{From: "alice@example.com", To: []string{"bob@example.com"}, MsgType: "mail"},
		Body:     Body{PlainTxtBody: "see attached"},
		Attachments: []Attachment{
			{Name: "a.txt", Content: []byte("file a contents")},
			{Name: "b.txt", Content: []byte("file b contents")},
		},
	}

	packedContent, err := PackContent(container, cryptor, clock, out)
	require.NoError(t, err)
	require.NotEmpty(t, packedContent.AttachmentsObjID)
	require.Len(t, packedContent.Attachments, 3) // folder object + 2 files

	env, err := SealForRecipient(packedContent, cryptor, sk)
	require.NoError(t, err)

	fileKeyPlain, err := cryptor.Open(masterKey, env.MsgKeyPackNonce, env.MsgKeyPack)
	require.NoError(t, err)
	var fileKey [32]byte
	copy(fileKey[:], fileKeyPlain)

	opened, err := Open(fileKey, cryptor, packedContent.MainHeader, packedContent.MainSegments)
	require.NoError(t, err)
	require.True(t, opened.HasAttachments())

	folder, storage, err := opened.Attachments(container)
	require.NoError(t, err)
	require.Len(t, folder.List(), 2)

	objID, keyHex, _, ok := folder.Lookup("a.txt")
	require.True(t, ok)
	var fk [32]byte
	keyBytes, err := hex.DecodeString(keyHex)
	require.NoError(t, err)
	copy(fk[:], keyBytes)
	file, err := storage.File(objID, folder.ObjID(), fk)
	require.NoError(t, err)
	content, err := file.ReadBytes(0, 100)
	require.NoError(t, err)
	require.Equal(t, "file a contents", string(content))

	_, err = storage.WriteSink(file, nil, true)
	require.Error(t, err)
}

func TestSealForRecipientReusesSameMainObjectPerRecipient(t *testing.T) {
	container := testContainer()
	clock := xtime.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cryptor := xcrypto.SecretboxCryptor{}

	out := OutgoingMessage{
		Sections: Sections{From: "alice@example.com", To: []string{"bob@example.com", "carol@example.com"}, MsgType: "mail"},
		Body:     Body{PlainTxtBody: "broadcast"},
	}
	content, err := PackContent(container, cryptor, clock, out)
	require.NoError(t, err)

	var bobKey, carolKey [32]byte
	copy(bobKey[:], []byte("bobbobbobbobbobbobbobbobbobbobb"))
	copy(carolKey[:], []byte("carolcarolcarolcarolcarolcarolc"))
	bobSK := &keyring.SendKeys{Pid: "pid-bob", MasterKey: bobKey, MsgCount: 1}
	carolSK := &keyring.SendKeys{Pid: "pid-carol", MasterKey: carolKey, MsgCount: 1}

	bobEnv, err := SealForRecipient(content, cryptor, bobSK)
	require.NoError(t, err)
	carolEnv, err := SealForRecipient(content, cryptor, carolSK)
	require.NoError(t, err)
	require.NotEqual(t, bobEnv.MsgKeyPack, carolEnv.MsgKeyPack)

	for _, env := range []*Envelope{bobEnv, carolEnv} {
		key := bobKey
		if env == carolEnv {
			key = carolKey
		}
		plain, err := cryptor.Open(key, env.MsgKeyPackNonce, env.MsgKeyPack)
		require.NoError(t, err)
		var fileKey [32]byte
		copy(fileKey[:], plain)
		opened, err := Open(fileKey, cryptor, content.MainHeader, content.MainSegments)
		require.NoError(t, err)
		require.Equal(t, "broadcast", opened.PlainTxtBody)
	}
}
