package docsync

import (
	"context"
	"testing"
	"time"

	"github.com/cipherdeck/core/crdt"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
	"github.com/stretchr/testify/require"
)

// TestUploadEncryptedDocRoundTrips pushes a profile document through
// uploadEncryptedDoc and verifies the pushed message's payload decrypts
// back to the original body and its signature verifies under the
// uploading device's own key. ProfileV1 is used so no blob or group
// machinery is exercised, keeping the recipient set to the uploader's
// own account.
func TestUploadEncryptedDocRoundTrips(t *testing.T) {
	rig := newTestRig(t)
	selfDev, selfKey := newTestDevice(t)
	account := model.AccountID(cryptoprim.Hash([]byte("me")))
	engine := rig.engine(selfDev, selfKey, account)

	m := crdt.NewMap()
	m.Set("display_name", []byte("Ada"), selfDev, 1)
	bodyBytes, err := encodeGob(m.EncodeState())
	require.NoError(t, err)

	doc := model.Document{
		ID: model.DocID("profile-1"), Schema: model.SchemaProfileV1, Author: selfDev, Counter: 1,
		CreatedAt: time.Now(), EditedAt: time.Now(), Body: bodyBytes,
		ACL: model.NewACLSeededAdmin(account),
	}
	require.NoError(t, rig.docs.Save(doc))

	require.NoError(t, engine.uploadEncryptedDoc(context.Background(), doc))

	require.Len(t, rig.transport.pushed, 1)
	msg := rig.transport.pushed[0]
	require.Equal(t, doc.ID, msg.ID)
	require.Equal(t, []model.AccountID{account}, msg.ToAccountIDs)

	sec, err := rig.docs.FindSecret(msg.Encrypted.SecretID)
	require.NoError(t, err)

	plain, err := cryptoprim.Open(sec.Key, msg.Encrypted.Payload, []byte(string(doc.ID)))
	require.NoError(t, err)

	var wire docPayload
	require.NoError(t, decodeGob(plain, &wire))
	require.Equal(t, bodyBytes, wire.Body)
	require.Equal(t, model.SchemaProfileV1, wire.Schema)

	require.True(t, cryptoprim.Verify(selfKey.Public(), msg.signedBytesOutbound(), msg.PayloadSignature))
}
