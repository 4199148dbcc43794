// Package docsync drives the per-document sync round trip: fetching and
// merging remote document versions, uploading locally authored ones,
// draining ACL-change/deletion pushes, and retrying merges deferred
// because the author's account or document secret wasn't known yet. It
// never talks to bbolt or HTTP directly, only through docstore,
// blobstore and the Transport/GroupDirectory/AccountDirectory
// boundaries it's handed at construction.
package docsync

import (
	"time"

	"github.com/cipherdeck/core/model"
)

// BlobRef points at a file attachment inlined into a card body: the
// blob's id and, when the blob was sealed under a key of its own rather
// than the document's secret, the id of that key.
type BlobRef struct {
	BlobID   string
	SecretID string
}

// EncryptedBody is a document payload at rest: the secret it was sealed
// under, the sealed bytes (cryptoprim.Seal's nonce||ciphertext form),
// and any blob references the CRDT body carries (CardV1 only).
type EncryptedBody struct {
	SecretID string
	Payload  []byte
	BlobRefs []BlobRef
}

// DeletionBody replaces a document's content with a tombstone, honored
// only when it arrives from the document's own account.
type DeletionBody struct {
	DeletedAt time.Time
}

// RemoteDoc is one document version fetched from the server. Exactly one
// of Encrypted or Deletion is set.
type RemoteDoc struct {
	ID               model.DocID
	Author           model.DeviceID
	Counter          uint64
	CreatedAt        time.Time
	PayloadSignature []byte
	Encrypted        *EncryptedBody
	Deletion         *DeletionBody
}

// signedBytes is the exact byte string PayloadSignature covers.
func (d RemoteDoc) signedBytes() []byte {
	if d.Deletion != nil {
		return []byte(string(d.ID) + "," + d.Deletion.DeletedAt.Format(time.RFC3339Nano))
	}
	return append([]byte(string(d.ID)), d.Encrypted.Payload...)
}

// DocMessage is a locally produced document version ready to push.
type DocMessage struct {
	ID               model.DocID
	Author           model.DeviceID
	Counter          uint64
	CreatedAt        time.Time
	ToAccountIDs     []model.AccountID
	PayloadSignature []byte
	Encrypted        *EncryptedBody
	Deletion         *DeletionBody
}

// docPayload is the plaintext sealed inside EncryptedBody.Payload: the
// document's schema tag, its opaque CRDT body, its ACL, and the
// edited_at timestamp the merge rule takes the max of.
type docPayload struct {
	Schema   model.Schema
	Body     []byte
	ACL      model.ACL
	EditedAt time.Time
}

// queuedDocPush is what QueueDocPush's opaque bytes hold for an
// ACL-change push or a permanent-deletion marker: everything needed to
// build a DocMessage except the counter, which is assigned fresh at
// drain time from this device's own counter.
type queuedDocPush struct {
	Schema     model.Schema
	ACL        model.ACL
	EditedAt   time.Time
	Deletion   *DeletionBody
	ToAccounts []model.AccountID
}
