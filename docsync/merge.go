package docsync

import (
	"time"

	"github.com/cipherdeck/core/crdt"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// mergeRemote is the inbound half of the round trip: verify, tamper
// check, decrypt and fold one remote document version into the local
// store, or defer it for a later retry when the author's account or the
// document secret isn't resolvable yet.
func (e *Engine) mergeRemote(remote RemoteDoc) error {
	ad, ok := e.accounts.Lookup(remote.Author)
	if !ok {
		return e.deferMerge(remote, "author account not yet resolvable")
	}
	pub, ok := e.accounts.PublicKey(remote.Author)
	if !ok {
		return e.deferMerge(remote, "author public key not yet known")
	}
	if !cryptoprim.Verify(pub, remote.signedBytes(), remote.PayloadSignature) {
		return errors.New("docsync: payload signature does not verify")
	}
	if ad.Removed && remote.Counter > ad.LastCounter {
		return errors.New("docsync: document replayed after author was removed")
	}

	if remote.Deletion != nil {
		return e.mergeDeletion(remote, ad)
	}
	return e.mergeEncrypted(remote, ad)
}

func (e *Engine) deferMerge(remote RemoteDoc, reason string) error {
	payload, err := encodeGob(remote)
	if err != nil {
		return err
	}
	if err := e.docs.MarkForRetry(remote.ID, time.Now(), payload); err != nil {
		return err
	}
	e.log.Debug("deferring document merge", zap.String("doc", string(remote.ID)), zap.String("reason", reason))
	return nil
}

func (e *Engine) mergeDeletion(remote RemoteDoc, ad model.AccountDevice) error {
	if ad.Account != e.account {
		return nil
	}
	local, err := e.docs.Find(remote.ID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.unlinkBlobs(local); err != nil {
		return err
	}
	return e.docs.RemoveExternal(remote.ID)
}

func (e *Engine) unlinkBlobs(doc model.Document) error {
	refs, err := blobRefsInBody(doc.Schema, doc.Body)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		b, err := e.docs.FindBlob(ref.BlobID)
		if err != nil {
			continue
		}
		if err := e.blobs.Remove(b); err != nil {
			return err
		}
		if err := e.docs.RemoveBlob(ref.BlobID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) mergeEncrypted(remote RemoteDoc, ad model.AccountDevice) error {
	sec, err := e.docs.FindSecret(remote.Encrypted.SecretID)
	if errors.Is(err, docstore.ErrSecretNotFound) {
		return e.deferMerge(remote, "document secret not yet known")
	}
	if err != nil {
		return err
	}

	plain, err := cryptoprim.Open([32]byte(sec.Key), remote.Encrypted.Payload, []byte(string(remote.ID)))
	if err != nil {
		return errors.Wrap(err, "decrypt document payload")
	}
	var wire docPayload
	if err := decodeGob(plain, &wire); err != nil {
		return err
	}

	local, err := e.docs.Find(remote.ID)
	if errors.Is(err, docstore.ErrNotFound) {
		return e.adoptRemote(remote, ad, wire)
	}
	if err != nil {
		return err
	}
	return e.mergeIntoLocal(local, remote, ad, wire)
}

func (e *Engine) adoptRemote(remote RemoteDoc, ad model.AccountDevice, wire docPayload) error {
	acl := wire.ACL
	if len(acl.Grants) == 0 {
		acl = model.NewACLSeededAdmin(ad.Account)
	}
	doc := model.Document{
		ID: remote.ID, Schema: wire.Schema, Author: remote.Author, Counter: remote.Counter,
		CreatedAt: remote.CreatedAt, EditedAt: wire.EditedAt, Body: wire.Body, ACL: acl,
	}
	return e.saveFetched(doc)
}

func (e *Engine) mergeIntoLocal(local model.Document, remote RemoteDoc, ad model.AccountDevice, wire docPayload) error {
	if local.Schema != wire.Schema {
		return nil
	}
	if ad.Account != e.account && wire.Schema != model.SchemaCardV1 && wire.Schema != model.SchemaProfileV1 {
		return nil
	}
	if !local.ACL.Has(ad.Account, model.RightWrite) {
		return e.deferMerge(remote, "remote author not yet granted write")
	}
	if local.ACL.Has(ad.Account, model.RightAdmin) {
		local.ACL.Merge(wire.ACL)
	}

	body, err := e.mergeBody(local.Schema, local.Body, wire.Body)
	if err != nil {
		return err
	}
	local.Body = body

	if wire.EditedAt.After(local.EditedAt) {
		local.EditedAt = wire.EditedAt
	}
	if local.Author != e.self {
		local.Author = remote.Author
		local.Counter = remote.Counter
	}

	return e.saveFetched(local)
}

func (e *Engine) mergeBody(schema model.Schema, localBody, remoteBody []byte) ([]byte, error) {
	switch schema {
	case model.SchemaCardV1:
		return e.mergeTextBody(localBody, remoteBody)
	default:
		return e.mergeMapBody(localBody, remoteBody)
	}
}

func (e *Engine) mergeTextBody(localBody, remoteBody []byte) ([]byte, error) {
	t := crdt.NewText(e.self)
	if len(localBody) > 0 {
		var localState crdt.State
		if err := decodeGob(localBody, &localState); err != nil {
			return nil, err
		}
		t.Merge(localState)
	}
	var remoteState crdt.State
	if err := decodeGob(remoteBody, &remoteState); err != nil {
		return nil, err
	}
	t.Merge(remoteState)
	return encodeGob(t.EncodeState())
}

func (e *Engine) mergeMapBody(localBody, remoteBody []byte) ([]byte, error) {
	m := crdt.NewMap()
	if len(localBody) > 0 {
		var localState crdt.MapState
		if err := decodeGob(localBody, &localState); err != nil {
			return nil, err
		}
		m.Merge(localState)
	}
	var remoteState crdt.MapState
	if err := decodeGob(remoteBody, &remoteState); err != nil {
		return nil, err
	}
	m.Merge(remoteState)
	return encodeGob(m.EncodeState())
}

func (e *Engine) saveFetched(doc model.Document) error {
	if err := e.docs.Save(doc); err != nil {
		return err
	}
	if err := e.docs.ClearRetry(doc.ID); err != nil {
		return err
	}
	e.fetched = append(e.fetched, fetchedDoc{id: doc.ID, schema: doc.Schema, priority: doc.Schema.FetchPriority()})
	return nil
}
