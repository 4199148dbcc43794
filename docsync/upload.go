package docsync

import (
	"context"
	"io"
	"time"

	"github.com/cipherdeck/core/blobstore"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
)

// recipients derives the accounts a document must be encrypted for: a
// Profile in Custom mode goes to every contact plus the owning account,
// everything else goes to whoever the ACL CRDT currently grants to.
func (e *Engine) recipients(doc model.Document) []model.AccountID {
	if doc.Schema == model.SchemaProfileV1 && doc.ACL.Mode == model.ACLModeCustom {
		seen := map[model.AccountID]bool{e.account: true}
		out := []model.AccountID{e.account}
		for _, acc := range e.accounts.Contacts() {
			if !seen[acc] {
				seen[acc] = true
				out = append(out, acc)
			}
		}
		return out
	}
	out := make([]model.AccountID, 0, len(doc.ACL.Grants))
	for acc := range doc.ACL.Grants {
		out = append(out, acc)
	}
	return out
}

// ensureGroups resolves (creating if needed) a Secret Group for every
// recipient account other than our own, flushing the mailbox once if
// any of them were freshly created so their Welcome reaches the server
// before a document sealed for them does.
func (e *Engine) ensureGroups(ctx context.Context, accounts []model.AccountID) (map[model.AccountID]*group.Group, error) {
	groups := make(map[model.AccountID]*group.Group, len(accounts))
	anyCreated := false
	for _, acc := range accounts {
		if acc == e.account {
			continue
		}
		g, created, err := e.groups.GroupForAccount(ctx, acc)
		if err != nil {
			return nil, err
		}
		groups[acc] = g
		anyCreated = anyCreated || created
	}
	if anyCreated && e.mbox != nil {
		if err := e.mbox.Sync(ctx); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// ensureSecret gets or mints the document secret for this recipient
// set, broadcasting it as a Secrets control message over every relevant
// group the first time it's minted.
func (e *Engine) ensureSecret(accounts []model.AccountID, groups map[model.AccountID]*group.Group) (docstore.DocumentSecret, error) {
	sec, isNew, err := e.docs.GetSecretForAccounts(accounts, time.Now())
	if err != nil {
		return docstore.DocumentSecret{}, err
	}
	if !isNew {
		return sec, nil
	}

	entry := mailbox.SecretEntry{
		ID: sec.ID, Key: sec.Key, Algorithm: sec.Algorithm,
		Accounts: sec.Accounts, DocID: sec.DocID, CreatedAtUnix: sec.CreatedAt.Unix(),
	}
	plain, err := mailbox.EncodeControlPayload(mailbox.ControlPayload{Secrets: []mailbox.SecretEntry{entry}})
	if err != nil {
		return docstore.DocumentSecret{}, err
	}

	if own, ok := e.groups.Lookup(cryptoprim.Digest(e.account)); ok {
		if err := e.queueAppMessage(own, plain); err != nil {
			return docstore.DocumentSecret{}, err
		}
	}
	for _, g := range groups {
		if err := e.queueAppMessage(g, plain); err != nil {
			return docstore.DocumentSecret{}, err
		}
	}
	return sec, nil
}

func (e *Engine) queueAppMessage(g *group.Group, plaintext []byte) error {
	app, err := g.EncryptMessage(plaintext)
	if err != nil {
		return err
	}
	if err := e.groups.Save(g); err != nil {
		return err
	}
	return e.outbox.QueueOutbound(g.ID(), group.Message{App: &app})
}

// resolveBlobRefs returns the blob references a CardV1 body embeds,
// uploading (and minting a per-blob secret for) any that aren't synced
// yet. Non-Card schemas never carry blobs.
func (e *Engine) resolveBlobRefs(ctx context.Context, doc model.Document, recipients []model.AccountID) ([]BlobRef, error) {
	refs, err := blobRefsInBody(doc.Schema, doc.Body)
	if err != nil || len(refs) == 0 {
		return nil, err
	}
	out := make([]BlobRef, 0, len(refs))
	for _, ref := range refs {
		b, err := e.docs.FindBlob(ref.BlobID)
		if err != nil {
			return nil, err
		}
		if b.Synced {
			out = append(out, ref)
			continue
		}
		sec, _, err := e.docs.GetSecretForAccounts(recipients, time.Now())
		if err != nil {
			return nil, err
		}
		if err := e.uploadBlob(ctx, b, sec); err != nil {
			return nil, err
		}
		if err := e.docs.MarkBlobSynced(b.ID); err != nil {
			return nil, err
		}
		out = append(out, BlobRef{BlobID: b.ID, SecretID: sec.ID})
	}
	return out, nil
}

func (e *Engine) uploadBlob(ctx context.Context, b model.Blob, sec docstore.DocumentSecret) error {
	f, err := e.blobs.Open(b)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	url, err := e.transport.BlobUploadURL(ctx, b.ID)
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go func() {
		_, sealErr := blobstore.SealStream(pw, f, sec.Key)
		pw.CloseWithError(sealErr)
	}()
	return e.transfer.Upload(ctx, url, pr, blobstore.EncryptedLength(info.Size()))
}

// DownloadBlob fetches and decrypts a file a card references, saving it
// into the local blob store under its original (server-assigned) id.
func (e *Engine) DownloadBlob(ctx context.Context, ref BlobRef, docID model.DocID, originalName string) (model.Blob, error) {
	sec, err := e.docs.FindSecret(ref.SecretID)
	if err != nil {
		return model.Blob{}, err
	}

	url, encryptedLen, err := e.transport.BlobDownloadURL(ctx, ref.BlobID)
	if err != nil {
		return model.Blob{}, err
	}

	sealedR, sealedW := io.Pipe()
	go func() {
		sealedW.CloseWithError(e.transfer.Download(ctx, url, sealedW, encryptedLen))
	}()

	plainR, plainW := io.Pipe()
	go func() {
		plainW.CloseWithError(blobstore.OpenStream(plainW, sealedR, sec.Key))
	}()

	b, err := e.blobs.Save(plainR, originalName, docID, e.self)
	if err != nil {
		return model.Blob{}, err
	}
	b.ID = ref.BlobID
	if err := e.docs.SaveBlob(b); err != nil {
		return model.Blob{}, err
	}
	return b, nil
}

// uploadEncryptedDoc is the outbound half of the round trip: resolve
// recipients and their groups, seal the document under the right
// secret, sign it, and push it.
func (e *Engine) uploadEncryptedDoc(ctx context.Context, doc model.Document) error {
	accounts := e.recipients(doc)
	groups, err := e.ensureGroups(ctx, accounts)
	if err != nil {
		return err
	}
	sec, err := e.ensureSecret(accounts, groups)
	if err != nil {
		return err
	}
	blobRefs, err := e.resolveBlobRefs(ctx, doc, accounts)
	if err != nil {
		return err
	}

	wire := docPayload{Schema: doc.Schema, Body: doc.Body, ACL: doc.ACL, EditedAt: doc.EditedAt}
	plain, err := encodeGob(wire)
	if err != nil {
		return err
	}
	ciphertext, err := cryptoprim.Seal([32]byte(sec.Key), plain, []byte(string(doc.ID)))
	if err != nil {
		return err
	}

	msg := DocMessage{
		ID: doc.ID, Author: doc.Author, Counter: doc.Counter, CreatedAt: doc.CreatedAt,
		ToAccountIDs: accounts,
		Encrypted:    &EncryptedBody{SecretID: sec.ID, Payload: ciphertext, BlobRefs: blobRefs},
	}
	msg.PayloadSignature = cryptoprim.Sign(e.selfKey, msg.signedBytesOutbound())

	return e.transport.PushDoc(ctx, msg)
}
