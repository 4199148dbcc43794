package docsync

import (
	"time"

	"github.com/cipherdeck/core/crdt"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
)

var binFlagSet = []byte{1}

// MoveToBin flips this account's local label set for card to include
// the bin label. It only affects this device's own view of the card,
// not other collaborators' access to it.
func (e *Engine) MoveToBin(card model.DocID) error {
	return e.updateMap(model.LabelsDocID(card), model.SchemaCardLabelsV1, func(m *crdt.Map, counter uint64) {
		m.Set(model.BinLabelID, binFlagSet, e.self, counter)
	})
}

// MoveToBinForAll marks the card's ACL bin timestamp, hiding it from
// every collaborator once their devices merge the ACL change. Requires
// local Admin rights on the card.
func (e *Engine) MoveToBinForAll(card model.DocID) error {
	doc, err := e.docs.Find(card)
	if err != nil {
		return err
	}
	if !doc.ACL.Has(e.account, model.RightAdmin) {
		return errors.New("docsync: only an admin can bin a card for every collaborator")
	}

	now := time.Now()
	acl := doc.ACL.Clone()
	acl.BinnedAt = &now
	doc.ACL = acl
	doc.EditedAt = now
	if err := e.docs.Save(doc); err != nil {
		return err
	}

	return e.queueACLPush(doc)
}

// EmptyBin permanently deletes every card that has been in the bin
// longer than binRetention: removes the local row and unlinks its blob
// files, and, for cards this account holds Admin on, queues a signed
// Deletion targeted at every collaborator.
func (e *Engine) EmptyBin() error {
	cards, err := e.docs.ListBySchema(model.SchemaCardV1)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-binRetention)
	for _, doc := range cards {
		if doc.ACL.BinnedAt == nil || doc.ACL.BinnedAt.After(cutoff) {
			continue
		}
		if err := e.unlinkBlobs(doc); err != nil {
			return err
		}
		if err := e.docs.RemoveExternal(doc.ID); err != nil {
			return err
		}
		if !doc.ACL.Has(e.account, model.RightAdmin) {
			continue
		}
		if err := e.queueDeletionPush(doc); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) queueACLPush(doc model.Document) error {
	qp := queuedDocPush{Schema: doc.Schema, ACL: doc.ACL, EditedAt: doc.EditedAt, ToAccounts: e.recipients(doc)}
	payload, err := encodeGob(qp)
	if err != nil {
		return err
	}
	return e.docs.QueueDocPush(docstore.QueuedPush{DocID: doc.ID, Ciphertext: payload})
}

func (e *Engine) queueDeletionPush(doc model.Document) error {
	qp := queuedDocPush{Deletion: &DeletionBody{DeletedAt: time.Now()}, ToAccounts: e.recipients(doc)}
	payload, err := encodeGob(qp)
	if err != nil {
		return err
	}
	return e.docs.QueueDocPush(docstore.QueuedPush{DocID: doc.ID, Ciphertext: payload})
}

// updateMap loads (or seeds) a Map-CRDT-backed document, applies fn
// under a freshly bumped local counter, and saves it.
func (e *Engine) updateMap(id model.DocID, schema model.Schema, fn func(m *crdt.Map, counter uint64)) error {
	doc, err := e.docs.Find(id)
	isNew := false
	if errors.Is(err, docstore.ErrNotFound) {
		isNew = true
		doc = model.Document{ID: id, Schema: schema, Author: e.self, CreatedAt: time.Now(), ACL: model.NewACLSeededAdmin(e.account)}
	} else if err != nil {
		return err
	}

	m := crdt.NewMap()
	if !isNew && len(doc.Body) > 0 {
		var st crdt.MapState
		if err := decodeGob(doc.Body, &st); err != nil {
			return err
		}
		m.Merge(st)
	}

	doc.Counter++
	fn(m, doc.Counter)

	body, err := encodeGob(m.EncodeState())
	if err != nil {
		return err
	}
	doc.Body = body
	doc.EditedAt = time.Now()
	return e.docs.Save(doc)
}
