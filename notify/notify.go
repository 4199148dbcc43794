// Package notify promotes local notification records — contact requests
// and card shares awaiting a decision — into an account's shared
// AccountNotificationsV1 document once accepted or ignored, so every
// device of the account converges on the same outcome.
package notify

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/cipherdeck/core/crdt"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
)

// Service is scoped to one device of one account.
type Service struct {
	docs    *docstore.Store
	self    model.DeviceID
	account model.AccountID
}

// New builds a Service.
func New(docs *docstore.Store, self model.DeviceID, account model.AccountID) *Service {
	return &Service{docs: docs, self: self, account: account}
}

// IDFor deterministically derives a notification's id from its kind and
// payload, so the same contact request or card share resolves to the
// same notification no matter which device raised it first.
func IDFor(kind model.NotificationKind, payload []byte) string {
	digest := cryptoprim.HashAll([]byte{byte(kind)}, payload)
	return fmt.Sprintf("%x", digest)
}

// CreateIfNew records a notification locally, unless the shared doc
// already has a status for it (another device already decided) or a
// local row for it already exists. Returns whether a new row was
// inserted.
func (s *Service) CreateIfNew(kind model.NotificationKind, payload []byte) (bool, error) {
	id := IDFor(kind, payload)
	status, err := s.Status(id)
	if err != nil {
		return false, err
	}
	if status != model.NotificationMissing {
		return false, nil
	}
	return s.docs.CreateLocalNotificationIfNew(model.Notification{ID: id, Kind: kind, Payload: payload})
}

// List returns every notification pending a decision, oldest first.
func (s *Service) List() ([]model.Notification, error) {
	return s.docs.ListLocalNotifications()
}

// Status reports a notification's status as recorded in the shared doc,
// or Missing if no device has decided it yet.
func (s *Service) Status(id string) (model.NotificationStatus, error) {
	doc, err := s.docs.Find(model.NotificationsDocID(s.account))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.NotificationMissing, nil
	}
	if err != nil {
		return model.NotificationMissing, err
	}
	m := crdt.NewMap()
	if len(doc.Body) > 0 {
		var st crdt.MapState
		if err := gob.NewDecoder(bytes.NewReader(doc.Body)).Decode(&st); err != nil {
			return model.NotificationMissing, err
		}
		m.Merge(st)
	}
	raw, ok := m.Get(id)
	if !ok || len(raw) == 0 {
		return model.NotificationMissing, nil
	}
	return model.NotificationStatus(raw[0]), nil
}

// Accept marks id Accepted in the shared doc and deletes its local row.
func (s *Service) Accept(id string) error { return s.resolve(id, model.NotificationAccepted) }

// Ignore marks id Ignored in the shared doc and deletes its local row.
func (s *Service) Ignore(id string) error { return s.resolve(id, model.NotificationIgnored) }

func (s *Service) resolve(id string, status model.NotificationStatus) error {
	if err := s.docs.DeleteLocalNotification(id); err != nil {
		return err
	}

	docID := model.NotificationsDocID(s.account)
	doc, err := s.docs.Find(docID)
	isNew := false
	if errors.Is(err, docstore.ErrNotFound) {
		isNew = true
		doc = model.Document{
			ID: docID, Schema: model.SchemaAccountNotificationsV1, Author: s.self,
			CreatedAt: time.Now(), ACL: model.NewACLSeededAdmin(s.account),
		}
	} else if err != nil {
		return err
	}

	m := crdt.NewMap()
	if !isNew && len(doc.Body) > 0 {
		var st crdt.MapState
		if err := gob.NewDecoder(bytes.NewReader(doc.Body)).Decode(&st); err != nil {
			return err
		}
		m.Merge(st)
	}

	doc.Counter++
	m.Set(id, []byte{byte(status)}, s.self, doc.Counter)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m.EncodeState()); err != nil {
		return errors.Wrap(err, "encode notifications body")
	}
	doc.Body = buf.Bytes()
	doc.EditedAt = time.Now()
	return s.docs.Save(doc)
}
