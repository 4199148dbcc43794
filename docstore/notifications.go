package docstore

import (
	"bytes"
	"encoding/gob"
	"sort"
	"time"

	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type localNotificationRow struct {
	Kind      model.NotificationKind
	Payload   []byte
	CreatedAt time.Time
}

// CreateLocalNotificationIfNew inserts n's local row if one doesn't
// already exist, returning whether it was newly inserted.
func (s *Store) CreateLocalNotificationIfNew(n model.Notification) (bool, error) {
	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(LocalNotifications)
		if b.Get([]byte(n.ID)) != nil {
			return nil
		}
		row := localNotificationRow{Kind: n.Kind, Payload: n.Payload, CreatedAt: time.Now()}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(row); err != nil {
			return errors.Wrap(err, "encode local notification")
		}
		inserted = true
		return b.Put([]byte(n.ID), buf.Bytes())
	})
	return inserted, err
}

// ListLocalNotifications returns every notification not yet accepted or
// ignored, oldest first.
func (s *Store) ListLocalNotifications() ([]model.Notification, error) {
	type keyed struct {
		id  string
		row localNotificationRow
	}
	var rows []keyed
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(LocalNotifications).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row localNotificationRow
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&row); err != nil {
				return err
			}
			rows = append(rows, keyed{id: string(k), row: row})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].row.CreatedAt.Before(rows[j].row.CreatedAt) })
	out := make([]model.Notification, len(rows))
	for i, r := range rows {
		out[i] = model.Notification{ID: r.id, Kind: r.row.Kind, Payload: r.row.Payload, Status: model.NotificationMissing}
	}
	return out, nil
}

// DeleteLocalNotification removes a notification's local-only row.
func (s *Store) DeleteLocalNotification(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(LocalNotifications).Delete([]byte(id)) })
}
