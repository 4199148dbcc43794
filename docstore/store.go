// Package docstore is the transactional local key-value store of
// documents, their ACLs, per-device counters and document secrets. It
// never reasons about CRDT semantics or network transport; it only
// persists opaque CRDT/ACL blobs and answers the handful of queries the
// sync engine needs.
package docstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"time"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Option configures a Store at Open time.
type Option func(*Store)

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Store is the local document database: one bbolt file per device,
// sealed at rest with a process-level database key never transmitted.
type Store struct {
	db    *bolt.DB
	key   cryptoprim.DBKey
	log   *zap.Logger
}

// Open creates or reopens the local database at path, sealed with key.
func Open(path string, key cryptoprim.DBKey, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open local database")
	}
	s := &Store{db: db, key: key, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return errors.Wrapf(err, "create bucket %s", bucket)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

type docRow struct {
	ID        model.DocID
	Schema    model.Schema
	Author    model.DeviceID
	Counter   uint64
	CreatedAt time.Time
	EditedAt  time.Time
	Body      []byte
	ACL       model.ACL
}

func (s *Store) encodeDoc(doc model.Document) ([]byte, error) {
	row := docRow{
		ID: doc.ID, Schema: doc.Schema, Author: doc.Author, Counter: doc.Counter,
		CreatedAt: doc.CreatedAt, EditedAt: doc.EditedAt, Body: doc.Body, ACL: doc.ACL,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(row); err != nil {
		return nil, errors.Wrap(err, "encode document row")
	}
	return s.key.Seal(buf.Bytes())
}

func (s *Store) decodeDoc(sealed []byte) (model.Document, error) {
	plain, err := s.key.Open(sealed)
	if err != nil {
		return model.Document{}, errors.Wrap(err, "open document row")
	}
	var row docRow
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&row); err != nil {
		return model.Document{}, errors.Wrap(err, "decode document row")
	}
	return model.Document{
		ID: row.ID, Schema: row.Schema, Author: row.Author, Counter: row.Counter,
		CreatedAt: row.CreatedAt, EditedAt: row.EditedAt, Body: row.Body, ACL: row.ACL,
	}, nil
}

// Find looks up a single document by id.
func (s *Store) Find(id model.DocID) (model.Document, error) {
	var doc model.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(Documents).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		d, err := s.decodeDoc(raw)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	return doc, err
}

// Save upserts a document row.
func (s *Store) Save(doc model.Document) error {
	sealed, err := s.encodeDoc(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(Documents).Put([]byte(doc.ID), sealed)
	})
}

// RemoveExternal deletes a document the caller no longer has access to
// (e.g. every local device was removed from its ACL).
func (s *Store) RemoveExternal(id model.DocID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(Documents).Delete([]byte(id))
	})
}

// FindLocalAfter returns documents authored by device with counter
// strictly greater than after, in ascending counter order — the set the
// sync engine still needs to push.
func (s *Store) FindLocalAfter(device model.DeviceID, after uint64) ([]model.Document, error) {
	var out []model.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(Documents).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			doc, err := s.decodeDoc(v)
			if err != nil {
				return err
			}
			if doc.Author == device && doc.Counter > after {
				out = append(out, doc)
			}
		}
		return nil
	})
	sortDocsByCounter(out)
	return out, err
}

// ListBySchema returns every known document of a given schema.
func (s *Store) ListBySchema(schema model.Schema) ([]model.Document, error) {
	var out []model.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(Documents).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			doc, err := s.decodeDoc(v)
			if err != nil {
				return err
			}
			if doc.Schema == schema {
				out = append(out, doc)
			}
		}
		return nil
	})
	return out, err
}

func sortDocsByCounter(docs []model.Document) {
	for i := 1; i < len(docs); i++ {
		for j := i; j > 0 && docs[j-1].Counter > docs[j].Counter; j-- {
			docs[j-1], docs[j] = docs[j], docs[j-1]
		}
	}
}

// DeviceCounter returns the highest counter observed for device, or 0.
func (s *Store) DeviceCounter(device model.DeviceID) (uint64, error) {
	var counter uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(DeviceCounters).Get(device[:])
		if raw == nil {
			return nil
		}
		counter = binary.BigEndian.Uint64(raw)
		return nil
	})
	return counter, err
}

// BumpDeviceCounter records counter for device if it's higher than what's
// stored, so out-of-order delivery never moves the watermark backwards.
func (s *Store) BumpDeviceCounter(device model.DeviceID, counter uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(DeviceCounters)
		raw := b.Get(device[:])
		if raw != nil && binary.BigEndian.Uint64(raw) >= counter {
			return nil
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], counter)
		return b.Put(device[:], buf[:])
	})
}

// QueuedPush is a prepared ciphertext awaiting upload.
type QueuedPush struct {
	DocID      model.DocID
	Ciphertext []byte
	Attempts   int
}

// QueueDocPush appends msg to the push queue in FIFO order.
func (s *Store) QueueDocPush(msg QueuedPush) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return errors.Wrap(err, "encode queued push")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(PushQueue)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return b.Put(key[:], buf.Bytes())
	})
}

// ListPushQueue returns every queued push in FIFO order together with the
// opaque key needed to remove it once uploaded.
func (s *Store) ListPushQueue() ([][8]byte, []QueuedPush, error) {
	var keys [][8]byte
	var items []QueuedPush
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(PushQueue).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item QueuedPush
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&item); err != nil {
				return errors.Wrap(err, "decode queued push")
			}
			var key [8]byte
			copy(key[:], k)
			keys = append(keys, key)
			items = append(items, item)
		}
		return nil
	})
	return keys, items, err
}

// RemovePushQueueEntry removes one entry once its upload succeeded.
func (s *Store) RemovePushQueueEntry(key [8]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(PushQueue).Delete(key[:])
	})
}
