package docstore

import (
	"bytes"
	"encoding/gob"

	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// SaveBlob inserts or updates a blob's metadata row.
func (s *Store) SaveBlob(b model.Blob) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return errors.Wrap(err, "encode blob row")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(Blobs).Put([]byte(b.ID), buf.Bytes())
	})
}

// FindBlob looks up a blob's metadata by id.
func (s *Store) FindBlob(id string) (model.Blob, error) {
	var b model.Blob
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(Blobs).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return gob.NewDecoder(bytes.NewReader(raw)).Decode(&b)
	})
	return b, err
}

// MarkBlobSynced flips a blob's synced flag once its upload succeeds.
func (s *Store) MarkBlobSynced(id string) error {
	b, err := s.FindBlob(id)
	if err != nil {
		return err
	}
	b.Synced = true
	return s.SaveBlob(b)
}

// RemoveBlob deletes a blob's metadata row (its file is removed
// separately by blobstore).
func (s *Store) RemoveBlob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(Blobs).Delete([]byte(id)) })
}
