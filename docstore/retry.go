package docstore

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// maxMergeAttempts bounds how many times a deferred merge (account not
// yet resolvable, or secret not yet known) is retried before the
// document is given up on as skipped.
const maxMergeAttempts = 3

// retryInterval is how long a deferred merge waits before its next
// attempt.
const retryInterval = 60 * time.Second

type retryRow struct {
	Attempts    int
	NextAttempt time.Time
	Skipped     bool
	// Payload is the caller's opaque snapshot of the thing being retried
	// (docsync gob-encodes the remote doc it couldn't merge yet), carried
	// so a later retry round doesn't need the original message redelivered.
	Payload []byte
}

// MarkForRetry records a deferred merge attempt for docID, advancing its
// retry window and replacing the stashed payload, or flips it to
// permanently skipped once maxMergeAttempts is exhausted.
func (s *Store) MarkForRetry(docID model.DocID, now time.Time, payload []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(RetryDocs)
		row := retryRow{NextAttempt: now.Add(retryInterval)}
		if raw := b.Get([]byte(docID)); raw != nil {
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&row); err != nil {
				return err
			}
		}
		row.Attempts++
		row.NextAttempt = now.Add(retryInterval)
		row.Payload = payload
		if row.Attempts >= maxMergeAttempts {
			row.Skipped = true
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(row); err != nil {
			return errors.Wrap(err, "encode retry row")
		}
		return b.Put([]byte(docID), buf.Bytes())
	})
}

// ShouldRetry reports whether docID's retry window has elapsed and it
// hasn't been permanently skipped.
func (s *Store) ShouldRetry(docID model.DocID, now time.Time) (bool, error) {
	var row retryRow
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(RetryDocs).Get([]byte(docID))
		if raw == nil {
			return nil
		}
		found = true
		return gob.NewDecoder(bytes.NewReader(raw)).Decode(&row)
	})
	if err != nil || !found {
		return false, err
	}
	return !row.Skipped && !now.Before(row.NextAttempt), nil
}

// ClearRetry removes a doc's retry bookkeeping once its merge succeeds.
func (s *Store) ClearRetry(docID model.DocID) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(RetryDocs).Delete([]byte(docID)) })
}

// PendingRetry is one document whose deferred merge is due for another
// attempt, together with the payload it was stashed with.
type PendingRetry struct {
	DocID   model.DocID
	Payload []byte
}

// ListPendingRetries returns every doc whose retry window has elapsed
// and hasn't been permanently skipped, with its stashed payload.
func (s *Store) ListPendingRetries(now time.Time) ([]PendingRetry, error) {
	var out []PendingRetry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(RetryDocs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row retryRow
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&row); err != nil {
				return err
			}
			if !row.Skipped && !now.Before(row.NextAttempt) {
				out = append(out, PendingRetry{DocID: model.DocID(k), Payload: row.Payload})
			}
		}
		return nil
	})
	return out, err
}
