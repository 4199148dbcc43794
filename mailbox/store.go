package mailbox

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Store holds the mailbox processor's local queues: outbound key
// packages awaiting upload, inbound message ids awaiting ack, and
// outbound group messages awaiting push. It never touches document or
// group state directly.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the bbolt file at path for mailbox queues.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open mailbox db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create mailbox buckets")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file.
func (s *Store) Close() error { return s.db.Close() }

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	return buf.Bytes(), nil
}

func decodeGob(raw []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(v)
}

func encodeMessage(msg group.Message) ([]byte, error) { return encodeGob(msg) }

func decodeMessage(raw []byte) (group.Message, error) {
	var msg group.Message
	err := decodeGob(raw, &msg)
	return msg, err
}

// QueueKeyPackage appends a key package awaiting upload.
func (s *Store) QueueKeyPackage(kp model.KeyPackage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(KeyPackageQueue)
		seq, _ := b.NextSequence()
		raw, err := encodeGob(kp)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), raw)
	})
}

// ListKeyPackageQueue returns every queued key package with its key, in
// FIFO order.
func (s *Store) ListKeyPackageQueue() ([][]byte, []model.KeyPackage, error) {
	var keys [][]byte
	var kps []model.KeyPackage
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(KeyPackageQueue).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var kp model.KeyPackage
			if err := decodeGob(v, &kp); err != nil {
				return err
			}
			keys = append(keys, append([]byte(nil), k...))
			kps = append(kps, kp)
		}
		return nil
	})
	return keys, kps, err
}

// RemoveKeyPackageQueueEntry deletes one uploaded key package's entry.
func (s *Store) RemoveKeyPackageQueueEntry(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(KeyPackageQueue).Delete(key) })
}

// processedRow is what Processed stores: the outcome tag for a message
// id, pending delivery to the server as an ack.
type processedRow struct {
	Error string
}

// IsProcessed reports whether a message id has already been dispatched
// locally (whether or not its ack has reached the server yet).
func (s *Store) IsProcessed(id string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(Processed).Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

// MarkProcessed records a message id's outcome, idempotently: calling
// this twice for the same id is a no-op against whatever was recorded
// first, since the id was already a recovery point.
func (s *Store) MarkProcessed(id string, errTag string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(Processed)
		if b.Get([]byte(id)) != nil {
			return nil
		}
		raw, err := encodeGob(processedRow{Error: errTag})
		if err != nil {
			return err
		}
		return b.Put([]byte(id), raw)
	})
}

// AckEntry is one message id still owed an ack to the server.
type AckEntry struct {
	ID    string
	Error string
}

// ListUnacked returns every processed-but-not-yet-acked message id.
func (s *Store) ListUnacked() ([]AckEntry, error) {
	var entries []AckEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(Processed).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row processedRow
			if err := decodeGob(v, &row); err != nil {
				return err
			}
			entries = append(entries, AckEntry{ID: string(k), Error: row.Error})
		}
		return nil
	})
	return entries, err
}

// RemoveAck deletes a message id's ack-pending entry, once the server
// has confirmed the ack.
func (s *Store) RemoveAck(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(Processed).Delete([]byte(id)) })
}

// outRow is what OutQueue stores: an outbound group message (itself
// gob-encoded) plus the id of the group it is pushed to.
type outRow struct {
	GroupID cryptoprim.Digest
	Msg     []byte
}

// QueueOutbound appends a group message produced locally (by Add,
// Remove, SelfUpdate, EncryptMessage, or a re-emitted catch-up commit
// from Apply) for push_mailbox.
func (s *Store) QueueOutbound(groupID cryptoprim.Digest, msg group.Message) error {
	encoded, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(OutQueue)
		seq, _ := b.NextSequence()
		raw, err := encodeGob(outRow{GroupID: groupID, Msg: encoded})
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), raw)
	})
}

// OutboundEntry is one queued outbound group message.
type OutboundEntry struct {
	Key     []byte
	GroupID cryptoprim.Digest
	Msg     group.Message
}

// ListOutboundQueue returns every queued outbound message in FIFO order.
func (s *Store) ListOutboundQueue() ([]OutboundEntry, error) {
	var entries []OutboundEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(OutQueue).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row outRow
			if err := decodeGob(v, &row); err != nil {
				return err
			}
			msg, err := decodeMessage(row.Msg)
			if err != nil {
				return err
			}
			entries = append(entries, OutboundEntry{Key: append([]byte(nil), k...), GroupID: row.GroupID, Msg: msg})
		}
		return nil
	})
	return entries, err
}

// RemoveOutboundQueueEntry deletes one pushed message's queue entry.
func (s *Store) RemoveOutboundQueueEntry(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(OutQueue).Delete(key) })
}
