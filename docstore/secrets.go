package docstore

import (
	"bytes"
	"encoding/gob"
	"sort"
	"time"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// secretObsoleteAfter is how long a freshly-allocated document secret
// stays valid before get_secret_for_accounts must mint a replacement.
const secretObsoleteAfter = 30 * 24 * time.Hour

// DocumentSecret is the symmetric key used to encrypt one or more
// documents shared among a fixed set of accounts.
type DocumentSecret struct {
	ID         string
	Key        [32]byte
	Algorithm  string
	Accounts   []model.AccountID
	DocID      *model.DocID
	CreatedAt  time.Time
	ObsoleteAt *time.Time
}

type secretRow struct {
	ID         string
	SealedKey  []byte
	Algorithm  string
	Accounts   []model.AccountID
	DocID      *model.DocID
	CreatedAt  time.Time
	ObsoleteAt *time.Time
}

// accountsHash hashes the sorted account id list, so the same set of
// participants always resolves to the same secret regardless of the
// order the caller supplies them in.
func accountsHash(accounts []model.AccountID) cryptoprim.Digest {
	sorted := append([]model.AccountID(nil), accounts...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	var buf bytes.Buffer
	for _, a := range sorted {
		buf.Write(a[:])
	}
	return cryptoprim.Hash(buf.Bytes())
}

func (s *Store) putSecret(tx *bolt.Tx, sec DocumentSecret) error {
	sealedKey, err := s.key.Seal(sec.Key[:])
	if err != nil {
		return err
	}
	row := secretRow{
		ID: sec.ID, SealedKey: sealedKey, Algorithm: sec.Algorithm,
		Accounts: sec.Accounts, DocID: sec.DocID, CreatedAt: sec.CreatedAt, ObsoleteAt: sec.ObsoleteAt,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(row); err != nil {
		return errors.Wrap(err, "encode secret row")
	}
	if err := tx.Bucket(DocSecrets).Put([]byte(sec.ID), buf.Bytes()); err != nil {
		return err
	}
	hash := accountsHash(sec.Accounts)
	idxKey := append(append([]byte(nil), hash[:]...), []byte(sec.CreatedAt.Format(time.RFC3339Nano))...)
	return tx.Bucket(SecretsByAccountsHash).Put(idxKey, []byte(sec.ID))
}

func (s *Store) decodeSecret(raw []byte) (DocumentSecret, error) {
	var row secretRow
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&row); err != nil {
		return DocumentSecret{}, errors.Wrap(err, "decode secret row")
	}
	plain, err := s.key.Open(row.SealedKey)
	if err != nil {
		return DocumentSecret{}, errors.Wrap(err, "open sealed secret key")
	}
	var sec DocumentSecret
	sec.ID, sec.Algorithm, sec.Accounts, sec.DocID, sec.CreatedAt, sec.ObsoleteAt =
		row.ID, row.Algorithm, row.Accounts, row.DocID, row.CreatedAt, row.ObsoleteAt
	copy(sec.Key[:], plain)
	return sec, nil
}

// GetSecretForAccounts returns the earliest non-obsolete secret issued
// for exactly this account set, minting a fresh one (valid for
// secretObsoleteAfter) if none exists. isNew tells the caller it must
// broadcast the new secret to the group.
func (s *Store) GetSecretForAccounts(accounts []model.AccountID, now time.Time) (DocumentSecret, bool, error) {
	hash := accountsHash(accounts)
	var found *DocumentSecret
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(SecretsByAccountsHash).Cursor()
		prefix := hash[:]
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			raw := tx.Bucket(DocSecrets).Get(v)
			if raw == nil {
				continue
			}
			sec, err := s.decodeSecret(raw)
			if err != nil {
				return err
			}
			if sec.ObsoleteAt != nil && !sec.ObsoleteAt.After(now) {
				continue
			}
			if found == nil || sec.CreatedAt.Before(found.CreatedAt) {
				s := sec
				found = &s
			}
		}
		return nil
	})
	if err != nil {
		return DocumentSecret{}, false, err
	}
	if found != nil {
		return *found, false, nil
	}

	d, err := cryptoprim.RandomDigest()
	if err != nil {
		return DocumentSecret{}, false, err
	}
	key := [32]byte(d)
	obsoleteAt := now.Add(secretObsoleteAfter)
	sec := DocumentSecret{
		ID: uuid.NewString(), Key: key, Algorithm: "xchacha20poly1305",
		Accounts: append([]model.AccountID(nil), accounts...), CreatedAt: now, ObsoleteAt: &obsoleteAt,
	}
	err = s.db.Update(func(tx *bolt.Tx) error { return s.putSecret(tx, sec) })
	if err != nil {
		return DocumentSecret{}, false, err
	}
	return sec, true, nil
}

// MarkObsoleteForAccounts flags every secret whose account set intersects
// accounts as obsolete as of now, the rotation trigger fired whenever a
// secret group commit removes a member.
func (s *Store) MarkObsoleteForAccounts(accounts []model.AccountID, now time.Time) error {
	wanted := map[model.AccountID]bool{}
	for _, a := range accounts {
		wanted[a] = true
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(DocSecrets).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			sec, err := s.decodeSecret(v)
			if err != nil {
				return err
			}
			intersects := false
			for _, a := range sec.Accounts {
				if wanted[a] {
					intersects = true
					break
				}
			}
			if !intersects || (sec.ObsoleteAt != nil && !sec.ObsoleteAt.After(now)) {
				continue
			}
			sec.ObsoleteAt = &now
			if err := s.putSecret(tx, sec); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveSecret inserts or overwrites a fully-formed secret, for when a
// secret was minted by another device and arrives over the wire rather
// than being allocated locally by GetSecretForAccounts.
func (s *Store) SaveSecret(sec DocumentSecret) error {
	return s.db.Update(func(tx *bolt.Tx) error { return s.putSecret(tx, sec) })
}

// FindSecret looks up a secret by id, used when decrypting a document.
func (s *Store) FindSecret(id string) (DocumentSecret, error) {
	var sec DocumentSecret
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(DocSecrets).Get([]byte(id))
		if raw == nil {
			return ErrSecretNotFound
		}
		decoded, err := s.decodeSecret(raw)
		if err != nil {
			return err
		}
		sec = decoded
		return nil
	})
	return sec, err
}
