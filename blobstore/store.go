package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Package blobstore manages locally stored file blobs: content-addressed
// save with a human-friendly, collision-free filename, and the chunked
// AEAD streaming used to move them to and from remote storage.

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a logger; a discard logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Store manages a directory of blob files, guarded by a file lock so
// concurrent processes don't race on filename collision avoidance.
type Store struct {
	dir  string
	lock *flock.Flock
	log  *zap.Logger
}

// Open prepares dir (creating it if needed) as a blob directory.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create blob dir")
	}
	s := &Store{dir: dir, lock: flock.New(filepath.Join(dir, ".lock")), log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the directory blobs are stored under.
func (s *Store) Dir() string { return s.dir }

// uniqueName builds "<stem> (version <6-char card-id>).<ext>", appending
// a numeric suffix on the rare occasion that name is already taken.
func uniqueName(dir, originalName string, docID model.DocID) (string, error) {
	ext := filepath.Ext(originalName)
	stem := strings.TrimSuffix(filepath.Base(originalName), ext)
	tag := string(docID)
	if len(tag) > 6 {
		tag = tag[:6]
	}
	base := fmt.Sprintf("%s (version %s)%s", stem, tag, ext)
	candidate := base
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, candidate)); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", errors.Wrap(err, "stat candidate blob path")
		}
		candidate = fmt.Sprintf("%s (version %s) (%d)%s", stem, tag, i, ext)
	}
}

// Save copies src into the blob directory under a fresh random (UUID)
// id, recording the content's Blake3 checksum alongside it, and returns
// a row with synced=false. docID names the
// document version this file belongs to, for the collision-avoiding
// filename; device is the authoring device, recorded for provenance.
func (s *Store) Save(src io.Reader, originalName string, docID model.DocID, device model.DeviceID) (model.Blob, error) {
	if err := s.lock.Lock(); err != nil {
		return model.Blob{}, errors.Wrap(err, "lock blob dir")
	}
	defer s.lock.Unlock()

	name, err := uniqueName(s.dir, originalName, docID)
	if err != nil {
		return model.Blob{}, err
	}
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return model.Blob{}, errors.Wrap(err, "create blob file")
	}
	defer f.Close()

	hasher := cryptoprim.NewHasher()
	if _, err := io.Copy(io.MultiWriter(f, hasher), src); err != nil {
		os.Remove(path)
		return model.Blob{}, errors.Wrap(err, "copy blob contents")
	}

	return model.Blob{
		ID:       uuid.NewString(),
		Device:   device,
		Checksum: hasher.Sum(),
		Path:     path,
		Synced:   false,
	}, nil
}

// Open returns a reader over a previously saved blob's plaintext bytes.
func (s *Store) Open(b model.Blob) (*os.File, error) {
	f, err := os.Open(b.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open blob file")
	}
	return f, nil
}

// Remove deletes the blob's file from disk.
func (s *Store) Remove(b model.Blob) error {
	if err := os.Remove(b.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove blob file")
	}
	return nil
}
