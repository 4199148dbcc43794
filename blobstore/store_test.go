package blobstore_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cipherdeck/core/blobstore"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
	"github.com/stretchr/testify/require"
)

func TestSaveAssignsCollisionFreeFilename(t *testing.T) {
	s, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)

	b1, err := s.Save(strings.NewReader("contents-1"), "notes.txt", model.DocID("abcdef12"), model.DeviceID{1})
	require.NoError(t, err)
	require.FileExists(t, b1.Path)
	require.Contains(t, filepath.Base(b1.Path), "notes (version abcdef)")

	b2, err := s.Save(strings.NewReader("contents-2"), "notes.txt", model.DocID("abcdef12"), model.DeviceID{1})
	require.NoError(t, err)
	require.NotEqual(t, b1.Path, b2.Path)

	require.False(t, b1.Synced)
	require.NotEqual(t, b1.Checksum, b2.Checksum)
}

func TestSaveChecksumMatchesContent(t *testing.T) {
	s, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)

	b, err := s.Save(strings.NewReader("hello"), "a.bin", model.DocID("123456"), model.DeviceID{2})
	require.NoError(t, err)

	f, err := s.Open(b)
	require.NoError(t, err)
	defer f.Close()
	data, err := os.ReadFile(b.Path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.Equal(t, cryptoprim.Hash([]byte("hello")), b.Checksum)
}

func TestRemoveDeletesFile(t *testing.T) {
	s, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)

	b, err := s.Save(strings.NewReader("x"), "f.txt", model.DocID("000001"), model.DeviceID{3})
	require.NoError(t, err)
	require.NoError(t, s.Remove(b))
	_, err = os.Stat(b.Path)
	require.True(t, os.IsNotExist(err))
}
