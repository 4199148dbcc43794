package blobstore_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/cipherdeck/core/blobstore"
	"github.com/stretchr/testify/require"
)

func TestSealOpenStreamRoundTrip(t *testing.T) {
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	plain := make([]byte, blobstore.ChunkSize*3+17)
	_, err = rand.Read(plain)
	require.NoError(t, err)

	var ciphertext bytes.Buffer
	n, err := blobstore.SealStream(&ciphertext, bytes.NewReader(plain), key)
	require.NoError(t, err)
	require.Equal(t, int64(len(plain)), n)
	require.Equal(t, blobstore.EncryptedLength(int64(len(plain))), int64(ciphertext.Len()))

	var recovered bytes.Buffer
	require.NoError(t, blobstore.OpenStream(&recovered, bytes.NewReader(ciphertext.Bytes()), key))
	require.Equal(t, plain, recovered.Bytes())
}

func TestSealOpenStreamEmptyInput(t *testing.T) {
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	var ciphertext bytes.Buffer
	n, err := blobstore.SealStream(&ciphertext, bytes.NewReader(nil), key)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, blobstore.EncryptedLength(0), int64(ciphertext.Len()))

	var recovered bytes.Buffer
	require.NoError(t, blobstore.OpenStream(&recovered, bytes.NewReader(ciphertext.Bytes()), key))
	require.Empty(t, recovered.Bytes())
}

func TestOpenStreamRejectsTamperedChunk(t *testing.T) {
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	var ciphertext bytes.Buffer
	_, err = blobstore.SealStream(&ciphertext, bytes.NewReader([]byte("hello blob")), key)
	require.NoError(t, err)

	tampered := ciphertext.Bytes()
	tampered[0] ^= 0xFF

	var recovered bytes.Buffer
	err = blobstore.OpenStream(&recovered, bytes.NewReader(tampered), key)
	require.ErrorIs(t, err, blobstore.ErrDecrypt)
}

func TestSealStreamNoncesDifferPerChunkSoCiphertextsDiffer(t *testing.T) {
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	plain := bytes.Repeat([]byte{0xAB}, blobstore.ChunkSize*2)
	var ciphertext bytes.Buffer
	_, err = blobstore.SealStream(&ciphertext, bytes.NewReader(plain), key)
	require.NoError(t, err)

	raw := ciphertext.Bytes()
	chunkLen := blobstore.ChunkSize + 16
	require.NotEqual(t, raw[:chunkLen], raw[chunkLen:2*chunkLen])
}
