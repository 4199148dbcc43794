package cryptoprim_test

import (
	"testing"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)

	msg := []byte("root block body")
	sig := cryptoprim.Sign(key, msg)
	require.True(t, cryptoprim.Verify(key.Public(), msg, sig))

	other, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)
	require.False(t, cryptoprim.Verify(other.Public(), msg, sig))
	require.False(t, cryptoprim.Verify(key.Public(), []byte("tampered"), sig))
}

func TestSigningKeyBytesRoundTrip(t *testing.T) {
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)

	restored, err := cryptoprim.SigningKeyFromBytes(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, key.Public().Bytes(), restored.Public().Bytes())
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	plaintext := []byte("hello card")
	ct, err := cryptoprim.Seal(key, plaintext, []byte("aad"))
	require.NoError(t, err)

	pt, err := cryptoprim.Open(key, ct, []byte("aad"))
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)

	_, err = cryptoprim.Open(key, ct, []byte("wrong-aad"))
	require.ErrorIs(t, err, cryptoprim.ErrDecrypt)
}

func TestHashStability(t *testing.T) {
	a := cryptoprim.Hash([]byte("same bytes"))
	b := cryptoprim.Hash([]byte("same bytes"))
	require.Equal(t, a, b)

	c := cryptoprim.HashAll([]byte("same "), []byte("bytes"))
	require.Equal(t, a, c, "HashAll over concatenated chunks must match Hash over the joined buffer")
}

func TestDeriveKeyDeterministic(t *testing.T) {
	secret := []byte("ratchet-secret")
	k1, err := cryptoprim.DeriveKey(secret, []byte("salt"), []byte("epoch-1"))
	require.NoError(t, err)
	k2, err := cryptoprim.DeriveKey(secret, []byte("salt"), []byte("epoch-1"))
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := cryptoprim.DeriveKey(secret, []byte("salt"), []byte("epoch-2"))
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}
