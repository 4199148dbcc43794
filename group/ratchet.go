package group

import (
	"github.com/cipherdeck/core/cryptoprim"
)

// Secret is one epoch's application-message key for a group.
type Secret cryptoprim.Digest

// snapshot describes one past epoch's ratchet state: the secret needed to
// decrypt a message produced against that exact chain hash, even after
// the local group has since advanced past it. Group.snapshots caches
// only the Secret, keyed by snapshotKey(group id, chain hash).
type snapshot struct {
	Epoch     uint64
	ChainHash cryptoprim.Digest
	Secret    Secret
}

func snapshotKey(groupID, chainHash cryptoprim.Digest) [64]byte {
	var k [64]byte
	copy(k[:32], groupID[:])
	copy(k[32:], chainHash[:])
	return k
}

// ratchetForward derives the next epoch's secret from the previous one and
// the hash of the block that advanced the chain, so any device holding the
// previous secret and the new block can compute the next secret without
// anything being transmitted — the normal (no membership removed) case.
func ratchetForward(prev Secret, blockHash cryptoprim.Digest) (Secret, error) {
	key, err := cryptoprim.DeriveKey(prev[:], blockHash[:], []byte("cipherdeck-group-epoch"))
	if err != nil {
		return Secret{}, err
	}
	return Secret(key), nil
}

// wrapSecret seals secret so only the holder of recipientPub's matching
// private key can recover it, via a static ECDH shared secret between
// sender and recipient device keys.
func wrapSecret(sender cryptoprim.SigningKey, recipientPub cryptoprim.PublicKey, secret Secret) ([]byte, error) {
	wrapKey := cryptoprim.ECDH(sender, recipientPub)
	return cryptoprim.Seal([32]byte(wrapKey), secret[:], nil)
}

// unwrapSecret is the recipient-side counterpart of wrapSecret.
func unwrapSecret(recipient cryptoprim.SigningKey, senderPub cryptoprim.PublicKey, ciphertext []byte) (Secret, error) {
	wrapKey := cryptoprim.ECDH(recipient, senderPub)
	plain, err := cryptoprim.Open([32]byte(wrapKey), ciphertext, nil)
	if err != nil {
		return Secret{}, err
	}
	var s Secret
	copy(s[:], plain)
	return s, nil
}

// freshSecret draws new, unrelated epoch key material; used on member
// removal so the outgoing member cannot derive the result even knowing
// every secret it held before leaving.
func freshSecret() (Secret, error) {
	d, err := cryptoprim.RandomDigest()
	if err != nil {
		return Secret{}, err
	}
	return Secret(d), nil
}
