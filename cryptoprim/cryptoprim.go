// Package cryptoprim provides the cryptographic building blocks shared by
// every other component: device signing keys, content hashing, symmetric
// AEAD sealing and key derivation. Callers pass key bytes to Seal/Open and
// never build an AEAD or a nonce themselves, with one exception:
// blobstore's chunked stream cipher builds its own XChaCha20-Poly1305 AEAD
// and derives per-chunk nonces from the chunk index.
package cryptoprim

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/blake3"
)

// HashSize is the digest size used throughout the core (chain hashes,
// accounts hashes, blob checksums).
const HashSize = 32

// Digest is a Blake3-256 hash.
type Digest [HashSize]byte

// Hash returns the Blake3-256 digest of data.
func Hash(data []byte) Digest {
	var d Digest
	sum := blake3.Sum256(data)
	copy(d[:], sum[:])
	return d
}

// HashAll hashes the concatenation of all chunks without an intermediate
// allocation by streaming them through one hasher.
func HashAll(chunks ...[]byte) Digest {
	h := blake3.New(HashSize, nil)
	for _, c := range chunks {
		h.Write(c)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Hasher streams data through Blake3-256, for checksumming a file while
// it's being copied rather than buffering it all in memory first.
type Hasher struct {
	h interface {
		io.Writer
		Sum([]byte) []byte
	}
}

// NewHasher returns a ready-to-write streaming hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New(HashSize, nil)}
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Digest {
	var d Digest
	copy(d[:], h.h.Sum(nil))
	return d
}

// SigningKey is a device's long-lived signing credential.
type SigningKey struct {
	priv *secp256k1.PrivateKey
}

// PublicKey is the verification half of a SigningKey.
type PublicKey struct {
	pub *secp256k1.PublicKey
}

// GenerateSigningKey creates a fresh random device signing credential.
func GenerateSigningKey() (SigningKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return SigningKey{}, errors.Wrap(err, "generate signing key")
	}
	return SigningKey{priv: priv}, nil
}

// Public returns the public half of the key.
func (k SigningKey) Public() PublicKey {
	return PublicKey{pub: k.priv.PubKey()}
}

// Bytes returns the raw 32-byte scalar, for sealing into the device's local
// database; never transmitted.
func (k SigningKey) Bytes() []byte {
	b := k.priv.Serialize()
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// SigningKeyFromBytes reconstructs a signing key from raw scalar bytes.
func SigningKeyFromBytes(b []byte) (SigningKey, error) {
	priv := secp256k1.PrivKeyFromBytes(b)
	if priv == nil {
		return SigningKey{}, errors.New("invalid signing key bytes")
	}
	return SigningKey{priv: priv}, nil
}

// Bytes returns the compressed 33-byte public key encoding. This is what
// travels on the wire as a device's identity material inside key packages
// and chain blocks.
func (k PublicKey) Bytes() []byte {
	return k.pub.SerializeCompressed()
}

// PublicKeyFromBytes parses a compressed public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return PublicKey{}, errors.Wrap(err, "parse public key")
	}
	return PublicKey{pub: pub}, nil
}

// Sign signs the digest of msg with the device's signing key. Signatures
// are always taken over a hash, never the raw message, matching the chain
// block signing scheme (hash-then-sign).
func Sign(k SigningKey, msg []byte) []byte {
	digest := Hash(msg)
	sig := ecdsa.Sign(k.priv, digest[:])
	return sig.Serialize()
}

// Verify checks a signature produced by Sign.
func Verify(pub PublicKey, msg []byte, sig []byte) bool {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	digest := Hash(msg)
	return parsed.Verify(digest[:], pub.pub)
}

// ErrDecrypt is returned whenever AEAD opening fails (wrong key, corrupted
// or tampered ciphertext). It is intentionally uninformative: the caller
// must not distinguish "wrong key" from "tampered" to an attacker.
var ErrDecrypt = errors.New("cryptoprim: decryption failed")

// Seal encrypts plaintext with an XChaCha20-Poly1305 AEAD under key,
// prefixing the random nonce to the returned ciphertext.
func Seal(key [32]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "new aead")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "read nonce")
	}
	out := aead.Seal(nonce, nonce, plaintext, aad)
	return out, nil
}

// Open decrypts a ciphertext produced by Seal.
func Open(key [32]byte, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "new aead")
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, ct := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// RandomDigest returns 32 bytes of fresh randomness, for callers that need
// key material unrelated to anything derivable from prior state (e.g. a
// ratchet rekey that must exclude a just-removed member).
func RandomDigest() (Digest, error) {
	var d Digest
	if _, err := rand.Read(d[:]); err != nil {
		return d, errors.Wrap(err, "read random digest")
	}
	return d, nil
}

// ECDH computes a shared secret between priv and pub by scalar-multiplying
// pub's point by priv's scalar and hashing the resulting point's compressed
// encoding. Used to wrap a ratchet secret to a single recipient device's
// long-lived public key (key-package sealing), since the signing keys
// double as the device's static DH keys.
func ECDH(priv SigningKey, pub PublicKey) Digest {
	var point secp256k1.JacobianPoint
	pub.pub.AsJacobian(&point)
	var result secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&priv.priv.Key, &point, &result)
	result.ToAffine()
	shared := secp256k1.NewPublicKey(&result.X, &result.Y)
	return Hash(shared.SerializeCompressed())
}

// DeriveKey expands secret via HKDF-SHA256 into a 32-byte key, salted and
// labelled so distinct uses of the same secret (e.g. successive ratchet
// epochs) never collide.
func DeriveKey(secret, salt, info []byte) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, secret, salt, info)
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, errors.Wrap(err, "hkdf expand")
	}
	return out, nil
}

// DBKey is the process-provided key used only to seal local-database
// values at rest (docstore's document rows and document-secret keys). It
// is never used to encrypt anything that leaves the device.
type DBKey [32]byte

// NewDBKey generates a random local database key; the caller persists it
// and supplies it again when the database is reopened (sdk keeps it in
// the device's identity file and passes it to docstore.Open).
func NewDBKey() (DBKey, error) {
	var k DBKey
	if _, err := rand.Read(k[:]); err != nil {
		return k, errors.Wrap(err, "generate db key")
	}
	return k, nil
}

// Seal/Open convenience methods bind DBKey to the generic AEAD helpers.

func (k DBKey) Seal(plaintext []byte) ([]byte, error) { return Seal([32]byte(k), plaintext, nil) }
func (k DBKey) Open(ciphertext []byte) ([]byte, error) { return Open([32]byte(k), ciphertext, nil) }
