// Package chain implements the per-group signed, append-only DAG of device
// membership operations: the ground truth for "who is in this group now",
// with deterministic conflict resolution on merge.
package chain

import (
	"time"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
)

// RemovedOp records a device removal together with its last-known counter,
// so members-at-epoch queries can report "removed, and here is where it
// left off".
type RemovedOp struct {
	Device      model.DeviceID
	LastCounter uint64
}

// DeviceOps is the operation set carried by one block. Add and remove ops
// never appear together in the same block.
type DeviceOps struct {
	Add    []model.KeyPackage
	Remove []RemovedOp
	Update []model.KeyPackage
}

func (o DeviceOps) empty() bool {
	return len(o.Add) == 0 && len(o.Remove) == 0 && len(o.Update) == 0
}

// Body is the signed payload of a block, everything that is hashed.
type Body struct {
	Parent     *cryptoprim.Digest // nil for the root block
	AuthoredBy model.DeviceID
	Epoch      uint64
	Ops        DeviceOps
	AccountIDs []model.AccountID // 0 (single-account chain) or 2 (contact chain)
}

// Block is one signed entry in the chain: its canonical-encoding hash,
// the signed body, and the author's signature over that encoding.
type Block struct {
	Hash      cryptoprim.Digest
	Body      Body
	Signature []byte
}

// Author bundles the device id and signing key used to author new blocks.
type Author struct {
	Device model.DeviceID
	Key    cryptoprim.SigningKey
}

func buildBlock(body Body, author Author) (Block, error) {
	encoded := encodeBody(body)
	hash := cryptoprim.Hash(encoded)
	sig := cryptoprim.Sign(author.Key, encoded)
	return Block{Hash: hash, Body: body, Signature: sig}, nil
}

func assertBlockHash(b Block) error {
	encoded := encodeBody(b.Body)
	if cryptoprim.Hash(encoded) != b.Hash {
		return ErrHashMismatch
	}
	return nil
}

// KeyPackage is a convenience constructor matching model.KeyPackage,
// exported here so callers building ops don't need to import model for
// the common case.
func NewKeyPackage(device model.DeviceID, pub cryptoprim.PublicKey) model.KeyPackage {
	return model.KeyPackage{Device: device, PublicKey: pub.Bytes(), CreatedAt: time.Now()}
}
