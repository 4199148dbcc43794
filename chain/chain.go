package chain

import (
	"math"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
)

// Chain is the append-only sequence of blocks for one group (an account
// chain with zero account ids, or a contact chain binding two accounts).
// A chain is empty only transiently before New returns; once built it
// has a root block (len 1) or more.
type Chain struct {
	blocks []Block
}

// New builds a root block whose single add is author's first key package.
// accountIDs must have 0 or 2 entries.
func New(author Author, firstKeyPackage model.KeyPackage, accountIDs []model.AccountID) (*Chain, error) {
	if len(accountIDs) != 0 && len(accountIDs) != 2 {
		return nil, ErrInvalidRoot
	}

	body := Body{
		Parent:     nil,
		AuthoredBy: author.Device,
		Epoch:      0,
		Ops:        DeviceOps{Add: []model.KeyPackage{firstKeyPackage}},
		AccountIDs: append([]model.AccountID(nil), accountIDs...),
	}
	root, err := buildBlock(body, author)
	if err != nil {
		return nil, err
	}
	return &Chain{blocks: []Block{root}}, nil
}

// FromBlocks reconstructs a chain from a decoded block sequence (e.g. one
// received over the wire via a Welcome or Commit message). It performs no
// validation; call Verify before trusting it.
func FromBlocks(blocks []Block) *Chain {
	return &Chain{blocks: append([]Block(nil), blocks...)}
}

// Blocks returns the chain's blocks in order, for encoding/transmission.
func (c *Chain) Blocks() []Block { return append([]Block(nil), c.blocks...) }

// Root returns the chain's identity: the hash of its first block.
func (c *Chain) Root() cryptoprim.Digest { return c.blocks[0].Hash }

// Head returns the hash of the chain's most recent block. Two chains are
// equal iff their heads are equal.
func (c *Chain) Head() cryptoprim.Digest { return c.blocks[len(c.blocks)-1].Hash }

// Equal compares chains by head-hash equality.
func (c *Chain) Equal(other *Chain) bool {
	return c.Head() == other.Head()
}

// AccountIDs returns the 0 or 2 account ids bound in the root block.
func (c *Chain) AccountIDs() []model.AccountID { return c.blocks[0].Body.AccountIDs }

// Epoch returns the chain's current epoch (the last block's epoch).
func (c *Chain) Epoch() uint64 { return c.blocks[len(c.blocks)-1].Body.Epoch }

// Len returns the number of blocks.
func (c *Chain) Len() int { return len(c.blocks) }

// HashAt returns the block hash at a given epoch, if any block carries it.
func (c *Chain) HashAt(epoch uint64) (cryptoprim.Digest, bool) {
	for _, b := range c.blocks {
		if b.Body.Epoch == epoch {
			return b.Hash, true
		}
	}
	return cryptoprim.Digest{}, false
}

// Append extends the head with a new block signed by author. Fails with
// ErrDifferentOps if ops mixes adds and removes, ErrNonMemberEdit if
// author is not a current member.
func (c *Chain) Append(ops DeviceOps, author Author) error {
	if len(ops.Add) > 0 && len(ops.Remove) > 0 {
		return ErrDifferentOps
	}
	members := replayMembers(c.blocks, math.MaxUint64)
	if !members.Has(author.Device) {
		return ErrNonMemberEdit
	}

	parent := c.Head()
	body := Body{
		Parent:     &parent,
		AuthoredBy: author.Device,
		Epoch:      c.Epoch() + 1,
		Ops:        ops,
	}
	block, err := buildBlock(body, author)
	if err != nil {
		return err
	}
	c.blocks = append(c.blocks, block)
	return nil
}

// Verify re-checks every block's hash, signature, membership-at-author-
// time, op separation, non-empty-ops and root constraints.
// It never mutates the chain.
func (c *Chain) Verify() error {
	if len(c.blocks) == 0 {
		return ErrEmpty
	}

	root := c.blocks[0]
	if len(root.Body.Ops.Add) != 1 || len(root.Body.Ops.Remove) != 0 {
		return ErrInvalidRootOps
	}
	if len(root.Body.AccountIDs) != 0 && len(root.Body.AccountIDs) != 2 {
		return ErrInvalidRoot
	}
	if err := assertBlockHash(root); err != nil {
		return err
	}

	rootKP := root.Body.Ops.Add[0]
	rootPub, err := cryptoprim.PublicKeyFromBytes(rootKP.PublicKey)
	if err != nil {
		return ErrInvalidSignature
	}
	if !cryptoprim.Verify(rootPub, encodeBody(root.Body), root.Signature) {
		return ErrInvalidSignature
	}

	members := newMembers()
	members.insert(rootKP, root.Body.Epoch)

	for _, block := range c.blocks[1:] {
		author, ok := members.ByDevice[block.Body.AuthoredBy]
		if !ok {
			return ErrNonMemberEdit
		}
		if err := assertBlockHash(block); err != nil {
			return err
		}
		authorPub, err := cryptoprim.PublicKeyFromBytes(author.KeyPackage.PublicKey)
		if err != nil {
			return ErrInvalidSignature
		}
		if !cryptoprim.Verify(authorPub, encodeBody(block.Body), block.Signature) {
			return ErrInvalidSignature
		}

		ops := block.Body.Ops
		if ops.empty() {
			return ErrEmptyOps
		}
		if len(ops.Add) > 0 && len(ops.Remove) > 0 {
			return ErrDifferentOps
		}

		for _, kp := range ops.Add {
			members.insert(kp, block.Body.Epoch)
		}
		for _, r := range ops.Remove {
			members.remove(r)
		}
		for _, kp := range ops.Update {
			members.insert(kp, block.Body.Epoch)
		}
	}

	return nil
}

// MembersAt replays the chain up to and including epoch, returning the
// active and removed member sets.
func (c *Chain) MembersAt(epoch uint64) Members {
	return replayMembers(c.blocks, epoch)
}

// Members replays the full chain.
func (c *Chain) Members() Members {
	return replayMembers(c.blocks, math.MaxUint64)
}
