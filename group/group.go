// Package group pairs a signature chain with a ratcheted key schedule so
// that membership (who can read) and message keys (what they can read)
// always move together. A commit that changes membership carries either
// nothing (the epoch secret simply ratchets forward, for adds) or a fresh
// secret wrapped per remaining device (for removes, so the departing
// device cannot derive the result).
package group

import (
	"github.com/cipherdeck/core/chain"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// snapshotCacheSize bounds how many past epochs' secrets a group keeps, so
// a commit referencing a slightly stale chain hash can still be decrypted
// without keeping unbounded history.
const snapshotCacheSize = 3

// Stats summarizes the membership delta a commit produced.
type Stats struct {
	Added, Removed, Updated int
}

// Group is a Secret Group: a Chain plus the ratchet state keyed to it.
type Group struct {
	chain *chain.Chain
	self  chain.Author

	secret    Secret
	snapshots *lru.Cache[[64]byte, Secret]
}

func newGroup(c *chain.Chain, self chain.Author, secret Secret) (*Group, error) {
	cache, err := lru.New[[64]byte, Secret](snapshotCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "new snapshot cache")
	}
	g := &Group{chain: c, self: self, secret: secret, snapshots: cache}
	g.remember(g.ID(), c.Head(), secret)
	return g, nil
}

// ID is the group's stable identity: its chain's root hash.
func (g *Group) ID() cryptoprim.Digest { return g.chain.Root() }

// Chain exposes the underlying signature chain for read-only use
// (membership listing, persistence).
func (g *Group) Chain() *chain.Chain { return g.chain }

// Epoch is the chain's current epoch, which the ratchet secret is always
// indexed against.
func (g *Group) Epoch() uint64 { return g.chain.Epoch() }

func (g *Group) remember(groupID, chainHash cryptoprim.Digest, secret Secret) {
	g.snapshots.Add(snapshotKey(groupID, chainHash), secret)
}

func (g *Group) lookup(groupID, chainHash cryptoprim.Digest) (Secret, bool) {
	return g.snapshots.Get(snapshotKey(groupID, chainHash))
}

// Create starts a new group for a single account: a fresh chain root
// authored by author, with author's own key package as sole member.
func Create(author chain.Author, ownKeyPackage model.KeyPackage) (*Group, error) {
	c, err := chain.New(author, ownKeyPackage, nil)
	if err != nil {
		return nil, err
	}
	secret, err := freshSecret()
	if err != nil {
		return nil, err
	}
	return newGroup(c, author, secret)
}

// CreateForAccounts starts a contact group binding self and other; the
// caller is expected to follow up with Add once it has key packages for
// the other account's devices.
func CreateForAccounts(author chain.Author, ownKeyPackage model.KeyPackage, self, other model.AccountID) (*Group, error) {
	c, err := chain.New(author, ownKeyPackage, []model.AccountID{self, other})
	if err != nil {
		return nil, err
	}
	secret, err := freshSecret()
	if err != nil {
		return nil, err
	}
	return newGroup(c, author, secret)
}

// Join processes an invite: decode the chain carried in the welcome,
// reconcile it against any chain already known locally for the same
// root, then recover the epoch secret wrapped for self. If existing is
// non-nil and PrepareMerge would keep it over the welcome's chain, the
// welcome refers to a fork that has already been abandoned. The device
// that sent the invite is identified by the add block's author field in
// the chain itself, never passed in: a joining device only ever has
// that device's public key (via its key package), not its private
// signing key.
func Join(existing *Group, self model.DeviceID, selfKey cryptoprim.SigningKey, w Welcome) (*Group, error) {
	remote := chain.FromBlocks(w.ChainBlocks)
	if err := remote.Verify(); err != nil {
		return nil, err
	}

	effective := remote
	if existing != nil {
		advice, err := existing.chain.PrepareMerge(remote)
		if err != nil {
			return nil, err
		}
		if advice.Used == chain.UsedLocal && !existing.chain.Equal(remote) {
			return nil, ErrAbandonedFork
		}
		effective = advice.Chain
	}

	members := effective.Members()
	if !members.Has(self) {
		return nil, ErrNotAMember
	}
	ws, ok := w.ForDevice(self)
	if !ok {
		return nil, ErrNoSecretForDevice
	}

	blocks := effective.Blocks()
	inviter := blocks[len(blocks)-1].Body.AuthoredBy
	inviterMember, ok := members.ByDevice[inviter]
	if !ok {
		return nil, ErrGroupChainMismatch
	}
	inviterPub, err := cryptoprim.PublicKeyFromBytes(inviterMember.KeyPackage.PublicKey)
	if err != nil {
		return nil, err
	}

	secret, err := unwrapSecret(selfKey, inviterPub, ws.Ciphertext)
	if err != nil {
		return nil, err
	}

	return newGroup(effective, chain.Author{Device: self, Key: selfKey}, secret)
}

// Add appends an add block for each new key package, rekeys by ratcheting
// the secret forward over the new block (no removal, so no member loses
// access to history), and produces a Welcome carrying that secret sealed
// to each new device. Returns a nil message when kps is empty or every
// device is already a member.
func (g *Group) Add(kps []model.KeyPackage) (*Message, error) {
	ok, err := g.chain.Modify(chain.LocalApply(chain.DeviceOps{Add: kps}), g.self)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	msg, err := g.rekeyForAdd(kps)
	if err != nil {
		return nil, err
	}
	g.remember(g.ID(), g.chain.Head(), g.secret)
	return msg, nil
}

// Remove appends a remove block and rotates to an unrelated fresh secret,
// wrapped for every device still a member after the removal, so the
// departing device cannot derive future application keys.
func (g *Group) Remove(removed []chain.RemovedOp) (*Message, error) {
	ok, err := g.chain.Modify(chain.LocalApply(chain.DeviceOps{Remove: removed}), g.self)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	msg, err := g.rekeyForRemove()
	if err != nil {
		return nil, err
	}
	g.remember(g.ID(), g.chain.Head(), g.secret)
	return msg, nil
}

// SelfUpdate replaces self's own key package (e.g. after local key
// rotation); membership is unchanged so the secret simply ratchets
// forward, no wrapping required since every current member already has
// the previous secret.
func (g *Group) SelfUpdate(newKeyPackage model.KeyPackage) (*Message, error) {
	ok, err := g.chain.Modify(chain.LocalApply(chain.DeviceOps{Update: []model.KeyPackage{newKeyPackage}}), g.self)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	msg, err := g.rekeyForUpdate()
	if err != nil {
		return nil, err
	}
	g.remember(g.ID(), g.chain.Head(), g.secret)
	return msg, nil
}

// rekeyForAdd ratchets the secret forward over the chain's current head
// and wraps it for each of kps that made it into membership (Modify may
// have dropped some as already-present). Shared by Add and by apply.go's
// reapplication of a divergent remote add block.
func (g *Group) rekeyForAdd(kps []model.KeyPackage) (*Message, error) {
	next, err := ratchetForward(g.secret, g.chain.Head())
	if err != nil {
		return nil, err
	}
	g.secret = next

	members := g.chain.Members()
	wrapped := make([]WrappedSecret, 0, len(kps))
	for _, kp := range kps {
		if !members.Has(kp.Device) {
			continue
		}
		recipientPub, err := cryptoprim.PublicKeyFromBytes(kp.PublicKey)
		if err != nil {
			return nil, err
		}
		ciphertext, err := wrapSecret(g.self.Key, recipientPub, next)
		if err != nil {
			return nil, err
		}
		wrapped = append(wrapped, WrappedSecret{Recipient: kp.Device, Ciphertext: ciphertext})
	}

	var welcome *Welcome
	if len(wrapped) > 0 {
		welcome = &Welcome{ChainBlocks: g.chain.Blocks(), Wrapped: wrapped}
	}

	return &Message{
		Commit:  &Commit{ChainBlocks: g.chain.Blocks()},
		Welcome: welcome,
	}, nil
}

// rekeyForRemove rotates to an unrelated fresh secret wrapped for every
// device still a member. Shared by Remove and by apply.go's
// reapplication of a divergent remote remove block.
func (g *Group) rekeyForRemove() (*Message, error) {
	next, err := freshSecret()
	if err != nil {
		return nil, err
	}
	g.secret = next

	members := g.chain.Members()
	wrapped := make([]WrappedSecret, 0, members.Len())
	for device, m := range members.ByDevice {
		pub, err := cryptoprim.PublicKeyFromBytes(m.KeyPackage.PublicKey)
		if err != nil {
			return nil, err
		}
		ciphertext, err := wrapSecret(g.self.Key, pub, next)
		if err != nil {
			return nil, err
		}
		wrapped = append(wrapped, WrappedSecret{Recipient: device, Ciphertext: ciphertext})
	}

	return &Message{Commit: &Commit{ChainBlocks: g.chain.Blocks(), Wrapped: wrapped}}, nil
}

// rekeyForUpdate ratchets the secret forward with no wrapping, since
// membership didn't change. Shared by SelfUpdate and by apply.go's
// reapplication of a divergent remote update block.
func (g *Group) rekeyForUpdate() (*Message, error) {
	next, err := ratchetForward(g.secret, g.chain.Head())
	if err != nil {
		return nil, err
	}
	g.secret = next
	return &Message{Commit: &Commit{ChainBlocks: g.chain.Blocks()}}, nil
}

// EncryptMessage seals payload under the current epoch secret, tagging it
// with the chain head it was produced against so the recipient can find
// the matching ratchet snapshot even if its own chain has since advanced.
func (g *Group) EncryptMessage(payload []byte) (AppMessage, error) {
	ciphertext, err := cryptoprim.Seal([32]byte(g.secret), payload, g.ID()[:])
	if err != nil {
		return AppMessage{}, err
	}
	return AppMessage{
		GroupID:    g.ID(),
		ChainHash:  g.chain.Head(),
		Sender:     g.self.Device,
		Ciphertext: ciphertext,
	}, nil
}
